package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/admit/internal/domain/model"
	"github.com/okian/admit/pkg/logger"
	"github.com/okian/admit/pkg/metrics"
)

const backendPostgres = "postgres"

// SQLSTATE codes the store classifies.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
	sqlStateAdminShutdown        = "57P01"
	sqlStateCannotConnectNow     = "57P03"
	sqlClassConnectionException  = "08"
)

// The waitlist position constraint is deferred so a resequencing pass may
// move rows through temporarily duplicated positions before commit.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	capacity         INTEGER NULL CHECK (capacity IS NULL OR capacity >= 0),
	confirmed_count  INTEGER NOT NULL DEFAULT 0 CHECK (confirmed_count >= 0),
	waitlist_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	waitlist_limit   INTEGER NULL CHECK (waitlist_limit IS NULL OR waitlist_limit >= 0),
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attendees (
	id                 TEXT PRIMARY KEY,
	event_id           TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	subject_id         TEXT NOT NULL,
	kind               TEXT NOT NULL,
	age_group          TEXT NOT NULL DEFAULT '',
	display_name       TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	waitlist_position  INTEGER NULL CHECK (waitlist_position IS NULL OR waitlist_position >= 1),
	joined_waitlist_at TIMESTAMPTZ NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	CONSTRAINT attendees_waitlist_position_uniq
		UNIQUE (event_id, waitlist_position) DEFERRABLE INITIALLY DEFERRED
);

CREATE INDEX IF NOT EXISTS attendees_event_status_idx ON attendees (event_id, status);
CREATE INDEX IF NOT EXISTS attendees_identity_idx ON attendees (event_id, subject_id, kind);
`

const (
	eventColumns    = `id, name, capacity, confirmed_count, waitlist_enabled, waitlist_limit, created_at, updated_at`
	attendeeColumns = `id, event_id, subject_id, kind, age_group, display_name, status, waitlist_position, joined_waitlist_at, created_at, updated_at`
)

// PostgresStore is a Store backed by PostgreSQL. Each transaction runs at
// SERIALIZABLE isolation and locks the event row with SELECT ... FOR UPDATE,
// so writers on one event queue behind each other and any anomaly the lock
// does not prevent surfaces as a serialization failure mapped to ErrConflict.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewPostgresStore connects to dsn, retrying while the database starts, and
// bootstraps the schema unless disabled.
func NewPostgresStore(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	cfg := defaultPostgresConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = cfg.maxConns
	poolCfg.MinConns = cfg.minConns
	poolCfg.MaxConnLifetime = cfg.maxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.maxConnIdleTime

	log := logger.Get().Named("postgres")

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= cfg.connectAttempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
			pool = nil
		}
		log.Warn(ctx, "db connect attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", cfg.connectAttempts),
			logger.Error(err),
		)
		if attempt == cfg.connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: connect: %w", ErrUnavailable, ctx.Err())
		case <-time.After(cfg.connectBackoff):
		}
	}
	if pool == nil {
		return nil, fmt.Errorf("%w: connect to postgres: %w", ErrUnavailable, err)
	}

	s := &PostgresStore{pool: pool, log: log}
	if cfg.bootstrap {
		if _, err := pool.Exec(ctx, schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrap schema: %w", classifyError(err))
		}
	}
	return s, nil
}

// Backend implements Store.
func (s *PostgresStore) Backend() string { return backendPostgres }

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateEvent implements Store.
func (s *PostgresStore) CreateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Name, e.Capacity, e.ConfirmedCount, e.WaitlistEnabled, e.WaitlistLimit, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation {
			return model.Event{}, fmt.Errorf("%w: %s", ErrEventExists, e.ID)
		}
		return model.Event{}, fmt.Errorf("insert event: %w", classifyError(err))
	}
	return e.Clone(), nil
}

// GetEvent implements Store.
func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return model.Event{}, fmt.Errorf("get event: %w", classifyError(err))
	}
	return e, nil
}

// ListEvents implements Store.
func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", classifyError(err))
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", classifyError(err))
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", classifyError(err))
	}
	return events, nil
}

// ListAttendees implements Store.
func (s *PostgresStore) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return queryAttendees(ctx, s.pool,
		`SELECT `+attendeeColumns+` FROM attendees WHERE event_id = $1 ORDER BY created_at, id`, eventID)
}

// Waitlist implements Store.
func (s *PostgresStore) Waitlist(ctx context.Context, eventID string) ([]model.Attendee, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return queryAttendees(ctx, s.pool,
		`SELECT `+attendeeColumns+` FROM attendees WHERE event_id = $1 AND status = $2 ORDER BY waitlist_position, id`,
		eventID, string(model.StatusWaitlisted))
}

// GetAttendee implements Store.
func (s *PostgresStore) GetAttendee(ctx context.Context, eventID, attendeeID string) (model.Attendee, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return model.Attendee{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+attendeeColumns+` FROM attendees WHERE event_id = $1 AND id = $2`, eventID, attendeeID)
	a, err := scanAttendee(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Attendee{}, fmt.Errorf("%w: %s", ErrAttendeeNotFound, attendeeID)
		}
		return model.Attendee{}, fmt.Errorf("get attendee: %w", classifyError(err))
	}
	return a, nil
}

// RunInTx implements Store.
func (s *PostgresStore) RunInTx(ctx context.Context, eventID string, fn func(ctx context.Context, tx Tx) error) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreTxLatency(backendPostgres, float64(time.Since(start).Microseconds())/1000)
	}()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classifyError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	// Lock the event row first so concurrent writers on this event queue here.
	row := tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return fmt.Errorf("lock event row: %w", classifyError(err))
	}

	ptx := &pgTx{tx: tx, event: event}
	if err = fn(ctx, ptx); err != nil {
		return classifyError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", classifyError(err))
	}
	return nil
}

// pgTx implements Tx over an open pgx transaction. The event row is locked
// and cached; attendee reads go to the database and see earlier writes.
type pgTx struct {
	tx    pgx.Tx
	event model.Event
}

func (t *pgTx) Event(context.Context) (model.Event, error) {
	return t.event.Clone(), nil
}

func (t *pgTx) Attendee(ctx context.Context, attendeeID string) (model.Attendee, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+attendeeColumns+` FROM attendees WHERE event_id = $1 AND id = $2`, t.event.ID, attendeeID)
	a, err := scanAttendee(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Attendee{}, fmt.Errorf("%w: %s", ErrAttendeeNotFound, attendeeID)
		}
		return model.Attendee{}, fmt.Errorf("get attendee: %w", classifyError(err))
	}
	return a, nil
}

func (t *pgTx) FindAttendee(ctx context.Context, d model.NewAttendee) (model.Attendee, bool, error) {
	if !d.Kind.Deduplicated() {
		return model.Attendee{}, false, nil
	}
	row := t.tx.QueryRow(ctx,
		`SELECT `+attendeeColumns+` FROM attendees
		 WHERE event_id = $1 AND subject_id = $2 AND kind = $3 AND display_name = $4
		 ORDER BY created_at, id LIMIT 1`,
		t.event.ID, d.SubjectID, string(d.Kind), d.DisplayName)
	a, err := scanAttendee(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Attendee{}, false, nil
		}
		return model.Attendee{}, false, fmt.Errorf("find attendee: %w", classifyError(err))
	}
	return a, true, nil
}

func (t *pgTx) Attendees(ctx context.Context) ([]model.Attendee, error) {
	return queryAttendees(ctx, t.tx,
		`SELECT `+attendeeColumns+` FROM attendees WHERE event_id = $1 ORDER BY created_at, id`, t.event.ID)
}

func (t *pgTx) Waitlisted(ctx context.Context) ([]model.Attendee, error) {
	return queryAttendees(ctx, t.tx,
		`SELECT `+attendeeColumns+` FROM attendees WHERE event_id = $1 AND status = $2 ORDER BY waitlist_position, id`,
		t.event.ID, string(model.StatusWaitlisted))
}

func (t *pgTx) PutAttendee(ctx context.Context, a model.Attendee) error {
	if a.EventID != t.event.ID {
		return fmt.Errorf("%w: attendee %s belongs to event %s", ErrAttendeeNotFound, a.ID, a.EventID)
	}
	var position *int
	if a.WaitlistPosition > 0 {
		p := a.WaitlistPosition
		position = &p
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO attendees (`+attendeeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			kind = EXCLUDED.kind,
			age_group = EXCLUDED.age_group,
			display_name = EXCLUDED.display_name,
			status = EXCLUDED.status,
			waitlist_position = EXCLUDED.waitlist_position,
			joined_waitlist_at = EXCLUDED.joined_waitlist_at,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.EventID, a.SubjectID, string(a.Kind), a.AgeGroup, a.DisplayName, string(a.Status),
		position, a.JoinedWaitlistAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put attendee: %w", classifyError(err))
	}
	return nil
}

func (t *pgTx) DeleteAttendee(ctx context.Context, attendeeID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM attendees WHERE event_id = $1 AND id = $2`, t.event.ID, attendeeID)
	if err != nil {
		return fmt.Errorf("delete attendee: %w", classifyError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAttendeeNotFound, attendeeID)
	}
	return nil
}

func (t *pgTx) SetConfirmedCount(ctx context.Context, n int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE events SET confirmed_count = $2, updated_at = $3 WHERE id = $1`,
		t.event.ID, n, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set confirmed count: %w", classifyError(err))
	}
	t.event.ConfirmedCount = n
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryAttendees(ctx context.Context, q querier, sql string, args ...any) ([]model.Attendee, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendees: %w", classifyError(err))
	}
	defer rows.Close()

	var out []model.Attendee
	for rows.Next() {
		a, err := scanAttendee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendee: %w", classifyError(err))
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query attendees: %w", classifyError(err))
	}
	return out, nil
}

func scanEvent(row pgx.Row) (model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Name, &e.Capacity, &e.ConfirmedCount, &e.WaitlistEnabled, &e.WaitlistLimit,
		&e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func scanAttendee(row pgx.Row) (model.Attendee, error) {
	var (
		a        model.Attendee
		kind     string
		status   string
		position *int
	)
	err := row.Scan(&a.ID, &a.EventID, &a.SubjectID, &kind, &a.AgeGroup, &a.DisplayName, &status,
		&position, &a.JoinedWaitlistAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Attendee{}, err
	}
	a.Kind = model.Kind(kind)
	a.Status = model.Status(status)
	if position != nil {
		a.WaitlistPosition = *position
	}
	return a, nil
}

// classifyError maps driver errors onto ErrConflict and ErrUnavailable.
// Errors that already carry a store sentinel, and business errors returned
// from a transaction body, pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrConflict, ErrUnavailable, ErrEventNotFound, ErrAttendeeNotFound, ErrEventExists} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == sqlStateSerializationFailure,
			pgErr.Code == sqlStateDeadlockDetected,
			pgErr.Code == sqlStateUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case pgErr.Code == sqlStateAdminShutdown,
			pgErr.Code == sqlStateCannotConnectNow,
			strings.HasPrefix(pgErr.Code, sqlClassConnectionException):
			return fmt.Errorf("%w: %s", ErrUnavailable, pgErr.Message)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
