package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/admit/internal/domain/types"
)

// ErrUnexpectedStatus is returned for responses the client cannot interpret.
var ErrUnexpectedStatus = errors.New("unexpected status")

// APIError is a decoded non 2xx response.
type APIError struct {
	Status int
	Body   types.Error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Body.Code, e.Body.Message)
}

// Client is a small JSON client for the RSVP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client with a per request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Health checks /healthz.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

// CreateEvent creates an event.
func (c *Client) CreateEvent(ctx context.Context, req types.CreateEventRequest) (types.Event, error) {
	var out types.Event
	err := c.do(ctx, http.MethodPost, "/events", req, &out)
	return out, err
}

// GetEvent reads an event.
func (c *Client) GetEvent(ctx context.Context, eventID string) (types.Event, error) {
	var out types.Event
	err := c.do(ctx, http.MethodGet, "/events/"+eventID, nil, &out)
	return out, err
}

// RSVP submits a first or repeated RSVP.
func (c *Client) RSVP(ctx context.Context, eventID string, req types.RSVPRequest) (types.Outcome, error) {
	var out types.Outcome
	err := c.do(ctx, http.MethodPost, "/events/"+eventID+"/attendees", req, &out)
	return out, err
}

// SetStatus changes an existing record's status.
func (c *Client) SetStatus(ctx context.Context, eventID, attendeeID string, req types.StatusRequest) (types.Outcome, error) {
	var out types.Outcome
	err := c.do(ctx, http.MethodPut, "/events/"+eventID+"/attendees/"+attendeeID+"/status", req, &out)
	return out, err
}

// Attendees lists every record of the event.
func (c *Client) Attendees(ctx context.Context, eventID string) ([]types.Attendee, error) {
	var out []types.Attendee
	err := c.do(ctx, http.MethodGet, "/events/"+eventID+"/attendees", nil, &out)
	return out, err
}

// Waitlist lists waitlisted records in position order.
func (c *Client) Waitlist(ctx context.Context, eventID string) ([]types.Attendee, error) {
	var out []types.Attendee
	err := c.do(ctx, http.MethodGet, "/events/"+eventID+"/waitlist", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, &apiErr.Body); err != nil {
			return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
