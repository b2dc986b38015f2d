package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/admit/internal/adapters/mq/queue"
	worker "github.com/okian/admit/internal/adapters/mq/worker"
	coalesce "github.com/okian/admit/internal/domain/coalesce"
	model "github.com/okian/admit/internal/domain/model"
	logging "github.com/okian/admit/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	signals chan queue.Signal
	once    sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{signals: make(chan queue.Signal, 200)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Signal {
	return mq.signals
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.signals) })
	return nil
}

func (mq *mockQueue) add(eventID string) {
	mq.signals <- queue.Signal{EventID: eventID, Reason: model.SlotReasonLeftConfirmed, At: time.Now()}
}

type mockPromoter struct {
	mu       sync.Mutex
	calls    map[string]int
	promoted map[string]int
	errors   map[string]error
	delay    time.Duration
}

func newMockPromoter() *mockPromoter {
	return &mockPromoter{
		calls:    make(map[string]int),
		promoted: make(map[string]int),
		errors:   make(map[string]error),
	}
}

func (mp *mockPromoter) Promote(ctx context.Context, eventID string) (int, error) {
	if mp.delay > 0 {
		select {
		case <-time.After(mp.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.calls[eventID]++
	if err, ok := mp.errors[eventID]; ok {
		return 0, err
	}
	return mp.promoted[eventID], nil
}

func (mp *mockPromoter) setPromoted(eventID string, n int) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.promoted[eventID] = n
}

func (mp *mockPromoter) setError(eventID string, err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.errors[eventID] = err
}

func (mp *mockPromoter) callCount(eventID string) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.calls[eventID]
}

func (mp *mockPromoter) totalCalls() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	n := 0
	for _, c := range mp.calls {
		n += c
	}
	return n
}

// gatedPromoter blocks every promotion until gate is closed.
type gatedPromoter struct {
	gate  chan struct{}
	mu    sync.Mutex
	calls int
}

func (gp *gatedPromoter) Promote(ctx context.Context, _ string) (int, error) {
	gp.mu.Lock()
	gp.calls++
	gp.mu.Unlock()
	select {
	case <-gp.gate:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return 0, nil
}

func (gp *gatedPromoter) callCount() int {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.calls
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		promoter := newMockPromoter()

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(q, promoter, worker.WithName("test-worker"))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go w.Run(ctx)

			convey.Convey("And a signal arrives", func() {
				promoter.setPromoted("event-1", 2)
				q.add("event-1")

				convey.Convey("Then the promoter is called for that event", func() {
					convey.So(eventually(func() bool { return w.Processed() == 1 }), convey.ShouldBeTrue)
					convey.So(promoter.callCount("event-1"), convey.ShouldEqual, 1)
				})
			})

			convey.Convey("And promotion fails", func() {
				promoter.setError("event-2", errors.New("store down"))
				q.add("event-2")
				q.add("event-3")

				convey.Convey("Then the worker keeps going", func() {
					convey.So(eventually(func() bool { return w.Processed() == 2 }), convey.ShouldBeTrue)
					convey.So(promoter.callCount("event-3"), convey.ShouldEqual, 1)
				})
			})

			convey.Convey("And when shutting down", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer shutdownCancel()

				err := w.Shutdown(shutdownCtx)

				convey.Convey("Then it should shutdown gracefully", func() {
					convey.So(err, convey.ShouldBeNil)
				})
			})
		})

		convey.Convey("When a promotion outlives its timeout", func() {
			promoter.delay = time.Second
			w := worker.NewInMemoryWorker(q, promoter, worker.WithPromotionTimeout(20*time.Millisecond))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			q.add("slow")

			convey.Convey("Then the signal is abandoned and counted", func() {
				convey.So(eventually(func() bool { return w.Processed() == 1 }), convey.ShouldBeTrue)
				convey.So(promoter.callCount("slow"), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When it stops while the queue still holds a signal", func() {
			ctx := context.Background()
			iq := queue.NewInMemoryQueue(queue.WithCapacity(10), queue.WithCoalescing(coalesce.NewInMemoryTracker()))
			gated := &gatedPromoter{gate: make(chan struct{})}
			w := worker.NewInMemoryWorker(iq, gated)
			go w.Run(ctx)

			for _, id := range []string{"event-a", "event-b"} {
				convey.So(iq.Enqueue(ctx, queue.Signal{EventID: id, Reason: model.SlotReasonLeftConfirmed}), convey.ShouldBeNil)
			}
			// event-a is being promoted, event-b sits in the feeder.
			convey.So(eventually(func() bool { return gated.callCount() == 1 && iq.Len(ctx) == 0 }), convey.ShouldBeTrue)

			errs := make(chan error, 1)
			go func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(ctx, time.Second)
				defer shutdownCancel()
				errs <- w.Shutdown(shutdownCtx)
			}()
			close(gated.gate)

			convey.Convey("Then no signal is lost and no stale mark remains", func() {
				convey.So(<-errs, convey.ShouldBeNil)
				convey.So(eventually(func() bool { return gated.callCount()+iq.Len(ctx) == 2 }), convey.ShouldBeTrue)
				convey.So(iq.Pending(), convey.ShouldEqual, int64(iq.Len(ctx)))
			})
		})

		convey.Convey("When the queue is closed", func() {
			w := worker.NewInMemoryWorker(q, promoter)
			go w.Run(context.Background())
			_ = q.Close()

			convey.Convey("Then the worker stops", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a new WorkerPool", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		promoter := newMockPromoter()

		convey.Convey("When creating a pool with the default count", func() {
			pool := worker.NewPool(0, q, promoter)

			convey.Convey("Then it has at least one worker", func() {
				convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When many signals arrive concurrently", func() {
			pool := worker.NewPool(4, q, promoter)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			const signalCount = 100
			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(producer int) {
					defer wg.Done()
					for j := 0; j < signalCount/5; j++ {
						q.add(fmt.Sprintf("event-%d-%d", producer, j))
					}
				}(i)
			}
			wg.Wait()

			convey.Convey("Then all are processed", func() {
				convey.So(eventually(func() bool { return pool.Processed() == signalCount }), convey.ShouldBeTrue)
				convey.So(promoter.totalCalls(), convey.ShouldEqual, signalCount)
			})
		})

		convey.Convey("When shutting down", func() {
			pool := worker.NewPool(2, q, promoter)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then it stops cleanly and a second stop is harmless", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(func() { pool.Stop() }, convey.ShouldNotPanic)
			})
		})
	})
}
