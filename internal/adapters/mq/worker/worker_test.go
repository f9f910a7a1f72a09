package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/happenin/internal/adapters/mq/offlinequeue"
	worker "github.com/okian/happenin/internal/adapters/mq/worker"
	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/clock"
	logging "github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/retry"
)

func init() {
	_ = logging.Init()
}

// fakeServer registers each payment at most once, like the settlement path.
type fakeServer struct {
	mu            sync.Mutex
	registrations map[string]int
	calls         int
	loseAcks      int
	fail          error
}

func newFakeServer() *fakeServer {
	return &fakeServer{registrations: make(map[string]int)}
}

func (s *fakeServer) handle(_ context.Context, a model.QueuedAction) error {
	intent, err := offlinequeue.DecodeRegistration(a)
	if err != nil {
		return retry.Permanent(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return s.fail
	}
	if s.registrations[intent.GatewayOrderRef] == 0 {
		s.registrations[intent.GatewayOrderRef] = 1
	}
	if s.loseAcks > 0 {
		s.loseAcks--
		return errors.New("connection reset before response")
	}
	return nil
}

func (s *fakeServer) registered(order string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrations[order]
}

type dropRecorder struct {
	mu      sync.Mutex
	dropped []model.QueuedAction
}

func (d *dropRecorder) ActionDropped(_ context.Context, a model.QueuedAction, _ error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped = append(d.dropped, a)
}

func (d *dropRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dropped)
}

func openQueue(t *testing.T) *offlinequeue.SQLiteQueue {
	t.Helper()
	q, err := offlinequeue.Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func intent(order string) model.RegistrationIntent {
	return model.RegistrationIntent{
		GatewayOrderRef:   order,
		GatewayPaymentRef: "pay_" + order,
		Signature:         "sig",
		EventID:           "evt-1",
	}
}

func TestReplayer(t *testing.T) {
	convey.Convey("Given a queue with a captured registration", t, func() {
		ctx := context.Background()
		q := openQueue(t)
		server := newFakeServer()
		drops := &dropRecorder{}
		r := worker.New(q,
			worker.WithPolicy(retry.Policy{MaxAttempts: 1}),
			worker.WithMaxAttempts(3),
			worker.WithDropReporter(drops),
		)
		handlers := map[model.ActionKind]worker.Handler{
			model.ActionRegisterEvent: server.handle,
		}

		action, err := q.EnqueueRegistration(ctx, intent("order_1"))
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When the acknowledgement is lost on the first pass", func() {
			server.loseAcks = 1

			sum, err := r.ReplayAll(ctx, handlers)
			convey.So(err, convey.ShouldBeNil)
			convey.So(sum.Retained, convey.ShouldEqual, 1)
			convey.So(sum.Remaining, convey.ShouldEqual, 1)

			kept, err := q.Get(ctx, action.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(kept.RetryCount, convey.ShouldEqual, 1)

			convey.Convey("Then the second pass delivers it without a second registration", func() {
				sum, err := r.ReplayAll(ctx, handlers)
				convey.So(err, convey.ShouldBeNil)
				convey.So(sum.Delivered, convey.ShouldEqual, 1)
				convey.So(sum.Remaining, convey.ShouldEqual, 0)
				convey.So(server.registered("order_1"), convey.ShouldEqual, 1)
				convey.So(server.calls, convey.ShouldEqual, 2)

				_, err = q.Get(ctx, action.ID)
				convey.So(errors.Is(err, offlinequeue.ErrNotFound), convey.ShouldBeTrue)
				convey.So(drops.count(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the server keeps failing", func() {
			server.fail = errors.New("503")

			for i := 0; i < 2; i++ {
				sum, err := r.ReplayAll(ctx, handlers)
				convey.So(err, convey.ShouldBeNil)
				convey.So(sum.Retained, convey.ShouldEqual, 1)
			}
			convey.So(drops.count(), convey.ShouldEqual, 0)

			convey.Convey("Then the third failed pass drops and reports it", func() {
				sum, err := r.ReplayAll(ctx, handlers)
				convey.So(err, convey.ShouldBeNil)
				convey.So(sum.Dropped, convey.ShouldEqual, 1)
				convey.So(sum.Remaining, convey.ShouldEqual, 0)
				convey.So(drops.count(), convey.ShouldEqual, 1)
				convey.So(drops.dropped[0].ID, convey.ShouldEqual, action.ID)
			})
		})

		convey.Convey("When the server rejects it permanently", func() {
			server.fail = retry.Permanent(errors.New("400 invalid_signature"))

			sum, err := r.ReplayAll(ctx, handlers)
			convey.So(err, convey.ShouldBeNil)
			convey.So(sum.Dropped, convey.ShouldEqual, 1)
			convey.So(server.calls, convey.ShouldEqual, 1)
			convey.So(drops.count(), convey.ShouldEqual, 1)
		})

		convey.Convey("When an action has no handler", func() {
			_, err := q.Enqueue(ctx, model.ActionSaveProfile, []byte("profile"))
			convey.So(err, convey.ShouldBeNil)

			sum, err := r.ReplayAll(ctx, handlers)
			convey.So(err, convey.ShouldBeNil)
			convey.So(sum.Delivered, convey.ShouldEqual, 1)
			convey.So(sum.Unhandled, convey.ShouldEqual, 1)
			convey.So(sum.Remaining, convey.ShouldEqual, 1)

			left, err := q.List(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(left[0].Kind, convey.ShouldEqual, model.ActionSaveProfile)
			convey.So(left[0].RetryCount, convey.ShouldEqual, 0)
		})
	})
}

func TestReplayerBackoff(t *testing.T) {
	convey.Convey("Given a handler that fails once within a pass", t, func() {
		ctx := context.Background()
		q := openQueue(t)
		server := newFakeServer()
		server.loseAcks = 1
		fake := clock.Fake(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
		r := worker.New(q,
			worker.WithClock(fake),
			worker.WithPolicy(retry.Policy{MaxAttempts: 2, Initial: 1200 * time.Millisecond, Multiplier: 1.8, Max: 5 * time.Second}),
		)
		_, err := q.EnqueueRegistration(ctx, intent("order_2"))
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When the backoff wait elapses", func() {
			done := make(chan worker.Summary, 1)
			go func() {
				sum, _ := r.ReplayAll(ctx, map[model.ActionKind]worker.Handler{
					model.ActionRegisterEvent: server.handle,
				})
				done <- sum
			}()

			fake.WaitForTimers(1)
			fake.Advance(1200 * time.Millisecond)

			convey.Convey("Then the retry inside the pass delivers it", func() {
				var sum worker.Summary
				select {
				case sum = <-done:
				case <-time.After(5 * time.Second):
					t.Fatal("replay did not finish")
				}
				convey.So(sum.Delivered, convey.ShouldEqual, 1)
				convey.So(server.calls, convey.ShouldEqual, 2)
				convey.So(server.registered("order_2"), convey.ShouldEqual, 1)
			})
		})
	})
}

func TestReplayerSinglePass(t *testing.T) {
	convey.Convey("Given a pass blocked in a handler", t, func() {
		ctx := context.Background()
		q := openQueue(t)
		_, err := q.EnqueueRegistration(ctx, intent("order_3"))
		convey.So(err, convey.ShouldBeNil)

		r := worker.New(q, worker.WithPolicy(retry.Policy{MaxAttempts: 1}))
		entered := make(chan struct{})
		release := make(chan struct{})
		handlers := map[model.ActionKind]worker.Handler{
			model.ActionRegisterEvent: func(context.Context, model.QueuedAction) error {
				close(entered)
				<-release
				return nil
			},
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = r.ReplayAll(ctx, handlers)
		}()
		<-entered

		convey.Convey("When another pass starts", func() {
			_, err := r.ReplayAll(ctx, handlers)
			close(release)
			<-done

			convey.Convey("Then it is refused", func() {
				convey.So(errors.Is(err, worker.ErrReplayInProgress), convey.ShouldBeTrue)
			})
		})
	})
}

func TestReplayerRun(t *testing.T) {
	convey.Convey("Given a running replayer", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := openQueue(t)
		server := newFakeServer()
		r := worker.New(q, worker.WithPolicy(retry.Policy{MaxAttempts: 1}))

		online := make(chan struct{})
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			r.Run(ctx, online, map[model.ActionKind]worker.Handler{
				model.ActionRegisterEvent: server.handle,
			})
		}()

		convey.Convey("When connectivity returns", func() {
			_, err := q.EnqueueRegistration(ctx, intent("order_4"))
			convey.So(err, convey.ShouldBeNil)
			online <- struct{}{}
			// A second send only completes once the first pass is done.
			online <- struct{}{}

			convey.Convey("Then the queue is drained", func() {
				n, err := q.Len(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(n, convey.ShouldEqual, 0)
				convey.So(server.registered("order_4"), convey.ShouldEqual, 1)

				cancel()
				<-stopped
			})
		})
	})
}
