package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/okian/happenin/internal/adapters/mq/offlinequeue"
	"github.com/okian/happenin/internal/domain/model"
	"github.com/okian/happenin/pkg/clock"
	"github.com/okian/happenin/pkg/logger"
	"github.com/okian/happenin/pkg/metrics"
	"github.com/okian/happenin/pkg/retry"
)

// Replay outcomes, also used as metric labels.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetained  = "retained"
	OutcomeDropped   = "dropped"
	OutcomeUnhandled = "unhandled"
)

// Handler delivers one queued action to the server. Returning an error
// wrapped with retry.Permanent drops the action without further attempts.
type Handler func(ctx context.Context, action model.QueuedAction) error

// DropReporter is told about every action the replayer gives up on, so the
// user can be informed.
type DropReporter interface {
	ActionDropped(ctx context.Context, action model.QueuedAction, cause error)
}

// Summary describes the outcome of one replay pass.
type Summary struct {
	Delivered int
	Retained  int
	Dropped   int
	Unhandled int
	Remaining int
}

// Replayer drains the offline queue in creation order.
type Replayer struct {
	queue       offlinequeue.Queue
	name        string
	clock       clock.Clock
	policy      retry.Policy
	maxAttempts int
	drops       DropReporter
	running     atomic.Bool

	logger logger.Logger
}

// New creates a Replayer over the given queue.
func New(q offlinequeue.Queue, opts ...Option) *Replayer {
	r := &Replayer{
		queue:       q,
		name:        "replayer",
		clock:       clock.Real(),
		policy:      retry.DefaultPolicy(),
		maxAttempts: retry.DefaultMaxAttempts,
		drops:       discardDrops{},
		logger:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.name != "replayer" {
		r.logger = r.logger.Named(r.name)
	}
	return r
}

// ReplayAll makes one pass over the queue. Only one pass runs at a time; a
// concurrent call returns ErrReplayInProgress.
func (r *Replayer) ReplayAll(ctx context.Context, handlers map[model.ActionKind]Handler) (Summary, error) {
	var sum Summary
	if !r.running.CompareAndSwap(false, true) {
		return sum, ErrReplayInProgress
	}
	defer r.running.Store(false)

	start := r.clock.Now()
	defer metrics.RecordQueueReplayPass()

	actions, err := r.queue.List(ctx)
	if err != nil {
		return sum, fmt.Errorf("list queued actions: %w", err)
	}

	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		outcome, err := r.replayOne(ctx, action, handlers[action.Kind])
		if err != nil {
			return sum, err
		}
		metrics.RecordQueueReplayAction(outcome)
		switch outcome {
		case OutcomeDelivered:
			sum.Delivered++
		case OutcomeRetained:
			sum.Retained++
		case OutcomeDropped:
			sum.Dropped++
		case OutcomeUnhandled:
			sum.Unhandled++
		}
	}

	if n, err := r.queue.Len(ctx); err == nil {
		sum.Remaining = n
		metrics.UpdateQueueLength(n)
	}

	r.logger.Info(ctx, "replay pass finished",
		logger.Int("delivered", sum.Delivered),
		logger.Int("retained", sum.Retained),
		logger.Int("dropped", sum.Dropped),
		logger.Int("unhandled", sum.Unhandled),
		logger.Int("remaining", sum.Remaining),
		logger.Duration("took", r.clock.Now().Sub(start)),
	)
	return sum, nil
}

// replayOne delivers a single action. The returned error is a queue
// failure that aborts the pass; handler failures become outcomes.
func (r *Replayer) replayOne(ctx context.Context, action model.QueuedAction, h Handler) (string, error) {
	if h == nil {
		r.logger.Debug(ctx, "no handler for queued action",
			logger.String("id", action.ID),
			logger.String("kind", string(action.Kind)),
		)
		return OutcomeUnhandled, nil
	}

	_, err := retry.Do(ctx, r.clock, r.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h(ctx, action)
	})
	if err == nil {
		// Delete only after the server acknowledged the action.
		if derr := r.queue.Delete(ctx, action.ID); derr != nil {
			return "", fmt.Errorf("delete delivered action %s: %w", action.ID, derr)
		}
		return OutcomeDelivered, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	if retry.IsPermanent(err) {
		return r.drop(ctx, action, err)
	}

	action.RetryCount++
	if action.RetryCount >= r.maxAttempts {
		return r.drop(ctx, action, err)
	}
	if uerr := r.queue.Update(ctx, action); uerr != nil {
		if errors.Is(uerr, offlinequeue.ErrNotFound) {
			// Removed by someone else during the pass.
			return OutcomeRetained, nil
		}
		return "", fmt.Errorf("persist retry count for %s: %w", action.ID, uerr)
	}
	r.logger.Warn(ctx, "queued action failed, kept for next pass",
		logger.String("id", action.ID),
		logger.String("kind", string(action.Kind)),
		logger.Int("retry_count", action.RetryCount),
		logger.Error(err),
	)
	return OutcomeRetained, nil
}

func (r *Replayer) drop(ctx context.Context, action model.QueuedAction, cause error) (string, error) {
	if err := r.queue.Delete(ctx, action.ID); err != nil {
		return "", fmt.Errorf("delete dropped action %s: %w", action.ID, err)
	}
	metrics.RecordErrorByComponent("worker", "action_dropped")
	r.logger.Error(ctx, "queued action dropped",
		logger.String("id", action.ID),
		logger.String("kind", string(action.Kind)),
		logger.Int("retry_count", action.RetryCount),
		logger.Error(cause),
	)
	r.drops.ActionDropped(ctx, action, cause)
	return OutcomeDropped, nil
}

// Run replays the queue every time online fires, until ctx is done or
// online is closed.
func (r *Replayer) Run(ctx context.Context, online <-chan struct{}, handlers map[model.ActionKind]Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-online:
			if !ok {
				return
			}
			if _, err := r.ReplayAll(ctx, handlers); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error(ctx, "replay pass failed", logger.Error(err))
			}
		}
	}
}

// discardDrops is the default DropReporter; drops are already logged.
type discardDrops struct{}

func (discardDrops) ActionDropped(context.Context, model.QueuedAction, error) {}
