package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// RecipientResolver expands recipient expressions.
type RecipientResolver interface {
	Resolve(ctx context.Context, expr domain.RecipientExpression) (*domain.Resolution, error)
}

// TaskQueue accepts transmission tasks for the worker pool, local or remote.
type TaskQueue interface {
	Enqueue(ctx context.Context, task domain.TransmissionTask) error
}

// DispatchCoordinator claims broadcasts, fans them out into transmission tasks
// and folds task outcomes back into the broadcast record.
type DispatchCoordinator struct {
	repo            domain.BroadcastRepository
	resolver        RecipientResolver
	queue           TaskQueue
	maxErrorDetails int
	logger          *slog.Logger
	now             func() time.Time
}

func NewDispatchCoordinator(repo domain.BroadcastRepository, resolver RecipientResolver, queue TaskQueue, maxErrorDetails int, logger *slog.Logger) *DispatchCoordinator {
	if maxErrorDetails <= 0 {
		maxErrorDetails = 500
	}
	return &DispatchCoordinator{
		repo:            repo,
		resolver:        resolver,
		queue:           queue,
		maxErrorDetails: maxErrorDetails,
		logger:          logger.With("component", "dispatch_coordinator"),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetQueue replaces the task queue. Used at wiring time when the queue's consumer
// itself depends on the coordinator.
func (c *DispatchCoordinator) SetQueue(queue TaskQueue) { c.queue = queue }

// Dispatch claims id and fans it out, re-resolving recipients against the
// current directory. Losing the claim is not an error.
func (c *DispatchCoordinator) Dispatch(ctx context.Context, id uuid.UUID) error {
	return c.dispatch(ctx, id, nil)
}

// DispatchResolved is Dispatch with a resolution computed moments ago at submission.
func (c *DispatchCoordinator) DispatchResolved(ctx context.Context, id uuid.UUID, res *domain.Resolution) error {
	return c.dispatch(ctx, id, res)
}

func (c *DispatchCoordinator) dispatch(ctx context.Context, id uuid.UUID, res *domain.Resolution) error {
	log := c.logger.With("broadcast_id", id)

	b, err := c.repo.Claim(ctx, id, c.now())
	if err != nil {
		if errors.Is(err, domain.ErrClaimConflict) {
			dispatchClaimConflictsCounter.Inc()
			log.DebugContext(ctx, "Broadcast already claimed elsewhere, skipping")
			return nil
		}
		// Still pending; the poller will offer it again.
		return fmt.Errorf("claim broadcast %s: %w", id, err)
	}

	if res == nil {
		res, err = c.resolver.Resolve(ctx, b.Recipients)
		if err != nil {
			return c.fail(ctx, id, "recipient resolution", err)
		}
	}

	if err := c.repo.SetTotals(ctx, id, res.Total(), res.Invalid(), c.now()); err != nil {
		return c.fail(ctx, id, "persisting totals", err)
	}

	if res.Total() == 0 {
		log.InfoContext(ctx, "Broadcast resolved to zero recipients, finalizing")
		c.finalize(ctx, id, domain.OutcomeCounts{})
		return nil
	}

	for _, ident := range res.Identifiers {
		task := domain.TransmissionTask{
			BroadcastID: id,
			Identifier:  ident.E164,
			Message:     b.Message,
			SenderLabel: b.SenderLabel,
			Attempt:     1,
		}
		if err := c.queue.Enqueue(ctx, task); err != nil {
			return c.fail(ctx, id, "enqueueing tasks", err)
		}
	}

	log.InfoContext(ctx, "Broadcast dispatched", "recipients", res.Total(), "invalid", res.Invalid())
	return nil
}

// fail forces a claimed broadcast to failed with one synthetic error entry.
func (c *DispatchCoordinator) fail(ctx context.Context, id uuid.UUID, stage string, cause error) error {
	fatal := &domain.DispatchFatalError{BroadcastID: id, Stage: stage, Err: cause}
	// The record must leave processing even if the caller's context is gone.
	ctx = context.WithoutCancel(ctx)

	ok, err := c.repo.FailDispatch(ctx, id, domain.ErrorDetail{Identifier: "*", Reason: fatal.Error()}, c.now())
	if err != nil {
		c.logger.ErrorContext(ctx, "Could not mark broadcast failed; stale reaper will retry", "broadcast_id", id, "error", err, "cause", cause)
		return errors.Join(fatal, err)
	}
	if ok {
		broadcastsFinalizedCounter.WithLabelValues(string(domain.StatusFailed)).Inc()
	}
	c.logger.ErrorContext(ctx, "Dispatch failed, broadcast marked failed", "broadcast_id", id, "stage", stage, "error", cause)
	return fatal
}

// FailStale expires a broadcast that has been processing for too long, e.g.
// because the dispatching instance died.
func (c *DispatchCoordinator) FailStale(ctx context.Context, id uuid.UUID) error {
	ok, err := c.repo.FailDispatch(ctx, id, domain.ErrorDetail{Identifier: "*", Reason: "dispatch did not complete before the processing deadline"}, c.now())
	if err != nil {
		return fmt.Errorf("expire broadcast %s: %w", id, err)
	}
	if ok {
		broadcastsFinalizedCounter.WithLabelValues(string(domain.StatusFailed)).Inc()
		c.logger.WarnContext(ctx, "Stale processing broadcast marked failed", "broadcast_id", id)
	}
	return nil
}

// RecordOutcome folds one task outcome in and finalizes once the last task reports.
func (c *DispatchCoordinator) RecordOutcome(ctx context.Context, task domain.TransmissionTask, outcome domain.Outcome) {
	ctx = context.WithoutCancel(ctx)
	log := c.logger.With("broadcast_id", task.BroadcastID, "recipient", task.Identifier, "outcome", outcome.Kind)

	var counts domain.OutcomeCounts
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		counts, err = c.repo.RecordOutcome(ctx, task.BroadcastID, outcome, c.maxErrorDetails, c.now())
		if err == nil || errors.Is(err, domain.ErrNotProcessing) {
			break
		}
		_ = sleepCtx(ctx, time.Duration(attempt)*100*time.Millisecond)
	}
	if errors.Is(err, domain.ErrNotProcessing) {
		log.WarnContext(ctx, "Outcome arrived after broadcast left processing, dropped")
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "Failed to record outcome", "error", err)
		return
	}

	if counts.Complete() {
		c.finalize(ctx, task.BroadcastID, counts)
	}
}

func (c *DispatchCoordinator) finalize(ctx context.Context, id uuid.UUID, counts domain.OutcomeCounts) {
	status := counts.FinalStatus()
	ok, err := c.repo.Finalize(ctx, id, status, c.now())
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to finalize broadcast", "broadcast_id", id, "error", err)
		return
	}
	if !ok {
		return
	}
	broadcastsFinalizedCounter.WithLabelValues(string(status)).Inc()
	c.logger.InfoContext(ctx, "Broadcast finalized",
		"broadcast_id", id, "status", status,
		"total", counts.Total, "sent", counts.Sent, "failed", counts.Failed, "suppressed", counts.Suppressed)
}
