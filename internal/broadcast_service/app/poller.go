package app

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// Lease coordinates poll cycles across instances. Optional.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// BroadcastDispatcher is what the poller hands due and stale broadcasts to.
type BroadcastDispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID) error
	FailStale(ctx context.Context, id uuid.UUID) error
}

// PollerConfig holds configuration specific to the Poller.
type PollerConfig struct {
	Interval             time.Duration
	BatchSize            int
	StaleProcessingAfter time.Duration // 0 disables the stale reaper
	OrphanImmediateAfter time.Duration
}

// Poller periodically finds pending broadcasts that are due and hands each to
// the dispatcher. It never claims anything itself.
type Poller struct {
	repo       domain.BroadcastRepository
	dispatcher BroadcastDispatcher
	lease      Lease
	cfg        PollerConfig
	logger     *slog.Logger
	now        func() time.Time

	running atomic.Bool
}

func NewPoller(repo domain.BroadcastRepository, dispatcher BroadcastDispatcher, lease Lease, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.OrphanImmediateAfter <= 0 {
		cfg.OrphanImmediateAfter = 5 * time.Minute
	}
	return &Poller{
		repo:       repo,
		dispatcher: dispatcher,
		lease:      lease,
		cfg:        cfg,
		logger:     logger.With("component", "scheduler_poller"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PollOnce runs one cycle and returns how many due broadcasts it handed off.
// A cycle that overlaps a running one returns ErrPollInProgress without work.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if !p.running.CompareAndSwap(false, true) {
		pollCyclesCounter.WithLabelValues("skipped_overlap").Inc()
		return 0, domain.ErrPollInProgress
	}
	defer p.running.Store(false)

	if p.lease != nil {
		ok, err := p.lease.TryAcquire(ctx)
		if err != nil {
			// Without the lease we could still run safely since claims are atomic,
			// but an unreachable Redis usually means a wider outage; skip the cycle.
			pollCyclesCounter.WithLabelValues("error").Inc()
			p.logger.WarnContext(ctx, "Could not acquire poll lease", "error", err)
			return 0, err
		}
		if !ok {
			pollCyclesCounter.WithLabelValues("skipped_lease").Inc()
			p.logger.DebugContext(ctx, "Another instance holds the poll lease")
			return 0, nil
		}
		defer func() {
			if err := p.lease.Release(context.WithoutCancel(ctx)); err != nil {
				p.logger.WarnContext(ctx, "Could not release poll lease", "error", err)
			}
		}()
	}

	now := p.now()
	p.reapStale(ctx, now)

	ids, err := p.repo.FindDue(ctx, now, now.Add(-p.cfg.OrphanImmediateAfter), p.cfg.BatchSize)
	if err != nil {
		pollCyclesCounter.WithLabelValues("error").Inc()
		p.logger.ErrorContext(ctx, "Failed to query due broadcasts", "error", err)
		return 0, err
	}
	dueBroadcastsFoundCounter.Add(float64(len(ids)))
	if len(ids) > 0 {
		p.logger.InfoContext(ctx, "Found due broadcasts", "count", len(ids))
	}

	dispatched := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := p.dispatcher.Dispatch(ctx, id); err != nil {
			var fatal *domain.DispatchFatalError
			if errors.As(err, &fatal) {
				p.logger.ErrorContext(ctx, "Due broadcast failed during dispatch", "broadcast_id", id, "stage", fatal.Stage)
			} else {
				p.logger.ErrorContext(ctx, "Due broadcast could not be dispatched", "broadcast_id", id, "error", err)
			}
			continue
		}
		dispatched++
	}
	pollCyclesCounter.WithLabelValues("ok").Inc()
	return dispatched, nil
}

func (p *Poller) reapStale(ctx context.Context, now time.Time) {
	if p.cfg.StaleProcessingAfter <= 0 {
		return
	}
	ids, err := p.repo.FindStale(ctx, now.Add(-p.cfg.StaleProcessingAfter), p.cfg.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to query stale broadcasts", "error", err)
		return
	}
	for _, id := range ids {
		if err := p.dispatcher.FailStale(ctx, id); err != nil {
			p.logger.ErrorContext(ctx, "Failed to expire stale broadcast", "broadcast_id", id, "error", err)
		}
	}
}

// Start polls on a fixed interval until ctx is done. Ticks that arrive while a
// cycle is still running are skipped.
func (p *Poller) Start(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(p.logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	c.Schedule(cron.Every(p.cfg.Interval), cron.FuncJob(func() {
		if _, err := p.PollOnce(ctx); err != nil && !errors.Is(err, domain.ErrPollInProgress) {
			p.logger.ErrorContext(ctx, "Poll cycle failed", "error", err)
		}
	}))

	p.logger.Info("Scheduler poller started", "interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	p.logger.Info("Scheduler poller stopped")
	return nil
}
