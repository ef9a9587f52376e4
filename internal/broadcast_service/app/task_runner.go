package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/adapters/smsprovider"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// BlockChecker answers blacklist membership.
type BlockChecker interface {
	IsBlocked(ctx context.Context, identifier string) (bool, error)
}

// OutcomeRecorder receives the final outcome of every task.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, task domain.TransmissionTask, outcome domain.Outcome)
}

// RunnerConfig bounds the per-recipient retry policy.
type RunnerConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	SendTimeout time.Duration
}

// TaskRunner executes one transmission task: blacklist check, send, bounded retry.
type TaskRunner struct {
	gate     BlockChecker
	sender   smsprovider.Adapter
	recorder OutcomeRecorder
	limiter  *rate.Limiter // nil means unthrottled
	cfg      RunnerConfig
	logger   *slog.Logger
}

func NewTaskRunner(gate BlockChecker, sender smsprovider.Adapter, recorder OutcomeRecorder, limiter *rate.Limiter, cfg RunnerConfig, logger *slog.Logger) *TaskRunner {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &TaskRunner{
		gate:     gate,
		sender:   sender,
		recorder: recorder,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger.With("component", "task_runner"),
	}
}

// Handle runs task and reports its outcome exactly once, a panic included.
// It is the worker pool's handler.
func (r *TaskRunner) Handle(ctx context.Context, task domain.TransmissionTask) {
	outcome := r.runRecovered(ctx, task)
	transmissionOutcomesCounter.WithLabelValues(string(outcome.Kind)).Inc()
	r.recorder.RecordOutcome(ctx, task, outcome)
}

func (r *TaskRunner) runRecovered(ctx context.Context, task domain.TransmissionTask) (outcome domain.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "Transmission task panicked", "broadcast_id", task.BroadcastID, "recipient", task.Identifier, "panic", p)
			outcome = domain.Outcome{Kind: domain.OutcomeFailed, Identifier: task.Identifier, Reason: fmt.Sprintf("task panicked: %v", p)}
		}
	}()
	return r.Run(ctx, task)
}

// Run never returns an error: every path ends in sent, suppressed or failed.
// The blacklist is consulted before every attempt so an opt-out that lands
// between retries still stops the send.
func (r *TaskRunner) Run(ctx context.Context, task domain.TransmissionTask) domain.Outcome {
	log := r.logger.With("broadcast_id", task.BroadcastID, "recipient", task.Identifier)
	first := task.Attempt
	if first < 1 {
		first = 1
	}

	var lastErr error
	attempts := 0
	for attempt := first; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > first {
			if err := sleepCtx(ctx, r.backoff(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		blocked, err := r.gate.IsBlocked(ctx, task.Identifier)
		if err != nil {
			// Never send without a definite answer from the blacklist.
			lastErr = fmt.Errorf("blacklist check: %w", err)
			log.WarnContext(ctx, "Blacklist check failed", "attempt", attempt, "error", err)
			continue
		}
		if blocked {
			log.InfoContext(ctx, "Recipient is blacklisted, suppressing send")
			return domain.Outcome{Kind: domain.OutcomeSuppressed, Identifier: task.Identifier, Attempts: attempts}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		if err := r.send(ctx, task); err != nil {
			lastErr = err
			log.WarnContext(ctx, "Send attempt failed", "attempt", attempt, "max_attempts", r.cfg.MaxAttempts, "error", err)
			continue
		}
		return domain.Outcome{Kind: domain.OutcomeSent, Identifier: task.Identifier, Attempts: attempts}
	}

	if lastErr == nil {
		lastErr = errors.New("no attempts left")
	}
	log.ErrorContext(ctx, "Giving up on recipient", "attempts", attempts, "error", lastErr)
	return domain.Outcome{Kind: domain.OutcomeFailed, Identifier: task.Identifier, Reason: lastErr.Error(), Attempts: attempts}
}

func (r *TaskRunner) send(ctx context.Context, task domain.TransmissionTask) (err error) {
	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	timer := time.Now()
	func() {
		// A provider panic counts as one failed attempt.
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("provider %s panicked: %v", r.sender.GetName(), p)
			}
		}()
		_, err = r.sender.Send(sendCtx, smsprovider.SMSRequestData{
			BroadcastID: task.BroadcastID.String(),
			SenderID:    task.SenderLabel,
			Recipient:   task.Identifier,
			Content:     task.Message,
		})
	}()
	result := "success"
	if err != nil {
		result = "error"
	}
	sendAttemptDurationHist.With(prometheus.Labels{"provider_name": r.sender.GetName(), "result": result}).
		Observe(time.Since(timer).Seconds())
	return err
}

// backoff doubles from BackoffBase after each failed attempt, capped at BackoffMax.
func (r *TaskRunner) backoff(failedAttempts int) time.Duration {
	d := r.cfg.BackoffBase
	for i := 1; i < failedAttempts && d > 0; i++ {
		d *= 2
		if r.cfg.BackoffMax > 0 && d >= r.cfg.BackoffMax {
			return r.cfg.BackoffMax
		}
	}
	if r.cfg.BackoffMax > 0 && d > r.cfg.BackoffMax {
		return r.cfg.BackoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
