package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// Publisher is the subset of messagebroker.NATSClient the queue needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// LocalQueue is the in-process worker pool that finally runs tasks.
type LocalQueue interface {
	Enqueue(ctx context.Context, task domain.TransmissionTask) error
}

// NATSQueue publishes transmission tasks so that any instance in the queue
// group can run them.
type NATSQueue struct {
	publisher Publisher
	subject   string
	logger    *slog.Logger
}

func NewNATSQueue(publisher Publisher, subject string, logger *slog.Logger) *NATSQueue {
	return &NATSQueue{
		publisher: publisher,
		subject:   subject,
		logger:    logger.With("component", "nats_task_queue"),
	}
}

func (q *NATSQueue) Enqueue(ctx context.Context, task domain.TransmissionTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal transmission task: %w", err)
	}
	if err := q.publisher.Publish(ctx, q.subject, data); err != nil {
		q.logger.ErrorContext(ctx, "Failed to publish transmission task", "broadcast_id", task.BroadcastID, "error", err)
		return err
	}
	return nil
}

// OutcomeRecorder receives a failed outcome for tasks the consumer cannot run.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, task domain.TransmissionTask, outcome domain.Outcome)
}

// Consumer feeds tasks received from NATS into the local worker pool.
type Consumer struct {
	local    LocalQueue
	recorder OutcomeRecorder
	ctx      context.Context
	logger   *slog.Logger
}

// NewConsumer returns a Consumer whose enqueue calls are bounded by ctx, normally
// the process lifetime.
func NewConsumer(ctx context.Context, local LocalQueue, recorder OutcomeRecorder, logger *slog.Logger) *Consumer {
	return &Consumer{local: local, recorder: recorder, ctx: ctx, logger: logger.With("component", "nats_task_consumer")}
}

// reject reports task as failed so its broadcast can still finalize.
func (c *Consumer) reject(task domain.TransmissionTask, reason string) {
	if task.BroadcastID == uuid.Nil {
		return
	}
	c.recorder.RecordOutcome(context.WithoutCancel(c.ctx), task, domain.Outcome{
		Kind:       domain.OutcomeFailed,
		Identifier: task.Identifier,
		Reason:     reason,
	})
}

// HandleMessage is registered as the queue subscription handler. Blocking on a
// full pool slows the subscription down rather than dropping work.
func (c *Consumer) HandleMessage(data []byte) {
	var task domain.TransmissionTask
	if err := json.Unmarshal(data, &task); err != nil {
		c.logger.Error("Failed to deserialize transmission task", "error", err, "data", string(data))
		return
	}
	if task.Identifier == "" {
		c.logger.Error("Transmission task without recipient, dropped", "broadcast_id", task.BroadcastID)
		c.reject(task, "transmission task has no recipient")
		return
	}

	if err := c.local.Enqueue(c.ctx, task); err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Info("Shutting down, transmission task not accepted", "broadcast_id", task.BroadcastID, "recipient", task.Identifier)
		} else {
			c.logger.Error("Could not hand transmission task to worker pool", "broadcast_id", task.BroadcastID, "recipient", task.Identifier, "error", err)
		}
		c.reject(task, fmt.Sprintf("worker pool rejected task: %v", err))
	}
}
