package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// ImmediateDispatcher hands a freshly persisted broadcast to the coordinator.
type ImmediateDispatcher interface {
	DispatchResolved(ctx context.Context, id uuid.UUID, res *domain.Resolution) error
}

// BroadcastConfig holds submission limits.
type BroadcastConfig struct {
	MaxMessageLength     int
	MaxSenderLabelLength int
	DefaultSenderLabel   string
}

type SubmitRequest struct {
	Recipients  domain.RecipientExpression
	Message     string
	SenderLabel string
	ScheduledAt *time.Time // nil sends immediately
	CreatedBy   string
}

// SubmitResult is the broadcast as stored after submission plus the
// resolution used for its preview counts.
type SubmitResult struct {
	Broadcast  *domain.Broadcast
	Resolution *domain.Resolution
}

type EditRequest struct {
	Message     *string
	SenderLabel *string
	Recipients  domain.RecipientExpression
	ScheduledAt *time.Time
}

// BroadcastAppService is the submission and query boundary.
type BroadcastAppService struct {
	repo       domain.BroadcastRepository
	resolver   RecipientResolver
	dispatcher ImmediateDispatcher
	cfg        BroadcastConfig
	logger     *slog.Logger
	now        func() time.Time

	dispatches sync.WaitGroup
}

func NewBroadcastAppService(repo domain.BroadcastRepository, resolver RecipientResolver, dispatcher ImmediateDispatcher, cfg BroadcastConfig, logger *slog.Logger) *BroadcastAppService {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 1600
	}
	if cfg.MaxSenderLabelLength <= 0 {
		cfg.MaxSenderLabelLength = 11
	}
	return &BroadcastAppService{
		repo:       repo,
		resolver:   resolver,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "broadcast_app_service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *BroadcastAppService) validateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > s.cfg.MaxMessageLength {
		return domain.ErrMessageTooLong
	}
	return nil
}

func (s *BroadcastAppService) validateSender(label string) error {
	if utf8.RuneCountInString(label) > s.cfg.MaxSenderLabelLength {
		return domain.ErrSenderLabelTooLong
	}
	return nil
}

// resolveForSubmission rejects an expression that contributes nothing at all.
// A matched group that is currently empty is accepted: it may have members by
// send time, and an empty dispatch simply finalizes as sent.
func (s *BroadcastAppService) resolveForSubmission(ctx context.Context, expr domain.RecipientExpression) (*domain.Resolution, error) {
	res, err := s.resolver.Resolve(ctx, expr)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	if res.Total() == 0 && res.GroupsMatched == 0 {
		return nil, domain.ErrNoRecipients
	}
	return res, nil
}

// Submit validates and persists a broadcast. Immediate broadcasts are handed to
// the dispatcher in the background and Submit returns the stored pending record;
// scheduled ones wait for the poller.
func (s *BroadcastAppService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.validateMessage(req.Message); err != nil {
		return nil, err
	}
	sender := strings.TrimSpace(req.SenderLabel)
	if sender == "" {
		sender = s.cfg.DefaultSenderLabel
	}
	if err := s.validateSender(sender); err != nil {
		return nil, err
	}

	now := s.now()
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		if !at.After(now) {
			return nil, domain.ErrScheduleInPast
		}
		req.ScheduledAt = &at
	}

	res, err := s.resolveForSubmission(ctx, req.Recipients)
	if err != nil {
		return nil, err
	}

	b := domain.NewBroadcast(req.Message, sender, req.Recipients, req.ScheduledAt, req.CreatedBy, now)
	b.TotalRecipients = res.Total()
	b.InvalidRecipients = res.Invalid()
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}

	log := s.logger.With("broadcast_id", b.ID)
	if b.IsScheduled() {
		broadcastsSubmittedCounter.WithLabelValues("scheduled").Inc()
		log.InfoContext(ctx, "Scheduled broadcast accepted", "scheduled_at", b.ScheduledAt, "preview_recipients", res.Total())
		return &SubmitResult{Broadcast: b, Resolution: res}, nil
	}

	broadcastsSubmittedCounter.WithLabelValues("immediate").Inc()
	stored := *b
	dispatchCtx := context.WithoutCancel(ctx)
	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		if err := s.dispatcher.DispatchResolved(dispatchCtx, b.ID, res); err != nil {
			// The record is either failed already or still pending for the poller to pick up.
			log.ErrorContext(dispatchCtx, "Immediate dispatch failed", "error", err)
		}
	}()
	return &SubmitResult{Broadcast: &stored, Resolution: res}, nil
}

// WaitDispatches blocks until every immediate dispatch started by Submit returns.
func (s *BroadcastAppService) WaitDispatches() { s.dispatches.Wait() }

// Preview resolves an expression without persisting anything.
func (s *BroadcastAppService) Preview(ctx context.Context, expr domain.RecipientExpression) (*domain.Resolution, error) {
	return s.resolver.Resolve(ctx, expr)
}

func (s *BroadcastAppService) Get(ctx context.Context, id uuid.UUID) (*domain.Broadcast, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *BroadcastAppService) List(ctx context.Context, filter domain.BroadcastFilter) ([]*domain.Broadcast, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

// Edit changes a scheduled broadcast that has not come due yet.
func (s *BroadcastAppService) Edit(ctx context.Context, id uuid.UUID, req EditRequest) (*domain.Broadcast, error) {
	now := s.now()
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Editable(now) {
		return nil, domain.ErrNotEditable
	}

	edit := domain.BroadcastEdit{Message: req.Message}
	if req.Message != nil {
		if err := s.validateMessage(*req.Message); err != nil {
			return nil, err
		}
	}
	if req.SenderLabel != nil {
		label := strings.TrimSpace(*req.SenderLabel)
		if label == "" {
			label = s.cfg.DefaultSenderLabel
		}
		if err := s.validateSender(label); err != nil {
			return nil, err
		}
		edit.SenderLabel = &label
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		if !at.After(now) {
			return nil, domain.ErrScheduleInPast
		}
		edit.ScheduledAt = &at
	}
	if req.Recipients != nil {
		res, err := s.resolveForSubmission(ctx, req.Recipients)
		if err != nil {
			return nil, err
		}
		total, invalid := res.Total(), res.Invalid()
		edit.Recipients = req.Recipients
		edit.TotalRecipients = &total
		edit.InvalidRecipients = &invalid
	}
	if edit.Empty() {
		return current, nil
	}

	// The repository re-checks the guard atomically; the poller may have claimed it since.
	updated, err := s.repo.UpdatePending(ctx, id, edit, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotEditable) {
			s.logger.InfoContext(ctx, "Edit lost race with dispatch", "broadcast_id", id)
		}
		return nil, err
	}
	s.logger.InfoContext(ctx, "Broadcast edited", "broadcast_id", id)
	return updated, nil
}

func (s *BroadcastAppService) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Cancel(ctx, id, s.now()); err != nil {
		return err
	}
	broadcastsFinalizedCounter.WithLabelValues(string(domain.StatusCancelled)).Inc()
	s.logger.InfoContext(ctx, "Broadcast cancelled", "broadcast_id", id)
	return nil
}
