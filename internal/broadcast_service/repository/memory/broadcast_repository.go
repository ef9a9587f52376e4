package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// BroadcastRepository keeps broadcasts in process memory. A single mutex makes
// every conditional update atomic, matching the PostgreSQL implementation.
type BroadcastRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Broadcast
}

func NewBroadcastRepository() *BroadcastRepository {
	return &BroadcastRepository{items: make(map[uuid.UUID]*domain.Broadcast)}
}

var _ domain.BroadcastRepository = (*BroadcastRepository)(nil)

func clone(b *domain.Broadcast) *domain.Broadcast {
	c := *b
	c.Recipients = append(domain.RecipientExpression(nil), b.Recipients...)
	c.Errors = append([]domain.ErrorDetail{}, b.Errors...)
	if b.ScheduledAt != nil {
		t := *b.ScheduledAt
		c.ScheduledAt = &t
	}
	if b.ClaimedAt != nil {
		t := *b.ClaimedAt
		c.ClaimedAt = &t
	}
	if b.SentAt != nil {
		t := *b.SentAt
		c.SentAt = &t
	}
	return &c
}

func (r *BroadcastRepository) Create(_ context.Context, b *domain.Broadcast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[b.ID] = clone(b)
	return nil
}

func (r *BroadcastRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(b), nil
}

func (r *BroadcastRepository) List(_ context.Context, filter domain.BroadcastFilter) ([]*domain.Broadcast, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []*domain.Broadcast{}
	for _, b := range r.items {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.From != nil && b.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && b.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	page := []*domain.Broadcast{}
	for i := filter.Offset; i < total && (filter.Limit <= 0 || len(page) < filter.Limit); i++ {
		page = append(page, clone(matched[i]))
	}
	return page, total, nil
}

func (r *BroadcastRepository) UpdatePending(_ context.Context, id uuid.UUID, edit domain.BroadcastEdit, now time.Time) (*domain.Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !b.Editable(now) {
		return nil, domain.ErrNotEditable
	}
	if edit.Message != nil {
		b.Message = *edit.Message
	}
	if edit.SenderLabel != nil {
		b.SenderLabel = *edit.SenderLabel
	}
	if edit.Recipients != nil {
		b.Recipients = append(domain.RecipientExpression(nil), edit.Recipients...)
	}
	if edit.TotalRecipients != nil {
		b.TotalRecipients = *edit.TotalRecipients
	}
	if edit.InvalidRecipients != nil {
		b.InvalidRecipients = *edit.InvalidRecipients
	}
	if edit.ScheduledAt != nil {
		t := *edit.ScheduledAt
		b.ScheduledAt = &t
	}
	b.UpdatedAt = now
	return clone(b), nil
}

func (r *BroadcastRepository) Cancel(_ context.Context, id uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.Status != domain.StatusPending {
		return domain.ErrNotCancellable
	}
	b.Status = domain.StatusCancelled
	b.UpdatedAt = now
	return nil
}

func (r *BroadcastRepository) Claim(_ context.Context, id uuid.UUID, now time.Time) (*domain.Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok || b.Status != domain.StatusPending {
		return nil, domain.ErrClaimConflict
	}
	b.Status = domain.StatusProcessing
	claimed := now
	b.ClaimedAt = &claimed
	b.UpdatedAt = now
	return clone(b), nil
}

func (r *BroadcastRepository) SetTotals(_ context.Context, id uuid.UUID, total, invalid int, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok || b.Status != domain.StatusProcessing {
		return domain.ErrNotProcessing
	}
	b.TotalRecipients = total
	b.InvalidRecipients = invalid
	b.UpdatedAt = now
	return nil
}

func (r *BroadcastRepository) RecordOutcome(_ context.Context, id uuid.UUID, outcome domain.Outcome, maxErrors int, now time.Time) (domain.OutcomeCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok || b.Status != domain.StatusProcessing {
		return domain.OutcomeCounts{}, domain.ErrNotProcessing
	}
	switch outcome.Kind {
	case domain.OutcomeSent:
		b.SentCount++
	case domain.OutcomeSuppressed:
		b.SuppressedCount++
	case domain.OutcomeFailed:
		b.FailedCount++
		if len(b.Errors) < maxErrors {
			b.Errors = append(b.Errors, domain.ErrorDetail{Identifier: outcome.Identifier, Reason: outcome.Reason})
		}
	}
	b.UpdatedAt = now
	return countsOf(b), nil
}

func countsOf(b *domain.Broadcast) domain.OutcomeCounts {
	return domain.OutcomeCounts{Total: b.TotalRecipients, Sent: b.SentCount, Failed: b.FailedCount, Suppressed: b.SuppressedCount}
}

func (r *BroadcastRepository) Finalize(_ context.Context, id uuid.UUID, status domain.BroadcastStatus, sentAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok || b.Status != domain.StatusProcessing || !countsOf(b).Complete() {
		return false, nil
	}
	b.Status = status
	t := sentAt
	b.SentAt = &t
	b.UpdatedAt = sentAt
	return true, nil
}

func (r *BroadcastRepository) FailDispatch(_ context.Context, id uuid.UUID, detail domain.ErrorDetail, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok || b.Status != domain.StatusProcessing {
		return false, nil
	}
	b.Status = domain.StatusFailed
	b.Errors = append(b.Errors, detail)
	t := now
	b.SentAt = &t
	b.UpdatedAt = now
	return true, nil
}

func (r *BroadcastRepository) FindDue(_ context.Context, now, orphanedBefore time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type due struct {
		id uuid.UUID
		at time.Time
	}
	found := []due{}
	for _, b := range r.items {
		if b.Status != domain.StatusPending {
			continue
		}
		switch {
		case b.ScheduledAt != nil && !b.ScheduledAt.After(now):
			found = append(found, due{b.ID, *b.ScheduledAt})
		case b.ScheduledAt == nil && !b.CreatedAt.After(orphanedBefore):
			found = append(found, due{b.ID, b.CreatedAt})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })

	ids := []uuid.UUID{}
	for _, d := range found {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, d.id)
	}
	return ids, nil
}

func (r *BroadcastRepository) FindStale(_ context.Context, idleSince time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []uuid.UUID{}
	for _, b := range r.items {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if b.Status == domain.StatusProcessing && !b.UpdatedAt.After(idleSince) {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}
