package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/recipient"
)

// BlacklistGate is the single entry point to the do-not-contact list. Every
// input is normalized before it reaches the store.
type BlacklistGate struct {
	repo       domain.BlacklistRepository
	normalizer *recipient.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

func NewBlacklistGate(repo domain.BlacklistRepository, normalizer *recipient.Normalizer, logger *slog.Logger) *BlacklistGate {
	return &BlacklistGate{
		repo:       repo,
		normalizer: normalizer,
		logger:     logger.With("component", "blacklist_gate"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IsBlocked treats input that does not normalize as not blocked.
func (g *BlacklistGate) IsBlocked(ctx context.Context, raw string) (bool, error) {
	id, err := g.normalizer.Normalize(raw)
	if err != nil {
		return false, nil
	}
	return g.repo.IsBlacklisted(ctx, id.E164)
}

// Add blocks raw. A repeated add returns the original entry with its original reason.
func (g *BlacklistGate) Add(ctx context.Context, raw, reason, addedBy string) (*domain.BlacklistEntry, bool, error) {
	id, err := g.normalizer.Normalize(raw)
	if err != nil {
		return nil, false, err
	}
	if reason == "" {
		reason = domain.ReasonManual
	}
	entry := &domain.BlacklistEntry{
		ID:         uuid.New(),
		Identifier: id.E164,
		Reason:     reason,
		AddedBy:    addedBy,
		BlockedAt:  g.now(),
	}
	stored, created, err := g.repo.Add(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("add %s to blacklist: %w", id.E164, err)
	}
	if created {
		g.logger.InfoContext(ctx, "Identifier blacklisted", "identifier", id.E164, "reason", reason, "added_by", addedBy)
	}
	return stored, created, nil
}

// Remove reports whether an entry existed. Unparsable input cannot be on the list.
func (g *BlacklistGate) Remove(ctx context.Context, raw string) (bool, error) {
	id, err := g.normalizer.Normalize(raw)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidIdentifier) {
			return false, nil
		}
		return false, err
	}
	removed, err := g.repo.Remove(ctx, id.E164)
	if err != nil {
		return false, fmt.Errorf("remove %s from blacklist: %w", id.E164, err)
	}
	if removed {
		g.logger.InfoContext(ctx, "Identifier removed from blacklist", "identifier", id.E164)
	}
	return removed, nil
}

func (g *BlacklistGate) List(ctx context.Context, filter domain.BlacklistFilter) ([]*domain.BlacklistEntry, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return g.repo.List(ctx, filter)
}
