package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// BlacklistRepository is an in-memory blacklist. Readers share an RWMutex so
// lookups never wait on each other.
type BlacklistRepository struct {
	mu      sync.RWMutex
	entries map[string]*domain.BlacklistEntry
}

func NewBlacklistRepository() *BlacklistRepository {
	return &BlacklistRepository{entries: make(map[string]*domain.BlacklistEntry)}
}

var _ domain.BlacklistRepository = (*BlacklistRepository)(nil)

func (r *BlacklistRepository) IsBlacklisted(_ context.Context, identifier string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[identifier]
	return ok, nil
}

func (r *BlacklistRepository) Add(_ context.Context, entry *domain.BlacklistEntry) (*domain.BlacklistEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[entry.Identifier]; ok {
		e := *existing
		return &e, false, nil
	}
	e := *entry
	r.entries[entry.Identifier] = &e
	return entry, true, nil
}

func (r *BlacklistRepository) Remove(_ context.Context, identifier string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[identifier]; !ok {
		return false, nil
	}
	delete(r.entries, identifier)
	return true, nil
}

func (r *BlacklistRepository) List(_ context.Context, filter domain.BlacklistFilter) ([]*domain.BlacklistEntry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []*domain.BlacklistEntry{}
	for _, e := range r.entries {
		if filter.Search != "" && !strings.Contains(e.Identifier, filter.Search) {
			continue
		}
		if filter.Reason != "" && e.Reason != filter.Reason {
			continue
		}
		c := *e
		matched = append(matched, &c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].BlockedAt.After(matched[j].BlockedAt) })

	total := len(matched)
	if filter.Offset >= total {
		return []*domain.BlacklistEntry{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}
