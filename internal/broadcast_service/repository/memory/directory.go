package memory

import (
	"context"
	"sync"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// Directory is a static group directory for local runs and tests.
type Directory struct {
	mu     sync.RWMutex
	groups []*domain.Group
}

func NewDirectory() *Directory { return &Directory{} }

// PutGroup adds or replaces the group with the same id.
func (d *Directory) PutGroup(g domain.Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members := append([]string(nil), g.Members...)
	g.Members = members
	for i, existing := range d.groups {
		if existing.ID == g.ID {
			d.groups[i] = &g
			return
		}
	}
	d.groups = append(d.groups, &g)
}

// LookupGroup matches an exact id or name.
func (d *Directory) LookupGroup(_ context.Context, nameOrID string) (*domain.Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, g := range d.groups {
		if g.ID == nameOrID || g.Name == nameOrID {
			c := *g
			c.Members = append([]string(nil), g.Members...)
			return &c, nil
		}
	}
	return nil, domain.ErrGroupNotFound
}
