package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	ReasonManual = "manual"
	ReasonOptOut = "opt_out"
)

// BlacklistEntry suppresses every broadcast to Identifier.
type BlacklistEntry struct {
	ID         uuid.UUID `json:"id"`
	Identifier string    `json:"identifier"` // E.164, unique
	Reason     string    `json:"reason"`
	AddedBy    string    `json:"added_by"`
	BlockedAt  time.Time `json:"blocked_at"`
}

// BlacklistFilter narrows List. Search matches a substring of the identifier.
type BlacklistFilter struct {
	Search string
	Reason string
	Offset int
	Limit  int
}
