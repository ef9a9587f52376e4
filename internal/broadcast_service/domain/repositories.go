package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BroadcastRepository persists broadcasts. Every status change is a conditional
// update on the expected prior status.
type BroadcastRepository interface {
	Create(ctx context.Context, b *Broadcast) error
	GetByID(ctx context.Context, id uuid.UUID) (*Broadcast, error)
	List(ctx context.Context, filter BroadcastFilter) ([]*Broadcast, int, error)

	// UpdatePending applies edit only while the broadcast is pending with a
	// scheduled time after now. Returns ErrNotEditable otherwise.
	UpdatePending(ctx context.Context, id uuid.UUID, edit BroadcastEdit, now time.Time) (*Broadcast, error)
	// Cancel moves pending to cancelled. Returns ErrNotCancellable otherwise.
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) error

	// Claim moves pending to processing and returns the claimed record.
	// Returns ErrClaimConflict if the broadcast was not pending.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (*Broadcast, error)
	// SetTotals fixes the dispatch-time recipient counts of a processing broadcast.
	SetTotals(ctx context.Context, id uuid.UUID, total, invalid int, now time.Time) error
	// RecordOutcome atomically folds one task outcome into the counters and returns
	// the counters after the update. At most maxErrors error details are kept.
	// Returns ErrNotProcessing if the broadcast already left processing.
	RecordOutcome(ctx context.Context, id uuid.UUID, outcome Outcome, maxErrors int, now time.Time) (OutcomeCounts, error)
	// Finalize moves processing to status once every task has reported.
	// It returns false if another caller finalized first.
	Finalize(ctx context.Context, id uuid.UUID, status BroadcastStatus, sentAt time.Time) (bool, error)
	// FailDispatch forces processing to failed, appending detail to the errors
	// already recorded.
	FailDispatch(ctx context.Context, id uuid.UUID, detail ErrorDetail, now time.Time) (bool, error)

	// FindDue returns pending broadcasts scheduled at or before now, plus immediate
	// broadcasts created at or before orphanedBefore that were never dispatched.
	FindDue(ctx context.Context, now, orphanedBefore time.Time, limit int) ([]uuid.UUID, error)
	// FindStale returns processing broadcasts that made no progress (claim, totals
	// or outcome) after idleSince.
	FindStale(ctx context.Context, idleSince time.Time, limit int) ([]uuid.UUID, error)
}

// BlacklistRepository is the authoritative do-not-contact store, keyed by E.164 identifier.
type BlacklistRepository interface {
	IsBlacklisted(ctx context.Context, identifier string) (bool, error)
	// Add inserts entry unless the identifier already exists, in which case the
	// existing entry is returned unchanged and created is false.
	Add(ctx context.Context, entry *BlacklistEntry) (stored *BlacklistEntry, created bool, err error)
	Remove(ctx context.Context, identifier string) (bool, error)
	List(ctx context.Context, filter BlacklistFilter) ([]*BlacklistEntry, int, error)
}

// Directory is the read-only group lookup. Returns ErrGroupNotFound when nothing matches.
type Directory interface {
	LookupGroup(ctx context.Context, nameOrID string) (*Group, error)
}
