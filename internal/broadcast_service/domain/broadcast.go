package domain

import (
	"time"

	"github.com/google/uuid"
)

// BroadcastStatus represents a broadcast's position in its lifecycle.
type BroadcastStatus string

const (
	StatusPending       BroadcastStatus = "pending"
	StatusProcessing    BroadcastStatus = "processing" // claimed by exactly one dispatcher
	StatusSent          BroadcastStatus = "sent"
	StatusPartiallySent BroadcastStatus = "partially_sent"
	StatusFailed        BroadcastStatus = "failed"
	StatusCancelled     BroadcastStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s BroadcastStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusPartiallySent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s BroadcastStatus) Valid() bool {
	return s == StatusPending || s == StatusProcessing || s.IsTerminal()
}

// ErrorDetail records why a single recipient could not be reached.
type ErrorDetail struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// Broadcast is one message sent to many recipients, immediately or at ScheduledAt.
type Broadcast struct {
	ID          uuid.UUID           `json:"id"`
	Message     string              `json:"message"`
	SenderLabel string              `json:"sender_label"`
	Recipients  RecipientExpression `json:"recipients"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"` // nil means send immediately
	Status      BroadcastStatus     `json:"status"`

	// TotalRecipients is the preview count until the broadcast is claimed, then
	// the count resolved at dispatch time.
	TotalRecipients   int `json:"total_recipients"`
	InvalidRecipients int `json:"invalid_recipients"`
	SentCount         int `json:"sent_count"`
	FailedCount       int `json:"failed_count"`
	SuppressedCount   int `json:"suppressed_count"`

	Errors    []ErrorDetail `json:"errors"`
	CreatedBy string        `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	ClaimedAt *time.Time    `json:"claimed_at,omitempty"`
	SentAt    *time.Time    `json:"sent_at,omitempty"`
}

// NewBroadcast creates a pending broadcast.
func NewBroadcast(message, senderLabel string, recipients RecipientExpression, scheduledAt *time.Time, createdBy string, now time.Time) *Broadcast {
	return &Broadcast{
		ID:          uuid.New(),
		Message:     message,
		SenderLabel: senderLabel,
		Recipients:  recipients,
		ScheduledAt: scheduledAt,
		Status:      StatusPending,
		Errors:      []ErrorDetail{},
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsScheduled reports whether the broadcast waits for the poller.
func (b *Broadcast) IsScheduled() bool { return b.ScheduledAt != nil }

// Editable reports whether an edit may still be applied at now. Broadcasts whose
// time has come but which the poller has not yet claimed are not editable.
func (b *Broadcast) Editable(now time.Time) bool {
	return b.Status == StatusPending && b.ScheduledAt != nil && b.ScheduledAt.After(now)
}

func (b *Broadcast) Cancellable() bool { return b.Status == StatusPending }

// OutcomeCounts is a consistent snapshot of a processing broadcast's counters.
type OutcomeCounts struct {
	Total      int
	Sent       int
	Failed     int
	Suppressed int
}

// Reported is the number of recipients whose task has finished.
func (c OutcomeCounts) Reported() int { return c.Sent + c.Failed + c.Suppressed }

// Complete reports whether every task has reported.
func (c OutcomeCounts) Complete() bool { return c.Reported() >= c.Total }

// FinalStatus derives the terminal status from the counters. Suppressed recipients
// are neither successes nor failures, so a broadcast where nobody was reached but
// at least one send failed is failed, and one with no failures is sent.
func (c OutcomeCounts) FinalStatus() BroadcastStatus {
	switch {
	case c.Failed == 0:
		return StatusSent
	case c.Sent == 0:
		return StatusFailed
	default:
		return StatusPartiallySent
	}
}

// BroadcastFilter narrows List. From/To bound created_at.
type BroadcastFilter struct {
	Status BroadcastStatus
	From   *time.Time
	To     *time.Time
	Offset int
	Limit  int
}

// BroadcastEdit carries the fields an edit replaces. Nil fields are left untouched.
type BroadcastEdit struct {
	Message           *string
	SenderLabel       *string
	Recipients        RecipientExpression // nil keeps the current expression
	TotalRecipients   *int
	InvalidRecipients *int
	ScheduledAt       *time.Time
}

// Empty reports whether the edit changes nothing.
func (e BroadcastEdit) Empty() bool {
	return e.Message == nil && e.SenderLabel == nil && e.Recipients == nil && e.ScheduledAt == nil
}
