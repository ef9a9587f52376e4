package domain

import "github.com/google/uuid"

// TransmissionTask sends one broadcast message to one recipient.
type TransmissionTask struct {
	BroadcastID uuid.UUID `json:"broadcast_id"`
	Identifier  string    `json:"identifier"`
	Message     string    `json:"message"`
	SenderLabel string    `json:"sender_label"`
	Attempt     int       `json:"attempt"`
}

// OutcomeKind is the result of a transmission task.
type OutcomeKind string

const (
	OutcomeSent       OutcomeKind = "sent"
	OutcomeSuppressed OutcomeKind = "suppressed"
	OutcomeFailed     OutcomeKind = "failed"
)

// Outcome is what a task reports back to the coordinator.
type Outcome struct {
	Kind       OutcomeKind
	Identifier string
	Reason     string // set for failed outcomes
	Attempts   int
}
