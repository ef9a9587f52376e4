package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidIdentifier is returned when a raw recipient cannot be mapped to a valid number.
	ErrInvalidIdentifier = errors.New("invalid recipient identifier")
	// ErrGroupNotFound is returned by the directory when no group matches a name or id.
	ErrGroupNotFound = errors.New("group not found")
	ErrNotCancellable = errors.New("broadcast is not cancellable")
	ErrNotEditable    = errors.New("broadcast is not editable")
	// ErrClaimConflict means another dispatcher already moved the broadcast out of pending.
	ErrClaimConflict = errors.New("broadcast already claimed")
	// ErrNotProcessing is returned when an outcome arrives for a broadcast that is no longer processing.
	ErrNotProcessing = errors.New("broadcast is not processing")

	ErrScheduleInPast     = errors.New("scheduled time must be in the future")
	ErrNoRecipients       = errors.New("recipient expression resolved to no valid recipients")
	ErrEmptyMessage       = errors.New("message body is empty")
	ErrMessageTooLong     = errors.New("message body exceeds maximum length")
	ErrSenderLabelTooLong = errors.New("sender label exceeds maximum length")

	// ErrPollInProgress is returned when a poll cycle is triggered while the previous one still runs.
	ErrPollInProgress = errors.New("poll cycle already in progress")
)

// DispatchFatalError wraps an infrastructure failure that forced a claimed broadcast to failed.
type DispatchFatalError struct {
	BroadcastID uuid.UUID
	Stage       string
	Err         error
}

func (e *DispatchFatalError) Error() string {
	return fmt.Sprintf("dispatch of broadcast %s failed during %s: %v", e.BroadcastID, e.Stage, e.Err)
}

func (e *DispatchFatalError) Unwrap() error { return e.Err }
