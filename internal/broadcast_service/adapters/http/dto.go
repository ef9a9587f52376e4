package http

import (
	"time"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// GenericErrorResponse for API errors
type GenericErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SubmitBroadcastRequest creates a broadcast. A missing scheduled_at sends now.
type SubmitBroadcastRequest struct {
	Recipients  domain.RecipientExpression `json:"recipients" validate:"required"`
	Message     string                     `json:"message" validate:"required"`
	SenderLabel string                     `json:"sender_label,omitempty" validate:"omitempty,printascii"`
	ScheduledAt *time.Time                 `json:"scheduled_at,omitempty"`
}

type SubmitBroadcastResponse struct {
	BroadcastID       string     `json:"broadcast_id"`
	Status            string     `json:"status"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	TotalRecipients   int        `json:"total_recipients"`
	InvalidRecipients int        `json:"invalid_recipients"`
}

type PreviewRequest struct {
	Recipients domain.RecipientExpression `json:"recipients" validate:"required"`
}

type PreviewRecipientDTO struct {
	Identifier string            `json:"identifier"`
	Region     string            `json:"region,omitempty"`
	Source     domain.Provenance `json:"source"`
}

type PreviewResponse struct {
	TotalRecipients   int                   `json:"total_recipients"`
	InvalidRecipients int                   `json:"invalid_recipients"`
	InvalidTokens     int                   `json:"invalid_tokens"`
	InvalidMembers    int                   `json:"invalid_members"`
	GroupsMatched     int                   `json:"groups_matched"`
	Sample            []PreviewRecipientDTO `json:"sample"`
}

// EditBroadcastRequest replaces the fields that are present.
type EditBroadcastRequest struct {
	Message     *string                    `json:"message,omitempty" validate:"omitempty,min=1"`
	SenderLabel *string                    `json:"sender_label,omitempty" validate:"omitempty,printascii"`
	Recipients  domain.RecipientExpression `json:"recipients,omitempty"`
	ScheduledAt *time.Time                 `json:"scheduled_at,omitempty"`
}

type BroadcastResponse struct {
	ID                string                     `json:"id"`
	Message           string                     `json:"message"`
	SenderLabel       string                     `json:"sender_label"`
	Recipients        domain.RecipientExpression `json:"recipients"`
	ScheduledAt       *time.Time                 `json:"scheduled_at,omitempty"`
	Status            string                     `json:"status"`
	TotalRecipients   int                        `json:"total_recipients"`
	InvalidRecipients int                        `json:"invalid_recipients"`
	SentCount         int                        `json:"sent_count"`
	FailedCount       int                        `json:"failed_count"`
	SuppressedCount   int                        `json:"suppressed_count"`
	Errors            []domain.ErrorDetail       `json:"errors"`
	CreatedBy         string                     `json:"created_by,omitempty"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
	SentAt            *time.Time                 `json:"sent_at,omitempty"`
}

type ListBroadcastsResponse struct {
	Items      []BroadcastResponse `json:"items"`
	TotalCount int                 `json:"total_count"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
}

type AddBlacklistRequest struct {
	Number string `json:"number" validate:"required,max=32"`
	Reason string `json:"reason,omitempty" validate:"omitempty,oneof=manual opt_out"`
}

type BlacklistEntryResponse struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Reason     string    `json:"reason"`
	AddedBy    string    `json:"added_by,omitempty"`
	BlockedAt  time.Time `json:"blocked_at"`
}

type ListBlacklistResponse struct {
	Items      []BlacklistEntryResponse `json:"items"`
	TotalCount int                      `json:"total_count"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
}

type BlacklistCheckResponse struct {
	Number      string `json:"number"`
	Blacklisted bool   `json:"blacklisted"`
}

type OptOutRequest struct {
	Number string `json:"number" validate:"required,max=32"`
}

type OptOutResponse struct {
	Status string `json:"status"`
}

func toBroadcastResponse(b *domain.Broadcast) BroadcastResponse {
	errs := b.Errors
	if errs == nil {
		errs = []domain.ErrorDetail{}
	}
	return BroadcastResponse{
		ID:                b.ID.String(),
		Message:           b.Message,
		SenderLabel:       b.SenderLabel,
		Recipients:        b.Recipients,
		ScheduledAt:       b.ScheduledAt,
		Status:            string(b.Status),
		TotalRecipients:   b.TotalRecipients,
		InvalidRecipients: b.InvalidRecipients,
		SentCount:         b.SentCount,
		FailedCount:       b.FailedCount,
		SuppressedCount:   b.SuppressedCount,
		Errors:            errs,
		CreatedBy:         b.CreatedBy,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
		SentAt:            b.SentAt,
	}
}

func toBlacklistEntryResponse(e *domain.BlacklistEntry) BlacklistEntryResponse {
	return BlacklistEntryResponse{
		ID:         e.ID.String(),
		Identifier: e.Identifier,
		Reason:     e.Reason,
		AddedBy:    e.AddedBy,
		BlockedAt:  e.BlockedAt,
	}
}
