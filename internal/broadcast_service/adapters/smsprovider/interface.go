package smsprovider

import (
	"context"
)

// SMSRequestData is one message to one recipient.
type SMSRequestData struct {
	BroadcastID string
	SenderID    string
	Recipient   string // E.164
	Content     string
}

// SMSResponseData describes an accepted message.
type SMSResponseData struct {
	ProviderMessageID string
	StatusCode        int
	ProviderName      string
}

// Adapter is the opaque send primitive. A nil error means the provider accepted
// the message; any error is a failed attempt. Adapters never retry internally.
type Adapter interface {
	Send(ctx context.Context, request SMSRequestData) (*SMSResponseData, error)
	GetName() string // e.g. "mock", "http", "sns"
}
