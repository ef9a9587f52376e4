package smsprovider

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config selects and configures the send primitive.
type Config struct {
	Name         string // mock | http | sns
	HTTPURL      string
	HTTPAPIKey   string
	SNSRegion    string
	MockFailRate float64
}

// New builds the adapter named by cfg.Name.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Adapter, error) {
	switch cfg.Name {
	case "", "mock":
		return NewMockProvider(logger, cfg.MockFailRate, 20*time.Millisecond, 120*time.Millisecond), nil
	case "http":
		if cfg.HTTPURL == "" {
			return nil, fmt.Errorf("http sms provider requires SMS_HTTP_URL")
		}
		return NewHTTPProvider(logger, cfg.HTTPURL, cfg.HTTPAPIKey, nil), nil
	case "sns":
		return NewSNSProviderFromEnv(ctx, cfg.SNSRegion, logger)
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.Name)
	}
}
