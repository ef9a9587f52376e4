package smsprovider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// MockProvider simulates a provider for development runs.
type MockProvider struct {
	logger     *slog.Logger
	failRate   float64 // 0.0 to 1.0
	minLatency time.Duration
	maxLatency time.Duration
}

func NewMockProvider(logger *slog.Logger, failRate float64, minLatency, maxLatency time.Duration) *MockProvider {
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &MockProvider{
		logger:     logger.With("provider", "mock"),
		failRate:   failRate,
		minLatency: minLatency,
		maxLatency: maxLatency,
	}
}

func (p *MockProvider) GetName() string { return "mock" }

func (p *MockProvider) Send(ctx context.Context, request SMSRequestData) (*SMSResponseData, error) {
	latency := p.minLatency
	if spread := p.maxLatency - p.minLatency; spread > 0 {
		latency += time.Duration(rand.Int63n(int64(spread) + 1))
	}
	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() < p.failRate {
		return nil, fmt.Errorf("mock provider simulated failure for %s", request.Recipient)
	}

	p.logger.DebugContext(ctx, "Mock SMS accepted", "broadcast_id", request.BroadcastID, "recipient", request.Recipient)
	return &SMSResponseData{ProviderMessageID: uuid.NewString(), StatusCode: 200, ProviderName: p.GetName()}, nil
}
