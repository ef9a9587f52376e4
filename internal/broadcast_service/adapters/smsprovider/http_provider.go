package smsprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPProvider posts one JSON message per call to a gateway endpoint with a bearer key.
type HTTPProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewHTTPProvider(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{
		logger:     logger.With("provider", "http"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

type httpSendRequest struct {
	Sender     string   `json:"sender"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients"`
	Reference  string   `json:"reference,omitempty"`
}

type httpSendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (p *HTTPProvider) GetName() string { return "http" }

func (p *HTTPProvider) Send(ctx context.Context, request SMSRequestData) (*SMSResponseData, error) {
	reqBytes, err := json.Marshal(httpSendRequest{
		Sender:     request.SenderID,
		Body:       request.Content,
		Recipients: []string{request.Recipient},
		Reference:  request.BroadcastID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("create send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response (status %d): %w", httpResp.StatusCode, err)
	}

	var parsed httpSendResponse
	parseErr := json.Unmarshal(body, &parsed)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := fmt.Sprintf("gateway returned status %d", httpResp.StatusCode)
		if parseErr == nil && parsed.Message != "" {
			msg += ": " + parsed.Message
		}
		p.logger.WarnContext(ctx, "SMS gateway rejected message", "status_code", httpResp.StatusCode, "recipient", request.Recipient)
		return nil, fmt.Errorf("%s", msg)
	}
	if parseErr != nil {
		p.logger.WarnContext(ctx, "SMS gateway accepted message with unparsable body", "status_code", httpResp.StatusCode, "error", parseErr)
	}

	return &SMSResponseData{
		ProviderMessageID: parsed.MessageID,
		StatusCode:        httpResp.StatusCode,
		ProviderName:      p.GetName(),
	}, nil
}
