package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/app"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/recipient"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/repository/memory"
)

const testSecret = "test-secret"

// MockBroadcastService is a mock type for BroadcastService
type MockBroadcastService struct {
	mock.Mock
}

func (m *MockBroadcastService) Submit(ctx context.Context, req app.SubmitRequest) (*app.SubmitResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*app.SubmitResult), args.Error(1)
}

func (m *MockBroadcastService) Preview(ctx context.Context, expr domain.RecipientExpression) (*domain.Resolution, error) {
	args := m.Called(ctx, expr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Resolution), args.Error(1)
}

func (m *MockBroadcastService) Get(ctx context.Context, id uuid.UUID) (*domain.Broadcast, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Broadcast), args.Error(1)
}

func (m *MockBroadcastService) List(ctx context.Context, filter domain.BroadcastFilter) ([]*domain.Broadcast, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.Broadcast), args.Int(1), args.Error(2)
}

func (m *MockBroadcastService) Edit(ctx context.Context, id uuid.UUID, req app.EditRequest) (*domain.Broadcast, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Broadcast), args.Error(1)
}

func (m *MockBroadcastService) Cancel(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type testServer struct {
	handler    http.Handler
	broadcasts *MockBroadcastService
	blacklist  *app.BlacklistGate
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broadcasts := new(MockBroadcastService)
	gate := app.NewBlacklistGate(memory.NewBlacklistRepository(), recipient.NewNormalizer("PH"), logger)
	handler := NewRouter(RouterConfig{
		Broadcasts:    broadcasts,
		Blacklist:     gate,
		JWTSecret:     testSecret,
		OptOutLimiter: NewIPRateLimiter(60, 2, logger),
		Logger:        logger,
	})
	return &testServer{handler: handler, broadcasts: broadcasts, blacklist: gate}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": subject, "exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/v1/broadcasts", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/broadcasts", nil, signToken(t, "other-secret", "alice"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthorized", decode[GenericErrorResponse](t, rr).Error)

	rr = s.do(t, http.MethodGet, "/api/v1/broadcasts", nil, signToken(t, testSecret, ""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestBroadcastHandler_Submit_Immediate(t *testing.T) {
	s := newTestServer(t)
	b := domain.NewBroadcast("hi", "INFO", domain.ParseRecipients("09171234567"), nil, "alice", time.Now())
	b.Status = domain.StatusProcessing
	b.TotalRecipients = 1

	s.broadcasts.On("Submit", mock.Anything, mock.MatchedBy(func(req app.SubmitRequest) bool {
		return req.CreatedBy == "alice" && req.Message == "hi" && len(req.Recipients) == 2 && req.ScheduledAt == nil
	})).Return(&app.SubmitResult{Broadcast: b, Resolution: &domain.Resolution{}}, nil).Once()

	rr := s.do(t, http.MethodPost, "/api/v1/broadcasts",
		`{"recipients":"09171234567, staff","message":"hi"}`, signToken(t, testSecret, "alice"))

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	res := decode[SubmitBroadcastResponse](t, rr)
	assert.Equal(t, b.ID.String(), res.BroadcastID)
	assert.Equal(t, "processing", res.Status)
	assert.Equal(t, 1, res.TotalRecipients)
	s.broadcasts.AssertExpectations(t)
}

func TestBroadcastHandler_Submit_ScheduledReturnsCreated(t *testing.T) {
	s := newTestServer(t)
	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	b := domain.NewBroadcast("hi", "INFO", domain.ParseRecipients("09171234567"), &at, "alice", time.Now())

	s.broadcasts.On("Submit", mock.Anything, mock.MatchedBy(func(req app.SubmitRequest) bool {
		return req.ScheduledAt != nil && req.ScheduledAt.Equal(at) && req.Recipients[0].Kind == domain.TokenGroup
	})).Return(&app.SubmitResult{Broadcast: b, Resolution: &domain.Resolution{}}, nil).Once()

	body := map[string]any{
		"recipients":   []map[string]string{{"type": "group", "value": "staff"}},
		"message":      "hi",
		"scheduled_at": at.Format(time.RFC3339),
	}
	rr := s.do(t, http.MethodPost, "/api/v1/broadcasts", body, signToken(t, testSecret, "alice"))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[SubmitBroadcastResponse](t, rr)
	assert.Equal(t, "pending", res.Status)
	require.NotNil(t, res.ScheduledAt)
	assert.True(t, res.ScheduledAt.Equal(at))
}

func TestBroadcastHandler_Submit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"no recipients", domain.ErrNoRecipients, http.StatusUnprocessableEntity, "no recipients"},
		{"schedule in past", domain.ErrScheduleInPast, http.StatusBadRequest, "schedule in past"},
		{"message too long", domain.ErrMessageTooLong, http.StatusBadRequest, "invalid message"},
		{"infrastructure", errors.New("connection refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.broadcasts.On("Submit", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			rr := s.do(t, http.MethodPost, "/api/v1/broadcasts", `{"recipients":"x","message":"hi"}`, signToken(t, testSecret, "alice"))

			assert.Equal(t, tt.wantStatus, rr.Code)
			res := decode[GenericErrorResponse](t, rr)
			assert.Equal(t, tt.wantError, res.Error)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Empty(t, res.Details)
			}
		})
	}
}

func TestBroadcastHandler_Submit_InvalidBody(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, testSecret, "alice")

	rr := s.do(t, http.MethodPost, "/api/v1/broadcasts", `{"recipients": 42, "message":"hi"}`, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/broadcasts", `{"recipients":"09171234567"}`, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "validation error", decode[GenericErrorResponse](t, rr).Error)
	s.broadcasts.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestBroadcastHandler_Preview(t *testing.T) {
	s := newTestServer(t)
	res := &domain.Resolution{
		Identifiers:       []domain.Identifier{{E164: "+639171234567", Region: "PH"}},
		Provenance:        map[string]domain.Provenance{"+639171234567": {Kind: domain.SourceGroup, GroupID: "g-1", GroupName: "staff"}},
		InvalidTokenCount: 1,
		GroupsMatched:     1,
	}
	s.broadcasts.On("Preview", mock.Anything, mock.Anything).Return(res, nil).Once()

	rr := s.do(t, http.MethodPost, "/api/v1/broadcasts/preview", `{"recipients":"staff, bad"}`, signToken(t, testSecret, "alice"))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[PreviewResponse](t, rr)
	assert.Equal(t, 1, body.TotalRecipients)
	assert.Equal(t, 1, body.InvalidRecipients)
	require.Len(t, body.Sample, 1)
	assert.Equal(t, "staff", body.Sample[0].Source.GroupName)
}

func TestBroadcastHandler_GetAndList(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, testSecret, "alice")
	b := domain.NewBroadcast("hi", "INFO", domain.ParseRecipients("09171234567"), nil, "alice", time.Now())
	b.Status = domain.StatusPartiallySent
	b.Errors = []domain.ErrorDetail{{Identifier: "+639181234567", Reason: "unreachable"}}

	s.broadcasts.On("Get", mock.Anything, b.ID).Return(b, nil).Once()
	rr := s.do(t, http.MethodGet, "/api/v1/broadcasts/"+b.ID.String(), nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[BroadcastResponse](t, rr)
	assert.Equal(t, "partially_sent", got.Status)
	require.Len(t, got.Errors, 1)

	missing := uuid.New()
	s.broadcasts.On("Get", mock.Anything, missing).Return(nil, domain.ErrNotFound).Once()
	rr = s.do(t, http.MethodGet, "/api/v1/broadcasts/"+missing.String(), nil, token)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/broadcasts/not-a-uuid", nil, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	s.broadcasts.On("List", mock.Anything, mock.MatchedBy(func(f domain.BroadcastFilter) bool {
		return f.Status == domain.StatusPending && f.Offset == 10 && f.Limit == 10 && f.From != nil
	})).Return([]*domain.Broadcast{b}, 11, nil).Once()
	rr = s.do(t, http.MethodGet, "/api/v1/broadcasts?status=pending&page=2&page_size=10&from=2026-01-01T00:00:00Z", nil, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	list := decode[ListBroadcastsResponse](t, rr)
	assert.Equal(t, 11, list.TotalCount)
	assert.Len(t, list.Items, 1)

	rr = s.do(t, http.MethodGet, "/api/v1/broadcasts?status=bogus", nil, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBroadcastHandler_EditAndCancelConflicts(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, testSecret, "alice")
	id := uuid.New()

	s.broadcasts.On("Edit", mock.Anything, id, mock.MatchedBy(func(req app.EditRequest) bool {
		return req.Message != nil && *req.Message == "new" && req.Recipients == nil
	})).Return(nil, domain.ErrNotEditable).Once()
	rr := s.do(t, http.MethodPut, "/api/v1/broadcasts/"+id.String(), `{"message":"new"}`, token)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "not editable", decode[GenericErrorResponse](t, rr).Error)

	s.broadcasts.On("Cancel", mock.Anything, id).Return(domain.ErrNotCancellable).Once()
	rr = s.do(t, http.MethodPost, "/api/v1/broadcasts/"+id.String()+"/cancel", nil, token)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "not cancellable", decode[GenericErrorResponse](t, rr).Error)
}

func TestBroadcastHandler_Cancel(t *testing.T) {
	s := newTestServer(t)
	b := domain.NewBroadcast("hi", "INFO", domain.ParseRecipients("09171234567"), nil, "alice", time.Now())
	b.Status = domain.StatusCancelled
	s.broadcasts.On("Cancel", mock.Anything, b.ID).Return(nil).Once()
	s.broadcasts.On("Get", mock.Anything, b.ID).Return(b, nil).Once()

	rr := s.do(t, http.MethodPost, "/api/v1/broadcasts/"+b.ID.String()+"/cancel", nil, signToken(t, testSecret, "alice"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cancelled", decode[BroadcastResponse](t, rr).Status)
}

func TestBlacklistHandler_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, testSecret, "admin")

	rr := s.do(t, http.MethodPost, "/api/v1/blacklist", AddBlacklistRequest{Number: "0917 123 4567"}, token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	entry := decode[BlacklistEntryResponse](t, rr)
	assert.Equal(t, "+639171234567", entry.Identifier)
	assert.Equal(t, domain.ReasonManual, entry.Reason)
	assert.Equal(t, "admin", entry.AddedBy)

	rr = s.do(t, http.MethodPost, "/api/v1/blacklist", AddBlacklistRequest{Number: "+639171234567", Reason: "opt_out"}, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, entry.ID, decode[BlacklistEntryResponse](t, rr).ID)

	rr = s.do(t, http.MethodGet, "/api/v1/blacklist/check?number=09171234567", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[BlacklistCheckResponse](t, rr).Blacklisted)

	rr = s.do(t, http.MethodGet, "/api/v1/blacklist?search=917", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[ListBlacklistResponse](t, rr).TotalCount)

	rr = s.do(t, http.MethodDelete, "/api/v1/blacklist/+639171234567", nil, token)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodDelete, "/api/v1/blacklist/+639171234567", nil, token)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBlacklistHandler_ListHugePage(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, testSecret, "admin")
	_, _, err := s.blacklist.Add(context.Background(), "09171234567", domain.ReasonManual, "admin")
	require.NoError(t, err)

	rr := s.do(t, http.MethodGet, "/api/v1/blacklist?page=9223372036854775807&page_size=100", nil, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[ListBlacklistResponse](t, rr)
	assert.Equal(t, 1, body.TotalCount)
	assert.Empty(t, body.Items)
	assert.Equal(t, maxPage, body.Page)
}

func TestBlacklistHandler_AddValidation(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, testSecret, "admin")

	rr := s.do(t, http.MethodPost, "/api/v1/blacklist", AddBlacklistRequest{Number: "0917", Reason: "spite"}, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/blacklist", AddBlacklistRequest{Number: "hello"}, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid identifier", decode[GenericErrorResponse](t, rr).Error)
}

func TestOptOut_PublicAndRateLimited(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/public/opt-out", OptOutRequest{Number: "09181234567"}, "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	first := rr.Body.String()

	rr = s.do(t, http.MethodPost, "/public/opt-out", OptOutRequest{Number: "+639181234567"}, "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, first, rr.Body.String())

	blocked, err := s.blacklist.IsBlocked(context.Background(), "+639181234567")
	require.NoError(t, err)
	assert.True(t, blocked)

	entries, _, err := s.blacklist.List(context.Background(), domain.BlacklistFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ReasonOptOut, entries[0].Reason)
	assert.Equal(t, "self-service", entries[0].AddedBy)

	// Burst of 2 is used up.
	rr = s.do(t, http.MethodPost, "/public/opt-out", OptOutRequest{Number: "09181234567"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestOptOut_ForwardedHeadersOnlyTrustedWhenConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	optOut := func(h http.Handler, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/public/opt-out", strings.NewReader(`{"number":"09181234567"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	newRouter := func(trust bool) http.Handler {
		return NewRouter(RouterConfig{
			Blacklist:         app.NewBlacklistGate(memory.NewBlacklistRepository(), recipient.NewNormalizer("PH"), logger),
			JWTSecret:         testSecret,
			OptOutLimiter:     NewIPRateLimiter(60, 2, logger),
			TrustProxyHeaders: trust,
			Logger:            logger,
		})
	}

	direct := newRouter(false)
	assert.Equal(t, http.StatusAccepted, optOut(direct, "198.51.100.1"))
	assert.Equal(t, http.StatusAccepted, optOut(direct, "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, optOut(direct, "198.51.100.3"), "spoofed header must not buy a new bucket")

	proxied := newRouter(true)
	for i := 1; i <= 4; i++ {
		assert.Equal(t, http.StatusAccepted, optOut(proxied, fmt.Sprintf("198.51.100.%d", i)))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "broadcast_http_requests_total")
}
