package app

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/adapters/smsprovider"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockSender is a mock type for smsprovider.Adapter
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, request smsprovider.SMSRequestData) (*smsprovider.SMSResponseData, error) {
	args := m.Called(ctx, request)
	var resp *smsprovider.SMSResponseData
	if r := args.Get(0); r != nil {
		resp = r.(*smsprovider.SMSResponseData)
	}
	return resp, args.Error(1)
}

func (m *MockSender) GetName() string { return "mock" }

func toRecipient(e164 string) interface{} {
	return mock.MatchedBy(func(r smsprovider.SMSRequestData) bool { return r.Recipient == e164 })
}

// MockBlockChecker is a mock type for BlockChecker
type MockBlockChecker struct {
	mock.Mock
}

func (m *MockBlockChecker) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	args := m.Called(ctx, identifier)
	return args.Bool(0), args.Error(1)
}

// MockImmediateDispatcher is a mock type for ImmediateDispatcher
type MockImmediateDispatcher struct {
	mock.Mock
}

func (m *MockImmediateDispatcher) DispatchResolved(ctx context.Context, id uuid.UUID, res *domain.Resolution) error {
	args := m.Called(ctx, id, res)
	return args.Error(0)
}

// MockBroadcastDispatcher is a mock type for BroadcastDispatcher
type MockBroadcastDispatcher struct {
	mock.Mock
}

func (m *MockBroadcastDispatcher) Dispatch(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBroadcastDispatcher) FailStale(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockLease is a mock type for Lease
type MockLease struct {
	mock.Mock
}

func (m *MockLease) TryAcquire(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockLease) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// recordingQueue collects enqueued tasks. failAfter >= 0 makes the enqueue
// after that many successes return err.
type recordingQueue struct {
	mu        sync.Mutex
	tasks     []domain.TransmissionTask
	failAfter int
	err       error
}

func newRecordingQueue() *recordingQueue { return &recordingQueue{failAfter: -1} }

func (q *recordingQueue) Enqueue(_ context.Context, task domain.TransmissionTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failAfter >= 0 && len(q.tasks) >= q.failAfter {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *recordingQueue) Tasks() []domain.TransmissionTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.TransmissionTask(nil), q.tasks...)
}

// outcomeSink records outcomes reported by a TaskRunner.
type outcomeSink struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
}

func (s *outcomeSink) RecordOutcome(_ context.Context, _ domain.TransmissionTask, outcome domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
}
