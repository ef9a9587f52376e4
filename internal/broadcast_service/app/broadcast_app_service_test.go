package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/recipient"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/repository/memory"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type serviceFixture struct {
	repo       *memory.BroadcastRepository
	directory  *memory.Directory
	dispatcher *MockImmediateDispatcher
	svc        *BroadcastAppService
}

func newServiceFixture() *serviceFixture {
	repo := memory.NewBroadcastRepository()
	dir := memory.NewDirectory()
	dispatcher := new(MockImmediateDispatcher)
	resolver := recipient.NewResolver(dir, recipient.NewNormalizer("PH"), testLogger())
	svc := NewBroadcastAppService(repo, resolver, dispatcher, BroadcastConfig{
		MaxMessageLength:     20,
		MaxSenderLabelLength: 11,
		DefaultSenderLabel:   "INFO",
	}, testLogger())
	svc.now = func() time.Time { return fixedNow }
	return &serviceFixture{repo: repo, directory: dir, dispatcher: dispatcher, svc: svc}
}

func at(d time.Duration) *time.Time {
	t := fixedNow.Add(d)
	return &t
}

func TestBroadcastAppService_Submit_Scheduled(t *testing.T) {
	f := newServiceFixture()

	res, err := f.svc.Submit(context.Background(), SubmitRequest{
		Recipients:  domain.ParseRecipients("09171234567, 0917 123 4567, nope"),
		Message:     "hello",
		ScheduledAt: at(time.Hour),
		CreatedBy:   "alice",
	})
	require.NoError(t, err)

	b := res.Broadcast
	assert.Equal(t, domain.StatusPending, b.Status)
	assert.Equal(t, "INFO", b.SenderLabel)
	assert.Equal(t, 1, b.TotalRecipients)
	assert.Equal(t, 1, b.InvalidRecipients)
	assert.Equal(t, "alice", b.CreatedBy)
	f.dispatcher.AssertNotCalled(t, "DispatchResolved", mock.Anything, mock.Anything, mock.Anything)
}

func TestBroadcastAppService_Submit_ImmediateDispatchesResolution(t *testing.T) {
	f := newServiceFixture()
	f.dispatcher.On("DispatchResolved", mock.Anything, mock.Anything, mock.MatchedBy(func(r *domain.Resolution) bool {
		return r.Total() == 2
	})).Return(nil).Once()

	res, err := f.svc.Submit(context.Background(), SubmitRequest{
		Recipients: domain.ParseRecipients("09171234567,09181234567"),
		Message:    "now",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Broadcast.ScheduledAt)
	assert.Equal(t, 2, res.Broadcast.TotalRecipients)

	f.svc.WaitDispatches()
	f.dispatcher.AssertExpectations(t)
}

func TestBroadcastAppService_Submit_ImmediateReturnsBeforeFanout(t *testing.T) {
	f := newServiceFixture()
	release := make(chan time.Time)
	f.dispatcher.On("DispatchResolved", mock.Anything, mock.Anything, mock.Anything).
		WaitUntil(release).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	res, err := f.svc.Submit(ctx, SubmitRequest{
		Recipients: domain.ParseRecipients("09171234567,09181234567,09191234567"),
		Message:    "now",
	})
	require.NoError(t, err)
	// the request ending must not abort the fan-out
	cancel()

	assert.Equal(t, domain.StatusPending, res.Broadcast.Status)
	assert.Equal(t, 3, res.Broadcast.TotalRecipients)
	assert.Equal(t, 3, res.Resolution.Total())

	close(release)
	f.svc.WaitDispatches()
	f.dispatcher.AssertExpectations(t)
	dispatchCtx := f.dispatcher.Calls[0].Arguments.Get(0).(context.Context)
	assert.NoError(t, dispatchCtx.Err())
}

func TestBroadcastAppService_Submit_DispatchErrorStillReturnsRecord(t *testing.T) {
	f := newServiceFixture()
	f.dispatcher.On("DispatchResolved", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("claim: db down"))

	res, err := f.svc.Submit(context.Background(), SubmitRequest{
		Recipients: domain.ParseRecipients("09171234567"),
		Message:    "now",
	})
	require.NoError(t, err)
	f.svc.WaitDispatches()
	assert.Equal(t, domain.StatusPending, res.Broadcast.Status)

	stored, err := f.repo.GetByID(context.Background(), res.Broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status, "left for the poller's orphan pickup")
}

func TestBroadcastAppService_Submit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr error
	}{
		{"empty message", SubmitRequest{Recipients: domain.ParseRecipients("09171234567"), Message: "  "}, domain.ErrEmptyMessage},
		{"message too long", SubmitRequest{Recipients: domain.ParseRecipients("09171234567"), Message: strings.Repeat("x", 21)}, domain.ErrMessageTooLong},
		{"sender too long", SubmitRequest{Recipients: domain.ParseRecipients("09171234567"), Message: "hi", SenderLabel: "TWELVECHARSX"}, domain.ErrSenderLabelTooLong},
		{"schedule in past", SubmitRequest{Recipients: domain.ParseRecipients("09171234567"), Message: "hi", ScheduledAt: at(-time.Minute)}, domain.ErrScheduleInPast},
		{"schedule now", SubmitRequest{Recipients: domain.ParseRecipients("09171234567"), Message: "hi", ScheduledAt: at(0)}, domain.ErrScheduleInPast},
		{"no valid recipients", SubmitRequest{Recipients: domain.ParseRecipients("foo, 12"), Message: "hi"}, domain.ErrNoRecipients},
		{"nothing at all", SubmitRequest{Message: "hi"}, domain.ErrNoRecipients},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture()
			_, err := f.svc.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			list, total, err := f.svc.List(context.Background(), domain.BroadcastFilter{})
			require.NoError(t, err)
			assert.Empty(t, list)
			assert.Zero(t, total)
		})
	}
}

func TestBroadcastAppService_Submit_EmptyGroupAccepted(t *testing.T) {
	f := newServiceFixture()
	f.directory.PutGroup(domain.Group{ID: "g-1", Name: "night shift"})

	res, err := f.svc.Submit(context.Background(), SubmitRequest{
		Recipients:  domain.ParseRecipients("night shift"),
		Message:     "hi",
		ScheduledAt: at(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Broadcast.TotalRecipients)
	assert.Equal(t, 1, res.Resolution.GroupsMatched)
}

func TestBroadcastAppService_EditBeforeAndAfterClaim(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	res, err := f.svc.Submit(ctx, SubmitRequest{
		Recipients:  domain.ParseRecipients("09171234567"),
		Message:     "draft",
		ScheduledAt: at(time.Hour),
	})
	require.NoError(t, err)
	id := res.Broadcast.ID

	msg := "final"
	updated, err := f.svc.Edit(ctx, id, EditRequest{
		Message:     &msg,
		Recipients:  domain.ParseRecipients("09171234567, 09181234567"),
		ScheduledAt: at(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Message)
	assert.Equal(t, 2, updated.TotalRecipients)
	assert.True(t, updated.ScheduledAt.Equal(*at(2 * time.Hour)))

	_, err = f.repo.Claim(ctx, id, fixedNow)
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, id, EditRequest{Message: &msg})
	assert.ErrorIs(t, err, domain.ErrNotEditable)
	assert.ErrorIs(t, f.svc.Cancel(ctx, id), domain.ErrNotCancellable)
}

func TestBroadcastAppService_EditDueBroadcastRejected(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	res, err := f.svc.Submit(ctx, SubmitRequest{
		Recipients:  domain.ParseRecipients("09171234567"),
		Message:     "draft",
		ScheduledAt: at(time.Minute),
	})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	msg := "late"
	_, err = f.svc.Edit(ctx, res.Broadcast.ID, EditRequest{Message: &msg})
	assert.ErrorIs(t, err, domain.ErrNotEditable)
}

func TestBroadcastAppService_Cancel(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	res, err := f.svc.Submit(ctx, SubmitRequest{
		Recipients:  domain.ParseRecipients("09171234567"),
		Message:     "hi",
		ScheduledAt: at(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, res.Broadcast.ID))
	stored, err := f.svc.Get(ctx, res.Broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)

	assert.ErrorIs(t, f.svc.Cancel(ctx, res.Broadcast.ID), domain.ErrNotCancellable)
}
