package service

import (
	"context"
	"testing"
	"time"

	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const convID = "alice_bob"

func seedConversation(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.store.UpsertConversation(context.Background(), conversation(convID, "bob", 0, 0))
	require.NoError(t, err)
}

func TestSyncConversation_ColdStartLoadsNewestPage(t *testing.T) {
	f := newFixture(t, models.SyncConfig{PageSize: 2})
	seedConversation(t, f)

	page := []*models.Message{message("m1", convID, 1000), message("m2", convID, 2000)}
	f.client.On("GetMessages", mock.Anything, "bob", int64(0), 2).Return(page, nil).Once()

	result, err := f.sync.SyncConversation(context.Background(), convID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, int64(2000), result.Cursor)
	f.client.AssertExpectations(t)

	conv, err := f.store.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "content m2", conv.LastMessage.Content)
	assert.Equal(t, int64(2000), conv.LastMessageAt)
	assert.Equal(t, 0, f.sync.InFlight())
}

func TestSyncConversation_DeltaPagesFromCursor(t *testing.T) {
	f := newFixture(t, models.SyncConfig{PageSize: 2})
	seedConversation(t, f)
	_, err := f.store.UpsertMessage(context.Background(), message("m1", convID, 1000))
	require.NoError(t, err)

	// since is inclusive, so m1 comes back and is deduplicated
	f.client.On("GetMessages", mock.Anything, "bob", int64(1000), 2).
		Return([]*models.Message{message("m1", convID, 1000), message("m2", convID, 2000)}, nil).Once()
	f.client.On("GetMessages", mock.Anything, "bob", int64(2000), 2).
		Return([]*models.Message{message("m2", convID, 2000), message("m3", convID, 3000)}, nil).Once()
	f.client.On("GetMessages", mock.Anything, "bob", int64(3000), 2).
		Return([]*models.Message{message("m3", convID, 3000)}, nil).Once()

	result, err := f.sync.SyncConversation(context.Background(), convID)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, int64(3000), result.Cursor)
	f.client.AssertExpectations(t)

	msgs, err := f.store.GetMessages(context.Background(), convID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[0].ID)
}

func TestSyncConversation_StopsWhenCursorCannotAdvance(t *testing.T) {
	f := newFixture(t, models.SyncConfig{PageSize: 2, MaxPages: 10})
	seedConversation(t, f)
	_, err := f.store.UpsertMessage(context.Background(), message("m0", convID, 5000))
	require.NoError(t, err)

	sameTime := []*models.Message{message("m1", convID, 5000), message("m2", convID, 5000)}
	f.client.On("GetMessages", mock.Anything, "bob", int64(5000), 2).Return(sameTime, nil).Once()

	result, err := f.sync.SyncConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, 2, result.Applied)
	f.client.AssertExpectations(t)
}

func TestSyncConversation_MaxPages(t *testing.T) {
	f := newFixture(t, models.SyncConfig{PageSize: 1, MaxPages: 2})
	seedConversation(t, f)
	_, err := f.store.UpsertMessage(context.Background(), message("m0", convID, 1000))
	require.NoError(t, err)

	f.client.On("GetMessages", mock.Anything, "bob", int64(1000), 1).
		Return([]*models.Message{message("m1", convID, 2000)}, nil).Once()
	f.client.On("GetMessages", mock.Anything, "bob", int64(2000), 1).
		Return([]*models.Message{message("m2", convID, 3000)}, nil).Once()

	result, err := f.sync.SyncConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, int64(3000), result.Cursor)
	f.client.AssertExpectations(t)
}

func TestSyncConversation_StaleBackfillDoesNotDowngrade(t *testing.T) {
	f := newFixture(t, models.SyncConfig{PageSize: 5})
	seedConversation(t, f)

	live := message("m1", convID, 1000)
	live.Status = models.MessageStatusRead
	_, err := f.store.UpsertMessage(context.Background(), live)
	require.NoError(t, err)

	stale := message("m1", convID, 1000)
	stale.Status = models.MessageStatusSent
	f.client.On("GetMessages", mock.Anything, "bob", int64(1000), 5).Return([]*models.Message{stale}, nil).Once()

	result, err := f.sync.SyncConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Applied)

	got, err := f.store.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, got.Status)
	assert.Equal(t, float64(1), f.metrics.CounterValue(metrics.MessagesRejected, map[string]string{"source": "delta"}))
}

func TestSyncConversation_UnknownConversation(t *testing.T) {
	f := newFixture(t, models.SyncConfig{})

	_, err := f.sync.SyncConversation(context.Background(), "alice_carol")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedInput))
	f.client.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err = f.sync.SyncConversation(context.Background(), "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedInput))
}

func TestSyncConversation_FetchErrorIsReturned(t *testing.T) {
	f := newFixture(t, models.SyncConfig{})
	seedConversation(t, f)

	fetchErr := apperrors.NewRemoteFetchError("/chat/messages", 503, assert.AnError)
	f.client.On("GetMessages", mock.Anything, "bob", int64(0), 50).Return(nil, fetchErr).Once()

	_, err := f.sync.SyncConversation(context.Background(), convID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRemoteFetch))
	assert.Equal(t, float64(1), f.metrics.CounterValue(metrics.SyncFailures, map[string]string{"scope": "conversation"}))
}

func TestSyncConversation_SupersededSyncIsCancelled(t *testing.T) {
	f := newFixture(t, models.SyncConfig{PageSize: 5})
	seedConversation(t, f)

	started := make(chan struct{})
	f.client.On("GetMessages", mock.Anything, "bob", int64(0), 5).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Once()
	f.client.On("GetMessages", mock.Anything, "bob", int64(0), 5).
		Return([]*models.Message{message("m1", convID, 1000)}, nil).Once()

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.sync.SyncConversation(context.Background(), convID)
		firstErr <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first sync did not start")
	}

	result, err := f.sync.SyncConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	select {
	case err := <-firstErr:
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCanceled))
	case <-time.After(2 * time.Second):
		t.Fatal("superseded sync was not cancelled")
	}
	assert.Equal(t, float64(1), f.metrics.CounterValue(metrics.SyncCancelled, nil))
	assert.Equal(t, 0, f.sync.InFlight())
}

func TestSyncConversationList_FiltersMalformedAndReconciles(t *testing.T) {
	f := newFixture(t, models.SyncConfig{})
	ctx := context.Background()

	// the cache already holds a message newer than the server summary
	_, err := f.store.UpsertMessage(ctx, message("m9", convID, 9000))
	require.NoError(t, err)

	fetched := []*models.Conversation{
		conversation(convID, "bob", 5000, 3),
		conversation("alice_carol", "", 4000, 1),
		conversation("alice_dave", "dave", 3000, 2),
	}
	f.client.On("GetConversations", mock.Anything).Return(fetched, nil).Once()

	convs, err := f.sync.SyncConversationList(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	cached, err := f.store.GetConversations(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, convID, cached[0].ConversationID)
	assert.Equal(t, int64(9000), cached[0].LastMessageAt)
	assert.Equal(t, "content m9", cached[0].LastMessage.Content)
	assert.Equal(t, 3, cached[0].UnreadCount)

	missing, err := f.store.GetConversation(ctx, "alice_carol")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, float64(1), f.metrics.CounterValue(metrics.ConversationsSkipped, nil))
}

func TestSyncAll_SyncsEveryConversation(t *testing.T) {
	f := newFixture(t, models.SyncConfig{PageSize: 5, MaxConcurrent: 2})
	ctx := context.Background()

	f.client.On("GetConversations", mock.Anything).Return([]*models.Conversation{
		conversation(convID, "bob", 0, 0),
		conversation("alice_dave", "dave", 0, 0),
		conversation("alice_erin", "erin", 0, 0),
	}, nil).Once()
	f.client.On("GetMessages", mock.Anything, "bob", int64(0), 5).
		Return([]*models.Message{message("b1", convID, 1000)}, nil).Once()
	f.client.On("GetMessages", mock.Anything, "dave", int64(0), 5).
		Return([]*models.Message{message("d1", "alice_dave", 1000)}, nil).Once()
	f.client.On("GetMessages", mock.Anything, "erin", int64(0), 5).
		Return(nil, apperrors.NewRemoteFetchError("/chat/messages", 500, assert.AnError)).Once()

	result, err := f.sync.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Conversations)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Applied)
	f.client.AssertExpectations(t)
}

func TestSyncAll_ListFailure(t *testing.T) {
	f := newFixture(t, models.SyncConfig{})
	f.client.On("GetConversations", mock.Anything).
		Return(nil, apperrors.NewRemoteFetchError("/chat/conversations", 502, assert.AnError)).Once()

	_, err := f.sync.SyncAll(context.Background())
	require.Error(t, err)
	f.client.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
