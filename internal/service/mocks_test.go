package service

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/internal/database"
	"chatsync/internal/metrics"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const selfID = "alice"

// mockAPIClient implements api.Client
type mockAPIClient struct {
	mock.Mock
}

func (m *mockAPIClient) GetConversations(ctx context.Context) ([]*models.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Conversation), args.Error(1)
}

func (m *mockAPIClient) GetMatches(ctx context.Context) ([]*models.Match, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Match), args.Error(1)
}

func (m *mockAPIClient) GetMessages(ctx context.Context, otherUserID string, since int64, limit int) ([]*models.Message, error) {
	args := m.Called(ctx, otherUserID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

// countingTrigger implements BadgeTrigger
type countingTrigger struct {
	calls atomic.Int32
}

func (c *countingTrigger) Trigger() { c.calls.Add(1) }

type fixture struct {
	store        *database.Store
	client       *mockAPIClient
	queue        *WriteQueue
	materializer *Materializer
	sync         *SyncService
	metrics      *metrics.Registry
	logger       *logrus.Logger
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func setupStore(t *testing.T) *database.Store {
	t.Helper()
	store, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), models.DatabaseConfig{}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newFixture(t *testing.T, cfg models.SyncConfig) *fixture {
	t.Helper()
	logger := testLogger()
	registry := metrics.NewRegistry()
	store := setupStore(t)
	client := &mockAPIClient{}
	queue := NewWriteQueue(8, time.Second, registry, logger)
	t.Cleanup(queue.Close)
	materializer := NewMaterializer(store, selfID, registry, logger)

	return &fixture{
		store:        store,
		client:       client,
		queue:        queue,
		materializer: materializer,
		sync:         NewSyncService(store, client, queue, materializer, cfg, registry, logger),
		metrics:      registry,
		logger:       logger,
	}
}

func message(id, conversationID string, createdAt int64) *models.Message {
	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       "bob",
		ReceiverID:     selfID,
		Content:        "content " + id,
		MessageType:    models.MessageTypeText,
		Status:         models.MessageStatusSent,
		CreatedAt:      createdAt,
	}
}

func conversation(id, otherID string, lastAt int64, unread int) *models.Conversation {
	conv := &models.Conversation{
		ConversationID: id,
		UnreadCount:    unread,
	}
	if otherID != "" {
		conv.OtherUser = &models.OtherUser{ID: otherID, Name: "User " + otherID}
	}
	if lastAt > 0 {
		conv.LastMessage = &models.LastMessage{Content: "last", CreatedAt: lastAt}
	}
	return conv
}
