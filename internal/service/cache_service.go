package service

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/database"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/validation"

	"github.com/sirupsen/logrus"
)

// Health tells an empty cache apart from a broken one
type Health struct {
	OK          bool                `json:"ok"`
	LastError   string              `json:"lastError,omitempty"`
	LastErrorAt int64               `json:"lastErrorAt,omitempty"`
	Kind        apperrors.ErrorCode `json:"kind,omitempty"`
}

// CacheService is the UI facing cache facade. None of its operations
// return errors: failures are logged, answered with a safe default and
// recorded in Health.
type CacheService struct {
	store        *database.Store
	queue        *WriteQueue
	materializer *Materializer
	metrics      *metrics.Registry
	logger       *apperrors.Logger

	mu     sync.RWMutex
	health Health
}

// NewCacheService builds the facade over store
func NewCacheService(store *database.Store, queue *WriteQueue, materializer *Materializer, registry *metrics.Registry, logger *logrus.Logger) *CacheService {
	return &CacheService{
		store:        store,
		queue:        queue,
		materializer: materializer,
		metrics:      registry,
		logger:       apperrors.FromLogrus(logger),
		health:       Health{OK: true},
	}
}

// GetMessages returns the newest cached messages of a conversation, newest
// first, or an empty slice
func (c *CacheService) GetMessages(ctx context.Context, conversationID string, limit int) []*models.Message {
	msgs, err := c.store.GetMessages(ctx, conversationID, limit)
	if c.observe(ctx, "get_messages", err) {
		return []*models.Message{}
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return msgs
}

// GetConversations returns the cached chat list or an empty slice
func (c *CacheService) GetConversations(ctx context.Context) []*models.Conversation {
	convs, err := c.store.GetConversations(ctx)
	if c.observe(ctx, "get_conversations", err) {
		return []*models.Conversation{}
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	return convs
}

// GetLastSyncTime returns the conversation's cursor or 0
func (c *CacheService) GetLastSyncTime(ctx context.Context, conversationID string) int64 {
	ts, err := c.store.GetLastSyncTime(ctx, conversationID)
	if c.observe(ctx, "get_last_sync_time", err) {
		return 0
	}
	return ts
}

// CacheMessage merges one message and updates its conversation row. It
// reports whether the message was applied.
func (c *CacheService) CacheMessage(ctx context.Context, msg *models.Message) bool {
	return c.CacheMessages(ctx, []*models.Message{msg}) == 1
}

// CacheMessages merges a batch and returns how many messages were applied.
// Messages of one conversation are written in one transaction.
func (c *CacheService) CacheMessages(ctx context.Context, msgs []*models.Message) int {
	groups := make(map[string][]*models.Message)
	var order []string
	for _, msg := range msgs {
		if err := validation.ValidateMessage(msg); err != nil {
			c.metrics.IncrementCounter(metrics.MessagesMalformed, nil, "Malformed messages dropped")
			c.observe(ctx, "cache_messages", err)
			continue
		}
		if _, ok := groups[msg.ConversationID]; !ok {
			order = append(order, msg.ConversationID)
		}
		groups[msg.ConversationID] = append(groups[msg.ConversationID], msg)
	}

	total := 0
	for _, conversationID := range order {
		batch := groups[conversationID]
		applied := 0
		err := c.queue.Submit(ctx, conversationID, func(ctx context.Context) error {
			return c.store.InTx(ctx, func(w database.Writer) error {
				applied = 0
				var newest *models.Message
				for _, msg := range batch {
					ok, err := w.UpsertMessage(ctx, msg)
					if err != nil {
						if apperrors.HasCode(err, apperrors.ErrCodeMalformedInput) {
							c.metrics.IncrementCounter(metrics.MessagesMalformed, nil, "Malformed messages dropped")
							continue
						}
						return err
					}
					if !ok {
						continue
					}
					applied++
					if newest == nil || msg.CreatedAt >= newest.CreatedAt {
						newest = msg
					}
				}
				if newest == nil {
					return nil
				}
				_, err := c.materializer.Materialize(ctx, w, newest, newest.Sender)
				return err
			})
		})
		if c.observe(ctx, "cache_messages", err) {
			continue
		}
		total += applied
		c.metrics.AddToCounter(metrics.MessagesApplied, float64(applied), map[string]string{"source": "local"}, "Messages written to the cache")
	}
	return total
}

// CacheConversation replaces a summary row. It reports whether the row
// was stored.
func (c *CacheService) CacheConversation(ctx context.Context, conv *models.Conversation) bool {
	if err := validation.ValidateConversation(conv); err != nil {
		// partial payloads are routine and do not mark the cache unhealthy
		c.metrics.IncrementCounter(metrics.ConversationsSkipped, nil, "Conversation documents dropped as malformed")
		c.logger.LogWarn(err, "Skipping malformed conversation", logrus.Fields{LogFieldOperation: "cache_conversation"})
		return false
	}

	var stored bool
	err := c.queue.Submit(ctx, conv.ConversationID, func(ctx context.Context) error {
		var err error
		stored, err = c.store.UpsertConversation(ctx, conv)
		return err
	})
	if c.observe(ctx, "cache_conversation", err) {
		return false
	}
	return stored
}

// ClearCache deletes every cached row, on logout
func (c *CacheService) ClearCache(ctx context.Context) bool {
	return !c.observe(ctx, "clear_cache", c.store.Clear(ctx))
}

// Health returns the latest health snapshot
func (c *CacheService) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// observe records the outcome of an operation and reports whether it failed
func (c *CacheService) observe(ctx context.Context, operation string, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.health.OK = true
		return false
	}

	code := apperrors.GetCode(err)
	c.health = Health{
		OK:          false,
		LastError:   err.Error(),
		LastErrorAt: time.Now().UnixMilli(),
		Kind:        code,
	}
	c.metrics.IncrementCounter(metrics.CacheFailures, map[string]string{
		"operation": operation,
		"kind":      string(code),
	}, "Cache operations answered with a safe default")
	fields := logrus.Fields{LogFieldOperation: operation}
	for k, v := range apperrors.FromContext(ctx) {
		fields[k] = v
	}
	c.logger.LogRetryableError(err, "Cache operation failed, returning default", fields)
	return true
}
