package service

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/database"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/tracing"
	"chatsync/internal/validation"
	"chatsync/pkg/api"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SyncResult describes one Delta Loader run for a conversation
type SyncResult struct {
	ConversationID string `json:"conversationId"`
	Fetched        int    `json:"fetched"`
	Applied        int    `json:"applied"`
	Pages          int    `json:"pages"`
	Cursor         int64  `json:"cursor"`
}

// SyncAllResult summarizes a full sync pass
type SyncAllResult struct {
	Conversations int `json:"conversations"`
	Synced        int `json:"synced"`
	Failed        int `json:"failed"`
	Applied       int `json:"applied"`
}

// SyncService pulls conversations and message deltas from the chat
// service and merges them into the local store.
type SyncService struct {
	store        *database.Store
	client       api.Client
	queue        *WriteQueue
	materializer *Materializer
	cfg          models.SyncConfig
	metrics      *metrics.Registry
	logger       *logrus.Logger

	mu       sync.Mutex
	inflight map[string]*inflightSync
	seq      uint64
}

type inflightSync struct {
	id     uint64
	cancel context.CancelFunc
}

// NewSyncService wires the Delta Loader. Zero config values use defaults.
func NewSyncService(store *database.Store, client api.Client, queue *WriteQueue, materializer *Materializer, cfg models.SyncConfig, registry *metrics.Registry, logger *logrus.Logger) *SyncService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = constants.DefaultMessagePageSize
	}
	if cfg.PageSize > constants.MaxMessagePageSize {
		cfg.PageSize = constants.MaxMessagePageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = constants.DefaultMaxPagesPerSync
	}
	if cfg.FetchTimeoutSec <= 0 {
		cfg.FetchTimeoutSec = constants.DefaultFetchTimeoutSec
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = constants.DefaultSyncMaxConcurrent
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SyncService{
		store:        store,
		client:       client,
		queue:        queue,
		materializer: materializer,
		cfg:          cfg,
		metrics:      registry,
		logger:       logger,
		inflight:     make(map[string]*inflightSync),
	}
}

// Cursor is the incremental fetch watermark of a conversation: the newest
// cached created_at, or 0 when nothing is cached.
func (s *SyncService) Cursor(ctx context.Context, conversationID string) (int64, error) {
	return s.store.GetLastSyncTime(ctx, conversationID)
}

// SyncConversation fetches the messages newer than the cursor and merges
// them. A later call for the same conversation cancels this one.
func (s *SyncService) SyncConversation(ctx context.Context, conversationID string) (*SyncResult, error) {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, conversationID)
	defer done()

	ctx = apperrors.ContextWithConversationID(ctx, conversationID)
	ctx, span := tracing.StartSpan(ctx, "sync.conversation", tracing.ConversationAttr(conversationID))
	start := time.Now()

	result, err := s.syncConversation(ctx, conversationID)
	tracing.EndSpan(span, err)
	s.metrics.Time(metrics.SyncDuration, start, map[string]string{"scope": "conversation"})

	switch {
	case err == nil:
		s.metrics.IncrementCounter(metrics.SyncRuns, map[string]string{"scope": "conversation"}, "Completed sync runs")
	case apperrors.HasCode(err, apperrors.ErrCodeCanceled):
		s.metrics.IncrementCounter(metrics.SyncCancelled, nil, "Superseded or cancelled syncs")
		s.logger.WithFields(conversationFields(ctx, conversationID)).Debug("Conversation sync cancelled")
	default:
		s.metrics.IncrementCounter(metrics.SyncFailures, map[string]string{"scope": "conversation"}, "Failed sync runs")
	}
	return result, err
}

func (s *SyncService) syncConversation(ctx context.Context, conversationID string) (*SyncResult, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasOtherUser() {
		return nil, apperrors.NewMalformedInputError("other_user.id", "conversation is not cached with an other participant").
			WithContext("conversation_id", conversationID)
	}

	cursor, err := s.Cursor(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{ConversationID: conversationID, Cursor: cursor}
	since := cursor
	for page := 1; page <= s.cfg.MaxPages; page++ {
		msgs, err := s.fetchPage(ctx, conv.OtherUser.ID, since)
		if err != nil {
			return result, err
		}
		result.Pages = page

		batch := make([]*models.Message, 0, len(msgs))
		newest := since
		for _, msg := range msgs {
			if msg.ConversationID != conversationID {
				continue
			}
			batch = append(batch, msg)
			if msg.CreatedAt > newest {
				newest = msg.CreatedAt
			}
		}
		result.Fetched += len(batch)

		if len(batch) > 0 {
			var applied int
			err := s.queue.Submit(ctx, conversationID, func(ctx context.Context) error {
				var err error
				applied, err = s.store.UpsertMessages(ctx, batch)
				return err
			})
			if err != nil {
				return result, err
			}
			result.Applied += applied
			s.metrics.AddToCounter(metrics.MessagesApplied, float64(applied), map[string]string{"source": "delta"}, "Messages written to the cache")
			s.metrics.AddToCounter(metrics.MessagesRejected, float64(len(batch)-applied), map[string]string{"source": "delta"}, "Messages rejected by the guarded merge")
		}

		s.logger.WithFields(conversationFields(ctx, conversationID)).WithFields(logrus.Fields{
			LogFieldPage:   page,
			LogFieldCursor: since,
			LogFieldCount:  len(batch),
		}).Debug("Fetched message page")

		// a cold start loads the newest page only
		if since == 0 || len(msgs) < s.cfg.PageSize || newest <= since {
			break
		}
		since = newest
	}

	if result.Fetched > 0 {
		if err := s.materializeLatest(ctx, conversationID, conv.OtherUser); err != nil {
			return result, err
		}
	}

	result.Cursor, err = s.Cursor(ctx, conversationID)
	if err != nil {
		return result, err
	}

	s.logger.WithFields(conversationFields(ctx, conversationID)).WithFields(logrus.Fields{
		"fetched":       result.Fetched,
		LogFieldApplied: result.Applied,
		"pages":         result.Pages,
	}).Info("Completed conversation sync")
	return result, nil
}

func (s *SyncService) fetchPage(ctx context.Context, otherUserID string, since int64) ([]*models.Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.FetchTimeoutSec)*time.Second)
	defer cancel()

	msgs, err := s.client.GetMessages(fetchCtx, otherUserID, since, s.cfg.PageSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.FromCtxErr(ctx.Err(), "sync conversation")
		}
		return nil, err
	}
	return msgs, nil
}

func (s *SyncService) materializeLatest(ctx context.Context, conversationID string, hint *models.OtherUser) error {
	return s.queue.Submit(ctx, conversationID, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(w database.Writer) error {
			latest, err := w.GetLatestMessage(ctx, conversationID)
			if err != nil || latest == nil {
				return err
			}
			_, err = s.materializer.Materialize(ctx, w, latest, hint)
			return err
		})
	})
}

// begin registers a sync for conversationID, cancelling the one it supersedes
func (s *SyncService) begin(ctx context.Context, conversationID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if prev, ok := s.inflight[conversationID]; ok {
		prev.cancel()
	}
	s.seq++
	entry := &inflightSync{id: s.seq, cancel: cancel}
	s.inflight[conversationID] = entry
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if current, ok := s.inflight[conversationID]; ok && current.id == entry.id {
			delete(s.inflight, conversationID)
		}
		s.mu.Unlock()
		cancel()
	}
}

// InFlight returns the number of running conversation syncs
func (s *SyncService) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// SyncConversationList fetches the conversation list, caches every valid
// row and reconciles each row against the newest cached message. It
// returns the valid conversations as fetched.
func (s *SyncService) SyncConversationList(ctx context.Context) ([]*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "sync.conversation_list")
	start := time.Now()

	convs, err := s.syncConversationList(ctx)
	tracing.EndSpan(span, err)
	s.metrics.Time(metrics.SyncDuration, start, map[string]string{"scope": "list"})
	if err != nil {
		s.metrics.IncrementCounter(metrics.SyncFailures, map[string]string{"scope": "list"}, "Failed sync runs")
		return nil, err
	}
	s.metrics.IncrementCounter(metrics.SyncRuns, map[string]string{"scope": "list"}, "Completed sync runs")
	return convs, nil
}

func (s *SyncService) syncConversationList(ctx context.Context) ([]*models.Conversation, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.FetchTimeoutSec)*time.Second)
	fetched, err := s.client.GetConversations(fetchCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.FromCtxErr(ctx.Err(), "sync conversation list")
		}
		return nil, err
	}

	valid := make([]*models.Conversation, 0, len(fetched))
	for _, conv := range fetched {
		if err := validation.ValidateConversation(conv); err != nil {
			s.metrics.IncrementCounter(metrics.ConversationsSkipped, nil, "Conversation documents dropped as malformed")
			continue
		}
		valid = append(valid, conv)
	}

	stored := 0
	for _, conv := range valid {
		row := *conv
		err := s.queue.Submit(ctx, conv.ConversationID, func(ctx context.Context) error {
			ok, err := s.store.UpsertConversation(ctx, &row)
			if err != nil || !ok {
				return err
			}
			stored++
			_, err = s.materializer.Reconcile(ctx, row.ConversationID)
			return err
		})
		if err != nil {
			return valid, err
		}
	}
	s.metrics.AddToCounter(metrics.ConversationsStored, float64(stored), nil, "Conversation rows cached from the list")

	s.logger.WithFields(logrus.Fields{
		LogFieldCount: stored,
		"skipped":     len(fetched) - len(valid),
	}).Info("Completed conversation list sync")
	return valid, nil
}

// SyncAll refreshes the conversation list and then runs a delta sync per
// conversation with bounded concurrency. Per conversation failures are
// counted, not returned.
func (s *SyncService) SyncAll(ctx context.Context) (*SyncAllResult, error) {
	convs, err := s.SyncConversationList(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncAllResult{Conversations: len(convs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, conv := range convs {
		conversationID := conv.ConversationID
		g.Go(func() error {
			res, err := s.SyncConversation(gctx, conversationID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				s.logger.WithFields(conversationFields(gctx, conversationID)).WithError(err).
					Warn("Failed to sync conversation")
				return nil
			}
			result.Synced++
			result.Applied += res.Applied
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, apperrors.FromCtxErr(err, "sync all")
	}

	s.logger.WithFields(logrus.Fields{
		"conversations": result.Conversations,
		"synced":        result.Synced,
		"failed":        result.Failed,
		LogFieldApplied: result.Applied,
	}).Info("Completed full sync")
	return result, nil
}
