package service

import (
	"context"
	"encoding/json"

	"chatsync/internal/database"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/tracing"
	"chatsync/internal/validation"

	"github.com/sirupsen/logrus"
)

// BadgeTrigger requests a coalesced badge refresh
type BadgeTrigger interface {
	Trigger()
}

// RealtimeHandler applies push events with the same merge primitive the
// Delta Loader uses.
type RealtimeHandler struct {
	store        *database.Store
	queue        *WriteQueue
	materializer *Materializer
	lister       ConversationLister
	badges       BadgeTrigger
	selfID       string
	metrics      *metrics.Registry
	logger       *logrus.Logger
}

// NewRealtimeHandler wires the merge handler
func NewRealtimeHandler(store *database.Store, queue *WriteQueue, materializer *Materializer, lister ConversationLister, badges BadgeTrigger, selfID string, registry *metrics.Registry, logger *logrus.Logger) *RealtimeHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &RealtimeHandler{
		store:        store,
		queue:        queue,
		materializer: materializer,
		lister:       lister,
		badges:       badges,
		selfID:       selfID,
		metrics:      registry,
		logger:       logger,
	}
}

// HandleEvent applies one event. Unknown events are ignored.
func (h *RealtimeHandler) HandleEvent(ctx context.Context, event models.Event) (err error) {
	ctx, span := tracing.StartSpan(ctx, "realtime.event", tracing.AttrEventType.String(string(event.Type)))
	defer func() { tracing.EndSpan(span, err) }()

	switch event.Type {
	case models.EventNewMessage:
		err = h.handleNewMessage(ctx, event.Payload)
		h.triggerBadges()
	case models.EventMessagesRead:
		err = h.handleMessagesRead(ctx, event.Payload)
		h.triggerBadges()
	case models.EventInteraction:
		h.triggerBadges()
	case models.EventNewMatch:
		err = h.handleNewMatch(ctx, event.Payload)
		h.triggerBadges()
	default:
		h.logger.WithField(LogFieldEvent, event.Type).Debug("Ignoring unknown real-time event")
		return nil
	}
	return err
}

func (h *RealtimeHandler) handleNewMessage(ctx context.Context, payload json.RawMessage) error {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.metrics.IncrementCounter(metrics.MessagesMalformed, nil, "Malformed messages dropped")
		return apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "undecodable new_message payload")
	}
	if err := validation.ValidateMessage(&msg); err != nil {
		h.metrics.IncrementCounter(metrics.MessagesMalformed, nil, "Malformed messages dropped")
		return err
	}

	var hint *models.OtherUser
	if msg.Sender != nil && msg.Sender.ID != h.selfID {
		hint = msg.Sender
	}

	var applied bool
	err := h.queue.Submit(ctx, msg.ConversationID, func(ctx context.Context) error {
		return h.store.InTx(ctx, func(w database.Writer) error {
			var err error
			applied, err = w.UpsertMessage(ctx, &msg)
			if err != nil || !applied {
				return err
			}
			_, err = h.materializer.Materialize(ctx, w, &msg, hint)
			return err
		})
	})
	if err != nil {
		return err
	}

	labels := map[string]string{"source": "realtime"}
	if applied {
		h.metrics.IncrementCounter(metrics.MessagesApplied, labels, "Messages written to the cache")
	} else {
		h.metrics.IncrementCounter(metrics.MessagesRejected, labels, "Messages rejected by the guarded merge")
	}
	h.logger.WithFields(messageFields(ctx, msg.ID, msg.ConversationID)).
		WithField(LogFieldApplied, applied).
		Debug("Merged real-time message")
	return nil
}

// handleMessagesRead refreshes unread state from the server. Cached
// message statuses are left as they are.
func (h *RealtimeHandler) handleMessagesRead(ctx context.Context, payload json.RawMessage) error {
	var read models.MessagesReadPayload
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &read)
	}
	if read.ConversationID != "" {
		h.logger.WithFields(conversationFields(ctx, read.ConversationID)).Debug("Messages read, refreshing conversation list")
	}

	_, err := h.lister.SyncConversationList(ctx)
	return err
}

func (h *RealtimeHandler) handleNewMatch(ctx context.Context, payload json.RawMessage) error {
	match, err := decodeMatch(payload)
	if err != nil {
		return err
	}
	_, err = h.materializer.FromMatch(ctx, match)
	return err
}

// decodeMatch accepts {"match": {...}} or a bare match document
func decodeMatch(payload json.RawMessage) (*models.Match, error) {
	var wrapped models.NewMatchPayload
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "undecodable new_match payload")
	}
	if wrapped.Match != nil {
		return wrapped.Match, nil
	}

	var bare models.Match
	if err := json.Unmarshal(payload, &bare); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "undecodable new_match payload")
	}
	return &bare, nil
}

func (h *RealtimeHandler) triggerBadges() {
	if h.badges != nil {
		h.badges.Trigger()
	}
}
