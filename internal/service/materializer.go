package service

import (
	"context"

	"chatsync/internal/database"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

// Materializer derives the conversation summary row from message and
// match events.
type Materializer struct {
	store   *database.Store
	selfID  string
	metrics *metrics.Registry
	logger  *logrus.Logger
}

// NewMaterializer creates a materializer for the signed in user selfID
func NewMaterializer(store *database.Store, selfID string, registry *metrics.Registry, logger *logrus.Logger) *Materializer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Materializer{store: store, selfID: selfID, metrics: registry, logger: logger}
}

// Materialize updates the summary row for msg inside w when msg is the
// newest message of its conversation. hint names the other participant
// when the event carried a populated user. It reports whether a row was
// written.
func (m *Materializer) Materialize(ctx context.Context, w database.Writer, msg *models.Message, hint *models.OtherUser) (bool, error) {
	if msg == nil || msg.ConversationID == "" {
		return false, nil
	}

	existing, err := w.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.LastMessage != nil && msg.CreatedAt < existing.LastMessageAt {
		return false, nil
	}

	latest, err := w.GetLatestMessage(ctx, msg.ConversationID)
	if err != nil {
		return false, err
	}
	if latest != nil && latest.CreatedAt > msg.CreatedAt {
		return false, nil
	}

	other := m.resolveOtherUser(existing, msg, hint)
	if other == nil {
		m.logger.WithFields(messageFields(ctx, msg.ID, msg.ConversationID)).
			Debug("Skipping materialization: other participant unresolved")
		return false, nil
	}

	row := &models.Conversation{
		ConversationID: msg.ConversationID,
		OtherUser:      other,
		LastMessage:    &models.LastMessage{Content: previewText(msg), CreatedAt: msg.CreatedAt},
		LastMessageAt:  msg.CreatedAt,
		UpdatedAt:      models.NowMillis(),
	}
	// unread state is owned by the server
	if existing != nil {
		row.UnreadCount = existing.UnreadCount
	}

	stored, err := w.UpsertConversation(ctx, row)
	if err != nil {
		return false, err
	}
	if stored {
		m.metrics.IncrementCounter(metrics.ConversationsMaterial, nil, "Conversation rows materialized from messages")
	}
	return stored, nil
}

// Reconcile bumps a row's last message when the cache holds a newer
// message than the server summary did.
func (m *Materializer) Reconcile(ctx context.Context, conversationID string) (bool, error) {
	var bumped bool
	err := m.store.InTx(ctx, func(w database.Writer) error {
		bumped = false
		conv, err := w.GetConversation(ctx, conversationID)
		if err != nil || conv == nil {
			return err
		}
		latest, err := w.GetLatestMessage(ctx, conversationID)
		if err != nil || latest == nil {
			return err
		}
		if conv.LastMessage != nil && latest.CreatedAt <= conv.LastMessageAt {
			return nil
		}

		conv.LastMessage = &models.LastMessage{Content: previewText(latest), CreatedAt: latest.CreatedAt}
		conv.LastMessageAt = latest.CreatedAt
		conv.UpdatedAt = models.NowMillis()
		bumped, err = w.UpsertConversation(ctx, conv)
		return err
	})
	return bumped, err
}

// FromMatch creates a row for an active match when none exists yet
func (m *Materializer) FromMatch(ctx context.Context, match *models.Match) (bool, error) {
	if !match.Valid() {
		return false, apperrors.NewMalformedInputError("user", "match has no user")
	}
	if match.Status != models.MatchStatusActive {
		return false, nil
	}

	conversationID := match.ConversationID
	if conversationID == "" {
		if m.selfID == "" {
			return false, nil
		}
		conversationID = models.ConversationIDFor(m.selfID, match.User.ID)
	}

	var created bool
	err := m.store.InTx(ctx, func(w database.Writer) error {
		created = false
		existing, err := w.GetConversation(ctx, conversationID)
		if err != nil || existing != nil {
			return err
		}
		user := *match.User
		created, err = w.UpsertConversation(ctx, &models.Conversation{
			ConversationID: conversationID,
			OtherUser:      &user,
		})
		return err
	})
	if created {
		m.logger.WithFields(conversationFields(ctx, conversationID)).Info("Created conversation from new match")
	}
	return created, err
}

func (m *Materializer) resolveOtherUser(existing *models.Conversation, msg *models.Message, hint *models.OtherUser) *models.OtherUser {
	if existing.HasOtherUser() {
		user := *existing.OtherUser
		return &user
	}
	if hint != nil && hint.ID != "" && hint.ID != m.selfID {
		user := *hint
		return &user
	}
	if id := msg.OtherParticipant(m.selfID); id != "" && id != m.selfID {
		return &models.OtherUser{ID: id}
	}
	return nil
}

// previewText is the summary line shown for a message
func previewText(msg *models.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	switch msg.MessageType {
	case models.MessageTypeImage:
		return "Photo"
	case models.MessageTypeAudio:
		return "Voice message"
	case models.MessageTypeSticker:
		if msg.StickerEmoji != nil {
			return *msg.StickerEmoji
		}
		return "Sticker"
	case models.MessageTypeFile:
		if msg.FileName != nil {
			return *msg.FileName
		}
		return "File"
	case models.MessageTypeCall:
		return "Call"
	default:
		return ""
	}
}
