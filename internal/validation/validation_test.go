package validation

import (
	"net/http"
	"strings"
	"testing"

	"chatsync/internal/constants"
	"chatsync/internal/errors"
	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMessage() *models.Message {
	return &models.Message{
		ID:             "m1",
		ConversationID: "u1_u2",
		SenderID:       "u1",
		ReceiverID:     "u2",
		Content:        "hello",
		CreatedAt:      1700000000000,
		Status:         models.MessageStatusSent,
	}
}

func TestValidateMessageID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid", "65f0c1a2b3", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", constants.MaxMessageIDLength+1), true},
		{"newline", "abc\ndef", true},
		{"nul", "abc\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeMalformedInput, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *models.Message)
		field  string
	}{
		{"valid", func(m *models.Message) {}, ""},
		{"missing id", func(m *models.Message) { m.ID = "" }, "id"},
		{"missing conversation", func(m *models.Message) { m.ConversationID = "" }, "conversation_id"},
		{"zero time", func(m *models.Message) { m.CreatedAt = 0 }, "created_at"},
		{"negative time", func(m *models.Message) { m.CreatedAt = -1 }, "created_at"},
		{"unknown status", func(m *models.Message) { m.Status = "seen" }, "status"},
		{"empty status allowed", func(m *models.Message) { m.Status = "" }, ""},
		{"unknown type", func(m *models.Message) { m.MessageType = "video" }, "message_type"},
		{"empty type allowed", func(m *models.Message) { m.MessageType = "" }, ""},
		{"call type", func(m *models.Message) { m.MessageType = models.MessageTypeCall }, ""},
		{"sticker type", func(m *models.Message) { m.MessageType = models.MessageTypeSticker }, ""},
		{"oversized content", func(m *models.Message) { m.Content = strings.Repeat("x", constants.MaxContentLength+1) }, "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMessage()
			tt.mutate(m)
			err := ValidateMessage(m)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			appErr, ok := err.(*errors.AppError)
			require.True(t, ok)
			assert.Equal(t, tt.field, appErr.Context["field"])
		})
	}

	assert.Error(t, ValidateMessage(nil))
}

func TestValidateConversation(t *testing.T) {
	valid := &models.Conversation{ConversationID: "u1_u2", OtherUser: &models.OtherUser{ID: "u2"}}
	assert.NoError(t, ValidateConversation(valid))

	assert.Error(t, ValidateConversation(nil))
	assert.Error(t, ValidateConversation(&models.Conversation{ConversationID: "u1_u2"}))
	assert.Error(t, ValidateConversation(&models.Conversation{ConversationID: "u1_u2", OtherUser: &models.OtherUser{}}))
	assert.Error(t, ValidateConversation(&models.Conversation{OtherUser: &models.OtherUser{ID: "u2"}}))
}

func TestValidateHTTPRequestSize(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "/messages", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.NoError(t, ValidateHTTPRequestSize(req, 10))

	req.ContentLength = 11
	assert.Error(t, ValidateHTTPRequestSize(req, 10))
}

func TestValidateNumericRange(t *testing.T) {
	assert.NoError(t, ValidateNumericRange(5, "sync.page_size", 1, 500))
	assert.Error(t, ValidateNumericRange(0, "sync.page_size", 1, 500))
	assert.Error(t, ValidateNumericRange(501, "sync.page_size", 1, 500))

	err := ValidateNumericRange(0, "sync.page_size", 1, 500)
	assert.Equal(t, errors.ErrCodeInvalidConfig, errors.GetCode(err))
}

func TestValidateTimeout(t *testing.T) {
	assert.NoError(t, ValidateTimeout(15, "sync.fetch_timeout_sec"))
	assert.Error(t, ValidateTimeout(0, "sync.fetch_timeout_sec"))
	assert.Error(t, ValidateTimeout(3601, "sync.fetch_timeout_sec"))
}

func TestValidateConnectionPool(t *testing.T) {
	assert.NoError(t, ValidateConnectionPool(1, 1))
	assert.Error(t, ValidateConnectionPool(0, 0))
	assert.Error(t, ValidateConnectionPool(1001, 1))
	assert.Error(t, ValidateConnectionPool(5, -1))
	assert.Error(t, ValidateConnectionPool(2, 3))
}
