package validation

import (
	"fmt"
	"net/http"

	"chatsync/internal/constants"
	"chatsync/internal/errors"
	"chatsync/internal/models"
)

// ValidateMessageID validates message ID format and length
func ValidateMessageID(messageID string) error {
	return validateIdentifier(messageID, "id", "message ID", constants.MaxMessageIDLength)
}

// ValidateConversationID validates conversation ID format and length
func ValidateConversationID(conversationID string) error {
	return validateIdentifier(conversationID, "conversation_id", "conversation ID", constants.MaxConversationIDLength)
}

func validateIdentifier(value, field, label string, maxLen int) error {
	if value == "" {
		return errors.NewMalformedInputError(field, fmt.Sprintf("%s cannot be empty", label))
	}

	if len(value) > maxLen {
		return errors.NewMalformedInputError(field,
			fmt.Sprintf("%s too long (max %d characters)", label, maxLen))
	}

	// Control characters break log lines and URL paths
	for _, char := range value {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.NewMalformedInputError(field, fmt.Sprintf("%s contains invalid characters", label))
		}
	}

	return nil
}

// ValidateMessage checks the fields the store keys and orders on
func ValidateMessage(msg *models.Message) error {
	if msg == nil {
		return errors.NewMalformedInputError("message", "message is nil")
	}
	if err := ValidateMessageID(msg.ID); err != nil {
		return err
	}
	if err := ValidateConversationID(msg.ConversationID); err != nil {
		return err
	}
	if msg.CreatedAt <= 0 {
		return errors.NewMalformedInputError("created_at", "message has no creation time")
	}
	if len(msg.Content) > constants.MaxContentLength {
		return errors.NewMalformedInputError("content",
			fmt.Sprintf("content too long (max %d bytes)", constants.MaxContentLength))
	}
	switch msg.Status {
	case "", models.MessageStatusSent, models.MessageStatusDelivered, models.MessageStatusRead:
	default:
		return errors.NewMalformedInputError("status", fmt.Sprintf("unknown status %q", msg.Status))
	}
	switch msg.MessageType {
	case "", models.MessageTypeText, models.MessageTypeImage, models.MessageTypeAudio,
		models.MessageTypeSticker, models.MessageTypeFile, models.MessageTypeCall:
	default:
		return errors.NewMalformedInputError("message_type", fmt.Sprintf("unknown message type %q", msg.MessageType))
	}
	return nil
}

// ValidateConversation checks a summary row before it is cached
func ValidateConversation(conv *models.Conversation) error {
	if conv == nil {
		return errors.NewMalformedInputError("conversation", "conversation is nil")
	}
	if err := ValidateConversationID(conv.ConversationID); err != nil {
		return err
	}
	if !conv.HasOtherUser() {
		return errors.NewMalformedInputError("other_user.id", "conversation has no other user")
	}
	return nil
}

// ValidateHTTPRequestSize validates the declared request body size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.NewMalformedInputError("body",
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewConfigError(fieldName, fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.NewConfigError(fieldName, fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.NewConfigError(fieldName, fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.NewConfigError(fieldName, fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateConnectionPool validates database connection pool settings
func ValidateConnectionPool(maxOpen, maxIdle int) error {
	if maxOpen < 1 {
		return errors.NewConfigError("database.max_open_conns", "max open connections must be at least 1")
	}

	if maxOpen > 1000 {
		return errors.NewConfigError("database.max_open_conns", "max open connections too large (max 1000)")
	}

	if maxIdle < 0 {
		return errors.NewConfigError("database.max_idle_conns", "max idle connections cannot be negative")
	}

	if maxIdle > maxOpen {
		return errors.NewConfigError("database.max_idle_conns", "max idle connections cannot exceed max open connections")
	}

	return nil
}
