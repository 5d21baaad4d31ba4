package privacy

import (
	"strings"

	"chatsync/internal/constants"
)

// MaskUserID masks a user identifier
// Example: "65f0c1a2b3c4" -> "********b3c4"
func MaskUserID(userID string) string {
	if userID == "" {
		return ""
	}
	return maskString(userID, constants.DefaultIDMaskLength)
}

// MaskMessageID masks a message ID, keeping the tail for correlation
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}
	return maskString(messageID, constants.DefaultIDMaskLength)
}

// MaskConversationID masks both participant ids of a "a_b" conversation id
// Example: "65f0aaaa_65f1bbbb" -> "****aaaa_****bbbb"
func MaskConversationID(conversationID string) string {
	if conversationID == "" {
		return ""
	}

	parts := strings.Split(conversationID, "_")
	if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		return MaskUserID(parts[0]) + "_" + MaskUserID(parts[1])
	}
	return maskString(conversationID, constants.DefaultIDMaskLength)
}

// PreviewContent keeps the start of a message body for debug logs
func PreviewContent(content string) string {
	runes := []rune(content)
	if len(runes) <= constants.DefaultContentPreviewLen {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:constants.DefaultContentPreviewLen/2]) + "..."
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{})
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}
		switch k {
		case "user_id", "userId", "sender_id", "senderId", "receiver_id", "receiverId", "other_user_id", "read_by", "readBy":
			masked[k] = MaskUserID(s)
		case "message_id", "messageId", "msg_id", "_id":
			masked[k] = MaskMessageID(s)
		case "conversation_id", "conversationId":
			masked[k] = MaskConversationID(s)
		case "content", "last_message":
			masked[k] = PreviewContent(s)
		case "token", "auth_token", "authorization":
			masked[k] = "[REDACTED]"
		default:
			masked[k] = v
		}
	}

	return masked
}
