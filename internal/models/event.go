package models

import "encoding/json"

type EventType string

const (
	EventNewMessage   EventType = "new_message"
	EventMessagesRead EventType = "messages_read"
	EventInteraction  EventType = "interaction"
	EventNewMatch     EventType = "new_match"
	EventAckDelivered EventType = "ack_delivered"
)

// Event is one push frame from the real-time channel
type Event struct {
	Type    EventType       `json:"event"`
	Payload json.RawMessage `json:"data,omitempty"`
}

// MessagesReadPayload is the body of a messages_read event
type MessagesReadPayload struct {
	ConversationID string     `json:"conversationId"`
	ReadBy         FlexibleID `json:"readBy"`
}

// NewMatchPayload accepts either a bare match or {"match": {...}}
type NewMatchPayload struct {
	Match *Match `json:"match"`
}

// AckDeliveredPayload is sent back when a message from another user arrives
type AckDeliveredPayload struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}
