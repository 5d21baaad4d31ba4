package models

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageTypeText    MessageType = "text"
	MessageTypeImage   MessageType = "image"
	MessageTypeAudio   MessageType = "audio"
	MessageTypeSticker MessageType = "sticker"
	MessageTypeFile    MessageType = "file"
	MessageTypeCall    MessageType = "call"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses so that sent < delivered < read. Unknown values rank as sent.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusRead:
		return 2
	case MessageStatusDelivered:
		return 1
	default:
		return 0
	}
}

// CallData is attached to call-log messages only
type CallData struct {
	CallType string `json:"callType"`
	Duration *int64 `json:"duration,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Message is a single chat message as cached on the device.
// CreatedAt is epoch milliseconds.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	MessageType    MessageType
	Status         MessageStatus
	CreatedAt      int64
	ReplyToID      *string
	AudioURL       *string
	AudioDuration  *int64
	ImageURL       *string
	StickerEmoji   *string
	FileName       *string
	FileURL        *string
	Call           *CallData

	// Participant documents populated by the server, if any. Not persisted.
	Sender *OtherUser
}

// ApplyDefaults fills the type and status the server may omit.
func (m *Message) ApplyDefaults() {
	if m.MessageType == "" {
		m.MessageType = MessageTypeText
	}
	if m.Status == "" {
		m.Status = MessageStatusSent
	}
	if m.Call != nil && m.Call.CallType == "" {
		m.Call = nil
	}
}

// Time returns CreatedAt as a time.Time
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// OtherParticipant returns the participant that is not self. An empty
// self id treats the receiver as self.
func (m *Message) OtherParticipant(self string) string {
	if self == "" {
		return m.SenderID
	}
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

type messageJSON struct {
	ID             string        `json:"_id"`
	ConversationID string        `json:"conversationId"`
	SenderID       FlexibleID    `json:"senderId"`
	ReceiverID     FlexibleID    `json:"receiverId"`
	Content        FlexibleText  `json:"content"`
	MessageType    MessageType   `json:"messageType,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
	CreatedAt      FlexibleTime  `json:"createdAt"`
	ReplyTo        FlexibleID    `json:"replyTo,omitempty"`
	AudioURL       *string       `json:"audioUrl,omitempty"`
	AudioDuration  *float64      `json:"audioDuration,omitempty"`
	ImageURL       *string       `json:"imageUrl,omitempty"`
	StickerEmoji   *string       `json:"stickerEmoji,omitempty"`
	FileName       *string       `json:"fileName,omitempty"`
	FileURL        *string       `json:"fileUrl,omitempty"`
	CallData       *CallData     `json:"callData,omitempty"`
}

// UnmarshalJSON decodes REST, push and local API payloads. senderId and
// replyTo may be populated documents, createdAt may be RFC 3339 or millis.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		var alt struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(data, &alt)
		raw.ID = alt.ID
	}

	*m = Message{
		ID:             raw.ID,
		ConversationID: raw.ConversationID,
		SenderID:       string(raw.SenderID),
		ReceiverID:     string(raw.ReceiverID),
		Content:        string(raw.Content),
		MessageType:    raw.MessageType,
		Status:         raw.Status,
		CreatedAt:      int64(raw.CreatedAt),
		AudioURL:       raw.AudioURL,
		ImageURL:       raw.ImageURL,
		StickerEmoji:   raw.StickerEmoji,
		FileName:       raw.FileName,
		FileURL:        raw.FileURL,
		Call:           raw.CallData,
	}
	if raw.ReplyTo != "" {
		reply := string(raw.ReplyTo)
		m.ReplyToID = &reply
	}
	if raw.AudioDuration != nil {
		d := int64(*raw.AudioDuration)
		m.AudioDuration = &d
	}

	var populated struct {
		SenderID json.RawMessage `json:"senderId"`
	}
	if err := json.Unmarshal(data, &populated); err == nil && len(populated.SenderID) > 0 && populated.SenderID[0] == '{' {
		var sender OtherUser
		if err := json.Unmarshal(populated.SenderID, &sender); err == nil && sender.ID != "" {
			m.Sender = &sender
		}
	}

	if m.ConversationID == "" && m.SenderID != "" && m.ReceiverID != "" {
		m.ConversationID = ConversationIDFor(m.SenderID, m.ReceiverID)
	}

	m.ApplyDefaults()
	return nil
}

// MarshalJSON renders the message in the chat service's shape
func (m Message) MarshalJSON() ([]byte, error) {
	out := struct {
		ID             string        `json:"_id"`
		ConversationID string        `json:"conversationId"`
		SenderID       string        `json:"senderId"`
		ReceiverID     string        `json:"receiverId"`
		Content        string        `json:"content"`
		MessageType    MessageType   `json:"messageType"`
		Status         MessageStatus `json:"status"`
		CreatedAt      string        `json:"createdAt"`
		ReplyTo        *string       `json:"replyTo,omitempty"`
		AudioURL       *string       `json:"audioUrl,omitempty"`
		AudioDuration  *int64        `json:"audioDuration,omitempty"`
		ImageURL       *string       `json:"imageUrl,omitempty"`
		StickerEmoji   *string       `json:"stickerEmoji,omitempty"`
		FileName       *string       `json:"fileName,omitempty"`
		FileURL        *string       `json:"fileUrl,omitempty"`
		CallData       *CallData     `json:"callData,omitempty"`
	}{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		MessageType:    m.MessageType,
		Status:         m.Status,
		CreatedAt:      FormatMillis(m.CreatedAt),
		ReplyTo:        m.ReplyToID,
		AudioURL:       m.AudioURL,
		AudioDuration:  m.AudioDuration,
		ImageURL:       m.ImageURL,
		StickerEmoji:   m.StickerEmoji,
		FileName:       m.FileName,
		FileURL:        m.FileURL,
		CallData:       m.Call,
	}
	return json.Marshal(out)
}
