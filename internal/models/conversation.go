package models

import (
	"encoding/json"
	"strings"
)

// OtherUser is the remote participant of a conversation
type OtherUser struct {
	ID    string
	Name  string
	Photo string
}

func (u *OtherUser) UnmarshalJSON(data []byte) error {
	var raw struct {
		UnderscoreID FlexibleID `json:"_id"`
		ID           FlexibleID `json:"id"`
		DisplayName  string     `json:"displayName"`
		Name         string     `json:"name"`
		Photos       []string   `json:"photos"`
		Photo        string     `json:"photo"`
		Image        string     `json:"image"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	u.ID = string(raw.UnderscoreID)
	if u.ID == "" {
		u.ID = string(raw.ID)
	}
	u.Name = raw.DisplayName
	if u.Name == "" {
		u.Name = raw.Name
	}
	switch {
	case raw.Image != "":
		u.Photo = raw.Image
	case len(raw.Photos) > 0:
		u.Photo = raw.Photos[0]
	default:
		u.Photo = raw.Photo
	}
	return nil
}

func (u OtherUser) MarshalJSON() ([]byte, error) {
	photos := []string{}
	if u.Photo != "" {
		photos = append(photos, u.Photo)
	}
	return json.Marshal(struct {
		ID          string   `json:"_id"`
		DisplayName string   `json:"displayName"`
		Photos      []string `json:"photos"`
	}{u.ID, u.Name, photos})
}

// LastMessage mirrors the newest message of a conversation
type LastMessage struct {
	Content   string
	CreatedAt int64
}

func (l *LastMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Content   string       `json:"content"`
		CreatedAt FlexibleTime `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Content = raw.Content
	l.CreatedAt = int64(raw.CreatedAt)
	return nil
}

func (l LastMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Content   string `json:"content"`
		CreatedAt string `json:"createdAt"`
	}{l.Content, FormatMillis(l.CreatedAt)})
}

// Conversation is the denormalized summary row shown in the chat list.
// LastMessageAt orders the list and falls back to the row's write time
// when no message is known yet.
type Conversation struct {
	ConversationID string
	OtherUser      *OtherUser
	LastMessage    *LastMessage
	LastMessageAt  int64
	UnreadCount    int
	UpdatedAt      int64
}

// HasOtherUser reports whether the row can be cached
func (c *Conversation) HasOtherUser() bool {
	return c != nil && c.OtherUser != nil && c.OtherUser.ID != ""
}

// Normalize clamps the unread count and derives the ordering time
func (c *Conversation) Normalize(now int64) {
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = now
	}
	if c.LastMessage != nil && c.LastMessage.CreatedAt > 0 {
		c.LastMessageAt = c.LastMessage.CreatedAt
	}
	if c.LastMessageAt == 0 {
		c.LastMessageAt = now
	}
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	var raw struct {
		ConversationID string       `json:"conversationId"`
		OtherUser      *OtherUser   `json:"otherUser"`
		LastMessage    *LastMessage `json:"lastMessage"`
		LastMessageAt  FlexibleTime `json:"lastMessageAt"`
		UnreadCount    int          `json:"unreadCount"`
		UpdatedAt      FlexibleTime `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Conversation{
		ConversationID: raw.ConversationID,
		OtherUser:      raw.OtherUser,
		LastMessage:    raw.LastMessage,
		LastMessageAt:  int64(raw.LastMessageAt),
		UnreadCount:    raw.UnreadCount,
		UpdatedAt:      int64(raw.UpdatedAt),
	}
	return nil
}

func (c Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ConversationID string       `json:"conversationId"`
		OtherUser      *OtherUser   `json:"otherUser"`
		LastMessage    *LastMessage `json:"lastMessage"`
		UnreadCount    int          `json:"unreadCount"`
		LastMessageAt  string       `json:"lastMessageAt"`
	}{c.ConversationID, c.OtherUser, c.LastMessage, c.UnreadCount, FormatMillis(c.LastMessageAt)})
}

// ConversationIDFor derives the server's conversation id for two participants
func ConversationIDFor(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "_" + b
}
