package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationIDFor(t *testing.T) {
	assert.Equal(t, "a_b", ConversationIDFor("a", "b"))
	assert.Equal(t, "a_b", ConversationIDFor("b", "a"))
	assert.Equal(t, "65f0_65f1", ConversationIDFor("65f1", "65f0"))
}

func TestConversation_UnmarshalJSON(t *testing.T) {
	payload := `{
		"conversationId": "u1_u2",
		"otherUser": {"_id": "u2", "displayName": "Sam", "photos": ["a.jpg", "b.jpg"]},
		"lastMessage": {"content": "hey", "createdAt": "2024-03-01T10:00:00Z", "senderId": "u2"},
		"unreadCount": 3,
		"lastMessageAt": "2024-03-01T10:00:00Z"
	}`

	var c Conversation
	require.NoError(t, json.Unmarshal([]byte(payload), &c))

	assert.Equal(t, "u1_u2", c.ConversationID)
	require.True(t, c.HasOtherUser())
	assert.Equal(t, "Sam", c.OtherUser.Name)
	assert.Equal(t, "a.jpg", c.OtherUser.Photo)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "hey", c.LastMessage.Content)
	assert.Equal(t, int64(1709287200000), c.LastMessage.CreatedAt)
	assert.Equal(t, 3, c.UnreadCount)
}

func TestConversation_HasOtherUser(t *testing.T) {
	tests := []struct {
		name string
		conv *Conversation
		want bool
	}{
		{"nil conversation", nil, false},
		{"nil other user", &Conversation{ConversationID: "a_b"}, false},
		{"empty id", &Conversation{OtherUser: &OtherUser{Name: "x"}}, false},
		{"valid", &Conversation{OtherUser: &OtherUser{ID: "b"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conv.HasOtherUser())
		})
	}
}

func TestConversation_Normalize(t *testing.T) {
	c := Conversation{UnreadCount: -2}
	c.Normalize(1000)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, int64(1000), c.UpdatedAt)
	assert.Equal(t, int64(1000), c.LastMessageAt)

	withMsg := Conversation{LastMessage: &LastMessage{Content: "x", CreatedAt: 500}, UpdatedAt: 10}
	withMsg.Normalize(1000)
	assert.Equal(t, int64(500), withMsg.LastMessageAt)
	assert.Equal(t, int64(10), withMsg.UpdatedAt)
}

func TestConversation_MarshalJSON(t *testing.T) {
	c := Conversation{
		ConversationID: "u1_u2",
		OtherUser:      &OtherUser{ID: "u2", Name: "Sam"},
		UnreadCount:    1,
		LastMessageAt:  1709287200000,
	}

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["lastMessage"])
	other := decoded["otherUser"].(map[string]interface{})
	assert.Equal(t, "u2", other["_id"])
	assert.Equal(t, []interface{}{}, other["photos"])
}

func TestMatch_UnmarshalJSON(t *testing.T) {
	payload := `[
		{"matchId":"x1","conversationId":"u1_u2","status":"pending","isInitiator":false,"user":{"_id":"u2","name":"Sam","image":"s.jpg"}},
		{"_id":"x2","status":"active","isInitiator":true,"user":{"_id":"u3"}},
		{"matchId":"x3","status":"pending","user":null}
	]`

	var matches []Match
	require.NoError(t, json.Unmarshal([]byte(payload), &matches))
	require.Len(t, matches, 3)

	assert.Equal(t, "x1", matches[0].MatchID)
	assert.True(t, matches[0].Valid())
	assert.True(t, matches[0].LikesYou())
	assert.Equal(t, "s.jpg", matches[0].User.Photo)

	assert.Equal(t, "x2", matches[1].MatchID)
	assert.False(t, matches[1].LikesYou())

	assert.False(t, matches[2].Valid())
}

func TestFlexibleTime_Number(t *testing.T) {
	var ft FlexibleTime
	require.NoError(t, json.Unmarshal([]byte(`1.7e12`), &ft))
	assert.Equal(t, FlexibleTime(1700000000000), ft)

	require.NoError(t, json.Unmarshal([]byte(`null`), &ft))
	assert.Equal(t, FlexibleTime(0), ft)
}
