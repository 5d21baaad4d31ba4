package models

import "encoding/json"

type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusActive    MatchStatus = "active"
	MatchStatusUnmatched MatchStatus = "unmatched"
)

// Match is a remote match document as returned by /matches/my-matches
// and carried by new_match events.
type Match struct {
	MatchID        string      `json:"matchId"`
	ConversationID string      `json:"conversationId"`
	Status         MatchStatus `json:"status"`
	IsInitiator    bool        `json:"isInitiator"`
	User           *OtherUser  `json:"user"`
}

// Valid reports whether the match names a user
func (m *Match) Valid() bool {
	return m != nil && m.User != nil && m.User.ID != ""
}

// LikesYou is a pending match that someone else started
func (m *Match) LikesYou() bool {
	return m.Status == MatchStatusPending && !m.IsInitiator
}

func (m *Match) UnmarshalJSON(data []byte) error {
	type alias Match
	var raw struct {
		alias
		UnderscoreID FlexibleID `json:"_id"`
		MatchID      FlexibleID `json:"matchId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Match(raw.alias)
	m.MatchID = string(raw.MatchID)
	if m.MatchID == "" {
		m.MatchID = string(raw.UnderscoreID)
	}
	return nil
}
