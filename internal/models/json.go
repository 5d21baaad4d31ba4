package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexibleID accepts either a bare id string or a populated document
// carrying "_id" or "id".
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	case '{':
		var doc struct {
			UnderscoreID string `json:"_id"`
			ID           string `json:"id"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		if doc.UnderscoreID != "" {
			*f = FlexibleID(doc.UnderscoreID)
		} else {
			*f = FlexibleID(doc.ID)
		}
		return nil
	default:
		// numeric ids from older payloads
		*f = FlexibleID(string(data))
		return nil
	}
}

// FlexibleTime accepts RFC 3339 text or epoch milliseconds and holds
// epoch milliseconds.
type FlexibleTime int64

func (f *FlexibleTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			*f = FlexibleTime(ms)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*f = FlexibleTime(t.UnixMilli())
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(data), err)
	}
	if ms, err := n.Int64(); err == nil {
		*f = FlexibleTime(ms)
		return nil
	}
	fl, err := n.Float64()
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(data), err)
	}
	*f = FlexibleTime(int64(fl))
	return nil
}

// FlexibleText accepts a string, or a document or array that wraps the
// text under content, text or message. Nesting is followed a few levels deep.
type FlexibleText string

const maxTextDepth = 3

func (f *FlexibleText) UnmarshalJSON(data []byte) error {
	*f = FlexibleText(extractText(data, 0))
	return nil
}

func extractText(data []byte, depth int) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || depth > maxTextDepth {
		return ""
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return s
	case '{':
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return ""
		}
		for _, key := range []string{"content", "text", "message"} {
			if raw, ok := doc[key]; ok {
				if s := extractText(raw, depth+1); s != "" {
					return s
				}
			}
		}
		return ""
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return ""
		}
		var parts []string
		for _, item := range items {
			if s := extractText(item, depth+1); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case 'n':
		return ""
	default:
		return string(data)
	}
}

// FormatMillis renders epoch milliseconds the way the chat service does.
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// NowMillis returns the current time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
