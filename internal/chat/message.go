package chat

import (
	"sort"
	"strings"
	"time"
)

// MessageType distinguishes room-wide messages from point-to-point ones.
type MessageType string

const (
	Public  MessageType = "public"
	Private MessageType = "private"
)

// Message is a chat message as stored in room history and delivered to
// clients. Timestamp is unique per message and doubles as its identity.
type Message struct {
	Type      MessageType `json:"type"`
	Username  string      `json:"username,omitempty"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Body      string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// Sender returns the display name of the author regardless of type.
func (m Message) Sender() string {
	if m.Type == Private {
		return m.From
	}
	return m.Username
}

// VisibleTo reports whether user may see m in room history.
func (m Message) VisibleTo(user string) bool {
	switch m.Type {
	case Public:
		return true
	case Private:
		return user != "" && (m.From == user || m.To == user)
	default:
		return false
	}
}

// valid reports whether a decoded message carries the fields every
// consumer relies on.
func (m Message) valid() bool {
	if m.Timestamp == "" {
		return false
	}
	switch m.Type {
	case Public:
		return m.Username != ""
	case Private:
		return m.From != "" && m.To != ""
	default:
		return false
	}
}

// SortByTimestamp orders msgs oldest first. Entries whose timestamp cannot
// be parsed sort by their raw string.
func SortByTimestamp(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return timestampLess(msgs[i].Timestamp, msgs[j].Timestamp)
	})
}

func timestampLess(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b) < 0
	}
	return ta.Before(tb)
}

// Dedup drops every message whose timestamp was already seen earlier in
// msgs, keeping the first occurrence.
func Dedup(msgs []Message) []Message {
	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if _, dup := seen[m.Timestamp]; dup {
			continue
		}
		seen[m.Timestamp] = struct{}{}
		out = append(out, m)
	}
	return out
}
