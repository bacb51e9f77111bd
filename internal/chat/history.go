package chat

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomcast/internal/store"
)

// DefaultHistoryLimit is the number of messages retained per room.
const DefaultHistoryLimit = 50

func messagesKey(room string) string {
	return "messages:" + room
}

// Page is one window of room history as handed to a client.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
	Prepend  bool      `json:"prepend"`
}

// History is the bounded per-room message log.
type History struct {
	store store.Store
	limit int
	log   zerolog.Logger
}

// NewHistory returns a History that keeps at most limit messages per room.
func NewHistory(st store.Store, limit int, logger zerolog.Logger) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{store: st, limit: limit, log: logger}
}

// Limit returns the per-room retention bound.
func (h *History) Limit() int {
	return h.limit
}

// Append stores msg as the newest entry of room, evicting the oldest entry
// beyond the retention bound.
func (h *History) Append(ctx context.Context, room string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return &Error{Kind: KindSerialization, Message: "Message could not be encoded.", Err: err}
	}
	if _, err := h.store.PushTrim(ctx, messagesKey(room), data, h.limit); err != nil {
		return storeFailure("append history", err)
	}
	return nil
}

// Read returns up to limit entries of room starting offset entries back
// from the newest, restricted to what user may see, without duplicate
// timestamps and ordered oldest first. HasMore reports whether the store
// holds entries beyond the window.
func (h *History) Read(ctx context.Context, room, user string, offset, limit int) (Page, error) {
	offset, limit = h.clamp(offset, limit)
	if offset >= h.limit {
		return Page{Messages: []Message{}}, nil
	}

	raw, total, err := h.store.Range(ctx, messagesKey(room), offset, limit)
	if err != nil {
		return Page{}, storeFailure("read history", err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, entry := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			h.log.Warn().Err(err).Str("room", room).Msg("skipping malformed history entry")
			continue
		}
		if !msg.valid() || !msg.VisibleTo(user) {
			continue
		}
		msgs = append(msgs, msg)
	}

	msgs = Dedup(msgs)
	SortByTimestamp(msgs)

	return Page{
		Messages: msgs,
		HasMore:  total > offset+limit,
	}, nil
}

func (h *History) clamp(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > h.limit {
		limit = h.limit
	}
	return offset, limit
}
