package chat

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomcast/internal/store"
)

const (
	roomsKey     = "rooms"
	roomsChannel = "rooms:events"

	snapshotTimeout = 2 * time.Second
)

// Directory is the cluster-wide set of known room names.
type Directory struct {
	store store.Store
	log   zerolog.Logger
}

// NewDirectory returns a Directory backed by st.
func NewDirectory(st store.Store, logger zerolog.Logger) *Directory {
	return &Directory{store: st, log: logger}
}

// Ensure adds room to the directory. When the name is new cluster-wide the
// updated list is published to every server process. It reports whether
// the room was created by this call.
func (d *Directory) Ensure(ctx context.Context, room string) (bool, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return false, ignored("Room name is required.")
	}

	added, err := d.store.AddMember(ctx, roomsKey, room)
	if err != nil {
		return false, storeFailure("add room", err)
	}
	if !added {
		return false, nil
	}

	names, err := d.Snapshot(ctx)
	if err != nil {
		return true, err
	}
	payload, err := json.Marshal(names)
	if err != nil {
		return true, &Error{Kind: KindSerialization, Message: "Room list could not be encoded.", Err: err}
	}
	if err := d.store.Publish(ctx, roomsChannel, payload); err != nil {
		return true, storeFailure("publish rooms", err)
	}

	d.log.Info().Str("room", room).Int("rooms", len(names)).Msg("room created")
	return true, nil
}

// Snapshot returns the known room names in lexical order.
func (d *Directory) Snapshot(ctx context.Context) ([]string, error) {
	names, err := d.store.Members(ctx, roomsKey)
	if err != nil {
		return nil, storeFailure("list rooms", err)
	}
	sort.Strings(names)
	return names, nil
}

// Watch calls fn with the current room list each time a room is published,
// until the returned subscription is closed. The list is re-read from the
// store so that publications arriving out of order never regress it; the
// published payload is used only when the store cannot be read.
func (d *Directory) Watch(ctx context.Context, fn func(names []string)) (store.Subscription, error) {
	sub, err := d.store.Subscribe(ctx, roomsChannel, func(payload []byte) {
		readCtx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()

		names, err := d.Snapshot(readCtx)
		if err == nil {
			fn(names)
			return
		}
		d.log.Warn().Err(err).Msg("re-reading room list failed; using published list")

		if err := json.Unmarshal(payload, &names); err != nil {
			d.log.Warn().Err(err).Str("channel", roomsChannel).Msg("dropping malformed room list")
			return
		}
		fn(names)
	})
	if err != nil {
		return nil, storeFailure("watch rooms", err)
	}
	return sub, nil
}
