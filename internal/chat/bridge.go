package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Tyrowin/roomcast/internal/store"
)

func channelFor(room string) string {
	return "channel:" + room
}

// Bridge relays room messages between server processes. Each process holds
// at most one subscription per room, opened on the first local join and
// kept for the lifetime of the process.
type Bridge struct {
	store    store.Store
	out      Transport
	sessions *Registry
	log      zerolog.Logger

	mu    sync.RWMutex
	subs  map[string]store.Subscription
	group singleflight.Group
}

// NewBridge returns a Bridge that delivers inbound messages through out.
// Deliveries are recorded in sessions so history pages do not repeat them.
func NewBridge(st store.Store, out Transport, sessions *Registry, logger zerolog.Logger) *Bridge {
	return &Bridge{
		store:    st,
		out:      out,
		sessions: sessions,
		log:      logger,
		subs:     make(map[string]store.Subscription),
	}
}

// Join makes sure this process is subscribed to room's channel. Concurrent
// joins of the same room share a single subscribe call; joins of other
// rooms are not held up by it.
func (b *Bridge) Join(ctx context.Context, room string) error {
	if b.Subscribed(room) {
		return nil
	}

	_, err, _ := b.group.Do(room, func() (any, error) {
		if b.Subscribed(room) {
			return nil, nil
		}

		sub, err := b.store.Subscribe(ctx, channelFor(room), func(payload []byte) {
			b.deliver(room, payload)
		})
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.subs[room] = sub
		b.mu.Unlock()

		b.log.Info().Str("room", room).Str("channel", sub.Channel()).Msg("bridge subscribed")
		return nil, nil
	})
	if err != nil {
		return storeFailure("subscribe room", err)
	}
	return nil
}

// Subscribed reports whether this process already listens on room.
func (b *Bridge) Subscribed(room string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[room]
	return ok
}

// Publish sends msg to every process subscribed to room, this one
// included.
func (b *Bridge) Publish(ctx context.Context, room string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return &Error{Kind: KindSerialization, Message: "Message could not be encoded.", Err: err}
	}
	if err := b.store.Publish(ctx, channelFor(room), data); err != nil {
		return storeFailure("publish message", err)
	}
	return nil
}

func (b *Bridge) deliver(room string, payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warn().Err(err).Str("room", room).Msg("dropping malformed published message")
		return
	}
	if !msg.valid() {
		b.log.Warn().Str("room", room).Str("type", string(msg.Type)).Msg("dropping incomplete published message")
		return
	}

	fresh, all := b.sessions.deliverToRoom(room, msg.Timestamp)
	if all {
		b.out.EmitToRoom(room, EventMessage, msg, "")
		return
	}
	for _, connID := range fresh {
		b.out.Emit(connID, EventMessage, msg)
	}
}

// Close ends every room subscription.
func (b *Bridge) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]store.Subscription)
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
