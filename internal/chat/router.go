package chat

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Router validates outgoing messages, records them in history and hands
// them to the right delivery path.
type Router struct {
	history  *History
	bridge   *Bridge
	sessions *Registry
	out      Transport
	clock    *Clock
	log      zerolog.Logger
}

// SendPublic records a room message and publishes it through the bridge.
// Local members, the sender included, receive it from the bridge's own
// subscription.
func (r *Router) SendPublic(ctx context.Context, room, sender, body string) (Message, error) {
	room = strings.TrimSpace(room)
	if room == "" || strings.TrimSpace(sender) == "" || strings.TrimSpace(body) == "" {
		return Message{}, ignored("Room, username and message are required.")
	}
	if !r.sessions.Online(sender) {
		return Message{}, unauthorized("You must be logged in to send messages.")
	}

	msg := Message{
		Type:      Public,
		Username:  sender,
		Body:      body,
		Timestamp: r.clock.Next(),
	}

	if err := r.history.Append(ctx, room, msg); err != nil {
		return Message{}, err
	}
	if err := r.bridge.Publish(ctx, room, msg); err != nil {
		return Message{}, err
	}

	r.log.Debug().Str("room", room).Str("from", sender).Str("timestamp", msg.Timestamp).Msg("public message sent")
	return msg, nil
}

// SendPrivate records a direct message under room and delivers it to every
// local connection of both sender and recipient. Connections of either
// user held by other processes are not reached.
func (r *Router) SendPrivate(ctx context.Context, room, from, to, body string) (Message, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return Message{}, invalid("Room is required for private messages.")
	}
	to = strings.TrimSpace(to)
	if strings.TrimSpace(from) == "" || to == "" || strings.TrimSpace(body) == "" {
		return Message{}, ignored("Sender, recipient and message are required.")
	}
	if !r.sessions.Online(from) {
		return Message{}, unauthorized("You must be logged in to send messages.")
	}

	msg := Message{
		Type:      Private,
		From:      from,
		To:        to,
		Body:      body,
		Timestamp: r.clock.Next(),
	}

	if err := r.history.Append(ctx, room, msg); err != nil {
		return Message{}, err
	}

	targets := r.sessions.deliverTo(room, msg.Timestamp, r.sessions.Connections(to, from))
	for _, connID := range targets {
		r.out.Emit(connID, EventMessage, msg)
	}

	r.log.Debug().Str("room", room).Str("from", from).Str("to", to).Int("connections", len(targets)).Msg("private message sent")
	return msg, nil
}
