package chat

import "strings"

// Presence broadcasts ephemeral typing indicators to the other local
// members of a room. Nothing is stored or relayed between processes;
// clients expire an indicator on their own after a few seconds.
type Presence struct {
	sessions *Registry
	out      Transport
}

// NotifyTyping tells the other members of room that connID is typing.
func (p *Presence) NotifyTyping(connID, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return ignored("Room is required.")
	}

	name, ok := p.sessions.Lookup(connID)
	if !ok {
		return &Error{Kind: KindAuthorization, Message: "You must be logged in to type.", Silent: true}
	}

	p.out.EmitToRoom(room, EventTyping, name, connID)
	return nil
}
