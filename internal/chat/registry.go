package chat

import (
	"sort"
	"strings"
	"sync"
)

// maxSeenPerRoom caps the history view kept for one connection in one room.
// Once exceeded the view starts over and the client may see repeats.
const maxSeenPerRoom = 1024

type session struct {
	name  string
	rooms map[string]struct{}
	seen  map[string]map[string]struct{}
}

// Registry maps live connections to display names. A display name may be
// held by several connections at once. It also tracks which rooms each
// connection joined and which messages of those rooms it was sent, either
// live or in a history page.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	byName   map[string]map[string]struct{}
	members  map[string]map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		byName:   make(map[string]map[string]struct{}),
		members:  make(map[string]map[string]struct{}),
	}
}

// Register binds connID to name. Registering again under a different name
// replaces the previous binding and clears the connection's history views.
// Joined rooms are kept.
func (r *Registry) Register(connID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ignored("Display name is required.")
	}
	if connID == "" {
		return invalid("Connection is not identified.")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make(map[string]struct{})
	if prev, ok := r.sessions[connID]; ok {
		if prev.name == name {
			return nil
		}
		r.unindex(connID, prev.name)
		rooms = prev.rooms
	}

	r.sessions[connID] = &session{name: name, rooms: rooms, seen: make(map[string]map[string]struct{})}
	if r.byName[name] == nil {
		r.byName[name] = make(map[string]struct{})
	}
	r.byName[name][connID] = struct{}{}
	return nil
}

// Lookup returns the display name registered for connID.
func (r *Registry) Lookup(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connID]
	if !ok {
		return "", false
	}
	return s.name, true
}

// Online reports whether at least one local connection is registered as name.
func (r *Registry) Online(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[name]) > 0
}

// Remove forgets connID. It is a no-op for unknown connections.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	delete(r.sessions, connID)
	r.unindex(connID, s.name)
	for room := range s.rooms {
		conns := r.members[room]
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.members, room)
		}
	}
}

// Connections returns every live connection registered under any of names,
// without duplicates and in a stable order.
func (r *Registry) Connections(names ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]struct{})
	for _, name := range names {
		for connID := range r.byName[name] {
			set[connID] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for connID := range set {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// joinRoom records connID as a member of room and starts a fresh view of
// the room's history for it. Unknown connections are ignored.
func (r *Registry) joinRoom(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	s.rooms[room] = struct{}{}
	s.seen[room] = make(map[string]struct{})
	if r.members[room] == nil {
		r.members[room] = make(map[string]struct{})
	}
	r.members[room][connID] = struct{}{}
}

// deliverToRoom records the message stamped ts as sent to every member of
// room. It returns the members that had not been sent it yet; all is true
// when that is every member.
func (r *Registry) deliverToRoom(room, ts string) (fresh []string, all bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all = true
	for connID := range r.members[room] {
		if r.markLocked(connID, room, ts) {
			fresh = append(fresh, connID)
		} else {
			all = false
		}
	}
	sort.Strings(fresh)
	return fresh, all
}

// deliverTo records the message stamped ts as sent to connIDs and returns
// those that had not been sent it yet. Connections that did not join room
// are returned without being recorded.
func (r *Registry) deliverTo(room, ts string, connIDs []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make([]string, 0, len(connIDs))
	for _, connID := range connIDs {
		if _, member := r.members[room][connID]; !member || r.markLocked(connID, room, ts) {
			fresh = append(fresh, connID)
		}
	}
	return fresh
}

// markLocked adds ts to the view of connID in room and reports whether it
// was not there yet. r.mu must be held for writing.
func (r *Registry) markLocked(connID, room, ts string) bool {
	s, ok := r.sessions[connID]
	if !ok {
		return true
	}
	seen := s.seen[room]
	if seen == nil || len(seen) >= maxSeenPerRoom {
		seen = make(map[string]struct{})
		s.seen[room] = seen
	}
	if _, dup := seen[ts]; dup {
		return false
	}
	seen[ts] = struct{}{}
	return true
}

// unseen returns the messages of msgs that connID has not been sent yet and
// records them as sent. Unknown connections get msgs unchanged.
func (r *Registry) unseen(connID, room string, msgs []Message) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return msgs
	}

	seen := s.seen[room]
	if seen == nil || len(seen)+len(msgs) > maxSeenPerRoom {
		seen = make(map[string]struct{}, len(msgs))
		s.seen[room] = seen
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.Timestamp]; dup {
			continue
		}
		seen[m.Timestamp] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (r *Registry) unindex(connID, name string) {
	conns := r.byName[name]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byName, name)
	}
}
