package chat

import (
	"sync"
)

type emitted struct {
	Event   string
	Payload any
}

// recorder is an in-memory Transport that records what each connection
// would have been sent.
type recorder struct {
	mu        sync.Mutex
	conns     map[string]struct{}
	rooms     map[string]map[string]struct{}
	events    map[string][]emitted
	broadcast []emitted
}

func newRecorder(connIDs ...string) *recorder {
	r := &recorder{
		conns:  make(map[string]struct{}),
		rooms:  make(map[string]map[string]struct{}),
		events: make(map[string][]emitted),
	}
	for _, id := range connIDs {
		r.conns[id] = struct{}{}
	}
	return r
}

func (r *recorder) connect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = struct{}{}
}

func (r *recorder) Emit(connID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return
	}
	r.events[connID] = append(r.events[connID], emitted{Event: event, Payload: payload})
}

func (r *recorder) EmitToRoom(room, event string, payload any, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.rooms[room] {
		if connID == except {
			continue
		}
		r.events[connID] = append(r.events[connID], emitted{Event: event, Payload: payload})
	}
}

func (r *recorder) EmitToAll(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast = append(r.broadcast, emitted{Event: event, Payload: payload})
	for connID := range r.conns {
		r.events[connID] = append(r.events[connID], emitted{Event: event, Payload: payload})
	}
}

func (r *recorder) JoinRoom(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][connID] = struct{}{}
}

// of returns the events of the given name sent to connID.
func (r *recorder) of(connID, event string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []emitted
	for _, e := range r.events[connID] {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) broadcasts(event string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []emitted
	for _, e := range r.broadcast {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) messages(connID string) []Message {
	var out []Message
	for _, e := range r.of(connID, EventMessage) {
		out = append(out, e.Payload.(Message))
	}
	return out
}

func (r *recorder) lastPage(connID string) (Page, bool) {
	pages := r.of(connID, EventPreviousMessages)
	if len(pages) == 0 {
		return Page{}, false
	}
	return pages[len(pages)-1].Payload.(Page), true
}
