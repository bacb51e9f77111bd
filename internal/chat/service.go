// Package chat implements the room broadcast and presence engine: session
// tracking, the cluster-wide room directory, bounded room history, the
// cross-process fan-out bridge, message routing and typing presence.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomcast/internal/store"
)

// DefaultPageSize is the number of history entries sent when a request
// does not say how many it wants.
const DefaultPageSize = 10

// JoinRequest is the payload of a joinRoom event.
type JoinRequest struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

// LoadRequest is the payload of a loadMessages event.
type LoadRequest struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

// PublicRequest is the payload of an inbound message event.
type PublicRequest struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// PrivateRequest is the payload of a privateMessage event.
type PrivateRequest struct {
	Room    string `json:"room"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// TypingRequest is the payload of an inbound typing event.
type TypingRequest struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// Options tunes a Service.
type Options struct {
	HistoryLimit int
	PageSize     int
	Clock        *Clock
	Logger       zerolog.Logger
}

// Service is the entry point of the engine. One Service is built at startup
// and shared by every connection; all methods are safe for concurrent use.
//
// The display name acting on a request is always the one registered for
// the connection. Name fields in payloads are accepted but not trusted.
type Service struct {
	sessions *Registry
	rooms    *Directory
	history  *History
	bridge   *Bridge
	router   *Router
	presence *Presence
	out      Transport
	pageSize int
	log      zerolog.Logger

	roomsSub store.Subscription
}

// NewService wires the engine components around st and out.
func NewService(st store.Store, out Transport, opts Options) *Service {
	logger := opts.Logger.With().Str("component", "chat").Logger()
	clock := opts.Clock
	if clock == nil {
		clock = NewClock()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	sessions := NewRegistry()
	history := NewHistory(st, opts.HistoryLimit, logger)
	if pageSize > history.Limit() {
		pageSize = history.Limit()
	}
	bridge := NewBridge(st, out, sessions, logger)

	return &Service{
		sessions: sessions,
		rooms:    NewDirectory(st, logger),
		history:  history,
		bridge:   bridge,
		router: &Router{
			history:  history,
			bridge:   bridge,
			sessions: sessions,
			out:      out,
			clock:    clock,
			log:      logger,
		},
		presence: &Presence{sessions: sessions, out: out},
		out:      out,
		pageSize: pageSize,
		log:      logger,
	}
}

// Start subscribes to cluster-wide room list updates. It must be called
// before connections are accepted.
func (s *Service) Start(ctx context.Context) error {
	sub, err := s.rooms.Watch(ctx, func(names []string) {
		s.out.EmitToAll(EventRoomsList, names)
	})
	if err != nil {
		return err
	}
	s.roomsSub = sub
	return nil
}

// Close releases every store subscription held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.roomsSub != nil {
		errs = append(errs, s.roomsSub.Close())
	}
	errs = append(errs, s.bridge.Close())
	return errors.Join(errs...)
}

// Sessions exposes the session registry.
func (s *Service) Sessions() *Registry {
	return s.sessions
}

// Register binds connID to name and sends it the current room list.
func (s *Service) Register(ctx context.Context, connID, name string) error {
	if err := s.sessions.Register(connID, name); err != nil {
		return err
	}

	names, err := s.rooms.Snapshot(ctx)
	if err != nil {
		return err
	}
	s.out.Emit(connID, EventRoomsList, names)

	s.log.Info().Str("conn", connID).Str("user", strings.TrimSpace(name)).Msg("session registered")
	return nil
}

// CreateRoom adds room to the directory. Every connection in the cluster
// is sent the new room list when the room did not exist yet.
func (s *Service) CreateRoom(ctx context.Context, connID, room string) error {
	if strings.TrimSpace(room) == "" {
		return ignored("Room name is required.")
	}
	if _, ok := s.sessions.Lookup(connID); !ok {
		return unauthorized("You must be logged in to create a room.")
	}

	_, err := s.rooms.Ensure(ctx, room)
	return err
}

// JoinRoom adds connID to room, makes sure this process relays the room's
// channel and sends the first page of history. The view is reset before
// the subscription is made, so a message is sent either live or in the
// page, never both.
func (s *Service) JoinRoom(ctx context.Context, connID string, req JoinRequest) error {
	room := strings.TrimSpace(req.Room)
	if room == "" {
		return ignored("Room name is required.")
	}
	name, ok := s.sessions.Lookup(connID)
	if !ok {
		return unauthorized("You must be logged in to join a room.")
	}

	if _, err := s.rooms.Ensure(ctx, room); err != nil {
		return err
	}
	s.out.JoinRoom(connID, room)
	s.sessions.joinRoom(connID, room)
	if err := s.bridge.Join(ctx, room); err != nil {
		return err
	}

	return s.sendPage(ctx, connID, name, room, req.Offset, req.Limit, false)
}

// LoadMessages sends an older page of room history to connID. Entries the
// connection was already sent for this room are left out.
func (s *Service) LoadMessages(ctx context.Context, connID string, req LoadRequest) error {
	room := strings.TrimSpace(req.Room)
	if room == "" {
		return ignored("Room name is required.")
	}
	name, ok := s.sessions.Lookup(connID)
	if !ok {
		return unauthorized("You must be logged in to load messages.")
	}

	return s.sendPage(ctx, connID, name, room, req.Offset, req.Limit, true)
}

// SendMessage posts a public message to a room on behalf of connID.
func (s *Service) SendMessage(ctx context.Context, connID string, req PublicRequest) error {
	name, ok := s.sessions.Lookup(connID)
	if !ok {
		if strings.TrimSpace(req.Room) == "" || strings.TrimSpace(req.Message) == "" {
			return ignored("Room and message are required.")
		}
		return unauthorized("You must be logged in to send messages.")
	}

	_, err := s.router.SendPublic(ctx, req.Room, name, req.Message)
	return err
}

// SendPrivate posts a direct message on behalf of connID.
func (s *Service) SendPrivate(ctx context.Context, connID string, req PrivateRequest) error {
	if strings.TrimSpace(req.Room) == "" {
		return invalid("Room is required for private messages.")
	}
	name, ok := s.sessions.Lookup(connID)
	if !ok {
		return unauthorized("You must be logged in to send messages.")
	}

	_, err := s.router.SendPrivate(ctx, req.Room, name, req.To, req.Message)
	return err
}

// Typing notifies the other members of a room that connID is typing.
func (s *Service) Typing(connID string, req TypingRequest) error {
	return s.presence.NotifyTyping(connID, req.Room)
}

// Disconnect forgets the session of connID. In-flight requests of the
// connection may still finish; their replies are dropped by the transport.
func (s *Service) Disconnect(connID string) {
	name, ok := s.sessions.Lookup(connID)
	s.sessions.Remove(connID)
	if ok {
		s.log.Info().Str("conn", connID).Str("user", name).Msg("session removed")
	}
}

func (s *Service) sendPage(ctx context.Context, connID, user, room string, offset, limit int, prepend bool) error {
	if limit <= 0 {
		limit = s.pageSize
	}

	page, err := s.history.Read(ctx, room, user, offset, limit)
	if err != nil {
		return err
	}
	page.Messages = s.sessions.unseen(connID, room, page.Messages)
	page.Prepend = prepend

	s.out.Emit(connID, EventPreviousMessages, page)
	return nil
}
