// Package server coordinates client registration, room membership, event
// delivery, and connection cleanup for the websocket transport via the Hub
// type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hub tracks every websocket connection held by this process and the rooms
// each one joined. It implements chat.Transport: deliveries never block on
// a slow client, whose connection is dropped instead once its buffer fills.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        zerolog.Logger
}

// NewHub creates and initializes a new Hub instance with all necessary
// channels and maps. The returned Hub is ready to manage connections once
// Run is started.
func NewHub(logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logger.With().Str("component", "hub").Logger(),
	}
}

// Register hands a new client to the hub, which starts its pumps. It
// returns false when the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client. It never blocks once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Context is cancelled when the hub shuts down.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of local connections that joined room.
func (h *Hub) RoomSize(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn().Msg("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.log.Info().Str("conn", client.id).Str("addr", client.addr).Int("clients", clientCount).Msg("client registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			if h.detach(client) {
				// Close the channel after releasing the lock
				close(client.send)
				h.log.Info().Str("conn", client.id).Str("addr", client.addr).Int("clients", h.ClientCount()).Msg("client unregistered")
			}
		}
	}
}

// detach removes client from every map and marks it closed. It reports
// whether the client was still registered.
func (h *Hub) detach(client *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if current, ok := h.clients[client.id]; !ok || current != client {
		return false
	}
	delete(h.clients, client.id)
	for room, members := range h.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.closed = true
	return true
}

// Emit sends an event to one connection.
func (h *Hub) Emit(connID, event string, payload any) {
	h.mutex.RLock()
	client, ok := h.clients[connID]
	h.mutex.RUnlock()
	if !ok {
		return
	}

	h.deliver([]*Client{client}, event, payload)
}

// EmitToRoom sends an event to every local member of room except the
// connection identified by exceptConnID.
func (h *Hub) EmitToRoom(room, event string, payload any, exceptConnID string) {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.rooms[room]))
	for client := range h.rooms[room] {
		if exceptConnID != "" && client.id == exceptConnID {
			continue
		}
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	h.deliver(clients, event, payload)
}

// EmitToAll sends an event to every connection.
func (h *Hub) EmitToAll(event string, payload any) {
	h.deliver(h.getClientSnapshot(), event, payload)
}

// JoinRoom adds a connection to the delivery group of room.
func (h *Hub) JoinRoom(connID, room string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
}

func (h *Hub) deliver(clients []*Client, event string, payload any) {
	if len(clients) == 0 {
		return
	}

	message, err := encodeEvent(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}

	h.log.Debug().Str("event", event).Int("clients", len(clients)).Msg("delivering event")
	clientsToRemove := h.broadcastToClients(clients, message)
	h.removeFailedClients(clientsToRemove)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	if current, exists := h.clients[client.id]; !exists || current != client || client.closed {
		return true
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// broadcastToClients sends the message to every client and returns the ones
// whose buffers are full
func (h *Hub) broadcastToClients(clients []*Client, message []byte) []*Client {
	var clientsToRemove []*Client

	for _, client := range clients {
		if !h.safeSend(client, message) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	return clientsToRemove
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	for _, client := range clientsToRemove {
		if h.detach(client) {
			close(client.send)
			h.log.Warn().Str("conn", client.id).Str("addr", client.addr).Msg("client removed due to full send buffer")
		}
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info().Msg("shutting down all client connections")

	clients := h.getClientSnapshot()

	for _, client := range clients {
		if h.detach(client) {
			close(client.send)
		}
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Warn().Err(err).Str("conn", client.id).Msg("error closing client connection")
				}
			}
		}
	}

	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
