package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/store"
)

const eventWait = 2 * time.Second

// stack is a complete server wired to an in-memory store.
type stack struct {
	cfg     *Config
	store   *store.Memory
	hub     *Hub
	service *chat.Service
	handler *Handler
	server  *httptest.Server
}

func newStack(t *testing.T, mutate func(*Config)) *stack {
	t.Helper()

	cfg := NewConfig()
	cfg.Store = StoreBackendMemory
	if mutate != nil {
		mutate(cfg)
	}

	logger := zerolog.Nop()
	st := store.NewMemory(logger)
	hub := NewHub(logger)
	go hub.Run()

	service := chat.NewService(st, hub, chat.Options{
		HistoryLimit: cfg.History.Limit,
		PageSize:     cfg.History.PageSize,
		Logger:       logger,
	})
	require.NoError(t, service.Start(context.Background()))

	handler := NewHandler(hub, NewDispatcher(service, hub, logger), st, cfg, logger)
	ts := httptest.NewServer(SetupRoutes(handler))

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(time.Second)
		_ = service.Close()
		_ = st.Close()
	})

	return &stack{cfg: cfg, store: st, hub: hub, service: service, handler: handler, server: ts}
}

func (s *stack) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
}

func (s *stack) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")

	conn, resp, err := dialer.Dial(s.wsURL(), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := encodeEvent(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// readEvent returns the next frame whose event is want, skipping others.
func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()

	deadline := time.Now().Add(eventWait)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)

		env, err := decodeEnvelope(raw)
		require.NoError(t, err)
		if env.Event == want {
			return env.Data
		}
	}
}

// expectNoEvent fails if a frame with event arrives within wait. It ends
// with a timed out read, after which gorilla/websocket fails every further
// read on conn, so it must be the last read on that connection.
func expectNoEvent(t *testing.T, conn *websocket.Conn, event string, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := decodeEnvelope(raw)
		require.NoError(t, err)
		require.NotEqual(t, event, env.Event, "unexpected %s: %s", event, env.Data)
	}
}

func decodeAs[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

// attach registers a client without a network connection, so tests can
// inspect exactly what the hub queues for it.
func attach(h *Hub) *Client {
	c := &Client{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
		hub:  h,
		log:  zerolog.Nop(),
	}
	h.mutex.Lock()
	h.clients[c.id] = c
	h.mutex.Unlock()
	return c
}

// queued drains every frame currently queued for c.
func queued(t *testing.T, c *Client) []Envelope {
	t.Helper()

	var out []Envelope
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			env, err := decodeEnvelope(raw)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func eventNames(envs []Envelope) []string {
	names := make([]string, 0, len(envs))
	for _, env := range envs {
		names = append(names, env.Event)
	}
	return names
}
