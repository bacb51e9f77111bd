package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomcast/internal/chat"
)

const defaultRequestTimeout = 5 * time.Second

// Dispatcher decodes inbound frames and routes them to the chat service.
// Refused requests are reported to the originating connection only.
type Dispatcher struct {
	service *chat.Service
	out     chat.Transport
	timeout time.Duration
	log     zerolog.Logger
}

// NewDispatcher returns a Dispatcher that answers errors through out.
func NewDispatcher(service *chat.Service, out chat.Transport, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		service: service,
		out:     out,
		timeout: defaultRequestTimeout,
		log:     logger.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch handles one websocket frame received on connID.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		d.log.Warn().Err(err).Str("conn", connID).Msg("dropping malformed frame")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	d.log.Debug().Str("conn", connID).Str("event", env.Event).Msg("event received")
	if err := d.route(ctx, connID, env); err != nil {
		d.reply(connID, env.Event, err)
	}
}

// Disconnect drops the session bound to connID.
func (d *Dispatcher) Disconnect(connID string) {
	d.service.Disconnect(connID)
}

func (d *Dispatcher) route(ctx context.Context, connID string, env Envelope) error {
	switch env.Event {
	case EventRegisterUser:
		var name string
		if err := decodeData(env.Data, &name); err != nil {
			return err
		}
		return d.service.Register(ctx, connID, name)

	case EventCreateRoom:
		var room string
		if err := decodeData(env.Data, &room); err != nil {
			return err
		}
		return d.service.CreateRoom(ctx, connID, room)

	case EventJoinRoom:
		var req chat.JoinRequest
		if err := decodeData(env.Data, &req); err != nil {
			return err
		}
		return d.service.JoinRoom(ctx, connID, req)

	case EventLoadMessages:
		var req chat.LoadRequest
		if err := decodeData(env.Data, &req); err != nil {
			return err
		}
		return d.service.LoadMessages(ctx, connID, req)

	case EventMessage:
		var req chat.PublicRequest
		if err := decodeData(env.Data, &req); err != nil {
			return err
		}
		return d.service.SendMessage(ctx, connID, req)

	case EventPrivateMessage:
		var req chat.PrivateRequest
		if err := decodeData(env.Data, &req); err != nil {
			return err
		}
		return d.service.SendPrivate(ctx, connID, req)

	case EventTyping:
		var req chat.TypingRequest
		if err := decodeData(env.Data, &req); err != nil {
			return err
		}
		return d.service.Typing(connID, req)

	default:
		d.log.Warn().Str("conn", connID).Str("event", env.Event).Msg("ignoring unknown event")
		return nil
	}
}

// decodeData unmarshals an event payload. A missing payload leaves v at
// its zero value so the service applies its own validation.
func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &chat.Error{Kind: chat.KindSerialization, Silent: true, Err: err}
	}
	return nil
}

func (d *Dispatcher) reply(connID, event string, err error) {
	var chatErr *chat.Error
	if !errors.As(err, &chatErr) {
		d.log.Error().Err(err).Str("conn", connID).Str("event", event).Msg("request failed")
		d.out.Emit(connID, chat.EventError, chat.ErrorPayload{Message: "Request could not be completed."})
		return
	}

	logEvent := d.log.Debug()
	switch chatErr.Kind {
	case chat.KindUnavailable:
		logEvent = d.log.Error()
	case chat.KindSerialization:
		logEvent = d.log.Warn()
	}
	logEvent.Err(err).Str("conn", connID).Str("event", event).Bool("silent", chatErr.Silent).Msg("request refused")

	if chatErr.Silent {
		return
	}
	d.out.Emit(connID, chat.EventError, chat.ErrorPayload{Message: chatErr.Message})
}
