// Package server defines the event envelope exchanged over websocket
// connections and utility helpers that are reused across client and hub
// logic.
package server

import (
	"encoding/json"
	"strings"
)

// Inbound event names.
const (
	EventRegisterUser   = "registerUser"
	EventCreateRoom     = "createRoom"
	EventJoinRoom       = "joinRoom"
	EventMessage        = "message"
	EventPrivateMessage = "privateMessage"
	EventTyping         = "typing"
	EventLoadMessages   = "loadMessages"
)

// Envelope is the JSON frame carried by every websocket text message in
// both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeEvent builds the wire frame for an outbound event.
func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// decodeEnvelope parses an inbound frame.
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	env.Event = strings.TrimSpace(env.Event)
	return env, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
