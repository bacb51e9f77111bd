// Package server implements the HTTP and WebSocket edge of roomcast.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, frame dispatch, routing, and HTTP handlers. The
// chat semantics themselves live in package chat; this package only moves
// frames between sockets and the chat.Service.
package server
