package chat

// Outbound event names.
const (
	EventRoomsList        = "roomsList"
	EventMessage          = "message"
	EventPreviousMessages = "previousMessages"
	EventTyping           = "typing"
	EventError            = "error"
)

// Transport delivers events to connections held by this process. Group
// membership lives in the transport; the engine never scans connections
// itself. Implementations must not block on slow receivers.
type Transport interface {
	// Emit sends an event to a single connection. Unknown connections are
	// ignored.
	Emit(connID, event string, payload any)

	// EmitToRoom sends an event to every local connection that joined room,
	// except exceptConnID when it is non-empty.
	EmitToRoom(room, event string, payload any, exceptConnID string)

	// EmitToAll sends an event to every local connection.
	EmitToAll(event string, payload any)

	// JoinRoom adds connID to the delivery group of room.
	JoinRoom(connID, room string)
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}
