// Package store defines the boundary to the external key-value and
// publish/subscribe service shared by every chat server process.
//
// Two implementations are provided: Redis, used in production, and Memory,
// an in-process equivalent for single-node development and tests.
package store

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the backing service could not be reached.
var ErrUnavailable = errors.New("store unavailable")

// Handler receives the raw payload of a message published on a channel.
type Handler func(payload []byte)

// Subscription is an active listener on a single channel.
type Subscription interface {
	Channel() string
	Close() error
}

// Store is the set of list, set and pub/sub primitives the chat engine
// relies on. Implementations must be safe for concurrent use.
type Store interface {
	// PushTrim prepends value to the list at key and truncates the list to
	// its first max entries as a single atomic operation. It returns the
	// list length after trimming.
	PushTrim(ctx context.Context, key string, value []byte, max int) (int, error)

	// Range returns up to limit entries starting at offset from the head of
	// the list at key, together with the total list length observed in the
	// same atomic read.
	Range(ctx context.Context, key string, offset, limit int) ([]string, int, error)

	// AddMember adds member to the set at key and reports whether it was
	// not already present.
	AddMember(ctx context.Context, key, member string) (bool, error)

	// Members returns every member of the set at key in no particular order.
	Members(ctx context.Context, key string) ([]string, error)

	// Publish sends payload to every subscriber of channel, cluster-wide.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe attaches handler to channel. ctx bounds only the setup of
	// the subscription; delivery continues until Close is called. Handler
	// invocations for one subscription are sequential and follow publish
	// order.
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)

	// Flush removes every key held by the store.
	Flush(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}
