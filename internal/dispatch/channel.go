// Package dispatch contains the transport-agnostic send path: the channel
// abstraction, the circuit breaker guarding it, and the retrying invoker
// that drives individual calls.
package dispatch

import (
	"context"

	"github.com/zapline/zapline/internal/crm"
)

// Channel is the abstract outbound messaging transport. Implementations
// report connectivity and send text or media to a destination, returning
// the provider's message identifier on acceptance.
type Channel interface {
	// Connected reports whether the transport session is usable right now
	Connected() bool

	// SendText sends a text message and returns the provider message ID
	SendText(ctx context.Context, to, text string) (string, error)

	// SendMedia sends a media item by URL and returns the provider
	// message ID
	SendMedia(ctx context.Context, to, url string, kind crm.MediaKind) (string, error)
}
