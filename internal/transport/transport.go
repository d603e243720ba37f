// Package transport defines the wire boundary the relay core sends
// finished stanzas across. The actual WebSocket/noise-handshake
// connection to the WhatsApp multi-device edge is out of this module's
// scope (§ Non-goals); Sender is the seam a real connection would plug
// into.
package transport

import (
	"context"

	"github.com/baileysgo/relaycore/internal/node"
)

// Sender delivers a single top-level stanza over the wire.
type Sender interface {
	SendNode(ctx context.Context, n *node.Node) error
}
