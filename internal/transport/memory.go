package transport

import (
	"context"
	"sync"

	"github.com/baileysgo/relaycore/internal/node"
)

// Memory is an in-process Sender that records every stanza handed to it,
// used by relay's integration tests in place of a live connection.
type Memory struct {
	mu    sync.Mutex
	sent  []*node.Node
	onErr error
}

// NewMemory builds a Memory sender. If failWith is non-nil, every
// SendNode call returns it instead of recording the stanza.
func NewMemory(failWith error) *Memory {
	return &Memory{onErr: failWith}
}

func (m *Memory) SendNode(ctx context.Context, n *node.Node) error {
	if m.onErr != nil {
		return m.onErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns every stanza recorded so far.
func (m *Memory) Sent() []*node.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*node.Node, len(m.sent))
	copy(out, m.sent)
	return out
}
