package syncer

import (
	"context"
	"sync"

	"github.com/cairnlog/cairn/internal/wire"
)

// Transport carries one protocol message to a remote peer and returns its
// reply. Implementations own framing, I/O, and timeouts; the syncer only
// sees logical messages.
//
// Send must honor ctx cancellation.
type Transport interface {
	Send(ctx context.Context, msg wire.Message) (wire.Message, error)
}

// LoopbackTransport connects an initiator to a responder Engine in the same
// process. Messages round-trip through the full wire encoding so loopback
// exercises the same serialization path as a network transport.
//
// Used by tests and by the CLI when syncing two local stores.
type LoopbackTransport struct {
	responder *Engine

	mu      sync.Mutex
	session *Session
}

// NewLoopbackTransport creates a transport that delivers messages to the
// given responder engine.
func NewLoopbackTransport(responder *Engine) *LoopbackTransport {
	return &LoopbackTransport{responder: responder}
}

// Send encodes the message, hands it to the responder's session, and
// decodes the reply. The responder session is selected by the SCOPE
// handshake; messages before SCOPE fail.
func (t *LoopbackTransport) Send(ctx context.Context, msg wire.Message) (wire.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := wire.Marshal(msg)
	if err != nil {
		return nil, err
	}
	decoded, err := wire.Unmarshal(data)
	if err != nil {
		return nil, err
	}

	if scope, ok := decoded.(wire.Scope); ok {
		t.mu.Lock()
		t.session = t.responder.sessionFor(scope.NodeID)
		t.mu.Unlock()
	}

	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return nil, &ProtocolError{Code: "not_scoped", Message: "no scope negotiated on this transport"}
	}

	reply, err := session.Handle(ctx, decoded)
	if err != nil {
		return nil, err
	}

	data, err = wire.Marshal(reply)
	if err != nil {
		return nil, err
	}
	return wire.Unmarshal(data)
}
