// Package role defines the pluggable application-behavior contract that a
// node's event loop dispatches into: handle_message, handle_control_message,
// stop, node_kind — expressed as a Go interface rather than a sum type,
// per SPEC_FULL.md §9's "Role polymorphism" design note.
package role

import (
	"github.com/sourcerouted/overlay/internal/message"
	"github.com/sourcerouted/overlay/internal/wire"
)

// ControlMessage is a supervisor-injected instruction delivered to a role,
// e.g. "send this Request to peer".
type ControlMessage struct {
	Peer    uint8
	Request message.Message
}

// Outbound is what a role yields in response to a ControlMessage: a
// message bound for peer, optionally reusing an existing session (when
// responding rather than initiating).
type Outbound struct {
	Peer    uint8
	Session *uint64
	Message message.Message
}

// Role is the application behavior attached to a node. Implementations
// MUST NOT block: they do small synchronous work and return, since the
// node loop calls them inline (SPEC_FULL.md §5).
type Role interface {
	// Kind reports this role's NodeKind, carried in flood traces.
	Kind() wire.NodeKind
	// KindLabel is a human-readable name for logging.
	KindLabel() string
	// HandleMessage dispatches a reassembled application message from
	// peer. It returns a response to send back (reusing the inbound
	// session) and whether one should be sent.
	HandleMessage(peer uint8, msg message.Message) (message.Message, bool)
	// HandleControlMessage dispatches a supervisor-injected instruction.
	// It returns an Outbound to fragment and enqueue, if any.
	HandleControlMessage(ctrl ControlMessage) (Outbound, bool)
	// Stop flushes any in-memory state to disk and releases resources.
	Stop()
}
