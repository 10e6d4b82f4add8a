// Package client implements the client Role: it originates requests on
// supervisor command and logs whatever response comes back. Clients have
// no server-side state of their own (SPEC_FULL.md names only communication
// and content server roles; a client is the thin, stateless counterpart
// that every `send_request` injection ultimately talks to).
package client

import (
	"log/slog"

	"github.com/sourcerouted/overlay/internal/message"
	"github.com/sourcerouted/overlay/internal/role"
	"github.com/sourcerouted/overlay/internal/wire"
)

// Role is the client-side counterpart: it never serves a request, only
// originates one (via HandleControlMessage) and observes the response.
type Role struct {
	log *slog.Logger
}

var _ role.Role = (*Role)(nil)

// New returns a client Role that logs under the given logger.
func New(logger *slog.Logger) *Role {
	if logger == nil {
		logger = slog.Default()
	}
	return &Role{log: logger.WithGroup("client")}
}

func (r *Role) Kind() wire.NodeKind { return wire.KindClient }
func (r *Role) KindLabel() string   { return "client" }

// HandleMessage only ever sees responses to requests this client
// originated; it logs them and never replies.
func (r *Role) HandleMessage(peer uint8, msg message.Message) (message.Message, bool) {
	if msg.IsResponse() {
		r.log.Info("received response", "peer", peer, "tag", msg.Tag)
	} else {
		r.log.Warn("dropping unexpected request at client", "peer", peer, "tag", msg.Tag)
	}
	return message.Message{}, false
}

// HandleControlMessage relays a supervisor-injected request verbatim to
// the named peer.
func (r *Role) HandleControlMessage(ctrl role.ControlMessage) (role.Outbound, bool) {
	return role.Outbound{Peer: ctrl.Peer, Message: ctrl.Request}, true
}

func (r *Role) Stop() {}
