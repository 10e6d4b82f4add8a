// Package link abstracts the neighbor channel a node's send-queue worker
// delivers packets through. The default, in-process Link (chanlink) is
// what the core node/discovery/routing/sendqueue machinery uses in the
// simulated topology; mqttlink and seriallink are alternate bridges for
// running nodes across processes or onto physical hardware.
package link

import "github.com/sourcerouted/overlay/internal/wire"

// Link is a bidirectional neighbor connection: Send pushes an outbound
// packet, and Inbound exposes a channel of packets arriving from the peer.
type Link interface {
	Send(p *wire.Packet) error
	Inbound() <-chan *wire.Packet
	Close() error
}
