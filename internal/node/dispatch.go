package node

import (
	"github.com/sourcerouted/overlay/internal/advert"
	"github.com/sourcerouted/overlay/internal/discovery"
	"github.com/sourcerouted/overlay/internal/envelope"
	"github.com/sourcerouted/overlay/internal/sendqueue"
	"github.com/sourcerouted/overlay/internal/wire"
)

// handlePacket dispatches one inbound packet by pack_type (SPEC_FULL.md §4.5).
func (n *Node) handlePacket(pkt *wire.Packet) {
	switch pkt.Type {
	case wire.PackMsgFragment:
		n.handleFragment(pkt)
	case wire.PackAck:
		n.handleAck(pkt)
	case wire.PackFloodRequest:
		n.handleFloodRequest(pkt)
	case wire.PackFloodResponse:
		if pkt.FloodID == n.disc.FloodID() {
			n.disc.AddResponse(pkt)
		}
	case wire.PackNack:
		n.handleNack(pkt)
	case wire.PackIdentityAdvert:
		if !advert.Install(n.identTable, pkt) {
			n.log.Warn("dropping identity advert with invalid signature", "claimed_node", pkt.AdvertNodeID)
		}
	default:
		n.log.Warn("dropping packet of unknown type", "type", pkt.Type)
	}
}

// senderOf returns the originating node of a packet routed to us: hop 0 of
// its source route, which is always the sender (SPEC_FULL.md §4.5).
func senderOf(pkt *wire.Packet) uint8 {
	if len(pkt.Routing.Hops) == 0 {
		return 0
	}
	return pkt.Routing.Hops[0]
}

func (n *Node) handleFragment(pkt *wire.Packet) {
	peer := senderOf(pkt)

	data, complete, err := n.reasm.AddFragment(peer, pkt)
	if err != nil {
		n.log.Warn("dropping out-of-range fragment", "peer", peer, "session", pkt.SessionID, "error", err)
		return
	}

	ack := &wire.Packet{SessionID: pkt.SessionID, Type: wire.PackAck, AckFragmentIndex: pkt.FragmentIndex}
	n.worker.Duties() <- sendqueue.DutyPacket{Target: peer, Packet: ack}

	if !complete {
		return
	}

	msg, err := envelope.Decode(data, n.sharedSecretWith(peer))
	if err != nil {
		n.log.Warn("dropping undecodable message", "peer", peer, "session", pkt.SessionID, "error", err)
		return
	}

	resp, ok := n.role.HandleMessage(peer, msg)
	if !ok {
		return
	}
	session := pkt.SessionID
	n.sendMessage(peer, &session, resp)
}

func (n *Node) handleAck(pkt *wire.Packet) {
	peer := senderOf(pkt)
	n.worker.Duties() <- sendqueue.DutyAcked{
		Peer:    peer,
		Session: pkt.SessionID,
		Index:   pkt.AckFragmentIndex,
	}
}

func (n *Node) handleFloodRequest(pkt *wire.Packet) {
	resp := discovery.ExtendTrace(pkt, n.self, n.role.Kind())
	n.enqueueFlood(resp)
}

func (n *Node) handleNack(pkt *wire.Packet) {
	switch pkt.Nack {
	case wire.NackUnexpectedRecipient, wire.NackDestinationIsDrone, wire.NackErrorInRouting:
		n.triggerDiscovery()
	case wire.NackDropped:
		// The fragment retransmit mechanism handles this; no action here.
	}
}
