// Package wire defines the source-routed packet format exchanged between
// neighbors and its deterministic, endianness-independent binary codec.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FragmentDSize is the fixed payload width of a single MsgFragment, shared
// by every node and drone in the overlay.
const FragmentDSize = 128

// PackType identifies which variant's fields of Packet are populated.
type PackType uint8

const (
	PackMsgFragment PackType = iota
	PackAck
	PackNack
	PackFloodRequest
	PackFloodResponse
	PackIdentityAdvert
)

func (t PackType) String() string {
	switch t {
	case PackMsgFragment:
		return "MsgFragment"
	case PackAck:
		return "Ack"
	case PackNack:
		return "Nack"
	case PackFloodRequest:
		return "FloodRequest"
	case PackFloodResponse:
		return "FloodResponse"
	case PackIdentityAdvert:
		return "IdentityAdvert"
	default:
		return fmt.Sprintf("PackType(%d)", uint8(t))
	}
}

// NodeKind classifies a node as carried in flood path traces.
type NodeKind uint8

const (
	KindDrone NodeKind = iota
	KindClient
	KindServer
)

func (k NodeKind) String() string {
	switch k {
	case KindDrone:
		return "drone"
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	default:
		return fmt.Sprintf("NodeKind(%d)", uint8(k))
	}
}

// NackType enumerates the structural Nack reasons.
type NackType uint8

const (
	NackUnexpectedRecipient NackType = iota
	NackDestinationIsDrone
	NackErrorInRouting
	NackDropped
)

// RoutingHeader is the full source route carried by every non-flood packet.
// HopIndex points at the next hop to consume; hop 0 is always the sender.
type RoutingHeader struct {
	Hops     []uint8
	HopIndex uint8
}

// NextHop returns the node id the packet should be delivered to next, and
// whether one exists.
func (h RoutingHeader) NextHop() (uint8, bool) {
	if int(h.HopIndex) >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex], true
}

// TraceEntry is one hop recorded in a flood path trace.
type TraceEntry struct {
	NodeID uint8
	Kind   NodeKind
}

// Packet is the wire unit exchanged between neighbors.
type Packet struct {
	SessionID uint64
	Routing   RoutingHeader
	Type      PackType

	// MsgFragment fields.
	FragmentIndex    uint64
	TotalNFragments  uint64
	Length           uint8
	Data             [FragmentDSize]byte

	// Ack fields.
	AckFragmentIndex uint64

	// Nack fields.
	Nack       NackType
	NackNodeID uint8 // valid for UnexpectedRecipient / ErrorInRouting

	// FloodRequest / FloodResponse fields.
	FloodID      uint64
	InitiatorID  uint8
	PathTrace    []TraceEntry

	// IdentityAdvert fields (additive payload type, see SPEC_FULL.md §3).
	AdvertNodeID    uint8
	AdvertPublicKey [32]byte
	AdvertTimestamp int64
	AdvertSignature [64]byte
}

var (
	ErrPacketTooShort  = errors.New("wire: packet too short")
	ErrUnknownPackType = errors.New("wire: unknown pack type")
)

// Clone returns a deep copy of the packet, used when a single logical
// packet (e.g. a flood request) must be stamped differently per neighbor.
func (p *Packet) Clone() *Packet {
	clone := *p
	clone.Routing.Hops = append([]uint8(nil), p.Routing.Hops...)
	clone.PathTrace = append([]TraceEntry(nil), p.PathTrace...)
	return &clone
}

// WriteTo encodes the packet to its deterministic little-endian wire form.
func (p *Packet) WriteTo() []byte {
	buf := make([]byte, 0, 64)
	buf = appendU64(buf, p.SessionID)
	buf = appendU8(buf, uint8(len(p.Routing.Hops)))
	buf = append(buf, p.Routing.Hops...)
	buf = appendU8(buf, p.Routing.HopIndex)
	buf = appendU8(buf, uint8(p.Type))

	switch p.Type {
	case PackMsgFragment:
		buf = appendU64(buf, p.FragmentIndex)
		buf = appendU64(buf, p.TotalNFragments)
		buf = appendU8(buf, p.Length)
		buf = append(buf, p.Data[:]...)
	case PackAck:
		buf = appendU64(buf, p.AckFragmentIndex)
	case PackNack:
		buf = appendU8(buf, uint8(p.Nack))
		buf = appendU8(buf, p.NackNodeID)
	case PackFloodRequest, PackFloodResponse:
		buf = appendU64(buf, p.FloodID)
		buf = appendU8(buf, p.InitiatorID)
		buf = appendU8(buf, uint8(len(p.PathTrace)))
		for _, e := range p.PathTrace {
			buf = appendU8(buf, e.NodeID)
			buf = appendU8(buf, uint8(e.Kind))
		}
	case PackIdentityAdvert:
		buf = appendU8(buf, p.AdvertNodeID)
		buf = append(buf, p.AdvertPublicKey[:]...)
		buf = appendU64(buf, uint64(p.AdvertTimestamp))
		buf = append(buf, p.AdvertSignature[:]...)
	}

	return buf
}

// ReadFrom decodes a packet from its wire form.
func (p *Packet) ReadFrom(data []byte) error {
	r := &reader{data: data}

	p.SessionID = r.u64()
	hopCount := r.u8()
	p.Routing.Hops = make([]uint8, hopCount)
	r.bytes(p.Routing.Hops)
	p.Routing.HopIndex = r.u8()
	p.Type = PackType(r.u8())

	switch p.Type {
	case PackMsgFragment:
		p.FragmentIndex = r.u64()
		p.TotalNFragments = r.u64()
		p.Length = r.u8()
		r.bytes(p.Data[:])
	case PackAck:
		p.AckFragmentIndex = r.u64()
	case PackNack:
		p.Nack = NackType(r.u8())
		p.NackNodeID = r.u8()
	case PackFloodRequest, PackFloodResponse:
		p.FloodID = r.u64()
		p.InitiatorID = r.u8()
		n := r.u8()
		p.PathTrace = make([]TraceEntry, n)
		for i := range p.PathTrace {
			p.PathTrace[i].NodeID = r.u8()
			p.PathTrace[i].Kind = NodeKind(r.u8())
		}
	case PackIdentityAdvert:
		p.AdvertNodeID = r.u8()
		r.bytes(p.AdvertPublicKey[:])
		p.AdvertTimestamp = int64(r.u64())
		r.bytes(p.AdvertSignature[:])
	default:
		return fmt.Errorf("%w: %d", ErrUnknownPackType, p.Type)
	}

	if r.err != nil {
		return r.err
	}
	return nil
}

func appendU8(buf []byte, v uint8) []byte  { return append(buf, v) }
func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// reader sequentially consumes bytes, latching the first short-read error.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.pos+1 > len(r.data) {
		r.err = ErrPacketTooShort
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.data) {
		r.err = ErrPacketTooShort
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v
}

func (r *reader) bytes(dst []byte) {
	if r.err != nil {
		return
	}
	if r.pos+len(dst) > len(r.data) {
		r.err = ErrPacketTooShort
		return
	}
	copy(dst, r.data[r.pos:r.pos+len(dst)])
	r.pos += len(dst)
}
