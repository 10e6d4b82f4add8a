// Package advert builds, signs, and verifies IdentityAdvert packets: the
// additive, flooded payload type that binds a NodeId to a persistent
// Ed25519 public key (SPEC_FULL.md §3, §4).
package advert

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/sourcerouted/overlay/internal/identity"
	"github.com/sourcerouted/overlay/internal/wire"
)

// Build produces a signed IdentityAdvert packet for self at the given
// timestamp (unix seconds).
func Build(self uint8, kp *identity.KeyPair, timestamp int64) *wire.Packet {
	msg := signedMessage(self, kp.PublicKey, timestamp)
	sig := kp.Sign(msg)

	p := &wire.Packet{
		Type:            wire.PackIdentityAdvert,
		AdvertNodeID:    self,
		AdvertTimestamp: timestamp,
	}
	copy(p.AdvertPublicKey[:], kp.PublicKey)
	copy(p.AdvertSignature[:], sig)
	return p
}

// Verify checks an IdentityAdvert's signature against its claimed public
// key. A false result means the advert MUST NOT be installed into a peer
// identity table.
func Verify(p *wire.Packet) bool {
	if p.Type != wire.PackIdentityAdvert {
		return false
	}
	msg := signedMessage(p.AdvertNodeID, p.AdvertPublicKey[:], p.AdvertTimestamp)
	return ed25519.Verify(p.AdvertPublicKey[:], msg, p.AdvertSignature[:])
}

// signedMessage builds the bytes that are signed: node_id(1) || pubkey(32)
// || timestamp(8 LE).
func signedMessage(nodeID uint8, pubKey []byte, timestamp int64) []byte {
	msg := make([]byte, 1+32+8)
	msg[0] = nodeID
	copy(msg[1:33], pubKey)
	binary.LittleEndian.PutUint64(msg[33:41], uint64(timestamp))
	return msg
}

// Install verifies p and, if valid, records its public key in table. It
// reports whether the advert was installed.
func Install(table *identity.Table, p *wire.Packet) bool {
	if !Verify(p) {
		return false
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, p.AdvertPublicKey[:])
	table.Set(p.AdvertNodeID, pub)
	return true
}

// ErrNoIdentity is returned by components that need a node identity the
// node was not configured with.
var ErrNoIdentity = fmt.Errorf("advert: node has no identity key pair")
