// Package identity gives a node an optional, persistent Ed25519 key pair
// and derives X25519 ECDH shared secrets with peers whose public key has
// been learned through an identity advert (see internal/advert). This is
// additive: a node that never generates a KeyPair still participates fully
// in the unauthenticated core protocol (SPEC_FULL.md §3.1).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

var (
	ErrInvalidPubKeySize  = errors.New("identity: invalid public key size, expected 32 bytes")
	ErrInvalidPrivKeySize = errors.New("identity: invalid private key size, expected 64 bytes")
)

// KeyPair is a node's persistent Ed25519 identity.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Generate creates a fresh Ed25519 key pair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// FromPrivateKey reconstructs a KeyPair from a 64-byte Ed25519 private key.
func FromPrivateKey(priv []byte) (*KeyPair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}
	sk := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(sk, priv)
	return &KeyPair{PublicKey: sk.Public().(ed25519.PublicKey), PrivateKey: sk}, nil
}

// Sign signs data with the node's private key.
func (kp *KeyPair) Sign(data []byte) []byte {
	return ed25519.Sign(kp.PrivateKey, data)
}

// ed25519PubKeyToX25519 converts an Ed25519 public key to its X25519
// (Montgomery-form) equivalent, used for ECDH.
func ed25519PubKeyToX25519(edPubKey []byte) ([]byte, error) {
	point, err := new(edwards25519.Point).SetBytes(edPubKey)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid Ed25519 public key: %w", err)
	}
	return point.BytesMontgomery(), nil
}

// ed25519PrivKeyToX25519 converts an Ed25519 private key to its X25519
// equivalent, following RFC 8032: SHA-512 the seed, then clamp.
func ed25519PrivKeyToX25519(edPrivKey ed25519.PrivateKey) ([]byte, error) {
	if len(edPrivKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}

	seed := edPrivKey.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	return h[:32], nil
}

// SharedSecret derives a 32-byte X25519 ECDH shared secret between kp and a
// remote Ed25519 public key learned from that peer's identity advert.
func (kp *KeyPair) SharedSecret(remotePubKey []byte) ([]byte, error) {
	if len(remotePubKey) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKeySize
	}

	localX, err := ed25519PrivKeyToX25519(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("identity: converting local private key: %w", err)
	}
	remoteX, err := ed25519PubKeyToX25519(remotePubKey)
	if err != nil {
		return nil, fmt.Errorf("identity: converting remote public key: %w", err)
	}

	secret, err := curve25519.X25519(localX, remoteX)
	if err != nil {
		return nil, fmt.Errorf("identity: ECDH failed: %w", err)
	}
	return secret, nil
}

// Table tracks learned peer identities, keyed by NodeId.
type Table struct {
	peers map[uint8]ed25519.PublicKey
}

// NewTable returns an empty peer identity table.
func NewTable() *Table {
	return &Table{peers: make(map[uint8]ed25519.PublicKey)}
}

// Set records peer's verified public key.
func (t *Table) Set(peer uint8, pub ed25519.PublicKey) {
	t.peers[peer] = pub
}

// Get returns peer's known public key, if any.
func (t *Table) Get(peer uint8) (ed25519.PublicKey, bool) {
	pub, ok := t.peers[peer]
	return pub, ok
}
