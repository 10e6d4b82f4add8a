// Package envelope wraps the application message codec with an optional
// integrity trailer (SPEC_FULL.md §3.1): a node that has exchanged identity
// adverts with its peer authenticates the serialized message with a
// truncated HMAC-SHA256 over the X25519 shared secret; otherwise the
// trailer is empty and the message travels exactly as the original
// protocol describes.
package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/sourcerouted/overlay/internal/message"
)

// MACSize is the truncated HMAC-SHA256 length carried in an authenticated
// envelope.
const MACSize = 2

var (
	ErrTruncated    = errors.New("envelope: truncated payload")
	ErrMACMismatch  = errors.New("envelope: mac verification failed")
)

// Encode serializes msg and appends a MAC computed with sharedSecret, or an
// empty (zero-length) trailer if sharedSecret is nil.
func Encode(msg message.Message, sharedSecret []byte) []byte {
	body := message.Encode(msg)

	buf := make([]byte, 0, 4+len(body)+1+MACSize)
	buf = putU32(buf, uint32(len(body)))
	buf = append(buf, body...)

	if sharedSecret == nil {
		return append(buf, 0)
	}
	mac := computeMAC(body, sharedSecret)
	buf = append(buf, uint8(len(mac)))
	return append(buf, mac...)
}

// Decode parses an envelope produced by Encode. If sharedSecret is non-nil
// and the envelope carries a non-empty MAC, the MAC is verified before the
// message is decoded; a mismatch yields ErrMACMismatch. An envelope with no
// MAC is accepted unauthenticated regardless of sharedSecret, matching a
// peer that has not yet advertised (or never advertises) an identity.
func Decode(data []byte, sharedSecret []byte) (message.Message, error) {
	r := &reader{data: data}
	body := r.bytes()
	macLen := r.u8()
	mac := r.bytesN(int(macLen))
	if r.err != nil {
		return message.Message{}, r.err
	}

	if len(mac) > 0 && sharedSecret != nil {
		want := computeMAC(body, sharedSecret)
		if !hmac.Equal(mac, want) {
			return message.Message{}, ErrMACMismatch
		}
	}

	return message.Decode(body)
}

func computeMAC(body, sharedSecret []byte) []byte {
	h := hmac.New(sha256.New, sharedSecret)
	h.Write(body)
	return h.Sum(nil)[:MACSize]
}

func putU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) u8() uint8 {
	if r.err != nil || r.pos+1 > len(r.data) {
		r.err = ErrTruncated
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil || r.pos+4 > len(r.data) {
		r.err = ErrTruncated
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *reader) bytesN(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n == 0 {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = ErrTruncated
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}

func (r *reader) bytes() []byte {
	n := r.u32()
	return r.bytesN(int(n))
}
