// Package reassembly buffers MsgFragment packets keyed by (peer, session)
// and emits the complete byte buffer once every fragment has arrived.
package reassembly

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourcerouted/overlay/internal/wire"
)

// ErrFragmentOutOfRange is returned when a fragment's index is outside the
// range established by the first fragment seen for its (peer, session).
// The caller MUST discard the whole entry — see DropEntry.
var ErrFragmentOutOfRange = errors.New("reassembly: fragment index out of range")

// Key identifies one in-progress reassembly.
type Key struct {
	Peer    uint8
	Session uint64
}

type entry struct {
	total          uint64
	slots          [][]byte
	filled         int
}

// Reassembler collects fragments per (peer, session) and emits a complete
// buffer when every slot has been filled. It is not safe for concurrent use;
// callers (the node loop) own it exclusively.
type Reassembler struct {
	log     *slog.Logger
	pending map[Key]*entry
}

// New creates an empty Reassembler.
func New(logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reassembler{
		log:     logger.WithGroup("reassembly"),
		pending: make(map[Key]*entry),
	}
}

// AddFragment stores a fragment. It returns (buffer, true, nil) once the
// (peer, session) entry is complete; (nil, false, nil) if more fragments
// remain outstanding; or a non-nil error if the fragment index is out of
// range, in which case the entire entry for this key has already been
// dropped per the drop-entire-message policy.
func (r *Reassembler) AddFragment(peer uint8, p *wire.Packet) ([]byte, bool, error) {
	if p.Type != wire.PackMsgFragment {
		return nil, false, fmt.Errorf("reassembly: not a fragment packet: %s", p.Type)
	}

	key := Key{Peer: peer, Session: p.SessionID}

	e, ok := r.pending[key]
	total := p.TotalNFragments
	if ok {
		total = e.total
	}

	if p.FragmentIndex >= total {
		delete(r.pending, key)
		return nil, false, fmt.Errorf("%w: index=%d total=%d", ErrFragmentOutOfRange, p.FragmentIndex, total)
	}

	if !ok {
		e = &entry{
			total: p.TotalNFragments,
			slots: make([][]byte, p.TotalNFragments),
		}
		r.pending[key] = e
	}

	if e.slots[p.FragmentIndex] != nil {
		r.log.Warn("duplicate fragment index overwritten", "peer", peer, "session", p.SessionID, "index", p.FragmentIndex)
	} else {
		e.filled++
	}

	data := make([]byte, wire.FragmentDSize)
	copy(data, p.Data[:])
	e.slots[p.FragmentIndex] = data

	if e.filled < int(e.total) {
		return nil, false, nil
	}

	delete(r.pending, key)
	buf := make([]byte, 0, int(e.total)*wire.FragmentDSize)
	for _, s := range e.slots {
		buf = append(buf, s...)
	}
	return buf, true, nil
}

// DropEntry discards any in-progress reassembly for key, if present.
func (r *Reassembler) DropEntry(key Key) {
	delete(r.pending, key)
}

// PendingCount reports the number of in-progress reassemblies.
func (r *Reassembler) PendingCount() int {
	return len(r.pending)
}
