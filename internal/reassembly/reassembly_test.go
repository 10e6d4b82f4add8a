package reassembly

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sourcerouted/overlay/internal/wire"
)

func fragment(session, index, total uint64, payload string) *wire.Packet {
	p := &wire.Packet{
		SessionID:       session,
		Type:            wire.PackMsgFragment,
		FragmentIndex:   index,
		TotalNFragments: total,
		Length:          uint8(len(payload)),
	}
	copy(p.Data[:], payload)
	return p
}

func TestAddFragmentOutOfOrderCompletes(t *testing.T) {
	r := New(nil)

	if _, done, err := r.AddFragment(1, fragment(100, 1, 2, "world")); err != nil || done {
		t.Fatalf("first fragment: done=%v err=%v, want done=false err=nil", done, err)
	}

	buf, done, err := r.AddFragment(1, fragment(100, 0, 2, "hello"))
	if err != nil {
		t.Fatalf("AddFragment() error = %v", err)
	}
	if !done {
		t.Fatal("AddFragment() expected completion on second fragment")
	}

	want := make([]byte, 2*wire.FragmentDSize)
	copy(want[0:], "hello")
	copy(want[wire.FragmentDSize:], "world")
	if !bytes.Equal(buf, want) {
		t.Errorf("assembled buffer mismatch")
	}
}

func TestAddFragmentOutOfRangeDropsEntry(t *testing.T) {
	r := New(nil)

	r.AddFragment(1, fragment(100, 0, 2, "hello"))
	if r.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want 1", r.PendingCount())
	}

	_, _, err := r.AddFragment(1, fragment(100, 5, 2, "bad"))
	if !errors.Is(err, ErrFragmentOutOfRange) {
		t.Fatalf("AddFragment() error = %v, want ErrFragmentOutOfRange", err)
	}
	if r.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after out-of-range fragment, want 0", r.PendingCount())
	}
}

func TestAddFragmentDuplicateOverwrites(t *testing.T) {
	r := New(nil)

	r.AddFragment(1, fragment(100, 0, 2, "first"))
	buf, done, err := r.AddFragment(1, fragment(100, 0, 2, "second"))
	if err != nil {
		t.Fatalf("AddFragment() error = %v", err)
	}
	if done {
		t.Fatal("AddFragment() should not complete with only one distinct index filled")
	}
	_ = buf

	_, done, err = r.AddFragment(1, fragment(100, 1, 2, "last"))
	if err != nil || !done {
		t.Fatalf("final fragment: done=%v err=%v", done, err)
	}
}

func TestAddFragmentDistinctSessionsIndependent(t *testing.T) {
	r := New(nil)

	r.AddFragment(1, fragment(100, 0, 2, "a"))
	r.AddFragment(1, fragment(200, 0, 2, "b"))

	if r.PendingCount() != 2 {
		t.Fatalf("PendingCount() = %d, want 2", r.PendingCount())
	}
}
