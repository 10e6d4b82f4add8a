package sendqueue

import (
	"testing"
	"time"

	"github.com/sourcerouted/overlay/internal/discovery"
	"github.com/sourcerouted/overlay/internal/routing"
	"github.com/sourcerouted/overlay/internal/wire"
)

type fakeLink struct {
	sent []*wire.Packet
	fail bool
}

func (f *fakeLink) Send(p *wire.Packet) error {
	if f.fail {
		return errFakeSendFailed
	}
	f.sent = append(f.sent, p)
	return nil
}
func (f *fakeLink) Inbound() <-chan *wire.Packet { return nil }
func (f *fakeLink) Close() error                 { return nil }

var errFakeSendFailed = &fakeError{"fake link send failed"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }

func newTestWorker(self uint8, edges [][2]uint8) (*Worker, *NeighborTable) {
	adj := routing.NewAdjacency()
	m := make(map[uint8][]uint8)
	add := func(a, b uint8) {
		m[a] = append(m[a], b)
	}
	for _, e := range edges {
		add(e[0], e[1])
		add(e[1], e[0])
	}
	adj.Replace(m)

	neigh := NewNeighborTable()
	disc := discovery.New(nil)
	r := routing.NewRouter(self, adj)
	return NewWorker(r, neigh, disc, nil), neigh
}

func TestEnqueueClassifiesByPackType(t *testing.T) {
	w, _ := newTestWorker(1, nil)

	w.enqueue(2, &wire.Packet{Type: wire.PackFloodRequest})
	w.enqueue(2, &wire.Packet{Type: wire.PackMsgFragment, SessionID: 1, FragmentIndex: 0})
	w.enqueue(2, &wire.Packet{Type: wire.PackAck})

	if len(w.flood) != 1 {
		t.Errorf("flood queue len = %d, want 1", len(w.flood))
	}
	if len(w.ackable) != 1 {
		t.Errorf("ackable queue len = %d, want 1", len(w.ackable))
	}
	if len(w.standard) != 1 {
		t.Errorf("standard queue len = %d, want 1", len(w.standard))
	}
}

func TestDutyAckedRemovesAckableEntry(t *testing.T) {
	w, _ := newTestWorker(1, nil)
	w.enqueue(2, &wire.Packet{Type: wire.PackMsgFragment, SessionID: 5, FragmentIndex: 3})

	w.handleDuty(DutyAcked{Peer: 2, Session: 5, Index: 3})

	if len(w.ackable) != 0 {
		t.Errorf("ackable queue len = %d after ack, want 0", len(w.ackable))
	}
}

func TestRouteAndSendDeliversToNextHop(t *testing.T) {
	w, neigh := newTestWorker(1, [][2]uint8{{1, 2}, {2, 3}})
	fl := &fakeLink{}
	neigh.Add(2, fl)

	got := w.routeAndSend(3, &wire.Packet{Type: wire.PackAck})
	if got != routeOK {
		t.Fatalf("routeAndSend() = %v, want routeOK", got)
	}
	if len(fl.sent) != 1 {
		t.Fatalf("sent packets = %d, want 1", len(fl.sent))
	}
	if fl.sent[0].Routing.HopIndex != 1 {
		t.Errorf("hop_index = %d, want 1", fl.sent[0].Routing.HopIndex)
	}
}

func TestRouteAndSendNoRoute(t *testing.T) {
	w, _ := newTestWorker(1, nil)
	if got := w.routeAndSend(99, &wire.Packet{}); got != routeNoRoute {
		t.Errorf("routeAndSend() to unreachable target = %v, want routeNoRoute", got)
	}
}

func TestRouteAndSendMissingNeighborIsSendError(t *testing.T) {
	w, _ := newTestWorker(1, [][2]uint8{{1, 2}})
	// A route to 2 exists but no neighbor link was ever registered for it.
	if got := w.routeAndSend(2, &wire.Packet{}); got != routeSendError {
		t.Errorf("routeAndSend() with missing neighbor link = %v, want routeSendError", got)
	}
}

func TestDropExhaustedRetries(t *testing.T) {
	w, _ := newTestWorker(1, nil)
	w.enqueue(2, &wire.Packet{Type: wire.PackMsgFragment, SessionID: 1, FragmentIndex: 0})

	for key := range w.ackable {
		w.ackable[key].retries = PacketResendMaxRetries
	}

	w.dropExhaustedRetries()
	if len(w.ackable) != 0 {
		t.Errorf("ackable queue len = %d after exhausting retries, want 0", len(w.ackable))
	}
}

func TestNextTimeout(t *testing.T) {
	w, _ := newTestWorker(1, nil)

	if got := w.nextTimeout(); got != -1 {
		t.Errorf("nextTimeout() with empty queues = %v, want -1", got)
	}

	w.enqueue(2, &wire.Packet{Type: wire.PackMsgFragment})
	if got := w.nextTimeout(); got != PacketRecvTimeout {
		t.Errorf("nextTimeout() with only ackable = %v, want %v", got, PacketRecvTimeout)
	}

	w.enqueue(2, &wire.Packet{Type: wire.PackAck})
	if got := w.nextTimeout(); got != 0 {
		t.Errorf("nextTimeout() with standard pending = %v, want 0", got)
	}
}

func TestDrainStandardSendErrorDropsWithoutRequeueOrDiscovery(t *testing.T) {
	w, _ := newTestWorker(1, [][2]uint8{{1, 2}})
	// Route to 2 exists, but no neighbor link is registered: routeAndSend
	// returns routeSendError, not routeNoRoute.
	discoveryTriggered := false
	w.TriggerDiscovery = func() { discoveryTriggered = true }

	w.enqueue(2, &wire.Packet{Type: wire.PackAck})
	w.drainStandard()

	if len(w.standard) != 0 {
		t.Errorf("standard queue len = %d after send error, want 0 (dropped, not requeued)", len(w.standard))
	}
	if discoveryTriggered {
		t.Error("drainStandard() should not trigger discovery on a send error, only on no-route")
	}
}

func TestDrainStandardNoRouteRequeuesAndTriggersDiscovery(t *testing.T) {
	w, _ := newTestWorker(1, nil)
	discoveryTriggered := false
	w.TriggerDiscovery = func() { discoveryTriggered = true }

	w.enqueue(99, &wire.Packet{Type: wire.PackAck})
	w.drainStandard()

	if len(w.standard) != 1 {
		t.Errorf("standard queue len = %d after no-route, want 1 (requeued)", len(w.standard))
	}
	if !discoveryTriggered {
		t.Error("drainStandard() should trigger discovery on no-route")
	}
}

func TestScanAckableSendErrorAdvancesRetriesWithoutDiscovery(t *testing.T) {
	w, _ := newTestWorker(1, [][2]uint8{{1, 2}})
	discoveryTriggered := false
	w.TriggerDiscovery = func() { discoveryTriggered = true }

	w.enqueue(2, &wire.Packet{Type: wire.PackMsgFragment, SessionID: 1, FragmentIndex: 0})
	w.scanAckable()

	if discoveryTriggered {
		t.Error("scanAckable() should not trigger discovery on a send error, only on no-route")
	}
	for _, item := range w.ackable {
		if item.retries != 1 {
			t.Errorf("retries = %d after send error, want 1 (attempt still counted)", item.retries)
		}
		if item.lastSend.IsZero() {
			t.Error("lastSend should be set after a send-error attempt")
		}
	}
}

func TestScanAckableNoRouteTriggersDiscoveryWithoutAdvancingRetries(t *testing.T) {
	w, _ := newTestWorker(1, nil)
	discoveryTriggered := false
	w.TriggerDiscovery = func() { discoveryTriggered = true }

	w.enqueue(99, &wire.Packet{Type: wire.PackMsgFragment, SessionID: 1, FragmentIndex: 0})
	w.scanAckable()

	if !discoveryTriggered {
		t.Error("scanAckable() should trigger discovery on no-route")
	}
	for _, item := range w.ackable {
		if item.retries != 0 {
			t.Errorf("retries = %d after no-route, want 0 (no attempt made)", item.retries)
		}
	}
}

func TestEnqueueClassifiesIdentityAdvertAsFlood(t *testing.T) {
	w, _ := newTestWorker(1, nil)
	w.enqueue(0, &wire.Packet{Type: wire.PackIdentityAdvert})

	if len(w.flood) != 1 {
		t.Errorf("flood queue len = %d, want 1", len(w.flood))
	}
	if len(w.standard) != 0 {
		t.Errorf("standard queue len = %d, want 0 (identity advert must not land in standard)", len(w.standard))
	}
}

func TestDrainFloodBroadcastsIdentityAdvertToEveryNeighbor(t *testing.T) {
	w, neigh := newTestWorker(1, nil)
	fl2, fl3 := &fakeLink{}, &fakeLink{}
	neigh.Add(2, fl2)
	neigh.Add(3, fl3)

	w.enqueue(0, &wire.Packet{Type: wire.PackIdentityAdvert, AdvertNodeID: 1})
	w.drainFlood()

	if len(fl2.sent) != 1 || len(fl3.sent) != 1 {
		t.Errorf("sent to neighbors = (%d, %d), want (1, 1)", len(fl2.sent), len(fl3.sent))
	}
}

func TestScanAckableRespectsBackOff(t *testing.T) {
	w, neigh := newTestWorker(1, [][2]uint8{{1, 2}})
	fl := &fakeLink{}
	neigh.Add(2, fl)

	w.enqueue(2, &wire.Packet{Type: wire.PackMsgFragment, SessionID: 1, FragmentIndex: 0})
	w.scanAckable()
	if len(fl.sent) != 1 {
		t.Fatalf("sent after first scan = %d, want 1", len(fl.sent))
	}

	// Immediately scanning again should not retransmit: back-off not elapsed.
	w.scanAckable()
	if len(fl.sent) != 1 {
		t.Errorf("sent after immediate rescan = %d, want 1 (back-off not elapsed)", len(fl.sent))
	}

	for _, item := range w.ackable {
		item.lastSend = time.Now().Add(-2 * PacketResendBackOffTime)
	}
	w.scanAckable()
	if len(fl.sent) != 2 {
		t.Errorf("sent after back-off elapsed = %d, want 2", len(fl.sent))
	}
}
