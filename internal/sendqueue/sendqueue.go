// Package sendqueue implements the per-node send-queue worker: it routes
// outgoing packets, retransmits unacknowledged fragments with back-off,
// emits flood packets to every neighbor, and requests re-discovery on
// route failure.
package sendqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcerouted/overlay/internal/discovery"
	"github.com/sourcerouted/overlay/internal/routing"
	"github.com/sourcerouted/overlay/internal/wire"
)

// Timing constants from the protocol's error-handling design (SPEC_FULL.md §7).
const (
	PacketResendBackOffTime = 150 * time.Millisecond
	PacketResendMaxRetries  = 5
	PacketRecvTimeout       = 25 * time.Millisecond
)

// Duty is a message sent from the node loop to the worker.
type Duty interface{ isDuty() }

// DutyPacket asks the worker to classify and enqueue an outbound packet
// addressed to target.
type DutyPacket struct {
	Target uint8
	Packet *wire.Packet
}

// DutyAcked removes the matching entry from the ackable queue.
type DutyAcked struct {
	Peer    uint8
	Session uint64
	Index   uint64
}

// DutyQuit tells the worker to exit its loop.
type DutyQuit struct{}

func (DutyPacket) isDuty() {}
func (DutyAcked) isDuty()  {}
func (DutyQuit) isDuty()   {}

type standardItem struct {
	target uint8
	pkt    *wire.Packet
}

type ackKey struct {
	peer    uint8
	session uint64
	index   uint64
}

type ackItem struct {
	target   uint8
	pkt      *wire.Packet
	lastSend time.Time
	retries  int
}

// Worker is the dedicated send-queue worker for one node.
type Worker struct {
	log    *slog.Logger
	router *routing.Router
	neigh  *NeighborTable
	disc   *discovery.State

	dutyCh chan Duty

	standard []standardItem
	ackable  map[ackKey]*ackItem
	flood    []*wire.Packet

	// TriggerDiscovery is invoked (non-blocking, from the worker goroutine)
	// whenever routing fails and a fresh discovery cycle should begin.
	TriggerDiscovery func()

	nowFn func() time.Time
}

// NewWorker constructs a Worker. disc is read to decide whether standard
// and ackable draining is currently paused.
func NewWorker(router *routing.Router, neigh *NeighborTable, disc *discovery.State, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		log:     logger.WithGroup("sendqueue"),
		router:  router,
		neigh:   neigh,
		disc:    disc,
		dutyCh:  make(chan Duty, 256),
		ackable: make(map[ackKey]*ackItem),
		nowFn:   time.Now,
	}
}

// Duties returns the channel the node loop sends duty messages on.
func (w *Worker) Duties() chan<- Duty { return w.dutyCh }

// Run executes the worker loop until a DutyQuit is received or ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		w.processOnce()

		timeout := w.nextTimeout()

		if timeout < 0 {
			select {
			case <-ctx.Done():
				return
			case d := <-w.dutyCh:
				if w.handleDuty(d) {
					return
				}
			}
			continue
		}

		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case d := <-w.dutyCh:
			timer.Stop()
			if w.handleDuty(d) {
				return
			}
		case <-timer.C:
		}
	}
}

// nextTimeout computes the worker's select timeout: -1 means wait
// indefinitely for a new duty message.
func (w *Worker) nextTimeout() time.Duration {
	if len(w.standard) == 0 && len(w.ackable) == 0 {
		return -1
	}
	if len(w.standard) == 0 && len(w.ackable) > 0 {
		return PacketRecvTimeout
	}
	return 0
}

func (w *Worker) handleDuty(d Duty) (quit bool) {
	switch m := d.(type) {
	case DutyPacket:
		w.enqueue(m.Target, m.Packet)
	case DutyAcked:
		delete(w.ackable, ackKey{peer: m.Peer, session: m.Session, index: m.Index})
	case DutyQuit:
		return true
	}
	return false
}

// enqueue classifies an outbound packet into the correct internal queue.
// PackIdentityAdvert is broadcast the same way a PackFloodRequest is (every
// neighbor, no source route), so it belongs in the flood queue too —
// leaving it in standard would hand it to routeAndSend with no real
// target and no route, permanently parking it and spuriously re-firing
// discovery (see drainStandard/requestDiscovery).
func (w *Worker) enqueue(target uint8, p *wire.Packet) {
	switch p.Type {
	case wire.PackFloodRequest, wire.PackFloodResponse, wire.PackIdentityAdvert:
		w.flood = append(w.flood, p)
	case wire.PackMsgFragment:
		key := ackKey{peer: target, session: p.SessionID, index: p.FragmentIndex}
		w.ackable[key] = &ackItem{target: target, pkt: p}
	default:
		w.standard = append(w.standard, standardItem{target: target, pkt: p})
	}
}

// processOnce runs one full processing pass: drop exhausted retries, drain
// standard/ackable when discovery is idle, and always drain flood.
func (w *Worker) processOnce() {
	w.dropExhaustedRetries()

	if !w.disc.Ongoing() {
		w.drainStandard()
		w.scanAckable()
	}

	w.drainFlood()
}

func (w *Worker) dropExhaustedRetries() {
	for key, item := range w.ackable {
		if item.retries >= PacketResendMaxRetries {
			w.log.Warn("dropping fragment after exhausting retries", "peer", key.peer, "session", key.session, "index", key.index)
			delete(w.ackable, key)
		}
	}
}

func (w *Worker) drainStandard() {
	remaining := w.standard[:0]
	for _, item := range w.standard {
		switch w.routeAndSend(item.target, item.pkt) {
		case routeOK:
		case routeNoRoute:
			remaining = append(remaining, item)
			w.requestDiscovery()
		case routeSendError:
			// A single send failure to an otherwise-routable neighbor is
			// not a routing problem: log and drop, no requeue, no
			// spurious discovery trigger (SPEC_FULL.md §7, packet_sender.rs's
			// NoRouteFound vs SendError distinction).
			w.log.Debug("dropping standard packet after send error", "target", item.target)
		}
	}
	w.standard = remaining
}

func (w *Worker) scanAckable() {
	now := w.nowFn()
	for _, item := range w.ackable {
		if now.Sub(item.lastSend) < PacketResendBackOffTime {
			continue
		}
		switch w.routeAndSend(item.target, item.pkt.Clone()) {
		case routeOK:
			item.lastSend = now
			item.retries++
		case routeNoRoute:
			w.requestDiscovery()
		case routeSendError:
			// Matches the original: a SendError still counts as an
			// attempt, advancing retries/lastSend so the retry budget is
			// bounded even when a neighbor link is gone, without
			// re-triggering discovery (that's NoRouteFound's job).
			item.lastSend = now
			item.retries++
		}
	}
}

func (w *Worker) drainFlood() {
	neighbors := w.neigh.Snapshot()
	remaining := w.flood[:0]
	for _, p := range w.flood {
		switch p.Type {
		case wire.PackFloodRequest, wire.PackIdentityAdvert:
			for id, l := range neighbors {
				clone := p.Clone()
				clone.Routing = wire.RoutingHeader{}
				if err := l.Send(clone); err != nil {
					w.log.Debug("broadcast send failed", "type", p.Type, "neighbor", id, "error", err)
				}
			}
		case wire.PackFloodResponse:
			route := discovery.ResponseRoute(p)
			next, ok := route.NextHop()
			if !ok {
				w.log.Warn("flood response has no next hop", "flood_id", p.FloodID)
				continue
			}
			l, ok := w.neigh.Get(next)
			if !ok {
				w.log.Warn("flood response neighbor missing", "neighbor", next)
				continue
			}
			p.Routing = route
			if err := l.Send(p); err != nil {
				w.log.Debug("flood response send failed", "neighbor", next, "error", err)
			}
		}
	}
	w.flood = remaining
}

// routeResult distinguishes why routeAndSend didn't deliver: the two
// failure modes are handled differently by callers (see drainStandard,
// scanAckable), matching the original's NoRouteFound vs SendError split.
type routeResult int

const (
	// routeOK means p was delivered (or target was self; nothing to send).
	routeOK routeResult = iota
	// routeNoRoute means the router has no path to target at all — the
	// caller should requeue and trigger rediscovery.
	routeNoRoute
	// routeSendError means a route exists but the first hop's neighbor
	// channel is missing or its Send failed — a transient, single-send
	// problem that must not be treated as a routing failure.
	routeSendError
)

// routeAndSend computes a source route to target and delivers p to the
// first hop's link.
func (w *Worker) routeAndSend(target uint8, p *wire.Packet) routeResult {
	path, ok := w.router.Route(target)
	if !ok {
		w.log.Debug("no route found", "target", target)
		return routeNoRoute
	}

	p.Routing = wire.RoutingHeader{Hops: path, HopIndex: 1}
	next, ok := p.Routing.NextHop()
	if !ok {
		// target == self; nothing to send over the wire.
		return routeOK
	}

	l, ok := w.neigh.Get(next)
	if !ok {
		w.log.Warn("neighbor channel missing", "next_hop", next)
		return routeSendError
	}

	if err := l.Send(p); err != nil {
		w.log.Debug("send failed", "next_hop", next, "error", err)
		return routeSendError
	}
	return routeOK
}

func (w *Worker) requestDiscovery() {
	if w.TriggerDiscovery != nil {
		w.TriggerDiscovery()
	}
}
