// Package discovery implements flood-based network discovery: issuing
// flood requests, collecting flood responses within a bounded window, and
// folding their path traces into an adjacency map.
package discovery

import (
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/sourcerouted/overlay/internal/routing"
	"github.com/sourcerouted/overlay/internal/wire"
)

// MaxWaitFloodResponse is the window during which flood responses for the
// current flood id are collected before the adjacency map is rebuilt.
const MaxWaitFloodResponse = 50 * time.Millisecond

// State tracks one discovery cycle. ongoing is a lock-free atomic because
// the send-queue worker samples it on every iteration without taking any
// other lock.
type State struct {
	log *slog.Logger

	floodID   uint64
	ongoing   atomic.Bool
	startTime time.Time
	responses []*wire.Packet
}

// New returns an idle discovery State.
func New(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{log: logger.WithGroup("discovery")}
}

// Init seeds a fresh random flood id, marks the cycle ongoing, and clears
// any responses left from the previous cycle.
func (s *State) Init() uint64 {
	s.floodID = rand.Uint64()
	s.responses = s.responses[:0]
	s.startTime = time.Now()
	s.ongoing.Store(true)
	s.log.Debug("discovery cycle started", "flood_id", s.floodID)
	return s.floodID
}

// FloodID returns the id of the current (or most recent) discovery cycle.
func (s *State) FloodID() uint64 { return s.floodID }

// Ongoing reports whether a discovery window is currently open.
func (s *State) Ongoing() bool { return s.ongoing.Load() }

// Expired reports whether the collection window has elapsed.
func (s *State) Expired() bool {
	return s.ongoing.Load() && time.Since(s.startTime) >= MaxWaitFloodResponse
}

// RemainingWindow returns how long is left in the collection window, or 0
// if expired or not ongoing.
func (s *State) RemainingWindow() time.Duration {
	if !s.ongoing.Load() {
		return 0
	}
	remaining := MaxWaitFloodResponse - time.Since(s.startTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AddResponse appends a flood response verbatim, but only if it belongs to
// the current flood id; stale responses are silently dropped by the caller
// before this is even invoked (see the node loop's packet dispatch), this
// method re-checks defensively.
func (s *State) AddResponse(p *wire.Packet) bool {
	if p.FloodID != s.floodID {
		s.log.Debug("dropping stale flood response", "flood_id", p.FloodID, "current", s.floodID)
		return false
	}
	s.responses = append(s.responses, p)
	return true
}

// ParseNetwork folds every stored response's path trace into a fresh
// adjacency map and clears the response buffer. Call this once the window
// has expired.
func (s *State) ParseNetwork() map[uint8][]uint8 {
	traces := make([][]uint8, 0, len(s.responses))
	for _, r := range s.responses {
		trace := make([]uint8, len(r.PathTrace))
		for i, e := range r.PathTrace {
			trace[i] = e.NodeID
		}
		traces = append(traces, trace)
	}

	adj := routing.AdjacencyFromTraces(traces)
	s.responses = s.responses[:0]
	s.ongoing.Store(false)
	s.log.Debug("discovery cycle completed", "flood_id", s.floodID, "responses", len(traces))
	return adj
}

// BuildRequest constructs the initial FloodRequest for self, with an
// empty path trace; the caller adds the initiator's own entry, and
// receivers extend the trace as the flood propagates.
func BuildRequest(floodID uint64, self uint8) *wire.Packet {
	return &wire.Packet{
		Type:        wire.PackFloodRequest,
		FloodID:     floodID,
		InitiatorID: self,
		PathTrace:   nil,
		Routing:     wire.RoutingHeader{Hops: nil, HopIndex: 0},
	}
}

// ExtendTrace appends self to an inbound flood request's path trace and
// returns the FloodResponse that should be routed back along the reversed
// trace — see ResponseRoute, not BFS (SPEC_FULL.md §9).
func ExtendTrace(req *wire.Packet, self uint8, kind wire.NodeKind) *wire.Packet {
	trace := append(append([]wire.TraceEntry(nil), req.PathTrace...), wire.TraceEntry{NodeID: self, Kind: kind})
	return &wire.Packet{
		Type:      wire.PackFloodResponse,
		FloodID:   req.FloodID,
		PathTrace: trace,
	}
}

// ResponseRoute derives the routing header for a FloodResponse from its own
// (already-extended) path trace: the reversed trace, with hop_index at 1 so
// the very next hop back toward the initiator is hops[1].
func ResponseRoute(resp *wire.Packet) wire.RoutingHeader {
	hops := make([]uint8, len(resp.PathTrace))
	for i, e := range resp.PathTrace {
		hops[len(hops)-1-i] = e.NodeID
	}
	return wire.RoutingHeader{Hops: hops, HopIndex: 1}
}
