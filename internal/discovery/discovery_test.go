package discovery

import (
	"testing"
	"time"

	"github.com/sourcerouted/overlay/internal/wire"
)

func TestInitStartsOngoingCycle(t *testing.T) {
	s := New(nil)
	id := s.Init()

	if !s.Ongoing() {
		t.Error("Ongoing() = false after Init()")
	}
	if s.FloodID() != id {
		t.Errorf("FloodID() = %d, want %d", s.FloodID(), id)
	}
}

func TestAddResponseFiltersStaleFloodID(t *testing.T) {
	s := New(nil)
	s.Init()

	stale := &wire.Packet{Type: wire.PackFloodResponse, FloodID: s.FloodID() + 1}
	if s.AddResponse(stale) {
		t.Error("AddResponse() accepted a stale flood id")
	}

	fresh := &wire.Packet{Type: wire.PackFloodResponse, FloodID: s.FloodID()}
	if !s.AddResponse(fresh) {
		t.Error("AddResponse() rejected a current flood id")
	}
}

func TestParseNetworkBuildsAdjacencyAndClearsOngoing(t *testing.T) {
	s := New(nil)
	s.Init()

	resp := &wire.Packet{
		Type:    wire.PackFloodResponse,
		FloodID: s.FloodID(),
		PathTrace: []wire.TraceEntry{
			{NodeID: 1, Kind: wire.KindClient},
			{NodeID: 2, Kind: wire.KindDrone},
			{NodeID: 3, Kind: wire.KindServer},
		},
	}
	s.AddResponse(resp)

	adj := s.ParseNetwork()
	if s.Ongoing() {
		t.Error("Ongoing() = true after ParseNetwork()")
	}
	if !containsUint8(adj[1], 2) {
		t.Error("ParseNetwork() missing edge 1->2")
	}
	if !containsUint8(adj[3], 2) {
		t.Error("ParseNetwork() missing edge 3->2")
	}
}

func containsUint8(list []uint8, want uint8) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestExpired(t *testing.T) {
	s := New(nil)
	s.Init()
	if s.Expired() {
		t.Error("Expired() = true immediately after Init()")
	}

	s.startTime = time.Now().Add(-2 * MaxWaitFloodResponse)
	if !s.Expired() {
		t.Error("Expired() = false after window elapsed")
	}
}

func TestResponseRouteReversesTrace(t *testing.T) {
	req := &wire.Packet{
		Type:        wire.PackFloodRequest,
		InitiatorID: 1,
		PathTrace:   []wire.TraceEntry{{NodeID: 1}},
	}
	extended := ExtendTrace(req, 2, wire.KindDrone)
	route := ResponseRoute(extended)

	if len(route.Hops) != 2 || route.Hops[0] != 2 || route.Hops[1] != 1 {
		t.Errorf("ResponseRoute() hops = %v, want [2 1]", route.Hops)
	}
	if route.HopIndex != 1 {
		t.Errorf("ResponseRoute() hop_index = %d, want 1", route.HopIndex)
	}
}
