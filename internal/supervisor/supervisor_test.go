package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sourcerouted/overlay/internal/message"
	"github.com/sourcerouted/overlay/internal/topology"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetIDSkipsDronesAndNodes(t *testing.T) {
	s := New(testLogger())
	s.drones[1] = struct{}{}
	s.nodes[2] = &handle{}

	if got := s.getID(); got != 3 {
		t.Errorf("getID() = %d, want 3", got)
	}
}

func TestAddDroneReservesWithoutSpawning(t *testing.T) {
	s := New(testLogger())
	id := s.AddDrone()
	if id != 1 {
		t.Fatalf("AddDrone() = %d, want 1", id)
	}
	if _, ok := s.nodes[id]; ok {
		t.Error("AddDrone() should not register a live node handle")
	}
}

func TestCrashAllClearsDronesOnly(t *testing.T) {
	s := New(testLogger())
	s.AddDrone()
	s.AddDrone()
	s.CrashAll()
	if len(s.drones) != 0 {
		t.Errorf("len(drones) = %d after CrashAll, want 0", len(s.drones))
	}
}

func TestClientServerRoundTripThroughSupervisor(t *testing.T) {
	s := New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	commID, err := s.AddServer(ctx, topology.ServerTypeCommunication, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("AddServer() error = %v", err)
	}
	clientID := s.AddClient(ctx, nil)

	if err := s.AddEdge(ctx, clientID, commID, topology.EdgeOverride{}); err != nil {
		t.Fatalf("AddEdge() error = %v", err)
	}

	// Allow discovery to converge before sending the request.
	time.Sleep(150 * time.Millisecond)

	if err := s.SendRequest(clientID, commID, message.NewCreateChat("general")); err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	s.QuitAll()
}

func TestAddEdgeRejectsUnknownTransport(t *testing.T) {
	s := New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientID := s.AddClient(ctx, nil)
	commID, err := s.AddServer(ctx, topology.ServerTypeCommunication, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("AddServer() error = %v", err)
	}

	err = s.AddEdge(ctx, clientID, commID, topology.EdgeOverride{Transport: "carrier-pigeon"})
	if err == nil {
		t.Error("AddEdge() with an unknown transport should error")
	}
	s.QuitAll()
}

func TestSpawnTopologyHonorsEdgeOverrideTransport(t *testing.T) {
	cfg := &topology.Config{
		Client: []topology.Client{{ID: 10, ConnectedDroneIDs: nil}},
		Server: []topology.Server{{ID: 11, ServerType: topology.ServerTypeContent, BasePath: t.TempDir()}},
		Edge: []topology.EdgeOverride{
			{From: 10, To: 11, Transport: topology.TransportSerial, PortA: "/dev/null", PortB: "/dev/null"},
		},
	}
	// /dev/null is not a real serial port, so dialing is expected to fail —
	// this only confirms SpawnTopology actually routes the override through
	// to dial.Pair instead of silently using chanlink for every edge.
	s := New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.SpawnTopology(ctx, cfg, nil); err == nil {
		t.Error("SpawnTopology() with a bogus serial port should error, not silently fall back to inproc")
	}
	s.QuitAll()
}

func TestSpawnTopologyWiresEveryEdge(t *testing.T) {
	cfg := &topology.Config{
		Drone: []topology.Drone{{ID: 1, ConnectedNodeIDs: []uint8{10, 11}, PDR: 0}},
		Client: []topology.Client{
			{ID: 10, ConnectedDroneIDs: []uint8{1}},
		},
		Server: []topology.Server{
			{ID: 11, ConnectedDroneIDs: []uint8{1}, ServerType: topology.ServerTypeContent, BasePath: t.TempDir()},
		},
	}

	s := New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assigned, err := s.SpawnTopology(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("SpawnTopology() error = %v", err)
	}
	if len(assigned) != 3 {
		t.Fatalf("len(assigned) = %d, want 3", len(assigned))
	}

	s.QuitAll()
}
