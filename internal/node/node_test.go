package node

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/sourcerouted/overlay/internal/link/chanlink"
	"github.com/sourcerouted/overlay/internal/message"
	"github.com/sourcerouted/overlay/internal/role"
	"github.com/sourcerouted/overlay/internal/role/communication"
	"github.com/sourcerouted/overlay/internal/routing"
	"github.com/sourcerouted/overlay/internal/sendqueue"
	"github.com/sourcerouted/overlay/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClientRole is a minimal role that originates requests on command and
// records every message handed to it.
type testClientRole struct {
	received chan message.Message
}

func newTestClientRole() *testClientRole {
	return &testClientRole{received: make(chan message.Message, 8)}
}

func (r *testClientRole) Kind() wire.NodeKind { return wire.KindClient }
func (r *testClientRole) KindLabel() string   { return "client" }

func (r *testClientRole) HandleMessage(peer uint8, msg message.Message) (message.Message, bool) {
	r.received <- msg
	return message.Message{}, false
}

func (r *testClientRole) HandleControlMessage(ctrl role.ControlMessage) (role.Outbound, bool) {
	return role.Outbound{Peer: ctrl.Peer, Message: ctrl.Request}, true
}

func (r *testClientRole) Stop() {}

func presetAdjacency(self, other uint8) *routing.Adjacency {
	adj := routing.NewAdjacency()
	adj.Replace(map[uint8][]uint8{
		self:  {other},
		other: {self},
	})
	return adj
}

func TestNodeRoundTripCreateChatAndSendMessage(t *testing.T) {
	logger := testLogger()

	clientRole := newTestClientRole()
	commRole, err := communication.New(t.TempDir(), 2, logger)
	if err != nil {
		t.Fatalf("communication.New() error = %v", err)
	}

	nodeA := New(Config{Self: 1, Role: clientRole, Adjacency: presetAdjacency(1, 2), Neighbors: sendqueue.NewNeighborTable(), Logger: logger})
	nodeB := New(Config{Self: 2, Role: commRole, Adjacency: presetAdjacency(2, 1), Neighbors: sendqueue.NewNeighborTable(), Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { nodeA.Run(ctx); close(doneA) }()
	go func() { nodeB.Run(ctx); close(doneB) }()

	linkA, linkB := chanlink.NewPair()
	nodeA.Commands() <- CmdAddNeighbour{Peer: 2, Link: linkA}
	nodeB.Commands() <- CmdAddNeighbour{Peer: 1, Link: linkB}

	nodeA.Commands() <- CmdSendMessage{Peer: 2, Request: message.NewCreateChat("general")}

	select {
	case msg := <-clientRole.received:
		if msg.Tag != message.TagRespNewChat || msg.NewChat.Name != "general" {
			t.Fatalf("received = %+v, want NewChat(general)", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CreateChat response")
	}

	nodeA.Commands() <- CmdSendMessage{Peer: 2, Request: message.NewSendMessage(0, "hi")}
	// SendMessage to an unknown chat id produces no response; just confirm
	// the node loop keeps running and shuts down cleanly afterward.

	nodeA.Commands() <- CmdQuit{}
	nodeB.Commands() <- CmdQuit{}

	select {
	case <-doneA:
	case <-time.After(2 * time.Second):
		t.Fatal("node A did not shut down")
	}
	select {
	case <-doneB:
	case <-time.After(2 * time.Second):
		t.Fatal("node B did not shut down")
	}
}

func TestHandleNackTriggersDiscoveryOnRoutingFailures(t *testing.T) {
	n := New(Config{Self: 1, Role: newTestClientRole(), Adjacency: routing.NewAdjacency(), Neighbors: sendqueue.NewNeighborTable(), Logger: testLogger()})

	if n.disc.Ongoing() {
		t.Fatal("freshly constructed node should not have an ongoing discovery cycle")
	}

	n.handleNack(&wire.Packet{Type: wire.PackNack, Nack: wire.NackErrorInRouting})

	if !n.disc.Ongoing() {
		t.Error("ErrorInRouting nack should trigger a new discovery cycle")
	}
}

func TestHandleNackDroppedDoesNotTriggerDiscovery(t *testing.T) {
	n := New(Config{Self: 1, Role: newTestClientRole(), Adjacency: routing.NewAdjacency(), Neighbors: sendqueue.NewNeighborTable(), Logger: testLogger()})

	n.handleNack(&wire.Packet{Type: wire.PackNack, Nack: wire.NackDropped})

	if n.disc.Ongoing() {
		t.Error("Dropped nack should not trigger a discovery cycle")
	}
}

func TestDiscoveryConvergesOverLinks(t *testing.T) {
	logger := testLogger()
	adjA := routing.NewAdjacency()
	adjB := routing.NewAdjacency()

	nodeA := New(Config{Self: 1, Role: newTestClientRole(), Adjacency: adjA, Neighbors: sendqueue.NewNeighborTable(), Logger: logger})
	nodeB := New(Config{Self: 2, Role: newTestClientRole(), Adjacency: adjB, Neighbors: sendqueue.NewNeighborTable(), Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { nodeA.Run(ctx); close(doneA) }()
	go func() { nodeB.Run(ctx); close(doneB) }()

	linkA, linkB := chanlink.NewPair()
	nodeA.Commands() <- CmdAddNeighbour{Peer: 2, Link: linkA}
	nodeB.Commands() <- CmdAddNeighbour{Peer: 1, Link: linkB}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := adjA.Snapshot()
		if slices.Contains(snap[1], 2) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	snap := adjA.Snapshot()
	if !slices.Contains(snap[1], 2) {
		t.Errorf("adjacency on node 1 = %+v, want an edge to 2", snap)
	}

	nodeA.Commands() <- CmdQuit{}
	nodeB.Commands() <- CmdQuit{}
	<-doneA
	<-doneB
}
