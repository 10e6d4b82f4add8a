// Package supervisor spawns and wires node goroutines from a topology
// (SPEC_FULL.md §4.8), grounded on original_source's
// simulation_controller/main.rs: per-node command channels keyed by id,
// smallest-free-id allocation, bilateral edge wiring, and crash_all
// targeting drones only.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcerouted/overlay/internal/identity"
	"github.com/sourcerouted/overlay/internal/link/dial"
	"github.com/sourcerouted/overlay/internal/message"
	"github.com/sourcerouted/overlay/internal/node"
	"github.com/sourcerouted/overlay/internal/role"
	"github.com/sourcerouted/overlay/internal/role/client"
	"github.com/sourcerouted/overlay/internal/role/communication"
	"github.com/sourcerouted/overlay/internal/role/content"
	"github.com/sourcerouted/overlay/internal/routing"
	"github.com/sourcerouted/overlay/internal/sendqueue"
	"github.com/sourcerouted/overlay/internal/topology"
)

// handle is everything the supervisor keeps about one live (non-drone)
// node: the node itself (whose Commands channel it drives), the cancel
// func of its context, and a means to wait for its goroutine to finish.
type handle struct {
	node   *node.Node
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns every node in a simulated network and the edges between
// them. Drones are reserved ids only: SPEC_FULL.md §1 treats drone
// forwarding as an external collaborator, so AddDrone never spawns a
// goroutine, matching non-drone nodes' observed behavior in
// original_source (they build FloodResponses but never relay requests).
type Supervisor struct {
	log *slog.Logger

	mu     sync.Mutex
	drones map[uint8]struct{}
	nodes  map[uint8]*handle
}

// New returns an empty Supervisor.
func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		log:    logger.WithGroup("supervisor"),
		drones: make(map[uint8]struct{}),
		nodes:  make(map[uint8]*handle),
	}
}

// getID returns the smallest positive id not already claimed by a drone
// or a live node, mirroring get_id()'s linear scan.
func (s *Supervisor) getID() uint8 {
	var id uint8 = 1
	for {
		_, isDrone := s.drones[id]
		_, isNode := s.nodes[id]
		if !isDrone && !isNode {
			return id
		}
		id++
	}
}

// AddDrone reserves an id for a drone. No goroutine is spawned; drone
// forwarding is not implemented here.
func (s *Supervisor) AddDrone() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.getID()
	s.drones[id] = struct{}{}
	return id
}

// AddServer allocates an id, constructs the named role, and spawns a node
// goroutine running it.
func (s *Supervisor) AddServer(ctx context.Context, serverType, basePath string, kp *identity.KeyPair) (uint8, error) {
	s.mu.Lock()
	id := s.getID()
	s.mu.Unlock()

	logger := s.log.With("node_id", id, "role", serverType)

	var r role.Role
	var err error
	switch serverType {
	case topology.ServerTypeCommunication:
		r, err = communication.New(basePath, id, logger)
	case topology.ServerTypeContent:
		r, err = content.New(basePath, id, logger)
	default:
		return 0, fmt.Errorf("supervisor: unknown server_type %q", serverType)
	}
	if err != nil {
		return 0, fmt.Errorf("supervisor: constructing %s server %d: %w", serverType, id, err)
	}

	s.spawn(ctx, id, r, kp, logger)
	return id, nil
}

// AddClient allocates an id and spawns a node goroutine running the
// client role.
func (s *Supervisor) AddClient(ctx context.Context, kp *identity.KeyPair) uint8 {
	s.mu.Lock()
	id := s.getID()
	s.mu.Unlock()

	logger := s.log.With("node_id", id, "role", "client")
	s.spawn(ctx, id, client.New(logger), kp, logger)
	return id
}

func (s *Supervisor) spawn(ctx context.Context, id uint8, r role.Role, kp *identity.KeyPair, logger *slog.Logger) {
	n := node.New(node.Config{
		Self:      id,
		Role:      r,
		Adjacency: routing.NewAdjacency(),
		Neighbors: sendqueue.NewNeighborTable(),
		KeyPair:   kp,
		Logger:    logger,
	})

	nodeCtx, cancel := context.WithCancel(ctx)
	h := &handle{node: n, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.nodes[id] = h
	s.mu.Unlock()

	go func() {
		n.Run(nodeCtx)
		close(h.done)
	}()
}

// AddEdge wires a bilateral link between from and to over the transport
// named by ov (the zero value picks the default in-process channel pair),
// sending CmdAddNeighbour to whichever side is a live (non-drone) node. A
// side that names a reserved drone id is logged and skipped, since no
// forwarding node exists to receive the command.
func (s *Supervisor) AddEdge(ctx context.Context, from, to uint8, ov topology.EdgeOverride) error {
	s.mu.Lock()
	fromNode, fromOK := s.nodes[from]
	toNode, toOK := s.nodes[to]
	_, fromDrone := s.drones[from]
	_, toDrone := s.drones[to]
	s.mu.Unlock()

	if !fromOK && !fromDrone {
		return fmt.Errorf("supervisor: node %d not found", from)
	}
	if !toOK && !toDrone {
		return fmt.Errorf("supervisor: node %d not found", to)
	}

	ov.From, ov.To = from, to
	linkFrom, linkTo, err := dial.Pair(ctx, ov, s.log)
	if err != nil {
		return fmt.Errorf("supervisor: wiring edge %d-%d: %w", from, to, err)
	}

	if fromOK {
		fromNode.node.Commands() <- node.CmdAddNeighbour{Peer: to, Link: linkFrom}
	} else {
		s.log.Info("edge endpoint is a reserved drone id, skipping neighbor wiring", "drone_id", from)
	}
	if toOK {
		toNode.node.Commands() <- node.CmdAddNeighbour{Peer: from, Link: linkTo}
	} else {
		s.log.Info("edge endpoint is a reserved drone id, skipping neighbor wiring", "drone_id", to)
	}
	return nil
}

// CrashAll marks every reserved drone id as crashed, clearing the
// reservation so a future AddDrone can reuse it. Matches crash_all's
// drones-only scope: servers and clients are never crashed.
func (s *Supervisor) CrashAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drones = make(map[uint8]struct{})
}

// SendRequest injects req as if `from` originated it, addressed to `to`.
func (s *Supervisor) SendRequest(from, to uint8, req message.Message) error {
	s.mu.Lock()
	h, ok := s.nodes[from]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: node %d not found", from)
	}
	h.node.Commands() <- node.CmdSendMessage{Peer: to, Request: req}
	return nil
}

// QuitAll asks every live node to shut down and waits for each to finish.
func (s *Supervisor) QuitAll() {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.nodes))
	for _, h := range s.nodes {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.node.Commands() <- node.CmdQuit{}
	}
	for _, h := range handles {
		<-h.done
	}
}

// SpawnTopology brings up every drone (reserved), server, and client named
// in cfg, then wires every edge cfg describes. It returns a topology id to
// runtime node id mapping, since allocation is supervisor-assigned and may
// not match the ids embedded in cfg if they collide with earlier spawns.
func (s *Supervisor) SpawnTopology(ctx context.Context, cfg *topology.Config, kp *identity.KeyPair) (map[uint8]uint8, error) {
	assigned := make(map[uint8]uint8)

	for _, d := range cfg.Drone {
		assigned[d.ID] = s.AddDrone()
	}
	for _, srv := range cfg.Server {
		id, err := s.AddServer(ctx, srv.ServerType, srv.BasePath, kp)
		if err != nil {
			return nil, fmt.Errorf("supervisor: spawning server %d: %w", srv.ID, err)
		}
		assigned[srv.ID] = id
	}
	for _, c := range cfg.Client {
		assigned[c.ID] = s.AddClient(ctx, kp)
	}

	for _, edge := range cfg.Edges() {
		from, to := assigned[edge[0]], assigned[edge[1]]
		ov := cfg.TransportFor(edge[0], edge[1])
		if err := s.AddEdge(ctx, from, to, ov); err != nil {
			return nil, fmt.Errorf("supervisor: wiring edge %d-%d: %w", edge[0], edge[1], err)
		}
	}

	return assigned, nil
}
