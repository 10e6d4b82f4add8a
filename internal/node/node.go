// Package node implements the per-node event loop (SPEC_FULL.md §4.5): it
// owns discovery, routing, reassembly, the send-queue worker, and dispatch
// into a pluggable Role, all driven by a single biased select loop.
package node

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sourcerouted/overlay/internal/advert"
	"github.com/sourcerouted/overlay/internal/discovery"
	"github.com/sourcerouted/overlay/internal/envelope"
	"github.com/sourcerouted/overlay/internal/identity"
	"github.com/sourcerouted/overlay/internal/link"
	"github.com/sourcerouted/overlay/internal/message"
	"github.com/sourcerouted/overlay/internal/reassembly"
	"github.com/sourcerouted/overlay/internal/role"
	"github.com/sourcerouted/overlay/internal/routing"
	"github.com/sourcerouted/overlay/internal/sendqueue"
	"github.com/sourcerouted/overlay/internal/wire"
)

// commandQueueSize and packetQueueSize bound the node's inbound channels;
// the supervisor and neighbor links back-pressure once full.
const (
	commandQueueSize = 64
	packetQueueSize  = 256
)

// Config configures a Node.
type Config struct {
	Self      uint8
	Role      role.Role
	Adjacency *routing.Adjacency
	Neighbors *sendqueue.NeighborTable

	// KeyPair and AdvertInterval are optional: when KeyPair is nil the node
	// never advertises an identity and the envelope MAC stays unauthenticated
	// for every peer (SPEC_FULL.md §3.1).
	KeyPair        *identity.KeyPair
	AdvertInterval time.Duration

	Logger *slog.Logger
}

// Node is one simulated overlay participant: its event loop, send-queue
// worker, and all per-node protocol state.
type Node struct {
	log  *slog.Logger
	self uint8
	role role.Role

	adj    *routing.Adjacency
	router *routing.Router
	neigh  *sendqueue.NeighborTable
	disc   *discovery.State
	reasm  *reassembly.Reassembler
	worker *sendqueue.Worker

	keyPair     *identity.KeyPair
	identTable  *identity.Table
	advertSched *advert.Scheduler

	cmdCh    chan Command
	packetCh chan *wire.Packet

	mu         sync.Mutex
	linkCancel map[uint8]context.CancelFunc
	runCtx     context.Context

	nowFn func() time.Time
}

// New constructs a Node from cfg. Call Run to start it.
func New(cfg Config) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node_id", cfg.Self)

	router := routing.NewRouter(cfg.Self, cfg.Adjacency)
	disc := discovery.New(logger)
	worker := sendqueue.NewWorker(router, cfg.Neighbors, disc, logger)

	n := &Node{
		log:        logger,
		self:       cfg.Self,
		role:       cfg.Role,
		adj:        cfg.Adjacency,
		router:     router,
		neigh:      cfg.Neighbors,
		disc:       disc,
		reasm:      reassembly.New(logger),
		worker:     worker,
		keyPair:    cfg.KeyPair,
		identTable: identity.NewTable(),
		cmdCh:      make(chan Command, commandQueueSize),
		packetCh:   make(chan *wire.Packet, packetQueueSize),
		linkCancel: make(map[uint8]context.CancelFunc),
		nowFn:      time.Now,
	}

	worker.TriggerDiscovery = n.triggerDiscovery

	n.advertSched = advert.NewScheduler(advert.SchedulerConfig{
		Self:     cfg.Self,
		KeyPair:  cfg.KeyPair,
		Interval: cfg.AdvertInterval,
		Flood:    n.enqueueFlood,
		Logger:   logger,
	})

	return n
}

// Commands returns the channel the supervisor sends Command values on.
func (n *Node) Commands() chan<- Command { return n.cmdCh }

// Run drives the node's event loop until a CmdQuit is received or ctx is
// cancelled. It starts the send-queue worker and the identity-advert
// scheduler as companion goroutines and joins both before returning.
func (n *Node) Run(ctx context.Context) {
	n.runCtx = ctx

	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		n.worker.Run(workerCtx)
		close(workerDone)
	}()

	advertDone := make(chan struct{})
	go func() {
		n.advertSched.Start(ctx)
		close(advertDone)
	}()

	defer func() {
		n.advertSched.Stop()
		cancelWorker()
		<-advertDone
		<-workerDone
	}()

	n.triggerDiscovery()

	for {
		n.refreshDiscoveryExpiry()

		select {
		case cmd := <-n.cmdCh:
			if n.handleCommand(cmd) {
				return
			}
			continue
		default:
		}

		timeout := n.selectTimeout()
		if timeout < 0 {
			select {
			case <-ctx.Done():
				return
			case cmd := <-n.cmdCh:
				if n.handleCommand(cmd) {
					return
				}
			case pkt := <-n.packetCh:
				n.handlePacket(pkt)
			}
			continue
		}

		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case cmd := <-n.cmdCh:
			timer.Stop()
			if n.handleCommand(cmd) {
				return
			}
		case pkt := <-n.packetCh:
			timer.Stop()
			n.handlePacket(pkt)
		case <-timer.C:
			// Timeout branch: no action, the loop head re-evaluates discovery expiry.
		}
	}
}

func (n *Node) handleCommand(cmd Command) (quit bool) {
	switch c := cmd.(type) {
	case CmdQuit:
		n.role.Stop()
		n.worker.Duties() <- sendqueue.DutyQuit{}
		return true
	case CmdAddNeighbour:
		n.neigh.Add(c.Peer, c.Link)
		n.startForwarding(c.Peer, c.Link)
		n.triggerDiscovery()
	case CmdRemoveNeighbour:
		n.stopForwarding(c.Peer)
		if l, ok := n.neigh.Remove(c.Peer); ok {
			if err := l.Close(); err != nil {
				n.log.Debug("error closing neighbor link", "peer", c.Peer, "error", err)
			}
		}
		n.triggerDiscovery()
	case CmdSendMessage:
		out, ok := n.role.HandleControlMessage(role.ControlMessage{Peer: c.Peer, Request: c.Request})
		if ok {
			n.sendMessage(out.Peer, out.Session, out.Message)
		}
	}
	return false
}

// startForwarding spawns a goroutine that copies l's inbound packets into
// the node's shared packet channel until the link is removed or the node
// stops.
func (n *Node) startForwarding(peer uint8, l link.Link) {
	ctx, cancel := context.WithCancel(n.runCtx)

	n.mu.Lock()
	if prev, ok := n.linkCancel[peer]; ok {
		prev()
	}
	n.linkCancel[peer] = cancel
	n.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-l.Inbound():
				if !ok {
					return
				}
				select {
				case n.packetCh <- pkt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (n *Node) stopForwarding(peer uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cancel, ok := n.linkCancel[peer]; ok {
		cancel()
		delete(n.linkCancel, peer)
	}
}

// refreshDiscoveryExpiry finalizes the current discovery cycle once its
// window has elapsed, swapping the resulting adjacency into the shared map.
func (n *Node) refreshDiscoveryExpiry() {
	if n.disc.Ongoing() && n.disc.Expired() {
		n.adj.Replace(n.disc.ParseNetwork())
	}
}

// selectTimeout computes the node loop's select timeout: the remaining
// discovery window, or -1 to wait indefinitely.
func (n *Node) selectTimeout() time.Duration {
	if n.disc.Ongoing() {
		return n.disc.RemainingWindow()
	}
	return -1
}

// triggerDiscovery starts a fresh discovery cycle and floods the initial
// request to every neighbor, with this node as the first path-trace entry
// so that responses can be routed back to it.
func (n *Node) triggerDiscovery() {
	floodID := n.disc.Init()
	req := discovery.BuildRequest(floodID, n.self)
	req.PathTrace = []wire.TraceEntry{{NodeID: n.self, Kind: n.role.Kind()}}
	n.enqueueFlood(req)
}

func (n *Node) enqueueFlood(p *wire.Packet) {
	n.worker.Duties() <- sendqueue.DutyPacket{Packet: p}
}

// sendMessage serializes msg, applies the envelope MAC when a shared
// secret with peer is known, and splits it into FRAGMENT_DSIZE fragments
// under a single session id (reused from session if the caller is
// responding to an inbound request).
func (n *Node) sendMessage(peer uint8, session *uint64, msg message.Message) {
	data := envelope.Encode(msg, n.sharedSecretWith(peer))

	sid := rand.Uint64()
	if session != nil {
		sid = *session
	}

	total := (len(data) + wire.FragmentDSize - 1) / wire.FragmentDSize
	if total == 0 {
		total = 1
	}

	for i := 0; i < total; i++ {
		start := i * wire.FragmentDSize
		end := start + wire.FragmentDSize
		if end > len(data) {
			end = len(data)
		}

		frag := &wire.Packet{
			SessionID:       sid,
			Type:            wire.PackMsgFragment,
			FragmentIndex:   uint64(i),
			TotalNFragments: uint64(total),
			Length:          uint8(end - start),
		}
		copy(frag.Data[:], data[start:end])

		n.worker.Duties() <- sendqueue.DutyPacket{Target: peer, Packet: frag}
	}
}

// sharedSecretWith derives the X25519 shared secret with peer, or nil if
// either side's identity is unknown.
func (n *Node) sharedSecretWith(peer uint8) []byte {
	if n.keyPair == nil {
		return nil
	}
	pub, ok := n.identTable.Get(peer)
	if !ok {
		return nil
	}
	secret, err := n.keyPair.SharedSecret(pub)
	if err != nil {
		n.log.Warn("failed to derive shared secret", "peer", peer, "error", err)
		return nil
	}
	return secret
}
