package advert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcerouted/overlay/internal/identity"
	"github.com/sourcerouted/overlay/internal/wire"
)

// DefaultInterval is how often a node re-floods its identity advert.
const DefaultInterval = 10 * time.Minute

const tickInterval = time.Second

// SchedulerConfig configures the periodic identity-advert flood.
type SchedulerConfig struct {
	Self     uint8
	KeyPair  *identity.KeyPair
	Interval time.Duration // 0 selects DefaultInterval
	// Flood enqueues p onto the node's flood queue for broadcast to every
	// neighbor (see internal/sendqueue).
	Flood  func(p *wire.Packet)
	Logger *slog.Logger
}

// Scheduler periodically (re-)floods this node's signed identity advert.
type Scheduler struct {
	cfg SchedulerConfig
	log *slog.Logger

	mu     sync.Mutex
	next   time.Time
	cancel context.CancelFunc
	nowFn  func() time.Time
}

// NewScheduler returns a Scheduler for cfg. If cfg.KeyPair is nil, Start is
// a no-op: a node without an identity simply never advertises one.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, log: logger.WithGroup("advert"), nowFn: time.Now}
}

// Start begins the periodic flood loop. It blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.KeyPair == nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.next = s.nowFn()
	s.mu.Unlock()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.sendNow()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkTimer()
		}
	}
}

// Stop cancels the flood loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scheduler) checkTimer() {
	s.mu.Lock()
	due := !s.nowFn().Before(s.next)
	s.mu.Unlock()
	if due {
		s.sendNow()
	}
}

func (s *Scheduler) sendNow() {
	pkt := Build(s.cfg.Self, s.cfg.KeyPair, s.nowFn().Unix())
	s.cfg.Flood(pkt)
	s.log.Debug("flooded identity advert")

	s.mu.Lock()
	s.next = s.nowFn().Add(s.cfg.Interval)
	s.mu.Unlock()
}
