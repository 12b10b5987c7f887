package relay

import (
	"log"
	"time"
)

// Sweeper periodically evicts silent clients and expired sessions. Client and
// session passes are independent and both go through the broker's teardown
// path, so participants are notified rather than silently dropped.
type Sweeper struct {
	broker *Broker

	interval         time.Duration
	offlineThreshold time.Duration
	pendingTTL       time.Duration
	activeTTL        time.Duration

	stop chan struct{}
	done chan struct{}
}

type SweeperConfig struct {
	Interval         time.Duration
	OfflineThreshold time.Duration
	PendingTTL       time.Duration
	ActiveTTL        time.Duration
}

func NewSweeper(b *Broker, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = 2 * time.Minute
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 5 * time.Minute
	}
	if cfg.ActiveTTL <= 0 {
		cfg.ActiveTTL = time.Hour
	}
	return &Sweeper{
		broker:           b,
		interval:         cfg.Interval,
		offlineThreshold: cfg.OfflineThreshold,
		pendingTTL:       cfg.PendingTTL,
		activeTTL:        cfg.ActiveTTL,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one sweep of both tables.
func (s *Sweeper) Tick() {
	if n := s.broker.SweepStaleClients(s.offlineThreshold); n > 0 {
		log.Printf("swept %d stale clients", n)
	}
	if n := s.broker.SweepExpiredSessions(s.pendingTTL, s.activeTTL); n > 0 {
		log.Printf("swept %d expired sessions", n)
	}
}
