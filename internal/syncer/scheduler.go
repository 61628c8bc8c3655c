package syncer

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Whitemarmot/cinq-offline/internal/errors"
	"github.com/Whitemarmot/cinq-offline/internal/events"
	"github.com/Whitemarmot/cinq-offline/internal/logging"
	"github.com/Whitemarmot/cinq-offline/internal/store"
)

// Scheduler owns connectivity state and the drain triggers. Explicit
// calls, connectivity-restored transitions and the periodic ticker all
// converge on the engine's entry points; the engine itself guarantees a
// single pass in flight.
type Scheduler struct {
	engine *Engine
	store  *store.Store
	bus    *events.Bus

	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	isRunning bool
	isOnline  bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// SyncInterval is how often a drain runs while online.
	SyncInterval time.Duration
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{SyncInterval: time.Minute}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine *Engine, st *store.Store, bus *events.Bus, cfg SchedulerConfig) *Scheduler {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSchedulerConfig().SyncInterval
	}

	return &Scheduler{
		engine:   engine,
		store:    st,
		bus:      bus,
		interval: cfg.SyncInterval,
		stopCh:   make(chan struct{}),
		isOnline: true, // Assume online initially
	}
}

// Start starts the periodic drain loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started",
		map[string]interface{}{"interval_seconds": s.interval.Seconds()})
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped")
}

// SetOnline records a connectivity transition. Coming back online
// triggers an immediate drain.
func (s *Scheduler) SetOnline(ctx context.Context, online bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = online
	s.mu.Unlock()

	if wasOnline == online {
		return
	}

	logging.Info("Online status changed",
		map[string]interface{}{"was_online": wasOnline, "is_online": online})

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:   events.TypeOnlineChanged,
			Online: &events.OnlinePayload{Online: online},
		})
	}

	if online {
		go s.drain(ctx)
	}
}

// IsOnline returns whether the scheduler believes the network is up.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// TriggerSync runs an immediate drain and waits for it. Returns the
// pass result; a pass already in flight surfaces SYNC_IN_PROGRESS.
func (s *Scheduler) TriggerSync(ctx context.Context) (Result, error) {
	return s.engine.SyncAll(ctx)
}

// Status returns the current aggregate queue status.
func (s *Scheduler) Status() (Status, error) {
	return CollectStatus(s.store, s.IsOnline(), s.engine.Syncing())
}

// loop runs the periodic drain while online.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.drain(ctx)
		}
	}
}

// drain runs one full pass, downgrading expected contention to debug.
func (s *Scheduler) drain(ctx context.Context) {
	result, err := s.engine.SyncAll(ctx)
	if err != nil {
		switch {
		case apperrors.Is(err, apperrors.ErrSyncInProgress), apperrors.Is(err, apperrors.ErrLeaseHeld):
			logging.Debug("Drain skipped", map[string]interface{}{"reason": err.Error()})
		default:
			logging.Error("Drain failed", err)
		}
		return
	}

	if result.Sent > 0 || result.Failed > 0 {
		logging.Info("Drain complete",
			map[string]interface{}{"sent": result.Sent, "failed": result.Failed})
	}
}
