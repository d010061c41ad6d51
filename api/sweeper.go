/*
sweeper.go - Background cleanup of expired locks and undo entries

PURPOSE:
  Periodically sweeps the in-memory lock manager and undo journal so
  expired entries don't accumulate. Correctness never depends on the
  sweep: expired locks and undo entries are already treated as absent on
  every read. This only bounds memory.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Stop() blocks until the goroutine exits

USAGE:
  sweeper := NewSweeper(orch, log)
  sweeper.Start()
  // ... on shutdown
  sweeper.Stop()

SEE ALSO:
  - engine/lock.go: Sweep semantics
  - engine/undo.go: Sweep semantics
*/
package api

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerline/draw-engine/engine"
)

// Sweeper handles periodic cleanup of expired locks and undo entries.
type Sweeper struct {
	Engine        *engine.Orchestrator
	CheckInterval time.Duration
	Log           zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper with a 30s check interval.
func NewSweeper(orch *engine.Orchestrator, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		Engine:        orch,
		CheckInterval: 30 * time.Second,
		Log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the sweeper.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	s.Log.Info().Dur("interval", s.CheckInterval).Msg("sweeper started")
}

// Stop stops the sweeper and waits for the goroutine to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.Log.Info().Msg("sweeper stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	locks := s.Engine.Locks.Sweep()
	undos := s.Engine.Undo.Sweep()
	if locks > 0 || undos > 0 {
		s.Log.Debug().Int("locks", locks).Int("undo_entries", undos).Msg("swept expired entries")
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *Sweeper) RunNow() {
	s.sweep()
}
