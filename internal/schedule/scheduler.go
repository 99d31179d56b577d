// Package schedule implements the thin Scheduler (spec §2, §5):
// bounded pair fan-out, per-pair cooldowns, bounded-error exit, and
// graceful stop between pair scans.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbcore/solarb"
	"github.com/arbcore/solarb/internal/eventlog"
	"github.com/arbcore/solarb/internal/health"
)

// PairRunner runs one pass for one pair (in the engine: one trigger
// window of scans, then the execution if it fires). Errors are the pair's own scan/execute error, already logged
// by the caller's components; the Scheduler only counts them.
type PairRunner func(ctx context.Context, pair *solarb.Pair) error

// Config holds the scheduler's own tunables (spec §5 "Exit
// conditions").
type Config struct {
	PollInterval                   time.Duration
	PairConcurrency                int
	MaxErrorsBeforeExit            int
	MaxConsecutiveErrorsBeforeExit int
	Once                           bool
}

// pairState is the scheduler's single-owner record per pair (spec §5
// "Shared resources": "only written by the scheduler after a scan
// completes for that pair").
type pairState struct {
	cooldownUntil time.Time
	lastScanAt    time.Time
	lastProfit    bool
	triggerState  string
}

// Scheduler owns the pair-cooldown map and per-pair state map. Writes
// come from each pair's scan goroutine (recordResult) and from the
// runner (SetPairStatus); every read and write holds mu, which keeps
// health.Snapshotter reads race-free.
type Scheduler struct {
	cfg    Config
	pairs  []*solarb.Pair
	runner PairRunner
	events *eventlog.Log
	logger zerolog.Logger

	mu     sync.Mutex
	states map[string]*pairState

	totalErrors       int
	consecutiveErrors int
}

// New constructs a Scheduler over pairs, invoking runner for each pair
// every poll interval.
func New(cfg Config, pairs []*solarb.Pair, runner PairRunner, events *eventlog.Log, logger zerolog.Logger) *Scheduler {
	if cfg.PairConcurrency <= 0 {
		cfg.PairConcurrency = len(pairs)
		if cfg.PairConcurrency == 0 {
			cfg.PairConcurrency = 1
		}
	}
	states := make(map[string]*pairState, len(pairs))
	for _, p := range pairs {
		states[p.Name] = &pairState{}
	}
	return &Scheduler{cfg: cfg, pairs: pairs, runner: runner, events: events, logger: logger, states: states}
}

// Run drives the poll loop until ctx is cancelled, a bounded-error
// threshold trips, or (with Once) after a single pass. It returns a
// non-nil error exactly when the process should exit non-zero (spec
// §5 "Exit conditions").
func (s *Scheduler) Run(ctx context.Context) error {
	s.logEvent(eventlog.Event{Type: eventlog.TypeStartup, Fields: map[string]any{"pairs": len(s.pairs)}})

	for {
		if ctx.Err() != nil {
			s.logEvent(eventlog.Event{Type: eventlog.TypeShutdown})
			return nil
		}

		if err := s.runOnePass(ctx); err != nil {
			s.logEvent(eventlog.Event{Type: eventlog.TypeExit, Fields: map[string]any{"reason": err.Error()}})
			return err
		}

		if s.cfg.Once {
			return nil
		}

		select {
		case <-ctx.Done():
			s.logEvent(eventlog.Event{Type: eventlog.TypeShutdown})
			return nil
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// runOnePass scans every pair once, bounded to PairConcurrency
// in-flight scans, skipping pairs still in cooldown.
func (s *Scheduler) runOnePass(ctx context.Context) error {
	sem := make(chan struct{}, s.cfg.PairConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var exitErr error

pairLoop:
	for _, pair := range s.pairs {
		if ctx.Err() != nil {
			break
		}
		if s.inCooldown(pair.Name) {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break pairLoop
		}

		wg.Add(1)
		go func(p *solarb.Pair) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.runner(ctx, p)
			s.recordResult(p, err)

			if err != nil {
				mu.Lock()
				if e := s.noteError(); e != nil && exitErr == nil {
					exitErr = e
				}
				mu.Unlock()
			} else {
				mu.Lock()
				s.consecutiveErrors = 0
				mu.Unlock()
			}
		}(pair)
	}

	wg.Wait()
	return exitErr
}

// noteError increments the error counters and returns a non-nil error
// once a bounded-error threshold fires.
func (s *Scheduler) noteError() error {
	s.totalErrors++
	s.consecutiveErrors++

	if s.cfg.MaxErrorsBeforeExit > 0 && s.totalErrors >= s.cfg.MaxErrorsBeforeExit {
		return fmt.Errorf("schedule: total errors reached %d", s.totalErrors)
	}
	if s.cfg.MaxConsecutiveErrorsBeforeExit > 0 && s.consecutiveErrors >= s.cfg.MaxConsecutiveErrorsBeforeExit {
		return fmt.Errorf("schedule: consecutive errors reached %d", s.consecutiveErrors)
	}
	return nil
}

func (s *Scheduler) logEvent(evt eventlog.Event) {
	if err := s.events.Write(evt); err != nil {
		s.logger.Warn().Err(err).Str("eventType", string(evt.Type)).Msg("event log write failed")
	}
}

func (s *Scheduler) inCooldown(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		return false
	}
	return time.Now().Before(st.cooldownUntil)
}

func (s *Scheduler) recordResult(pair *solarb.Pair, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[pair.Name]
	if !ok {
		st = &pairState{}
		s.states[pair.Name] = st
	}
	st.lastScanAt = time.Now()
	if err != nil && pair.Cooldown > 0 {
		st.cooldownUntil = time.Now().Add(pair.Cooldown)
	}
}

// SetPairStatus lets the trigger/scan callers report the last
// decision's profitability and trigger state for the health snapshot,
// without introducing any new decision-affecting state (SPEC_FULL §12
// "/metrics health snapshot").
func (s *Scheduler) SetPairStatus(name string, profitable bool, triggerState string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		st = &pairState{}
		s.states[name] = st
	}
	st.lastProfit = profitable
	st.triggerState = triggerState
}

// Pairs implements health.Snapshotter.
func (s *Scheduler) Pairs() []health.PairSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]health.PairSnapshot, 0, len(s.states))
	for name, st := range s.states {
		out = append(out, health.PairSnapshot{
			Name:               name,
			LastScanAt:         st.lastScanAt,
			LastDecisionProfit: st.lastProfit,
			TriggerState:       st.triggerState,
		})
	}
	return out
}
