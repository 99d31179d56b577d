package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbcore/solarb"
	"github.com/arbcore/solarb/internal/eventlog"
)

func newTestLog(t *testing.T) *eventlog.Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.ndjson")
	l, err := eventlog.Open(eventlog.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testPairs(names ...string) []*solarb.Pair {
	pairs := make([]*solarb.Pair, len(names))
	for i, n := range names {
		pairs[i] = &solarb.Pair{Name: n}
	}
	return pairs
}

func TestScheduler_OnceRunsSinglePass(t *testing.T) {
	var calls int32
	pairs := testPairs("A", "B")
	runner := func(ctx context.Context, p *solarb.Pair) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	s := New(Config{Once: true, PairConcurrency: 2}, pairs, runner, newTestLog(t), zerolog.Nop())
	err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestScheduler_ExitsOnMaxErrorsBeforeExit(t *testing.T) {
	pairs := testPairs("A", "B", "C")
	runner := func(ctx context.Context, p *solarb.Pair) error {
		return errors.New("boom")
	}

	s := New(Config{Once: true, PairConcurrency: 3, MaxErrorsBeforeExit: 2}, pairs, runner, newTestLog(t), zerolog.Nop())
	err := s.Run(context.Background())
	assert.Error(t, err)
}

func TestScheduler_ExitsOnMaxConsecutiveErrorsBeforeExit(t *testing.T) {
	pairs := testPairs("A")
	runner := func(ctx context.Context, p *solarb.Pair) error {
		return errors.New("boom")
	}

	s := New(Config{PollInterval: time.Millisecond, PairConcurrency: 1, MaxConsecutiveErrorsBeforeExit: 2}, pairs, runner, newTestLog(t), zerolog.Nop())
	err := s.Run(context.Background())
	assert.Error(t, err)
}

func TestScheduler_SkipsPairInCooldown(t *testing.T) {
	pairs := testPairs("A")
	pairs[0].Cooldown = time.Hour

	var calls int32
	first := true
	runner := func(ctx context.Context, p *solarb.Pair) error {
		atomic.AddInt32(&calls, 1)
		if first {
			first = false
			return errors.New("trip cooldown")
		}
		return nil
	}

	s := New(Config{PollInterval: time.Millisecond, PairConcurrency: 1}, pairs, runner, newTestLog(t), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second pass must be skipped while cooldown is active")
}

func TestScheduler_StopsGracefullyOnContextCancel(t *testing.T) {
	pairs := testPairs("A")
	runner := func(ctx context.Context, p *solarb.Pair) error { return nil }

	s := New(Config{PollInterval: time.Hour, PairConcurrency: 1}, pairs, runner, newTestLog(t), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}

func TestScheduler_PairsReportsLastState(t *testing.T) {
	pairs := testPairs("A")
	runner := func(ctx context.Context, p *solarb.Pair) error { return nil }

	s := New(Config{Once: true, PairConcurrency: 1}, pairs, runner, newTestLog(t), zerolog.Nop())
	require.NoError(t, s.Run(context.Background()))

	s.SetPairStatus("A", true, "fired")
	snaps := s.Pairs()
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].LastDecisionProfit)
	assert.Equal(t, "fired", snaps[0].TriggerState)
	assert.False(t, snaps[0].LastScanAt.IsZero())
}
