package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGovernor(baseRPS float64) *Governor {
	return NewGovernor(map[Upstream]GovernorConfig{
		Primary: DefaultGovernorConfig(baseRPS),
	})
}

func TestGovernor_Note429ShrinksRPS(t *testing.T) {
	g := newTestGovernor(10)
	before := g.Snapshot()[Primary].CurrentRPS
	g.Note429(Primary)
	after := g.Snapshot()[Primary].CurrentRPS
	assert.Less(t, after, before)
	assert.GreaterOrEqual(t, after, g.buckets[Primary].cfg.MinRPS)
}

func TestGovernor_NoteSuccessRecoversAfterPenalty(t *testing.T) {
	g := newTestGovernor(10)
	g.Note429(Primary)
	shrunk := g.Snapshot()[Primary].CurrentRPS

	// Still inside the penalty window: no recovery.
	g.NoteSuccess(Primary)
	assert.Equal(t, shrunk, g.Snapshot()[Primary].CurrentRPS)

	// Force the penalty window and recovery clock into the past.
	b := g.buckets[Primary]
	b.mu.Lock()
	b.penaltyUntil = time.Now().Add(-time.Second)
	b.lastRecovery = time.Now().Add(-2 * time.Second)
	b.mu.Unlock()

	g.NoteSuccess(Primary)
	assert.Greater(t, g.Snapshot()[Primary].CurrentRPS, shrunk)
}

func TestGovernor_CooldownIsMonotonicForward(t *testing.T) {
	g := newTestGovernor(10)
	g.Cooldown(Primary, 50*time.Millisecond)
	until1 := g.buckets[Primary].cooldownUntil

	g.Cooldown(Primary, 10*time.Millisecond)
	until2 := g.buckets[Primary].cooldownUntil
	assert.Equal(t, until1, until2, "a shorter cooldown must not shrink the existing one")

	g.Cooldown(Primary, time.Second)
	until3 := g.buckets[Primary].cooldownUntil
	assert.True(t, until3.After(until2))
}

func TestGovernor_BreakerOpenUntilExpiry(t *testing.T) {
	g := newTestGovernor(10)
	open, _ := g.IsBreakerOpen(Primary, "SOL/USDC")
	require.False(t, open)

	g.OpenBreaker(Primary, "SOL/USDC", 30*time.Millisecond)
	open, remaining := g.IsBreakerOpen(Primary, "SOL/USDC")
	require.True(t, open)
	assert.Greater(t, remaining, time.Duration(0))

	time.Sleep(40 * time.Millisecond)
	open, _ = g.IsBreakerOpen(Primary, "SOL/USDC")
	assert.False(t, open)
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		status    int
	}{
		{"429", errors.New("HTTP 429 Too Many Requests"), true, 429},
		{"500", errors.New("upstream returned 500"), true, 500},
		{"503", errors.New("status=503"), true, 503},
		{"404", errors.New("HTTP 404 not found"), false, 404},
		{"timeout", errors.New("context deadline exceeded: timeout"), true, 0},
		{"unrelated", errors.New("insufficient funds"), false, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			retryable, status := ClassifyError(c.err)
			assert.Equal(t, c.retryable, retryable)
			assert.Equal(t, c.status, status)
		})
	}
}

func TestGovernor_RetryTripsBreakerOn429(t *testing.T) {
	g := newTestGovernor(1000) // fast bucket so the test doesn't sleep meaningfully
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	calls := 0
	err := g.Retry(ctx, Primary, "SOL/USDC", 20*time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("HTTP 429 rate limited")
	})

	require.Error(t, err)
	assert.Equal(t, g.buckets[Primary].cfg.MaxAttempts, calls)
	open, _ := g.IsBreakerOpen(Primary, "SOL/USDC")
	assert.True(t, open)
}

func TestGovernor_RetryStopsOnNonRetryable(t *testing.T) {
	g := newTestGovernor(1000)
	ctx := context.Background()

	calls := 0
	err := g.Retry(ctx, Primary, "SOL/USDC", 20*time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("invalid mint")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGovernor_ScheduleSerializesFIFO(t *testing.T) {
	g := newTestGovernor(1000)
	ctx := context.Background()

	var order []int
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			_ = g.Schedule(ctx, Primary, func() error {
				order = append(order, i)
				return nil
			})
			done <- struct{}{}
		}()
		time.Sleep(5 * time.Millisecond) // encourage submission order
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	assert.Len(t, order, 3)
	assert.Equal(t, []int{0, 1, 2}, order)
}
