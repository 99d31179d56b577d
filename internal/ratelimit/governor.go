// Package ratelimit implements the Rate Governor (C1): an adaptive
// token bucket per upstream, a per-(provider,pair) circuit breaker,
// and Retry, a retry-with-backoff wrapper that takes a token per
// attempt.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Upstream names the two providers the governor tracks independently.
type Upstream string

const (
	Primary   Upstream = "primary"
	Secondary Upstream = "secondary"
)

// GovernorConfig holds the per-upstream tunables from spec §4.1.
type GovernorConfig struct {
	BaseRPS         float64
	MinRPS          float64
	Burst           float64
	PenaltyMs       int64
	RecoveryEveryMs int64
	RecoveryStepRPS float64
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
}

// DefaultGovernorConfig fills in the spec's documented defaults.
func DefaultGovernorConfig(baseRPS float64) GovernorConfig {
	minRPS := baseRPS * 0.25
	if minRPS < 0.05 {
		minRPS = 0.05
	}
	return GovernorConfig{
		BaseRPS:         baseRPS,
		MinRPS:          minRPS,
		Burst:           1,
		PenaltyMs:       1_000,
		RecoveryEveryMs: 1_000,
		RecoveryStepRPS: 0.1,
		MaxAttempts:     4,
		BackoffBase:     200 * time.Millisecond,
		BackoffMax:      5 * time.Second,
	}
}

// bucket is one upstream's adaptive token bucket state (spec §3
// "Limiter state").
type bucket struct {
	mu sync.Mutex

	cfg GovernorConfig

	currentRPS float64
	tokens     float64
	lastRefill time.Time

	cooldownUntil time.Time
	penaltyUntil  time.Time
	lastRecovery  time.Time

	calls     int64
	hit429    int64
	last429   time.Time

	// sequencer serializes schedule() calls FIFO, one token per call.
	sequencer chan struct{}
}

func newBucket(cfg GovernorConfig) *bucket {
	return &bucket{
		cfg:        cfg,
		currentRPS: cfg.BaseRPS,
		tokens:     cfg.Burst,
		lastRefill: time.Now(),
		sequencer:  make(chan struct{}, 1),
	}
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.currentRPS
	if b.tokens > b.cfg.Burst {
		b.tokens = b.cfg.Burst
	}
	b.lastRefill = now
}

// waitForToken blocks (honoring ctx) until a token is available and
// any cooldown has passed, then consumes one token.
func (b *bucket) waitForToken(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.refillLocked(now)

		wait := time.Duration(0)
		if now.Before(b.cooldownUntil) {
			w := b.cooldownUntil.Sub(now)
			if w > wait {
				wait = w
			}
		}
		if wait == 0 && b.tokens >= 1 {
			b.tokens--
			b.calls++
			b.mu.Unlock()
			return nil
		}
		if wait == 0 {
			// need to wait for refill
			deficit := 1 - b.tokens
			if b.currentRPS > 0 {
				wait = time.Duration(deficit/b.currentRPS*1000) * time.Millisecond
			} else {
				wait = 50 * time.Millisecond
			}
			if wait <= 0 {
				wait = time.Millisecond
			}
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (b *bucket) note429() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentRPS = max64(b.cfg.MinRPS, b.currentRPS*0.5)
	b.penaltyUntil = time.Now().Add(time.Duration(b.cfg.PenaltyMs) * time.Millisecond)
	b.lastRecovery = time.Time{}
	b.hit429++
	b.last429 = time.Now()
}

func (b *bucket) noteSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if now.Before(b.penaltyUntil) {
		return
	}
	if b.currentRPS >= b.cfg.BaseRPS {
		return
	}
	if b.lastRecovery.IsZero() {
		b.lastRecovery = now
		return
	}
	if now.Sub(b.lastRecovery) >= time.Duration(b.cfg.RecoveryEveryMs)*time.Millisecond {
		b.currentRPS = min64(b.cfg.BaseRPS, b.currentRPS+b.cfg.RecoveryStepRPS)
		b.lastRecovery = now
	}
}

func (b *bucket) cooldown(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(b.cooldownUntil) {
		b.cooldownUntil = until
	}
}

func (b *bucket) snapshot() BucketSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BucketSnapshot{
		BaseRPS:    b.cfg.BaseRPS,
		CurrentRPS: b.currentRPS,
		MinRPS:     b.cfg.MinRPS,
		Calls:      b.calls,
		Hit429:     b.hit429,
		Last429:    b.last429,
	}
}

// BucketSnapshot is the JSON-serializable view exposed by the health
// endpoint.
type BucketSnapshot struct {
	BaseRPS    float64   `json:"baseRps"`
	CurrentRPS float64   `json:"currentRps"`
	MinRPS     float64   `json:"minRps"`
	Calls      int64     `json:"calls"`
	Hit429     int64     `json:"hit429"`
	Last429    time.Time `json:"last429,omitempty"`
}

// breakerKey identifies a per-(provider,pair) circuit breaker.
type breakerKey struct {
	upstream Upstream
	pair     string
}

// Governor owns one bucket per upstream plus the per-pair breakers.
// All mutation is serialized through the bucket/breaker's own locks;
// Governor itself holds no global lock on the hot path.
type Governor struct {
	buckets  map[Upstream]*bucket
	breakers sync.Map // breakerKey -> *breakerState
}

type breakerState struct {
	mu        sync.Mutex
	openUntil time.Time
}

// NewGovernor constructs a Governor with one bucket per configured
// upstream.
func NewGovernor(cfgs map[Upstream]GovernorConfig) *Governor {
	g := &Governor{buckets: make(map[Upstream]*bucket, len(cfgs))}
	for u, cfg := range cfgs {
		g.buckets[u] = newBucket(cfg)
	}
	return g
}

// Schedule waits for a token on the given upstream (serialized FIFO
// per upstream) and then runs f.
func (g *Governor) Schedule(ctx context.Context, u Upstream, f func() error) error {
	b, ok := g.buckets[u]
	if !ok {
		return fmt.Errorf("ratelimit: no bucket configured for upstream %q", u)
	}

	select {
	case b.sequencer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.sequencer }()

	if err := b.waitForToken(ctx); err != nil {
		return err
	}
	return f()
}

// Note429 records a 429 on the given upstream, shrinking its rate.
func (g *Governor) Note429(u Upstream) {
	if b, ok := g.buckets[u]; ok {
		b.note429()
	}
}

// NoteSuccess records a successful call, allowing recovery once the
// penalty window has elapsed.
func (g *Governor) NoteSuccess(u Upstream) {
	if b, ok := g.buckets[u]; ok {
		b.noteSuccess()
	}
}

// Cooldown extends the upstream's cooldown-until forward-only.
func (g *Governor) Cooldown(u Upstream, d time.Duration) {
	if b, ok := g.buckets[u]; ok {
		b.cooldown(d)
	}
}

// Snapshot returns a point-in-time view of every upstream bucket, for
// the /metrics endpoint.
func (g *Governor) Snapshot() map[Upstream]BucketSnapshot {
	out := make(map[Upstream]BucketSnapshot, len(g.buckets))
	for u, b := range g.buckets {
		out[u] = b.snapshot()
	}
	return out
}

// OpenBreaker trips the per-(upstream,pair) breaker forward-only for
// d.
func (g *Governor) OpenBreaker(u Upstream, pair string, d time.Duration) {
	key := breakerKey{u, pair}
	v, _ := g.breakers.LoadOrStore(key, &breakerState{})
	bs := v.(*breakerState)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(bs.openUntil) {
		bs.openUntil = until
	}
}

// IsBreakerOpen reports whether the breaker for (upstream,pair) is
// currently tripped, and if so how much longer it has.
func (g *Governor) IsBreakerOpen(u Upstream, pair string) (open bool, remaining time.Duration) {
	key := breakerKey{u, pair}
	v, ok := g.breakers.Load(key)
	if !ok {
		return false, 0
	}
	bs := v.(*breakerState)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	now := time.Now()
	if now.Before(bs.openUntil) {
		return true, bs.openUntil.Sub(now)
	}
	return false, 0
}

// ClassifyError inspects an upstream error's message for an HTTP
// status or network failure class, returning whether it is
// retryable and, if it carries an explicit status, that status.
func ClassifyError(err error) (retryable bool, status int) {
	if err == nil {
		return false, 0
	}
	msg := strings.ToLower(err.Error())

	if status = extractStatus(msg); status != 0 {
		switch status {
		case 429, 500, 502, 503, 504:
			return true, status
		default:
			return false, status
		}
	}

	var nerr net.Error
	if errorsAs(err, &nerr) && nerr.Timeout() {
		return true, 0
	}
	for _, needle := range []string{"timeout", "abort", "connection reset", "eof", "network"} {
		if strings.Contains(msg, needle) {
			return true, 0
		}
	}
	return false, 0
}

// errorsAs is a tiny indirection so ClassifyError can be unit tested
// without constructing real net.Error values in every case.
func errorsAs(err error, target *net.Error) bool {
	type wrapper interface{ Unwrap() error }
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		w, ok := err.(wrapper)
		if !ok {
			return false
		}
		err = w.Unwrap()
	}
	return false
}

func extractStatus(lowerMsg string) int {
	for _, code := range []string{"429", "500", "502", "503", "504"} {
		if idx := strings.Index(lowerMsg, code); idx >= 0 {
			// Guard against matching inside an unrelated larger number by
			// requiring a non-digit boundary on both sides, when present.
			before := idx == 0 || !isDigit(lowerMsg[idx-1])
			after := idx+len(code) == len(lowerMsg) || !isDigit(lowerMsg[idx+len(code)])
			if before && after {
				n, _ := strconv.Atoi(code)
				return n
			}
		}
	}
	// Any other 4xx/5xx status, under the same digit-boundary guard.
	for i := 0; i+3 <= len(lowerMsg); i++ {
		c := lowerMsg[i]
		if (c != '4' && c != '5') || !isDigit(lowerMsg[i+1]) || !isDigit(lowerMsg[i+2]) {
			continue
		}
		if (i == 0 || !isDigit(lowerMsg[i-1])) && (i+3 == len(lowerMsg) || !isDigit(lowerMsg[i+3])) {
			n, _ := strconv.Atoi(lowerMsg[i : i+3])
			return n
		}
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Retry runs f under exponential backoff with jitter, consuming a
// token per attempt via Schedule, classifying errors with
// ClassifyError, and tripping the (upstream,pair) breaker on a 429.
func (g *Governor) Retry(ctx context.Context, u Upstream, pair string, breakerCooldown time.Duration, f func(ctx context.Context) error) error {
	b, ok := g.buckets[u]
	if !ok {
		return fmt.Errorf("ratelimit: no bucket configured for upstream %q", u)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.BackoffBase
	bo.MaxInterval = b.cfg.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25

	var lastErr error
	for attempt := 0; attempt < b.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			d := bo.NextBackOff()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}

		err := g.Schedule(ctx, u, func() error { return f(ctx) })
		if err == nil {
			g.NoteSuccess(u)
			return nil
		}
		lastErr = err

		retryable, status := ClassifyError(err)
		if status == 429 {
			g.Note429(u)
			if pair != "" {
				g.OpenBreaker(u, pair, breakerCooldown)
			}
			log.Warn().Str("upstream", string(u)).Str("pair", pair).Msg("rate_limit")
		}
		if !retryable {
			return lastErr
		}
	}
	return fmt.Errorf("ratelimit: exhausted %d attempts: %w", b.cfg.MaxAttempts, lastErr)
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// jitteredSleep waits base plus up to 25% random jitter, or until ctx
// is done. Nothing in the module calls it; Retry's jitter comes from
// the backoff package.
func jitteredSleep(ctx context.Context, base time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(base) / 4))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(base + jitter):
		return nil
	}
}
