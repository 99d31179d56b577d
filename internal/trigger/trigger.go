// Package trigger implements the Trigger Engine (C6): four
// scan-wrapping strategies (immediate, avg-window, vwap, bollinger)
// driving a time-boxed observe/execute window state machine per pair.
package trigger

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbcore/solarb"
	"github.com/arbcore/solarb/internal/scan"
)

// Strategy selects the trigger algorithm.
type Strategy int

const (
	StrategyImmediate Strategy = iota
	StrategyAvgWindow
	StrategyVWAP
	StrategyBollinger
)

// AmountMode selects how the trigger rotates quoted sizes across ticks.
type AmountMode int

const (
	AmountAll AmountMode = iota
	AmountFixed
	AmountRotate
)

// State is the window state machine's current phase.
type State int

const (
	StateIdle State = iota
	StateObserving
	StateReady
	StateInsufficient
	StateExecuting
	StateFired
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateObserving:
		return "observing"
	case StateReady:
		return "ready"
	case StateInsufficient:
		return "insufficient"
	case StateExecuting:
		return "executing"
	case StateFired:
		return "fired"
	case StateExpired:
		return "expired"
	default:
		return "idle"
	}
}

// Config is one pair's trigger configuration (spec §4.6).
type Config struct {
	Strategy Strategy

	ObserveDuration     time.Duration // default 30s
	ObserveTick         time.Duration // default 1s
	ExecuteDuration     time.Duration // default 10s
	ExecuteTick         time.Duration // default 500ms

	Alpha           float64 // EMA smoothing; 0 means auto
	MinSamples      int     // default 10
	TargetPpm       float64
	TrailDropPpm    float64
	Lookback        int
	BollingerK      float64
	EmergencySigma  float64

	AmountMode         AmountMode
	Sizes              []*big.Int
	PreferredAmountA   *big.Int
	MaxAmountsPerTick  int
	EveryNTicksSecond  int // Secondary gating: call Secondary every N ticks
}

func defaultDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Normalized returns cfg with every zero-valued default applied.
func (cfg Config) Normalized() Config {
	cfg.ObserveDuration = defaultDuration(cfg.ObserveDuration, 30*time.Second)
	cfg.ObserveTick = defaultDuration(cfg.ObserveTick, time.Second)
	cfg.ExecuteDuration = defaultDuration(cfg.ExecuteDuration, 10*time.Second)
	cfg.ExecuteTick = defaultDuration(cfg.ExecuteTick, 500*time.Millisecond)
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.MaxAmountsPerTick <= 0 {
		cfg.MaxAmountsPerTick = len(cfg.Sizes)
	}
	if cfg.EveryNTicksSecond <= 0 {
		cfg.EveryNTicksSecond = 1
	}
	return cfg
}

// AutoAlpha computes the EMA smoothing factor when the configured
// alpha is 0: alpha = 2/(N+1), N = observeMs/intervalMs, clamped to
// [0.01, 1] (spec §4.6 vwap).
func AutoAlpha(alpha float64, observe, tick time.Duration) float64 {
	if alpha != 0 {
		return alpha
	}
	if tick <= 0 {
		return 1
	}
	n := float64(observe) / float64(tick)
	a := 2 / (n + 1)
	if a < 0.01 {
		return 0.01
	}
	if a > 1 {
		return 1
	}
	return a
}

// SecondaryEnabledThisTick implements the per-phase tick-counter gate
// (spec §4.6): Secondary runs every N ticks, and always when armed.
func SecondaryEnabledThisTick(tickIndex, everyN int, armed bool) bool {
	if armed {
		return true
	}
	if everyN <= 1 {
		return true
	}
	return tickIndex%everyN == 0
}

// SelectAmounts resolves the sizes to quote this tick per the
// configured AmountMode (spec §4.6 Amount-mode). cursor is the
// pair-persistent rotate cursor; callers pass the running value back
// in on the next call.
func SelectAmounts(cfg Config, cursor int) (amounts []*big.Int, nextCursor int) {
	switch cfg.AmountMode {
	case AmountAll:
		return nil, cursor
	case AmountFixed:
		k := minInt(cfg.MaxAmountsPerTick, len(cfg.Sizes))
		start := preferredIndex(cfg)
		return windowFrom(cfg.Sizes, start, k), cursor
	case AmountRotate:
		k := minInt(cfg.MaxAmountsPerTick, len(cfg.Sizes))
		if k == 0 || len(cfg.Sizes) == 0 {
			return nil, cursor
		}
		selected := windowFrom(cfg.Sizes, cursor, k)
		return selected, (cursor + k) % len(cfg.Sizes)
	default:
		return nil, cursor
	}
}

func preferredIndex(cfg Config) int {
	if cfg.PreferredAmountA == nil {
		return 0
	}
	for i, s := range cfg.Sizes {
		if s.Cmp(cfg.PreferredAmountA) == 0 {
			return i
		}
	}
	return 0
}

func windowFrom(sizes []*big.Int, start, k int) []*big.Int {
	if len(sizes) == 0 || k <= 0 {
		return nil
	}
	out := make([]*big.Int, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, sizes[(start+i)%len(sizes)])
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// vwapPpmOf computes (Σprofit)*1e6/Σamount for one scan's best
// candidate, used as the vwap/bollinger tick sample.
func vwapPpmOf(c *solarb.Candidate) float64 {
	if c == nil || c.InputA == nil || c.InputA.Sign() == 0 {
		return 0
	}
	ppm := new(big.Int).Mul(c.Decision.ConservativeProfit, big.NewInt(1_000_000))
	ppm.Quo(ppm, c.InputA)
	return float64(ppm.Int64())
}

// Decision is what Run reports back to the Scheduler when a window
// concludes.
type Decision struct {
	Fire      bool
	Candidate *solarb.Candidate
	State     State
}

// ScanFunc is the Scanner entry point the trigger drives each tick.
// secondaryEnabled reflects the per-tick Secondary gating counter
// (spec §4.6), already forced true when the window has armed.
type ScanFunc func(ctx context.Context, amounts []*big.Int, secondaryEnabled bool) scan.Result

// Run drives one pair's window state machine to completion: an
// observe phase (for avg-window/vwap/bollinger; immediate skips
// straight to execute), then an execute phase that fires on the
// strategy's rule or expires.
func Run(ctx context.Context, cfg Config, cursor int, scanFn ScanFunc, logger zerolog.Logger) (Decision, int) {
	cfg = cfg.Normalized()

	if cfg.Strategy == StrategyImmediate {
		amounts, nextCursor := SelectAmounts(cfg, cursor)
		res := scanFn(ctx, amounts, true)
		if res.Best != nil && res.Best.Decision.Profitable {
			logger.Info().Str("pair", res.Best.Pair.Name).Msg("trigger_fire")
			return Decision{Fire: true, Candidate: res.Best, State: StateFired}, nextCursor
		}
		logger.Debug().Msg("skip/reason=not-profitable")
		return Decision{State: StateExpired}, nextCursor
	}

	stats := &solarb.RollingStats{}
	alpha := AutoAlpha(cfg.Alpha, cfg.ObserveDuration, cfg.ObserveTick)

	logger.Info().Str("strategy", strategyName(cfg.Strategy)).Msg("trigger_start")

	observeDeadline := time.Now().Add(cfg.ObserveDuration)
	observeTicker := time.NewTicker(cfg.ObserveTick)
	defer observeTicker.Stop()

	tickIdx := 0
	sumProfit := new(big.Int)
	avgSamples := 0

observeLoop:
	for time.Now().Before(observeDeadline) {
		select {
		case <-ctx.Done():
			return Decision{State: StateExpired}, cursor
		case <-observeTicker.C:
			secondaryOK := SecondaryEnabledThisTick(tickIdx, cfg.EveryNTicksSecond, false)
			tickIdx++
			amounts, next := SelectAmounts(cfg, cursor)
			cursor = next
			res := scanFn(ctx, amounts, secondaryOK)
			if res.Best == nil || !res.Best.Decision.Profitable {
				continue observeLoop
			}
			switch cfg.Strategy {
			case StrategyAvgWindow:
				avgSamples++
				sumProfit.Add(sumProfit, res.Best.Decision.ConservativeProfit)
			case StrategyVWAP, StrategyBollinger:
				vwapPpm := vwapPpmOf(res.Best)
				stats.Observe(vwapPpm, alpha)
				if int(stats.Samples) >= cfg.MinSamples && cfg.EmergencySigma > 0 {
					sigma := stats.StdDev()
					if vwapPpm >= stats.EMAPpm+cfg.EmergencySigma*sigma {
						logger.Info().Str("pair", res.Best.Pair.Name).Msg("trigger_fire")
						return Decision{Fire: true, Candidate: res.Best, State: StateFired}, cursor
					}
				}
			}
			logger.Debug().Str("pair", pairName(res)).Msg("trigger_stats")
		}
	}

	var avgProfit *big.Int
	if cfg.Strategy == StrategyAvgWindow {
		if avgSamples == 0 {
			logger.Debug().Msg("skip/reason=insufficient-samples")
			return Decision{State: StateInsufficient}, cursor
		}
		avgProfit = new(big.Int).Quo(sumProfit, big.NewInt(int64(avgSamples)))
	}
	if (cfg.Strategy == StrategyVWAP || cfg.Strategy == StrategyBollinger) && int(stats.Samples) < cfg.MinSamples {
		logger.Debug().Msg("skip/reason=insufficient-samples")
		return Decision{State: StateInsufficient}, cursor
	}

	executeDeadline := time.Now().Add(cfg.ExecuteDuration)
	executeTicker := time.NewTicker(cfg.ExecuteTick)
	defer executeTicker.Stop()

	armed := false
	peak := 0.0
	declineTicks := 0

	for time.Now().Before(executeDeadline) {
		select {
		case <-ctx.Done():
			return Decision{State: StateExpired}, cursor
		case <-executeTicker.C:
			secondaryOK := SecondaryEnabledThisTick(tickIdx, cfg.EveryNTicksSecond, armed)
			tickIdx++

			amounts, next := SelectAmounts(cfg, cursor)
			cursor = next
			res := scanFn(ctx, amounts, secondaryOK)
			if res.Best == nil {
				continue
			}

			switch cfg.Strategy {
			case StrategyAvgWindow:
				if res.Best.Decision.Profitable && res.Best.Decision.ConservativeProfit.Cmp(avgProfit) >= 0 {
					logger.Info().Str("pair", res.Best.Pair.Name).Msg("trigger_fire")
					return Decision{Fire: true, Candidate: res.Best, State: StateFired}, cursor
				}
			case StrategyVWAP:
				ppm := vwapPpmOf(res.Best)
				if !armed {
					if ppm >= cfg.TargetPpm {
						armed = true
						peak = ppm
						logger.Info().Str("pair", res.Best.Pair.Name).Float64("ppm", ppm).Msg("trigger_arm")
					}
					continue
				}
				if ppm > peak {
					peak = ppm
					declineTicks = 0
					continue
				}
				if peak-ppm >= cfg.TrailDropPpm {
					declineTicks++
					if declineTicks >= cfg.Lookback {
						logger.Info().Str("pair", res.Best.Pair.Name).Msg("trigger_fire")
						return Decision{Fire: true, Candidate: res.Best, State: StateFired}, cursor
					}
				}
			case StrategyBollinger:
				ppm := vwapPpmOf(res.Best)
				sigma := stats.StdDev()
				upperBand := stats.EMAPpm + cfg.BollingerK*sigma
				if cfg.EmergencySigma > 0 && ppm >= stats.EMAPpm+cfg.EmergencySigma*sigma {
					logger.Info().Str("pair", res.Best.Pair.Name).Msg("trigger_fire")
					return Decision{Fire: true, Candidate: res.Best, State: StateFired}, cursor
				}
				if !armed {
					if ppm >= upperBand {
						armed = true
						peak = ppm
						logger.Info().Str("pair", res.Best.Pair.Name).Float64("ppm", ppm).Msg("trigger_arm")
					}
					continue
				}
				if ppm > peak {
					peak = ppm
					declineTicks = 0
					continue
				}
				if peak-ppm >= cfg.TrailDropPpm {
					declineTicks++
					if declineTicks >= cfg.Lookback {
						logger.Info().Str("pair", res.Best.Pair.Name).Msg("trigger_fire")
						return Decision{Fire: true, Candidate: res.Best, State: StateFired}, cursor
					}
				}
			}
		}
	}

	return Decision{State: StateExpired}, cursor
}

func strategyName(s Strategy) string {
	switch s {
	case StrategyAvgWindow:
		return "avg-window"
	case StrategyVWAP:
		return "vwap"
	case StrategyBollinger:
		return "bollinger"
	default:
		return "immediate"
	}
}

func pairName(res scan.Result) string {
	if res.Best != nil {
		return res.Best.Pair.Name
	}
	return ""
}
