// Package scan implements the Scanner (C5): for one pair, builds the
// amount list, quotes every leg on Primary (and, when gated in,
// Secondary), runs the Decider over each resulting candidate, and
// selects the best one by conservative profit.
package scan

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbcore/solarb"
	"github.com/arbcore/solarb/internal/decide"
	"github.com/arbcore/solarb/internal/fee"
	"github.com/arbcore/solarb/internal/quote"
	"github.com/arbcore/solarb/internal/ratelimit"
)

// ExecutionStrategy selects how many transactions a loop candidate
// costs, and whether Secondary is reachable at all (spec §4.5 step 6).
type ExecutionStrategy int

const (
	StrategyAtomic ExecutionStrategy = iota
	StrategySequential
	StrategyBundle
)

// Config is the Scanner's per-call configuration (spec §4.5 inputs).
type Config struct {
	EnableSecondary             bool
	OpenOceanJupiterGateBps     int64
	OpenOceanJupiterNearGateBps int64
	Strategy                    ExecutionStrategy
	SecondarySignatureEstimate  uint64
	FeeModel                    fee.Model
	BreakerCooldownOnRateLimit  func() (skipDuration int64)
}

// Deps bundles the Scanner's external handles.
type Deps struct {
	Primary          quote.PrimaryClient
	Secondary        quote.SecondaryClient
	Governor         *ratelimit.Governor
	Decider          decide.Decider
	PrimaryConverter fee.Converter
	Logger           zerolog.Logger
}

// Result is scanPair's output: every candidate considered this scan,
// plus the best one by conservative profit (nil if none).
type Result struct {
	Candidates []*solarb.Candidate
	Best       *solarb.Candidate
	Skipped    bool
	SkipReason string
}

// ScanPair runs the Scanner's algorithm for one pair (spec §4.5).
func ScanPair(ctx context.Context, pair *solarb.Pair, amountOverride []*big.Int, cfg Config, deps Deps) Result {
	if open, remaining := deps.Governor.IsBreakerOpen(ratelimit.Primary, pair.Name); open {
		deps.Logger.Info().Str("pair", pair.Name).Dur("remaining", remaining).Msg("skip/reason=rate-limited")
		return Result{Skipped: true, SkipReason: "rate-limited"}
	}

	amounts := buildAmountList(pair, amountOverride)
	result := Result{}

	for _, amount := range amounts {
		var candidate *solarb.Candidate
		var err error
		if pair.IsTriangular() {
			candidate, err = scanTriangular(ctx, pair, amount, cfg, deps)
		} else {
			candidate, err = scanLoop(ctx, pair, amount, cfg, deps)
		}
		if err != nil {
			deps.Logger.Warn().Err(err).Str("pair", pair.Name).Str("amount", amount.String()).Msg("candidate_error")
			if retryable, status := ratelimit.ClassifyError(err); retryable && status == 429 {
				cooldown := deps.cooldown(cfg)
				deps.Governor.OpenBreaker(ratelimit.Primary, pair.Name, cooldown)
				break
			}
			continue
		}
		result.Candidates = append(result.Candidates, candidate)
	}

	if !pair.IsTriangular() && cfg.EnableSecondary && cfg.Strategy == StrategySequential && len(result.Candidates) > 0 {
		bestPrimary := selectBest(result.Candidates)
		if bestPrimary != nil {
			bps := bestPrimary.ConservativeProfitBps()
			if secondaryGateAllows(bps, cfg) {
				for _, amount := range amounts {
					candidate, err := scanSecondaryLoop(ctx, pair, amount, cfg, deps)
					if err != nil {
						deps.Logger.Warn().Err(err).Str("pair", pair.Name).Str("amount", amount.String()).Msg("candidate_error")
						if retryable, status := ratelimit.ClassifyError(err); retryable && status == 429 {
							deps.Governor.OpenBreaker(ratelimit.Secondary, pair.Name, deps.cooldown(cfg))
							break
						}
						continue
					}
					result.Candidates = append(result.Candidates, candidate)
				}
			} else {
				deps.Logger.Debug().Str("pair", pair.Name).Int64("bps", bps).Msg("skip/reason=secondary-gated")
			}
		}
	}

	result.Best = selectBest(result.Candidates)
	return result
}

func (d Deps) cooldown(cfg Config) time.Duration {
	if cfg.BreakerCooldownOnRateLimit == nil {
		return defaultBreakerCooldownMs * time.Millisecond
	}
	return time.Duration(cfg.BreakerCooldownOnRateLimit()) * time.Millisecond
}

const defaultBreakerCooldownMs = 30_000

// secondaryGateAllows implements the lower/upper gate rule (spec §4.5
// step 6).
func secondaryGateAllows(bps int64, cfg Config) bool {
	if bps < cfg.OpenOceanJupiterGateBps {
		return false
	}
	if cfg.OpenOceanJupiterNearGateBps > 0 && bps > cfg.OpenOceanJupiterGateBps+cfg.OpenOceanJupiterNearGateBps {
		return false
	}
	return true
}

// buildAmountList resolves the amount list per spec §4.5 step 2.
func buildAmountList(pair *solarb.Pair, override []*big.Int) []*big.Int {
	base := override
	if len(base) == 0 {
		if len(pair.AmountASteps) > 0 {
			base = pair.AmountASteps
		} else {
			base = []*big.Int{pair.AmountA}
		}
	}

	seen := make(map[string]struct{}, len(base))
	out := make([]*big.Int, 0, len(base))
	for _, a := range base {
		if a == nil || a.Sign() <= 0 {
			continue
		}
		if pair.MaxNotionalA != nil && pair.MaxNotionalA.Sign() > 0 && a.Cmp(pair.MaxNotionalA) > 0 {
			continue
		}
		s := a.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, a)
	}
	return out
}

func scanLoop(ctx context.Context, pair *solarb.Pair, amount *big.Int, cfg Config, deps Deps) (*solarb.Candidate, error) {
	leg1, err := deps.Primary.QuoteExactIn(ctx, quote.ExactInRequest{
		InMint:      pair.MintA,
		OutMint:     pair.MintB,
		Amount:      amount,
		SlippageBps: legSlippage(pair, 0),
		Include:     pair.VenueInclude,
		Exclude:     pair.VenueExclude,
	})
	if err != nil {
		return nil, err
	}

	leg2, err := deps.Primary.QuoteExactIn(ctx, quote.ExactInRequest{
		InMint:      pair.MintB,
		OutMint:     pair.MintA,
		Amount:      leg1.MinOut,
		SlippageBps: legSlippage(pair, 1),
		Include:     pair.VenueInclude,
		Exclude:     pair.VenueExclude,
	})
	if err != nil {
		return nil, err
	}

	txCount := uint64(2)
	if cfg.Strategy == StrategyAtomic {
		txCount = 1
	}
	feeModel := cfg.FeeModel
	feeModel.Signatures = txCount
	networkFee := feeModel.NetworkFeeLamports()
	tip := feeModel.TipLamports(leg2.MinOut)

	feeInA, err := fee.TotalFeeInA(ctx, deps.PrimaryConverter, networkFee, tip)
	if err != nil {
		return nil, err
	}

	minProfit := decide.MinProfitInA(pair.MinProfitA, pair.MinProfitBps, amount)
	decision := deps.Decider.Decide(ctx, decide.Request{
		In:           amount,
		Out:          leg2.OutAmount,
		MinOut:       leg2.MinOut,
		FeeInA:       feeInA,
		MinProfitInA: minProfit,
	})

	return &solarb.Candidate{
		Pair:        pair,
		Kind:        solarb.KindLoop,
		InputA:      amount,
		Quotes:      []solarb.Quote{leg1, leg2},
		TipLamports: tip,
		FeeLamports: networkFee,
		FeeInA:      feeInA,
		Decision:    decision,
	}, nil
}

func scanSecondaryLoop(ctx context.Context, pair *solarb.Pair, amount *big.Int, cfg Config, deps Deps) (*solarb.Candidate, error) {
	leg1, err := deps.Secondary.QuoteExactIn(ctx, quote.ExactInRequest{
		InMint:      pair.MintA,
		OutMint:     pair.MintB,
		Amount:      amount,
		SlippageBps: legSlippage(pair, 0),
		Include:     pair.VenueInclude,
		Exclude:     pair.VenueExclude,
	})
	if err != nil {
		return nil, err
	}

	leg2, err := deps.Secondary.QuoteExactIn(ctx, quote.ExactInRequest{
		InMint:      pair.MintB,
		OutMint:     pair.MintA,
		Amount:      leg1.MinOut,
		SlippageBps: legSlippage(pair, 1),
		Include:     pair.VenueInclude,
		Exclude:     pair.VenueExclude,
	})
	if err != nil {
		return nil, err
	}

	feeModel := cfg.FeeModel
	feeModel.Signatures = cfg.SecondarySignatureEstimate
	if feeModel.Signatures == 0 {
		feeModel.Signatures = 2
	}
	networkFee := feeModel.NetworkFeeLamports()
	tip := feeModel.TipLamports(leg2.MinOut)

	feeInA, err := fee.TotalFeeInA(ctx, deps.PrimaryConverter, networkFee, tip)
	if err != nil {
		return nil, err
	}

	minProfit := decide.MinProfitInA(pair.MinProfitA, pair.MinProfitBps, amount)
	decision := deps.Decider.Decide(ctx, decide.Request{
		In:           amount,
		Out:          leg2.OutAmount,
		MinOut:       leg2.MinOut,
		FeeInA:       feeInA,
		MinProfitInA: minProfit,
	})

	return &solarb.Candidate{
		Pair:        pair,
		Kind:        solarb.KindLoopSecondary,
		InputA:      amount,
		Quotes:      []solarb.Quote{leg1, leg2},
		TipLamports: tip,
		FeeLamports: networkFee,
		FeeInA:      feeInA,
		Decision:    decision,
	}, nil
}

func scanTriangular(ctx context.Context, pair *solarb.Pair, amount *big.Int, cfg Config, deps Deps) (*solarb.Candidate, error) {
	leg1, err := deps.Primary.QuoteExactIn(ctx, quote.ExactInRequest{
		InMint:      pair.MintA,
		OutMint:     pair.MintB,
		Amount:      amount,
		SlippageBps: legSlippage(pair, 0),
		Include:     pair.VenueInclude,
		Exclude:     pair.VenueExclude,
	})
	if err != nil {
		return nil, err
	}

	leg2, err := deps.Primary.QuoteExactIn(ctx, quote.ExactInRequest{
		InMint:      pair.MintB,
		OutMint:     pair.MintC,
		Amount:      leg1.MinOut,
		SlippageBps: legSlippage(pair, 1),
		Include:     pair.VenueInclude,
		Exclude:     pair.VenueExclude,
	})
	if err != nil {
		return nil, err
	}

	leg3, err := deps.Primary.QuoteExactIn(ctx, quote.ExactInRequest{
		InMint:      pair.MintC,
		OutMint:     pair.MintA,
		Amount:      leg2.MinOut,
		SlippageBps: legSlippage(pair, 2),
		Include:     pair.VenueInclude,
		Exclude:     pair.VenueExclude,
	})
	if err != nil {
		return nil, err
	}

	feeModel := cfg.FeeModel
	feeModel.Signatures = 1
	networkFee := feeModel.NetworkFeeLamports()
	tip := feeModel.TipLamports(leg3.MinOut)

	feeInA, err := fee.TotalFeeInA(ctx, deps.PrimaryConverter, networkFee, tip)
	if err != nil {
		return nil, err
	}

	minProfit := decide.MinProfitInA(pair.MinProfitA, pair.MinProfitBps, amount)
	decision := deps.Decider.Decide(ctx, decide.Request{
		In:           amount,
		Out:          leg3.OutAmount,
		MinOut:       leg3.MinOut,
		FeeInA:       feeInA,
		MinProfitInA: minProfit,
	})

	return &solarb.Candidate{
		Pair:        pair,
		Kind:        solarb.KindTriangular,
		InputA:      amount,
		Quotes:      []solarb.Quote{leg1, leg2, leg3},
		TipLamports: tip,
		FeeLamports: networkFee,
		FeeInA:      feeInA,
		Decision:    decision,
	}, nil
}

func legSlippage(pair *solarb.Pair, leg int) int {
	if leg < len(pair.LegSlippageBps) {
		return pair.LegSlippageBps[leg]
	}
	return pair.SlippageBps
}

// selectBest returns the candidate with the highest conservative
// profit, ties broken by first-seen (spec §4.5 step 8).
func selectBest(candidates []*solarb.Candidate) *solarb.Candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Decision.ConservativeProfit.Cmp(best.Decision.ConservativeProfit) > 0 {
			best = c
		}
	}
	return best
}
