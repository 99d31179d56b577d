// Package solarb wires the scan/decide/trigger/execute arbitrage
// pipeline together and defines the data model shared by its
// components.
package solarb

import (
	"math"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Pair describes one configured arbitrage loop (A->B->A) or triangle
// (A->B->C->A). It is immutable once loaded from the config file.
type Pair struct {
	Name       string
	MintA      solana.PublicKey
	MintB      solana.PublicKey
	MintC      solana.PublicKey // zero value when the pair is a loop, not a triangle
	Triangular bool

	SlippageBps    int
	LegSlippageBps []int // optional per-leg overrides, same length as the leg count when set

	VenueInclude []string
	VenueExclude []string

	AmountA      *big.Int
	AmountASteps []*big.Int
	MaxNotionalA *big.Int

	MinProfitA   *big.Int
	MinProfitBps int

	Cooldown time.Duration

	ComputeUnitLimit   *uint32
	ComputeUnitPrice   *uint64
	RentBufferLamports *uint64
}

// IsTriangular reports whether the pair runs the three-leg A->B->C->A
// loop rather than the two-leg A->B->A loop.
func (p *Pair) IsTriangular() bool {
	return p.Triangular
}

// QuoteProvider tags which upstream produced a Quote.
type QuoteProvider int

const (
	ProviderPrimary QuoteProvider = iota
	ProviderSecondary
)

func (p QuoteProvider) String() string {
	if p == ProviderSecondary {
		return "secondary"
	}
	return "primary"
}

// Quote is the uniform shape the rest of the pipeline consumes,
// regardless of which provider or Primary mode produced it.
type Quote struct {
	Provider    QuoteProvider
	InMint      solana.PublicKey
	OutMint     solana.PublicKey
	InAmount    *big.Int
	OutAmount   *big.Int // optimistic out amount
	MinOut      *big.Int // otherAmountThreshold: conservative out amount under slippage
	SlippageBps int
	RouteMeta   any // opaque provider-specific route payload (Jupiter's routePlan, OpenOcean's path, ...)

	// VenueID identifies the venue for a Secondary quote; empty for Primary.
	VenueID string

	// Ultra-only fields: a pre-built unsigned transaction plus the
	// request id needed to call execute().
	UltraTx        *solana.Transaction
	UltraRequestID string
}

// CandidateKind tags the shape of a Candidate's legs.
type CandidateKind int

const (
	KindLoop CandidateKind = iota
	KindLoopSecondary
	KindTriangular
)

// Candidate is one scanned (pair, input size) opportunity.
//
// Invariant: len(Quotes) is 2 or 3; Ultra candidates always have
// len(Quotes)==2 with Kind==KindLoop, Pair.MintC the zero value, and
// Pair.MintA native SOL; KindLoopSecondary only exists when the
// execution strategy is sequential.
type Candidate struct {
	Pair        *Pair
	Kind        CandidateKind
	InputA      *big.Int
	Quotes      []Quote
	TipLamports uint64
	FeeLamports uint64
	FeeInA      *big.Int
	Decision    Decision
	UsedUltra   bool
}

// ConservativeProfitBps expresses the candidate's conservative profit
// as basis points of the input notional, used by the scanner's
// Secondary gates.
func (c *Candidate) ConservativeProfitBps() int64 {
	if c.InputA == nil || c.InputA.Sign() == 0 {
		return 0
	}
	bps := new(big.Int).Mul(c.Decision.ConservativeProfit, big.NewInt(10_000))
	bps.Quo(bps, c.InputA)
	return bps.Int64()
}

// Decision is the Decider's (C4) pure output.
type Decision struct {
	Profit             *big.Int
	ConservativeProfit *big.Int
	Profitable         bool
}

// RollingStats is the per-trigger-window amortized statistic state
// shared by the vwap and bollinger strategies (spec §3, §4.6).
type RollingStats struct {
	EMAPpm       float64
	EWMVariance  float64
	Samples      int64
	PeakPpm      float64
	PeakArmedPpm float64
	DeclineTicks int
}

// Observe folds one tick's vwapPpm sample into the rolling statistics
// using smoothing factor alpha for the EMA and the matching EWM
// variance update.
func (s *RollingStats) Observe(vwapPpm, alpha float64) {
	if s.Samples == 0 {
		s.EMAPpm = vwapPpm
		s.EWMVariance = 0
	} else {
		delta := vwapPpm - s.EMAPpm
		s.EMAPpm += alpha * delta
		s.EWMVariance = (1 - alpha) * (s.EWMVariance + alpha*delta*delta)
	}
	s.Samples++
}

// StdDev returns the rolling standard deviation derived from
// EWMVariance.
func (s *RollingStats) StdDev() float64 {
	if s.EWMVariance <= 0 {
		return 0
	}
	return math.Sqrt(s.EWMVariance)
}
