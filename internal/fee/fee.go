// Package fee implements the Fee & Tip Model (C3): converting Solana
// network fees and Jito-style tips, denominated in lamports, into the
// pair's quote-in mint A so the Decider can subtract them exactly.
package fee

import (
	"context"
	"math/big"
)

// LamportsPerSignature is the fallback base fee Solana charges per
// required transaction signature, used only when a Model carries no
// BaseFeeLamports (e.g. a zero-value Model in a test); callers
// normally populate BaseFeeLamports from Env.FeeBaseLamports (spec §6).
const LamportsPerSignature uint64 = 5_000

// Model parameters are static per-pair fee/tip policy, loaded from the
// pair config (spec §6).
type Model struct {
	// Signatures is the total billable signature count across the
	// transaction(s) a candidate would submit. Per spec §4.3's fee
	// formula (fee = baseFee·txCount·sigsPerTx + rentBuffer·txCount +
	// priority·txCount + tip), base fee, rent buffer, and priority fee
	// all scale with it; each call site sets it to the applicable
	// txCount for the strategy being quoted.
	Signatures uint64

	// BaseFeeLamports is the lamports-per-signature rate (Env.
	// FeeBaseLamports, spec §6 "fee and compute-budget defaults"). Zero
	// falls back to LamportsPerSignature.
	BaseFeeLamports uint64

	// ComputeUnitLimit/ComputeUnitPrice mirror Pair.ComputeUnitLimit/
	// ComputeUnitPrice; a zero limit or zero price means no priority fee
	// is attached.
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64 // micro-lamports per compute unit

	// RentBufferLamports is the per-transaction rent-exemption buffer
	// spec §4.3 folds into the fee formula (Pair.RentBufferLamports or
	// Env.FeeRentBufferLamports).
	RentBufferLamports uint64

	// FixedTipLamports is used verbatim when DynamicTip is false.
	FixedTipLamports uint64

	// DynamicTip scales the tip with conservative profit: tip =
	// clamp(profit * TipBps / 10000, TipFloorLamports, TipCeilLamports).
	DynamicTip      bool
	TipBps          int
	TipFloorLamports uint64
	TipCeilLamports  uint64
}

// NetworkFeeLamports returns the expected base + rent-buffer + priority
// fee for the transaction(s) this model prices, excluding any tip
// (spec §4.3: fee = baseFee·txCount·sigsPerTx + rentBuffer·txCount +
// priority·txCount + tip).
func (m Model) NetworkFeeLamports() uint64 {
	baseFee := m.BaseFeeLamports
	if baseFee == 0 {
		baseFee = LamportsPerSignature
	}
	base := m.Signatures * baseFee
	rent := m.Signatures * m.RentBufferLamports
	if m.ComputeUnitPrice == 0 || m.ComputeUnitLimit == 0 {
		return base + rent
	}
	// priority fee lamports = ceil(computeUnitLimit * computeUnitPrice / 1_000_000)
	micro := new(big.Int).Mul(big.NewInt(int64(m.ComputeUnitLimit)), big.NewInt(int64(m.ComputeUnitPrice)))
	million := big.NewInt(1_000_000)
	priority := new(big.Int).Add(micro, new(big.Int).Sub(million, big.NewInt(1)))
	priority.Quo(priority, million)
	return base + rent + priority.Uint64()*m.Signatures
}

// TipLamports returns the tip to attach for a candidate whose
// conservative profit (in mint A, converted to lamports by the caller
// when A is not native SOL) is conservativeProfitLamports.
func (m Model) TipLamports(conservativeProfitLamports *big.Int) uint64 {
	if !m.DynamicTip {
		return m.FixedTipLamports
	}
	if conservativeProfitLamports == nil || conservativeProfitLamports.Sign() <= 0 {
		return m.TipFloorLamports
	}
	tip := new(big.Int).Mul(conservativeProfitLamports, big.NewInt(int64(m.TipBps)))
	tip.Quo(tip, big.NewInt(10_000))
	t := tip.Uint64()
	if t < m.TipFloorLamports {
		return m.TipFloorLamports
	}
	if t > m.TipCeilLamports {
		return m.TipCeilLamports
	}
	return t
}

// Converter turns a lamport amount into mint A's native units, using a
// one-native-unit reference quote (spec §4.3) when A is not native
// SOL. It is implemented by internal/quote to avoid an import cycle.
type Converter interface {
	LamportsToMintA(ctx context.Context, lamports uint64) (*big.Int, error)
}

// TotalFeeInA returns the network fee plus tip, converted into mint
// A's native units via conv. When conv is nil, A is assumed to be
// native SOL and lamports are returned unconverted.
func TotalFeeInA(ctx context.Context, conv Converter, networkFeeLamports, tipLamports uint64) (*big.Int, error) {
	total := networkFeeLamports + tipLamports
	if conv == nil {
		return big.NewInt(int64(total)), nil
	}
	return conv.LamportsToMintA(ctx, total)
}
