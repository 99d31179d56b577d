package quote

import (
	"context"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/arbcore/solarb"
)

// ExactInRequest is the uniform quote-only request shape shared by
// Primary and Secondary.
type ExactInRequest struct {
	InMint      solana.PublicKey
	OutMint     solana.PublicKey
	Amount      *big.Int
	SlippageBps int
	Include     []string
	Exclude     []string
}

// SwapInstructions mirrors Primary's buildSwapInstructions response:
// the instruction groups the Executor/Builder composes into one
// versioned transaction.
type SwapInstructions struct {
	Setup                 []solana.Instruction
	ComputeBudget          []solana.Instruction
	Other                  []solana.Instruction
	Swap                   solana.Instruction
	Cleanup                []solana.Instruction
	LookupTableAddresses   []solana.PublicKey
}

// UltraOrder is Ultra's order() response: a pre-built unsigned
// transaction plus the request id required to call execute().
type UltraOrder struct {
	Quote          solarb.Quote
	Transaction    *solana.Transaction
	RequestID      string
}

// UltraExecuteResult is Ultra's execute() response.
type UltraExecuteResult struct {
	Status    string // "Success" | "Failed"
	Signature string
	Error     string
	Code      int
}

// PrimaryClient is the Quote Gateway's Primary surface (spec §4.2).
// Implementations cover both the quote-only and Ultra variants; a
// given deployment uses one or the other per pair.
type PrimaryClient interface {
	QuoteExactIn(ctx context.Context, req ExactInRequest) (solarb.Quote, error)
	BuildSwapTransaction(ctx context.Context, q solarb.Quote, userPk solana.PublicKey, cuPriceMicroLamports *uint64) (*solana.Transaction, uint64, error)
	BuildSwapInstructions(ctx context.Context, q solarb.Quote, userPk solana.PublicKey, cuPriceMicroLamports *uint64) (SwapInstructions, error)

	UltraOrder(ctx context.Context, inMint, outMint solana.PublicKey, amount *big.Int, taker solana.PublicKey, excludeDexes []string) (UltraOrder, error)
	UltraExecute(ctx context.Context, signedTxBase64, requestID string) (UltraExecuteResult, error)
}

// SecondaryClient is the Quote Gateway's Secondary surface.
type SecondaryClient interface {
	QuoteExactIn(ctx context.Context, req ExactInRequest) (solarb.Quote, error)
	Swap(ctx context.Context, q solarb.Quote, account solana.PublicKey) (txData []byte, lastValidBlockHeight uint64, err error)
}
