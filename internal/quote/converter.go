package quote

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/arbcore/solarb"
)

// nativeSOL is the mint address Solana reserves for wrapped/native SOL.
var nativeSOL = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// FeeConverter implements fee.Converter by quoting one native SOL unit
// (1e9 lamports) into mint A through Primary and scaling the result
// linearly, per spec §4.3. Results are cached with FeeConversionCache
// keyed on the owning pair.
type FeeConverter struct {
	Primary     PrimaryClient
	Cache       *FeeConversionCache
	PairName    string
	MintA       solana.PublicKey
	SlippageBps int
}

const oneSOLLamports = 1_000_000_000

// LamportsToMintA converts lamports into mint A's native units.
func (fc *FeeConverter) LamportsToMintA(ctx context.Context, lamports uint64) (*big.Int, error) {
	if fc.MintA.Equals(nativeSOL) {
		return big.NewInt(int64(lamports)), nil
	}

	key := FeeConversionCacheKey{
		Pair:        fc.PairName,
		MintA:       fc.MintA.String(),
		SlippageBps: fc.SlippageBps,
		Provider:    solarb.ProviderPrimary,
	}

	perSOL, err := fc.Cache.Get(ctx, key, func(ctx context.Context) (*big.Int, error) {
		q, err := fc.Primary.QuoteExactIn(ctx, ExactInRequest{
			InMint:      nativeSOL,
			OutMint:     fc.MintA,
			Amount:      big.NewInt(oneSOLLamports),
			SlippageBps: fc.SlippageBps,
		})
		if err != nil {
			return nil, fmt.Errorf("fee converter: reference quote: %w", err)
		}
		return q.OutAmount, nil
	})
	if err != nil {
		return nil, err
	}

	out := new(big.Int).Mul(perSOL, big.NewInt(int64(lamports)))
	return out.Quo(out, big.NewInt(oneSOLLamports)), nil
}
