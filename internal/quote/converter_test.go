package quote

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbcore/solarb"
)

type stubPrimary struct {
	PrimaryClient
	outAmount *big.Int
	calls     atomic.Int32
}

func (s *stubPrimary) QuoteExactIn(ctx context.Context, req ExactInRequest) (solarb.Quote, error) {
	s.calls.Add(1)
	return solarb.Quote{OutAmount: s.outAmount}, nil
}

func TestFeeConverter_NativeSOLPassesThrough(t *testing.T) {
	mintA := nativeSOL
	fc := &FeeConverter{MintA: mintA, Cache: NewFeeConversionCache(time.Second)}
	got, err := fc.LamportsToMintA(context.Background(), 12345)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(12345), got)
}

func TestFeeConverter_ScalesReferenceQuoteAndCaches(t *testing.T) {
	usdc := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	stub := &stubPrimary{outAmount: big.NewInt(200_000_000)} // 200 USDC-units per 1 SOL
	fc := &FeeConverter{
		Primary:  stub,
		Cache:    NewFeeConversionCache(time.Second),
		PairName: "SOL/USDC",
		MintA:    usdc,
	}

	got, err := fc.LamportsToMintA(context.Background(), oneSOLLamports/2)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100_000_000), got)

	_, err = fc.LamportsToMintA(context.Background(), oneSOLLamports/4)
	require.NoError(t, err)
	assert.Equal(t, int32(1), stub.calls.Load(), "reference quote must be cached across calls")
}
