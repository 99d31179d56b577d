package fee

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel_NetworkFeeLamports_BaseOnly(t *testing.T) {
	m := Model{Signatures: 1}
	assert.Equal(t, LamportsPerSignature, m.NetworkFeeLamports())
}

func TestModel_NetworkFeeLamports_CustomBaseFeeFromConfig(t *testing.T) {
	m := Model{Signatures: 2, BaseFeeLamports: 7_500}
	assert.Equal(t, uint64(15_000), m.NetworkFeeLamports())
}

func TestModel_NetworkFeeLamports_WithPriorityFee(t *testing.T) {
	// 2 transactions, each paying 2_000_000 micro-lamports = 2 lamports priority.
	m := Model{Signatures: 2, ComputeUnitLimit: 200_000, ComputeUnitPrice: 10}
	assert.Equal(t, 2*LamportsPerSignature+2*2, m.NetworkFeeLamports())
}

func TestModel_NetworkFeeLamports_RoundsUpPriorityFee(t *testing.T) {
	m := Model{Signatures: 1, ComputeUnitLimit: 1, ComputeUnitPrice: 1} // 1 micro-lamport rounds up to 1 lamport
	assert.Equal(t, LamportsPerSignature+1, m.NetworkFeeLamports())
}

func TestModel_NetworkFeeLamports_WithRentBuffer(t *testing.T) {
	m := Model{Signatures: 2, RentBufferLamports: 890_880}
	assert.Equal(t, 2*LamportsPerSignature+2*890_880, m.NetworkFeeLamports())
}

func TestModel_NetworkFeeLamports_RentAndPriorityCombineAcrossTxCount(t *testing.T) {
	m := Model{Signatures: 2, RentBufferLamports: 1_000, ComputeUnitLimit: 200_000, ComputeUnitPrice: 10}
	assert.Equal(t, 2*LamportsPerSignature+2*1_000+2*2, m.NetworkFeeLamports())
}

func TestModel_TipLamports_Fixed(t *testing.T) {
	m := Model{FixedTipLamports: 12345}
	assert.Equal(t, uint64(12345), m.TipLamports(big.NewInt(999_999)))
}

func TestModel_TipLamports_DynamicWithinBand(t *testing.T) {
	m := Model{DynamicTip: true, TipBps: 1000, TipFloorLamports: 100, TipCeilLamports: 100_000}
	assert.Equal(t, uint64(10_000), m.TipLamports(big.NewInt(100_000)))
}

func TestModel_TipLamports_DynamicClampsToFloor(t *testing.T) {
	m := Model{DynamicTip: true, TipBps: 1000, TipFloorLamports: 500, TipCeilLamports: 100_000}
	assert.Equal(t, uint64(500), m.TipLamports(big.NewInt(1_000)))
}

func TestModel_TipLamports_DynamicClampsToCeil(t *testing.T) {
	m := Model{DynamicTip: true, TipBps: 1000, TipFloorLamports: 100, TipCeilLamports: 5_000}
	assert.Equal(t, uint64(5_000), m.TipLamports(big.NewInt(10_000_000)))
}

func TestModel_TipLamports_DynamicNonPositiveProfitUsesFloor(t *testing.T) {
	m := Model{DynamicTip: true, TipBps: 1000, TipFloorLamports: 250, TipCeilLamports: 5_000}
	assert.Equal(t, uint64(250), m.TipLamports(big.NewInt(-1)))
	assert.Equal(t, uint64(250), m.TipLamports(nil))
}

type fakeConverter struct {
	rate *big.Int // mint-A units per 1_000_000 lamports
	err  error
}

func (f fakeConverter) LamportsToMintA(_ context.Context, lamports uint64) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := new(big.Int).Mul(big.NewInt(int64(lamports)), f.rate)
	return out.Quo(out, big.NewInt(1_000_000)), nil
}

func TestTotalFeeInA_NilConverterAssumesNativeSOL(t *testing.T) {
	got, err := TotalFeeInA(context.Background(), nil, 5_000, 1_000)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(6_000), got)
}

func TestTotalFeeInA_UsesConverter(t *testing.T) {
	conv := fakeConverter{rate: big.NewInt(50_000_000)} // 1 lamport -> 50 mint-A units
	got, err := TotalFeeInA(context.Background(), conv, 5_000, 1_000)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(300_000), got)
}

func TestTotalFeeInA_PropagatesConverterError(t *testing.T) {
	conv := fakeConverter{err: errors.New("quote unavailable")}
	_, err := TotalFeeInA(context.Background(), conv, 5_000, 1_000)
	assert.Error(t, err)
}
