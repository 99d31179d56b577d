package decide

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func big64(v int64) *big.Int { return big.NewInt(v) }

func TestDecide_ProfitableWhenConservativeMeetsThreshold(t *testing.T) {
	d := Decide(Request{
		In:           big64(1_000_000),
		Out:          big64(1_050_000),
		MinOut:       big64(1_020_000),
		FeeInA:       big64(5_000),
		MinProfitInA: big64(10_000),
	})
	require.NotNil(t, d.Profit)
	assert.Equal(t, big64(45_000), d.Profit)
	assert.Equal(t, big64(15_000), d.ConservativeProfit)
	assert.True(t, d.Profitable)
}

func TestDecide_NotProfitableBelowThreshold(t *testing.T) {
	d := Decide(Request{
		In:           big64(1_000_000),
		Out:          big64(1_010_000),
		MinOut:       big64(1_005_000),
		FeeInA:       big64(5_000),
		MinProfitInA: big64(10_000),
	})
	assert.Equal(t, 0, d.ConservativeProfit.Sign())
	assert.False(t, d.Profitable)
}

func TestDecide_NegativeProfitIsNotProfitable(t *testing.T) {
	d := Decide(Request{
		In:           big64(1_000_000),
		Out:          big64(990_000),
		MinOut:       big64(980_000),
		FeeInA:       big64(5_000),
		MinProfitInA: big64(0),
	})
	assert.Equal(t, -1, d.ConservativeProfit.Sign())
	assert.False(t, d.Profitable)
}

func TestDecide_ExactlyAtThresholdIsProfitable(t *testing.T) {
	d := Decide(Request{
		In:           big64(1_000_000),
		Out:          big64(1_020_000),
		MinOut:       big64(1_015_000),
		FeeInA:       big64(5_000),
		MinProfitInA: big64(10_000),
	})
	assert.Equal(t, big64(10_000), d.ConservativeProfit)
	assert.True(t, d.Profitable)
}

func TestMinProfitInA_FlatFloorWhenBpsUnset(t *testing.T) {
	got := MinProfitInA(big64(10_000), 0, big64(5_000_000))
	assert.Equal(t, big64(10_000), got)
}

func TestMinProfitInA_BpsDominatesWhenLarger(t *testing.T) {
	// 5_000_000 * 50bps / 10000 = 25_000, which beats the flat floor.
	got := MinProfitInA(big64(10_000), 50, big64(5_000_000))
	assert.Equal(t, big64(25_000), got)
}

func TestMinProfitInA_FlatFloorDominatesWhenBpsSmaller(t *testing.T) {
	// 100_000 * 5bps / 10000 = 50, which is below the flat floor.
	got := MinProfitInA(big64(10_000), 5, big64(100_000))
	assert.Equal(t, big64(10_000), got)
}

func TestMinProfitInA_ZeroAmountFallsBackToFlatFloor(t *testing.T) {
	got := MinProfitInA(big64(10_000), 50, big64(0))
	assert.Equal(t, big64(10_000), got)
}

func TestInProcess_MatchesDecide(t *testing.T) {
	req := Request{
		In:           big64(1_000_000),
		Out:          big64(1_050_000),
		MinOut:       big64(1_020_000),
		FeeInA:       big64(5_000),
		MinProfitInA: big64(10_000),
	}
	var dec Decider = InProcess{}
	got := dec.Decide(context.Background(), req)
	want := Decide(req)
	assert.Equal(t, want.Profitable, got.Profitable)
	assert.Equal(t, want.ConservativeProfit, got.ConservativeProfit)
}

func TestOffloaded_FallsBackWhenSubprocessMissing(t *testing.T) {
	// A nonexistent binary fails to start, so Decide must fall back to
	// the in-process computation rather than panicking or hanging.
	o := NewOffloaded("/nonexistent/solarb-decider-binary")
	req := Request{
		In:           big64(1_000_000),
		Out:          big64(1_050_000),
		MinOut:       big64(1_020_000),
		FeeInA:       big64(5_000),
		MinProfitInA: big64(10_000),
	}
	got := o.Decide(context.Background(), req)
	want := Decide(req)
	assert.Equal(t, want.ConservativeProfit, got.ConservativeProfit)
	assert.Equal(t, want.Profitable, got.Profitable)
}
