package execute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbcore/solarb"
)

type fakeRPC struct {
	balance      uint64
	simErr       error
	sendErr      error
	sendFailures int // number of initial SendTransaction calls to fail before succeeding
	sendCalls    int
	confirmErr   error
}

func (f *fakeRPC) LatestBlockhash(ctx context.Context) (solana.Hash, error) { return solana.Hash{}, nil }
func (f *fakeRPC) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return f.balance, nil
}
func (f *fakeRPC) SimulateTransaction(ctx context.Context, tx *solana.Transaction) error {
	return f.simErr
}
func (f *fakeRPC) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.sendCalls++
	if f.sendCalls <= f.sendFailures {
		return solana.Signature{}, errors.New("send failed")
	}
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	var sig solana.Signature
	sig[0] = byte(f.sendCalls)
	return sig, nil
}
func (f *fakeRPC) ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	return f.confirmErr
}

type fakeSigner struct{ pk solana.PublicKey }

func (s fakeSigner) PublicKey() solana.PublicKey   { return s.pk }
func (s fakeSigner) Sign(tx *solana.Transaction) error {
	tx.Signatures = append(tx.Signatures, solana.Signature{1})
	return nil
}

func newExecutor(cfg Config, rpc RPCClient, bundle BundleClient) *Executor {
	return NewExecutor(cfg, rpc, bundle, fakeSigner{}, zerolog.Nop(), func() int { return 0 })
}

func TestExecuteAtomic_SkipsBelowMinBalance(t *testing.T) {
	rpc := &fakeRPC{balance: 100}
	e := newExecutor(Config{Mode: ModeLive, MinBalanceLamports: 1000}, rpc, nil)

	report, err := e.ExecuteAtomic(context.Background(), &solarb.Candidate{}, &solana.Transaction{}, 0, false, nil)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, "min-balance", report.SkipReason)
}

func TestExecuteAtomic_SkipsOnNegativePreflight(t *testing.T) {
	rpc := &fakeRPC{simErr: errors.New("insufficient funds for fee")}
	e := newExecutor(Config{Mode: ModeLive, LivePreflightSimulate: true}, rpc, nil)

	report, err := e.ExecuteAtomic(context.Background(), &solarb.Candidate{}, &solana.Transaction{}, 0, false, nil)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, "preflight-failed", report.SkipReason)
}

func TestExecuteAtomic_DryRunNeverSends(t *testing.T) {
	rpc := &fakeRPC{}
	e := newExecutor(Config{Mode: ModeDry}, rpc, nil)

	report, err := e.ExecuteAtomic(context.Background(), &solarb.Candidate{}, &solana.Transaction{}, 0, false, nil)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, "dry-run", report.SkipReason)
	assert.Equal(t, 0, rpc.sendCalls)
}

func TestExecuteAtomic_LiveSendsAndConfirms(t *testing.T) {
	rpc := &fakeRPC{}
	e := newExecutor(Config{Mode: ModeLive}, rpc, nil)

	report, err := e.ExecuteAtomic(context.Background(), &solarb.Candidate{}, &solana.Transaction{}, 0, false, nil)
	require.NoError(t, err)
	require.Len(t, report.Signatures, 1)
	assert.Equal(t, 1, rpc.sendCalls)
}

func TestExecuteAtomic_RetriesSendUpToMax(t *testing.T) {
	rpc := &fakeRPC{sendFailures: 2}
	e := newExecutor(Config{Mode: ModeLive, MaxSendRetries: 2}, rpc, nil)

	report, err := e.ExecuteAtomic(context.Background(), &solarb.Candidate{}, &solana.Transaction{}, 0, false, nil)
	require.NoError(t, err)
	require.Len(t, report.Signatures, 1)
	assert.Equal(t, 3, rpc.sendCalls)
}

type fakeBundle struct {
	submitErr error
	result    BundleResult
	awaitErr  error
}

func (b *fakeBundle) SubmitBundle(ctx context.Context, txs []*solana.Transaction) (string, error) {
	if b.submitErr != nil {
		return "", b.submitErr
	}
	return "bundle-1", nil
}
func (b *fakeBundle) AwaitResult(ctx context.Context, bundleID string, wait time.Duration) (BundleResult, error) {
	return b.result, b.awaitErr
}

func TestExecuteAtomic_BundleLandedConfirms(t *testing.T) {
	rpc := &fakeRPC{}
	bundle := &fakeBundle{result: BundleResult{Landed: true}}
	e := newExecutor(Config{Mode: ModeLive, JitoEnabled: true, JitoWaitDuration: time.Second}, rpc, bundle)

	report, err := e.ExecuteAtomic(context.Background(), &solarb.Candidate{}, &solana.Transaction{}, 0, true, nil)
	require.NoError(t, err)
	require.Len(t, report.Signatures, 1)
	assert.False(t, report.FallbackRPC)
}

func TestExecuteAtomic_BundleRejectedFallsBackToRPCWithoutTip(t *testing.T) {
	rpc := &fakeRPC{}
	bundle := &fakeBundle{result: BundleResult{Rejected: true}}
	e := newExecutor(Config{Mode: ModeLive, JitoEnabled: true, JitoWaitDuration: time.Second, JitoFallbackRPC: true}, rpc, bundle)

	rebuildCalled := false
	rebuild := func() (*solana.Transaction, error) {
		rebuildCalled = true
		return &solana.Transaction{}, nil
	}

	report, err := e.ExecuteAtomic(context.Background(), &solarb.Candidate{}, &solana.Transaction{}, 0, true, rebuild)
	require.NoError(t, err)
	assert.True(t, rebuildCalled)
	assert.True(t, report.FallbackRPC)
	require.Len(t, report.Signatures, 1)
}

func TestExecuteAtomic_BundleRejectedNoFallbackReturnsError(t *testing.T) {
	rpc := &fakeRPC{}
	bundle := &fakeBundle{result: BundleResult{Rejected: true}}
	e := newExecutor(Config{Mode: ModeLive, JitoEnabled: true, JitoWaitDuration: time.Second, JitoFallbackRPC: false}, rpc, bundle)

	_, err := e.ExecuteAtomic(context.Background(), &solarb.Candidate{}, &solana.Transaction{}, 0, true, nil)
	assert.Error(t, err)
}

func TestExecuteAtomic_BundleAwaitTimeoutReturnsWithoutConfirmation(t *testing.T) {
	rpc := &fakeRPC{}
	bundle := &fakeBundle{awaitErr: errors.New("await deadline exceeded")}
	e := newExecutor(Config{Mode: ModeLive, JitoEnabled: true, JitoWaitDuration: time.Second}, rpc, bundle)

	report, err := e.ExecuteAtomic(context.Background(), &solarb.Candidate{}, &solana.Transaction{}, 0, true, nil)
	require.NoError(t, err)
	require.Len(t, report.Signatures, 1)
}

func TestExecuteSequential_SignsSendsConfirmsInOrder(t *testing.T) {
	rpc := &fakeRPC{}
	e := newExecutor(Config{Mode: ModeLive}, rpc, nil)

	legs := []*solana.Transaction{{}, {}}
	report, err := e.ExecuteSequential(context.Background(), legs, []uint64{100, 200})
	require.NoError(t, err)
	assert.Len(t, report.Signatures, 2)
	assert.Equal(t, 2, rpc.sendCalls)
}

func TestExecuteSequential_StopsAtFirstSendFailure(t *testing.T) {
	rpc := &fakeRPC{sendFailures: 99} // always fails within retry budget
	e := newExecutor(Config{Mode: ModeLive, MaxSendRetries: 0}, rpc, nil)

	legs := []*solana.Transaction{{}, {}}
	report, err := e.ExecuteSequential(context.Background(), legs, []uint64{100, 200})
	require.Error(t, err)
	assert.Empty(t, report.Signatures)
}

func TestUltraLegFailed_Table(t *testing.T) {
	cases := []struct {
		name   string
		result UltraLegResult
		failed bool
	}{
		{"success", UltraLegResult{Status: "Success"}, false},
		{"failed-status", UltraLegResult{Status: "Failed"}, true},
		{"reverted-status", UltraLegResult{Status: "Reverted"}, true},
		{"nonzero-code", UltraLegResult{Status: "Success", Code: 7}, true},
		{"error-field", UltraLegResult{Status: "Success", Error: "slippage exceeded"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.failed, UltraLegFailed(c.result))
		})
	}
}

func TestUltraPreconditionsOK_RejectsTriangular(t *testing.T) {
	pair := &solarb.Pair{MintA: nativeSOLMint, Triangular: true}
	ok, reason := UltraPreconditionsOK(pair, true)
	assert.False(t, ok)
	assert.Equal(t, "ultra-does-not-support-triangular", reason)
}

func TestUltraPreconditionsOK_RejectsNonNativeMintA(t *testing.T) {
	pair := &solarb.Pair{MintA: solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")}
	ok, reason := UltraPreconditionsOK(pair, true)
	assert.False(t, ok)
	assert.Equal(t, "ultra-requires-sol-amint", reason)
}

func TestUltraPreconditionsOK_RejectsAtomicStrategy(t *testing.T) {
	pair := &solarb.Pair{MintA: nativeSOLMint}
	ok, reason := UltraPreconditionsOK(pair, false)
	assert.False(t, ok)
	assert.Equal(t, "ultra-atomic-unsupported", reason)
}

func TestUltraPreconditionsOK_AllowsSequentialNativeLoop(t *testing.T) {
	pair := &solarb.Pair{MintA: nativeSOLMint}
	ok, _ := UltraPreconditionsOK(pair, true)
	assert.True(t, ok)
}
