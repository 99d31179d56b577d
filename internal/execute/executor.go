package execute

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/arbcore/solarb"
)

// Mode selects whether the Executor actually sends transactions.
type Mode int

const (
	ModeDry Mode = iota
	ModeLive
)

// RPCClient is the subset of Solana RPC the Executor needs. Kept
// narrow and interface-typed so tests can fake it without a live node.
type RPCClient interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) error
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error
}

// BundleResult is the block-engine's response to a submitted bundle.
type BundleResult struct {
	Landed   bool
	Rejected bool
	Dropped  bool
	Err      error
}

// BundleClient abstracts the Jito-style block-engine bundle path.
type BundleClient interface {
	SubmitBundle(ctx context.Context, txs []*solana.Transaction) (bundleID string, err error)
	AwaitResult(ctx context.Context, bundleID string, wait time.Duration) (BundleResult, error)
}

// Signer signs a transaction in place.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// Config is the Executor's static policy (spec §4.7).
type Config struct {
	Mode                  Mode
	LivePreflightSimulate bool
	MinBalanceLamports    uint64
	BalanceCacheTTL       time.Duration // default from balance-refresh-ms

	JitoEnabled      bool
	JitoWaitDuration time.Duration
	JitoFallbackRPC  bool

	MaxSendRetries int // default 2
}

// Report is what one execution attempt returns for the event log.
type Report struct {
	Signatures  []solana.Signature
	FallbackRPC bool
	Skipped     bool
	SkipReason  string
}

// Executor drives the send paths. balanceCache caches the wallet's
// native balance for MinBalanceLamports preflight checks.
type Executor struct {
	cfg     Config
	rpc     RPCClient
	bundle  BundleClient
	signer  Signer
	logger  zerolog.Logger
	randSrc func() int

	balMu      sync.Mutex
	balance    uint64
	balanceAt  time.Time
}

// NewExecutor constructs an Executor. randSrc supplies the tip-account
// randomness source (spec §4.7 step 7); production wiring passes a
// crypto/rand-backed source.
func NewExecutor(cfg Config, rpc RPCClient, bundle BundleClient, signer Signer, logger zerolog.Logger, randSrc func() int) *Executor {
	if cfg.MaxSendRetries <= 0 {
		cfg.MaxSendRetries = 2
	}
	if cfg.BalanceCacheTTL <= 0 {
		cfg.BalanceCacheTTL = 5 * time.Second
	}
	return &Executor{cfg: cfg, rpc: rpc, bundle: bundle, signer: signer, logger: logger, randSrc: randSrc}
}

// checkMinBalance implements spec §4.7 "Preconditions": in live mode
// with a configured floor, fetch (cached) wallet balance and skip if
// below it.
func (e *Executor) checkMinBalance(ctx context.Context) (ok bool, err error) {
	if e.cfg.Mode != ModeLive || e.cfg.MinBalanceLamports == 0 {
		return true, nil
	}
	e.balMu.Lock()
	stale := time.Since(e.balanceAt) > e.cfg.BalanceCacheTTL
	bal := e.balance
	e.balMu.Unlock()
	if stale {
		bal, err = e.rpc.GetBalance(ctx, e.signer.PublicKey())
		if err != nil {
			return false, err
		}
		e.balMu.Lock()
		e.balance = bal
		e.balanceAt = time.Now()
		e.balMu.Unlock()
	}
	return bal >= e.cfg.MinBalanceLamports, nil
}

// preflight simulates tx when configured; returns false (skip,
// never send) on a negative simulation.
func (e *Executor) preflight(ctx context.Context, tx *solana.Transaction) (ok bool, err error) {
	if e.cfg.Mode != ModeLive || !e.cfg.LivePreflightSimulate {
		return true, nil
	}
	if simErr := e.rpc.SimulateTransaction(ctx, tx); simErr != nil {
		e.logger.Warn().Err(simErr).Msg("preflight negative")
		return false, nil
	}
	return true, nil
}

func (e *Executor) sendWithRetries(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxSendRetries; attempt++ {
		sig, err := e.rpc.SendTransaction(ctx, tx)
		if err == nil {
			return sig, nil
		}
		lastErr = err
	}
	return solana.Signature{}, fmt.Errorf("execute: send failed after %d attempts: %w", e.cfg.MaxSendRetries+1, lastErr)
}

// ExecuteAtomic signs and sends one pre-built atomic plan, optionally
// through the bundle path (spec §4.7 "Bundle path").
func (e *Executor) ExecuteAtomic(ctx context.Context, candidate *solarb.Candidate, tx *solana.Transaction, lastValidBlockHeight uint64, hadTip bool, rebuildWithoutTip func() (*solana.Transaction, error)) (Report, error) {
	if ok, err := e.checkMinBalance(ctx); err != nil {
		return Report{}, err
	} else if !ok {
		return Report{Skipped: true, SkipReason: "min-balance"}, nil
	}

	if err := e.signer.Sign(tx); err != nil {
		return Report{}, fmt.Errorf("execute: sign atomic tx: %w", err)
	}

	if ok, err := e.preflight(ctx, tx); err != nil {
		return Report{}, err
	} else if !ok {
		return Report{Skipped: true, SkipReason: "preflight-failed"}, nil
	}

	if e.cfg.Mode != ModeLive {
		return Report{Skipped: true, SkipReason: "dry-run"}, nil
	}

	if e.cfg.JitoEnabled && e.bundle != nil {
		return e.executeBundle(ctx, tx, lastValidBlockHeight, hadTip, rebuildWithoutTip)
	}

	sig, err := e.sendWithRetries(ctx, tx)
	if err != nil {
		return Report{}, err
	}
	if err := e.rpc.ConfirmTransaction(ctx, sig, lastValidBlockHeight); err != nil {
		return Report{Signatures: []solana.Signature{sig}}, err
	}
	return Report{Signatures: []solana.Signature{sig}}, nil
}

func (e *Executor) executeBundle(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64, hadTip bool, rebuildWithoutTip func() (*solana.Transaction, error)) (Report, error) {
	bundleID, err := e.bundle.SubmitBundle(ctx, []*solana.Transaction{tx})
	if err != nil {
		return e.maybeFallback(ctx, tx, lastValidBlockHeight, hadTip, rebuildWithoutTip, err)
	}

	if e.cfg.JitoWaitDuration <= 0 {
		return Report{Signatures: []solana.Signature{tx.Signatures[0]}}, nil
	}

	result, err := e.bundle.AwaitResult(ctx, bundleID, e.cfg.JitoWaitDuration)
	if err != nil {
		return Report{Signatures: []solana.Signature{tx.Signatures[0]}}, nil // timeout: return without confirmation
	}

	if result.Landed {
		if confirmErr := e.rpc.ConfirmTransaction(ctx, tx.Signatures[0], lastValidBlockHeight); confirmErr != nil {
			return Report{Signatures: []solana.Signature{tx.Signatures[0]}}, confirmErr
		}
		return Report{Signatures: []solana.Signature{tx.Signatures[0]}}, nil
	}

	if result.Rejected || result.Dropped || result.Err != nil {
		cause := result.Err
		if cause == nil {
			cause = fmt.Errorf("bundle rejected=%t dropped=%t", result.Rejected, result.Dropped)
		}
		return e.maybeFallback(ctx, tx, lastValidBlockHeight, hadTip, rebuildWithoutTip, cause)
	}

	return Report{Signatures: []solana.Signature{tx.Signatures[0]}}, nil
}

func (e *Executor) maybeFallback(ctx context.Context, _ *solana.Transaction, lastValidBlockHeight uint64, hadTip bool, rebuildWithoutTip func() (*solana.Transaction, error), cause error) (Report, error) {
	if e.cfg.JitoWaitDuration <= 0 || !e.cfg.JitoFallbackRPC || rebuildWithoutTip == nil {
		if cause != nil {
			return Report{}, fmt.Errorf("execute: bundle failed, no fallback: %w", cause)
		}
		return Report{}, nil
	}

	fresh, err := rebuildWithoutTip()
	if err != nil {
		return Report{}, fmt.Errorf("execute: rebuild without tip: %w", err)
	}
	if err := e.signer.Sign(fresh); err != nil {
		return Report{}, fmt.Errorf("execute: sign fallback tx: %w", err)
	}
	sig, err := e.sendWithRetries(ctx, fresh)
	if err != nil {
		return Report{}, err
	}
	if err := e.rpc.ConfirmTransaction(ctx, sig, lastValidBlockHeight); err != nil {
		return Report{Signatures: []solana.Signature{sig}, FallbackRPC: true}, err
	}
	_ = hadTip
	return Report{Signatures: []solana.Signature{sig}, FallbackRPC: true}, nil
}

// ExecuteSequential sends a list of already-built, unsigned
// per-leg transactions in order, signing and confirming each before
// moving to the next (spec §4.7 "Sequential send").
func (e *Executor) ExecuteSequential(ctx context.Context, legs []*solana.Transaction, lastValidBlockHeights []uint64) (Report, error) {
	if ok, err := e.checkMinBalance(ctx); err != nil {
		return Report{}, err
	} else if !ok {
		return Report{Skipped: true, SkipReason: "min-balance"}, nil
	}

	report := Report{}
	for i, tx := range legs {
		if err := e.signer.Sign(tx); err != nil {
			return report, fmt.Errorf("execute: sign leg %d: %w", i+1, err)
		}
		if ok, err := e.preflight(ctx, tx); err != nil {
			return report, err
		} else if !ok {
			return report, fmt.Errorf("execute: leg %d: preflight-failed", i+1)
		}
		if e.cfg.Mode != ModeLive {
			report.Skipped = true
			report.SkipReason = "dry-run"
			continue
		}
		sig, err := e.sendWithRetries(ctx, tx)
		if err != nil {
			return report, fmt.Errorf("execute: leg %d send: %w", i+1, err)
		}
		report.Signatures = append(report.Signatures, sig)
		if err := e.rpc.ConfirmTransaction(ctx, sig, lastValidBlockHeights[i]); err != nil {
			return report, fmt.Errorf("execute: leg %d confirm: %w", i+1, err)
		}
	}
	return report, nil
}

// UltraLegResult captures one Ultra execute() response for failure
// classification.
type UltraLegResult struct {
	Status string
	Code   int
	Error  string
}

// UltraLegFailed implements spec §4.7 "Ultra execution" failure
// classification: status contains fail/error/revert/reject
// (case-insensitive), code != 0, or a non-empty error field.
func UltraLegFailed(r UltraLegResult) bool {
	if r.Error != "" {
		return true
	}
	if r.Code != 0 {
		return true
	}
	status := strings.ToLower(r.Status)
	for _, bad := range []string{"fail", "error", "revert", "reject"} {
		if strings.Contains(status, bad) {
			return true
		}
	}
	return false
}

// UltraPreconditionsOK implements spec §4.7 "Ultra restrictions": a
// triangular pair or a non-native mint A is rejected at execute time,
// and Ultra requires the sequential execution strategy.
func UltraPreconditionsOK(pair *solarb.Pair, sequentialStrategy bool) (ok bool, reason string) {
	if pair.IsTriangular() {
		return false, "ultra-does-not-support-triangular"
	}
	if !pair.MintA.Equals(nativeSOLMint) {
		return false, "ultra-requires-sol-amint"
	}
	if !sequentialStrategy {
		return false, "ultra-atomic-unsupported"
	}
	return true, ""
}

var nativeSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
