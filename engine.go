package solarb

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/arbcore/solarb/internal/config"
	"github.com/arbcore/solarb/internal/decide"
	"github.com/arbcore/solarb/internal/eventlog"
	"github.com/arbcore/solarb/internal/execute"
	"github.com/arbcore/solarb/internal/fee"
	"github.com/arbcore/solarb/internal/health"
	"github.com/arbcore/solarb/internal/quote"
	"github.com/arbcore/solarb/internal/ratelimit"
	"github.com/arbcore/solarb/internal/scan"
	"github.com/arbcore/solarb/internal/schedule"
	"github.com/arbcore/solarb/internal/trigger"
	"github.com/arbcore/solarb/internal/wallet"
)

// Engine wires the Scanner, Trigger Engine, and Executor together per
// pair, behind the Scheduler's bounded fan-out (spec §2 system
// overview). It is the root package's analogue of the teacher's
// top-level strategy runner: one Engine per process, one goroutine
// per pair scan driven by the Scheduler.
type Engine struct {
	env    *config.Env
	pairs  []*Pair
	signer wallet.Signer

	governor  *ratelimit.Governor
	primary   quote.PrimaryClient
	secondary quote.SecondaryClient
	decider   decide.Decider
	rpc       rpcClient
	bundle    execute.BundleClient
	executor  *execute.Executor

	events    *eventlog.Log
	scheduler *schedule.Scheduler
	health    *health.Server
	logger    zerolog.Logger

	cursors map[string]int
}

// rpcClient is the RPC surface Deps.RPC must provide: execute.RPCClient,
// which the Executor uses and from which Engine itself calls
// LatestBlockhash, plus wallet.ATAChecker. Engine does not call the
// ATAChecker methods; wallet ATA bootstrap runs in cmd/solarb.
type rpcClient interface {
	execute.RPCClient
	wallet.ATAChecker
}

// Deps bundles the collaborators NewEngine does not construct itself,
// since they reach external services (RPC endpoint, bundle relay).
type Deps struct {
	RPC    rpcClient
	Bundle execute.BundleClient // nil disables the Jito bundle path
	Signer wallet.Signer
	Once   bool // scan every pair exactly once, then stop (cmd/solarb --once)
}

// NewEngine constructs an Engine from loaded config, parsed pairs, and
// external collaborators.
func NewEngine(env *config.Env, pairs []*Pair, deps Deps, logger zerolog.Logger) (*Engine, error) {
	var mirrorFn func(eventlog.Event)
	if env.MySQLDSN != "" {
		mirror, mErr := eventlog.NewMySQLMirror(env.MySQLDSN)
		if mErr != nil {
			return nil, fmt.Errorf("engine: open mysql mirror: %w", mErr)
		}
		mirrorFn = mirror.Mirror
	}

	events, err := eventlog.Open(eventlog.Config{
		Path:     env.EventLogPath,
		MaxBytes: env.EventLogMaxBytes,
		MaxFiles: env.EventLogMaxFiles,
		Mirror:   mirrorFn,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: open event log: %w", err)
	}

	primary, err := quote.NewPrimaryHTTPClient(quote.PrimaryConfig{
		QuoteBaseURL: env.PrimaryBaseURL,
		UltraBaseURL: env.PrimaryUltraBaseURL,
		APIKeys:      env.PrimaryAPIKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: build primary client: %w", err)
	}

	var secondary quote.SecondaryClient
	if env.SecondaryEnabled {
		secondary, err = quote.NewSecondaryHTTPClient(quote.SecondaryConfig{
			BaseURL: env.SecondaryBaseURL,
			APIKey:  env.SecondaryAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: build secondary client: %w", err)
		}
	}

	governor := ratelimit.NewGovernor(map[ratelimit.Upstream]ratelimit.GovernorConfig{
		ratelimit.Primary:   rateLimitToGovernorConfig(env.PrimaryRateLimit),
		ratelimit.Secondary: rateLimitToGovernorConfig(env.SecondaryRateLimit),
	})

	executor := execute.NewExecutor(execute.Config{
		Mode:                  executorMode(env.Mode),
		LivePreflightSimulate: env.LivePreflightSimulate,
		JitoEnabled:           env.JitoEnabled,
		JitoWaitDuration:      time.Duration(env.JitoWaitMs) * time.Millisecond,
		JitoFallbackRPC:       env.JitoFallbackRPC,
	}, deps.RPC, deps.Bundle, deps.Signer, logger, cryptoRandInt)

	e := &Engine{
		env:       env,
		pairs:     pairs,
		signer:    deps.Signer,
		governor:  governor,
		primary:   primary,
		secondary: secondary,
		decider:   decide.InProcess{},
		rpc:       deps.RPC,
		bundle:    deps.Bundle,
		executor:  executor,
		events:    events,
		logger:    logger,
		cursors:   make(map[string]int, len(pairs)),
	}

	// PollInterval is the gap between trigger windows for a pair; the
	// trigger itself already blocks for the observe/execute window
	// duration (spec "Scanner/Trigger loop internally during
	// observe/execute windows"), so the scheduler repeats immediately.
	sched := schedule.New(schedule.Config{
		PairConcurrency: len(pairs),
		Once:            deps.Once,
	}, pairs, e.runPair, events, logger)
	e.scheduler = sched

	e.health = health.New(env.HealthAddr, governor, sched, logger)

	return e, nil
}

// cryptoRandInt supplies the Executor's tip-account randomness source
// (spec §4.7 step 7) from crypto/rand rather than math/rand (SPEC_FULL
// §13 open-question decision).
func cryptoRandInt() int {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	v := binary.BigEndian.Uint64(buf[:])
	return int(v >> 1) // clear the sign bit; callers only use it modulo a small set size
}

func executorMode(m config.Mode) execute.Mode {
	if m == config.ModeLive {
		return execute.ModeLive
	}
	return execute.ModeDry
}

func rateLimitToGovernorConfig(r config.RateLimitEnv) ratelimit.GovernorConfig {
	cfg := ratelimit.DefaultGovernorConfig(r.RPS)
	cfg.MinRPS = r.MinRPS
	cfg.Burst = r.Burst
	cfg.PenaltyMs = r.PenaltyMs
	cfg.BackoffBase = time.Duration(r.BackoffBaseMs) * time.Millisecond
	cfg.BackoffMax = time.Duration(r.BackoffMaxMs) * time.Millisecond
	return cfg
}

// Run starts the health server (when HealthAddr is set) and drives the
// Scheduler until ctx is cancelled or a bounded-error exit condition
// fires.
func (e *Engine) Run(ctx context.Context) error {
	healthErrCh := make(chan error, 1)
	if e.env.HealthAddr != "" {
		go func() { healthErrCh <- e.health.Run(ctx) }()
	}

	runErr := e.scheduler.Run(ctx)

	select {
	case err := <-healthErrCh:
		if err != nil {
			e.logger.Warn().Err(err).Msg("health server exited with error")
		}
	default:
	}

	return runErr
}

// Close releases the engine's owned resources.
func (e *Engine) Close() error {
	return e.events.Close()
}

// runPair is the Scheduler's PairRunner: run one full trigger window
// for the pair, and execute the result when it fires.
func (e *Engine) runPair(ctx context.Context, pair *Pair) error {
	feeModel := e.feeModelFor(pair)
	scanDeps := scan.Deps{
		Primary:   e.primary,
		Secondary: e.secondary,
		Governor:  e.governor,
		Decider:   e.decider,
		PrimaryConverter: &quote.FeeConverter{
			Primary:     e.primary,
			Cache:       quote.NewFeeConversionCache(quote.FeeConversionCacheTTL(pair.Cooldown)),
			PairName:    pair.Name,
			MintA:       pair.MintA,
			SlippageBps: pair.SlippageBps,
		},
		Logger: e.logger,
	}

	scanCfg := scan.Config{
		EnableSecondary:             e.env.SecondaryEnabled,
		OpenOceanJupiterGateBps:     e.env.SecondaryGateBps,
		OpenOceanJupiterNearGateBps: e.env.SecondaryNearGateBps,
		Strategy:                    e.scanStrategy(),
		SecondarySignatureEstimate:  uint64(e.env.SecondarySignaturesEstimate),
		FeeModel:                    feeModel,
	}

	trigCfg := trigger.Config{
		Strategy:          e.triggerStrategy(),
		ObserveDuration:   time.Duration(e.env.TriggerObserveMs) * time.Millisecond,
		ObserveTick:       time.Duration(e.env.TriggerObserveEveryMs) * time.Millisecond,
		ExecuteDuration:   time.Duration(e.env.TriggerExecuteMs) * time.Millisecond,
		ExecuteTick:       time.Duration(e.env.TriggerExecuteEveryMs) * time.Millisecond,
		Alpha:             e.env.TriggerAlpha,
		MinSamples:        e.env.TriggerMinSamples,
		Lookback:          e.env.TriggerLookback,
		BollingerK:        e.env.TriggerK,
		EmergencySigma:    e.env.TriggerEmergencySigma,
		TargetPpm:         float64(pair.MinProfitBps) * 100,
		TrailDropPpm:      float64(e.env.TriggerTrailDropBps) * 100,
		AmountMode:        trigger.AmountMode(amountModeIndex(e.env.AmountMode)),
		Sizes:             pair.AmountASteps,
		PreferredAmountA:  pair.AmountA,
		MaxAmountsPerTick: e.env.AmountMaxPerTick,
		EveryNTicksSecond: e.env.SecondaryEveryNTicks,
	}

	scanFn := func(ctx context.Context, amounts []*big.Int, secondaryEnabled bool) scan.Result {
		cfg := scanCfg
		cfg.EnableSecondary = cfg.EnableSecondary && secondaryEnabled
		return scan.ScanPair(ctx, pair, amounts, cfg, scanDeps)
	}

	decision, nextCursor := trigger.Run(ctx, trigCfg, e.cursors[pair.Name], scanFn, e.logger)
	e.cursors[pair.Name] = nextCursor
	e.scheduler.SetPairStatus(pair.Name, decision.Fire, decision.State.String())

	if !decision.Fire || decision.Candidate == nil {
		return nil
	}

	return e.executeCandidate(ctx, decision.Candidate)
}

func (e *Engine) feeModelFor(pair *Pair) fee.Model {
	signatures := uint64(2)
	if pair.IsTriangular() {
		signatures = 3
	}
	computeLimit := e.env.FeeComputeUnitLimit
	if pair.ComputeUnitLimit != nil {
		computeLimit = *pair.ComputeUnitLimit
	}
	computePrice := e.env.FeeComputeUnitPrice
	if pair.ComputeUnitPrice != nil {
		computePrice = *pair.ComputeUnitPrice
	}
	rentBuffer := e.env.FeeRentBufferLamports
	if pair.RentBufferLamports != nil {
		rentBuffer = *pair.RentBufferLamports
	}
	return fee.Model{
		Signatures:         signatures,
		BaseFeeLamports:    e.env.FeeBaseLamports,
		ComputeUnitLimit:   computeLimit,
		ComputeUnitPrice:   computePrice,
		RentBufferLamports: rentBuffer,
		FixedTipLamports:   e.env.TipFixedLamports,
		DynamicTip:         e.env.TipDynamic,
		TipBps:             e.env.TipBps,
		TipFloorLamports:   e.env.TipFloorLamports,
		TipCeilLamports:    e.env.TipCeilLamports,
	}
}

func (e *Engine) scanStrategy() scan.ExecutionStrategy {
	switch e.env.ExecutionStrategy {
	case config.StrategySequential:
		return scan.StrategySequential
	default:
		if e.env.JitoEnabled {
			return scan.StrategyBundle
		}
		return scan.StrategyAtomic
	}
}

func (e *Engine) triggerStrategy() trigger.Strategy {
	switch e.env.TriggerStrategy {
	case config.TriggerAvgWindow:
		return trigger.StrategyAvgWindow
	case config.TriggerVWAP:
		return trigger.StrategyVWAP
	case config.TriggerBollinger:
		return trigger.StrategyBollinger
	default:
		return trigger.StrategyImmediate
	}
}

func amountModeIndex(m config.AmountMode) int {
	switch m {
	case config.AmountModeFixed:
		return int(trigger.AmountFixed)
	case config.AmountModeRotate:
		return int(trigger.AmountRotate)
	default:
		return int(trigger.AmountAll)
	}
}

// executeCandidate builds and sends the fired candidate's
// transaction(s), routing by Ultra-vs-atomic-vs-sequential per spec
// §4.7.
func (e *Engine) executeCandidate(ctx context.Context, c *Candidate) error {
	if c.UsedUltra {
		return e.executeUltra(ctx, c)
	}
	if e.env.ExecutionStrategy == config.StrategySequential {
		return e.executeSequential(ctx, c)
	}
	return e.executeAtomic(ctx, c)
}

func (e *Engine) executeAtomic(ctx context.Context, c *Candidate) error {
	legs := make([]quote.SwapInstructions, 0, len(c.Quotes))
	for _, q := range c.Quotes {
		ix, err := e.primary.BuildSwapInstructions(ctx, q, e.signer.PublicKey(), nil)
		if err != nil {
			e.logEvent(eventlog.Event{Type: eventlog.TypeError, Fields: map[string]any{"pair": c.Pair.Name, "error": err.Error()}})
			return fmt.Errorf("engine: build atomic leg instructions: %w", err)
		}
		legs = append(legs, ix)
	}

	hadTip := c.TipLamports > 0
	plan := execute.BuildAtomic(execute.AtomicBuildInput{
		Legs:             legs,
		Payer:            e.signer.PublicKey(),
		ComputeUnitLimit: e.env.FeeComputeUnitLimit,
		ComputeUnitPrice: e.env.FeeComputeUnitPrice,
		TipLamports:      c.TipLamports,
		RandomIndex:      cryptoRandInt(),
	})

	blockhash, err := e.rpc.LatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("engine: latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(plan.Instructions, blockhash, solana.TransactionPayer(e.signer.PublicKey()))
	if err != nil {
		return fmt.Errorf("engine: build atomic transaction: %w", err)
	}

	rebuild := func() (*solana.Transaction, error) {
		without := execute.WithoutTip(plan, hadTip)
		return solana.NewTransaction(without.Instructions, blockhash, solana.TransactionPayer(e.signer.PublicKey()))
	}

	report, err := e.executor.ExecuteAtomic(ctx, c, tx, 0, hadTip, rebuild)
	e.logEvent(eventlog.Event{Type: eventlog.TypeExecuted, Fields: map[string]any{
		"pair": c.Pair.Name, "signatures": signatureStrings(report.Signatures), "skipped": report.Skipped, "skipReason": report.SkipReason,
	}})
	return err
}

func (e *Engine) executeSequential(ctx context.Context, c *Candidate) error {
	legs := make([]*solana.Transaction, 0, len(c.Quotes))
	heights := make([]uint64, 0, len(c.Quotes))
	for _, q := range c.Quotes {
		data, lastValid, err := e.secondary.Swap(ctx, q, e.signer.PublicKey())
		if err != nil {
			return fmt.Errorf("engine: build sequential leg: %w", err)
		}
		tx, err := solana.TransactionFromBytes(data)
		if err != nil {
			return fmt.Errorf("engine: decode sequential leg transaction: %w", err)
		}
		legs = append(legs, tx)
		heights = append(heights, lastValid)
	}

	report, err := e.executor.ExecuteSequential(ctx, legs, heights)
	e.logEvent(eventlog.Event{Type: eventlog.TypeExecuted, Fields: map[string]any{
		"pair": c.Pair.Name, "signatures": signatureStrings(report.Signatures), "skipped": report.Skipped, "skipReason": report.SkipReason,
	}})
	return err
}

func (e *Engine) executeUltra(ctx context.Context, c *Candidate) error {
	if ok, reason := execute.UltraPreconditionsOK(c.Pair, e.env.ExecutionStrategy == config.StrategySequential); !ok {
		e.logEvent(eventlog.Event{Type: eventlog.TypeSkip, Fields: map[string]any{"pair": c.Pair.Name, "reason": reason}})
		return nil
	}
	if e.env.Mode != config.ModeLive {
		e.logEvent(eventlog.Event{Type: eventlog.TypeSkip, Fields: map[string]any{"pair": c.Pair.Name, "reason": "dry-run"}})
		return nil
	}

	q := c.Quotes[0]
	if q.UltraTx == nil {
		return fmt.Errorf("engine: ultra candidate missing prebuilt transaction")
	}
	if err := e.signer.Sign(q.UltraTx); err != nil {
		return fmt.Errorf("engine: sign ultra transaction: %w", err)
	}
	raw, err := q.UltraTx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("engine: marshal ultra transaction: %w", err)
	}

	result, err := e.primary.UltraExecute(ctx, base64.StdEncoding.EncodeToString(raw), q.UltraRequestID)
	if err != nil {
		return fmt.Errorf("engine: ultra execute: %w", err)
	}
	leg := execute.UltraLegResult{Status: result.Status, Code: result.Code, Error: result.Error}
	e.logEvent(eventlog.Event{Type: eventlog.TypeExecuted, Fields: map[string]any{
		"pair": c.Pair.Name, "signature": result.Signature, "status": result.Status,
	}})
	if execute.UltraLegFailed(leg) {
		return fmt.Errorf("engine: ultra leg failed: status=%s code=%d error=%s", result.Status, result.Code, result.Error)
	}
	return nil
}

func (e *Engine) logEvent(evt eventlog.Event) {
	if err := e.events.Write(evt); err != nil {
		e.logger.Warn().Err(err).Str("eventType", string(evt.Type)).Msg("event log write failed")
	}
}

func signatureStrings(sigs []solana.Signature) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.String()
	}
	return out
}
