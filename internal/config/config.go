// Package config loads the process environment (via viper) and the
// JSON pair-config file (spec §6 "Config file (JSON)"), generalizing
// the teacher's configs.Config/os.Getenv pattern into one typed,
// validated surface.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Mode selects dry-run or live sending.
type Mode string

const (
	ModeDryRun Mode = "dry-run"
	ModeLive   Mode = "live"
)

// Profile tunes verbosity and Secondary cadence for high-frequency
// trading vs. the default, conversational profile.
type Profile string

const (
	ProfileDefault Profile = "default"
	ProfileHFT     Profile = "hft"
)

// ExecutionStrategy selects atomic (single tx) vs sequential (per-leg
// txs) submission.
type ExecutionStrategy string

const (
	StrategyAtomic     ExecutionStrategy = "atomic"
	StrategySequential ExecutionStrategy = "sequential"
)

// TriggerStrategy selects the Trigger Engine's timing strategy.
type TriggerStrategy string

const (
	TriggerImmediate TriggerStrategy = "immediate"
	TriggerAvgWindow TriggerStrategy = "avg-window"
	TriggerVWAP      TriggerStrategy = "vwap"
	TriggerBollinger TriggerStrategy = "bollinger"
)

// AmountMode selects how the scanner walks a pair's configured amount
// list on each tick.
type AmountMode string

const (
	AmountModeAll   AmountMode = "all"
	AmountModeFixed AmountMode = "fixed"
	AmountModeRotate AmountMode = "rotate"
)

// PriorityFeeStrategy selects how the compute-unit price is sourced.
type PriorityFeeStrategy string

const (
	PriorityFeeOff       PriorityFeeStrategy = "off"
	PriorityFeeRPCRecent PriorityFeeStrategy = "rpc-recent"
	PriorityFeeHelius    PriorityFeeStrategy = "helius"
)

// ExecutionProvider selects Primary's swap-v1 vs ultra execution path.
type ExecutionProvider string

const (
	ExecutionSwap  ExecutionProvider = "swap"
	ExecutionUltra ExecutionProvider = "ultra"
)

// RateLimitEnv is one upstream's rate-limit tunables, duplicated for
// Primary and Secondary (spec §6 "rate-limit params for both
// providers").
type RateLimitEnv struct {
	RPS             float64
	MinRPS          float64
	Burst           float64
	MinIntervalMs   int64
	BackoffBaseMs   int64
	BackoffMaxMs    int64
	PenaltyMs       int64
	Cooldown429Ms   int64
}

// Env is the fully-resolved, validated environment configuration.
type Env struct {
	RPCURL      string
	WSURL       string
	Commitment  string

	WalletSecret string // raw value: base58, JSON array, or path to one

	Mode              Mode
	Profile           Profile
	ExecutionStrategy ExecutionStrategy

	DryRunForcePreflight bool
	LivePreflightSimulate bool

	TriggerStrategy       TriggerStrategy
	TriggerObserveMs      int64
	TriggerObserveEveryMs int64
	TriggerExecuteMs      int64
	TriggerExecuteEveryMs int64
	TriggerAlpha          float64
	TriggerK              float64
	TriggerMinSamples     int
	TriggerLookback       int
	TriggerTrailDropBps   int
	TriggerEmergencySigma float64

	AmountMode        AmountMode
	AmountMaxPerTick  int

	FeeComputeUnitLimit uint32
	FeeComputeUnitPrice uint64
	FeeBaseLamports     uint64
	FeeRentBufferLamports uint64

	TipDynamic        bool
	TipFixedLamports  uint64
	TipBps            int
	TipFloorLamports  uint64
	TipCeilLamports   uint64

	PriorityFeeStrategy PriorityFeeStrategy
	PriorityFeeLevel    string

	JitoEnabled        bool
	JitoBlockEngineURL string
	JitoWaitMs         int64
	JitoFallbackRPC    bool
	JitoTipAccount     string

	PrimaryBaseURL      string
	PrimaryUltraBaseURL string
	PrimaryAPIKeys      []string
	ExecutionProvider   ExecutionProvider
	PrimaryRateLimit    RateLimitEnv

	SecondaryEnabled         bool
	SecondaryBaseURL         string
	SecondaryAPIKey          string
	SecondaryGateBps         int64
	SecondaryNearGateBps     int64
	SecondaryEveryNTicks     int
	SecondaryObserveEnabled  bool
	SecondaryExecuteEnabled  bool
	SecondarySignaturesEstimate int
	SecondaryReferrer        string
	SecondaryReferrerFeeBps  int
	SecondaryEnabledDexIDs   []string
	SecondaryDisabledDexIDs  []string
	SecondaryRateLimit       RateLimitEnv

	EventLogPath     string
	EventLogMaxBytes int64
	EventLogMaxFiles int

	HealthAddr string

	PairConfigPath string
	LogVerbose     bool

	MySQLDSN string // optional GORM mirror sink; empty disables it
}

// LoadEnv reads dotenvFiles (if present, in order) then binds the
// process environment via viper, applying documented defaults, and
// validates the mandatory fields. godotenv.Load never overrides a
// variable that is already set, so the process environment wins over
// every file and an earlier file wins over a later one.
func LoadEnv(dotenvFiles ...string) (*Env, error) {
	for _, f := range dotenvFiles {
		_ = godotenv.Load(f) // best-effort; absence is normal outside dev/test
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	env := &Env{
		RPCURL:     v.GetString("solana_rpc_url"),
		WSURL:      v.GetString("solana_ws_url"),
		Commitment: v.GetString("solana_commitment"),

		WalletSecret: v.GetString("wallet_secret_key"),

		Mode:              Mode(v.GetString("mode")),
		Profile:           Profile(v.GetString("profile")),
		ExecutionStrategy: ExecutionStrategy(v.GetString("execution_strategy")),

		DryRunForcePreflight:  v.GetBool("dry_run_force_preflight"),
		LivePreflightSimulate: v.GetBool("live_preflight_simulate"),

		TriggerStrategy:       TriggerStrategy(v.GetString("trigger_strategy")),
		TriggerObserveMs:      v.GetInt64("trigger_observe_ms"),
		TriggerObserveEveryMs: v.GetInt64("trigger_observe_interval_ms"),
		TriggerExecuteMs:      v.GetInt64("trigger_execute_ms"),
		TriggerExecuteEveryMs: v.GetInt64("trigger_execute_interval_ms"),
		TriggerAlpha:          v.GetFloat64("trigger_alpha"),
		TriggerK:              v.GetFloat64("trigger_k"),
		TriggerMinSamples:     v.GetInt("trigger_min_samples"),
		TriggerLookback:       v.GetInt("trigger_lookback"),
		TriggerTrailDropBps:   v.GetInt("trigger_trail_drop_bps"),
		TriggerEmergencySigma: v.GetFloat64("trigger_emergency_sigma"),

		AmountMode:       AmountMode(v.GetString("amount_mode")),
		AmountMaxPerTick: v.GetInt("amount_max_per_tick"),

		FeeComputeUnitLimit:   uint32(v.GetUint64("fee_compute_unit_limit")),
		FeeComputeUnitPrice:   v.GetUint64("fee_compute_unit_price"),
		FeeBaseLamports:       v.GetUint64("fee_base_lamports"),
		FeeRentBufferLamports: v.GetUint64("fee_rent_buffer_lamports"),

		TipDynamic:       v.GetBool("tip_dynamic"),
		TipFixedLamports: v.GetUint64("tip_fixed_lamports"),
		TipBps:           v.GetInt("tip_bps"),
		TipFloorLamports: v.GetUint64("tip_floor_lamports"),
		TipCeilLamports:  v.GetUint64("tip_ceil_lamports"),

		PriorityFeeStrategy: PriorityFeeStrategy(v.GetString("priority_fee_strategy")),
		PriorityFeeLevel:    v.GetString("priority_fee_level"),

		JitoEnabled:        v.GetBool("jito_enabled"),
		JitoBlockEngineURL: v.GetString("jito_block_engine_url"),
		JitoWaitMs:         v.GetInt64("jito_wait_ms"),
		JitoFallbackRPC:    v.GetBool("jito_fallback_rpc"),
		JitoTipAccount:     v.GetString("jito_tip_account"),

		PrimaryBaseURL:      v.GetString("primary_base_url"),
		PrimaryUltraBaseURL: v.GetString("primary_ultra_base_url"),
		PrimaryAPIKeys:      splitCSV(v.GetString("primary_api_key")),
		ExecutionProvider:   ExecutionProvider(v.GetString("execution_provider")),
		PrimaryRateLimit:    rateLimitEnv(v, "primary"),

		SecondaryEnabled:            v.GetBool("secondary_enabled"),
		SecondaryBaseURL:            v.GetString("secondary_base_url"),
		SecondaryAPIKey:             v.GetString("secondary_api_key"),
		SecondaryGateBps:            v.GetInt64("secondary_gate_bps"),
		SecondaryNearGateBps:        v.GetInt64("secondary_near_gate_bps"),
		SecondaryEveryNTicks:        v.GetInt("secondary_every_n_ticks"),
		SecondaryObserveEnabled:     v.GetBool("secondary_observe_enabled"),
		SecondaryExecuteEnabled:     v.GetBool("secondary_execute_enabled"),
		SecondarySignaturesEstimate: v.GetInt("secondary_signatures_estimate"),
		SecondaryReferrer:           v.GetString("secondary_referrer"),
		SecondaryReferrerFeeBps:     v.GetInt("secondary_referrer_fee_bps"),
		SecondaryEnabledDexIDs:      splitCSV(v.GetString("secondary_enabled_dex_ids")),
		SecondaryDisabledDexIDs:     splitCSV(v.GetString("secondary_disabled_dex_ids")),
		SecondaryRateLimit:          rateLimitEnv(v, "secondary"),

		EventLogPath:     v.GetString("event_log_path"),
		EventLogMaxBytes: v.GetInt64("event_log_max_bytes"),
		EventLogMaxFiles: v.GetInt("event_log_max_files"),

		HealthAddr: v.GetString("health_addr"),

		PairConfigPath: v.GetString("pair_config_path"),
		LogVerbose:     v.GetBool("log_verbose"),

		MySQLDSN: v.GetString("mysql_dsn"),
	}

	if env.Profile == ProfileHFT {
		env.LogVerbose = false
		env.SecondaryObserveEnabled = false
		if env.SecondaryEveryNTicks < 2 {
			env.SecondaryEveryNTicks = 2
		}
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func rateLimitEnv(v *viper.Viper, prefix string) RateLimitEnv {
	return RateLimitEnv{
		RPS:           v.GetFloat64(prefix + "_rps"),
		MinRPS:        v.GetFloat64(prefix + "_min_rps"),
		Burst:         v.GetFloat64(prefix + "_burst"),
		MinIntervalMs: v.GetInt64(prefix + "_min_interval_ms"),
		BackoffBaseMs: v.GetInt64(prefix + "_backoff_base_ms"),
		BackoffMaxMs:  v.GetInt64(prefix + "_backoff_max_ms"),
		PenaltyMs:     v.GetInt64(prefix + "_penalty_ms"),
		Cooldown429Ms: v.GetInt64(prefix + "_429_cooldown_ms"),
	}
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("solana_commitment", "confirmed")
	v.SetDefault("mode", string(ModeDryRun))
	v.SetDefault("profile", string(ProfileDefault))
	v.SetDefault("execution_strategy", string(StrategyAtomic))
	v.SetDefault("live_preflight_simulate", true)

	v.SetDefault("trigger_strategy", string(TriggerImmediate))
	v.SetDefault("trigger_observe_ms", 30_000)
	v.SetDefault("trigger_observe_interval_ms", 1_000)
	v.SetDefault("trigger_execute_ms", 10_000)
	v.SetDefault("trigger_execute_interval_ms", 500)
	v.SetDefault("trigger_alpha", 0.0) // 0 => auto-derive from observe window
	v.SetDefault("trigger_k", 1.5)
	v.SetDefault("trigger_min_samples", 10)
	v.SetDefault("trigger_lookback", 2)
	v.SetDefault("trigger_trail_drop_bps", 1)
	v.SetDefault("trigger_emergency_sigma", 3.0)

	v.SetDefault("amount_mode", string(AmountModeAll))
	v.SetDefault("amount_max_per_tick", 0) // 0 => len(sizes)

	v.SetDefault("fee_compute_unit_limit", 200_000)
	v.SetDefault("fee_compute_unit_price", 0)
	v.SetDefault("fee_base_lamports", 5_000)
	v.SetDefault("fee_rent_buffer_lamports", 0)

	v.SetDefault("tip_dynamic", false)
	v.SetDefault("tip_fixed_lamports", 0)
	v.SetDefault("tip_bps", 2_000)
	v.SetDefault("tip_floor_lamports", 0)
	v.SetDefault("tip_ceil_lamports", 1_000_000)

	v.SetDefault("priority_fee_strategy", string(PriorityFeeOff))

	v.SetDefault("jito_wait_ms", 2_000)
	v.SetDefault("jito_block_engine_url", "https://mainnet.block-engine.jito.wtf")

	v.SetDefault("execution_provider", string(ExecutionSwap))

	for _, prefix := range []string{"primary", "secondary"} {
		v.SetDefault(prefix+"_rps", 5.0)
		v.SetDefault(prefix+"_min_rps", 1.25)
		v.SetDefault(prefix+"_burst", 1.0)
		v.SetDefault(prefix+"_backoff_base_ms", 200)
		v.SetDefault(prefix+"_backoff_max_ms", 5_000)
		v.SetDefault(prefix+"_penalty_ms", 1_000)
		v.SetDefault(prefix+"_429_cooldown_ms", 30_000)
	}

	v.SetDefault("secondary_gate_bps", 0)
	v.SetDefault("secondary_near_gate_bps", 0)
	v.SetDefault("secondary_every_n_ticks", 1)
	v.SetDefault("secondary_observe_enabled", true)
	v.SetDefault("secondary_execute_enabled", true)
	v.SetDefault("secondary_signatures_estimate", 1)

	v.SetDefault("event_log_path", "events.ndjson")
	v.SetDefault("event_log_max_bytes", 0) // 0 => rotation disabled
	v.SetDefault("event_log_max_files", 5)

	v.SetDefault("pair_config_path", "pairs.json")
	v.SetDefault("log_verbose", true)
}

var validCommitments = map[string]bool{"processed": true, "confirmed": true, "finalized": true}

// Validate enforces spec §6's mandatory fields and enum domains,
// failing fast (kind (a) of §7 Error Handling Design: config/env
// validation is fatal, aborts before the main loop).
func (e *Env) Validate() error {
	if e.RPCURL == "" {
		return fmt.Errorf("config: SOLANA_RPC_URL is mandatory")
	}
	if e.WalletSecret == "" {
		return fmt.Errorf("config: WALLET_SECRET_KEY is mandatory")
	}
	if !validCommitments[e.Commitment] {
		return fmt.Errorf("config: invalid commitment %q", e.Commitment)
	}
	if e.Mode != ModeDryRun && e.Mode != ModeLive {
		return fmt.Errorf("config: invalid mode %q", e.Mode)
	}
	if e.Profile != ProfileDefault && e.Profile != ProfileHFT {
		return fmt.Errorf("config: invalid profile %q", e.Profile)
	}
	if e.ExecutionStrategy != StrategyAtomic && e.ExecutionStrategy != StrategySequential {
		return fmt.Errorf("config: invalid execution strategy %q", e.ExecutionStrategy)
	}
	switch e.TriggerStrategy {
	case TriggerImmediate, TriggerAvgWindow, TriggerVWAP, TriggerBollinger:
	default:
		return fmt.Errorf("config: invalid trigger strategy %q", e.TriggerStrategy)
	}
	switch e.AmountMode {
	case AmountModeAll, AmountModeFixed, AmountModeRotate:
	default:
		return fmt.Errorf("config: invalid amount mode %q", e.AmountMode)
	}
	switch e.PriorityFeeStrategy {
	case PriorityFeeOff, PriorityFeeRPCRecent, PriorityFeeHelius:
	default:
		return fmt.Errorf("config: invalid priority fee strategy %q", e.PriorityFeeStrategy)
	}
	if e.ExecutionProvider != ExecutionSwap && e.ExecutionProvider != ExecutionUltra {
		return fmt.Errorf("config: invalid execution provider %q", e.ExecutionProvider)
	}
	if e.PrimaryBaseURL == "" {
		return fmt.Errorf("config: PRIMARY_BASE_URL is mandatory")
	}
	return nil
}

// ObserveDuration/ExecuteDuration convert the millisecond env fields
// into time.Duration for the Trigger Engine.
func (e *Env) ObserveDuration() time.Duration { return time.Duration(e.TriggerObserveMs) * time.Millisecond }
func (e *Env) ObserveTick() time.Duration     { return time.Duration(e.TriggerObserveEveryMs) * time.Millisecond }
func (e *Env) ExecuteDuration() time.Duration { return time.Duration(e.TriggerExecuteMs) * time.Millisecond }
func (e *Env) ExecuteTick() time.Duration     { return time.Duration(e.TriggerExecuteEveryMs) * time.Millisecond }

// amountPattern matches spec §6's numeric amount string validation.
var amountPattern = regexp.MustCompile(`^[0-9]+$`)
