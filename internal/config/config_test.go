package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("WALLET_SECRET_KEY", "base58secretkeyplaceholder")
	t.Setenv("PRIMARY_BASE_URL", "https://quote-api.jup.ag")
}

func TestLoadEnv_DefaultsAndMandatoryFields(t *testing.T) {
	setRequiredEnv(t)

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, ModeDryRun, env.Mode)
	assert.Equal(t, ProfileDefault, env.Profile)
	assert.Equal(t, "confirmed", env.Commitment)
	assert.Equal(t, StrategyAtomic, env.ExecutionStrategy)
	assert.Equal(t, int64(30_000), env.TriggerObserveMs)
	assert.Equal(t, 10, env.TriggerMinSamples)
}

func TestLoadEnv_MissingRPCURLFails(t *testing.T) {
	t.Setenv("WALLET_SECRET_KEY", "x")
	t.Setenv("PRIMARY_BASE_URL", "https://quote-api.jup.ag")
	_, err := LoadEnv()
	assert.Error(t, err)
}

func TestLoadEnv_MissingWalletSecretFails(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("PRIMARY_BASE_URL", "https://quote-api.jup.ag")
	_, err := LoadEnv()
	assert.Error(t, err)
}

func TestLoadEnv_InvalidCommitmentFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SOLANA_COMMITMENT", "instant")
	_, err := LoadEnv()
	assert.Error(t, err)
}

func TestLoadEnv_HFTProfileForcesSecondaryObserveOffAndEveryNAtLeastTwo(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROFILE", "hft")
	t.Setenv("SECONDARY_EVERY_N_TICKS", "1")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.False(t, env.LogVerbose)
	assert.False(t, env.SecondaryObserveEnabled)
	assert.Equal(t, 2, env.SecondaryEveryNTicks)
}

func TestLoadEnv_InvalidExecutionStrategyFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EXECUTION_STRATEGY", "parallel")
	_, err := LoadEnv()
	assert.Error(t, err)
}

func TestLoadEnv_APIKeysSplitOnComma(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRIMARY_API_KEY", "key1, key2 ,key3")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"key1", "key2", "key3"}, env.PrimaryAPIKeys)
}

func TestLoadEnv_DurationHelpers(t *testing.T) {
	setRequiredEnv(t)
	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), env.ObserveDuration().Milliseconds())
	assert.Equal(t, int64(1_000), env.ObserveTick().Milliseconds())
	assert.Equal(t, int64(10_000), env.ExecuteDuration().Milliseconds())
	assert.Equal(t, int64(500), env.ExecuteTick().Milliseconds())
}
