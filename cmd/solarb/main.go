// Command solarb runs the scan/decide/trigger/execute arbitrage
// pipeline as a single long-lived process, or performs one-shot
// wallet setup before the first live run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arbcore/solarb"
	"github.com/arbcore/solarb/internal/config"
	"github.com/arbcore/solarb/internal/execute"
	"github.com/arbcore/solarb/internal/jito"
	"github.com/arbcore/solarb/internal/rpcclient"
	"github.com/arbcore/solarb/internal/wallet"
)

var (
	envFile     string
	once        bool
	setupWallet bool
)

func main() {
	root := &cobra.Command{
		Use:   "solarb",
		Short: "Solana DEX-aggregator arbitrage engine",
		RunE:  run,
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.Flags().BoolVar(&once, "once", false, "scan every configured pair exactly once, then exit")
	root.Flags().BoolVar(&setupWallet, "setup-wallet", false, "create any missing associated token accounts, then exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	env, err := config.LoadEnv(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := zerolog.InfoLevel
	if env.LogVerbose {
		logLevel = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(logLevel).With().Timestamp().Logger()

	pairs, err := config.LoadPairs(env.PairConfigPath)
	if err != nil {
		return fmt.Errorf("load pairs: %w", err)
	}

	signer, err := wallet.Load(env.WalletSecret)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}

	rpc := rpcclient.New(env.RPCURL, env.Commitment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if setupWallet {
		return runSetupWallet(ctx, signer, rpc, pairs, logger)
	}

	var bundleClient execute.BundleClient
	if env.JitoEnabled {
		bundleClient = jito.New(env.JitoBlockEngineURL, 0)
	}

	engine, err := solarb.NewEngine(env, pairs, solarb.Deps{
		RPC:    rpc,
		Bundle: bundleClient,
		Signer: signer,
		Once:   once,
	}, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	return engine.Run(ctx)
}

func runSetupWallet(ctx context.Context, signer wallet.Signer, rpc *rpcclient.Client, pairs []*solarb.Pair, logger zerolog.Logger) error {
	mints := collectMints(pairs)
	sigs, err := wallet.SetupATAs(ctx, signer, rpc, rpc, mints)
	if err != nil {
		return fmt.Errorf("setup wallet: %w", err)
	}
	logger.Info().Int("created", len(sigs)).Msg("wallet setup complete")
	for _, sig := range sigs {
		fmt.Println(sig.String())
	}
	return nil
}

// collectMints gathers every distinct non-zero mint a configured pair
// touches; wallet.SetupATAs dedupes further against what already
// exists on-chain.
func collectMints(pairs []*solarb.Pair) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{})
	var out []solana.PublicKey
	add := func(pk solana.PublicKey) {
		if pk.Equals(solana.PublicKey{}) {
			return
		}
		if _, ok := seen[pk]; ok {
			return
		}
		seen[pk] = struct{}{}
		out = append(out, pk)
	}
	for _, p := range pairs {
		add(p.MintA)
		add(p.MintB)
		add(p.MintC)
	}
	return out
}
