package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/arbcore/solarb"
)

// pairFile is the JSON wire shape of the config file (spec §6 "Config
// file (JSON)"): { "pairs": [ ... ] }. Kept on encoding/json per
// SPEC_FULL §10.2 — the wire format is spec-mandated, not a place to
// substitute a third-party decoder.
type pairFile struct {
	Pairs []pairJSON `json:"pairs"`
}

type pairJSON struct {
	Name           string   `json:"name"`
	MintA          string   `json:"mintA"`
	MintB          string   `json:"mintB"`
	MintC          string   `json:"mintC,omitempty"`
	SlippageBps    int      `json:"slippageBps"`
	LegSlippageBps []int    `json:"legSlippageBps,omitempty"`
	VenueInclude   []string `json:"venueInclude,omitempty"`
	VenueExclude   []string `json:"venueExclude,omitempty"`
	AmountA        string   `json:"amountA"`
	AmountASteps   []string `json:"amountASteps,omitempty"`
	MaxNotionalA   string   `json:"maxNotionalA,omitempty"`
	MinProfitA     string   `json:"minProfitA,omitempty"`
	MinProfitBps   int      `json:"minProfitBps,omitempty"`
	CooldownMs     int64    `json:"cooldownMs,omitempty"`

	ComputeUnitLimit   *uint32 `json:"computeUnitLimit,omitempty"`
	ComputeUnitPrice   *uint64 `json:"computeUnitPrice,omitempty"`
	RentBufferLamports *uint64 `json:"rentBufferLamports,omitempty"`
}

// LoadPairs reads and validates the JSON pair config file at path,
// converting each entry into a *solarb.Pair. Pair configs are read
// once at startup (spec §3 "Lifecycle"); there is no hot-reload.
func LoadPairs(path string) ([]*solarb.Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read pair file %s: %w", path, err)
	}

	var raw pairFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse pair file %s: %w", path, err)
	}
	if len(raw.Pairs) == 0 {
		return nil, fmt.Errorf("config: pair file %s defines no pairs", path)
	}

	pairs := make([]*solarb.Pair, 0, len(raw.Pairs))
	for i, p := range raw.Pairs {
		pair, err := p.toPair()
		if err != nil {
			return nil, fmt.Errorf("config: pair[%d] %q: %w", i, p.Name, err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func (p pairJSON) toPair() (*solarb.Pair, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	mintA, err := solana.PublicKeyFromBase58(p.MintA)
	if err != nil {
		return nil, fmt.Errorf("mintA: %w", err)
	}
	mintB, err := solana.PublicKeyFromBase58(p.MintB)
	if err != nil {
		return nil, fmt.Errorf("mintB: %w", err)
	}

	var mintC solana.PublicKey
	triangular := p.MintC != ""
	if triangular {
		mintC, err = solana.PublicKeyFromBase58(p.MintC)
		if err != nil {
			return nil, fmt.Errorf("mintC: %w", err)
		}
	}

	if p.SlippageBps < 1 || p.SlippageBps > 5000 {
		return nil, fmt.Errorf("slippageBps %d out of range [1,5000]", p.SlippageBps)
	}
	if p.MinProfitBps < 0 || p.MinProfitBps > 10_000 {
		return nil, fmt.Errorf("minProfitBps %d out of range [0,10000]", p.MinProfitBps)
	}

	amountA, err := parseAmount("amountA", p.AmountA)
	if err != nil {
		return nil, err
	}

	steps := make([]*big.Int, 0, len(p.AmountASteps))
	for i, s := range p.AmountASteps {
		v, err := parseAmount(fmt.Sprintf("amountASteps[%d]", i), s)
		if err != nil {
			return nil, err
		}
		steps = append(steps, v)
	}

	var maxNotionalA *big.Int
	if p.MaxNotionalA != "" {
		maxNotionalA, err = parseAmount("maxNotionalA", p.MaxNotionalA)
		if err != nil {
			return nil, err
		}
	}

	minProfitA := big.NewInt(0)
	if p.MinProfitA != "" {
		minProfitA, err = parseAmount("minProfitA", p.MinProfitA)
		if err != nil {
			return nil, err
		}
	}

	return &solarb.Pair{
		Name:               p.Name,
		MintA:              mintA,
		MintB:              mintB,
		MintC:              mintC,
		Triangular:         triangular,
		SlippageBps:        p.SlippageBps,
		LegSlippageBps:     p.LegSlippageBps,
		VenueInclude:       p.VenueInclude,
		VenueExclude:       p.VenueExclude,
		AmountA:            amountA,
		AmountASteps:       steps,
		MaxNotionalA:       maxNotionalA,
		MinProfitA:         minProfitA,
		MinProfitBps:       p.MinProfitBps,
		Cooldown:           time.Duration(p.CooldownMs) * time.Millisecond,
		ComputeUnitLimit:   p.ComputeUnitLimit,
		ComputeUnitPrice:   p.ComputeUnitPrice,
		RentBufferLamports: p.RentBufferLamports,
	}, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	if !amountPattern.MatchString(raw) {
		return nil, fmt.Errorf("%s: %q does not match ^[0-9]+$", field, raw)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s: %q is not a valid integer", field, raw)
	}
	return v, nil
}
