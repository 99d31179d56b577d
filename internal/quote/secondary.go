package quote

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/arbcore/solarb"
)

// SecondaryConfig configures the OpenOcean-style Secondary client.
type SecondaryConfig struct {
	BaseURL  string
	ChainID  string // OpenOcean path segment, e.g. "solana"
	APIKey   string
	Timeout  time.Duration
	PoolSize int
}

type secondaryHTTPClient struct {
	baseURL string
	chainID string
	apiKey  string
	pool    *httpPool
}

// NewSecondaryHTTPClient constructs a Secondary client.
func NewSecondaryHTTPClient(cfg SecondaryConfig) (SecondaryClient, error) {
	base := NormalizeSecondaryBaseURL(cfg.BaseURL)
	if RequiresAPIKey(base) && cfg.APIKey == "" {
		return nil, fmt.Errorf("quote: secondary base url %q requires an x-api-key but none was configured", base)
	}
	chainID := cfg.ChainID
	if chainID == "" {
		chainID = "solana"
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &secondaryHTTPClient{
		baseURL: base,
		chainID: chainID,
		apiKey:  cfg.APIKey,
		pool:    newHTTPPool(poolSize, timeout),
	}, nil
}

func (c *secondaryHTTPClient) do(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.pool.get().Do(req)
	if err != nil {
		return fmt.Errorf("quote: secondary request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("quote: secondary HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type openOceanQuoteData struct {
	OutAmount            string `json:"outAmount"`
	MinOutAmount         string `json:"minOutAmount"`
	InAmount             string `json:"inAmount"`
	To                    string `json:"to"`
	Path                 any    `json:"path"`
}

type openOceanQuoteResponse struct {
	Code int                 `json:"code"`
	Data openOceanQuoteData  `json:"data"`
}

func (c *secondaryHTTPClient) QuoteExactIn(ctx context.Context, req ExactInRequest) (solarb.Quote, error) {
	q := url.Values{}
	q.Set("inTokenAddress", req.InMint.String())
	q.Set("outTokenAddress", req.OutMint.String())
	q.Set("amount", req.Amount.String())
	q.Set("slippage", strconv.Itoa(req.SlippageBps))
	if len(req.Include) > 0 {
		q.Set("enabledDexIds", joinCSV(req.Include))
	}
	if len(req.Exclude) > 0 {
		q.Set("disabledDexIds", joinCSV(req.Exclude))
	}

	var resp openOceanQuoteResponse
	rawURL := fmt.Sprintf("%s/%s/quote?%s", c.baseURL, c.chainID, q.Encode())
	if err := c.do(ctx, rawURL, &resp); err != nil {
		return solarb.Quote{}, err
	}
	if resp.Code != 200 {
		return solarb.Quote{}, fmt.Errorf("quote: secondary quote rejected, code=%d", resp.Code)
	}

	outAmount, ok := new(big.Int).SetString(resp.Data.OutAmount, 10)
	if !ok {
		return solarb.Quote{}, fmt.Errorf("quote: malformed secondary outAmount %q", resp.Data.OutAmount)
	}
	minOut, ok := new(big.Int).SetString(resp.Data.MinOutAmount, 10)
	if !ok {
		minOut = new(big.Int).Set(outAmount)
	}

	return solarb.Quote{
		Provider:    solarb.ProviderSecondary,
		InMint:      req.InMint,
		OutMint:     req.OutMint,
		InAmount:    new(big.Int).Set(req.Amount),
		OutAmount:   outAmount,
		MinOut:      minOut,
		SlippageBps: req.SlippageBps,
		RouteMeta:   resp.Data.Path,
		VenueID:     resp.Data.To,
	}, nil
}

type openOceanSwapData struct {
	Data                 string `json:"data"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type openOceanSwapResponse struct {
	Code int                `json:"code"`
	Data openOceanSwapData  `json:"data"`
}

func (c *secondaryHTTPClient) Swap(ctx context.Context, q solarb.Quote, account solana.PublicKey) ([]byte, uint64, error) {
	url := fmt.Sprintf("%s/%s/swap_quote?inTokenAddress=%s&outTokenAddress=%s&amount=%s&slippage=%d&account=%s",
		c.baseURL, c.chainID, q.InMint.String(), q.OutMint.String(), q.InAmount.String(), q.SlippageBps, account.String())

	var resp openOceanSwapResponse
	if err := c.do(ctx, url, &resp); err != nil {
		return nil, 0, err
	}
	if resp.Code != 200 {
		return nil, 0, fmt.Errorf("quote: secondary swap rejected, code=%d", resp.Code)
	}

	data, err := hex.DecodeString(trimHexPrefix(resp.Data.Data))
	if err != nil {
		return nil, 0, fmt.Errorf("quote: decode secondary swap data: %w", err)
	}
	return data, resp.Data.LastValidBlockHeight, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
