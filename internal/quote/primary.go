package quote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/arbcore/solarb"
)

// httpPool is a small round-robin pool of *http.Client, each with its
// own pooled transport, so concurrent scans don't serialize on a
// single connection pool's mutex.
type httpPool struct {
	clients []*http.Client
	next    atomic.Uint32
}

func newHTTPPool(size int, timeout time.Duration) *httpPool {
	pool := &httpPool{clients: make([]*http.Client, size)}
	for i := range pool.clients {
		transport := &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			ForceAttemptHTTP2:     true,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		pool.clients[i] = &http.Client{Transport: transport, Timeout: timeout}
	}
	return pool
}

func (p *httpPool) get() *http.Client {
	i := p.next.Add(1)
	return p.clients[i%uint32(len(p.clients))]
}

// PrimaryConfig configures the Jupiter-style Primary client.
type PrimaryConfig struct {
	QuoteBaseURL string
	UltraBaseURL string
	APIKeys      []string
	Timeout      time.Duration
	PoolSize     int
}

// primaryHTTPClient implements PrimaryClient against a Jupiter-style
// swap-v1 + Ultra API.
type primaryHTTPClient struct {
	quoteBaseURL string
	ultraBaseURL string
	apiKeys      []string
	keyIdx       atomic.Uint32
	pool         *httpPool
	requireKey   bool
}

// NewPrimaryHTTPClient constructs a Primary client. It refuses to
// construct when the resolved quote base URL, or an explicitly
// configured Ultra base URL, requires an x-api-key and none was
// configured (spec §4.2 Authentication); the default Ultra URL used
// when UltraBaseURL is empty is not checked.
func NewPrimaryHTTPClient(cfg PrimaryConfig) (PrimaryClient, error) {
	quoteBase := NormalizePrimaryBaseURL(cfg.QuoteBaseURL)
	ultraBase := NormalizeUltraBaseURL(cfg.UltraBaseURL)
	requireKey := RequiresAPIKey(quoteBase) || (cfg.UltraBaseURL != "" && RequiresAPIKey(ultraBase))
	if requireKey && len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("quote: primary base url %q requires an x-api-key but none was configured", quoteBase)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &primaryHTTPClient{
		quoteBaseURL: quoteBase,
		ultraBaseURL: ultraBase,
		apiKeys:      cfg.APIKeys,
		pool:         newHTTPPool(poolSize, timeout),
		requireKey:   requireKey,
	}, nil
}

func (c *primaryHTTPClient) nextAPIKey() string {
	if len(c.apiKeys) == 0 {
		return ""
	}
	idx := c.keyIdx.Add(1) % uint32(len(c.apiKeys))
	return c.apiKeys[idx]
}

func (c *primaryHTTPClient) do(ctx context.Context, method, rawURL string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := c.nextAPIKey(); key != "" {
		req.Header.Set("x-api-key", key)
	}
	resp, err := c.pool.get().Do(req)
	if err != nil {
		return fmt.Errorf("quote: primary request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("quote: primary read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("quote: primary HTTP %d: %s", resp.StatusCode, string(payload))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("quote: primary decode response: %w", err)
	}
	return nil
}

type jupiterQuoteResponse struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SlippageBps          int    `json:"slippageBps"`
	RoutePlan            []any  `json:"routePlan"`
}

func (c *primaryHTTPClient) QuoteExactIn(ctx context.Context, req ExactInRequest) (solarb.Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InMint.String())
	q.Set("outputMint", req.OutMint.String())
	q.Set("amount", req.Amount.String())
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	if len(req.Include) > 0 {
		q.Set("dexes", joinCSV(req.Include))
	}
	if len(req.Exclude) > 0 {
		q.Set("excludeDexes", joinCSV(req.Exclude))
	}

	var resp jupiterQuoteResponse
	if err := c.do(ctx, http.MethodGet, c.quoteBaseURL+"/quote?"+q.Encode(), nil, &resp); err != nil {
		return solarb.Quote{}, err
	}

	outAmount, ok := new(big.Int).SetString(resp.OutAmount, 10)
	if !ok {
		return solarb.Quote{}, fmt.Errorf("quote: malformed outAmount %q", resp.OutAmount)
	}
	minOut, ok := new(big.Int).SetString(resp.OtherAmountThreshold, 10)
	if !ok {
		return solarb.Quote{}, fmt.Errorf("quote: malformed otherAmountThreshold %q", resp.OtherAmountThreshold)
	}

	return solarb.Quote{
		Provider:    solarb.ProviderPrimary,
		InMint:      req.InMint,
		OutMint:     req.OutMint,
		InAmount:    new(big.Int).Set(req.Amount),
		OutAmount:   outAmount,
		MinOut:      minOut,
		SlippageBps: resp.SlippageBps,
		RouteMeta:   resp.RoutePlan,
	}, nil
}

type jupiterSwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

func (c *primaryHTTPClient) BuildSwapTransaction(ctx context.Context, q solarb.Quote, userPk solana.PublicKey, cuPrice *uint64) (*solana.Transaction, uint64, error) {
	body := map[string]any{
		"quoteResponse":    q.RouteMeta,
		"userPublicKey":    userPk.String(),
		"dynamicSlippage":  false,
	}
	if cuPrice != nil {
		body["prioritizationFeeLamports"] = *cuPrice
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}

	var resp jupiterSwapResponse
	if err := c.do(ctx, http.MethodPost, c.quoteBaseURL+"/swap", bytes.NewReader(payload), &resp); err != nil {
		return nil, 0, err
	}

	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, 0, fmt.Errorf("quote: decode swapTransaction: %w", err)
	}
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("quote: parse swapTransaction: %w", err)
	}
	return tx, resp.LastValidBlockHeight, nil
}

type jupiterSwapInstructionsResponse struct {
	SetupInstructions       []jupiterInstruction `json:"setupInstructions"`
	ComputeBudgetInstructions []jupiterInstruction `json:"computeBudgetInstructions"`
	OtherInstructions       []jupiterInstruction `json:"otherInstructions"`
	SwapInstruction         jupiterInstruction   `json:"swapInstruction"`
	CleanupInstruction      *jupiterInstruction  `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string         `json:"addressLookupTableAddresses"`
}

type jupiterInstruction struct {
	ProgramID string                  `json:"programId"`
	Accounts  []jupiterInstructionAcc `json:"accounts"`
	Data      string                  `json:"data"`
}

type jupiterInstructionAcc struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

func (ix jupiterInstruction) toSolana() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("quote: instruction programId: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("quote: instruction data: %w", err)
	}
	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("quote: instruction account: %w", err)
		}
		metas = append(metas, solana.NewAccountMeta(pk, a.IsWritable, a.IsSigner))
	}
	return solana.NewInstruction(programID, metas, data), nil
}

func (c *primaryHTTPClient) BuildSwapInstructions(ctx context.Context, q solarb.Quote, userPk solana.PublicKey, cuPrice *uint64) (SwapInstructions, error) {
	body := map[string]any{
		"quoteResponse": q.RouteMeta,
		"userPublicKey": userPk.String(),
	}
	if cuPrice != nil {
		body["prioritizationFeeLamports"] = *cuPrice
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return SwapInstructions{}, err
	}

	var resp jupiterSwapInstructionsResponse
	if err := c.do(ctx, http.MethodPost, c.quoteBaseURL+"/swap-instructions", bytes.NewReader(payload), &resp); err != nil {
		return SwapInstructions{}, err
	}

	convertAll := func(in []jupiterInstruction) ([]solana.Instruction, error) {
		out := make([]solana.Instruction, 0, len(in))
		for _, ix := range in {
			conv, err := ix.toSolana()
			if err != nil {
				return nil, err
			}
			out = append(out, conv)
		}
		return out, nil
	}

	setup, err := convertAll(resp.SetupInstructions)
	if err != nil {
		return SwapInstructions{}, err
	}
	computeBudget, err := convertAll(resp.ComputeBudgetInstructions)
	if err != nil {
		return SwapInstructions{}, err
	}
	other, err := convertAll(resp.OtherInstructions)
	if err != nil {
		return SwapInstructions{}, err
	}
	swap, err := resp.SwapInstruction.toSolana()
	if err != nil {
		return SwapInstructions{}, err
	}
	var cleanup []solana.Instruction
	if resp.CleanupInstruction != nil {
		cx, err := resp.CleanupInstruction.toSolana()
		if err != nil {
			return SwapInstructions{}, err
		}
		cleanup = []solana.Instruction{cx}
	}

	lookups := make([]solana.PublicKey, 0, len(resp.AddressLookupTableAddresses))
	for _, s := range resp.AddressLookupTableAddresses {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return SwapInstructions{}, fmt.Errorf("quote: lookup table address: %w", err)
		}
		lookups = append(lookups, pk)
	}

	return SwapInstructions{
		Setup:                setup,
		ComputeBudget:        computeBudget,
		Other:                other,
		Swap:                 swap,
		Cleanup:              cleanup,
		LookupTableAddresses: lookups,
	}, nil
}

type ultraOrderResponse struct {
	Transaction string `json:"transaction"`
	RequestID   string `json:"requestId"`
	InAmount    string `json:"inAmount"`
	OutAmount   string `json:"outAmount"`
}

func (c *primaryHTTPClient) UltraOrder(ctx context.Context, inMint, outMint solana.PublicKey, amount *big.Int, taker solana.PublicKey, excludeDexes []string) (UltraOrder, error) {
	q := url.Values{}
	q.Set("inputMint", inMint.String())
	q.Set("outputMint", outMint.String())
	q.Set("amount", amount.String())
	q.Set("taker", taker.String())
	if len(excludeDexes) > 0 {
		q.Set("excludeDexes", joinCSV(excludeDexes))
	}

	var resp ultraOrderResponse
	if err := c.do(ctx, http.MethodGet, c.ultraBaseURL+"/order?"+q.Encode(), nil, &resp); err != nil {
		return UltraOrder{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Transaction)
	if err != nil {
		return UltraOrder{}, fmt.Errorf("quote: decode ultra transaction: %w", err)
	}
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return UltraOrder{}, fmt.Errorf("quote: parse ultra transaction: %w", err)
	}

	outAmount, ok := new(big.Int).SetString(resp.OutAmount, 10)
	if !ok {
		return UltraOrder{}, fmt.Errorf("quote: malformed ultra outAmount %q", resp.OutAmount)
	}

	quote := solarb.Quote{
		Provider:       solarb.ProviderPrimary,
		InMint:         inMint,
		OutMint:        outMint,
		InAmount:       new(big.Int).Set(amount),
		OutAmount:      outAmount,
		MinOut:         outAmount, // Ultra does not expose a conservative threshold pre-execute
		UltraTx:        tx,
		UltraRequestID: resp.RequestID,
	}

	return UltraOrder{Quote: quote, Transaction: tx, RequestID: resp.RequestID}, nil
}

type ultraExecuteResponse struct {
	Status    string `json:"status"`
	Signature string `json:"signature"`
	Error     string `json:"error"`
	Code      int    `json:"code"`
}

func (c *primaryHTTPClient) UltraExecute(ctx context.Context, signedTxBase64, requestID string) (UltraExecuteResult, error) {
	payload, err := json.Marshal(map[string]string{
		"signedTransaction": signedTxBase64,
		"requestId":         requestID,
	})
	if err != nil {
		return UltraExecuteResult{}, err
	}

	var resp ultraExecuteResponse
	if err := c.do(ctx, http.MethodPost, c.ultraBaseURL+"/execute", bytes.NewReader(payload), &resp); err != nil {
		log.Warn().Err(err).Str("requestId", requestID).Msg("ultra execute request failed")
		return UltraExecuteResult{}, err
	}

	return UltraExecuteResult{
		Status:    resp.Status,
		Signature: resp.Signature,
		Error:     resp.Error,
		Code:      resp.Code,
	}, nil
}

func joinCSV(vs []string) string {
	var b bytes.Buffer
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(v)
	}
	return b.String()
}
