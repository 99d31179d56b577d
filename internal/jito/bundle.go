// Package jito implements the block-engine bundle submission path
// (spec §4.7 "Bundle path"): submit a set of signed transactions as
// one bundle, then poll for its landed/rejected/dropped status.
package jito

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/arbcore/solarb/internal/execute"
)

// Client submits bundles to a Jito-style block-engine HTTP endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client against a block-engine base URL (e.g.
// "https://mainnet.block-engine.jito.wtf").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sendBundleResponse struct {
	Result string        `json:"result"`
	Error  *jsonRPCError `json:"error"`
}

// SubmitBundle base64-encodes and submits txs as one bundle, returning
// the block-engine's bundle id.
func (c *Client) SubmitBundle(ctx context.Context, txs []*solana.Transaction) (string, error) {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("jito: marshal tx %d: %w", i, err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(raw)
	}

	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "sendBundle",
		Params:  []any{encoded, map[string]string{"encoding": "base64"}},
	}

	var resp sendBundleResponse
	if err := c.call(ctx, req, &resp); err != nil {
		return "", fmt.Errorf("jito: submit bundle: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("jito: submit bundle: %s", resp.Error.Message)
	}
	return resp.Result, nil
}

type bundleStatus struct {
	BundleID           string `json:"bundle_id"`
	ConfirmationStatus string `json:"confirmation_status"`
	Err                any    `json:"err"`
}

type getBundleStatusesResponse struct {
	Result struct {
		Value []bundleStatus `json:"value"`
	} `json:"result"`
	Error *jsonRPCError `json:"error"`
}

// AwaitResult polls getBundleStatuses until the bundle lands, is
// explicitly rejected/dropped, or wait elapses (spec §4.7: on timeout,
// the caller treats the result as undefined and may fall back to RPC).
func (c *Client) AwaitResult(ctx context.Context, bundleID string, wait time.Duration) (execute.BundleResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return execute.BundleResult{}, fmt.Errorf("jito: await bundle %s: %w", bundleID, ctx.Err())
		case <-ticker.C:
		}

		req := jsonRPCRequest{
			JSONRPC: "2.0",
			ID:      uuid.NewString(),
			Method:  "getBundleStatuses",
			Params:  []any{[]string{bundleID}},
		}
		var resp getBundleStatusesResponse
		if err := c.call(ctx, req, &resp); err != nil {
			if time.Now().After(deadline) {
				return execute.BundleResult{}, fmt.Errorf("jito: await bundle %s: %w", bundleID, err)
			}
			continue
		}
		if resp.Error != nil {
			if time.Now().After(deadline) {
				return execute.BundleResult{}, fmt.Errorf("jito: await bundle %s: %s", bundleID, resp.Error.Message)
			}
			continue
		}

		if len(resp.Result.Value) > 0 {
			status := resp.Result.Value[0]
			switch status.ConfirmationStatus {
			case "confirmed", "finalized":
				return execute.BundleResult{Landed: true}, nil
			case "failed":
				return execute.BundleResult{Rejected: true}, nil
			}
			if status.Err != nil {
				return execute.BundleResult{Rejected: true}, nil
			}
		}

		if time.Now().After(deadline) {
			return execute.BundleResult{Dropped: true}, nil
		}
	}
}

func (c *Client) call(ctx context.Context, req jsonRPCRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/bundles", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
