// Package rpcclient adapts github.com/gagliardetto/solana-go/rpc to
// the narrow RPCClient/ATAChecker/ATASender capability interfaces the
// execute and wallet packages depend on. LatestBlockhash, GetBalance,
// SimulateTransaction and SendTransaction run through the Client's
// github.com/sony/gobreaker circuit breaker (SPEC_FULL §10.3) so a
// wedged RPC endpoint fails fast instead of hanging every caller;
// ConfirmTransaction's status and block-height polls and AccountExists
// call the RPC directly.
package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sony/gobreaker"
)

// Client wraps *rpc.Client with the breaker and the poll-based
// confirmation the Executor and wallet ATA bootstrap need.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	breaker    *gobreaker.CircuitBreaker
	pollEvery  time.Duration
}

// New constructs a Client against endpoint. commitment is one of
// "processed", "confirmed", "finalized" (spec §6).
func New(endpoint, commitment string) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "solana-rpc",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		rpc:        rpc.New(endpoint),
		commitment: rpc.CommitmentType(commitment),
		breaker:    cb,
		pollEvery:  400 * time.Millisecond,
	}
}

func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		res, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return nil, err
		}
		return res.Value.Blockhash, nil
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("rpcclient: latest blockhash: %w", err)
	}
	return v.(solana.Hash), nil
}

func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		res, err := c.rpc.GetBalance(ctx, account, c.commitment)
		if err != nil {
			return nil, err
		}
		return res.Value, nil
	})
	if err != nil {
		return 0, fmt.Errorf("rpcclient: get balance: %w", err)
	}
	return v.(uint64), nil
}

func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		res, err := c.rpc.SimulateTransaction(ctx, tx)
		if err != nil {
			return nil, err
		}
		if res.Value.Err != nil {
			return nil, fmt.Errorf("simulation failed: %v", res.Value.Err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("rpcclient: simulate: %w", err)
	}
	return nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: c.commitment,
		})
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("rpcclient: send transaction: %w", err)
	}
	return v.(solana.Signature), nil
}

// ConfirmTransaction polls GetSignatureStatuses until the signature is
// confirmed, fails, or lastValidBlockHeight is exceeded (spec §4.7
// "Confirmation timeout: log confirm_error but do not re-send").
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("rpcclient: confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}

		status, err := c.signatureStatus(ctx, sig)
		if err != nil {
			continue // transient RPC error while polling; keep trying until ctx deadline
		}
		if status == nil {
			if lastValidBlockHeight > 0 {
				height, hErr := c.blockHeight(ctx)
				if hErr == nil && height > lastValidBlockHeight {
					return fmt.Errorf("rpcclient: confirm %s: blockhash expired before confirmation", sig)
				}
			}
			continue
		}
		if status.Err != nil {
			return fmt.Errorf("rpcclient: confirm %s: on-chain error: %v", sig, status.Err)
		}
		return nil
	}
}

func (c *Client) signatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

func (c *Client) blockHeight(ctx context.Context) (uint64, error) {
	return c.rpc.GetBlockHeight(ctx, c.commitment)
}

// AccountExists implements wallet.ATAChecker: an account "exists" once
// GetAccountInfo returns data for it (spec's associated-token-account
// bootstrap idempotence, SPEC_FULL §12).
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("rpcclient: get account info: %w", err)
	}
	return true, nil
}
