// Package decide implements the Decider (C4): a pure, deterministic
// profitability function over exact big integers, with an optional
// offloaded subprocess decider as a drop-in replacement.
package decide

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os/exec"
	"sync"

	"github.com/arbcore/solarb"
)

// Request is everything the Decider needs, all non-negative.
type Request struct {
	In           *big.Int
	Out          *big.Int
	MinOut       *big.Int
	FeeInA       *big.Int
	MinProfitInA *big.Int
}

// Decide computes profit = out - in - feeInA, conservativeProfit =
// minOut - in - feeInA, profitable = conservativeProfit >=
// minProfitInA. Arithmetic is exact big-integer; there is no overflow
// and no floating point anywhere in this function.
func Decide(req Request) solarb.Decision {
	profit := new(big.Int).Sub(req.Out, req.In)
	profit.Sub(profit, req.FeeInA)

	conservative := new(big.Int).Sub(req.MinOut, req.In)
	conservative.Sub(conservative, req.FeeInA)

	return solarb.Decision{
		Profit:             profit,
		ConservativeProfit: conservative,
		Profitable:         conservative.Cmp(req.MinProfitInA) >= 0,
	}
}

// MinProfitInA computes max(minProfitA, floor(amountA*minProfitBps/10000))
// when minProfitBps is present and amountA > 0; otherwise minProfitA.
func MinProfitInA(minProfitA *big.Int, minProfitBps int, amountA *big.Int) *big.Int {
	if minProfitBps <= 0 || amountA == nil || amountA.Sign() <= 0 {
		return new(big.Int).Set(minProfitA)
	}
	fromBps := new(big.Int).Mul(amountA, big.NewInt(int64(minProfitBps)))
	fromBps.Quo(fromBps, big.NewInt(10_000))
	if fromBps.Cmp(minProfitA) > 0 {
		return fromBps
	}
	return new(big.Int).Set(minProfitA)
}

// Decider is the capability the Scanner consumes: decide, with a
// transparent fallback to the in-process implementation on any
// offloaded-subprocess failure.
type Decider interface {
	Decide(ctx context.Context, req Request) solarb.Decision
}

// InProcess is the trivial Decider backed directly by Decide.
type InProcess struct{}

func (InProcess) Decide(_ context.Context, req Request) solarb.Decision {
	return Decide(req)
}

// wireRequest/wireResponse are the line-oriented JSON-RPC shapes sent
// to the offloaded decider subprocess. Big integers travel as decimal
// strings since JSON numbers cannot safely carry 128-bit-plus values.
type wireRequest struct {
	In           string `json:"in"`
	Out          string `json:"out"`
	MinOut       string `json:"minOut"`
	FeeInA       string `json:"feeInA"`
	MinProfitInA string `json:"minProfitInA"`
}

type wireResponse struct {
	Profit             string `json:"profit"`
	ConservativeProfit string `json:"conservativeProfit"`
	Profitable         bool   `json:"profitable"`
	Error              string `json:"error,omitempty"`
}

// Offloaded drives a long-lived child process over its stdin/stdout
// pipe, one JSON object per line per request/response. Any failure to
// start, write, read, or parse falls back to InProcess with identical
// semantics, matching spec §4.4/§9.
type Offloaded struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *bufio.Writer
	stdout  *bufio.Scanner
	started bool
}

// NewOffloaded constructs an Offloaded decider that lazily spawns the
// given command on first use.
func NewOffloaded(name string, args ...string) *Offloaded {
	return &Offloaded{cmd: exec.Command(name, args...)}
}

func (o *Offloaded) ensureStarted() error {
	if o.started {
		return nil
	}
	stdin, err := o.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("decide: stdin pipe: %w", err)
	}
	stdout, err := o.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decide: stdout pipe: %w", err)
	}
	if err := o.cmd.Start(); err != nil {
		return fmt.Errorf("decide: start subprocess: %w", err)
	}
	o.stdin = bufio.NewWriter(stdin)
	o.stdout = bufio.NewScanner(stdout)
	o.started = true
	return nil
}

// Decide attempts the offloaded subprocess and falls back to
// in-process arithmetic on any error.
func (o *Offloaded) Decide(ctx context.Context, req Request) solarb.Decision {
	o.mu.Lock()
	decision, err := o.decideLocked(req)
	o.mu.Unlock()
	if err != nil {
		return Decide(req)
	}
	return decision
}

func (o *Offloaded) decideLocked(req Request) (solarb.Decision, error) {
	if err := o.ensureStarted(); err != nil {
		return solarb.Decision{}, err
	}

	line, err := json.Marshal(wireRequest{
		In:           req.In.String(),
		Out:          req.Out.String(),
		MinOut:       req.MinOut.String(),
		FeeInA:       req.FeeInA.String(),
		MinProfitInA: req.MinProfitInA.String(),
	})
	if err != nil {
		return solarb.Decision{}, err
	}
	if _, err := o.stdin.Write(append(line, '\n')); err != nil {
		return solarb.Decision{}, err
	}
	if err := o.stdin.Flush(); err != nil {
		return solarb.Decision{}, err
	}

	if !o.stdout.Scan() {
		if err := o.stdout.Err(); err != nil {
			return solarb.Decision{}, err
		}
		return solarb.Decision{}, fmt.Errorf("decide: subprocess closed stdout")
	}

	var resp wireResponse
	if err := json.Unmarshal(o.stdout.Bytes(), &resp); err != nil {
		return solarb.Decision{}, err
	}
	if resp.Error != "" {
		return solarb.Decision{}, fmt.Errorf("decide: subprocess error: %s", resp.Error)
	}

	profit, ok := new(big.Int).SetString(resp.Profit, 10)
	if !ok {
		return solarb.Decision{}, fmt.Errorf("decide: malformed profit %q", resp.Profit)
	}
	conservative, ok := new(big.Int).SetString(resp.ConservativeProfit, 10)
	if !ok {
		return solarb.Decision{}, fmt.Errorf("decide: malformed conservativeProfit %q", resp.ConservativeProfit)
	}

	return solarb.Decision{
		Profit:             profit,
		ConservativeProfit: conservative,
		Profitable:         resp.Profitable,
	}, nil
}

// Close terminates the subprocess, if started.
func (o *Offloaded) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}
	return o.cmd.Process.Kill()
}
