// Package wallet loads the configured signing key (spec §6
// "wallet secret (base58, JSON array, or path to JSON array)") and
// implements the supplemented `--setup-wallet` associated-token-account
// bootstrap (SPEC_FULL §12).
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/mr-tron/base58"
)

// Signer matches execute.Signer without importing the execute
// package, avoiding an import cycle.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// privateKeySigner wraps a loaded solana.PrivateKey.
type privateKeySigner struct {
	key solana.PrivateKey
}

func (s privateKeySigner) PublicKey() solana.PublicKey { return s.key.PublicKey() }

func (s privateKeySigner) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("wallet: sign transaction: %w", err)
	}
	return nil
}

// Load resolves the configured secret into a Signer. raw is tried, in
// order, as: a path to a file (containing either a JSON byte array or
// a bare base58 string), a literal JSON byte array, or a literal
// base58 string.
func Load(raw string) (Signer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("wallet: empty secret")
	}

	if data, err := os.ReadFile(raw); err == nil {
		key, err := parseSecret(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("wallet: parse secret file %s: %w", raw, err)
		}
		return privateKeySigner{key: key}, nil
	}

	key, err := parseSecret(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse secret: %w", err)
	}
	return privateKeySigner{key: key}, nil
}

func parseSecret(s string) (solana.PrivateKey, error) {
	if strings.HasPrefix(s, "[") {
		var bytes []byte
		if err := json.Unmarshal([]byte(s), &bytes); err != nil {
			return nil, fmt.Errorf("not a valid JSON byte array: %w", err)
		}
		return solana.PrivateKey(bytes), nil
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("not a valid base58 secret: %w", err)
	}
	return solana.PrivateKey(decoded), nil
}

// ATAChecker is the narrow RPC capability SetupATAs needs: whether an
// account already exists on-chain.
type ATAChecker interface {
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
}

// ATASender supplies the blockhash for, sends, and confirms one
// already-built, signed transaction.
type ATASender interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error
}

// maxInstructionsPerTx bounds how many ATA-create instructions get
// batched into one transaction, conservatively under Solana's
// per-transaction size limit.
const maxInstructionsPerTx = 10

// SetupATAs idempotently creates the wallet's associated token account
// for every mint that does not already have one. Re-running against a
// wallet with every ATA already created submits zero transactions
// (spec §8 round-trip property).
func SetupATAs(ctx context.Context, signer Signer, checker ATAChecker, sender ATASender, mints []solana.PublicKey) ([]solana.Signature, error) {
	owner := signer.PublicKey()
	missing := make([]solana.PublicKey, 0, len(mints))
	seen := make(map[solana.PublicKey]bool, len(mints))

	for _, mint := range mints {
		if seen[mint] {
			continue
		}
		seen[mint] = true

		ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
		if err != nil {
			return nil, fmt.Errorf("wallet: derive ATA for mint %s: %w", mint, err)
		}
		exists, err := checker.AccountExists(ctx, ata)
		if err != nil {
			return nil, fmt.Errorf("wallet: check ATA %s: %w", ata, err)
		}
		if !exists {
			missing = append(missing, mint)
		}
	}

	if len(missing) == 0 {
		return nil, nil
	}

	var signatures []solana.Signature
	for start := 0; start < len(missing); start += maxInstructionsPerTx {
		end := start + maxInstructionsPerTx
		if end > len(missing) {
			end = len(missing)
		}
		sig, err := submitBatch(ctx, owner, signer, sender, missing[start:end])
		if err != nil {
			return signatures, err
		}
		signatures = append(signatures, sig)
	}
	return signatures, nil
}

func submitBatch(ctx context.Context, owner solana.PublicKey, signer Signer, sender ATASender, mints []solana.PublicKey) (solana.Signature, error) {
	instructions := make([]solana.Instruction, 0, len(mints))
	for _, mint := range mints {
		ix := associatedtokenaccount.NewCreateInstruction(owner, owner, mint).Build()
		instructions = append(instructions, ix)
	}

	blockhash, err := sender.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("wallet: latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(owner))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("wallet: build ATA batch tx: %w", err)
	}
	if err := signer.Sign(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("wallet: sign ATA batch tx: %w", err)
	}
	sig, err := sender.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("wallet: send ATA batch tx: %w", err)
	}
	if err := sender.ConfirmTransaction(ctx, sig, 0); err != nil {
		return sig, fmt.Errorf("wallet: confirm ATA batch tx: %w", err)
	}
	return sig, nil
}
