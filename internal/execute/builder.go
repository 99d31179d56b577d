// Package execute implements the Executor & Builder (C7): atomic
// multi-leg instruction composition, and the sequential/Ultra/bundle
// send paths.
package execute

import (
	"encoding/base64"
	"encoding/binary"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/arbcore/solarb/internal/quote"
)

// computeBudgetProgramID is Solana's native ComputeBudget111... program.
var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// defaultTipAccounts is the hard-coded fallback set a bundle tip is
// chosen from uniformly at random when no valid tip account is
// configured (spec §4.7 step 7). These are well-known Jito tip
// accounts.
var defaultTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KXP",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// setComputeUnitLimit builds a raw ComputeBudget::SetComputeUnitLimit
// instruction (discriminator 2, u32 LE units).
func setComputeUnitLimit(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// setComputeUnitPrice builds a raw ComputeBudget::SetComputeUnitPrice
// instruction (discriminator 3, u64 LE micro-lamports).
func setComputeUnitPrice(microLamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// systemTransfer builds a raw System::Transfer instruction moving
// lamports from from to to.
func systemTransfer(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], 2) // System program Transfer discriminant
	binary.LittleEndian.PutUint64(data[4:], lamports)
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(from, true, true),
		solana.NewAccountMeta(to, true, false),
	}
	return solana.NewInstruction(solana.SystemProgramID, metas, data)
}

// instructionKey is the dedup key from spec §4.7 step 4/6:
// (programId, base64(data), sorted(accountKey:isSigner:isWritable)).
func instructionKey(ix solana.Instruction) string {
	var b []byte
	b = append(b, ix.ProgramID().Bytes()...)
	data, _ := ix.Data()
	b = append(b, []byte(base64.StdEncoding.EncodeToString(data))...)

	accounts := ix.Accounts()
	parts := make([]string, len(accounts))
	for i, a := range accounts {
		parts[i] = a.PublicKey.String() + ":" + boolStr(a.IsSigner) + ":" + boolStr(a.IsWritable)
	}
	sort.Strings(parts)
	for _, p := range parts {
		b = append(b, []byte(p)...)
	}
	return string(b)
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// dedupInstructions concatenates groups in order and drops later
// duplicates by instructionKey, preserving first-seen order.
func dedupInstructions(groups ...[]solana.Instruction) []solana.Instruction {
	seen := make(map[string]struct{})
	out := make([]solana.Instruction, 0)
	for _, group := range groups {
		for _, ix := range group {
			k := instructionKey(ix)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, ix)
		}
	}
	return out
}

// AtomicBuildInput is one leg's already-fetched swap instructions, in
// leg order.
type AtomicBuildInput struct {
	Legs []quote.SwapInstructions

	Payer            solana.PublicKey
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64 // 0 means no priority fee instruction

	// TipLamports>0 appends a tip transfer as the final instruction.
	TipLamports uint64
	TipAccount  *solana.PublicKey // nil selects uniformly at random from defaultTipAccounts
	RandomIndex int               // caller-supplied randomness source for tip account selection
}

// AtomicPlan is the fully composed, not-yet-compiled instruction list
// plus the lookup table addresses it references.
type AtomicPlan struct {
	Instructions         []solana.Instruction
	LookupTableAddresses []solana.PublicKey
}

// BuildAtomic composes one atomic, multi-leg transaction's
// instructions per spec §4.7 steps 2-7.
func BuildAtomic(in AtomicBuildInput) AtomicPlan {
	var budget []solana.Instruction
	budget = append(budget, setComputeUnitLimit(in.ComputeUnitLimit))
	if in.ComputeUnitPrice > 0 {
		budget = append(budget, setComputeUnitPrice(in.ComputeUnitPrice))
	}

	var other []solana.Instruction
	if len(in.Legs) > 0 {
		other = in.Legs[0].Other
	}

	setupGroups := make([][]solana.Instruction, len(in.Legs))
	cleanupGroups := make([][]solana.Instruction, len(in.Legs))
	swaps := make([]solana.Instruction, 0, len(in.Legs))
	lookups := make([]solana.PublicKey, 0)
	seenLookup := make(map[string]struct{})

	for i, leg := range in.Legs {
		setupGroups[i] = leg.Setup
		cleanupGroups[i] = leg.Cleanup
		swaps = append(swaps, leg.Swap)
		for _, addr := range leg.LookupTableAddresses {
			k := addr.String()
			if _, dup := seenLookup[k]; dup {
				continue
			}
			seenLookup[k] = struct{}{}
			lookups = append(lookups, addr)
		}
	}

	setup := dedupInstructions(setupGroups...)
	cleanup := dedupInstructions(cleanupGroups...)

	instructions := make([]solana.Instruction, 0)
	instructions = append(instructions, budget...)
	instructions = append(instructions, other...)
	instructions = append(instructions, setup...)
	instructions = append(instructions, swaps...)
	instructions = append(instructions, cleanup...)

	if in.TipLamports > 0 {
		tipAccount := resolveTipAccount(in.TipAccount, in.RandomIndex)
		instructions = append(instructions, systemTransfer(in.Payer, tipAccount, in.TipLamports))
	}

	return AtomicPlan{Instructions: instructions, LookupTableAddresses: lookups}
}

// resolveTipAccount returns the configured tip account when it is a
// valid public key, else one of defaultTipAccounts chosen by
// randomIndex modulo the set size (spec §4.7 step 7: "uniformly at
// random"; the caller supplies the randomness via crypto/rand, see
// cryptoRandInt in engine.go).
func resolveTipAccount(configured *solana.PublicKey, randomIndex int) solana.PublicKey {
	if configured != nil {
		return *configured
	}
	idx := randomIndex % len(defaultTipAccounts)
	if idx < 0 {
		idx += len(defaultTipAccounts)
	}
	return solana.MustPublicKeyFromBase58(defaultTipAccounts[idx])
}

// WithoutTip rebuilds the same instruction list without the trailing
// tip transfer, used by the bundle fallback path (spec §4.7 "Bundle
// path"). It assumes BuildAtomic appended the tip as the last
// instruction when tipLamports>0.
func WithoutTip(plan AtomicPlan, hadTip bool) AtomicPlan {
	if !hadTip || len(plan.Instructions) == 0 {
		return plan
	}
	return AtomicPlan{
		Instructions:         plan.Instructions[:len(plan.Instructions)-1],
		LookupTableAddresses: plan.LookupTableAddresses,
	}
}
