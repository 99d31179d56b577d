package quote

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/arbcore/solarb"
)

// singleflightEntry holds an in-flight or completed call so concurrent
// callers for the same key coalesce onto one upstream request.
type singleflightEntry[T any] struct {
	done   chan struct{}
	value  T
	err    error
	expiry time.Time
}

// ttlCache is a generic TTL cache with in-flight coalescing: the first
// caller for a key starts the loader and stores its own pending entry;
// subsequent callers before it resolves wait on the same entry. A
// failed load deletes the key so the next caller retries fresh.
type ttlCache[K comparable, T any] struct {
	mu      sync.Mutex
	entries map[K]*singleflightEntry[T]
	ttl     time.Duration
}

func newTTLCache[K comparable, T any](ttl time.Duration) *ttlCache[K, T] {
	return &ttlCache[K, T]{entries: make(map[K]*singleflightEntry[T]), ttl: ttl}
}

func (c *ttlCache[K, T]) get(ctx context.Context, key K, load func(ctx context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.expiry.IsZero() || time.Now().Before(e.expiry) {
			c.mu.Unlock()
			<-e.done
			return e.value, e.err
		}
		delete(c.entries, key)
	}
	e := &singleflightEntry[T]{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	value, err := load(ctx)
	e.value = value
	e.err = err
	if err != nil {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	} else {
		e.expiry = time.Now().Add(c.ttl)
	}
	close(e.done)
	return value, err
}

// QuoteCacheKey identifies a Primary quote-only request (spec §4.2).
type QuoteCacheKey struct {
	In, Out     string
	Amount      string
	SlippageBps int
	Include     string
	Exclude     string
}

func sortedJoin(vs []string) string {
	cp := append([]string(nil), vs...)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}

// NewQuoteCacheKey builds a QuoteCacheKey from an ExactInRequest.
func NewQuoteCacheKey(req ExactInRequest) QuoteCacheKey {
	return QuoteCacheKey{
		In:          req.InMint.String(),
		Out:         req.OutMint.String(),
		Amount:      req.Amount.String(),
		SlippageBps: req.SlippageBps,
		Include:     sortedJoin(req.Include),
		Exclude:     sortedJoin(req.Exclude),
	}
}

// DefaultQuoteCacheTTL is the Primary quote-only cache's default TTL.
const DefaultQuoteCacheTTL = 250 * time.Millisecond

// QuoteCache coalesces concurrent identical Primary quote-only
// requests and serves repeats from cache within the TTL.
type QuoteCache struct {
	cache *ttlCache[QuoteCacheKey, solarb.Quote]
}

// NewQuoteCache constructs a QuoteCache with the given TTL; ttl<=0
// uses DefaultQuoteCacheTTL.
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = DefaultQuoteCacheTTL
	}
	return &QuoteCache{cache: newTTLCache[QuoteCacheKey, solarb.Quote](ttl)}
}

// Get returns a cached quote or calls load and caches the result.
func (c *QuoteCache) Get(ctx context.Context, req ExactInRequest, load func(ctx context.Context) (solarb.Quote, error)) (solarb.Quote, error) {
	return c.cache.get(ctx, NewQuoteCacheKey(req), load)
}

// DefaultFeeConversionCacheTTL and MinFeeConversionCacheTTL bound the
// fee-conversion cache's TTL (spec §4.2/§4.3): default 60s, never
// below 10s, but raised to at least the pair's cooldown.
const (
	DefaultFeeConversionCacheTTL = 60 * time.Second
	MinFeeConversionCacheTTL     = 10 * time.Second
)

// FeeConversionCacheTTL computes the effective TTL for a pair's
// cooldown, honoring the default/min/cooldown-floor rule.
func FeeConversionCacheTTL(cooldown time.Duration) time.Duration {
	ttl := DefaultFeeConversionCacheTTL
	if cooldown > ttl {
		ttl = cooldown
	}
	if ttl < MinFeeConversionCacheTTL {
		ttl = MinFeeConversionCacheTTL
	}
	return ttl
}

// FeeConversionCacheKey identifies a lamports-to-mint-A conversion
// (spec §4.2): (pair name, mint A, slippage, provider kind).
type FeeConversionCacheKey struct {
	Pair        string
	MintA       string
	SlippageBps int
	Provider    solarb.QuoteProvider
}

// FeeConversionCache coalesces and caches lamport->mintA conversions
// per pair.
type FeeConversionCache struct {
	cache *ttlCache[FeeConversionCacheKey, *big.Int]
}

// NewFeeConversionCache constructs a FeeConversionCache with ttl
// (compute via FeeConversionCacheTTL).
func NewFeeConversionCache(ttl time.Duration) *FeeConversionCache {
	if ttl <= 0 {
		ttl = DefaultFeeConversionCacheTTL
	}
	return &FeeConversionCache{cache: newTTLCache[FeeConversionCacheKey, *big.Int](ttl)}
}

// Get returns a cached conversion or calls load and caches the result.
func (c *FeeConversionCache) Get(ctx context.Context, key FeeConversionCacheKey, load func(ctx context.Context) (*big.Int, error)) (*big.Int, error) {
	return c.cache.get(ctx, key, load)
}

// DefaultLookupTableCacheTTL is the lookup-table cache's default TTL.
const DefaultLookupTableCacheTTL = 60 * time.Second

// LookupTableCache coalesces and caches per-address lookup table
// resolutions.
type LookupTableCache struct {
	cache *ttlCache[string, solana.PublicKeySlice]
}

// NewLookupTableCache constructs a LookupTableCache with the given
// TTL; ttl<=0 uses DefaultLookupTableCacheTTL.
func NewLookupTableCache(ttl time.Duration) *LookupTableCache {
	if ttl <= 0 {
		ttl = DefaultLookupTableCacheTTL
	}
	return &LookupTableCache{cache: newTTLCache[string, solana.PublicKeySlice](ttl)}
}

// GetMany resolves every address in addrs, deduping repeats and
// dropping any address that fails to resolve, per spec §4.2.
func (c *LookupTableCache) GetMany(ctx context.Context, addrs []solana.PublicKey, resolve func(ctx context.Context, addr solana.PublicKey) (solana.PublicKeySlice, error)) []solana.PublicKey {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]solana.PublicKey, 0)
	for _, addr := range addrs {
		key := addr.String()
		accounts, err := c.cache.get(ctx, key, func(ctx context.Context) (solana.PublicKeySlice, error) {
			return resolve(ctx, addr)
		})
		if err != nil {
			continue
		}
		for _, acc := range accounts {
			k := acc.String()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, acc)
		}
	}
	return out
}
