package quote

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbcore/solarb"
)

func TestNewPrimaryHTTPClient_RequiresAPIKeyForPublicHost(t *testing.T) {
	_, err := NewPrimaryHTTPClient(PrimaryConfig{QuoteBaseURL: "https://api.jup.ag"})
	assert.Error(t, err)
}

func TestNewPrimaryHTTPClient_SelfHostedDoesNotRequireKey(t *testing.T) {
	c, err := NewPrimaryHTTPClient(PrimaryConfig{QuoteBaseURL: "https://my-self-hosted.example"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestPrimaryHTTPClient_QuoteExactIn_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "key-a", r.Header.Get("x-api-key"))
		_ = json.NewEncoder(w).Encode(jupiterQuoteResponse{
			OutAmount:            "2000000",
			OtherAmountThreshold: "1980000",
			SlippageBps:          50,
		})
	}))
	defer srv.Close()

	c, err := NewPrimaryHTTPClient(PrimaryConfig{QuoteBaseURL: srv.URL, APIKeys: []string{"key-a"}})
	require.NoError(t, err)

	mint := nativeSOL
	q, err := c.(*primaryHTTPClient).QuoteExactIn(context.Background(), ExactInRequest{
		InMint:      mint,
		OutMint:     mint,
		Amount:      big.NewInt(1_000_000),
		SlippageBps: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2_000_000), q.OutAmount)
	assert.Equal(t, big.NewInt(1_980_000), q.MinOut)
	assert.Equal(t, solarb.ProviderPrimary, q.Provider)
}

func TestPrimaryHTTPClient_QuoteExactIn_MalformedOutAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jupiterQuoteResponse{OutAmount: "not-a-number"})
	}))
	defer srv.Close()

	c, err := NewPrimaryHTTPClient(PrimaryConfig{QuoteBaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.(*primaryHTTPClient).QuoteExactIn(context.Background(), ExactInRequest{
		InMint:  nativeSOL,
		OutMint: nativeSOL,
		Amount:  big.NewInt(1),
	})
	assert.Error(t, err)
}

func TestPrimaryHTTPClient_Do_WrapsHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c, err := NewPrimaryHTTPClient(PrimaryConfig{QuoteBaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.(*primaryHTTPClient).QuoteExactIn(context.Background(), ExactInRequest{
		InMint:  nativeSOL,
		OutMint: nativeSOL,
		Amount:  big.NewInt(1),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestPrimaryHTTPClient_NextAPIKey_RotatesAcrossCalls(t *testing.T) {
	c := &primaryHTTPClient{apiKeys: []string{"a", "b", "c"}}
	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		seen[c.nextAPIKey()] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}
