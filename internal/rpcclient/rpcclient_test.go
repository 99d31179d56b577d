package rpcclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

// errorServer answers every JSON-RPC call with an error response, so
// tests can assert the adapter wraps and propagates RPC failures
// rather than panicking on a malformed/negative response.
func errorServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"boom"}}`))
	}))
}

func TestLatestBlockhash_WrapsRPCError(t *testing.T) {
	srv := errorServer(t)
	defer srv.Close()

	c := New(srv.URL, "confirmed")
	_, err := c.LatestBlockhash(context.Background())
	assert.Error(t, err)
}

func TestGetBalance_WrapsRPCError(t *testing.T) {
	srv := errorServer(t)
	defer srv.Close()

	c := New(srv.URL, "confirmed")
	_, err := c.GetBalance(context.Background(), solana.PublicKey{})
	assert.Error(t, err)
}

func TestConfirmTransaction_ReturnsOnContextDeadline(t *testing.T) {
	srv := errorServer(t)
	defer srv.Close()

	c := New(srv.URL, "confirmed")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.ConfirmTransaction(ctx, solana.Signature{}, 0)
	assert.Error(t, err)
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	srv := errorServer(t)
	defer srv.Close()

	c := New(srv.URL, "confirmed")
	for i := 0; i < 5; i++ {
		_, _ = c.LatestBlockhash(context.Background())
	}

	_, err := c.LatestBlockhash(context.Background())
	assert.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
