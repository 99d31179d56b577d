package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbcore/solarb/internal/ratelimit"
)

type fakeSnapshotter struct{ pairs []PairSnapshot }

func (f fakeSnapshotter) Pairs() []PairSnapshot { return f.pairs }

func newTestGovernor() *ratelimit.Governor {
	return ratelimit.NewGovernor(map[ratelimit.Upstream]ratelimit.GovernorConfig{
		ratelimit.Primary: ratelimit.DefaultGovernorConfig(5),
	})
}

func TestHandleHealthz(t *testing.T) {
	s := New(":0", newTestGovernor(), nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.handleHealthz(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "ok", string(body))
}

func TestHandleMetrics_IncludesLimitersAndPairs(t *testing.T) {
	snap := fakeSnapshotter{pairs: []PairSnapshot{{Name: "SOL/USDC", LastDecisionProfit: true, TriggerState: "observing"}}}
	s := New(":0", newTestGovernor(), snap, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.handleMetrics(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp metricsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.Limiters, "primary")
	require.Len(t, resp.Pairs, 1)
	assert.Equal(t, "SOL/USDC", resp.Pairs[0].Name)
}

func TestRun_ShutsDownOnContextCancel(t *testing.T) {
	s := New("127.0.0.1:0", newTestGovernor(), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
