package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/hornet-cache/internal/config"
	"github.com/yourorg/hornet-cache/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *DeFiLlamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		DeFiLlamaBaseURL:  srv.URL,
		DeFiLlamaTimeout:  5 * time.Second,
		DeFiLlamaRetries:  0,
		Chains:            []string{"Base"},
		TokenFilter:       "usdc",
		MinTVL:            10000,
		MaxAPY:            1000,
		MaxPoolsToAnalyze: 100,
	}
	c := NewDeFiLlamaClient(cfg)
	// Plain transport keeps retry behavior under the test's control.
	c.httpClient = srv.Client()
	c.baseDelay = time.Millisecond
	return c
}

const poolsBody = `{"data":[
	{"pool":"a","chain":"Base","project":"aave-v3","symbol":"USDC","tvlUsd":5000000,"apy":4.1},
	{"pool":"b","chain":"Base","project":"morpho","symbol":"USDC","tvlUsd":2000000,"apy":6.7},
	{"pool":"c","chain":"Ethereum","project":"aave-v3","symbol":"USDC","tvlUsd":9000000,"apy":3.2},
	{"pool":"d","chain":"Base","project":"tiny","symbol":"USDC","tvlUsd":500,"apy":22.0}
]}`

func TestGetAllPools_ParsesDataArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pools", r.URL.Path)
		w.Write([]byte(poolsBody))
	})

	pools, err := client.GetAllPools(context.Background())
	require.NoError(t, err)
	assert.Len(t, pools, 4)
	assert.Equal(t, "aave-v3", pools[0].Project)
}

func TestGetAllPools_MissingDataArrayIsEmptyNotFatal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	pools, err := client.GetAllPools(context.Background())
	require.NoError(t, err, "Missing data array is a soft condition")
	assert.Empty(t, pools)
}

func TestGetAllPools_NonSuccessStatusIsUpstreamUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	})

	_, err := client.GetAllPools(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestGetAllPools_RetriesThenSurfacesOriginalError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	client.retries = 2

	_, err := client.GetAllPools(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable, "The original error type must survive retry exhaustion")
	assert.Equal(t, int32(3), calls.Load(), "maxRetries=2 means 3 total attempts")
}

func TestGetPoolsForAnalysis_FiltersSortsAndCounts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(poolsBody))
	})

	result, err := client.GetPoolsForAnalysis(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalPools)
	assert.Equal(t, 2, result.FilteredPools, "Ethereum chain and sub-minimum TVL pools are dropped")
	assert.Equal(t, 2, result.AnalyzedPools)
	require.Len(t, result.Pools, 2)
	assert.Equal(t, "a", result.Pools[0].ID, "Pools must be sorted by TVL descending")
	assert.Equal(t, "b", result.Pools[1].ID)
	require.NotNil(t, result.Stats)
	assert.Equal(t, 2, result.Stats.Count)
}

func TestGetPoolsForAnalysis_EmptySetIsNoPoolsFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	_, err := client.GetPoolsForAnalysis(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPoolsFound)
}

func TestGetPoolsForAnalysis_CriteriaOverride(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(poolsBody))
	})

	result, err := client.GetPoolsForAnalysis(context.Background(), &model.Criteria{
		Chains: []string{"Ethereum"},
	})
	require.NoError(t, err)
	require.Len(t, result.Pools, 1)
	assert.Equal(t, "c", result.Pools[0].ID)
}
