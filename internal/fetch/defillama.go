// Package fetch provides the client for retrieving yield pools from the
// upstream market-data API.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/hornet-cache/internal/config"
	"github.com/yourorg/hornet-cache/internal/model"
	"github.com/yourorg/hornet-cache/internal/retry"
	"github.com/yourorg/hornet-cache/internal/validation"
)

// ErrUpstreamUnavailable reports that the market-data API stayed unreachable
// or non-2xx after all retries.
var ErrUpstreamUnavailable = errors.New("upstream market-data API unavailable")

// ErrNoPoolsFound reports that filtering produced zero candidates. This is a
// hard failure that aborts the refresh cycle.
var ErrNoPoolsFound = errors.New("no pools found for analysis")

// DeFiLlamaClient fetches and filters yield-pool records.
type DeFiLlamaClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	baseDelay  time.Duration
	criteria   model.Criteria
	maxPools   int
}

// NewDeFiLlamaClient creates a client configured from cfg.
func NewDeFiLlamaClient(cfg config.Config) *DeFiLlamaClient {
	return &DeFiLlamaClient{
		baseURL:    cfg.DeFiLlamaBaseURL,
		httpClient: newRetryClient(),
		timeout:    cfg.DeFiLlamaTimeout,
		retries:    cfg.DeFiLlamaRetries,
		baseDelay:  time.Second,
		criteria: model.Criteria{
			Chains:      cfg.Chains,
			TokenFilter: cfg.TokenFilter,
			MinTVL:      cfg.MinTVL,
			MaxAPY:      cfg.MaxAPY,
		},
		maxPools: cfg.MaxPoolsToAnalyze,
	}
}

// newRetryClient creates an HTTP client with transport-level retry capabilities.
func newRetryClient() *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c.StandardClient()
}

// GetAllPools performs one GET against the pool listing endpoint, wrapped in
// the backoff retry utility. A response without the expected data array is
// treated as an empty list with a warning, not a hard failure.
func (c *DeFiLlamaClient) GetAllPools(ctx context.Context) ([]model.Pool, error) {
	return retry.Do(ctx, "DeFiLlama getAllPools", c.retries, c.baseDelay, func(ctx context.Context) ([]model.Pool, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		logrus.Debug("Fetching pools from DeFiLlama")

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/pools", nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("%w: status %d, body: %s", ErrUpstreamUnavailable, resp.StatusCode, string(body))
		}

		var response struct {
			Data []model.Pool `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return nil, fmt.Errorf("%w: decoding response: %v", ErrUpstreamUnavailable, err)
		}

		if response.Data == nil {
			logrus.Warn("DeFiLlama response missing data array, treating as empty")
			response.Data = []model.Pool{}
		}

		logrus.WithFields(logrus.Fields{
			"pools":    len(response.Data),
			"duration": time.Since(start).String(),
		}).Info("Fetched pools from DeFiLlama")

		return response.Data, nil
	})
}

// GetPoolsForAnalysis composes fetch, filter and sort. Criteria fields left
// at their zero value in override are taken from configuration.
func (c *DeFiLlamaClient) GetPoolsForAnalysis(ctx context.Context, override *model.Criteria) (*model.PoolsResult, error) {
	criteria := c.criteria
	if override != nil {
		if len(override.Chains) > 0 {
			criteria.Chains = override.Chains
		}
		if override.TokenFilter != "" {
			criteria.TokenFilter = override.TokenFilter
		}
		if override.MinTVL > 0 {
			criteria.MinTVL = override.MinTVL
		}
		if override.MaxAPY > 0 {
			criteria.MaxAPY = override.MaxAPY
		}
	}

	allPools, err := c.GetAllPools(ctx)
	if err != nil {
		return nil, err
	}

	filtered := validation.FilterPools(allPools, criteria)
	sorted := validation.SortByTVLAndLimit(filtered, c.maxPools)

	if len(sorted) == 0 {
		return nil, fmt.Errorf("%w: %d pools seen, none matched criteria", ErrNoPoolsFound, len(allPools))
	}

	stats := validation.Stats(sorted)
	return &model.PoolsResult{
		Success:       true,
		Pools:         sorted,
		TotalPools:    len(allPools),
		FilteredPools: len(filtered),
		AnalyzedPools: len(sorted),
		Stats:         &stats,
	}, nil
}
