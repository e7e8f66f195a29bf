// Package model defines the core data structures for the hornet cache server.
package model

import (
	"time"
)

// Pool represents a single yield opportunity as reported by the upstream
// market-data API. Pools are immutable once fetched; identity is the ID string.
type Pool struct {
	// ID is the upstream pool identifier
	ID string `json:"pool"`

	// Chain is the blockchain network the pool lives on
	Chain string `json:"chain"`

	// Project is the protocol operating the pool
	Project string `json:"project"`

	// Symbol is the display symbol, e.g. "USDC" or "USDC-WETH"
	Symbol string `json:"symbol"`

	// TVLUsd is the total value locked in USD
	TVLUsd float64 `json:"tvlUsd"`

	// APY is the annualized yield in whole percentage points (5.2 means 5.2%)
	APY float64 `json:"apy"`

	// APYBase is the base yield component
	APYBase float64 `json:"apyBase"`

	// APYReward is the reward-token yield component
	APYReward float64 `json:"apyReward"`

	// Stablecoin indicates a stablecoin-only pool
	Stablecoin bool `json:"stablecoin"`

	// ILRisk is the impermanent-loss risk indicator ("yes"/"no")
	ILRisk string `json:"ilRisk"`

	// Exposure is the asset exposure classification ("single"/"multi")
	Exposure string `json:"exposure"`

	// RewardTokens lists reward token addresses, if any
	RewardTokens []string `json:"rewardTokens,omitempty"`
}

// Criteria is the pool selection criteria applied before ranking.
type Criteria struct {
	// Chains is the chain allow-list (matched case-insensitively)
	Chains []string `json:"chains"`

	// TokenFilter is the symbol substring filter (case-insensitive)
	TokenFilter string `json:"tokenFilter"`

	// MinTVL is the minimum TVL in USD
	MinTVL float64 `json:"minTvl"`

	// MaxAPY is the maximum plausible APY; pools above it are rejected
	MaxAPY float64 `json:"maxApy"`
}

// PoolStats summarizes a pool set.
type PoolStats struct {
	Count    int     `json:"count"`
	TotalTVL float64 `json:"totalTvl"`
	AvgAPY   float64 `json:"avgApy"`
	MaxAPY   float64 `json:"maxApy"`
	MinAPY   float64 `json:"minApy"`
}

// PoolsResult is the filtered and sorted pool set ready for analysis,
// together with the counts observed at each stage.
type PoolsResult struct {
	Success       bool       `json:"success"`
	Pools         []Pool     `json:"pools"`
	TotalPools    int        `json:"totalPools"`
	FilteredPools int        `json:"filteredPools"`
	AnalyzedPools int        `json:"analyzedPools"`
	Stats         *PoolStats `json:"stats,omitempty"`
}

// Recommendation is an AI-produced judgment about one pool.
type Recommendation struct {
	Pool      Pool     `json:"pool"`
	Score     int      `json:"score"`
	Reasoning string   `json:"reasoning"`
	Pros      []string `json:"pros"`
	Cons      []string `json:"cons"`
	RiskLevel string   `json:"riskLevel"`
}

// Risk levels used to bucket recommendations.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Strategies partitions recommendations into risk buckets, each capped at
// the single top pick, plus the overall best pick.
type Strategies struct {
	Low    []Recommendation `json:"low"`
	Medium []Recommendation `json:"medium"`
	High   []Recommendation `json:"high"`
	Best   *Recommendation  `json:"best"`
}

// Analysis is the cached analysis artifact, persisted under the analysis key.
type Analysis struct {
	Success            bool       `json:"success"`
	Strategies         Strategies `json:"strategies"`
	Summary            string     `json:"summary"`
	Warnings           []string   `json:"warnings"`
	TotalPoolsAnalyzed int        `json:"totalPoolsAnalyzed"`
	Timestamp          string     `json:"timestamp"`
}

// Metadata is the bookkeeping record rewritten on every successful refresh.
// Callers must treat it as best-effort: no transaction spans the cache keys,
// so metadata can describe an update that did not fully land.
type Metadata struct {
	// LastUpdate is the RFC3339 timestamp of the last successful refresh
	LastUpdate string `json:"lastUpdate"`

	// UpdateCount increases monotonically across successful refreshes
	UpdateCount int64 `json:"updateCount"`

	// DurationMs is how long the refresh took
	DurationMs int64 `json:"duration"`

	// PoolsAnalyzed is the number of pools sent to the AI
	PoolsAnalyzed int `json:"poolsAnalyzed"`

	// TotalPools is the number of pools seen upstream before filtering
	TotalPools int `json:"totalPools"`
}

// RefreshResult is what a refresh reports to its caller. Refresh never
// returns a Go error; failures are folded into this result.
type RefreshResult struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	Metadata   *Metadata `json:"metadata,omitempty"`
	ErrorCount int64     `json:"errorCount,omitempty"`
}

// NewMetadata builds the metadata record for a refresh that finished now.
func NewMetadata(updateCount int64, started time.Time, poolsAnalyzed, totalPools int) Metadata {
	return Metadata{
		LastUpdate:    time.Now().UTC().Format(time.RFC3339),
		UpdateCount:   updateCount,
		DurationMs:    time.Since(started).Milliseconds(),
		PoolsAnalyzed: poolsAnalyzed,
		TotalPools:    totalPools,
	}
}
