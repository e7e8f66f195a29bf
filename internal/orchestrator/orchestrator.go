// Package orchestrator owns the cache refresh pipeline: fetch pools, have the
// AI rank them, persist the artifacts, stamp metadata. At most one refresh
// runs at a time; a request arriving mid-cycle is rejected, never queued.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/hornet-cache/internal/cachestore"
	"github.com/yourorg/hornet-cache/internal/model"
	"github.com/yourorg/hornet-cache/internal/otel"
	"github.com/yourorg/hornet-cache/internal/webhook"
)

// Cache keys. All four are written together on a successful refresh, though
// not atomically across keys.
const (
	KeyAnalysis   = cachestore.Namespace + "analysis:latest"
	KeyPools      = cachestore.Namespace + "pools:latest"
	KeyMetadata   = cachestore.Namespace + "metadata"
	KeyLastUpdate = cachestore.Namespace + "last_update"
)

// PoolFetcher is the upstream data client seen by the orchestrator.
type PoolFetcher interface {
	GetPoolsForAnalysis(ctx context.Context, override *model.Criteria) (*model.PoolsResult, error)
}

// Analyzer is the recommendation client seen by the orchestrator.
type Analyzer interface {
	AnalyzePools(ctx context.Context, pools []model.Pool) (*model.Analysis, error)
}

// Options wires the orchestrator's collaborators and cache policy.
type Options struct {
	Store           *cachestore.Store
	Fetcher         PoolFetcher
	Analyzer        Analyzer
	Notifier        *webhook.Notifier
	CacheTTL        time.Duration
	RefreshInterval time.Duration
	Metrics         *Metrics
}

// Orchestrator coordinates refresh cycles and serves cached reads. It is the
// single writer to the cache store; the HTTP layer only reads through it.
type Orchestrator struct {
	store           *cachestore.Store
	fetcher         PoolFetcher
	analyzer        Analyzer
	notifier        *webhook.Notifier
	cacheTTL        time.Duration
	refreshInterval time.Duration
	metrics         *Metrics

	// refreshing guards the Idle -> Refreshing transition. CompareAndSwap
	// because the runtime is genuinely parallel; released unconditionally.
	refreshing atomic.Bool

	updateCount    atomic.Int64
	errorCount     atomic.Int64
	lastUpdateUnix atomic.Int64 // unix milliseconds, 0 = never
}

// New creates an Orchestrator from its collaborators.
func New(opts Options) *Orchestrator {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = webhook.New(webhook.Config{})
	}
	return &Orchestrator{
		store:           opts.Store,
		fetcher:         opts.Fetcher,
		analyzer:        opts.Analyzer,
		notifier:        notifier,
		cacheTTL:        opts.CacheTTL,
		refreshInterval: opts.RefreshInterval,
		metrics:         opts.Metrics,
	}
}

// InProgress reports whether a refresh cycle is currently executing.
func (o *Orchestrator) InProgress() bool {
	return o.refreshing.Load()
}

// Refresh runs one fetch->analyze->persist->stamp cycle. It never panics and
// never returns a Go error: the scheduler and the manual-trigger endpoint
// both rely on a structured result instead.
func (o *Orchestrator) Refresh(ctx context.Context) *model.RefreshResult {
	if !o.refreshing.CompareAndSwap(false, true) {
		logrus.Warn("Cache refresh already in progress, skipping")
		return &model.RefreshResult{Success: false, Message: "Update already in progress"}
	}
	defer o.refreshing.Store(false)

	if o.metrics != nil {
		o.metrics.inProgress.Set(1)
		defer o.metrics.inProgress.Set(0)
	}

	ctx, span := otel.Tracer().Start(ctx, "cache.refresh")
	defer span.End()

	started := time.Now()
	logrus.Info("Starting cache refresh")

	result := o.runPipeline(ctx, started)
	if result.Success {
		if o.metrics != nil {
			o.metrics.refreshes.WithLabelValues("success").Inc()
			o.metrics.refreshDuration.Observe(time.Since(started).Seconds())
		}
		o.notifier.NotifySuccess(result.Metadata.DurationMs, "cache refreshed")
	} else {
		o.errorCount.Add(1)
		result.ErrorCount = o.errorCount.Load()
		if o.metrics != nil {
			o.metrics.refreshes.WithLabelValues("error").Inc()
		}
		otel.RecordError(ctx, fmt.Errorf("%s", result.Error))
		o.notifier.NotifyError(result.Error)
		logrus.WithFields(logrus.Fields{
			"error":      result.Error,
			"errorCount": result.ErrorCount,
		}).Error("Cache refresh failed")
	}
	return result
}

// runPipeline executes the four refresh steps and folds any failure into the
// result. It must stay free of panics: a failure never leaves the cache in a
// partially overwritten state because data keys are only written after the
// analysis succeeded in full.
func (o *Orchestrator) runPipeline(ctx context.Context, started time.Time) *model.RefreshResult {
	fetchCtx, fetchSpan := otel.Tracer().Start(ctx, "cache.refresh.fetch")
	poolsResult, err := o.fetcher.GetPoolsForAnalysis(fetchCtx, nil)
	fetchSpan.End()
	if err != nil {
		return &model.RefreshResult{Success: false, Error: err.Error()}
	}
	if len(poolsResult.Pools) == 0 {
		return &model.RefreshResult{Success: false, Error: "no pools found for analysis"}
	}

	analyzeCtx, analyzeSpan := otel.Tracer().Start(ctx, "cache.refresh.analyze")
	analysis, err := o.analyzer.AnalyzePools(analyzeCtx, poolsResult.Pools)
	analyzeSpan.End()
	if err != nil {
		return &model.RefreshResult{Success: false, Error: err.Error()}
	}

	_, persistSpan := otel.Tracer().Start(ctx, "cache.refresh.persist")
	defer persistSpan.End()

	if !o.store.Set(ctx, KeyAnalysis, analysis, o.cacheTTL) {
		return &model.RefreshResult{Success: false, Error: "failed to write analysis to cache"}
	}
	if !o.store.Set(ctx, KeyPools, poolsResult, o.cacheTTL) {
		return &model.RefreshResult{Success: false, Error: "failed to write pools to cache"}
	}

	// Metadata outlives the data it describes so staleness stays detectable.
	metadata := model.NewMetadata(o.updateCount.Add(1), started, poolsResult.AnalyzedPools, poolsResult.TotalPools)
	metadataTTL := o.cacheTTL * 2
	if !o.store.Set(ctx, KeyMetadata, metadata, metadataTTL) {
		return &model.RefreshResult{Success: false, Error: "failed to write metadata to cache"}
	}
	now := time.Now().UnixMilli()
	o.store.Set(ctx, KeyLastUpdate, now, metadataTTL)
	o.lastUpdateUnix.Store(now)

	if o.metrics != nil {
		o.metrics.poolsAnalyzed.Set(float64(poolsResult.AnalyzedPools))
		o.metrics.lastRefreshDurationMs.Set(float64(metadata.DurationMs))
	}

	logrus.WithFields(logrus.Fields{
		"poolsAnalyzed": metadata.PoolsAnalyzed,
		"updateCount":   metadata.UpdateCount,
		"duration":      strconv.FormatInt(metadata.DurationMs, 10) + "ms",
	}).Info("Cache refreshed successfully")

	return &model.RefreshResult{Success: true, Metadata: &metadata}
}

// ReadMetadata decorates the stored metadata with read-time facts.
type ReadMetadata struct {
	model.Metadata
	TTL    int64 `json:"ttl"`
	Cached bool  `json:"cached"`
}

// AnalysisResult is the envelope served for the analysis artifact.
type AnalysisResult struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message,omitempty"`
	Cached   *bool           `json:"cached,omitempty"`
	Data     *model.Analysis `json:"data,omitempty"`
	Metadata *ReadMetadata   `json:"metadata,omitempty"`
}

// GetAnalysis returns the cached analysis, or a "not available" result on a
// cold cache. Store errors on this read path degrade to the same answer.
func (o *Orchestrator) GetAnalysis(ctx context.Context) *AnalysisResult {
	var analysis model.Analysis
	if err := o.store.Get(ctx, KeyAnalysis, &analysis); err != nil {
		logrus.Warn("No cached analysis found")
		cached := false
		return &AnalysisResult{
			Success: false,
			Message: "No data available. Cache is being refreshed.",
			Cached:  &cached,
		}
	}

	meta := ReadMetadata{
		TTL:    o.store.TTL(ctx, KeyAnalysis),
		Cached: true,
	}
	// Missing metadata is tolerated; the analysis alone is still servable.
	_ = o.store.Get(ctx, KeyMetadata, &meta.Metadata)

	return &AnalysisResult{Success: true, Data: &analysis, Metadata: &meta}
}

// PoolsReadResult is the envelope served for the cached pool list.
type PoolsReadResult struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Data    *model.PoolsResult `json:"data,omitempty"`
}

// GetPools returns the cached pool list, or "not available".
func (o *Orchestrator) GetPools(ctx context.Context) *PoolsReadResult {
	var pools model.PoolsResult
	if err := o.store.Get(ctx, KeyPools, &pools); err != nil {
		return &PoolsReadResult{Success: false, Message: "No pools data available"}
	}
	return &PoolsReadResult{Success: true, Data: &pools}
}

// MetadataResult is the envelope served for cache bookkeeping.
type MetadataResult struct {
	Success     bool            `json:"success"`
	Metadata    *model.Metadata `json:"metadata"`
	LastUpdate  *int64          `json:"lastUpdate"`
	TTL         int64           `json:"ttl"`
	IsUpdating  bool            `json:"isUpdating"`
	UpdateCount int64           `json:"updateCount"`
	ErrorCount  int64           `json:"errorCount"`
	NextUpdate  string          `json:"nextUpdate,omitempty"`
}

// GetMetadata reports the stored metadata plus in-process counters. Every
// field tolerates an empty cache.
func (o *Orchestrator) GetMetadata(ctx context.Context) *MetadataResult {
	result := &MetadataResult{
		Success:     true,
		Metadata:    &model.Metadata{},
		TTL:         o.store.TTL(ctx, KeyAnalysis),
		IsUpdating:  o.refreshing.Load(),
		UpdateCount: o.updateCount.Load(),
		ErrorCount:  o.errorCount.Load(),
	}

	_ = o.store.Get(ctx, KeyMetadata, result.Metadata)

	var lastUpdate int64
	if err := o.store.Get(ctx, KeyLastUpdate, &lastUpdate); err == nil {
		result.LastUpdate = &lastUpdate
	}

	if last := o.lastUpdateUnix.Load(); last > 0 {
		next := time.UnixMilli(last).Add(o.refreshInterval)
		result.NextUpdate = next.UTC().Format(time.RFC3339)
	}
	return result
}

// ClearCache deletes all four cache keys. It always reports success, even if
// some keys were already absent.
func (o *Orchestrator) ClearCache(ctx context.Context) *model.RefreshResult {
	o.store.Delete(ctx, KeyAnalysis)
	o.store.Delete(ctx, KeyPools)
	o.store.Delete(ctx, KeyMetadata)
	o.store.Delete(ctx, KeyLastUpdate)

	logrus.Info("Cache cleared")
	return &model.RefreshResult{Success: true, Message: "Cache cleared"}
}

// HealthStatus details the facts behind the healthy verdict.
type HealthStatus struct {
	HasAnalysis bool   `json:"hasAnalysis"`
	HasPools    bool   `json:"hasPools"`
	IsUpdating  bool   `json:"isUpdating"`
	LastUpdate  string `json:"lastUpdate,omitempty"`
	UpdateCount int64  `json:"updateCount"`
	ErrorCount  int64  `json:"errorCount"`
}

// HealthResult is the envelope served by the health endpoint.
type HealthResult struct {
	Success bool         `json:"success"`
	Healthy bool         `json:"healthy"`
	Status  HealthStatus `json:"status"`
}

// GetHealth is healthy iff both data keys exist and no refresh is running.
// Presence, not freshness: a stale-but-present entry within TTL is healthy.
func (o *Orchestrator) GetHealth(ctx context.Context) *HealthResult {
	status := HealthStatus{
		HasAnalysis: o.store.Exists(ctx, KeyAnalysis),
		HasPools:    o.store.Exists(ctx, KeyPools),
		IsUpdating:  o.refreshing.Load(),
		UpdateCount: o.updateCount.Load(),
		ErrorCount:  o.errorCount.Load(),
	}
	if last := o.lastUpdateUnix.Load(); last > 0 {
		status.LastUpdate = time.UnixMilli(last).UTC().Format(time.RFC3339)
	}

	return &HealthResult{
		Success: true,
		Healthy: status.HasAnalysis && status.HasPools && !status.IsUpdating,
		Status:  status,
	}
}
