// Package monitoring provides observability over the cache core's own
// counters: server-side cache hits/misses/sets/singleflight dedups
// (topology, commissioning), the invalidation audit trail's event
// throughput, and the BFF's rate-limit rejections.
//
// Design Philosophy:
// - Lock-free or minimal-lock metrics collection for high throughput
// - Sliding window aggregation for real-time statistics
// - Anomaly detection for proactive alerting
// - Low memory overhead with bounded buffers
//
// Architecture:
// - Poll-driven ingestion: a background goroutine periodically reads
//   each service's exported Stats()/Snapshot() accessor and records
//   the deltas since the last poll. The teacher's design had
//   cache-manager/warming/invalidation push events over
//   encore.dev/pubsub topics; here there is exactly one process and no
//   cross-replica fan-out to justify a message bus, so the simpler
//   direct poll replaces it (see DESIGN.md).
// - In-memory time-series store with circular buffers
// - Real-time aggregation with configurable windows
// - Anomaly detection using statistical methods
// - Alert engine with threshold-based and dynamic rules
package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"encore.app/bff"
	"encore.app/commissioning"
	"encore.app/invalidation"
	"encore.app/pkg/cachecore"
	"encore.app/pkg/middleware"
	"encore.app/topology"
)

//encore:service
type Service struct {
	collector  *MetricsCollector
	aggregator *Aggregator
	alertMgr   *AlertManager
	config     Config
	mu         sync.RWMutex
}

// Config holds monitoring service configuration.
type Config struct {
	MetricsRetention  time.Duration // How long to keep raw metrics
	AggregationWindow time.Duration // Aggregation window size
	AlertEvalInterval time.Duration // How often to evaluate alerts
	MaxMetricsPerSec  int           // Rate limit for metric ingestion
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MetricsRetention:  1 * time.Hour,
		AggregationWindow: 1 * time.Second,
		AlertEvalInterval: 10 * time.Second,
		MaxMetricsPerSec:  1000000, // 1M events/sec
	}
}

// MetricType represents the type of metric being recorded.
type MetricType string

const (
	MetricCacheHit           MetricType = "cache.hit"
	MetricCacheMiss          MetricType = "cache.miss"
	MetricCacheSet           MetricType = "cache.set"
	MetricCacheDelete        MetricType = "cache.delete"
	MetricSingleflightDedup  MetricType = "cache.dedup"
	MetricInvalidation       MetricType = "invalidation"
	MetricRateLimitRejected  MetricType = "rate_limit.rejected"
	MetricError              MetricType = "error"
	MetricLatency            MetricType = "latency"
)

// MetricEvent represents a single metric event, recorded from a polled
// delta against one of the cache core's own Stats()/Snapshot() accessors.
type MetricEvent struct {
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"` // "topology", "commissioning", "invalidation", "bff"
	Labels    map[string]string `json:"labels,omitempty"`
}

// Request and response types

type GetMetricsRequest struct {
	Window time.Duration `json:"window"` // Time window (e.g., 1m, 5m, 1h)
}

type GetMetricsResponse struct {
	Timestamp         time.Time     `json:"timestamp"`
	Window            time.Duration `json:"window"`
	TotalRequests     int64         `json:"total_requests"`
	CacheHits         int64         `json:"cache_hits"`
	CacheMisses       int64         `json:"cache_misses"`
	HitRate           float64       `json:"hit_rate"`
	QPS               float64       `json:"qps"`
	AvgLatency        float64       `json:"avg_latency_ms"`
	P50Latency        float64       `json:"p50_latency_ms"`
	P90Latency        float64       `json:"p90_latency_ms"`
	P95Latency        float64       `json:"p95_latency_ms"`
	P99Latency        float64       `json:"p99_latency_ms"`
	ErrorRate         float64       `json:"error_rate"`
	Invalidations     int64         `json:"invalidations"`
	RateLimitRejected int64         `json:"rate_limit_rejected"`
	Dedups            int64         `json:"dedups"`
}

type GetAggregatedRequest struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Interval  time.Duration `json:"interval"` // Aggregation interval
}

type AggregatedDataPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Requests   int64     `json:"requests"`
	HitRate    float64   `json:"hit_rate"`
	AvgLatency float64   `json:"avg_latency_ms"`
	P95Latency float64   `json:"p95_latency_ms"`
	QPS        float64   `json:"qps"`
	ErrorRate  float64   `json:"error_rate"`
}

type GetAggregatedResponse struct {
	DataPoints []AggregatedDataPoint `json:"data_points"`
	Summary    GetMetricsResponse    `json:"summary"`
}

type GetAlertsResponse struct {
	ActiveAlerts   []Alert   `json:"active_alerts"`
	RecentAlerts   []Alert   `json:"recent_alerts"`   // Last 10 resolved alerts
	AlertStats     AlertStats `json:"alert_stats"`
}

type AlertStats struct {
	TotalTriggered int64   `json:"total_triggered"`
	TotalResolved  int64   `json:"total_resolved"`
	ActiveCount    int     `json:"active_count"`
	AvgDuration    float64 `json:"avg_duration_seconds"`
}

// Global service instance
var svc *Service

// initService initializes the monitoring service.
func initService() (*Service, error) {
	config := DefaultConfig()

	collector := NewMetricsCollector(config)
	aggregator := NewAggregator(collector, config)
	alertMgr := NewAlertManager(aggregator, config)

	svc = &Service{
		collector:  collector,
		aggregator: aggregator,
		alertMgr:   alertMgr,
		config:     config,
	}

	// Start background workers
	go aggregator.Run()
	go alertMgr.Run()
	go svc.pollDomainMetrics()

	return svc, nil
}

// GetMetrics returns current metrics snapshot for a time window.
//encore:api public method=GET path=/monitoring/metrics
func GetMetrics(ctx context.Context, req *GetMetricsRequest) (*GetMetricsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetMetrics(ctx, req)
}

func (s *Service) GetMetrics(ctx context.Context, req *GetMetricsRequest) (*GetMetricsResponse, error) {
	window := req.Window
	if window == 0 {
		window = 1 * time.Minute // Default window
	}

	// Get aggregated data for the window
	now := time.Now()
	startTime := now.Add(-window)

	stats := s.aggregator.GetStats(startTime, now)

	return &GetMetricsResponse{
		Timestamp:         now,
		Window:            window,
		TotalRequests:     stats.TotalRequests,
		CacheHits:         stats.CacheHits,
		CacheMisses:       stats.CacheMisses,
		HitRate:           stats.HitRate,
		QPS:               stats.QPS,
		AvgLatency:        stats.AvgLatency,
		P50Latency:        stats.P50Latency,
		P90Latency:        stats.P90Latency,
		P95Latency:        stats.P95Latency,
		P99Latency:        stats.P99Latency,
		ErrorRate:         stats.ErrorRate,
		Invalidations:     stats.Invalidations,
		RateLimitRejected: stats.RateLimitRejected,
		Dedups:            stats.Dedups,
	}, nil
}

// GetAggregated returns time-series aggregated metrics.
//encore:api public method=POST path=/monitoring/aggregated
func GetAggregated(ctx context.Context, req *GetAggregatedRequest) (*GetAggregatedResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetAggregated(ctx, req)
}

func (s *Service) GetAggregated(ctx context.Context, req *GetAggregatedRequest) (*GetAggregatedResponse, error) {
	// Validate request
	if req.EndTime.Before(req.StartTime) {
		return nil, errors.New("end_time must be after start_time")
	}

	interval := req.Interval
	if interval == 0 {
		interval = 1 * time.Minute // Default interval
	}

	// Generate data points
	dataPoints := make([]AggregatedDataPoint, 0)
	currentTime := req.StartTime

	for currentTime.Before(req.EndTime) {
		nextTime := currentTime.Add(interval)
		if nextTime.After(req.EndTime) {
			nextTime = req.EndTime
		}

		stats := s.aggregator.GetStats(currentTime, nextTime)

		dataPoints = append(dataPoints, AggregatedDataPoint{
			Timestamp:  currentTime,
			Requests:   stats.TotalRequests,
			HitRate:    stats.HitRate,
			AvgLatency: stats.AvgLatency,
			P95Latency: stats.P95Latency,
			QPS:        stats.QPS,
			ErrorRate:  stats.ErrorRate,
		})

		currentTime = nextTime
	}

	// Calculate overall summary
	overallStats := s.aggregator.GetStats(req.StartTime, req.EndTime)
	summary := &GetMetricsResponse{
		Timestamp:         req.EndTime,
		Window:            req.EndTime.Sub(req.StartTime),
		TotalRequests:     overallStats.TotalRequests,
		CacheHits:         overallStats.CacheHits,
		CacheMisses:       overallStats.CacheMisses,
		HitRate:           overallStats.HitRate,
		QPS:               overallStats.QPS,
		AvgLatency:        overallStats.AvgLatency,
		P50Latency:        overallStats.P50Latency,
		P90Latency:        overallStats.P90Latency,
		P95Latency:        overallStats.P95Latency,
		P99Latency:        overallStats.P99Latency,
		ErrorRate:         overallStats.ErrorRate,
		Invalidations:     overallStats.Invalidations,
		RateLimitRejected: overallStats.RateLimitRejected,
		Dedups:            overallStats.Dedups,
	}

	return &GetAggregatedResponse{
		DataPoints: dataPoints,
		Summary:    *summary,
	}, nil
}

// GetAlerts returns current active alerts and alert statistics.
//encore:api public method=GET path=/monitoring/alerts
func GetAlerts(ctx context.Context) (*GetAlertsResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetAlerts(ctx)
}

func (s *Service) GetAlerts(ctx context.Context) (*GetAlertsResponse, error) {
	activeAlerts := s.alertMgr.GetActiveAlerts()
	recentAlerts := s.alertMgr.GetRecentResolvedAlerts(10)
	stats := s.alertMgr.GetStats()

	return &GetAlertsResponse{
		ActiveAlerts: activeAlerts,
		RecentAlerts: recentAlerts,
		AlertStats:   stats,
	}, nil
}

// pollDomainMetrics periodically samples each service's exported
// Stats()/Snapshot() accessor and records the deltas since the last
// poll into the collector, in place of the teacher's pubsub-subscriber
// handlers.
func (s *Service) pollDomainMetrics() {
	ticker := time.NewTicker(s.config.AggregationWindow)
	defer ticker.Stop()

	var last domainSnapshot
	for range ticker.C {
		now := time.Now()
		curr := domainSnapshot{
			topologyCache:      topology.CacheStats(),
			commissioningCache: commissioning.CacheStats(),
			invalidation:       invalidation.Snapshot(),
			rateLimit:          bff.RateLimitStats(),
		}
		s.recordCacheDelta(now, "topology", curr.topologyCache, last.topologyCache)
		s.recordCacheDelta(now, "commissioning", curr.commissioningCache, last.commissioningCache)

		if d := curr.invalidation.EventsObserved - last.invalidation.EventsObserved; d > 0 {
			s.collector.RecordMetric(MetricEvent{Type: MetricInvalidation, Value: float64(d), Timestamp: now, Source: "invalidation"})
		}
		if d := curr.rateLimit.Rejected - last.rateLimit.Rejected; d > 0 {
			s.collector.RecordMetric(MetricEvent{Type: MetricRateLimitRejected, Value: float64(d), Timestamp: now, Source: "bff"})
		}

		last = curr
	}
}

// domainSnapshot holds the previous poll's readings so pollDomainMetrics
// can record deltas rather than ever-growing cumulative counters.
type domainSnapshot struct {
	topologyCache      cachecore.Stats
	commissioningCache cachecore.Stats
	invalidation       invalidation.MetricsResponse
	rateLimit          middleware.LimiterStats
}

func (s *Service) recordCacheDelta(now time.Time, source string, curr, last cachecore.Stats) {
	if d := curr.Hits - last.Hits; d > 0 {
		s.collector.RecordMetric(MetricEvent{Type: MetricCacheHit, Value: float64(d), Timestamp: now, Source: source})
	}
	if d := curr.Misses - last.Misses; d > 0 {
		s.collector.RecordMetric(MetricEvent{Type: MetricCacheMiss, Value: float64(d), Timestamp: now, Source: source})
	}
	if d := curr.Sets - last.Sets; d > 0 {
		s.collector.RecordMetric(MetricEvent{Type: MetricCacheSet, Value: float64(d), Timestamp: now, Source: source})
	}
	if d := curr.Dedups - last.Dedups; d > 0 {
		s.collector.RecordMetric(MetricEvent{Type: MetricSingleflightDedup, Value: float64(d), Timestamp: now, Source: source})
	}
}

// Shutdown gracefully stops the monitoring service.
func (s *Service) Shutdown() {
	s.aggregator.Stop()
	s.alertMgr.Stop()
}