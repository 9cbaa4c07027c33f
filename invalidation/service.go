// Package invalidation is the audit trail of invalidation traffic: it
// subscribes to every signalbroker event flowing through topology's
// shared broker and records it, for compliance and debugging. It is a
// supplemental, ambient observability feature, not part of the domain
// schema — nothing here decides what gets invalidated; pkg/signalbroker
// and pkg/cachecore already do that in-process. This service only
// listens and persists what it sees.
//
// This replaces the teacher's distributed-invalidation-broadcast
// design (a public InvalidateKey/InvalidatePattern API fanning out over
// pubsub.Topic to other cache nodes): the spec's Non-goals rule out
// cross-replica cache coherence outright, so there is nothing for a
// second node to broadcast to. What survives is the part that was
// always orthogonal to distribution: an immutable, queryable record of
// every invalidation that happened.
package invalidation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"encore.dev/storage/sqldb"

	"encore.app/pkg/signalbroker"
	"encore.app/topology"
)

//encore:service
type Service struct {
	patternMatcher *PatternMatcher
	auditLogger    AuditLoggerInterface
	metrics        *Metrics
	handle         signalbroker.Handle
	writePool      *writePool
}

// AuditLoggerInterface defines the interface for audit logging operations.
type AuditLoggerInterface interface {
	Insert(ctx context.Context, log AuditLog) error
	GetRecent(ctx context.Context, limit, offset int, patternFilter string) ([]AuditLog, error)
	GetCount(ctx context.Context, patternFilter string) (int, error)
	GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Metrics tracks invalidation audit counters.
type Metrics struct {
	EventsObserved atomic.Int64
	AuditWrites    atomic.Int64
	Errors         atomic.Int64
}

var db = sqldb.Named("invalidation_db")

var svc *Service

func initService() (*Service, error) {
	auditLogger, err := NewAuditLogger(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	metrics := &Metrics{}
	svc = &Service{
		patternMatcher: NewPatternMatcher(),
		auditLogger:    auditLogger,
		metrics:        metrics,
		writePool:      newWritePool(auditLogger, metrics, 4, 1000),
	}
	svc.handle = topology.Broker.Subscribe(signalbroker.Filter{}, svc.observe)
	return svc, nil
}

// Shutdown stops accepting new audit writes and waits for in-flight
// ones to finish.
func (s *Service) Shutdown() {
	s.writePool.Shutdown()
}

// observe is the broker callback: every event published anywhere in the
// app (topology, commissioning share the same broker) lands here. It
// only builds the audit row and hands it to the write pool, so a slow
// Postgres write never blocks whichever goroutine called Publish.
func (s *Service) observe(event signalbroker.Event) {
	s.metrics.EventsObserved.Add(1)

	entity, _ := event["entity"].(string)
	action, _ := event["_action"].(string)

	log := AuditLog{
		Pattern:     entity,
		Keys:        []string{describeEvent(event)},
		TriggeredBy: action,
		Timestamp:   time.Now(),
		RequestID:   "",
	}

	s.writePool.Submit(auditJob{log: log})
}

func describeEvent(event signalbroker.Event) string {
	data := make(map[string]any, len(event))
	for k, v := range event {
		if k == "entity" || k == "_action" {
			continue
		}
		data[k] = v
	}
	return fmt.Sprint(data)
}

type GetAuditLogsRequest struct {
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	Pattern string `json:"pattern,omitempty"`
}

type GetAuditLogsResponse struct {
	Logs       []AuditLog `json:"logs"`
	TotalCount int        `json:"total_count"`
	HasMore    bool       `json:"has_more"`
}

type MetricsResponse struct {
	EventsObserved int64 `json:"events_observed"`
	AuditWrites    int64 `json:"audit_writes"`
	Errors         int64 `json:"errors"`
}

// GetAuditLogs retrieves invalidation audit history with pagination.
//
//encore:api public method=GET path=/audit/logs
func GetAuditLogs(ctx context.Context, req *GetAuditLogsRequest) (*GetAuditLogsResponse, error) {
	return svc.GetAuditLogs(ctx, req)
}

func (s *Service) GetAuditLogs(ctx context.Context, req *GetAuditLogsRequest) (*GetAuditLogsResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Limit > 1000 {
		req.Limit = 1000
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	if err := s.patternMatcher.ValidatePattern(req.Pattern); err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	logs, err := s.auditLogger.GetRecent(ctx, req.Limit+1, req.Offset, req.Pattern)
	if err != nil {
		s.metrics.Errors.Add(1)
		return nil, fmt.Errorf("failed to fetch audit logs: %w", err)
	}

	hasMore := len(logs) > req.Limit
	if hasMore {
		logs = logs[:req.Limit]
	}

	totalCount, err := s.auditLogger.GetCount(ctx, req.Pattern)
	if err != nil {
		totalCount = len(logs)
	}

	return &GetAuditLogsResponse{Logs: logs, TotalCount: totalCount, HasMore: hasMore}, nil
}

// GetMetrics returns invalidation audit counters.
//
//encore:api public method=GET path=/invalidate/metrics
func GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	return svc.GetMetrics(ctx)
}

// Snapshot reports the current audit counters, polled by monitoring
// rather than pushed. Safe to call before this service's own
// initService has run (e.g. from another service's unit tests).
func Snapshot() MetricsResponse {
	if svc == nil {
		return MetricsResponse{}
	}
	return MetricsResponse{
		EventsObserved: svc.metrics.EventsObserved.Load(),
		AuditWrites:    svc.metrics.AuditWrites.Load(),
		Errors:         svc.metrics.Errors.Load(),
	}
}

func (s *Service) GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	return &MetricsResponse{
		EventsObserved: s.metrics.EventsObserved.Load(),
		AuditWrites:    s.metrics.AuditWrites.Load(),
		Errors:         s.metrics.Errors.Load(),
	}, nil
}
