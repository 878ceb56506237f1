package service

import (
	"context"
	"time"

	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/pkg/jobs"
)

// Pinger is a dependency that can report liveness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a plain ping function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type queueStats interface {
	Stats() jobs.Stats
}

// HealthStatus is the readiness view of one dependency.
type HealthStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthReport aggregates dependency checks.
type HealthReport struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]HealthStatus `json:"checks,omitempty"`
	Metrics   *models.SystemMetrics   `json:"metrics,omitempty"`
	Queues    []jobs.Stats            `json:"queues,omitempty"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthService reports process and dependency health.
type HealthService struct {
	checks  map[string]Pinger
	queues  []queueStats
	metrics *MetricsService
	version string
	timeout time.Duration
	now     func() time.Time
}

// NewHealthService constructs a health reporter. Nil checks are skipped.
func NewHealthService(version string, metrics *MetricsService, checks map[string]Pinger, queues ...queueStats) *HealthService {
	active := make(map[string]Pinger, len(checks))
	for name, c := range checks {
		if c != nil {
			active[name] = c
		}
	}
	return &HealthService{checks: active, queues: queues, metrics: metrics, version: version, timeout: 2 * time.Second, now: time.Now}
}

// Health is the cheap liveness view.
func (s *HealthService) Health() HealthReport {
	return HealthReport{Status: statusHealthy, Version: s.version, Timestamp: s.now().UTC()}
}

// Ready pings every dependency. It reports false when any check fails.
func (s *HealthService) Ready(ctx context.Context) (HealthReport, bool) {
	report := s.Health()
	report.Checks = make(map[string]HealthStatus, len(s.checks))
	ok := true
	for name, check := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		started := time.Now()
		err := check.PingContext(cctx)
		cancel()
		status := HealthStatus{Status: statusHealthy, LatencyMs: time.Since(started).Milliseconds()}
		if err != nil {
			status.Status = statusUnhealthy
			status.Error = err.Error()
			ok = false
		}
		report.Checks[name] = status
	}
	if !ok {
		report.Status = statusUnhealthy
	}
	return report, ok
}

// Detailed adds process metrics and queue depths to the readiness view.
func (s *HealthService) Detailed(ctx context.Context) HealthReport {
	report, _ := s.Ready(ctx)
	snapshot := s.metrics.Snapshot()
	report.Metrics = &snapshot
	for _, q := range s.queues {
		report.Queues = append(report.Queues, q.Stats())
	}
	return report
}
