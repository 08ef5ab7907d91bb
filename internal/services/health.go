// Package services holds the operational layer around the pipeline: health
// probing and per-client rate limiting.
package services

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthService aggregates dependency probes into one status. Critical
// failures (the vector index) make the service unhealthy; non-critical ones
// (postgres, redis) only degrade it, because the pipeline can still answer
// from the corpus without them.
type HealthService struct {
	logger *logrus.Logger

	critical    map[string]Check
	nonCritical map[string]Check

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
	systemMetrics     *prometheus.GaugeVec
	poolMetrics       *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

func NewHealthService(logger *logrus.Logger) *HealthService {
	hs := &HealthService{
		logger:      logger,
		critical:    make(map[string]Check),
		nonCritical: make(map[string]Check),
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	hs.systemMetrics = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "system_info",
		Help: "System information metrics",
	}, []string{"metric_type"})

	hs.poolMetrics = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "database_connection_pool_usage",
		Help: "Database connection pool usage",
	}, []string{"state"})

	for _, c := range []prometheus.Collector{hs.healthCheckStatus, hs.lastHealthCheck, hs.systemMetrics, hs.poolMetrics} {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.WithError(err).Warn("Failed to register health metric")
			}
		}
	}

	return hs
}

// RegisterCritical adds a probe whose failure makes the whole service
// unhealthy.
func (s *HealthService) RegisterCritical(name string, check Check) {
	s.critical[name] = check
}

// RegisterNonCritical adds a probe whose failure only degrades the service.
func (s *HealthService) RegisterNonCritical(name string, check Check) {
	s.nonCritical[name] = check
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	allCriticalHealthy := true
	for _, name := range sortedNames(s.critical) {
		if err := s.probe(ctx, s.critical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.updateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.updateHealthMetrics(name, true)
		}
	}

	for _, name := range sortedNames(s.nonCritical) {
		if err := s.probe(ctx, s.nonCritical[name]); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.updateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.updateHealthMetrics(name, true)
		}
	}

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	return status
}

func (s *HealthService) probe(ctx context.Context, check Check) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return check(probeCtx)
}

func (s *HealthService) updateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}

// StartMetricsCollection samples runtime and pool gauges until the context is
// cancelled. The pool may be nil when postgres is not configured.
func (s *HealthService) StartMetricsCollection(ctx context.Context, pool *pgxpool.Pool) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		var memStats runtime.MemStats
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)
				s.systemMetrics.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
				s.systemMetrics.WithLabelValues("memory_sys_bytes").Set(float64(memStats.Sys))
				s.systemMetrics.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
				s.systemMetrics.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))

				if pool != nil {
					stats := pool.Stat()
					s.poolMetrics.WithLabelValues("acquired_conns").Set(float64(stats.AcquiredConns()))
					s.poolMetrics.WithLabelValues("idle_conns").Set(float64(stats.IdleConns()))
					s.poolMetrics.WithLabelValues("max_conns").Set(float64(stats.MaxConns()))
				}
			}
		}
	}()
}

func sortedNames(checks map[string]Check) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
