// Package metrics holds in-process counters for pipeline stage
// durations, retries, and errors. There is no HTTP exposition here —
// the local status server remains an out-of-scope collaborator — so
// the registry exists purely so Snapshot can feed the status
// publisher's debug counts.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector tracks per-stage operation counts, durations, and errors
// for one pipeline run.
type Collector struct {
	mu sync.RWMutex

	registry *prometheus.Registry

	stageCounter  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	retryCounter  *prometheus.CounterVec
	errorCounter  *prometheus.CounterVec

	stages    map[string]*StageMetrics
	startedAt time.Time
}

// StageMetrics accumulates counts for a single named stage (e.g.
// "hash", "render", "upload").
type StageMetrics struct {
	Count         int64
	Errors        int64
	TotalDuration time.Duration
	LastRanAt     time.Time
}

// NewCollector creates a Collector with its own private Prometheus
// registry — one per run, discarded with the process, never scraped
// over HTTP.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry:  registry,
		stages:    make(map[string]*StageMetrics),
		startedAt: time.Now(),
	}

	c.stageCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ghostroll",
		Name:      "stage_operations_total",
		Help:      "Total number of per-file operations processed by each pipeline stage.",
	}, []string{"stage", "status"})

	c.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ghostroll",
		Name:      "stage_duration_seconds",
		Help:      "Duration of per-file operations within each pipeline stage.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"stage"})

	c.retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ghostroll",
		Name:      "retries_total",
		Help:      "Total number of retry attempts issued by a component.",
	}, []string{"component"})

	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ghostroll",
		Name:      "errors_total",
		Help:      "Total number of errors raised by a component, by ghosterr category.",
	}, []string{"component", "category"})

	registry.MustRegister(c.stageCounter, c.stageDuration, c.retryCounter, c.errorCounter)

	return c
}

// RecordStage records one completed operation within stage.
func (c *Collector) RecordStage(stage string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.stages[stage]
	if !ok {
		m = &StageMetrics{}
		c.stages[stage] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.LastRanAt = time.Now()
	if !success {
		m.Errors++
	}

	status := "ok"
	if !success {
		status = "error"
	}
	c.stageCounter.WithLabelValues(stage, status).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRetry records one retry attempt by component.
func (c *Collector) RecordRetry(component string) {
	c.retryCounter.WithLabelValues(component).Inc()
}

// RecordError records one error raised by component, tagged with its
// ghosterr category (e.g. "upload", "render").
func (c *Collector) RecordError(component, category string) {
	c.errorCounter.WithLabelValues(component, category).Inc()
}

// Snapshot returns a copy of the per-stage counters accumulated so
// far, for the status publisher's debug fields.
func (c *Collector) Snapshot() map[string]StageMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]StageMetrics, len(c.stages))
	for name, m := range c.stages {
		out[name] = *m
	}
	return out
}

// Uptime returns how long this collector has been accumulating.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startedAt)
}
