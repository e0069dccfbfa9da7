package observability

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsConfig holds configuration for the metrics subsystem.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool
	// Namespace prefix for all metrics (default: landingzone).
	Namespace string
	// Version is the application version for the info metric.
	Version string
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "landingzone",
		Version:   "dev",
	}
}

// MetricsConfigFromEnv creates a MetricsConfig from environment variables.
// LANDINGZONE_METRICS_ENABLED: true/false (default: true)
// APP_VERSION: version string (default: dev)
func MetricsConfigFromEnv() MetricsConfig {
	cfg := DefaultMetricsConfig()

	if v := os.Getenv("LANDINGZONE_METRICS_ENABLED"); v != "" {
		cfg.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("APP_VERSION"); v != "" {
		cfg.Version = v
	}
	return cfg
}

// Metrics collects workflow and provider-call metrics.
// Thread-safe for concurrent use.
type Metrics struct {
	mu        sync.RWMutex
	namespace string
	version   string

	// Workflow step counters: key = "kind:status"
	stepCounts map[string]*atomic.Int64

	// Provider call counters: key = "op:outcome"
	providerCalls map[string]*atomic.Int64

	// Provider call durations: key = op
	providerDurations  map[string]*durationCollector
	providerDurationMu sync.RWMutex

	// Retry and throttle counters: key = op
	retries   map[string]*atomic.Int64
	throttles map[string]*atomic.Int64

	// Active workflow branches gauge
	activeBranches atomic.Int64
}

// durationCollector collects duration samples for quantile computation.
// It keeps a sliding window of samples.
type durationCollector struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

func newDurationCollector(maxSize int) *durationCollector {
	return &durationCollector{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
	}
}

func (d *durationCollector) add(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seconds := duration.Seconds()
	if len(d.samples) >= d.maxSize {
		// Remove oldest sample (simple ring buffer behavior)
		copy(d.samples, d.samples[1:])
		d.samples = d.samples[:len(d.samples)-1]
	}
	d.samples = append(d.samples, seconds)
}

func (d *durationCollector) quantile(q float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.samples) == 0 {
		return 0
	}

	sorted := make([]float64, len(d.samples))
	copy(sorted, d.samples)
	sort.Float64s(sorted)

	idx := q * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func (d *durationCollector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.samples)
}

// NewMetrics creates a new Metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		namespace:         cfg.Namespace,
		version:           cfg.Version,
		stepCounts:        make(map[string]*atomic.Int64),
		providerCalls:     make(map[string]*atomic.Int64),
		providerDurations: make(map[string]*durationCollector),
		retries:           make(map[string]*atomic.Int64),
		throttles:         make(map[string]*atomic.Int64),
	}
}

// RecordStep records a workflow step reaching a terminal status.
func (m *Metrics) RecordStep(kind, status string) {
	m.counter(m.stepCounts, kind+":"+status).Add(1)
}

// RecordProviderCall records one provider API call with its outcome and duration.
func (m *Metrics) RecordProviderCall(op string, ok bool, duration time.Duration) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.counter(m.providerCalls, op+":"+outcome).Add(1)

	m.providerDurationMu.Lock()
	collector, found := m.providerDurations[op]
	if !found {
		collector = newDurationCollector(1000) // Keep last 1000 samples
		m.providerDurations[op] = collector
	}
	m.providerDurationMu.Unlock()
	collector.add(duration)
}

// RecordRetry increments the retry count for a provider operation.
func (m *Metrics) RecordRetry(op string) {
	m.counter(m.retries, op).Add(1)
}

// RecordThrottle increments the throttle count for a provider operation.
func (m *Metrics) RecordThrottle(op string) {
	m.counter(m.throttles, op).Add(1)
}

// IncrementActiveBranches increments the active workflow branch gauge.
func (m *Metrics) IncrementActiveBranches() {
	m.activeBranches.Add(1)
}

// DecrementActiveBranches decrements the active workflow branch gauge.
func (m *Metrics) DecrementActiveBranches() {
	m.activeBranches.Add(-1)
}

// StepCount returns the count of steps recorded for a kind and status.
func (m *Metrics) StepCount(kind, status string) int64 {
	return m.load(m.stepCounts, kind+":"+status)
}

// ProviderCallCount returns the count of provider calls for an
// operation and outcome ("ok" or "error").
func (m *Metrics) ProviderCallCount(op string, ok bool) int64 {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	return m.load(m.providerCalls, op+":"+outcome)
}

// RetryCount returns the retry count for a provider operation.
func (m *Metrics) RetryCount(op string) int64 {
	return m.load(m.retries, op)
}

// ThrottleCount returns the throttle count for a provider operation.
func (m *Metrics) ThrottleCount(op string) int64 {
	return m.load(m.throttles, op)
}

// ActiveBranches returns the current active branch gauge value.
func (m *Metrics) ActiveBranches() int64 {
	return m.activeBranches.Load()
}

func (m *Metrics) load(set map[string]*atomic.Int64, key string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := set[key]; ok {
		return c.Load()
	}
	return 0
}

func (m *Metrics) counter(set map[string]*atomic.Int64, key string) *atomic.Int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := set[key]
	if !ok {
		c = &atomic.Int64{}
		set[key] = c
	}
	return c
}

// WriteTo writes all metrics in Prometheus text format.
func (m *Metrics) WriteTo(w io.Writer) (int64, error) {
	var n int64
	write := func(format string, args ...any) {
		c, _ := fmt.Fprintf(w, format, args...)
		n += int64(c)
	}

	// App info metric
	write("# HELP %s_info Application information\n", m.namespace)
	write("# TYPE %s_info gauge\n", m.namespace)
	write("%s_info{version=%q} 1\n\n", m.namespace, m.version)

	write("# HELP %s_steps_total Workflow steps by kind and terminal status\n", m.namespace)
	write("# TYPE %s_steps_total counter\n", m.namespace)
	m.mu.RLock()
	for _, key := range sortedKeys(m.stepCounts) {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) == 2 {
			write("%s_steps_total{kind=%q,status=%q} %d\n",
				m.namespace, parts[0], parts[1], m.stepCounts[key].Load())
		}
	}
	m.mu.RUnlock()
	write("\n")

	write("# HELP %s_provider_calls_total Provider API calls by operation and outcome\n", m.namespace)
	write("# TYPE %s_provider_calls_total counter\n", m.namespace)
	m.mu.RLock()
	for _, key := range sortedKeys(m.providerCalls) {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) == 2 {
			write("%s_provider_calls_total{op=%q,outcome=%q} %d\n",
				m.namespace, parts[0], parts[1], m.providerCalls[key].Load())
		}
	}
	for _, key := range sortedKeys(m.retries) {
		write("%s_provider_retries_total{op=%q} %d\n", m.namespace, key, m.retries[key].Load())
	}
	for _, key := range sortedKeys(m.throttles) {
		write("%s_provider_throttles_total{op=%q} %d\n", m.namespace, key, m.throttles[key].Load())
	}
	m.mu.RUnlock()
	write("\n")

	write("# HELP %s_provider_call_duration_seconds Provider call latency quantiles\n", m.namespace)
	write("# TYPE %s_provider_call_duration_seconds summary\n", m.namespace)
	m.providerDurationMu.RLock()
	ops := make([]string, 0, len(m.providerDurations))
	for op := range m.providerDurations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		collector := m.providerDurations[op]
		for _, q := range []float64{0.5, 0.95, 0.99} {
			write("%s_provider_call_duration_seconds{op=%q,quantile=\"%.2g\"} %.6f\n",
				m.namespace, op, q, collector.quantile(q))
		}
		write("%s_provider_call_duration_seconds_count{op=%q} %d\n",
			m.namespace, op, collector.count())
	}
	m.providerDurationMu.RUnlock()
	write("\n")

	write("# HELP %s_active_branches Currently executing workflow branches\n", m.namespace)
	write("# TYPE %s_active_branches gauge\n", m.namespace)
	write("%s_active_branches %d\n", m.namespace, m.activeBranches.Load())

	return n, nil
}

func sortedKeys(set map[string]*atomic.Int64) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
