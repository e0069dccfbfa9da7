package observability

import (
	"strings"
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())

	m.RecordStep("createOU", "DONE")
	m.RecordStep("createOU", "DONE")
	m.RecordStep("deployStack", "FAILED")
	m.RecordRetry("CreateStack")
	m.RecordThrottle("ListAccounts")
	m.RecordThrottle("ListAccounts")

	if got := m.StepCount("createOU", "DONE"); got != 2 {
		t.Errorf("StepCount(createOU, DONE) = %d, want 2", got)
	}
	if got := m.StepCount("deployStack", "FAILED"); got != 1 {
		t.Errorf("StepCount(deployStack, FAILED) = %d, want 1", got)
	}
	if got := m.StepCount("deployStack", "DONE"); got != 0 {
		t.Errorf("StepCount(deployStack, DONE) = %d, want 0", got)
	}
	if got := m.RetryCount("CreateStack"); got != 1 {
		t.Errorf("RetryCount(CreateStack) = %d, want 1", got)
	}
	if got := m.ThrottleCount("ListAccounts"); got != 2 {
		t.Errorf("ThrottleCount(ListAccounts) = %d, want 2", got)
	}
}

func TestMetricsActiveBranches(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())

	m.IncrementActiveBranches()
	m.IncrementActiveBranches()
	m.DecrementActiveBranches()

	if got := m.ActiveBranches(); got != 1 {
		t.Errorf("ActiveBranches() = %d, want 1", got)
	}
}

func TestMetricsProviderCalls(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())

	m.RecordProviderCall("CreateOU", true, 120*time.Millisecond)
	m.RecordProviderCall("CreateOU", true, 80*time.Millisecond)
	m.RecordProviderCall("CreateOU", false, 5*time.Millisecond)

	if got := m.ProviderCallCount("CreateOU", true); got != 2 {
		t.Errorf("ProviderCallCount(CreateOU, ok) = %d, want 2", got)
	}
	if got := m.ProviderCallCount("CreateOU", false); got != 1 {
		t.Errorf("ProviderCallCount(CreateOU, error) = %d, want 1", got)
	}
}

func TestMetricsWriteTo(t *testing.T) {
	m := NewMetrics(MetricsConfig{Namespace: "landingzone", Version: "1.2.3"})

	m.RecordStep("createAccount", "DONE")
	m.RecordProviderCall("CreateAccount", true, 200*time.Millisecond)
	m.RecordRetry("CreateAccount")
	m.IncrementActiveBranches()

	var sb strings.Builder
	if _, err := m.WriteTo(&sb); err != nil {
		t.Fatalf("WriteTo() error: %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		`landingzone_info{version="1.2.3"} 1`,
		`landingzone_steps_total{kind="createAccount",status="DONE"} 1`,
		`landingzone_provider_calls_total{op="CreateAccount",outcome="ok"} 1`,
		`landingzone_provider_retries_total{op="CreateAccount"} 1`,
		`landingzone_provider_call_duration_seconds_count{op="CreateAccount"} 1`,
		"landingzone_active_branches 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("WriteTo() output missing %q", want)
		}
	}
}

func TestMetricsConfigFromEnv(t *testing.T) {
	t.Setenv("LANDINGZONE_METRICS_ENABLED", "false")
	t.Setenv("APP_VERSION", "9.9.9")

	cfg := MetricsConfigFromEnv()
	if cfg.Enabled {
		t.Error("Enabled = true, want false")
	}
	if cfg.Version != "9.9.9" {
		t.Errorf("Version = %s, want 9.9.9", cfg.Version)
	}
}

func TestDurationQuantiles(t *testing.T) {
	c := newDurationCollector(10)
	for _, ms := range []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		c.add(time.Duration(ms) * time.Millisecond)
	}
	if got := c.quantile(0.5); got < 0.050 || got > 0.060 {
		t.Errorf("quantile(0.5) = %f, want around 0.055", got)
	}
	if got := c.quantile(0.99); got < 0.090 || got > 0.100 {
		t.Errorf("quantile(0.99) = %f, want near 0.1", got)
	}

	// The window slides: a new sample evicts the oldest.
	c.add(200 * time.Millisecond)
	if got := c.count(); got != 10 {
		t.Errorf("count() = %d after overflow, want 10", got)
	}
}
