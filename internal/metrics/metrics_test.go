package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordSessionStarted_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionStarted()
	c.RecordSessionStarted()

	m := findMetric(t, reg, "coinwatch_sessions_started_total", nil)
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("sessions_started_total = %v, want 2", got)
	}
}

func TestRecordCompletion_ApprovedAddsCoins(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCompletion("approved", "", 30)
	c.RecordCompletion("approved", "", 45)

	if got := findMetric(t, reg, "coinwatch_completions_total", map[string]string{"status": "approved"}).GetCounter().GetValue(); got != 2 {
		t.Errorf("completions_total{approved} = %v, want 2", got)
	}
	if got := findMetric(t, reg, "coinwatch_coins_granted_total", nil).GetCounter().GetValue(); got != 75 {
		t.Errorf("coins_granted_total = %v, want 75", got)
	}
}

func TestRecordCompletion_RejectedRecordsReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCompletion("rejected", "not_clicked", 0)

	if got := findMetric(t, reg, "coinwatch_rejections_total", map[string]string{"reason": "not_clicked"}).GetCounter().GetValue(); got != 1 {
		t.Errorf("rejections_total{not_clicked} = %v, want 1", got)
	}
}

func TestRecordSessionsExpired_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsExpired(3)
	c.RecordSessionsExpired(0)

	if got := findMetric(t, reg, "coinwatch_sessions_expired_total", nil).GetCounter().GetValue(); got != 3 {
		t.Errorf("sessions_expired_total = %v, want 3", got)
	}
}

func TestRecordLimitRejection_ByStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLimitRejection("start")
	c.RecordLimitRejection("complete")
	c.RecordLimitRejection("complete")

	if got := findMetric(t, reg, "coinwatch_daily_limit_rejections_total", map[string]string{"stage": "complete"}).GetCounter().GetValue(); got != 2 {
		t.Errorf("daily_limit_rejections_total{complete} = %v, want 2", got)
	}
}

func TestRecordRepositoryRetry_ByOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRepositoryRetry("append_view_record")

	if got := findMetric(t, reg, "coinwatch_repository_retries_total", map[string]string{"operation": "append_view_record"}).GetCounter().GetValue(); got != 1 {
		t.Errorf("repository_retries_total = %v, want 1", got)
	}
}

func TestRecordHTTPStatus_ByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(429)

	if got := findMetric(t, reg, "coinwatch_http_status_total", map[string]string{"status_code": "429"}).GetCounter().GetValue(); got != 1 {
		t.Errorf("http_status_total{429} = %v, want 1", got)
	}
}

func TestRecordCompletionLatency_Observes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCompletionLatency(150 * time.Millisecond)

	if got := findMetric(t, reg, "coinwatch_completion_latency_seconds", nil).GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestRegisterLiveSessions_ReportsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	live := 4
	c.RegisterLiveSessions(func() int { return live })

	if got := findMetric(t, reg, "coinwatch_live_sessions", nil).GetGauge().GetValue(); got != 4 {
		t.Errorf("live_sessions = %v, want 4", got)
	}
}
