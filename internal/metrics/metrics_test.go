package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveUpstream(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveUpstream("playlist.get", "ok", 250*time.Millisecond)
	rec.ObserveUpstreamRetry("playlist.get", "server_error")

	families := gather(t, rec, "shufflr_upstream_requests_total", "shufflr_upstream_retries_total", "shufflr_upstream_request_duration_seconds")

	counter := findMetric(t, families["shufflr_upstream_requests_total"], map[string]string{
		"operation": "playlist.get",
		"outcome":   "ok",
	})
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected request counter 1, got %v", got)
	}

	retry := findMetric(t, families["shufflr_upstream_retries_total"], map[string]string{
		"operation": "playlist.get",
		"kind":      "server_error",
	})
	if got := retry.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected retry counter 1, got %v", got)
	}

	histMetric := findMetric(t, families["shufflr_upstream_request_duration_seconds"], map[string]string{
		"operation": "playlist.get",
		"outcome":   "ok",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for upstream latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveCache(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCache(CacheOperationGet, CacheHit, 10*time.Millisecond)
	rec.ObserveCache(CacheOperationSet, CacheStored, 5*time.Millisecond)

	families := gather(t, rec, "shufflr_cache_operations_total", "shufflr_cache_operation_duration_seconds")

	hit := findMetric(t, families["shufflr_cache_operations_total"], map[string]string{
		"operation": string(CacheOperationGet),
		"result":    string(CacheHit),
	})
	if got := hit.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected get counter 1, got %v", got)
	}

	stored := findMetric(t, families["shufflr_cache_operations_total"], map[string]string{
		"operation": string(CacheOperationSet),
		"result":    string(CacheStored),
	})
	if got := stored.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected set counter 1, got %v", got)
	}

	latency := findMetric(t, families["shufflr_cache_operation_duration_seconds"], map[string]string{
		"operation": string(CacheOperationSet),
		"result":    string(CacheStored),
	})
	hist := latency.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for cache set latency")
	}
	want := 0.005
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveScheduleRun(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveScheduleRun("nightly-shuffle", "ok")
	rec.ObserveScheduleRun("nightly-shuffle", "error")

	families := gather(t, rec, "shufflr_schedule_runs_total")
	ok := findMetric(t, families["shufflr_schedule_runs_total"], map[string]string{
		"schedule": "nightly-shuffle",
		"outcome":  "ok",
	})
	if got := ok.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected run counter 1, got %v", got)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveUpstream("playlist.get", "ok", time.Millisecond)
	rec.ObserveUpstreamRetry("playlist.get", "server_error")
	rec.ObserveCache(CacheOperationGet, CacheMiss, time.Millisecond)
	rec.ObserveScheduleRun("s", "ok")

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
