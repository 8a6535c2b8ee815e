package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInit_SafeToCallMultipleTimes(t *testing.T) {
	Init()
	Init()
}

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	Init()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", w.Code)
	}

	body := w.Body.String()
	expected := []string{
		"pgshim_translation_total",
		"pgshim_statement_step_total",
		"pgshim_remote_query_latency_seconds",
		"pgshim_result_cache_hits_total",
		"pgshim_pool_slot_state",
		"pgshim_worker_delegation_total",
	}
	for _, name := range expected {
		if !strings.Contains(body, name) {
			t.Errorf("expected metric %q in scrape output", name)
		}
	}
}

func TestIncrementAndObserve_ReflectedInScrape(t *testing.T) {
	Init()

	TranslationTotal.WithLabelValues("hit").Inc()
	StatementStepTotal.WithLabelValues("read", "row").Inc()
	PoolAcquireTotal.WithLabelValues("hint").Inc()
	PoolSlotState.WithLabelValues("free").Set(3)
	RemoteQueryLatency.WithLabelValues("read").Observe(0.002)
	ResultCacheHits.Inc()
	ResultCacheMisses.Inc()
	WorkerDelegationTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `outcome="hit"`) {
		t.Error("expected outcome=\"hit\" label in scrape output")
	}
	if !strings.Contains(body, `path="hint"`) {
		t.Error("expected path label in scrape output")
	}
}
