package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/keyweave/internal/keytest"
	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/config"
	"mercator-hq/keyweave/pkg/keypool"
	"mercator-hq/keyweave/pkg/usage"
)

func testConfig() config.MetricsConfig {
	return config.MetricsConfig{
		Enabled:        true,
		Namespace:      "test",
		Subsystem:      "gw",
		LatencyBuckets: []float64{0.1, 0.5, 1, 5},
	}
}

func TestCollector_SelectionObserver(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	c.ObserveSelection("a", 1)
	c.ObserveSelection("a", 3)
	c.ObserveSelection("b", 1)
	c.ObserveRejection("a")
	c.ObserveExhausted()
	c.ObserveOutcome("a", usage.Success, 200*time.Millisecond)
	c.ObserveOutcome("a", usage.Failure, 2*time.Second)

	if got := testutil.ToFloat64(c.selection.selections.WithLabelValues("a")); got != 2 {
		t.Errorf("selections{a} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.selection.rejections.WithLabelValues("a")); got != 1 {
		t.Errorf("rejections{a} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.selection.exhausted); got != 1 {
		t.Errorf("exhausted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.selection.outcomes.WithLabelValues("a", "failure")); got != 1 {
		t.Errorf("outcomes{a,failure} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.selection.latency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewCollector(cfg, nil)

	c.ObserveSelection("a", 1)
	c.ObserveExhausted()
	if n := testutil.CollectAndCount(c.selection.selections); n != 0 {
		t.Errorf("disabled collector recorded %d series", n)
	}
	if got := testutil.ToFloat64(c.selection.exhausted); got != 0 {
		t.Errorf("exhausted = %v, want 0", got)
	}
}

func TestCollector_BindPool(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	off := keytest.Key("c", 50, 60)
	off.Enabled = false
	p, _ := keytest.Pool(t, keytest.Key("a", 75, 60), keytest.Key("b", 25, 60), off)

	unsubscribe := c.BindPool(p)
	defer unsubscribe()

	if got := testutil.ToFloat64(c.pool.weight.WithLabelValues("a")); got != 75 {
		t.Errorf("key_weight{a} = %v, want 75", got)
	}
	if got := testutil.ToFloat64(c.pool.share.WithLabelValues("a")); got != 0.75 {
		t.Errorf("key_share{a} = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(c.pool.enabled.WithLabelValues("c")); got != 0 {
		t.Errorf("key_enabled{c} = %v, want 0", got)
	}

	_, err := p.ApplyMutation(context.Background(), []keypool.Change{keypool.SetWeight("b", 75)}, keypool.Mutation{
		Operator:  "test",
		Source:    audit.SourceAPI,
		Operation: audit.OpManual,
		Reason:    "even out",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(c.pool.share.WithLabelValues("b")); got != 0.5 {
		t.Errorf("key_share{b} after update = %v, want 0.5", got)
	}
	if got := testutil.ToFloat64(c.pool.version); got != float64(p.CurrentView().Version) {
		t.Errorf("pool_version = %v, want %d", got, p.CurrentView().Version)
	}
}

func TestCollector_WrapAppender(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	log := keytest.AuditLog(t)
	p, err := keypool.New([]keypool.KeyRecord{keytest.Key("a", 10, 60)}, c.WrapAppender(log))
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.ApplyMutation(context.Background(), []keypool.Change{keypool.SetWeight("a", 20)}, keypool.Mutation{
		Operator:  "test",
		Source:    audit.SourceWebUI,
		Operation: audit.OpManual,
		Reason:    "raise",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(c.pool.changes.WithLabelValues("Manual", "WebUI")); got != 1 {
		t.Errorf("weight_changes_total{Manual,WebUI} = %v, want 1", got)
	}
	if n := len(keytest.Records(t, log)); n != 1 {
		t.Errorf("audit log has %d records, want 1", n)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	c.ObserveHTTPRequest(http.MethodGet, "/api/weights/stats", 200, 10*time.Millisecond)
	c.ObserveSelection("a", 1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`test_gw_selections_total{key_id="a"} 1`,
		`test_gw_http_requests_total{method="GET",route="/api/weights/stats",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
