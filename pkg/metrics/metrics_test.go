package metrics_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sternrassler/pagestore/pkg/metrics"
	"github.com/Sternrassler/pagestore/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func TestRegistry(t *testing.T) {
	if metrics.Registry == nil {
		t.Error("Registry should not be nil")
	}

	if metrics.Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
	if metrics.Gatherer != prometheus.DefaultGatherer {
		t.Error("Gatherer should be the default Prometheus gatherer")
	}
}

func TestCatalogue_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for _, name := range metrics.Catalogue {
		if !strings.HasPrefix(name, "pagestore_") {
			t.Errorf("metric %q lacks the pagestore_ prefix", name)
		}
		if seen[name] {
			t.Errorf("metric %q listed twice", name)
		}
		seen[name] = true
	}
}

func TestHandler_ExposesEngineMetrics(t *testing.T) {
	fetch := func(ctx context.Context, req pagination.FetchRequest) (pagination.Page[int], error) {
		return pagination.Page[int]{Total: 3, Data: []int{1, 2, 3}}, nil
	}
	store := pagination.NewStore(pagination.WithLogger(zerolog.Nop()))
	ctrl, err := pagination.CreateResource(store, "metrics-test", fetch, pagination.Options{})
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	if _, err := ctrl.FetchRange(context.Background(), pagination.RangeRequest{Page: 1}); err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"pagestore_fetches_total", "pagestore_fetch_duration_seconds"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("exposition lacks %s", name)
		}
	}
	if !strings.Contains(string(body), `resource="metrics-test"`) {
		t.Error("exposition lacks the resource label")
	}
}
