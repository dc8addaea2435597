package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FormidableLabs/trygql/internal/cache"
	"github.com/FormidableLabs/trygql/internal/coalesce"
	"github.com/FormidableLabs/trygql/internal/fetch"
	"github.com/FormidableLabs/trygql/internal/resolvercache"
)

// Metrics must satisfy the recorder interfaces of the components it observes.
var (
	_ fetch.Recorder         = (*Metrics)(nil)
	_ resolvercache.Recorder = (*Metrics)(nil)
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	if m.registry == nil {
		t.Error("expected non-nil registry")
	}
	if m.resolverCacheLookups == nil {
		t.Error("expected non-nil resolverCacheLookups")
	}
}

func TestHandlerExportsRuntimeMetrics(t *testing.T) {
	body := scrape(t, New())

	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected go_goroutines in metrics")
	}
}

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("POST", "/graphql/relay-npm", 200, 100*time.Millisecond, 2048)

	body := scrape(t, m)

	for _, name := range []string{
		`trygql_requests_total{method="POST",route="/graphql/relay-npm",status="200"} 1`,
		"trygql_request_duration_seconds",
		"trygql_response_size_bytes",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics", name)
		}
	}
}

func TestRecordUpstream(t *testing.T) {
	m := New()
	m.RecordUpstreamRequest("npm", "package", 200, 50*time.Millisecond)
	m.RecordUpstreamError("npm", "search", "transport")
	m.RecordCacheHit("npm")
	m.RecordCacheMiss("npm")
	m.RecordCacheMiss("npm")

	body := scrape(t, m)

	for _, name := range []string{
		`trygql_upstream_requests_total{endpoint="package",status="200",upstream="npm"} 1`,
		`trygql_upstream_errors_total{endpoint="search",error_type="transport",upstream="npm"} 1`,
		`trygql_cache_hits_total{cache_type="npm"} 1`,
		`trygql_cache_misses_total{cache_type="npm"} 2`,
		"trygql_upstream_duration_seconds",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics", name)
		}
	}
}

func TestRecordResolverCache(t *testing.T) {
	m := New()
	m.RecordResolverCacheLookup("Query.package", resolvercache.ResultHit)
	m.RecordResolverCacheLookup("Query.package", resolvercache.ResultMiss)
	m.RecordResolverCacheLookup("Query.package", resolvercache.ResultHit)
	m.RecordResolverCacheError("Version.exports", resolvercache.OpSet)

	body := scrape(t, m)

	for _, name := range []string{
		`trygql_resolver_cache_lookups_total{field="Query.package",result="hit"} 2`,
		`trygql_resolver_cache_lookups_total{field="Query.package",result="miss"} 1`,
		`trygql_resolver_cache_errors_total{field="Version.exports",op="set"} 1`,
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics", name)
		}
	}
}

func TestRegisterCircuitBreaker(t *testing.T) {
	m := New()
	b := fetch.NewBreaker(1, 1, time.Hour)

	if err := m.RegisterCircuitBreaker("npm", func() int { return int(b.State()) }); err != nil {
		t.Fatalf("RegisterCircuitBreaker() error = %v", err)
	}
	if err := m.RegisterCircuitBreaker("npm", func() int { return 0 }); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	if body := scrape(t, m); !strings.Contains(body, `trygql_circuit_breaker_state{upstream="npm"} 0`) {
		t.Error("expected closed breaker state")
	}

	b.Failure()
	if body := scrape(t, m); !strings.Contains(body, `trygql_circuit_breaker_state{upstream="npm"} 1`) {
		t.Error("expected open breaker state")
	}
}

func TestRegisterStore(t *testing.T) {
	m := New()
	store := cache.NewMemory(cache.MemoryConfig{})
	ctx := context.Background()

	if err := m.RegisterStore("memory", store); err != nil {
		t.Fatalf("RegisterStore() error = %v", err)
	}
	if err := m.RegisterStore("memory", store); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	store.Set(ctx, "k", []byte("v"), 0)
	store.Get(ctx, "k")
	store.Get(ctx, "missing")
	store.Get(ctx, "missing")

	body := scrape(t, m)
	for _, line := range []string{
		`trygql_store_operations_total{backend="memory",op="hit"} 1`,
		`trygql_store_operations_total{backend="memory",op="miss"} 2`,
		`trygql_store_operations_total{backend="memory",op="set"} 1`,
		`trygql_store_operations_total{backend="memory",op="error"} 0`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("expected %s in metrics", line)
		}
	}
}

func TestRegisterCoalescer(t *testing.T) {
	m := New()
	c := coalesce.New(coalesce.Config{})

	if err := m.RegisterCoalescer(c); err != nil {
		t.Fatalf("RegisterCoalescer() error = %v", err)
	}

	c.Do(context.Background(), "k", func() (any, error) { return 1, nil })

	body := scrape(t, m)
	for _, line := range []string{
		`trygql_coalesce_requests_total 1`,
		`trygql_coalesce_shared_total 0`,
		`trygql_coalesce_active_flights 0`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("expected %s in metrics", line)
		}
	}
}

func TestMiddleware(t *testing.T) {
	m := New()

	handler := m.Middleware("/graphql/basic-pokedex")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graphql/basic-pokedex?query=x", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	body := scrape(t, m)
	if !strings.Contains(body, `trygql_requests_total{method="GET",route="/graphql/basic-pokedex",status="400"} 1`) {
		t.Error("expected request recorded under its route")
	}
}
