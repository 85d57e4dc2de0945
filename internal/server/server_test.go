package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"siembridge/internal/aggregate"
	"siembridge/internal/cache"
	"siembridge/internal/metrics"
	"siembridge/internal/scheduler"
	"siembridge/internal/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(key string, build scheduler.BuildFunc) scheduler.Job {
	return scheduler.Job{
		Name:     key,
		CacheKey: key,
		Interval: time.Minute,
		TTL:      time.Minute,
		Timeout:  time.Second,
		Build:    build,
	}
}

func newTestServer(store cache.Store, jobs []scheduler.Job, aggregator *aggregate.Aggregator) *httptest.Server {
	s := New("127.0.0.1:0", store, jobs, aggregator, metrics.NewRecorder(), discardLogger())
	return httptest.NewServer(s.httpServer.Handler)
}

func TestEndpointServedFromCache(t *testing.T) {
	store := cache.NewMemoryStore()
	_ = store.Set(context.Background(), "alerts", cache.Entry{
		StoredAt:   time.Now().UTC(),
		TTLSeconds: 60,
		Value:      json.RawMessage(`{"alerts":[]}`),
	})
	jobs := []scheduler.Job{testJob("alerts", func(ctx context.Context) (any, error) {
		t.Error("cache hit must not trigger aggregation")
		return nil, nil
	})}

	srv := newTestServer(store, jobs, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/alerts")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"alerts":[]}` {
		t.Errorf("body = %s", body)
	}
}

func TestEndpointServesStaleEntry(t *testing.T) {
	store := cache.NewMemoryStore()
	_ = store.Set(context.Background(), "dashboard-metrics", cache.Entry{
		StoredAt:   time.Now().UTC().Add(-time.Hour),
		TTLSeconds: 60,
		Value:      json.RawMessage(`{"total_alerts":19}`),
	})
	jobs := []scheduler.Job{testJob("dashboard-metrics", func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream down")
	})}

	srv := newTestServer(store, jobs, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/dashboard-metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, stale entries must still serve", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"total_alerts":19}` {
		t.Errorf("body = %s", body)
	}
}

func TestEndpointMissAggregatesAndPopulates(t *testing.T) {
	store := cache.NewMemoryStore()
	jobs := []scheduler.Job{testJob("agents-summary", func(ctx context.Context) (any, error) {
		return map[string]any{"agents": map[string]any{}, "warnings": []any{}}, nil
	})}

	srv := newTestServer(store, jobs, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/agents-summary")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if _, ok, _ := store.Get(context.Background(), "agents-summary"); !ok {
		t.Error("read-through did not populate the cache")
	}
}

func TestEndpointMissWithFailedBuildReturnsError(t *testing.T) {
	jobs := []scheduler.Job{testJob("alerts", func(ctx context.Context) (any, error) {
		return nil, errors.New("indexer unreachable")
	})}

	srv := newTestServer(cache.NewMemoryStore(), jobs, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/alerts")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] == "" {
		t.Error("error body missing")
	}
}

func TestManagerStatsSurfacesUpstreamStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/security/user/authenticate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":0,"data":{"token":"test-token"}}`))
	})
	mux.HandleFunc("/manager/stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"title":"Service Unavailable","detail":"stats backend down"}`))
	})
	managerSrv := httptest.NewServer(mux)
	defer managerSrv.Close()

	manager := upstream.NewManager(upstream.ManagerConfig{Host: managerSrv.URL, Username: "u", Password: "p"})
	indexer := upstream.NewIndexer(upstream.IndexerConfig{Host: "http://127.0.0.1:1"})
	aggregator := aggregate.New(manager, indexer, "alerts", "vulns", 4, discardLogger())

	srv := newTestServer(cache.NewMemoryStore(), nil, aggregator)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/manager-stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want upstream's 503", resp.StatusCode)
	}
}

func TestRefreshStatusEmpty(t *testing.T) {
	srv := newTestServer(cache.NewMemoryStore(), nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/refresh-status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Jobs []metrics.JobStats `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Jobs == nil {
		t.Error("jobs field absent, want empty list")
	}
}

type failingPingStore struct {
	*cache.MemoryStore
}

func (s *failingPingStore) Ping(context.Context) error {
	return &cache.StoreError{Err: errors.New("connection refused")}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(cache.NewMemoryStore(), nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHealthzUnhealthyStore(t *testing.T) {
	store := &failingPingStore{MemoryStore: cache.NewMemoryStore()}
	srv := newTestServer(store, nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "unhealthy" {
		t.Errorf("status field = %q", body["status"])
	}
}
