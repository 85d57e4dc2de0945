package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIndexerSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wazuh-alerts-4.x-*/_search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		var query map[string]any
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			t.Errorf("query not JSON: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"hits":{"total":{"value":2},"hits":[{"_source":{"rule":{"level":10}}}]},
			"aggregations":{"severity":{"buckets":[{"key":"Minor","doc_count":5},{"key":"Critical","doc_count":2}]}}
		}`))
	}))
	t.Cleanup(srv.Close)

	ix := NewIndexer(IndexerConfig{Host: srv.URL, Username: "admin", Password: "secret"})
	ix.client = srv.Client()

	res, err := ix.Search(context.Background(), "wazuh-alerts-4.x-*", map[string]any{"size": 0})
	if err != nil {
		t.Fatal(err)
	}
	if res.Hits.Total.Value != 2 || len(res.Hits.Hits) != 1 {
		t.Errorf("hits parsed wrong: %+v", res.Hits)
	}
	if len(res.Aggregations.Severity.Buckets) != 2 || res.Aggregations.Severity.Buckets[0].DocCount != 5 {
		t.Errorf("buckets parsed wrong: %+v", res.Aggregations.Severity.Buckets)
	}
	if len(res.Raw) == 0 {
		t.Error("raw body not kept")
	}
}

func TestIndexerSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"title":"parse error"}`))
	}))
	t.Cleanup(srv.Close)

	ix := NewIndexer(IndexerConfig{Host: srv.URL, Username: "admin", Password: "secret"})
	ix.client = srv.Client()

	_, err := ix.Search(context.Background(), "idx", map[string]any{})
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if upErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", upErr.StatusCode)
	}
}
