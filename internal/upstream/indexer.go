package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Indexer runs structured search queries against the alert/vulnerability
// index over its REST search API, using HTTP Basic auth. Like the manager,
// the indexer presents a self-signed certificate.
type Indexer struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// IndexerConfig holds indexer client configuration.
type IndexerConfig struct {
	Host     string
	Username string
	Password string
	Timeout  time.Duration
}

// NewIndexer creates a search client for the indexer at cfg.Host.
func NewIndexer(cfg IndexerConfig) *Indexer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Indexer{
		baseURL:  cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			Timeout: cfg.Timeout,
		},
	}
}

// Bucket is one range-aggregation bucket.
type Bucket struct {
	Key      string `json:"key"`
	DocCount int    `json:"doc_count"`
}

// Hit is one search hit; Source stays raw so callers project what they need.
type Hit struct {
	Source json.RawMessage `json:"_source"`
}

// SearchResult is the subset of the search response the aggregator consumes.
// Raw carries the full response body for passthrough endpoints.
type SearchResult struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		Severity struct {
			Buckets []Bucket `json:"buckets"`
		} `json:"severity"`
	} `json:"aggregations"`
	Raw json.RawMessage `json:"-"`
}

// Search POSTs a structured query against the given index pattern.
func (ix *Indexer) Search(ctx context.Context, index string, query any) (*SearchResult, error) {
	encoded, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	url := fmt.Sprintf("%s/%s/_search", ix.baseURL, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.SetBasicAuth(ix.username, ix.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := ix.client.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode)}
	}

	result := &SearchResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	result.Raw = raw
	return result, nil
}
