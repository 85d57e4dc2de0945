package upstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Manager is a typed client for the monitoring manager's REST API. The
// manager runs with a self-signed certificate, so certificate validation is
// disabled at construction rather than per call.
type Manager struct {
	baseURL string
	client  *http.Client
	tokens  *TokenSource
}

// ManagerConfig holds manager client configuration.
type ManagerConfig struct {
	Host     string
	Username string
	Password string
	Timeout  time.Duration
}

// NewManager creates a manager API client with its own token source.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		Timeout: cfg.Timeout,
	}
	return &Manager{
		baseURL: cfg.Host,
		client:  client,
		tokens:  NewTokenSource(cfg.Host, cfg.Username, cfg.Password, client),
	}
}

// Tokens exposes the manager's token source.
func (m *Manager) Tokens() *TokenSource { return m.tokens }

// Agent is one row of the manager's agent listing.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IP   string `json:"ip"`
	OS   struct {
		Name     string `json:"name"`
		Version  string `json:"version"`
		Platform string `json:"platform"`
	} `json:"os"`
	Status        string `json:"status"`
	LastKeepAlive string `json:"lastKeepAlive"`
}

// SCAPolicy is the compliance summary the manager reports for one agent.
type SCAPolicy struct {
	PolicyID string  `json:"policy_id"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Pass     int     `json:"pass"`
	Fail     int     `json:"fail"`
	Invalid  int     `json:"invalid"`
}

// SCACheck is one check result under a policy.
type SCACheck struct {
	ID          int    `json:"id"`
	Command     string `json:"command"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Result      string `json:"result"`
}

// StatusSummary is the agent connection-state breakdown.
type StatusSummary struct {
	Active         int `json:"active"`
	Disconnected   int `json:"disconnected"`
	NeverConnected int `json:"never_connected"`
	Pending        int `json:"pending"`
	Total          int `json:"total"`
}

// ListAgents fetches all registered agents.
func (m *Manager) ListAgents(ctx context.Context) ([]Agent, error) {
	var body struct {
		Data struct {
			AffectedItems []Agent `json:"affected_items"`
		} `json:"data"`
	}
	if err := m.getJSON(ctx, "/agents", &body); err != nil {
		return nil, err
	}
	return body.Data.AffectedItems, nil
}

// ActiveAgentIDs fetches ids of all currently active agents.
func (m *Manager) ActiveAgentIDs(ctx context.Context) ([]string, error) {
	var body struct {
		Data struct {
			AffectedItems []struct {
				ID string `json:"id"`
			} `json:"affected_items"`
		} `json:"data"`
	}
	if err := m.getJSON(ctx, "/agents?status=active", &body); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(body.Data.AffectedItems))
	for _, item := range body.Data.AffectedItems {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// AgentSCA fetches the compliance summary for one agent. Agents without SCA
// data yield a nil policy, not an error.
func (m *Manager) AgentSCA(ctx context.Context, agentID string) (*SCAPolicy, error) {
	var body struct {
		Data struct {
			AffectedItems []SCAPolicy `json:"affected_items"`
		} `json:"data"`
	}
	if err := m.getJSON(ctx, "/sca/"+agentID, &body); err != nil {
		return nil, err
	}
	if len(body.Data.AffectedItems) == 0 {
		return nil, nil
	}
	policy := body.Data.AffectedItems[0]
	return &policy, nil
}

// SCAChecks fetches the check results for one agent under a policy.
func (m *Manager) SCAChecks(ctx context.Context, agentID, policyID string) ([]SCACheck, error) {
	var body struct {
		Data struct {
			AffectedItems []SCACheck `json:"affected_items"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/sca/%s/checks/%s", agentID, policyID)
	if err := m.getJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	return body.Data.AffectedItems, nil
}

// AgentsStatusSummary fetches the connection-state breakdown of all agents.
func (m *Manager) AgentsStatusSummary(ctx context.Context) (StatusSummary, error) {
	var body struct {
		Data struct {
			Connection StatusSummary `json:"connection"`
		} `json:"data"`
	}
	if err := m.getJSON(ctx, "/agents/summary/status", &body); err != nil {
		return StatusSummary{}, err
	}
	return body.Data.Connection, nil
}

// ConfigValidation fetches the manager's configuration health status.
func (m *Manager) ConfigValidation(ctx context.Context) (string, error) {
	var body struct {
		Data struct {
			AffectedItems []struct {
				Status string `json:"status"`
			} `json:"affected_items"`
		} `json:"data"`
	}
	if err := m.getJSON(ctx, "/manager/configuration/validation", &body); err != nil {
		return "", err
	}
	if len(body.Data.AffectedItems) == 0 {
		return "", nil
	}
	return body.Data.AffectedItems[0].Status, nil
}

// ManagerStats fetches the manager statistics document verbatim.
func (m *Manager) ManagerStats(ctx context.Context) (json.RawMessage, error) {
	raw, err := m.getRaw(ctx, "/manager/stats")
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// getJSON performs an authenticated GET and decodes the response. A 401
// invalidates the credential and retries once with a freshly renewed token;
// no other retries happen at this layer.
func (m *Manager) getJSON(ctx context.Context, path string, dest any) error {
	raw, err := m.getRaw(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (m *Manager) getRaw(ctx context.Context, path string) (json.RawMessage, error) {
	raw, status, err := m.do(ctx, path)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		m.tokens.Invalidate()
		raw, status, err = m.do(ctx, path)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, &Error{StatusCode: status, Message: errorMessage(raw, status)}
	}
	return raw, nil
}

func (m *Manager) do(ctx context.Context, path string) (json.RawMessage, int, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &Error{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	return raw, resp.StatusCode, nil
}

func errorMessage(raw []byte, status int) string {
	var body struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Title != "" {
			return body.Title
		}
	}
	return http.StatusText(status)
}
