package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"siembridge/internal/models"
	"siembridge/internal/upstream"
)

const (
	// The manager registers itself under agent id 000; it never appears in
	// agent summaries.
	managerAgentID = "000"

	alertFeedMinSeverity = 8
	alertFeedLimit       = 500
	vulnerabilityLimit   = 100
)

// Error reports a composite operation that failed because a required
// sub-call failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Aggregator composes manager and indexer calls into the unified payloads
// served per logical endpoint.
type Aggregator struct {
	manager     *upstream.Manager
	indexer     *upstream.Indexer
	alertsIndex string
	vulnIndex   string
	fanout      int
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an aggregator over the given upstream clients. fanout caps the
// number of concurrent per-agent enrichment calls.
func New(manager *upstream.Manager, indexer *upstream.Indexer, alertsIndex, vulnIndex string, fanout int, logger *slog.Logger) *Aggregator {
	if fanout <= 0 {
		fanout = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		manager:     manager,
		indexer:     indexer,
		alertsIndex: alertsIndex,
		vulnIndex:   vulnIndex,
		fanout:      fanout,
		logger:      logger,
		now:         time.Now,
	}
}

// AgentSummaries lists all agents and enriches each with compliance and
// vulnerability data. Per-agent enrichment failures degrade only that agent's
// record and are collected as warnings; only the listing itself is fatal.
func (a *Aggregator) AgentSummaries(ctx context.Context) (*models.AgentSummaries, error) {
	agents, err := a.manager.ListAgents(ctx)
	if err != nil {
		return nil, &Error{Op: "agents-summary: list agents", Err: err}
	}

	result := &models.AgentSummaries{
		Agents: make(map[string]models.AgentSummary, len(agents)),
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, a.fanout)
	)
	for _, agent := range agents {
		if agent.ID == managerAgentID {
			continue
		}
		wg.Add(1)
		go func(agent upstream.Agent) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			summary, warnings := a.buildAgentSummary(ctx, agent)

			mu.Lock()
			result.Agents[agent.ID] = summary
			result.Warnings = append(result.Warnings, warnings...)
			mu.Unlock()
		}(agent)
	}
	wg.Wait()

	sort.Strings(result.Warnings)
	return result, nil
}

func (a *Aggregator) buildAgentSummary(ctx context.Context, agent upstream.Agent) (models.AgentSummary, []string) {
	summary := models.AgentSummary{
		ID:         agent.ID,
		Name:       agent.Name,
		IP:         agent.IP,
		OSName:     agent.OS.Name,
		OSVersion:  agent.OS.Version,
		OSPlatform: agent.OS.Platform,
		Status:     agent.Status,
		LastSeen:   agent.LastKeepAlive,
		Vulns:      []models.Vulnerability{},
	}

	var warnings []string
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		warnings = append(warnings, msg)
		a.logger.Warn("agent enrichment degraded", "agent", agent.ID, "detail", msg)
	}

	sca, err := a.manager.AgentSCA(ctx, agent.ID)
	switch {
	case err != nil:
		warn("agent %s: compliance unavailable: %v", agent.ID, err)
	case sca != nil:
		compliance := &models.Compliance{
			PolicyID: sca.PolicyID,
			Score:    sca.Score,
			Derived:  derivedScore(sca),
			Pass:     sca.Pass,
			Fail:     sca.Fail,
			Invalid:  sca.Invalid,
		}
		checks, err := a.manager.SCAChecks(ctx, agent.ID, sca.PolicyID)
		if err != nil {
			warn("agent %s: policy checks unavailable: %v", agent.ID, err)
		} else {
			compliance.Checks = mapChecks(checks)
		}
		summary.Compliance = compliance
	}

	vulns, err := a.agentVulnerabilities(ctx, agent.ID)
	if err != nil {
		warn("agent %s: vulnerabilities unavailable: %v", agent.ID, err)
	} else {
		summary.Vulns = vulns
	}
	return summary, warnings
}

func (a *Aggregator) agentVulnerabilities(ctx context.Context, agentID string) ([]models.Vulnerability, error) {
	res, err := a.indexer.Search(ctx, a.vulnIndex, agentVulnerabilityQuery(agentID, vulnerabilityLimit))
	if err != nil {
		return nil, err
	}

	vulns := make([]models.Vulnerability, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var source struct {
			Package struct {
				Name string `json:"name"`
			} `json:"package"`
			Vulnerability struct {
				ID       string `json:"id"`
				Severity string `json:"severity"`
			} `json:"vulnerability"`
		}
		if err := json.Unmarshal(hit.Source, &source); err != nil {
			continue
		}
		vulns = append(vulns, models.Vulnerability{
			Package:  source.Package.Name,
			CVE:      source.Vulnerability.ID,
			Severity: source.Vulnerability.Severity,
		})
	}
	return vulns, nil
}

// DashboardMetrics recomputes the full metrics record. Every field except the
// compliance mean is load-bearing for one coherent view, so any other
// sub-call failure fails the whole operation; the compliance mean alone
// degrades to 0, matching the behavior readers already depend on.
func (a *Aggregator) DashboardMetrics(ctx context.Context) (*models.DashboardMetrics, error) {
	now := a.now().UTC()

	status, err := a.manager.AgentsStatusSummary(ctx)
	if err != nil {
		return nil, &Error{Op: "dashboard-metrics: agent status", Err: err}
	}

	allTime, err := a.indexer.Search(ctx, a.alertsIndex, allTimeSeverityQuery())
	if err != nil {
		return nil, &Error{Op: "dashboard-metrics: all-time severity", Err: err}
	}
	total := 0
	for _, bucket := range allTime.Aggregations.Severity.Buckets {
		total += bucket.DocCount
	}

	recent, err := a.indexer.Search(ctx, a.alertsIndex, last24hSeverityQuery(now))
	if err != nil {
		return nil, &Error{Op: "dashboard-metrics: 24h severity", Err: err}
	}
	buckets := recent.Aggregations.Severity.Buckets
	critical := bucketCount(buckets, "Critical")
	major := bucketCount(buckets, "Major")
	minor := bucketCount(buckets, "Minor")

	compliance, err := a.meanComplianceScore(ctx)
	if err != nil {
		a.logger.Warn("compliance score unavailable", "error", err)
		compliance = 0
	}

	health, err := a.manager.ConfigValidation(ctx)
	if err != nil {
		return nil, &Error{Op: "dashboard-metrics: manager health", Err: err}
	}

	return &models.DashboardMetrics{
		TotalAlerts:     total,
		AlertsLast24h:   minor + major + critical,
		CriticalAlerts:  critical,
		HighAlerts:      major,
		MediumAlerts:    minor,
		LowAlerts:       bucketCount(buckets, "Info"),
		AvgResponseTime: "0s",
		ComplianceScore: compliance,
		ActiveAgents:    status.Active,
		ManagerHealth:   health,
	}, nil
}

// meanComplianceScore averages the policy score across active agents,
// skipping agents that report none.
func (a *Aggregator) meanComplianceScore(ctx context.Context) (float64, error) {
	ids, err := a.manager.ActiveAgentIDs(ctx)
	if err != nil {
		return 0, err
	}

	var scores []float64
	for _, id := range ids {
		sca, err := a.manager.AgentSCA(ctx, id)
		if err != nil || sca == nil {
			continue
		}
		scores = append(scores, sca.Score)
	}
	if len(scores) == 0 {
		return 0, nil
	}

	sum := 0.0
	for _, score := range scores {
		sum += score
	}
	return round2(sum / float64(len(scores))), nil
}

// AlertFeed returns the most recent high-severity alerts. A single search
// backs the whole feed, so there is no partial tolerance: it fails whole.
func (a *Aggregator) AlertFeed(ctx context.Context) (*models.AlertFeed, error) {
	res, err := a.indexer.Search(ctx, a.alertsIndex, alertFeedQuery(alertFeedMinSeverity, alertFeedLimit))
	if err != nil {
		return nil, &Error{Op: "alerts: search", Err: err}
	}

	feed := &models.AlertFeed{Alerts: make([]models.AlertRecord, 0, len(res.Hits.Hits))}
	for _, hit := range res.Hits.Hits {
		var source struct {
			Rule struct {
				Level       int      `json:"level"`
				Description string   `json:"description"`
				Groups      []string `json:"groups"`
			} `json:"rule"`
			Timestamp  string `json:"@timestamp"`
			Predecoder struct {
				Hostname string `json:"hostname"`
			} `json:"predecoder"`
			Agent struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"agent"`
		}
		if err := json.Unmarshal(hit.Source, &source); err != nil {
			continue
		}
		feed.Alerts = append(feed.Alerts, models.AlertRecord{
			Severity:    source.Rule.Level,
			Description: source.Rule.Description,
			Time:        source.Timestamp,
			HostName:    source.Predecoder.Hostname,
			AgentName:   source.Agent.Name,
			AgentID:     source.Agent.ID,
			RuleGroups:  strings.Join(source.Rule.Groups, ", "),
		})
	}
	return feed, nil
}

// ManagerStats passes the manager statistics document through verbatim.
func (a *Aggregator) ManagerStats(ctx context.Context) (json.RawMessage, error) {
	return a.manager.ManagerStats(ctx)
}

// SeveritySummary passes the raw all-time severity aggregation through.
func (a *Aggregator) SeveritySummary(ctx context.Context) (json.RawMessage, error) {
	res, err := a.indexer.Search(ctx, a.alertsIndex, allTimeSeverityQuery())
	if err != nil {
		return nil, err
	}
	return res.Raw, nil
}

func mapChecks(checks []upstream.SCACheck) []models.PolicyCheck {
	mapped := make([]models.PolicyCheck, 0, len(checks))
	for _, check := range checks {
		mapped = append(mapped, models.PolicyCheck{
			ID:          check.ID,
			Command:     check.Command,
			Title:       check.Title,
			Description: check.Description,
			Result:      check.Result,
		})
	}
	return mapped
}

func derivedScore(policy *upstream.SCAPolicy) float64 {
	total := policy.Pass + policy.Fail + policy.Invalid
	if total == 0 {
		return 0
	}
	return round2(float64(policy.Pass) / float64(total) * 100)
}

func bucketCount(buckets []upstream.Bucket, key string) int {
	for _, bucket := range buckets {
		if bucket.Key == key {
			return bucket.DocCount
		}
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
