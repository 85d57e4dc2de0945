package models

// AgentSummary is the merged view of one monitored agent, assembled from the
// manager listing plus per-agent compliance and vulnerability lookups.
type AgentSummary struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	IP         string          `json:"ip,omitempty"`
	OSName     string          `json:"os_name,omitempty"`
	OSVersion  string          `json:"os_version,omitempty"`
	OSPlatform string          `json:"os_platform,omitempty"`
	Status     string          `json:"status"`
	LastSeen   string          `json:"last_seen,omitempty"`
	Compliance *Compliance     `json:"compliance,omitempty"`
	Vulns      []Vulnerability `json:"vulnerabilities"`
}

// Compliance is the SCA sub-record for one agent. Score is the policy score
// reported by the manager; Derived is pass/(pass+fail+invalid) as a percent.
type Compliance struct {
	PolicyID string        `json:"policy_id"`
	Score    float64       `json:"score"`
	Derived  float64       `json:"derived_score"`
	Pass     int           `json:"pass"`
	Fail     int           `json:"fail"`
	Invalid  int           `json:"invalid"`
	Checks   []PolicyCheck `json:"checks,omitempty"`
}

// PolicyCheck is the reduced shape of one SCA check result.
type PolicyCheck struct {
	ID          int    `json:"id"`
	Command     string `json:"command,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Result      string `json:"result"`
}

// Vulnerability is one vulnerability document attributed to an agent.
type Vulnerability struct {
	Package  string `json:"package"`
	CVE      string `json:"cve"`
	Severity string `json:"severity"`
}

// AgentSummaries is the payload behind /agents-summary. Warnings collects
// per-agent enrichment failures that degraded individual records.
type AgentSummaries struct {
	Agents   map[string]AgentSummary `json:"agents"`
	Warnings []string                `json:"warnings,omitempty"`
}

// DashboardMetrics is the flat record behind /dashboard-metrics.
type DashboardMetrics struct {
	TotalAlerts     int     `json:"total_alerts"`
	AlertsLast24h   int     `json:"alerts_last_24hr"`
	CriticalAlerts  int     `json:"critical_alerts"`
	HighAlerts      int     `json:"high_alerts"`
	MediumAlerts    int     `json:"medium_alerts"`
	LowAlerts       int     `json:"low_alerts"`
	OpenTickets     int     `json:"open_tickets"`
	ResolvedToday   int     `json:"resolved_today"`
	AvgResponseTime string  `json:"avg_response_time"`
	ComplianceScore float64 `json:"compliance_score"`
	ActiveAgents    int     `json:"active_agents"`
	ManagerHealth   string  `json:"wazuh_health"`
}

// AlertRecord is one row of the alert feed.
type AlertRecord struct {
	Severity    int    `json:"severity"`
	Description string `json:"alert_description"`
	Time        string `json:"time"`
	HostName    string `json:"host_name,omitempty"`
	AgentName   string `json:"agent_name,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	RuleGroups  string `json:"rule_groups"`
}

// AlertFeed is the payload behind /alerts.
type AlertFeed struct {
	Alerts []AlertRecord `json:"alerts"`
}
