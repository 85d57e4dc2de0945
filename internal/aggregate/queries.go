package aggregate

import "time"

// Severity tiers are range buckets over rule.level. The all-time query keeps
// the Info tier; the 24-hour window intentionally drops it.
func severityRanges(withInfo bool) []map[string]any {
	ranges := make([]map[string]any, 0, 4)
	if withInfo {
		ranges = append(ranges, map[string]any{"key": "Info", "to": 6})
	}
	return append(ranges,
		map[string]any{"key": "Minor", "from": 7, "to": 11},
		map[string]any{"key": "Major", "from": 11, "to": 14},
		map[string]any{"key": "Critical", "from": 14},
	)
}

func severityAggs(withInfo bool) map[string]any {
	return map[string]any{
		"severity": map[string]any{
			"range": map[string]any{
				"field":  "rule.level",
				"ranges": severityRanges(withInfo),
			},
		},
	}
}

// allTimeSeverityQuery buckets every alert ever indexed by severity tier.
func allTimeSeverityQuery() map[string]any {
	return map[string]any{
		"size": 0,
		"aggs": severityAggs(true),
	}
}

// last24hSeverityQuery buckets alerts in the trailing 24 hours. The window is
// anchored to the run's snapshot time so both severity queries in one run
// agree on "now".
func last24hSeverityQuery(now time.Time) map[string]any {
	since := now.Add(-24 * time.Hour)
	return map[string]any{
		"size": 0,
		"query": map[string]any{
			"range": map[string]any{
				"timestamp": map[string]any{
					"gte": since.Format(time.RFC3339),
					"lte": now.Format(time.RFC3339),
				},
			},
		},
		"aggs": severityAggs(false),
	}
}

// alertFeedQuery selects the most recent alerts at or above the feed's
// minimum severity, newest first.
func alertFeedQuery(minSeverity, limit int) map[string]any {
	return map[string]any{
		"size": limit,
		"sort": []map[string]any{
			{"@timestamp": map[string]any{"order": "desc"}},
		},
		"query": map[string]any{
			"range": map[string]any{
				"rule.level": map[string]any{"gte": minSeverity},
			},
		},
		"_source": []string{
			"rule.level",
			"rule.description",
			"rule.id",
			"rule.groups",
			"@timestamp",
			"predecoder.hostname",
			"agent.name",
			"agent.id",
			"full_log",
			"location",
		},
	}
}

// agentVulnerabilityQuery selects vulnerability documents for one agent.
func agentVulnerabilityQuery(agentID string, limit int) map[string]any {
	return map[string]any{
		"size": limit,
		"query": map[string]any{
			"term": map[string]any{
				"agent.id": agentID,
			},
		},
		"_source": []string{
			"package.name",
			"vulnerability.id",
			"vulnerability.severity",
		},
	}
}
