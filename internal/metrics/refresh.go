package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// JobStats summarises refresh health of one scheduled job.
type JobStats struct {
	Name           string  `json:"name"`
	SuccessPercent float64 `json:"success_percent"`
	TotalRuns      int     `json:"total_runs"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	LastError      string  `json:"last_error,omitempty"`
	LastSuccess    string  `json:"last_success,omitempty"`
}

// Recorder accumulates refresh outcomes per job. Safe for concurrent use by
// the scheduler loops.
type Recorder struct {
	mu   sync.Mutex
	jobs map[string]*jobAcc
}

type jobAcc struct {
	succeeded   int
	failed      int
	lastError   string
	lastSuccess time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{jobs: make(map[string]*jobAcc)}
}

// Record notes the outcome of one refresh run. A nil err counts as success
// and clears the job's last error.
func (r *Recorder) Record(job string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc := r.jobs[job]
	if acc == nil {
		acc = &jobAcc{}
		r.jobs[job] = acc
	}
	if err != nil {
		acc.failed++
		acc.lastError = err.Error()
		return
	}
	acc.succeeded++
	acc.lastError = ""
	acc.lastSuccess = time.Now().UTC()
}

// Snapshot returns per-job statistics sorted by job name.
func (r *Recorder) Snapshot() []JobStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.jobs) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	stats := make([]JobStats, 0, len(names))
	for _, name := range names {
		acc := r.jobs[name]
		total := acc.succeeded + acc.failed
		percent := 0.0
		if total > 0 {
			percent = float64(acc.succeeded) / float64(total) * 100
		}

		entry := JobStats{
			Name:           name,
			SuccessPercent: round2(percent),
			TotalRuns:      total,
			Succeeded:      acc.succeeded,
			Failed:         acc.failed,
			LastError:      acc.lastError,
		}
		if !acc.lastSuccess.IsZero() {
			entry.LastSuccess = acc.lastSuccess.Format(time.RFC3339)
		}
		stats = append(stats, entry)
	}
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
