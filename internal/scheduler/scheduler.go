package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"siembridge/internal/cache"
	"siembridge/internal/metrics"
)

// BuildFunc computes the payload for one logical endpoint.
type BuildFunc func(ctx context.Context) (any, error)

// Job describes one logical endpoint kept warm in the cache.
type Job struct {
	Name     string
	CacheKey string
	Interval time.Duration
	TTL      time.Duration
	Timeout  time.Duration
	Build    BuildFunc
}

// Scheduler runs one refresh loop per job: an immediate first run so the
// cache warms before the first reader, then a fixed-interval ticker. A failed
// run leaves the previous cache entry in place.
type Scheduler struct {
	store    cache.Store
	jobs     []Job
	logger   *slog.Logger
	recorder *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler for the given jobs. recorder may be nil to skip
// refresh statistics.
func New(store cache.Store, jobs []Job, logger *slog.Logger, recorder *metrics.Recorder) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		jobs:     jobs,
		logger:   logger,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the refresh loops.
func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.run(job)
	}
}

// Stop terminates the loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(job Job) {
	defer s.wg.Done()

	s.refresh(job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refresh(job)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) refresh(job Job) {
	runID := uuid.NewString()
	start := time.Now()

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout)
	defer cancel()

	_, err := Materialize(ctx, s.store, s.logger, job)
	if s.recorder != nil {
		s.recorder.Record(job.Name, err)
	}
	if err != nil {
		// Serve-stale: the previous entry stays; readers never see a blank.
		s.logger.Error("refresh failed", "job", job.Name, "run_id", runID, "error", err)
		return
	}
	s.logger.Debug("refresh complete", "job", job.Name, "run_id", runID, "elapsed", time.Since(start))
}

// Materialize runs a job once and overwrites its cache entry, returning the
// encoded payload. Store write failures are soft: the payload is still
// returned and the cycle's write is skipped.
func Materialize(ctx context.Context, store cache.Store, logger *slog.Logger, job Job) ([]byte, error) {
	value, err := job.Build(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", job.Name, err)
	}

	entry := cache.Entry{
		StoredAt:   time.Now().UTC(),
		TTLSeconds: int(job.TTL / time.Second),
		Value:      raw,
	}
	if err := store.Set(ctx, job.CacheKey, entry); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("cache write skipped", "job", job.Name, "error", err)
	}
	return raw, nil
}
