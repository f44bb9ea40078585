package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"vodcms-collect-api/config"

	"gorm.io/gorm"
)

const (
	defaultSchedulerTick   = 10 * time.Second
	DefaultSchedulerLockID = "vodcms_collect_scheduler"
)

// Kicker is poked after each scheduler tick so queued work starts promptly.
type Kicker interface {
	Kick()
}

// Scheduler reaps stale runs and enqueues due jobs on a fixed tick.
type Scheduler struct {
	db       *gorm.DB
	runs     *CollectRunService
	jobs     *CollectJobService
	runner   Kicker
	interval time.Duration
	stale    int
	limit    int
	lockName string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler wires the scheduler. An empty lockName skips the cross-process lock.
func NewScheduler(db *gorm.DB, runs *CollectRunService, jobs *CollectJobService, runner Kicker, cfg config.CollectorConfig, lockName string) *Scheduler {
	if db == nil {
		db = config.DB
	}
	interval := cfg.SchedulerInterval
	if interval <= 0 {
		interval = defaultSchedulerTick
	}
	return &Scheduler{
		db:       db,
		runs:     runs,
		jobs:     jobs,
		runner:   runner,
		interval: interval,
		stale:    cfg.StaleSeconds,
		limit:    cfg.ReapLimit,
		lockName: lockName,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Printf("collect scheduler started (interval=%s)", s.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Tick(ctx, now)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Printf("collect scheduler stopped")
}

// Tick runs one reap/enqueue/kick cycle. Failures are logged and never stop the loop.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if _, err := s.runs.ReapStaleRuns(ctx, s.stale, s.limit); err != nil {
		log.Printf("collect scheduler: reap failed: %v", err)
	}

	err := withAdvisoryLock(ctx, s.db, s.lockName, func() error {
		_, err := s.jobs.EnqueueDueJobs(ctx, now)
		return err
	})
	switch {
	case errors.Is(err, ErrLockNotAcquired):
		log.Printf("collect scheduler: another instance holds %s, skipping enqueue", s.lockName)
	case err != nil:
		log.Printf("collect scheduler: enqueue failed: %v", err)
	}

	if s.runner != nil {
		s.runner.Kick()
	}
}
