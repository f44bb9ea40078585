package services

import (
	"context"
	"errors"
	"log"
	"strings"

	"vodcms-collect-api/config"
	"vodcms-collect-api/models"

	"gorm.io/gorm"
)

const (
	pullAttempts     = 5
	msgRunNotFound   = "run not found"
	msgJobNotFound   = "job not found"
	msgSourceMissing = "source not found"
	msgRunFinished   = "run already finished"
)

// PulledRun is the unit of work handed to a worker.
type PulledRun struct {
	ID          uint `json:"id"`
	JobID       uint `json:"job_id"`
	TaskID      uint `json:"task_id"`
	SourceID    uint `json:"source_id"`
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
}

// PulledJob carries the job knobs plus where and how to push harvested items.
type PulledJob struct {
	ID                  uint   `json:"id"`
	Name                string `json:"name"`
	CollectTime         int    `json:"collect_time"`
	IntervalSeconds     int    `json:"interval_seconds"`
	PushWorkers         int    `json:"push_workers"`
	PushIntervalSeconds int    `json:"push_interval_seconds"`
	MaxWorkers          int    `json:"max_workers"`
	Cron                string `json:"cron"`
	DomainURL           string `json:"domain_url"`
	APIPass             string `json:"api_pass"`
	FilterKeywords      string `json:"filter_keywords"`
}

// PullResult is nil-run when the queue is empty.
type PullResult struct {
	Run     *PulledRun             `json:"run"`
	Job     *PulledJob             `json:"job,omitempty"`
	Sources []models.CollectSource `json:"sources,omitempty"`
}

type CollectPullService struct {
	db            *gorm.DB
	runs          *CollectRunService
	settings      *SettingsService
	publicBaseURL string
	fallbackPass  string
}

func NewCollectPullService(db *gorm.DB, runs *CollectRunService, settings *SettingsService, cfg config.CollectorConfig) *CollectPullService {
	if db == nil {
		db = config.DB
	}
	if runs == nil {
		runs = NewCollectRunService(db)
	}
	if settings == nil {
		settings = NewSettingsService(db)
	}
	return &CollectPullService{
		db:            db,
		runs:          runs,
		settings:      settings,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		fallbackPass:  strings.TrimSpace(cfg.InterfacePass),
	}
}

// Pull claims the next pending task for workerID. Tasks whose run vanished are
// failed and nil is returned; tasks of finished runs are failed and skipped.
func (s *CollectPullService) Pull(ctx context.Context, workerID string) (*PullResult, error) {
	tasks := s.runs.Tasks()
	for attempt := 0; attempt < pullAttempts; attempt++ {
		task, err := tasks.ClaimNext(ctx)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return &PullResult{}, nil
		}

		run, err := s.runs.Get(ctx, task.RunID)
		if errors.Is(err, ErrCollectRunNotFound) {
			s.abandonTask(ctx, task.RunID, task.ID, msgRunNotFound)
			return &PullResult{}, nil
		}
		if err != nil {
			return nil, err
		}
		if models.IsTerminalCollectStatus(run.Status) {
			s.abandonTask(ctx, task.RunID, task.ID, msgRunFinished)
			continue
		}

		res, err := s.assemble(ctx, run, task)
		if err != nil {
			return nil, err
		}
		if res == nil {
			continue
		}
		if err := s.runs.MarkClaimed(ctx, run.ID, workerID); err != nil {
			return nil, err
		}
		log.Printf("collect pull: worker=%q run=%d task=%d source=%d", workerID, run.ID, task.ID, task.SourceID)
		return res, nil
	}
	return &PullResult{}, nil
}

func (s *CollectPullService) assemble(ctx context.Context, run *models.CollectRun, task *models.CollectTask) (*PullResult, error) {
	var job models.CollectJob
	err := s.db.WithContext(ctx).First(&job, run.JobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.settleTask(ctx, run.ID, task.ID, msgJobNotFound)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var source models.CollectSource
	err = s.db.WithContext(ctx).First(&source, task.SourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.settleTask(ctx, run.ID, task.ID, msgSourceMissing)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cs, err := s.settings.Collect(ctx)
	if err != nil {
		return nil, err
	}
	pass, err := s.ingestPass(ctx, job.APIPass)
	if err != nil {
		return nil, err
	}
	domain := s.publicBaseURL
	if domain == "" {
		domain = strings.TrimRight(job.DomainURL, "/")
	}

	return &PullResult{
		Run: &PulledRun{
			ID:          run.ID,
			JobID:       run.JobID,
			TaskID:      task.ID,
			SourceID:    task.SourceID,
			CurrentPage: task.CurrentPage,
			TotalPages:  task.TotalPages,
		},
		Job: &PulledJob{
			ID:                  job.ID,
			Name:                job.Name,
			CollectTime:         job.CollectTime,
			IntervalSeconds:     job.IntervalSeconds,
			PushWorkers:         job.PushWorkers,
			PushIntervalSeconds: job.PushIntervalSeconds,
			MaxWorkers:          job.MaxWorkers,
			Cron:                job.Cron,
			DomainURL:           domain,
			APIPass:             pass,
			FilterKeywords:      cs.FilterKeywords,
		},
		Sources: []models.CollectSource{source},
	}, nil
}

func (s *CollectPullService) ingestPass(ctx context.Context, jobPass string) (string, error) {
	sys, err := s.settings.System(ctx)
	if err != nil {
		return "", err
	}
	for _, v := range []string{sys.InterfacePass, s.fallbackPass, jobPass} {
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", nil
}

func (s *CollectPullService) abandonTask(ctx context.Context, runID, taskID uint, reason string) {
	if _, err := s.runs.Tasks().Complete(ctx, runID, taskID, models.CollectStatusFailed, reason); err != nil {
		log.Printf("collect pull: failed to close task %d: %v", taskID, err)
	}
}

// settleTask fails a task of a live run through the report path so the run closes
// once nothing else is left.
func (s *CollectPullService) settleTask(ctx context.Context, runID, taskID uint, reason string) {
	failed := models.CollectStatusFailed
	err := s.runs.Report(ctx, RunReport{RunID: runID, TaskID: taskID, Status: &failed, Message: &reason})
	if err != nil {
		log.Printf("collect pull: failed to settle task %d of run %d: %v", taskID, runID, err)
	}
}
