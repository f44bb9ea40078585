package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"vodcms-collect-api/config"
	"vodcms-collect-api/models"
	"vodcms-collect-api/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCollectRunNotFound = errors.New("collect run not found")
	ErrCollectRunFinished = errors.New("collect run already finished")
	ErrCollectJobNotFound = errors.New("collect job not found")
	ErrInvalidRunID       = errors.New("run id is required")
	ErrInvalidRunStatus   = errors.New("run status must be between 0 and 3")
)

const (
	runMessageMax = 2000

	DefaultStaleSeconds = 600
	minStaleSeconds     = 60
	DefaultReapLimit    = 50
	maxReapLimit        = 200

	runListMaxPageSize = 100

	msgNoSourcesBound  = "no sources bound to this job"
	msgCancelledByUser = "cancelled by user"
)

// RunReport is a worker's report against a run and optionally one of its tasks.
// Nil fields are left unchanged.
type RunReport struct {
	RunID              uint
	TaskID             uint
	Status             *int
	ProgressPage       *int
	ProgressTotalPages *int
	CreatedCount       *int
	UpdatedCount       *int
	ErrorCount         *int
	Message            *string
}

type RunListFilter struct {
	JobID    uint
	Status   *int
	Page     int
	PageSize int
}

// RunFailureNotifier is told about runs the engine failed on its own.
type RunFailureNotifier interface {
	NotifyRunsFailed(ctx context.Context, runIDs []uint, reason string)
}

type CollectRunService struct {
	db       *gorm.DB
	tasks    *CollectTaskService
	notifier RunFailureNotifier
}

func NewCollectRunService(db *gorm.DB) *CollectRunService {
	if db == nil {
		db = config.DB
	}
	return &CollectRunService{
		db:    db,
		tasks: NewCollectTaskService(db),
	}
}

// WithNotifier attaches a notifier for reaped and runner-failed runs.
func (s *CollectRunService) WithNotifier(n RunFailureNotifier) *CollectRunService {
	s.notifier = n
	return s
}

func (s *CollectRunService) Tasks() *CollectTaskService {
	return s.tasks
}

func (s *CollectRunService) Get(ctx context.Context, runID uint) (*models.CollectRun, error) {
	var run models.CollectRun
	if err := s.db.WithContext(ctx).First(&run, runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCollectRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// CreateRun starts a run of jobID against sourceIDs, or the job's bound sources when empty.
// A run with nothing to collect is stored already failed.
func (s *CollectRunService) CreateRun(ctx context.Context, jobID uint, sourceIDs []uint) (*models.CollectRun, error) {
	if jobID == 0 {
		return nil, ErrCollectJobNotFound
	}
	var job models.CollectJob
	if err := s.db.WithContext(ctx).Select("id").First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCollectJobNotFound
		}
		return nil, err
	}

	ids, err := s.resolveSources(ctx, jobID, sourceIDs)
	if err != nil {
		return nil, err
	}

	run := &models.CollectRun{JobID: jobID, Status: models.CollectStatusPending}
	if len(ids) == 0 {
		now := time.Now()
		run.Status = models.CollectStatusFailed
		run.Message = msgNoSourcesBound
		run.FinishedAt = &now
		if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
			return nil, err
		}
		log.Printf("collect: run %d for job %d failed: %s", run.ID, jobID, msgNoSourcesBound)
		return run, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		return s.tasks.CreateForRun(tx, run.ID, ids)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *CollectRunService) resolveSources(ctx context.Context, jobID uint, sourceIDs []uint) ([]uint, error) {
	var ids []uint
	requested := uniqueIDs(sourceIDs)
	if len(requested) > 0 {
		err := s.db.WithContext(ctx).Model(&models.CollectSource{}).
			Where("id IN ?", requested).
			Order("id ASC").
			Pluck("id", &ids).Error
		return ids, err
	}
	err := s.db.WithContext(ctx).Model(&models.CollectJobSource{}).
		Where("job_id = ?", jobID).
		Order("source_id ASC").
		Pluck("source_id", &ids).Error
	return ids, err
}

// Report applies a worker report. Reports against a finished run are accepted and ignored.
func (s *CollectRunService) Report(ctx context.Context, in RunReport) error {
	if in.RunID == 0 {
		return ErrInvalidRunID
	}
	if in.Status != nil && !validCollectStatus(*in.Status) {
		return ErrInvalidRunStatus
	}

	run, err := s.Get(ctx, in.RunID)
	if err != nil {
		return err
	}
	if models.IsTerminalCollectStatus(run.Status) {
		return nil
	}

	now := time.Now()
	updates := map[string]interface{}{"updated_at": now}
	status := -1
	if in.Status != nil {
		status = *in.Status
	}

	if in.TaskID > 0 {
		progress := TaskProgress{
			CurrentPage:  in.ProgressPage,
			TotalPages:   in.ProgressTotalPages,
			CreatedCount: in.CreatedCount,
			UpdatedCount: in.UpdatedCount,
			ErrorCount:   in.ErrorCount,
		}
		if err := s.tasks.ReportProgress(ctx, in.RunID, in.TaskID, progress); err != nil {
			return err
		}
		if models.IsTerminalCollectStatus(status) {
			if _, err := s.tasks.Complete(ctx, in.RunID, in.TaskID, status, derefString(in.Message)); err != nil {
				return err
			}
		}

		stats, err := s.tasks.Stats(ctx, in.RunID)
		if err != nil {
			return err
		}
		updates["pushed_count"] = stats.TotalCreated + stats.TotalUpdated
		updates["created_count"] = stats.TotalCreated
		updates["updated_count"] = stats.TotalUpdated
		updates["error_count"] = stats.TotalErrors
		status = runStatusFromTasks(status, stats)
	}

	if status >= 0 {
		updates["status"] = status
		if status == models.CollectStatusRunning && run.StartedAt == nil {
			updates["started_at"] = now
		}
		if models.IsTerminalCollectStatus(status) {
			updates["finished_at"] = now
		}
	}
	if in.ProgressPage != nil {
		updates["progress_page"] = clampMin(*in.ProgressPage, 0)
	}
	if in.ProgressTotalPages != nil {
		updates["progress_total_pages"] = clampMin(*in.ProgressTotalPages, 0)
	}
	if in.Message != nil {
		updates["message"] = utils.Truncate(*in.Message, runMessageMax)
	}

	return s.db.WithContext(ctx).Model(&models.CollectRun{}).
		Where("id = ? AND status IN ?", in.RunID, activeStatuses()).
		Updates(updates).Error
}

// runStatusFromTasks keeps a run running while any of its tasks is unfinished and
// closes it once all of them are terminal.
func runStatusFromTasks(requested int, stats *TaskStats) int {
	if stats == nil || stats.TotalTasks == 0 {
		return requested
	}
	if stats.Unfinished() > 0 {
		if models.IsTerminalCollectStatus(requested) {
			return models.CollectStatusRunning
		}
		return requested
	}
	if stats.CompletedTasks > 0 {
		return models.CollectStatusDone
	}
	return models.CollectStatusFailed
}

// MarkClaimed moves a run to running on behalf of the worker that claimed one of its tasks.
func (s *CollectRunService) MarkClaimed(ctx context.Context, runID uint, workerID string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.CollectRun{}).
		Where("id = ? AND status IN ?", runID, activeStatuses()).
		Updates(map[string]interface{}{
			"status":     models.CollectStatusRunning,
			"worker_id":  utils.Truncate(strings.TrimSpace(workerID), 64),
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			"updated_at": now,
		}).Error
}

// CancelRun fails a pending or running run together with its unfinished tasks.
func (s *CollectRunService) CancelRun(ctx context.Context, runID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.CollectRun
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&run, runID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCollectRunNotFound
		}
		if err != nil {
			return err
		}
		if models.IsTerminalCollectStatus(run.Status) {
			return ErrCollectRunFinished
		}

		err = tx.Model(&models.CollectRun{}).
			Where("id = ?", runID).
			Updates(map[string]interface{}{
				"status":      models.CollectStatusFailed,
				"message":     msgCancelledByUser,
				"finished_at": time.Now(),
			}).Error
		if err != nil {
			return err
		}
		return s.tasks.FailActiveForRun(tx, runID, msgCancelledByUser)
	})
}

// ReapStaleRuns fails running runs whose last update is older than staleSeconds.
func (s *CollectRunService) ReapStaleRuns(ctx context.Context, staleSeconds, limit int) ([]uint, error) {
	if staleSeconds <= 0 {
		staleSeconds = DefaultStaleSeconds
	}
	if staleSeconds < minStaleSeconds {
		staleSeconds = minStaleSeconds
	}
	if limit <= 0 {
		limit = DefaultReapLimit
	}
	if limit > maxReapLimit {
		limit = maxReapLimit
	}

	now := time.Now()
	cutoff := now.Add(-time.Duration(staleSeconds) * time.Second)
	message := fmt.Sprintf("stale run timeout (no update for %ds)", staleSeconds)

	var reaped []uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		err := tx.Model(&models.CollectRun{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND finished_at IS NULL AND updated_at < ?", models.CollectStatusRunning, cutoff).
			Order("id ASC").
			Limit(limit).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		err = tx.Model(&models.CollectRun{}).
			Where("id IN ? AND status = ?", ids, models.CollectStatusRunning).
			Updates(map[string]interface{}{
				"status":      models.CollectStatusFailed,
				"message":     message,
				"finished_at": now,
				"error_count": gorm.Expr("GREATEST(error_count, 1)"),
			}).Error
		if err != nil {
			return err
		}
		err = tx.Model(&models.CollectTask{}).
			Where("run_id IN ? AND status IN ?", ids, activeStatuses()).
			Updates(map[string]interface{}{
				"status":        models.CollectStatusFailed,
				"error_message": message,
				"finished_at":   now,
			}).Error
		if err != nil {
			return err
		}
		reaped = ids
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(reaped) > 0 {
		log.Printf("collect: reaped %d stale run(s): %v", len(reaped), reaped)
		s.notify(ctx, reaped, message)
	}
	return reaped, nil
}

// FailRunIfPending fails runID only while it is still pending. It reports whether the run changed.
func (s *CollectRunService) FailRunIfPending(ctx context.Context, runID uint, message string) (bool, error) {
	if runID == 0 {
		return false, nil
	}
	message = utils.Truncate(message, runMessageMax)
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CollectRun{}).
			Where("id = ? AND status = ?", runID, models.CollectStatusPending).
			Updates(map[string]interface{}{
				"status":      models.CollectStatusFailed,
				"message":     message,
				"finished_at": time.Now(),
				"error_count": gorm.Expr("GREATEST(error_count, 1)"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true
		return s.tasks.FailActiveForRun(tx, runID, message)
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.notify(ctx, []uint{runID}, message)
	}
	return changed, nil
}

// OldestPendingRunID returns 0 when no run is pending.
func (s *CollectRunService) OldestPendingRunID(ctx context.Context) (uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.CollectRun{}).
		Where("status = ?", models.CollectStatusPending).
		Order("id ASC").
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	return ids[0], nil
}

// HasPendingWork reports whether a run or task is waiting for a worker.
func (s *CollectRunService) HasPendingWork(ctx context.Context) (bool, error) {
	id, err := s.OldestPendingRunID(ctx)
	if err != nil {
		return false, err
	}
	if id > 0 {
		return true, nil
	}
	return s.tasks.HasPending(ctx)
}

// ListRuns pages through runs, newest first, with the job name attached.
func (s *CollectRunService) ListRuns(ctx context.Context, f RunListFilter) ([]models.CollectRun, int64, error) {
	page, size := normalizePage(f.Page, f.PageSize, runListMaxPageSize)

	q := s.db.WithContext(ctx).Table("bb_collect_run AS r")
	if f.Status != nil && validCollectStatus(*f.Status) {
		q = q.Where("r.status = ?", *f.Status)
	}
	if f.JobID > 0 {
		q = q.Where("r.job_id = ?", f.JobID)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	runs := []models.CollectRun{}
	err := q.Select("r.*, j.name AS job_name").
		Joins("LEFT JOIN bb_collect_job j ON j.id = r.job_id").
		Order("r.id DESC").
		Limit(size).
		Offset((page - 1) * size).
		Scan(&runs).Error
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// DeleteRun removes a run and its tasks.
func (s *CollectRunService) DeleteRun(ctx context.Context, runID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&models.CollectTask{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.CollectRun{}, runID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCollectRunNotFound
		}
		return nil
	})
}

func (s *CollectRunService) notify(ctx context.Context, runIDs []uint, reason string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyRunsFailed(ctx, runIDs, reason)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// RunStatusCount is the number of runs in one status.
type RunStatusCount struct {
	Status int   `json:"status"`
	Count  int64 `json:"count"`
}

// StatusCounts groups runs by status for the monitor page.
func (s *CollectRunService) StatusCounts(ctx context.Context) ([]RunStatusCount, error) {
	counts := []RunStatusCount{}
	err := s.db.WithContext(ctx).Model(&models.CollectRun{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status ASC").
		Scan(&counts).Error
	return counts, err
}
