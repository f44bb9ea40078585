package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"vodcms-collect-api/config"
	"vodcms-collect-api/models"
	"vodcms-collect-api/utils"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCollectTaskNotFound = errors.New("collect task not found")
	ErrInvalidTaskStatus   = errors.New("task status must be done or failed")

	errClaimConflict = errors.New("task claimed by another worker")
)

const (
	taskClaimAttempts   = 3
	taskErrorMessageMax = 500
	taskListMaxPageSize = 100
)

// TaskProgress carries absolute progress values; nil fields are left unchanged.
type TaskProgress struct {
	CurrentPage  *int
	TotalPages   *int
	CreatedCount *int
	UpdatedCount *int
	ErrorCount   *int
}

func (p TaskProgress) empty() bool {
	return p.CurrentPage == nil && p.TotalPages == nil && p.CreatedCount == nil &&
		p.UpdatedCount == nil && p.ErrorCount == nil
}

// TaskStats is the per-run aggregate of its tasks.
type TaskStats struct {
	TotalTasks     int `json:"totalTasks" gorm:"column:total_tasks"`
	PendingTasks   int `json:"pendingTasks" gorm:"column:pending_tasks"`
	RunningTasks   int `json:"runningTasks" gorm:"column:running_tasks"`
	CompletedTasks int `json:"completedTasks" gorm:"column:completed_tasks"`
	FailedTasks    int `json:"failedTasks" gorm:"column:failed_tasks"`
	TotalCreated   int `json:"totalCreated" gorm:"column:total_created"`
	TotalUpdated   int `json:"totalUpdated" gorm:"column:total_updated"`
	TotalErrors    int `json:"totalErrors" gorm:"column:total_errors"`
}

// Unfinished counts tasks still pending or running.
func (s TaskStats) Unfinished() int {
	return s.PendingTasks + s.RunningTasks
}

type TaskListFilter struct {
	RunID    uint
	SourceID uint
	Status   *int
	Page     int
	PageSize int
}

// RecordInput describes one processed remote item for the dedup ledger.
type RecordInput struct {
	TaskID   uint
	SourceID uint
	RemoteID string
	LocalID  uint
	IsNew    bool
}

type CollectTaskService struct {
	db *gorm.DB
}

func NewCollectTaskService(db *gorm.DB) *CollectTaskService {
	if db == nil {
		db = config.DB
	}
	return &CollectTaskService{db: db}
}

// CreateForRun inserts one pending task per source, skipping pairs that already exist.
func (s *CollectTaskService) CreateForRun(tx *gorm.DB, runID uint, sourceIDs []uint) error {
	if tx == nil {
		tx = s.db
	}
	tasks := make([]models.CollectTask, 0, len(sourceIDs))
	for _, id := range uniqueIDs(sourceIDs) {
		tasks = append(tasks, models.CollectTask{
			RunID:       runID,
			SourceID:    id,
			Status:      models.CollectStatusPending,
			CurrentPage: 1,
		})
	}
	if len(tasks) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tasks).Error
}

// ClaimNext hands out the oldest pending task, or nil when the queue is empty.
// A lost race or lock contention is retried a bounded number of times.
func (s *CollectTaskService) ClaimNext(ctx context.Context) (*models.CollectTask, error) {
	var lastErr error
	for attempt := 0; attempt < taskClaimAttempts; attempt++ {
		task, err := s.claimOnce(ctx)
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, errClaimConflict) && !isLockContention(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	if errors.Is(lastErr, errClaimConflict) {
		return nil, nil
	}
	return nil, lastErr
}

func (s *CollectTaskService) claimOnce(ctx context.Context) (*models.CollectTask, error) {
	var claimed *models.CollectTask
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.CollectTask
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ?", models.CollectStatusPending).
			Order("id ASC").
			Take(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.CollectTask{}).
			Where("id = ? AND status = ?", task.ID, models.CollectStatusPending).
			Updates(map[string]interface{}{
				"status":     models.CollectStatusRunning,
				"started_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errClaimConflict
		}
		task.Status = models.CollectStatusRunning
		task.StartedAt = &now
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReportProgress writes absolute progress values for a task.
func (s *CollectTaskService) ReportProgress(ctx context.Context, runID, taskID uint, p TaskProgress) error {
	if p.empty() {
		return nil
	}
	updates := map[string]interface{}{}
	if p.CurrentPage != nil {
		updates["current_page"] = clampMin(*p.CurrentPage, 1)
	}
	if p.TotalPages != nil {
		updates["total_pages"] = clampMin(*p.TotalPages, 0)
	}
	if p.CreatedCount != nil {
		updates["created_count"] = clampMin(*p.CreatedCount, 0)
	}
	if p.UpdatedCount != nil {
		updates["updated_count"] = clampMin(*p.UpdatedCount, 0)
	}
	if p.ErrorCount != nil {
		updates["error_count"] = clampMin(*p.ErrorCount, 0)
	}
	return s.db.WithContext(ctx).Model(&models.CollectTask{}).
		Where("id = ? AND run_id = ?", taskID, runID).
		Updates(updates).Error
}

// Complete moves a pending or running task of runID to done or failed. Terminal
// tasks and tasks of other runs are left as they are.
func (s *CollectTaskService) Complete(ctx context.Context, runID, taskID uint, status int, message string) (bool, error) {
	if status != models.CollectStatusDone && status != models.CollectStatusFailed {
		return false, ErrInvalidTaskStatus
	}
	res := s.db.WithContext(ctx).Model(&models.CollectTask{}).
		Where("id = ? AND run_id = ? AND status IN ?", taskID, runID, activeStatuses()).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": utils.Truncate(strings.TrimSpace(message), taskErrorMessageMax),
			"finished_at":   time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FailActiveForRun marks every pending or running task of a run as failed.
func (s *CollectTaskService) FailActiveForRun(tx *gorm.DB, runID uint, message string) error {
	if tx == nil {
		tx = s.db
	}
	return tx.Model(&models.CollectTask{}).
		Where("run_id = ? AND status IN ?", runID, activeStatuses()).
		Updates(map[string]interface{}{
			"status":        models.CollectStatusFailed,
			"error_message": utils.Truncate(message, taskErrorMessageMax),
			"finished_at":   time.Now(),
		}).Error
}

// Stats sums the tasks of a run.
func (s *CollectTaskService) Stats(ctx context.Context, runID uint) (*TaskStats, error) {
	var stats TaskStats
	err := s.db.WithContext(ctx).Model(&models.CollectTask{}).
		Select(`COUNT(*) AS total_tasks,
			COALESCE(SUM(CASE WHEN status = 0 THEN 1 ELSE 0 END), 0) AS pending_tasks,
			COALESCE(SUM(CASE WHEN status = 1 THEN 1 ELSE 0 END), 0) AS running_tasks,
			COALESCE(SUM(CASE WHEN status = 2 THEN 1 ELSE 0 END), 0) AS completed_tasks,
			COALESCE(SUM(CASE WHEN status = 3 THEN 1 ELSE 0 END), 0) AS failed_tasks,
			COALESCE(SUM(created_count), 0) AS total_created,
			COALESCE(SUM(updated_count), 0) AS total_updated,
			COALESCE(SUM(error_count), 0) AS total_errors`).
		Where("run_id = ?", runID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// List pages through tasks, newest first, with the source name attached.
func (s *CollectTaskService) List(ctx context.Context, f TaskListFilter) ([]models.CollectTask, int64, error) {
	page, size := normalizePage(f.Page, f.PageSize, taskListMaxPageSize)

	q := s.db.WithContext(ctx).Table("bb_collect_task AS t")
	if f.RunID > 0 {
		q = q.Where("t.run_id = ?", f.RunID)
	}
	if f.SourceID > 0 {
		q = q.Where("t.source_id = ?", f.SourceID)
	}
	if f.Status != nil && validCollectStatus(*f.Status) {
		q = q.Where("t.status = ?", *f.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	tasks := []models.CollectTask{}
	err := q.Select("t.*, s.name AS source_name").
		Joins("LEFT JOIN bb_collect_source s ON s.id = t.source_id").
		Order("t.id DESC").
		Limit(size).
		Offset((page - 1) * size).
		Scan(&tasks).Error
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// HasPending reports whether any task waits to be claimed.
func (s *CollectTaskService) HasPending(ctx context.Context) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.CollectTask{}).
		Where("status = ?", models.CollectStatusPending).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

// RecordExists reports whether a remote item was already processed for a source.
// Workers use it to skip detail fetches for items the ledger already holds.
func (s *CollectTaskService) RecordExists(ctx context.Context, sourceID uint, remoteID string) (bool, error) {
	if sourceID == 0 || strings.TrimSpace(remoteID) == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.CollectRecord{}).
		Where("source_id = ? AND remote_id = ?", sourceID, strings.TrimSpace(remoteID)).
		Count(&count).Error
	return count > 0, err
}

// recordCollectedItem upserts the ledger row for a remote item inside the merge transaction.
func recordCollectedItem(tx *gorm.DB, in RecordInput) error {
	remoteID := strings.TrimSpace(in.RemoteID)
	if in.SourceID == 0 || remoteID == "" {
		return nil
	}
	rec := models.CollectRecord{
		TaskID:   in.TaskID,
		SourceID: in.SourceID,
		RemoteID: utils.Truncate(remoteID, 64),
		LocalID:  in.LocalID,
		IsNew:    in.IsNew,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}, {Name: "remote_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"task_id", "local_id", "is_new"}),
	}).Create(&rec).Error
}

// isLockContention matches InnoDB deadlock and lock wait timeout errors.
func isLockContention(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	return false
}

func activeStatuses() []int {
	return []int{models.CollectStatusPending, models.CollectStatusRunning}
}

func validCollectStatus(status int) bool {
	return status >= models.CollectStatusPending && status <= models.CollectStatusFailed
}

func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func normalizePage(page, size, maxSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
