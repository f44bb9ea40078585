package services

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vodcms-collect-api/config"
	"vodcms-collect-api/models"
	"vodcms-collect-api/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrJobNameTooShort = errors.New("name too short")
	ErrJobAPIPassShort = errors.New("api_pass too short")
)

const jobAPIPassMinLen = 8

var scheduleRegex = regexp.MustCompile(`(?i)^(?:@every\s+)?(\d+)$`)

// ParseScheduleSeconds accepts "3600" or "@every 3600". Anything else means never due.
func ParseScheduleSeconds(schedule string) int {
	m := scheduleRegex.FindStringSubmatch(strings.TrimSpace(schedule))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// JobInput is used for both create and partial save; nil fields keep their value.
// A nil SourceIDs leaves the job's bindings untouched.
type JobInput struct {
	ID                  uint
	Name                *string
	DomainURL           *string
	APIPass             *string
	CollectTime         *int
	IntervalSeconds     *int
	PushWorkers         *int
	PushIntervalSeconds *int
	MaxWorkers          *int
	Cron                *string
	Status              *int
	SourceIDs           []uint
}

type CollectJobService struct {
	db   *gorm.DB
	runs *CollectRunService
}

func NewCollectJobService(db *gorm.DB, runs *CollectRunService) *CollectJobService {
	if db == nil {
		db = config.DB
	}
	if runs == nil {
		runs = NewCollectRunService(db)
	}
	return &CollectJobService{db: db, runs: runs}
}

// List returns every job with its bound source ids.
func (s *CollectJobService) List(ctx context.Context) ([]models.CollectJob, error) {
	jobs := []models.CollectJob{}
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return jobs, nil
	}

	ids := make([]uint, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	var links []models.CollectJobSource
	if err := s.db.WithContext(ctx).Where("job_id IN ?", ids).Order("source_id ASC").Find(&links).Error; err != nil {
		return nil, err
	}
	byJob := make(map[uint][]uint, len(jobs))
	for _, l := range links {
		byJob[l.JobID] = append(byJob[l.JobID], l.SourceID)
	}
	for i := range jobs {
		jobs[i].SourceIDs = byJob[jobs[i].ID]
		if jobs[i].SourceIDs == nil {
			jobs[i].SourceIDs = []uint{}
		}
	}
	return jobs, nil
}

func (s *CollectJobService) Get(ctx context.Context, id uint) (*models.CollectJob, error) {
	var job models.CollectJob
	if err := s.db.WithContext(ctx).First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCollectJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *CollectJobService) Create(ctx context.Context, in JobInput) (*models.CollectJob, error) {
	job := &models.CollectJob{
		CollectTime:         24,
		IntervalSeconds:     1,
		PushWorkers:         1,
		PushIntervalSeconds: 2,
		MaxWorkers:          2,
		Status:              models.CollectJobEnabled,
	}
	if err := applyJobInput(job, in, false); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		return bindJobSources(tx, job.ID, in.SourceIDs)
	})
	if err != nil {
		return nil, err
	}
	job.SourceIDs = uniqueIDs(in.SourceIDs)
	return job, nil
}

func (s *CollectJobService) Save(ctx context.Context, in JobInput) (*models.CollectJob, error) {
	job, err := s.Get(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if err := applyJobInput(job, in, true); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(job).Select(
			"name", "domain_url", "api_pass", "collect_time", "interval_seconds",
			"push_workers", "push_interval_seconds", "max_workers", "cron", "status",
		).Updates(job).Error
		if err != nil {
			return err
		}
		if in.SourceIDs == nil {
			return nil
		}
		if err := tx.Where("job_id = ?", job.ID).Delete(&models.CollectJobSource{}).Error; err != nil {
			return err
		}
		return bindJobSources(tx, job.ID, in.SourceIDs)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *CollectJobService) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&models.CollectJobSource{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.CollectJob{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCollectJobNotFound
		}
		return nil
	})
}

// SourceIDs returns the sources bound to a job.
func (s *CollectJobService) SourceIDs(ctx context.Context, jobID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.CollectJobSource{}).
		Where("job_id = ?", jobID).
		Order("source_id ASC").
		Pluck("source_id", &ids).Error
	return ids, err
}

// EnqueueDueJobs creates a run for every enabled scheduled job whose interval has
// elapsed since its last run and which has no pending or running run.
func (s *CollectJobService) EnqueueDueJobs(ctx context.Context, now time.Time) ([]uint, error) {
	var jobs []models.CollectJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND cron <> ''", models.CollectJobEnabled).
		Order("id ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}

	var created []uint
	for _, job := range jobs {
		interval := ParseScheduleSeconds(job.Cron)
		if interval <= 0 {
			continue
		}
		due, err := s.isDue(ctx, job.ID, interval, now)
		if err != nil {
			log.Printf("collect: enqueue check for job %d failed: %v", job.ID, err)
			continue
		}
		if !due {
			continue
		}
		run, err := s.runs.CreateRun(ctx, job.ID, nil)
		if err != nil {
			log.Printf("collect: enqueue job %d failed: %v", job.ID, err)
			continue
		}
		created = append(created, run.ID)
	}
	if len(created) > 0 {
		log.Printf("collect: enqueued %d run(s): %v", len(created), created)
	}
	return created, nil
}

func (s *CollectJobService) isDue(ctx context.Context, jobID uint, interval int, now time.Time) (bool, error) {
	var active int64
	err := s.db.WithContext(ctx).Model(&models.CollectRun{}).
		Where("job_id = ? AND status IN ?", jobID, activeStatuses()).
		Count(&active).Error
	if err != nil {
		return false, err
	}
	if active > 0 {
		return false, nil
	}

	var last models.CollectRun
	err = s.db.WithContext(ctx).
		Select("id", "created_at").
		Where("job_id = ?", jobID).
		Order("id DESC").
		Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return now.Sub(last.CreatedAt) >= time.Duration(interval)*time.Second, nil
}

func applyJobInput(job *models.CollectJob, in JobInput, partial bool) error {
	if in.Name != nil || !partial {
		name := ""
		if in.Name != nil {
			name = utils.SanitizeInput(*in.Name)
		}
		if len([]rune(name)) < 2 {
			return ErrJobNameTooShort
		}
		job.Name = name
	}
	if in.DomainURL != nil {
		job.DomainURL = utils.NormalizeBaseURL(*in.DomainURL)
	}
	if in.APIPass != nil {
		pass := strings.TrimSpace(*in.APIPass)
		if partial && len(pass) < jobAPIPassMinLen {
			return ErrJobAPIPassShort
		}
		job.APIPass = pass
	}
	if in.CollectTime != nil {
		job.CollectTime = *in.CollectTime
	}
	if in.IntervalSeconds != nil {
		job.IntervalSeconds = clampMin(*in.IntervalSeconds, 0)
	}
	if in.PushWorkers != nil {
		job.PushWorkers = clampMin(*in.PushWorkers, 1)
	}
	if in.PushIntervalSeconds != nil {
		job.PushIntervalSeconds = clampMin(*in.PushIntervalSeconds, 0)
	}
	if in.MaxWorkers != nil {
		job.MaxWorkers = clampMin(*in.MaxWorkers, 1)
	}
	if in.Cron != nil {
		job.Cron = strings.TrimSpace(*in.Cron)
	}
	if in.Status != nil {
		job.Status = enabledFlag(*in.Status)
	}
	return nil
}

func bindJobSources(tx *gorm.DB, jobID uint, sourceIDs []uint) error {
	ids := uniqueIDs(sourceIDs)
	if len(ids) == 0 {
		return nil
	}
	links := make([]models.CollectJobSource, 0, len(ids))
	for _, id := range ids {
		links = append(links, models.CollectJobSource{JobID: jobID, SourceID: id})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}
