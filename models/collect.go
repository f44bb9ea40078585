package models

import "time"

// Run and task states share the same wire values as the worker report protocol.
const (
	CollectStatusPending = 0
	CollectStatusRunning = 1
	CollectStatusDone    = 2
	CollectStatusFailed  = 3
)

const (
	CollectSourceEnabled  = 1
	CollectSourceDisabled = 0

	CollectJobEnabled  = 1
	CollectJobDisabled = 0
)

// CollectTypeVod and CollectTypeArticle tell the worker which receive endpoint a source feeds.
const (
	CollectTypeArticle = 1
	CollectTypeVod     = 2
)

// IsTerminalCollectStatus reports whether a run or task status can no longer change.
func IsTerminalCollectStatus(status int) bool {
	return status == CollectStatusDone || status == CollectStatusFailed
}

// CollectSource is an external catalog endpoint.
type CollectSource struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string    `json:"name" gorm:"type:varchar(100);not null"`
	BaseURL     string    `json:"base_url" gorm:"column:base_url;type:varchar(500);not null;uniqueIndex:uk_collect_source_base_url"`
	CollectType int       `json:"collect_type" gorm:"column:collect_type;not null;default:2"`
	Status      int       `json:"status" gorm:"not null;default:1"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (CollectSource) TableName() string { return "bb_collect_source" }

// CollectJob is a named, schedulable collection configuration.
type CollectJob struct {
	ID                  uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name                string    `json:"name" gorm:"type:varchar(100);not null"`
	DomainURL           string    `json:"domain_url" gorm:"column:domain_url;type:varchar(500);not null;default:''"`
	APIPass             string    `json:"api_pass" gorm:"column:api_pass;type:varchar(128);not null;default:''"`
	CollectTime         int       `json:"collect_time" gorm:"column:collect_time;not null;default:24"`
	IntervalSeconds     int       `json:"interval_seconds" gorm:"column:interval_seconds;not null;default:1"`
	PushWorkers         int       `json:"push_workers" gorm:"column:push_workers;not null;default:1"`
	PushIntervalSeconds int       `json:"push_interval_seconds" gorm:"column:push_interval_seconds;not null;default:2"`
	MaxWorkers          int       `json:"max_workers" gorm:"column:max_workers;not null;default:2"`
	Cron                string    `json:"cron" gorm:"column:cron;type:varchar(64);not null;default:''"`
	Status              int       `json:"status" gorm:"not null;default:1"`
	CreatedAt           time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	SourceIDs []uint `json:"source_ids" gorm:"-"`
}

func (CollectJob) TableName() string { return "bb_collect_job" }

// CollectJobSource binds a job to one of its sources.
type CollectJobSource struct {
	ID       uint `json:"id" gorm:"primaryKey;autoIncrement"`
	JobID    uint `json:"job_id" gorm:"column:job_id;not null;uniqueIndex:uk_collect_job_source,priority:1"`
	SourceID uint `json:"source_id" gorm:"column:source_id;not null;uniqueIndex:uk_collect_job_source,priority:2;index"`
}

func (CollectJobSource) TableName() string { return "bb_collect_job_source" }

// CollectRun is one execution of a job.
type CollectRun struct {
	ID                 uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	JobID              uint       `json:"job_id" gorm:"column:job_id;not null;index"`
	Status             int        `json:"status" gorm:"not null;default:0;index"`
	WorkerID           string     `json:"worker_id" gorm:"column:worker_id;type:varchar(64);not null;default:''"`
	ProgressPage       int        `json:"progress_page" gorm:"column:progress_page;not null;default:0"`
	ProgressTotalPages int        `json:"progress_total_pages" gorm:"column:progress_total_pages;not null;default:0"`
	PushedCount        int        `json:"pushed_count" gorm:"column:pushed_count;not null;default:0"`
	CreatedCount       int        `json:"created_count" gorm:"column:created_count;not null;default:0"`
	UpdatedCount       int        `json:"updated_count" gorm:"column:updated_count;not null;default:0"`
	ErrorCount         int        `json:"error_count" gorm:"column:error_count;not null;default:0"`
	Message            string     `json:"message" gorm:"type:text"`
	StartedAt          *time.Time `json:"started_at" gorm:"column:started_at"`
	FinishedAt         *time.Time `json:"finished_at" gorm:"column:finished_at"`
	CreatedAt          time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime;index"`

	JobName string `json:"job_name,omitempty" gorm:"->;column:job_name;-:migration"`
}

func (CollectRun) TableName() string { return "bb_collect_run" }

// CollectTask is the unit of work for one source within one run.
type CollectTask struct {
	ID           uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID        uint       `json:"run_id" gorm:"column:run_id;not null;uniqueIndex:uk_collect_task_run_source,priority:1"`
	SourceID     uint       `json:"source_id" gorm:"column:source_id;not null;uniqueIndex:uk_collect_task_run_source,priority:2"`
	Status       int        `json:"status" gorm:"not null;default:0;index"`
	CurrentPage  int        `json:"current_page" gorm:"column:current_page;not null;default:1"`
	TotalPages   int        `json:"total_pages" gorm:"column:total_pages;not null;default:0"`
	CreatedCount int        `json:"created_count" gorm:"column:created_count;not null;default:0"`
	UpdatedCount int        `json:"updated_count" gorm:"column:updated_count;not null;default:0"`
	ErrorCount   int        `json:"error_count" gorm:"column:error_count;not null;default:0"`
	ErrorMessage string     `json:"error_message" gorm:"column:error_message;type:varchar(500);not null;default:''"`
	StartedAt    *time.Time `json:"started_at" gorm:"column:started_at"`
	FinishedAt   *time.Time `json:"finished_at" gorm:"column:finished_at"`
	CreatedAt    time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	SourceName string `json:"source_name,omitempty" gorm:"->;column:source_name;-:migration"`
}

func (CollectTask) TableName() string { return "bb_collect_task" }

// CollectRecord marks a remote item as already processed for a source.
type CollectRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TaskID    uint      `json:"task_id" gorm:"column:task_id;not null;default:0"`
	SourceID  uint      `json:"source_id" gorm:"column:source_id;not null;uniqueIndex:uk_collect_record_remote,priority:1"`
	RemoteID  string    `json:"remote_id" gorm:"column:remote_id;type:varchar(64);not null;uniqueIndex:uk_collect_record_remote,priority:2"`
	LocalID   uint      `json:"local_id" gorm:"column:local_id;not null;default:0"`
	IsNew     bool      `json:"is_new" gorm:"column:is_new;not null;default:false"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (CollectRecord) TableName() string { return "bb_collect_record" }

// CollectTypeBind maps a source's remote category to a local category.
type CollectTypeBind struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SourceID       uint      `json:"source_id" gorm:"column:source_id;not null;uniqueIndex:uk_collect_type_bind,priority:1"`
	RemoteTypeID   int       `json:"remote_type_id" gorm:"column:remote_type_id;not null;uniqueIndex:uk_collect_type_bind,priority:2"`
	RemoteTypeName string    `json:"remote_type_name" gorm:"column:remote_type_name;type:varchar(100);not null;default:''"`
	LocalTypeID    int       `json:"local_type_id" gorm:"column:local_type_id;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`

	LocalTypeName string `json:"local_type_name,omitempty" gorm:"->;column:local_type_name;-:migration"`
}

func (CollectTypeBind) TableName() string { return "bb_collect_type_bind" }
