package services

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"vodcms-collect-api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobColumns = []string{"id", "name", "cron", "status"}

func TestParseScheduleSeconds(t *testing.T) {
	cases := map[string]int{
		"3600":         3600,
		" 60 ":         60,
		"@every 120":   120,
		"@EVERY   300": 300,
		"":             0,
		"0 * * * *":    0,
		"@daily":       0,
		"-5":           0,
		"12s":          0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseScheduleSeconds(in), "schedule %q", in)
	}
}

func TestEnqueueDueJobsSkipsActiveAndRecentJobs(t *testing.T) {
	now := time.Now()
	db, state := newScriptedGormDB(t,
		expectQuery("SELECT \\* FROM `bb_collect_job` WHERE status = \\? AND cron <> ''", jobColumns,
			[]driver.Value{int64(1), "hourly", "3600", int64(1)},
			[]driver.Value{int64(2), "minutely", "@every 60", int64(1)},
			[]driver.Value{int64(3), "weekly", "0 0 * * 0", int64(1)},
		),
		// job 1 still has a run in flight
		expectQuery("SELECT count\\(\\*\\) FROM `bb_collect_run`", []string{"count(*)"}, []driver.Value{int64(1)}),
		// job 2 ran thirty seconds ago
		expectQuery("SELECT count\\(\\*\\) FROM `bb_collect_run`", []string{"count(*)"}, []driver.Value{int64(0)}),
		expectQuery("SELECT `id`,`created_at` FROM `bb_collect_run` WHERE job_id = \\? ORDER BY id DESC LIMIT 1",
			[]string{"id", "created_at"}, []driver.Value{int64(50), now.Add(-30 * time.Second)}),
	)

	runs := NewCollectRunService(db)
	created, err := NewCollectJobService(db, runs).EnqueueDueJobs(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, created)
	require.NoError(t, state.verifyComplete())
}

func TestEnqueueDueJobsCreatesRunOnceIntervalElapsed(t *testing.T) {
	now := time.Now()
	db, state := newScriptedGormDB(t,
		expectQuery("SELECT \\* FROM `bb_collect_job` WHERE", jobColumns,
			[]driver.Value{int64(1), "hourly", "3600", int64(models.CollectJobEnabled)}),
		expectQuery("SELECT count\\(\\*\\) FROM `bb_collect_run`", []string{"count(*)"}, []driver.Value{int64(0)}),
		expectQuery("SELECT `id`,`created_at` FROM `bb_collect_run`",
			[]string{"id", "created_at"}, []driver.Value{int64(50), now.Add(-2 * time.Hour)}),
		expectQuery("SELECT `id` FROM `bb_collect_job` WHERE", []string{"id"}, []driver.Value{int64(1)}),
		expectQuery("SELECT `source_id` FROM `bb_collect_job_source`", []string{"source_id"}, []driver.Value{int64(8)}),
		expectInsert("INSERT INTO `bb_collect_run`", 21),
		expectInsert("INSERT INTO `bb_collect_task`", 90),
	)

	runs := NewCollectRunService(db)
	created, err := NewCollectJobService(db, runs).EnqueueDueJobs(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []uint{21}, created)
	require.NoError(t, state.verifyComplete())
}

func TestEnqueueDueJobsFirstRunIsDueImmediately(t *testing.T) {
	now := time.Now()
	db, state := newScriptedGormDB(t,
		expectQuery("SELECT \\* FROM `bb_collect_job` WHERE", jobColumns,
			[]driver.Value{int64(4), "fresh", "@every 86400", int64(models.CollectJobEnabled)}),
		expectQuery("SELECT count\\(\\*\\) FROM `bb_collect_run`", []string{"count(*)"}, []driver.Value{int64(0)}),
		expectQuery("SELECT `id`,`created_at` FROM `bb_collect_run`", []string{"id", "created_at"}),
		expectQuery("SELECT `id` FROM `bb_collect_job` WHERE", []string{"id"}, []driver.Value{int64(4)}),
		expectQuery("SELECT `source_id` FROM `bb_collect_job_source`", []string{"source_id"}),
		expectInsert("INSERT INTO `bb_collect_run`", 22),
	)

	runs := NewCollectRunService(db)
	created, err := NewCollectJobService(db, runs).EnqueueDueJobs(context.Background(), now)
	require.NoError(t, err)
	// a job without bound sources still records its (failed) run
	assert.Equal(t, []uint{22}, created)
	require.NoError(t, state.verifyComplete())
}

func TestApplyJobInputValidation(t *testing.T) {
	short := "x"
	var job models.CollectJob
	assert.ErrorIs(t, applyJobInput(&job, JobInput{Name: &short}, false), ErrJobNameTooShort)
	assert.ErrorIs(t, applyJobInput(&job, JobInput{}, false), ErrJobNameTooShort)

	name := "Nightly"
	require.NoError(t, applyJobInput(&job, JobInput{Name: &name}, false))
	assert.Equal(t, "Nightly", job.Name)
}
