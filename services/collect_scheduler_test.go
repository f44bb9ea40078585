package services

import (
	"context"
	"database/sql/driver"
	"sync/atomic"
	"testing"
	"time"

	"vodcms-collect-api/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingKicker struct {
	kicks atomic.Int32
}

func (k *countingKicker) Kick() { k.kicks.Add(1) }

func nothingStale() *queryStep {
	return expectQuery("SELECT `id` FROM `bb_collect_run` WHERE .* FOR UPDATE", []string{"id"})
}

func noScheduledJobs() *queryStep {
	return expectQuery("SELECT \\* FROM `bb_collect_job` WHERE status = \\? AND cron <> ''", jobColumns)
}

func newTestScheduler(t *testing.T, lockName string, kicker Kicker, steps ...*queryStep) (*Scheduler, *scriptedDB) {
	t.Helper()
	db, state := newScriptedGormDB(t, steps...)
	runs := NewCollectRunService(db)
	jobs := NewCollectJobService(db, runs)
	return NewScheduler(db, runs, jobs, kicker, config.CollectorConfig{}, lockName), state
}

func TestSchedulerTickReapsEnqueuesAndKicks(t *testing.T) {
	kicker := &countingKicker{}
	sched, state := newTestScheduler(t, "", kicker, nothingStale(), noScheduledJobs())

	sched.Tick(context.Background(), time.Now())
	assert.Equal(t, int32(1), kicker.kicks.Load())
	require.NoError(t, state.verifyComplete())
}

func TestSchedulerTickSkipsEnqueueWhenLockIsHeld(t *testing.T) {
	kicker := &countingKicker{}
	sched, state := newTestScheduler(t, DefaultSchedulerLockID, kicker,
		nothingStale(),
		expectQuery("SELECT GET_LOCK\\(\\?, 0\\)", []string{"GET_LOCK(?, 0)"}, []driver.Value{int64(0)}),
	)

	sched.Tick(context.Background(), time.Now())
	assert.Equal(t, int32(1), kicker.kicks.Load())
	require.NoError(t, state.verifyComplete())
}

func TestSchedulerTickHoldsLockAroundEnqueue(t *testing.T) {
	kicker := &countingKicker{}
	sched, state := newTestScheduler(t, DefaultSchedulerLockID, kicker,
		nothingStale(),
		expectQuery("SELECT GET_LOCK\\(\\?, 0\\)", []string{"GET_LOCK(?, 0)"}, []driver.Value{int64(1)}),
		noScheduledJobs(),
		expectQuery("SELECT RELEASE_LOCK\\(\\?\\)", []string{"RELEASE_LOCK(?)"}, []driver.Value{int64(1)}),
	)
	// the lock pins one connection while enqueueing uses another
	sqlDB, err := sched.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(2)

	sched.Tick(context.Background(), time.Now())
	assert.Equal(t, int32(1), kicker.kicks.Load())
	require.NoError(t, state.verifyComplete())
}

func TestSchedulerTickWithoutRunner(t *testing.T) {
	sched, state := newTestScheduler(t, "", nil, nothingStale(), noScheduledJobs())
	sched.Tick(context.Background(), time.Now())
	require.NoError(t, state.verifyComplete())
}

func TestSchedulerStartStop(t *testing.T) {
	db, _ := newScriptedGormDB(t)
	runs := NewCollectRunService(db)
	sched := NewScheduler(db, runs, NewCollectJobService(db, runs), nil,
		config.CollectorConfig{SchedulerInterval: time.Hour}, "")

	sched.Start(context.Background())
	sched.Start(context.Background())
	sched.Stop()
	sched.Stop()
}

func TestRenderRunFailureMailEscapesReason(t *testing.T) {
	subject, body := renderRunFailureMail([]uint{4, 9}, "collector exit code=1\n<script>x</script>")
	assert.Equal(t, "[collect] 2 run(s) failed", subject)
	assert.Contains(t, body, "Runs: #4, #9")
	assert.Contains(t, body, "collector exit code=1<br />&lt;script&gt;")
	assert.NotContains(t, body, "<script>")
}

func TestMailRunNotifierSendsAsync(t *testing.T) {
	sent := make(chan []string, 1)
	n := &MailRunNotifier{
		recipients: []string{"ops@example.org"},
		send: func(to []string, subject, html string) error {
			sent <- to
			return nil
		},
	}
	n.NotifyRunsFailed(context.Background(), []uint{1}, "stale")

	select {
	case to := <-sent:
		assert.Equal(t, []string{"ops@example.org"}, to)
	case <-time.After(time.Second):
		t.Fatal("alert mail was not sent")
	}

	var nilNotifier *MailRunNotifier
	nilNotifier.NotifyRunsFailed(context.Background(), []uint{1}, "stale")
}
