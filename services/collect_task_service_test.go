package services

import (
	"context"
	"database/sql/driver"
	"testing"

	"vodcms-collect-api/models"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskColumns = []string{"id", "run_id", "source_id", "status", "current_page", "total_pages"}

func pendingTaskRow(id, runID, sourceID, page int64) []driver.Value {
	return []driver.Value{id, runID, sourceID, int64(models.CollectStatusPending), page, int64(0)}
}

func TestClaimNextHandsOutOldestPendingTask(t *testing.T) {
	claim, seen := expectExec("UPDATE `bb_collect_task` SET .* WHERE id = \\? AND status = \\?", 1).capture()
	db, state := newScriptedGormDB(t,
		expectQuery("FROM `bb_collect_task` WHERE status = \\? ORDER BY id ASC LIMIT 1 FOR UPDATE", taskColumns,
			pendingTaskRow(7, 5, 2, 3)),
		claim,
	)

	task, err := NewCollectTaskService(db).ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, uint(7), task.ID)
	assert.Equal(t, uint(5), task.RunID)
	assert.Equal(t, 3, task.CurrentPage)
	assert.Equal(t, models.CollectStatusRunning, task.Status)
	assert.NotNil(t, task.StartedAt)

	status, ok := seen.assigned("status")
	require.True(t, ok)
	assert.Equal(t, int64(models.CollectStatusRunning), status)
	assert.Equal(t, int32(1), state.commits.Load())
	require.NoError(t, state.verifyComplete())
}

func TestClaimNextEmptyQueue(t *testing.T) {
	db, state := newScriptedGormDB(t,
		expectQuery("FROM `bb_collect_task` WHERE .* FOR UPDATE", taskColumns),
	)

	task, err := NewCollectTaskService(db).ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
	require.NoError(t, state.verifyComplete())
}

func TestClaimNextGivesUpAfterRepeatedLostRaces(t *testing.T) {
	var steps []*queryStep
	for i := 0; i < taskClaimAttempts; i++ {
		steps = append(steps,
			expectQuery("FROM `bb_collect_task` WHERE .* FOR UPDATE", taskColumns, pendingTaskRow(7, 5, 2, 1)),
			expectExec("UPDATE `bb_collect_task` SET", 0),
		)
	}
	db, state := newScriptedGormDB(t, steps...)

	task, err := NewCollectTaskService(db).ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Equal(t, int32(taskClaimAttempts), state.rollbacks.Load())
	require.NoError(t, state.verifyComplete())
}

func TestClaimNextRetriesDeadlock(t *testing.T) {
	deadlock := expectQuery("FROM `bb_collect_task` WHERE .* FOR UPDATE", taskColumns)
	deadlock.err = &mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	db, state := newScriptedGormDB(t,
		deadlock,
		expectQuery("FROM `bb_collect_task` WHERE .* FOR UPDATE", taskColumns, pendingTaskRow(8, 5, 3, 1)),
		expectExec("UPDATE `bb_collect_task` SET", 1),
	)

	task, err := NewCollectTaskService(db).ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, uint(8), task.ID)
	require.NoError(t, state.verifyComplete())
}

func TestCompleteIgnoresTerminalTask(t *testing.T) {
	db, state := newScriptedGormDB(t,
		expectExec("UPDATE `bb_collect_task` SET .* WHERE id = \\? AND run_id = \\? AND status IN \\(\\?,\\?\\)", 0),
	)

	changed, err := NewCollectTaskService(db).Complete(context.Background(), 5, 7, models.CollectStatusDone, "")
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, state.verifyComplete())
}

func TestCompleteRejectsNonTerminalStatus(t *testing.T) {
	db, _ := newScriptedGormDB(t)
	_, err := NewCollectTaskService(db).Complete(context.Background(), 5, 7, models.CollectStatusRunning, "")
	assert.ErrorIs(t, err, ErrInvalidTaskStatus)
}

func TestReportProgressClampsValues(t *testing.T) {
	update, seen := expectExec("UPDATE `bb_collect_task` SET .* WHERE id = \\? AND run_id = \\?", 1).capture()
	db, state := newScriptedGormDB(t, update)

	err := NewCollectTaskService(db).ReportProgress(context.Background(), 5, 7, TaskProgress{
		CurrentPage: intPtr(0),
		ErrorCount:  intPtr(-3),
		TotalPages:  intPtr(12),
	})
	require.NoError(t, err)

	page, _ := seen.assigned("current_page")
	assert.Equal(t, int64(1), page)
	errs, _ := seen.assigned("error_count")
	assert.Equal(t, int64(0), errs)
	total, _ := seen.assigned("total_pages")
	assert.Equal(t, int64(12), total)
	assert.Equal(t, []driver.Value{int64(7), int64(5)}, seen.args[len(seen.args)-2:])
	require.NoError(t, state.verifyComplete())
}

func TestReportProgressWithoutValuesSkipsWrite(t *testing.T) {
	db, _ := newScriptedGormDB(t)
	require.NoError(t, NewCollectTaskService(db).ReportProgress(context.Background(), 5, 7, TaskProgress{}))
}

func TestRecordCollectedItemSkipsAnonymousItems(t *testing.T) {
	db, state := newScriptedGormDB(t,
		expectInsert("INSERT INTO `bb_collect_record` .* ON DUPLICATE KEY UPDATE", 1),
	)
	tx := db.WithContext(context.Background())

	require.NoError(t, recordCollectedItem(tx, RecordInput{SourceID: 0, RemoteID: "10"}))
	require.NoError(t, recordCollectedItem(tx, RecordInput{SourceID: 2, RemoteID: "  "}))
	require.NoError(t, recordCollectedItem(tx, RecordInput{TaskID: 7, SourceID: 2, RemoteID: " 10 ", LocalID: 40, IsNew: true}))
	require.NoError(t, state.verifyComplete())
}

func TestRecordExists(t *testing.T) {
	db, state := newScriptedGormDB(t,
		expectQuery("SELECT count\\(\\*\\) FROM `bb_collect_record` WHERE source_id = \\? AND remote_id = \\?",
			[]string{"count(*)"}, []driver.Value{int64(1)}),
	)
	svc := NewCollectTaskService(db)

	found, err := svc.RecordExists(context.Background(), 2, " 10 ")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = svc.RecordExists(context.Background(), 0, "10")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, state.verifyComplete())
}

func TestUniqueIDsDropsZeroAndDuplicates(t *testing.T) {
	assert.Equal(t, []uint{4, 2}, uniqueIDs([]uint{4, 0, 2, 4}))
	assert.Empty(t, uniqueIDs(nil))
}

func TestIsLockContention(t *testing.T) {
	assert.True(t, isLockContention(&mysqldriver.MySQLError{Number: 1205}))
	assert.False(t, isLockContention(&mysqldriver.MySQLError{Number: 1062}))
	assert.False(t, isLockContention(errClaimConflict))
}
