package controllers

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"vodcms-collect-api/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newValidationRouter wires handlers whose services are never reached, so no
// database is needed.
func newValidationRouter() *gin.Engine {
	h := &CollectHandler{
		Runs:     services.NewCollectRunService(nil),
		Settings: services.NewSettingsService(nil),
		Vods:     services.NewReceiveVodService(nil, nil, nil, ""),
		Articles: services.NewReceiveArticleService(nil, nil, nil, ""),
	}
	r := gin.New()
	r.POST("/report", h.QueueReport)
	r.GET("/task-stats/:runId", h.QueueTaskStats)
	r.GET("/records", h.QueueRecordExists)
	r.POST("/receive/vod", h.ReceiveVod)
	r.POST("/receive/art", h.ReceiveArticle)
	r.PUT("/settings", h.SaveCollectSettings)
	return r
}

// recordingConnector answers every query with an empty result and keeps what it saw.
type recordingConnector struct {
	mu      sync.Mutex
	queries []string
	args    [][]driver.Value
}

func (c *recordingConnector) Connect(context.Context) (driver.Conn, error) {
	return &recordingConn{c}, nil
}

func (c *recordingConnector) Driver() driver.Driver { return recordingDriver{c} }

type recordingDriver struct{ c *recordingConnector }

func (d recordingDriver) Open(string) (driver.Conn, error) { return &recordingConn{d.c}, nil }

type recordingConn struct{ c *recordingConnector }

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *recordingConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	values := make([]driver.Value, len(args))
	for i, a := range args {
		values[i] = a.Value
	}
	c.c.mu.Lock()
	c.c.queries = append(c.c.queries, query)
	c.c.args = append(c.c.args, values)
	c.c.mu.Unlock()
	return emptyRows{}, nil
}

type emptyRows struct{}

func (emptyRows) Columns() []string         { return []string{"id"} }
func (emptyRows) Close() error              { return nil }
func (emptyRows) Next([]driver.Value) error { return io.EOF }

func newRecordingDB(t *testing.T) (*gorm.DB, *recordingConnector) {
	t.Helper()
	conn := &recordingConnector{}
	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sql.OpenDB(conn),
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true, Logger: logger.Discard})
	require.NoError(t, err)
	return db, conn
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestQueueReportValidation(t *testing.T) {
	r := newValidationRouter()

	w := doJSON(r, http.MethodPost, "/report", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"ok":false,"message":"invalid request body"}`, w.Body.String())

	w = doJSON(r, http.MethodPost, "/report", `{"id":0,"status":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), services.ErrInvalidRunID.Error())

	w = doJSON(r, http.MethodPost, "/report", `{"id":5,"status":9}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), services.ErrInvalidRunStatus.Error())
}

func TestQueueReportReadsRunIDFromIDField(t *testing.T) {
	db, conn := newRecordingDB(t)

	h := &CollectHandler{Runs: services.NewCollectRunService(db)}
	r := gin.New()
	r.POST("/report", h.QueueReport)

	w := doJSON(r, http.MethodPost, "/report", `{"id":5,"task_id":7,"status":2,"created_count":5}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), services.ErrCollectRunNotFound.Error())

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.queries, 1)
	assert.Contains(t, conn.queries[0], "FROM `bb_collect_run`")
	assert.Equal(t, []driver.Value{int64(5)}, conn.args[0])
}

func TestQueueTaskStatsRejectsBadRunID(t *testing.T) {
	r := newValidationRouter()
	for _, id := range []string{"abc", "0", "-1"} {
		w := doJSON(r, http.MethodGet, "/task-stats/"+id, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
		assert.JSONEq(t, `{"success":false,"error":"invalid runId"}`, w.Body.String())
	}
}

func TestQueueRecordExistsRequiresSourceAndRemoteID(t *testing.T) {
	r := newValidationRouter()
	for _, q := range []string{"", "?source_id=2", "?remote_id=10", "?source_id=x&remote_id=10"} {
		w := doJSON(r, http.MethodGet, "/records"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestQueueRecordExistsLooksUpLedger(t *testing.T) {
	db, conn := newRecordingDB(t)

	h := &CollectHandler{Runs: services.NewCollectRunService(db)}
	r := gin.New()
	r.GET("/records", h.QueueRecordExists)

	w := doJSON(r, http.MethodGet, "/records?source_id=2&remote_id=77", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"exists":false}`, w.Body.String())

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.queries, 1)
	assert.Contains(t, conn.queries[0], "FROM `bb_collect_record`")
	assert.Equal(t, []driver.Value{int64(2), "77"}, conn.args[0])
}

func TestReceiveRejectsMalformedBody(t *testing.T) {
	r := newValidationRouter()
	for _, path := range []string{"/receive/vod", "/receive/art"} {
		w := doJSON(r, http.MethodPost, path, `{"vod_name":`)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.JSONEq(t, `{"code":400,"msg":"invalid request body"}`, w.Body.String())
	}
}

func TestSaveCollectSettingsRejectsInvalidJSON(t *testing.T) {
	w := doJSON(newValidationRouter(), http.MethodPut, "/settings", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"invalid request body"}`, w.Body.String())
}

func TestCollectErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, collectErrorStatus(services.ErrCollectJobNotFound))
	assert.Equal(t, http.StatusConflict, collectErrorStatus(services.ErrRunnerBusy))
	assert.Equal(t, http.StatusBadRequest, collectErrorStatus(services.ErrUnknownSettingField))
	assert.Equal(t, http.StatusBadGateway, collectErrorStatus(services.ErrRemoteTypesFetch))
	assert.Equal(t, http.StatusInternalServerError, collectErrorStatus(assert.AnError))
}

func TestParseIDList(t *testing.T) {
	assert.Equal(t, []uint{3, 7}, parseIDList("3, x,0,7,"))
	assert.Nil(t, parseIDList(""))
}
