package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"vodcms-collect-api/controllers"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSetupRoutesGuardsAndFallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("JWT_SECRET", "test-secret")
	r := gin.New()
	SetupRoutes(r, &controllers.CollectHandler{}, "worker-token")

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodPost, "/collector/queue/pull", http.StatusUnauthorized},
		{http.MethodGet, "/collector/queue/task-stats/1", http.StatusUnauthorized},
		{http.MethodGet, "/collector/queue/records?source_id=1&remote_id=2", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/admin/collect/jobs", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.want, w.Code, tc.path)
	}
}
