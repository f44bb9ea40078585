package monitor

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"os"

	"vodcms-collect-api/config"
	"vodcms-collect-api/services"

	"github.com/gin-gonic/gin"
)

// logTailBytes caps how much of the log file /logs returns.
const logTailBytes = 256 << 10

// QueueSummary reports run counts by status.
type QueueSummary interface {
	StatusCounts(ctx context.Context) ([]services.RunStatusCount, error)
}

func tokenOK(c *gin.Context, token string) bool {
	if token == "" || subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return false
	}
	return true
}

// RegisterMonitorPage mounts /monitor, /monitor/queue and /logs behind token.
// An empty token leaves every route answering 401.
func RegisterMonitorPage(router *gin.Engine, token string, queue QueueSummary) {
	router.GET("/monitor", func(c *gin.Context) {
		if !tokenOK(c, token) {
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(monitorPage))
	})

	router.GET("/monitor/queue", func(c *gin.Context) {
		if !tokenOK(c, token) {
			return
		}
		counts, err := queue.StatusCounts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to read queue"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": counts})
	})

	router.GET("/logs", func(c *gin.Context) {
		if !tokenOK(c, token) {
			return
		}
		logData, err := readTail(config.LogFilePath(), logTailBytes)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to read log"})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", logData)
	})
}

func readTail(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if offset := info.Size() - max; offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(f)
}

const monitorPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>Collect Monitor</title>
  <style>
    body { background: #0f0f0f; color: #e0e0e0; font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; padding: 20px; }
    .container { max-width: 1200px; margin: 0 auto; }
    .card { background: rgba(255,255,255,0.05); border: 1px solid rgba(255,255,255,0.1); border-radius: 16px; padding: 1.5rem; margin-bottom: 1.5rem; }
    table { border-collapse: collapse; }
    td, th { padding: 4px 16px 4px 0; text-align: left; }
    pre { max-height: 60vh; overflow: auto; white-space: pre-wrap; font-size: 12px; }
    button { background: #1f2937; color: #e5e7eb; border: 1px solid #334155; border-radius: 8px; padding: 6px 12px; cursor: pointer; }
  </style>
</head>
<body>
  <div class="container">
    <h1>Collect Monitor</h1>
    <div class="card"><div id="status">Checking...</div></div>
    <div class="card">
      <h3>Runs by status</h3>
      <table id="queue"><tr><td>Loading...</td></tr></table>
    </div>
    <div class="card">
      <button onclick="toggleLive()" id="toggleBtn">Pause Live Logs</button>
      <pre id="logs">Loading logs...</pre>
    </div>
  </div>
  <script>
    const token = new URLSearchParams(location.search).get('token') || '';
    const names = {0: 'pending', 1: 'running', 2: 'done', 3: 'failed'};
    let liveLogs = true;

    function fetchStatus() {
      fetch('/api/v1/health')
        .then(res => res.json())
        .then(data => { document.getElementById('status').textContent = 'Status: ' + (data.status === 'ok' ? 'Online' : 'Degraded'); })
        .catch(() => { document.getElementById('status').textContent = 'Status: Offline'; });
    }

    function fetchQueue() {
      fetch('/monitor/queue?token=' + encodeURIComponent(token))
        .then(res => res.json())
        .then(data => {
          const rows = (data.data || []).map(r => '<tr><th>' + (names[r.status] || r.status) + '</th><td>' + r.count + '</td></tr>');
          document.getElementById('queue').innerHTML = rows.join('') || '<tr><td>No runs</td></tr>';
        });
    }

    function fetchLogs() {
      if (!liveLogs) return;
      fetch('/logs?token=' + encodeURIComponent(token))
        .then(res => res.text())
        .then(data => {
          const el = document.getElementById('logs');
          el.textContent = data;
          el.scrollTop = el.scrollHeight;
        });
    }

    function toggleLive() {
      liveLogs = !liveLogs;
      document.getElementById('toggleBtn').textContent = liveLogs ? 'Pause Live Logs' : 'Resume Live Logs';
    }

    fetchStatus(); fetchQueue(); fetchLogs();
    setInterval(fetchStatus, 5000);
    setInterval(fetchQueue, 5000);
    setInterval(fetchLogs, 5000);
  </script>
</body>
</html>`
