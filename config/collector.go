package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// CollectorConfig groups the knobs of the scheduler, runner and worker protocol.
type CollectorConfig struct {
	// WorkerToken is the shared secret workers present on /collector/queue.
	WorkerToken string
	// InterfacePass is the fallback ingestion secret when the system setting is empty.
	InterfacePass string
	// PublicBaseURL is handed to workers as the push-back address.
	PublicBaseURL string
	// APIBaseURL is what the colocated runner passes to the collector binary.
	APIBaseURL string

	SchedulerInterval time.Duration
	RunnerInterval    time.Duration
	StaleSeconds      int
	ReapLimit         int

	RunnerEnabled bool
	CollectorDir  string
	CollectorBin  string
	RunnerTimeout time.Duration

	TypeBindTTL time.Duration
	RedisURL    string
}

// LoadCollector reads COLLECT*/COLLECTOR* variables with their defaults.
func LoadCollector() CollectorConfig {
	port := GetEnv("PORT", "8080")
	apiBase := strings.TrimRight(GetEnv("COLLECTOR_API_BASE", fmt.Sprintf("http://127.0.0.1:%s", port)), "/")
	dir := GetEnv("COLLECTOR_DIR", "collector")

	return CollectorConfig{
		WorkerToken:       GetEnv("COLLECTOR_WORKER_TOKEN", ""),
		InterfacePass:     GetEnv("INTERFACE_PASS", ""),
		PublicBaseURL:     strings.TrimRight(GetEnv("PUBLIC_BASE_URL", apiBase), "/"),
		APIBaseURL:        apiBase,
		SchedulerInterval: GetEnvAsSeconds("COLLECT_SCHEDULER_INTERVAL", 10*time.Second),
		RunnerInterval:    GetEnvAsSeconds("COLLECTOR_RUNNER_INTERVAL", 60*time.Second),
		StaleSeconds:      GetEnvAsInt("COLLECT_STALE_SECONDS", 600),
		ReapLimit:         GetEnvAsInt("COLLECT_REAP_LIMIT", 50),
		RunnerEnabled:     GetEnvAsBool("COLLECTOR_RUNNER_ENABLED", false),
		CollectorDir:      dir,
		CollectorBin:      GetEnv("COLLECTOR_BIN", filepath.Join(dir, "dist", "collector")),
		RunnerTimeout:     GetEnvAsSeconds("COLLECTOR_RUN_TIMEOUT", 30*time.Minute),
		TypeBindTTL:       GetEnvAsSeconds("COLLECT_TYPE_BIND_TTL", time.Hour),
		RedisURL:          GetEnv("REDIS_URL", ""),
	}
}
