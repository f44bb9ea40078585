package config

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogging(t *testing.T) {
	t.Helper()
	flags := log.Flags()
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
		LogWriter = os.Stdout
	})
}

func TestLogFilePath(t *testing.T) {
	t.Setenv("COLLECT_LOG_FILE", "")
	t.Setenv("LOG_DIR", "/var/log/collect")
	assert.Equal(t, filepath.Join("/var/log/collect", "collect-api.log"), LogFilePath())

	t.Setenv("COLLECT_LOG_FILE", " /tmp/api.log ")
	assert.Equal(t, "/tmp/api.log", LogFilePath())
}

func TestInitLoggingWritesToFile(t *testing.T) {
	restoreLogging(t)
	path := filepath.Join(t.TempDir(), "nested", "api.log")
	t.Setenv("COLLECT_LOG_FILE", path)

	f, _ := InitLogging()
	require.NotNil(t, f)
	log.Print("run 5 reaped")
	require.NoError(t, f.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "run 5 reaped")
}

func TestInitLoggingFallsBackToStdout(t *testing.T) {
	restoreLogging(t)
	dir := t.TempDir()
	t.Setenv("COLLECT_LOG_FILE", dir)

	f, w := InitLogging()
	assert.Nil(t, f)
	assert.Equal(t, os.Stdout, w)
}
