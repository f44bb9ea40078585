package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"vodcms-collect-api/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunnerStore struct {
	mu        sync.Mutex
	pending   bool
	pendingID uint
	reaps     int
	failed    map[uint]string
}

func (s *fakeRunnerStore) ReapStaleRuns(context.Context, int, int) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reaps++
	return nil, nil
}

func (s *fakeRunnerStore) HasPendingWork(context.Context) (bool, error) {
	return s.pending, nil
}

func (s *fakeRunnerStore) OldestPendingRunID(context.Context) (uint, error) {
	return s.pendingID, nil
}

func (s *fakeRunnerStore) FailRunIfPending(_ context.Context, runID uint, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[uint]string{}
	}
	s.failed[runID] = message
	return true, nil
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
	path := filepath.Join(t.TempDir(), "collector")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	buf := newTailBuffer(3)
	_, _ = buf.Write([]byte("one\ntwo\nth"))
	_, _ = buf.Write([]byte("ree\r\nfour\nfive"))

	assert.Equal(t, "three\nfour\nfive", buf.String())
	_, _ = buf.Write([]byte("\n"))
	assert.Equal(t, "three\nfour\nfive", buf.String())
}

func TestRunnerBlamesPendingRunOnNonZeroExit(t *testing.T) {
	bin := writeScript(t, `i=1
while [ $i -le 30 ]; do echo "line $i" >&2; i=$((i+1)); done
echo "partial progress"
exit 3
`)
	store := &fakeRunnerStore{pending: true, pendingID: 4}
	runner := NewCollectorRunner(store, config.CollectorConfig{CollectorBin: bin})

	err := runner.Tick(context.Background())
	var execErr *CollectorExecError
	require.ErrorAs(t, err, &execErr)
	require.NotNil(t, execErr.ExitCode)
	assert.Equal(t, 3, *execErr.ExitCode)
	assert.Equal(t, 1, store.reaps)

	msg := store.failed[4]
	assert.True(t, strings.HasPrefix(msg, "collector exit code=3"))
	assert.Contains(t, msg, "line 30")
	assert.Contains(t, msg, "line 11")
	assert.NotContains(t, msg, "line 10")
	assert.Contains(t, msg, "stdout:\npartial progress")
}

func TestRunnerPassesWorkerArguments(t *testing.T) {
	bin := writeScript(t, `echo "$@" > "$(dirname "$0")/args.txt"
`)
	store := &fakeRunnerStore{pending: true, pendingID: 4}
	runner := NewCollectorRunner(store, config.CollectorConfig{
		CollectorBin: bin,
		APIBaseURL:   "http://127.0.0.1:8080",
		WorkerToken:  "tok",
	})

	require.NoError(t, runner.RunOnce(context.Background()))
	raw, err := os.ReadFile(filepath.Join(filepath.Dir(bin), "args.txt"))
	require.NoError(t, err)
	args := string(raw)
	assert.Contains(t, args, "--api-base http://127.0.0.1:8080")
	assert.Contains(t, args, "--token tok")
	assert.Contains(t, args, "--worker-id runner-")
	assert.Contains(t, args, "--once")
	assert.Empty(t, store.failed)
}

func TestRunnerSkipsWhenNothingQueued(t *testing.T) {
	store := &fakeRunnerStore{}
	runner := NewCollectorRunner(store, config.CollectorConfig{CollectorBin: filepath.Join(t.TempDir(), "missing")})

	require.NoError(t, runner.Tick(context.Background()))
	assert.Equal(t, 1, store.reaps)
	assert.Empty(t, store.failed)
}

func TestRunnerMissingBinaryFailsPendingRun(t *testing.T) {
	store := &fakeRunnerStore{pending: true, pendingID: 9}
	runner := NewCollectorRunner(store, config.CollectorConfig{CollectorBin: filepath.Join(t.TempDir(), "missing")})

	err := runner.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, store.failed[9], "not found")
}

func TestRunnerMissingBinaryWithoutGoModule(t *testing.T) {
	dir := t.TempDir()
	store := &fakeRunnerStore{pendingID: 2}
	runner := NewCollectorRunner(store, config.CollectorConfig{CollectorDir: dir})

	err := runner.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a go module")
	assert.Contains(t, store.failed[2], "is not a go module")
}

func TestRunnerTimeout(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")
	store := &fakeRunnerStore{pendingID: 3}
	runner := NewCollectorRunner(store, config.CollectorConfig{CollectorBin: bin, RunnerTimeout: 100 * time.Millisecond})

	started := time.Now()
	err := runner.RunOnce(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(started), 4*time.Second)
	assert.Contains(t, store.failed[3], "timed out after 100ms")
}

func TestRunnerRejectsOverlappingInvocations(t *testing.T) {
	runner := NewCollectorRunner(&fakeRunnerStore{}, config.CollectorConfig{})
	runner.mu.Lock()
	defer runner.mu.Unlock()

	assert.ErrorIs(t, runner.RunOnce(context.Background()), ErrRunnerBusy)
	assert.ErrorIs(t, runner.Tick(context.Background()), ErrRunnerBusy)
}

func TestRunnerKickNeverBlocks(t *testing.T) {
	runner := NewCollectorRunner(&fakeRunnerStore{}, config.CollectorConfig{})
	done := make(chan struct{})
	go func() {
		runner.Kick()
		runner.Kick()
		runner.Kick()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Kick blocked")
	}
}

func TestRunnerStartStop(t *testing.T) {
	store := &fakeRunnerStore{}
	runner := NewCollectorRunner(store, config.CollectorConfig{RunnerInterval: time.Hour})
	runner.Start(context.Background())
	runner.Kick()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.reaps == 1
	}, 2*time.Second, 10*time.Millisecond)
	runner.Stop()
	runner.Stop()
}

func TestCollectorExecErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &CollectorExecError{Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "collector failed: boom", err.runMessage())
}
