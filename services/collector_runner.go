package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vodcms-collect-api/config"

	"github.com/google/uuid"
)

const (
	runnerTailLines      = 20
	runnerWaitDelay      = 10 * time.Second
	defaultRunnerTimeout = 30 * time.Minute
	defaultRunnerTick    = 60 * time.Second
)

var ErrRunnerBusy = errors.New("collector runner already running")

// CollectorExecError is a failed collector build or invocation.
type CollectorExecError struct {
	Err      error
	ExitCode *int
	Stdout   string
	Stderr   string
}

func (e *CollectorExecError) Error() string {
	if e == nil {
		return ""
	}
	if e.ExitCode != nil {
		return fmt.Sprintf("collector exit code=%d: %v", *e.ExitCode, e.Err)
	}
	return fmt.Sprintf("collector failed: %v", e.Err)
}

func (e *CollectorExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// runMessage is what gets stored on the run the invocation is blamed for.
func (e *CollectorExecError) runMessage() string {
	var b strings.Builder
	if e.ExitCode != nil {
		fmt.Fprintf(&b, "collector exit code=%d", *e.ExitCode)
	} else {
		fmt.Fprintf(&b, "collector failed: %v", e.Err)
	}
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		b.WriteString("\nstderr:\n" + tail)
	}
	if tail := strings.TrimSpace(e.Stdout); tail != "" {
		b.WriteString("\nstdout:\n" + tail)
	}
	return b.String()
}

// runnerStore is the part of the run store the runner drives.
type runnerStore interface {
	ReapStaleRuns(ctx context.Context, staleSeconds, limit int) ([]uint, error)
	HasPendingWork(ctx context.Context) (bool, error)
	OldestPendingRunID(ctx context.Context) (uint, error)
	FailRunIfPending(ctx context.Context, runID uint, message string) (bool, error)
}

// CollectorRunner spawns the colocated collector binary whenever work is queued.
type CollectorRunner struct {
	store runnerStore
	cfg   config.CollectorConfig

	mu     sync.Mutex
	kick   chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

func NewCollectorRunner(store runnerStore, cfg config.CollectorConfig) *CollectorRunner {
	if cfg.RunnerTimeout <= 0 {
		cfg.RunnerTimeout = defaultRunnerTimeout
	}
	if cfg.RunnerInterval <= 0 {
		cfg.RunnerInterval = defaultRunnerTick
	}
	if cfg.CollectorBin == "" {
		cfg.CollectorBin = filepath.Join(cfg.CollectorDir, "dist", "collector")
	}
	return &CollectorRunner{
		store: store,
		cfg:   cfg,
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// Start runs the runner loop until Stop or ctx is done.
func (r *CollectorRunner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.RunnerInterval)
		defer ticker.Stop()

		log.Printf("collector runner started (interval=%s bin=%s)", r.cfg.RunnerInterval, r.cfg.CollectorBin)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
			case <-r.kick:
			}
			if err := r.Tick(ctx); err != nil && !errors.Is(err, ErrRunnerBusy) {
				log.Printf("collector runner: %v", err)
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight invocation.
func (r *CollectorRunner) Stop() {
	r.closed.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Kick asks the loop to check for work now. It never blocks.
func (r *CollectorRunner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Tick reaps stale runs and invokes the collector once when work is waiting.
func (r *CollectorRunner) Tick(ctx context.Context) error {
	if !r.mu.TryLock() {
		return ErrRunnerBusy
	}
	defer r.mu.Unlock()

	if _, err := r.store.ReapStaleRuns(ctx, r.cfg.StaleSeconds, r.cfg.ReapLimit); err != nil {
		log.Printf("collector runner: reap failed: %v", err)
	}

	pending, err := r.store.HasPendingWork(ctx)
	if err != nil {
		return err
	}
	if !pending {
		return nil
	}
	return r.runOnce(ctx)
}

// RunOnce invokes the collector once regardless of queued work.
func (r *CollectorRunner) RunOnce(ctx context.Context) error {
	if !r.mu.TryLock() {
		return ErrRunnerBusy
	}
	defer r.mu.Unlock()
	return r.runOnce(ctx)
}

func (r *CollectorRunner) runOnce(ctx context.Context) error {
	pendingID, err := r.store.OldestPendingRunID(ctx)
	if err != nil {
		return err
	}

	bin, err := r.ensureBinary(ctx)
	if err != nil {
		r.blame(ctx, pendingID, err)
		return err
	}

	workerID := "runner-" + uuid.NewString()
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunnerTimeout)
	defer cancel()

	args := []string{
		"--api-base", r.cfg.APIBaseURL,
		"--token", r.cfg.WorkerToken,
		"--worker-id", workerID,
		"--once",
	}
	cmd := exec.CommandContext(runCtx, bin, args...)
	if dir := r.cfg.CollectorDir; dir != "" {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			cmd.Dir = dir
		}
	}
	stdout := newTailBuffer(runnerTailLines)
	stderr := newTailBuffer(runnerTailLines)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// children of the collector may keep the output pipes open after it is killed
	cmd.WaitDelay = runnerWaitDelay

	started := time.Now()
	log.Printf("collector runner: spawning %s worker=%s pending_run=%d", bin, workerID, pendingID)
	runErr := cmd.Run()
	if runErr == nil {
		log.Printf("collector runner: worker=%s finished in %s", workerID, time.Since(started).Round(time.Millisecond))
		return nil
	}

	execErr := &CollectorExecError{Err: runErr, Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		code := exitErr.ExitCode()
		execErr.ExitCode = &code
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		execErr.Err = fmt.Errorf("timed out after %s: %w", r.cfg.RunnerTimeout, runErr)
		execErr.ExitCode = nil
	}
	r.blame(ctx, pendingID, execErr)
	return execErr
}

// blame fails the run that was pending before the invocation, if nobody picked it up.
func (r *CollectorRunner) blame(ctx context.Context, runID uint, err error) {
	msg := err.Error()
	var execErr *CollectorExecError
	if errors.As(err, &execErr) {
		msg = execErr.runMessage()
	}
	log.Printf("collector runner: %s", msg)
	if runID == 0 {
		return
	}
	if _, failErr := r.store.FailRunIfPending(persistentContext(ctx), runID, msg); failErr != nil {
		log.Printf("collector runner: failed to mark run %d: %v", runID, failErr)
	}
}

// ensureBinary builds the collector from its source directory when the binary is missing.
func (r *CollectorRunner) ensureBinary(ctx context.Context) (string, error) {
	bin, err := filepath.Abs(r.cfg.CollectorBin)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(bin); err == nil && !info.IsDir() {
		return bin, nil
	}

	dir := r.cfg.CollectorDir
	if dir == "" {
		return "", &CollectorExecError{Err: fmt.Errorf("collector binary %s not found", bin)}
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err != nil {
		return "", &CollectorExecError{Err: fmt.Errorf("collector binary %s not found and %s is not a go module", bin, dir)}
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
		return "", err
	}

	buildCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, "go", "build", "-o", bin, "./cmd/collector")
	cmd.Dir = absDir
	cmd.Env = append(os.Environ(),
		"GOCACHE="+filepath.Join(absDir, ".cache", "go-build"),
		"GOPATH="+filepath.Join(absDir, ".cache", "gopath"),
	)
	out := newTailBuffer(runnerTailLines)
	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("collector runner: building %s in %s", bin, absDir)
	if err := cmd.Run(); err != nil {
		execErr := &CollectorExecError{Err: fmt.Errorf("collector build failed: %w", err), Stderr: out.String()}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			execErr.ExitCode = &code
		}
		return "", execErr
	}
	return bin, nil
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial bytes.Buffer
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rest := p
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			t.partial.Write(rest)
			break
		}
		t.partial.Write(rest[:i])
		t.push(strings.TrimRight(t.partial.String(), "\r"))
		t.partial.Reset()
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	t.lines = append(t.lines, line)
	if over := len(t.lines) - t.max; over > 0 {
		t.lines = append(t.lines[:0], t.lines[over:]...)
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := t.lines
	if t.partial.Len() > 0 {
		lines = append(append([]string{}, lines...), t.partial.String())
		if over := len(lines) - t.max; over > 0 {
			lines = lines[over:]
		}
	}
	return strings.Join(lines, "\n")
}
