// Package executor runs script text under per-execution isolated
// runtimes with live cancellation and incremental result capture.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metorial/scriptforge/internal/analyzer"
	"github.com/metorial/scriptforge/internal/models"
	"github.com/metorial/scriptforge/internal/notify"
	"github.com/metorial/scriptforge/internal/store"
)

const defaultMaxConcurrent = 8

type Engine struct {
	store    *store.Store
	analyzer analyzer.Analyzer
	sink     notify.Sink
	runtime  Runtime
	hostname string

	sem chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(st *store.Store, az analyzer.Analyzer, sink notify.Sink, rt Runtime, maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    st,
		analyzer: az,
		sink:     sink,
		runtime:  rt,
		hostname: hostname,
		sem:      make(chan struct{}, maxConcurrent),
		running:  make(map[string]context.CancelFunc),
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// Submit enqueues a run and returns its id without blocking. A worker
// goroutine owns the execution and is the sole writer of its terminal
// state.
func (e *Engine) Submit(scriptText string, scriptID *int64, scriptName string, params map[string]string) (string, error) {
	if scriptText == "" {
		return "", errors.New("script text is required")
	}

	paramsJSON := ""
	if len(params) > 0 {
		data, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("encode parameters: %w", err)
		}
		paramsJSON = string(data)
	}

	rec := &models.Execution{
		ID:             uuid.New().String(),
		ScriptID:       scriptID,
		ScriptName:     scriptName,
		Status:         models.ExecutionPending,
		Parameters:     paramsJSON,
		Hostname:       e.hostname,
		RuntimeVersion: e.runtime.Version,
		StartedAt:      time.Now(),
	}
	if err := e.store.CreateExecution(rec); err != nil {
		return "", fmt.Errorf("create execution: %w", err)
	}

	e.wg.Add(1)
	go e.run(rec, scriptText, params)

	return rec.ID, nil
}

func (e *Engine) run(execRec *models.Execution, scriptText string, params map[string]string) {
	defer e.wg.Done()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-e.baseCtx.Done():
		e.finish(execRec, models.ExecutionCancelled, nil, "", "", "executor shutting down", 0, scriptText)
		return
	}

	runCtx, cancel := context.WithCancel(e.baseCtx)
	defer cancel()

	cmd, cleanup, err := e.runtime.buildCommand(runCtx, execRec.ID, scriptText, params)
	if err != nil {
		e.finish(execRec, models.ExecutionFailed, nil, "", "", err.Error(), 0, scriptText)
		return
	}
	defer cleanup()

	var stdout, stderr captureBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		e.finish(execRec, models.ExecutionFailed, nil, "", "", fmt.Sprintf("start runtime: %v", err), 0, scriptText)
		return
	}

	// The registry entry is the only cancellation path for a running
	// execution; it is removed on every exit below.
	e.mu.Lock()
	e.running[execRec.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, execRec.ID)
		e.mu.Unlock()
	}()

	execRec.Status = models.ExecutionRunning
	if err := e.store.SetExecutionStatus(execRec.ID, models.ExecutionRunning); err != nil {
		log.Printf("Error marking execution %s running: %v", execRec.ID, err)
	}
	e.sink.ExecutionStatusChanged(execRec)

	var sampler memorySampler
	go sampler.watch(runCtx, int32(cmd.Process.Pid))

	waitErr := cmd.Wait()
	duration := time.Since(started)

	status := models.ExecutionSucceeded
	errMsg := ""
	var exitCode *int

	switch {
	case runCtx.Err() != nil:
		status = models.ExecutionCancelled
		errMsg = "execution cancelled"
	case waitErr == nil:
		code := 0
		exitCode = &code
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			exitCode = &code
			status = models.ExecutionFailed
			if e.runtime.Constrained && code == guardExit {
				errMsg = "constrained language mode could not be enforced"
			} else {
				errMsg = fmt.Sprintf("script exited with code %d", code)
			}
		} else {
			status = models.ExecutionFailed
			errMsg = fmt.Sprintf("wait for runtime: %v", waitErr)
		}
	}

	execRec.PeakMemory = sampler.peakBytes()
	execRec.DurationMS = duration.Milliseconds()
	e.finish(execRec, status, exitCode, stdout.String(), stderr.String(), errMsg, duration, scriptText)
}

// finish writes the terminal record and emits completion events. Output
// captured before a cancellation is preserved.
func (e *Engine) finish(execRec *models.Execution, status models.ExecutionStatus, exitCode *int, stdout, stderr, errMsg string, duration time.Duration, scriptText string) {
	now := time.Now()
	execRec.Status = status
	execRec.ExitCode = exitCode
	execRec.Stdout = stdout
	execRec.Stderr = stderr
	execRec.Error = errMsg
	execRec.CompletedAt = &now
	if execRec.DurationMS == 0 {
		execRec.DurationMS = duration.Milliseconds()
	}
	execRec.CommandCount = commandCount(scriptText)

	if err := e.store.FinalizeExecution(execRec); err != nil {
		log.Printf("Error finalizing execution %s: %v", execRec.ID, err)
	}

	e.sink.ExecutionStatusChanged(execRec)
	e.sink.ExecutionCompleted(execRec)
	e.sink.RecordMetric("execution_duration", float64(execRec.DurationMS), "executor", "ms")
	if execRec.PeakMemory > 0 {
		e.sink.RecordMetric("execution_peak_memory", float64(execRec.PeakMemory), "executor", "bytes")
	}
}

func (e *Engine) GetStatus(id string) (*models.Execution, error) {
	return e.store.GetExecution(id)
}

// Cancel signals the running execution's handle. Returns false when the
// id is unknown or already terminal.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.running[id]
	if ok {
		cancel()
	}
	return ok
}

// ListRunning returns the executions currently in the live registry.
func (e *Engine) ListRunning() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	return ids
}

// Metrics is the best-effort observability blob for one execution.
type Metrics struct {
	DurationMS   int64 `json:"duration_ms"`
	PeakMemory   int64 `json:"peak_memory_bytes"`
	CommandCount int   `json:"command_count"`
}

func (e *Engine) GetMetrics(id string) (*Metrics, error) {
	execRec, err := e.store.GetExecution(id)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		DurationMS:   execRec.DurationMS,
		PeakMemory:   execRec.PeakMemory,
		CommandCount: execRec.CommandCount,
	}, nil
}

// Close cancels all running executions and waits for their workers.
func (e *Engine) Close() {
	e.stop()
	e.wg.Wait()
}
