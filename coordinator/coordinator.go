package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dkoval/scriptbox/config"
	"github.com/dkoval/scriptbox/sandbox"
	"github.com/dkoval/scriptbox/validator"
)

// killGracePeriod is how long a worker gets between SIGTERM and the
// unconditional SIGKILL once its deadline has passed.
const killGracePeriod = 500 * time.Millisecond

// workerStderrCap bounds how much worker diagnostic output is kept for
// logging when a worker fails.
const workerStderrCap = 8 * 1024

// Outcome pairs the terminal state a request reached with the result
// delivered to the caller. Validation carries the full diagnostics list when
// the request was rejected by the static gate.
type Outcome struct {
	State      State
	Result     sandbox.ExecutionResult
	Validation *validator.Result
}

// Coordinator owns authentication, the concurrency bound and worker
// lifecycle. It is safe for concurrent use; the only state shared across
// requests is the semaphore, the immutable configuration and the atomic
// metrics.
type Coordinator struct {
	cfg     *config.Config
	logger  *zap.Logger
	checker *validator.Validator
	secret  secretChecker
	metrics *Metrics

	sem        chan struct{}
	executable string
	initErr    error
}

// New builds a Coordinator and self-tests the worker subsystem. A failed
// self-test does not abort startup: the coordinator reports itself
// uninitialized so the health endpoint can expose the degradation.
func New(cfg *config.Config, logger *zap.Logger, checker *validator.Validator) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		logger:  logger,
		checker: checker,
		secret:  newSecretChecker(cfg.Sandbox.SharedSecret),
		metrics: &Metrics{},
		sem:     make(chan struct{}, cfg.Sandbox.MaxConcurrent),
	}

	exe, err := os.Executable()
	if err != nil {
		c.initErr = err
	} else {
		c.executable = exe
	}

	// Building an engine in-process exercises the guard verification path:
	// a host module without an access guard must surface at startup, never
	// at execution time.
	if c.initErr == nil {
		if _, err := sandbox.NewEngine(&cfg.Sandbox); err != nil {
			c.initErr = err
		}
	}

	if c.initErr != nil {
		logger.Error("sandbox subsystem failed to initialize", zap.Error(c.initErr))
	}
	return c
}

// Ready reports whether the worker subsystem initialized.
func (c *Coordinator) Ready() bool { return c.initErr == nil }

// Authenticate checks a caller-presented secret in constant time.
func (c *Coordinator) Authenticate(presented string) bool {
	return c.secret.check(presented)
}

// Validate runs only the static gate, without consuming a concurrency slot.
func (c *Coordinator) Validate(code string) validator.Result {
	return c.checker.Validate(code)
}

// Metrics returns a snapshot of the outcome counters.
func (c *Coordinator) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// Execute drives one request through the full pipeline: static validation,
// context sanitization, slot acquisition, worker spawn, deadline enforcement
// and outcome normalization. Every path returns a complete result.
func (c *Coordinator) Execute(ctx context.Context, req sandbox.ExecutionRequest) Outcome {
	c.metrics.total.Add(1)

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := c.logger.With(zap.String("execution_id", req.ID))

	if c.initErr != nil {
		return c.finish(log, Outcome{
			State:  StateInternalError,
			Result: sandbox.Failure(sandbox.ErrKindInternal, "sandbox subsystem unavailable", 0),
		})
	}

	// Static gate. Rejection here never spawns a process.
	if vres := c.checker.Validate(req.Code); !vres.Valid {
		messages := make([]string, len(vres.Errors))
		for i, v := range vres.Errors {
			messages[i] = v.String()
		}
		return c.finish(log, Outcome{
			State:      StateRejected,
			Result:     sandbox.Failure(sandbox.ErrKindValidation, strings.Join(messages, "; "), 0),
			Validation: &vres,
		})
	}

	if err := sandbox.SanitizeContext(req.Context); err != nil {
		vres := validator.Result{Valid: false, Errors: []validator.Violation{{Message: err.Error()}}}
		return c.finish(log, Outcome{
			State:      StateRejected,
			Result:     sandbox.Failure(sandbox.ErrKindValidation, err.Error(), 0),
			Validation: &vres,
		})
	}

	req.TimeoutSec = c.clampTimeout(req.TimeoutSec)

	// Concurrency slot, bounded wait. Beyond the queue window the caller
	// gets a distinct busy signal instead of queueing unbounded.
	release, ok := c.acquireSlot(ctx)
	if !ok {
		c.metrics.busy.Add(1)
		return c.finish(log, Outcome{
			State:  StateRejected,
			Result: sandbox.Failure(sandbox.ErrKindBusy, "all execution slots are busy", 0),
		})
	}
	defer release()

	c.metrics.running.Add(1)
	defer c.metrics.running.Add(-1)

	return c.finish(log, c.runWorker(ctx, log, req))
}

func (c *Coordinator) finish(log *zap.Logger, outcome Outcome) Outcome {
	c.metrics.observe(outcome.State)
	log.Info("execution finished",
		zap.String("state", string(outcome.State)),
		zap.Bool("success", outcome.Result.Success),
		zap.Int64("execution_time_ms", outcome.Result.ExecutionTimeMS),
	)
	return outcome
}

func (c *Coordinator) clampTimeout(timeoutSec int) int {
	if timeoutSec <= 0 {
		return c.cfg.Sandbox.DefaultTimeoutSec
	}
	if timeoutSec > c.cfg.Sandbox.MaxTimeoutSec {
		return c.cfg.Sandbox.MaxTimeoutSec
	}
	return timeoutSec
}

func (c *Coordinator) acquireSlot(ctx context.Context) (func(), bool) {
	select {
	case c.sem <- struct{}{}:
	default:
		timer := time.NewTimer(c.cfg.QueueWait())
		defer timer.Stop()
		select {
		case c.sem <- struct{}{}:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
	return func() { <-c.sem }, true
}

// runWorker spawns one isolated worker for the request and waits for it or
// for its deadline. Spawn semantics, not fork-and-continue: the child is a
// fresh invocation of this binary with an empty environment apart from the
// worker marker, so it inherits no open resources, secrets or loaded state.
func (c *Coordinator) runWorker(ctx context.Context, log *zap.Logger, req sandbox.ExecutionRequest) Outcome {
	payload, err := json.Marshal(sandbox.WorkerRequest{
		Request: req,
		Sandbox: c.cfg.Sandbox,
	})
	if err != nil {
		return internalOutcome(log, "encode worker request", err)
	}

	// Result pipe is bounded: the worker's own output bounding keeps result
	// JSON small, and a worker that misbehaves cannot balloon memory here.
	// The cap allows for worst-case JSON escaping, where a control character
	// in either captured stream inflates to six bytes on the wire.
	stdout := sandbox.NewBoundedBuffer(13*c.cfg.Sandbox.MaxOutputBytes + 64*1024)
	stderr := sandbox.NewBoundedBuffer(workerStderrCap)

	cmd := exec.Command(c.executable)
	cmd.Env = []string{sandbox.WorkerEnvKey + "=1"}
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setWorkerProcAttr(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return internalOutcome(log, "spawn worker", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := time.Duration(req.TimeoutSec) * time.Second
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case waitErr := <-done:
		return c.classifyExit(log, waitErr, stdout, stderr, elapsedMS(start))

	case <-deadline.C:
		// Independent wall-clock enforcement: the kernel CPU limit does not
		// bound code that sleeps or blocks. Partial output is discarded.
		c.killWorker(cmd, done)
		log.Warn("worker killed on wall-clock deadline", zap.Duration("timeout", timeout))
		return Outcome{
			State: StateTimedOut,
			Result: sandbox.Failure(sandbox.ErrKindTimeout,
				"execution exceeded its time limit", elapsedMS(start)),
		}

	case <-ctx.Done():
		c.killWorker(cmd, done)
		return Outcome{
			State: StateTimedOut,
			Result: sandbox.Failure(sandbox.ErrKindTimeout,
				"request cancelled before execution finished", elapsedMS(start)),
		}
	}
}

// killWorker terminates the worker's process group: SIGTERM first, SIGKILL
// after a short grace period if it has not exited.
func (c *Coordinator) killWorker(cmd *exec.Cmd, done <-chan error) {
	terminateWorker(cmd)
	select {
	case <-done:
	case <-time.After(killGracePeriod):
		killWorkerGroup(cmd)
		<-done
	}
}

// classifyExit converts a finished worker into an Outcome. Every exit shape
// is covered: clean result, in-script failure reported by the worker,
// kernel resource kill, or a crash that produced no result at all.
func (c *Coordinator) classifyExit(log *zap.Logger, waitErr error, stdout, stderr *sandbox.BoundedBuffer, elapsed int64) Outcome {
	if waitErr != nil {
		if sig, killed := exitSignal(waitErr); killed && isResourceSignal(sig) {
			log.Warn("worker killed by resource limit", zap.String("signal", sig))
			return Outcome{
				State: StateResourceKilled,
				Result: sandbox.Failure(sandbox.ErrKindResourceLimit,
					"execution exceeded a sandbox resource limit", elapsed),
			}
		}
		// An address-space kill is not a signal: the runtime aborts with a
		// plain exit status after a failed allocation, reporting the
		// condition only on stderr.
		if isMemoryExhaustion(stderr.String()) {
			log.Warn("worker died of memory exhaustion")
			return Outcome{
				State: StateResourceKilled,
				Result: sandbox.Failure(sandbox.ErrKindResourceLimit,
					"execution exceeded a sandbox resource limit", elapsed),
			}
		}
		log.Error("worker exited abnormally",
			zap.Error(waitErr),
			zap.String("worker_stderr", stderr.String()),
		)
		return Outcome{
			State: StateInternalError,
			Result: sandbox.Failure(sandbox.ErrKindInternal,
				"execution failed internally", elapsed),
		}
	}

	var result sandbox.ExecutionResult
	if err := json.Unmarshal(bytes.TrimSpace([]byte(stdout.String())), &result); err != nil {
		log.Error("worker produced no decodable result",
			zap.Error(err),
			zap.String("worker_stderr", stderr.String()),
		)
		return Outcome{
			State: StateInternalError,
			Result: sandbox.Failure(sandbox.ErrKindInternal,
				"execution failed internally", elapsed),
		}
	}

	// Wall-clock accounting happens here, where the whole process lifetime
	// is visible.
	result.ExecutionTimeMS = elapsed
	return Outcome{State: stateOf(result), Result: result}
}

func stateOf(result sandbox.ExecutionResult) State {
	if result.Success {
		return StateCompleted
	}
	if result.Error == nil {
		// A worker never reports failure without an error; treat the
		// inconsistency as plumbing trouble.
		return StateInternalError
	}
	switch result.Error.Kind {
	case sandbox.ErrKindTimeout:
		return StateTimedOut
	case sandbox.ErrKindResourceLimit:
		return StateResourceKilled
	case sandbox.ErrKindInternal:
		return StateInternalError
	default:
		return StateRuntimeFailed
	}
}

// memoryExhaustionMarkers are the stderr fragments the Go runtime emits when
// an allocation or reservation fails under RLIMIT_AS.
var memoryExhaustionMarkers = []string{
	"out of memory",
	"cannot allocate memory",
	"failed to reserve",
}

func isMemoryExhaustion(stderr string) bool {
	for _, marker := range memoryExhaustionMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func internalOutcome(log *zap.Logger, step string, err error) Outcome {
	log.Error("worker plumbing fault", zap.String("step", step), zap.Error(err))
	return Outcome{
		State:  StateInternalError,
		Result: sandbox.Failure(sandbox.ErrKindInternal, "execution failed internally", 0),
	}
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
