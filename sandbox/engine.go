package sandbox

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/dkoval/scriptbox/config"
)

const (
	// maxCallStackSize bounds script recursion depth inside the VM.
	maxCallStackSize = 2048

	// interruptDeadline is the value goja reports when the in-VM timer fires.
	interruptDeadline = "deadline exceeded"
)

// Engine executes one validated submission at a time inside a fresh goja VM.
// Construction verifies that every registered host module carries an access
// guard; an absent guard would silently mean unrestricted access, so it is a
// hard startup error instead.
type Engine struct {
	cfg     *config.SandboxConfig
	modules map[string]Module
}

// NewEngine builds an engine for the given sandbox configuration.
func NewEngine(cfg *config.SandboxConfig) (*Engine, error) {
	return newEngineWithModules(cfg, builtinModules())
}

func newEngineWithModules(cfg *config.SandboxConfig, registry []Module) (*Engine, error) {
	modules := make(map[string]Module)
	for _, m := range registry {
		if m.Guard() == nil {
			return nil, fmt.Errorf("host module %q has no access guard; refusing to start", m.Name())
		}
		modules[m.Name()] = m
	}
	return &Engine{cfg: cfg, modules: modules}, nil
}

// Run executes the request to completion or failure and always returns a
// fully-populated result. It never lets a fault escape as a panic.
func (e *Engine) Run(req ExecutionRequest) (result ExecutionResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = Failure(ErrKindInternal, "sandbox engine fault", elapsedMS(start))
		}
	}()

	outputCap := req.MaxOutputBytes
	if outputCap <= 0 || outputCap > e.cfg.MaxOutputBytes {
		outputCap = e.cfg.MaxOutputBytes
	}
	env := &Env{
		Stdout: NewBoundedBuffer(outputCap),
		Stderr: NewBoundedBuffer(outputCap),
		Now:    time.Now,
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)

	if err := e.setupGlobals(vm, env, req.Context); err != nil {
		return Failure(ErrKindInternal, "sandbox environment setup failed", elapsedMS(start))
	}

	// In-VM backstop for the wall clock. The coordinator enforces its own
	// deadline on the whole process; this one just stops a spinning script
	// from holding the interpreter once the budget is gone.
	timeout := time.Duration(req.TimeoutSec) * time.Second
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() { vm.Interrupt(interruptDeadline) })
		defer timer.Stop()
	}

	value, err := vm.RunString(req.Code)
	elapsed := elapsedMS(start)

	if err != nil {
		res := e.classifyRunError(err, elapsed)
		res.Stdout = env.Stdout.String()
		res.StdoutTruncated = env.Stdout.Truncated()
		res.Stderr = env.Stderr.String()
		res.StderrTruncated = env.Stderr.Truncated()
		res.MemoryUsedMB = heapUsedMB()
		return res
	}

	returnValue, truncated := boundReturnValue(value, outputCap)
	return ExecutionResult{
		Success:              true,
		ReturnValue:          returnValue,
		ReturnValueTruncated: truncated,
		Stdout:               env.Stdout.String(),
		StdoutTruncated:      env.Stdout.Truncated(),
		Stderr:               env.Stderr.String(),
		StderrTruncated:      env.Stderr.Truncated(),
		Error:                nil,
		ExecutionTimeMS:      elapsed,
		MemoryUsedMB:         heapUsedMB(),
	}
}

// setupGlobals prepares the allow-list environment: strips the dynamic code
// entry points, installs bounded output and require, then injects sanitized
// context as plain bindings. Context never touches the objects that hold the
// guard machinery.
func (e *Engine) setupGlobals(vm *goja.Runtime, env *Env, context map[string]any) error {
	global := vm.GlobalObject()
	for _, name := range []string{"eval", "Function"} {
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("removing global %q: %w", name, err)
		}
	}

	printFn := func(call goja.FunctionCall) goja.Value {
		env.Stdout.WriteString(formatArgs(call.Arguments) + "\n")
		return goja.Undefined()
	}
	errFn := func(call goja.FunctionCall) goja.Value {
		env.Stderr.WriteString(formatArgs(call.Arguments) + "\n")
		return goja.Undefined()
	}
	if err := vm.Set("print", printFn); err != nil {
		return err
	}

	console := vm.NewObject()
	for _, name := range []string{"log", "info", "debug"} {
		if err := console.Set(name, printFn); err != nil {
			return err
		}
	}
	for _, name := range []string{"warn", "error"} {
		if err := console.Set(name, errFn); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	if err := vm.Set("require", e.requireFunc(vm, env)); err != nil {
		return err
	}

	// Context was sanitized before it crossed the process boundary, but the
	// worker re-checks: defense in depth against a confused coordinator.
	if err := SanitizeContext(context); err != nil {
		return err
	}
	for key, value := range context {
		if err := vm.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// requireFunc re-enforces the import allow-list at execution time,
// independent of the static validator: a dynamically constructed import that
// slipped past parsing still gets rejected here.
func (e *Engine) requireFunc(vm *goja.Runtime, env *Env) func(goja.FunctionCall) goja.Value {
	cache := make(map[string]goja.Value)

	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()

		if !e.cfg.ImportAllowed(name) {
			throwSecurity(vm, "import of %q not allowed", name)
		}
		module, ok := e.modules[name]
		if !ok {
			throwSecurity(vm, "import of %q not allowed", name)
		}

		if cached, ok := cache[name]; ok {
			return cached
		}
		bound, err := module.Bind(vm, env)
		if err != nil {
			panic(vm.NewTypeError("module %q failed to load", name))
		}
		cache[name] = bound
		return bound
	}
}

// classifyRunError maps a goja error onto the result taxonomy with a
// sanitized message: no host paths, no library internals.
func (e *Engine) classifyRunError(err error, elapsed int64) ExecutionResult {
	switch gojaErr := err.(type) {
	case *goja.InterruptedError:
		return Failure(ErrKindTimeout, "execution deadline exceeded", elapsed)
	case *goja.StackOverflowError:
		return Failure(ErrKindRuntime, "script exceeded maximum call depth", elapsed)
	case *goja.Exception:
		message := sanitizeMessage(gojaErr.Value().String())
		if strings.Contains(message, securityPrefix) {
			return Failure(ErrKindSecurity, message, elapsed)
		}
		return Failure(ErrKindRuntime, message, elapsed)
	default:
		// Syntax errors normally die in the validator; a worker still has to
		// cope with one arriving on its own.
		return Failure(ErrKindRuntime, sanitizeMessage(err.Error()), elapsed)
	}
}

// sanitizeMessage keeps only the first line of an error message, dropping
// stack traces before they reach the caller.
func sanitizeMessage(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}
	const maxLen = 512
	if len(message) > maxLen {
		message = message[:maxLen]
	}
	return message
}

// boundReturnValue confirms the completion value is representable on the
// wire within the output budget. Anything else becomes the truncation
// marker: a degraded success rather than a failed execution.
func boundReturnValue(value goja.Value, outputCap int) (any, bool) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, false
	}

	exported := value.Export()
	raw, err := json.Marshal(exported)
	if err != nil || len(raw) > outputCap {
		return TruncationMarker, true
	}

	// Round-trip through JSON so the worker boundary only ever carries
	// plain data, never live VM values.
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return TruncationMarker, true
	}
	return plain, false
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

func heapUsedMB() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.HeapAlloc) / (1024 * 1024)
}
