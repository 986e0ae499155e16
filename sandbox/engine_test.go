package sandbox

import (
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/scriptbox/config"
)

func testSandboxConfig() *config.SandboxConfig {
	return &config.SandboxConfig{
		AllowedImports:    []string{"log", "text", "clock", "encoding"},
		MaxCodeBytes:      64 * 1024,
		MaxASTNodes:       50000,
		MaxCPUSeconds:     5,
		MaxMemoryBytes:    1 << 30,
		MaxOutputBytes:    1024,
		MaxConcurrent:     2,
		MaxProcesses:      512,
		DefaultTimeoutSec: 5,
		MaxTimeoutSec:     10,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(testSandboxConfig())
	require.NoError(t, err)
	return engine
}

func TestRunSimpleExpression(t *testing.T) {
	engine := newTestEngine(t)

	res := engine.Run(ExecutionRequest{Code: "result = 2 + 2", TimeoutSec: 5})

	require.True(t, res.Success, "error: %+v", res.Error)
	assert.Nil(t, res.Error)
	assert.EqualValues(t, 4, res.ReturnValue)
	assert.False(t, res.ReturnValueTruncated)
	assert.GreaterOrEqual(t, res.ExecutionTimeMS, int64(0))
	assert.Greater(t, res.MemoryUsedMB, 0.0)
}

func TestRunInjectsContext(t *testing.T) {
	engine := newTestEngine(t)

	res := engine.Run(ExecutionRequest{
		Code: "greeting + ', ' + who",
		Context: map[string]any{
			"greeting": "hello",
			"who":      "world",
		},
		TimeoutSec: 5,
	})

	require.True(t, res.Success)
	assert.Equal(t, "hello, world", res.ReturnValue)
}

func TestRunNoStateAcrossExecutions(t *testing.T) {
	engine := newTestEngine(t)

	first := engine.Run(ExecutionRequest{
		Code:       "leak = 'set-in-run-1'; leak",
		TimeoutSec: 5,
	})
	require.True(t, first.Success)

	// The same code without the assignment must not see run 1's value.
	second := engine.Run(ExecutionRequest{
		Code:       "typeof leak",
		TimeoutSec: 5,
	})
	require.True(t, second.Success)
	assert.Equal(t, "undefined", second.ReturnValue)
}

func TestRunBoundsStdout(t *testing.T) {
	engine := newTestEngine(t)

	res := engine.Run(ExecutionRequest{
		Code:           "var s = ''; for (var i = 0; i < 20; i++) { s += 'xxxxxxxxxx'; } for (var j = 0; j < 1000; j++) { print(s); }",
		TimeoutSec:     5,
		MaxOutputBytes: 1024,
	})

	require.True(t, res.Success)
	assert.LessOrEqual(t, len(res.Stdout), 1024)
	assert.True(t, res.StdoutTruncated)
}

func TestRunRuntimeError(t *testing.T) {
	engine := newTestEngine(t)

	res := engine.Run(ExecutionRequest{Code: "nope()", TimeoutSec: 5})

	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrKindRuntime, res.Error.Kind)
	assert.NotContains(t, res.Error.Message, "/", "message must not leak host paths")
}

func TestRunReservedAccessFails(t *testing.T) {
	engine := newTestEngine(t)

	// The static validator catches this pattern too; here the script builds
	// the name at runtime so only the guard can stop it.
	res := engine.Run(ExecutionRequest{
		Code:       `var m = require("log"); var k = "__pro" + "to__"; m[k]`,
		TimeoutSec: 5,
	})

	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrKindSecurity, res.Error.Kind)
}

func TestRunImportReCheckedAtRuntime(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("DisallowedModule", func(t *testing.T) {
		// Dynamic construction slips past static require() analysis of a
		// hypothetical bypass; the engine must still reject it.
		res := engine.Run(ExecutionRequest{
			Code:       `require("o" + "s")`,
			TimeoutSec: 5,
		})
		require.False(t, res.Success)
		require.NotNil(t, res.Error)
		assert.Equal(t, ErrKindSecurity, res.Error.Kind)
		assert.Contains(t, res.Error.Message, `"os"`)
	})

	t.Run("ConfigNarrowsBuiltins", func(t *testing.T) {
		cfg := testSandboxConfig()
		cfg.AllowedImports = []string{"text"}
		narrow, err := NewEngine(cfg)
		require.NoError(t, err)

		res := narrow.Run(ExecutionRequest{Code: `require("log")`, TimeoutSec: 5})
		require.False(t, res.Success)
		assert.Equal(t, ErrKindSecurity, res.Error.Kind)
	})

	t.Run("AllowedModule", func(t *testing.T) {
		res := engine.Run(ExecutionRequest{
			Code:       `var text = require("text"); text.upper("abc")`,
			TimeoutSec: 5,
		})
		require.True(t, res.Success, "error: %+v", res.Error)
		assert.Equal(t, "ABC", res.ReturnValue)
	})
}

func TestRunDynamicCodeEntryPointsRemoved(t *testing.T) {
	engine := newTestEngine(t)

	res := engine.Run(ExecutionRequest{Code: `eval("1+1")`, TimeoutSec: 5})

	require.False(t, res.Success)
	assert.Equal(t, ErrKindRuntime, res.Error.Kind)
}

func TestRunInterruptsSpinningScript(t *testing.T) {
	if testing.Short() {
		t.Skip("burns a full second of wall clock")
	}
	engine := newTestEngine(t)

	start := time.Now()
	res := engine.Run(ExecutionRequest{Code: "for (;;) {}", TimeoutSec: 1})
	elapsed := time.Since(start)

	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrKindTimeout, res.Error.Kind)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestRunBoundsReturnValue(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("OversizedValue", func(t *testing.T) {
		res := engine.Run(ExecutionRequest{
			Code:           "var s = ''; for (var i = 0; i < 500; i++) { s += 'aaaaaaaaaa'; } s",
			TimeoutSec:     5,
			MaxOutputBytes: 1024,
		})
		require.True(t, res.Success, "bounding is a degraded success, not a failure")
		assert.Equal(t, TruncationMarker, res.ReturnValue)
		assert.True(t, res.ReturnValueTruncated)
	})

	t.Run("UnrepresentableValue", func(t *testing.T) {
		res := engine.Run(ExecutionRequest{
			Code:       "(function f() { return f; })()",
			TimeoutSec: 5,
		})
		require.True(t, res.Success)
		assert.Equal(t, TruncationMarker, res.ReturnValue)
		assert.True(t, res.ReturnValueTruncated)
	})

	t.Run("UndefinedBecomesNull", func(t *testing.T) {
		res := engine.Run(ExecutionRequest{Code: "var x = 1;", TimeoutSec: 5})
		require.True(t, res.Success)
		assert.Nil(t, res.ReturnValue)
		assert.False(t, res.ReturnValueTruncated)
	})
}

// guardlessModule deliberately returns a nil guard.
type guardlessModule struct{}

func (guardlessModule) Name() string       { return "broken" }
func (guardlessModule) Guard() AccessGuard { return nil }

func (guardlessModule) Bind(*goja.Runtime, *Env) (goja.Value, error) {
	return goja.Undefined(), nil
}

func TestNewEngineRejectsGuardlessModule(t *testing.T) {
	_, err := newEngineWithModules(testSandboxConfig(), []Module{guardlessModule{}})

	require.Error(t, err, "a missing guard must be a hard startup error, not a silent fallback")
	assert.Contains(t, err.Error(), `"broken"`)
}

func TestRunSurvivesSyntaxError(t *testing.T) {
	engine := newTestEngine(t)

	res := engine.Run(ExecutionRequest{Code: "function (", TimeoutSec: 5})

	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrKindRuntime, res.Error.Kind)
	assert.False(t, strings.Contains(res.Error.Message, "\n"))
}
