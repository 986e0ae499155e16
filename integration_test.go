package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dkoval/scriptbox/config"
	"github.com/dkoval/scriptbox/coordinator"
	"github.com/dkoval/scriptbox/logger"
	"github.com/dkoval/scriptbox/mcpserver"
	"github.com/dkoval/scriptbox/sandbox"
	"github.com/dkoval/scriptbox/server"
	"github.com/dkoval/scriptbox/validator"
)

func TestMain(m *testing.M) {
	if sandbox.MaybeWorkerInit() {
		return
	}
	os.Exit(m.Run())
}

func integrationConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport:   "http",
			HTTPPort:    8080,
			QueueWaitMS: 100,
		},
		Sandbox: config.SandboxConfig{
			AllowedImports:    []string{"log", "text", "clock", "encoding"},
			MaxCodeBytes:      64 * 1024,
			MaxASTNodes:       50000,
			MaxCPUSeconds:     5,
			MaxMemoryBytes:    4 << 30,
			MaxOutputBytes:    4096,
			MaxConcurrent:     2,
			MaxProcesses:      512,
			DefaultTimeoutSec: 2,
			MaxTimeoutSec:     5,
			SharedSecret:      "integration-secret",
		},
		Logging: config.LoggingConfig{Mode: "development", Level: "debug"},
	}
}

// TestIntegrationConfigLoggerCoordinator wires the packages together the way
// main does and checks that each construction step accepts the others'
// output.
func TestIntegrationConfigLoggerCoordinator(t *testing.T) {
	cfg := integrationConfig()
	require.NoError(t, cfg.Validate())

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	require.NoError(t, err)
	require.NotNil(t, log)
	log.Info("integration test started")
	_ = log.Sync()

	coord := coordinator.New(cfg, zaptest.NewLogger(t), validator.New(&cfg.Sandbox))
	require.NotNil(t, coord)
	assert.True(t, coord.Ready())
	assert.True(t, coord.Authenticate("integration-secret"))

	httpSrv := server.New(cfg, zaptest.NewLogger(t), coord)
	require.NotNil(t, httpSrv)
	require.NotNil(t, httpSrv.Handler())

	mcpSrv, err := mcpserver.New(cfg, zaptest.NewLogger(t), coord)
	require.NoError(t, err)
	require.NotNil(t, mcpSrv)
}

// TestIntegrationExecuteOverHTTP drives a request through the whole stack:
// HTTP handler, coordinator, spawned worker, goja engine and back.
func TestIntegrationExecuteOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	cfg := integrationConfig()
	log := zaptest.NewLogger(t)
	coord := coordinator.New(cfg, log, validator.New(&cfg.Sandbox))
	httpSrv := server.New(cfg, log, coord)

	body := `{"code": "var text = require(\"text\"); text.upper(greeting)", "context": {"greeting": "hi"}}`
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body))
	req.Header.Set(server.SecretHeader, "integration-secret")
	rec := httptest.NewRecorder()
	httpSrv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"HI"`)
}

// TestIntegrationValidationShortCircuits confirms a rejected script never
// reaches a worker: the outcome arrives with the validation diagnostics and
// the coordinator's running gauge stays untouched.
func TestIntegrationValidationShortCircuits(t *testing.T) {
	cfg := integrationConfig()
	coord := coordinator.New(cfg, zaptest.NewLogger(t), validator.New(&cfg.Sandbox))

	outcome := coord.Execute(context.Background(), sandbox.ExecutionRequest{
		Code: `var cp = require("child_process"); cp.exec("id")`,
	})

	assert.Equal(t, coordinator.StateRejected, outcome.State)
	require.NotNil(t, outcome.Validation)
	assert.NotEmpty(t, outcome.Validation.Errors)
	assert.EqualValues(t, 0, coord.Metrics().Running)
	assert.EqualValues(t, 1, coord.Metrics().Rejected)
}
