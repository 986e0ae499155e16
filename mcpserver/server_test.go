package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dkoval/scriptbox/config"
	"github.com/dkoval/scriptbox/coordinator"
	"github.com/dkoval/scriptbox/sandbox"
	"github.com/dkoval/scriptbox/validator"
)

func TestMain(m *testing.M) {
	if sandbox.MaybeWorkerInit() {
		return
	}
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport:   "mcp-stdio",
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
			SharedSecret:      "mcp-test-secret",
		},
		Logging: config.LoggingConfig{Mode: "production", Level: "info"},
	}
}

func newTestMCPServer(t *testing.T) *MCPServer {
	t.Helper()
	cfg := testConfig()
	logger := zaptest.NewLogger(t)
	coord := coordinator.New(cfg, logger, validator.New(&cfg.Sandbox))

	s, err := New(cfg, logger, coord)
	require.NoError(t, err)
	return s
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestNewMCPServer(t *testing.T) {
	s := newTestMCPServer(t)

	assert.NotNil(t, s.config)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.coord)
	assert.NotNil(t, s.mcpServer)
}

func TestHandleExecuteScriptRequiresCode(t *testing.T) {
	s := newTestMCPServer(t)

	_, err := s.handleExecuteScript(context.Background(), toolRequest(map[string]any{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code parameter is required")
}

func TestHandleExecuteScriptRejectedCode(t *testing.T) {
	s := newTestMCPServer(t)

	res, err := s.handleExecuteScript(context.Background(), toolRequest(map[string]any{
		"code": `require("fs")`,
	}))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsError)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var result sandbox.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(text.Text), &result))
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, sandbox.ErrKindValidation, result.Error.Kind)
}

func TestHandleExecuteScriptSuccess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	s := newTestMCPServer(t)

	res, err := s.handleExecuteScript(context.Background(), toolRequest(map[string]any{
		"code":    "result = n * 3",
		"context": map[string]any{"n": float64(4)},
	}))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.IsError)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var result sandbox.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(text.Text), &result))
	assert.True(t, result.Success)
	assert.EqualValues(t, 12, result.ReturnValue)
}

func TestHandleValidateScript(t *testing.T) {
	s := newTestMCPServer(t)

	res, err := s.handleValidateScript(context.Background(), toolRequest(map[string]any{
		"code": "__reserved",
	}))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsError)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var result validator.Result
	require.NoError(t, json.Unmarshal([]byte(text.Text), &result))
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)

	res, err = s.handleValidateScript(context.Background(), toolRequest(map[string]any{
		"code": "result = 1 + 1",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
}
