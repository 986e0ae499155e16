package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dkoval/scriptbox/config"
	"github.com/dkoval/scriptbox/coordinator"
	"github.com/dkoval/scriptbox/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	coord     *coordinator.Coordinator
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, coord *coordinator.Coordinator) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		coord:  coord,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Strings("sandbox.allowed_imports", cfg.Sandbox.AllowedImports),
		zap.Int("sandbox.max_code_bytes", cfg.Sandbox.MaxCodeBytes),
		zap.Int("sandbox.max_cpu_seconds", cfg.Sandbox.MaxCPUSeconds),
		zap.Int64("sandbox.max_memory_bytes", cfg.Sandbox.MaxMemoryBytes),
		zap.Int("sandbox.max_concurrent_executions", cfg.Sandbox.MaxConcurrent),
	)

	s.mcpServer = server.NewMCPServer("scriptbox-executor", "A sandboxed script execution server")

	s.registerExecuteScriptTool()
	s.registerValidateScriptTool()

	return s, nil
}

// registerExecuteScriptTool registers the execute_script tool
func (s *MCPServer) registerExecuteScriptTool() {
	tool := mcp.Tool{
		Name:        "execute_script",
		Description: "Execute an untrusted script in an isolated sandbox and return its result",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Script source text",
				},
				"context": map[string]any{
					"type":        "object",
					"description": "Primitive-valued bindings injected into the script environment (optional)",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Wall-clock execution limit in seconds (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteScript)
}

// handleExecuteScript handles the execute_script tool
func (s *MCPServer) handleExecuteScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	scriptContext := map[string]any{}
	if args := request.GetArguments(); args != nil {
		if raw, ok := args["context"].(map[string]any); ok {
			scriptContext = raw
		}
	}

	s.logger.Info("script execution requested over mcp",
		zap.Int("code_len", len(code)),
		zap.Int("context_keys", len(scriptContext)))

	outcome := s.coord.Execute(ctx, sandbox.ExecutionRequest{
		Code:       code,
		Context:    scriptContext,
		TimeoutSec: request.GetInt("timeout_seconds", 0),
	})

	payload, err := json.Marshal(outcome.Result)
	if err != nil {
		return nil, fmt.Errorf("encoding execution result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(payload)},
		},
		IsError: !outcome.Result.Success,
	}, nil
}

// registerValidateScriptTool registers the validate_script tool
func (s *MCPServer) registerValidateScriptTool() {
	tool := mcp.Tool{
		Name:        "validate_script",
		Description: "Statically validate a script against the sandbox rules without executing it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Script source text",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleValidateScript)
}

// handleValidateScript handles the validate_script tool
func (s *MCPServer) handleValidateScript(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	result := s.coord.Validate(code)
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding validation result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(payload)},
		},
		IsError: !result.Valid,
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}
