// Package mcpserver exposes the execution service over the Model Context
// Protocol.
//
// The mcpserver package implements an MCP-compliant server using the
// mark3labs/mcp-go library. It registers the execute_script and
// validate_script tools, both backed by the same coordinator as the HTTP
// boundary, so every submission passes through the identical validation,
// isolation and resource-limit pipeline regardless of transport.
package mcpserver
