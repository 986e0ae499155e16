// Package server provides the HTTP front door for the execution service.
//
// The server is deliberately thin: routing, credential extraction, request
// decoding and status-code mapping. All execution semantics live in the
// coordinator; the server only translates its outcomes onto HTTP. Oversized
// bodies are rejected before the payload is even read in full, validation
// failures return the complete diagnostics list, and internal faults are
// reported to callers as a generic message with the detail kept in the
// server-side log.
package server
