package sandbox

// ErrorKind classifies why an execution did not complete cleanly. Callers
// rely on the kind to tell a wall-clock timeout apart from a kernel resource
// kill and from an exception inside otherwise healthy code.
type ErrorKind string

const (
	ErrKindValidation    ErrorKind = "validation_error"
	ErrKindAuth          ErrorKind = "auth_error"
	ErrKindBusy          ErrorKind = "busy"
	ErrKindTimeout       ErrorKind = "timed_out"
	ErrKindResourceLimit ErrorKind = "resource_limit_exceeded"
	ErrKindSecurity      ErrorKind = "security_error"
	ErrKindRuntime       ErrorKind = "runtime_error"
	ErrKindInternal      ErrorKind = "internal_error"
)

// TruncationMarker replaces a return value that is not representable in the
// wire format or does not fit the output budget. Substituting the marker is
// a degraded success, not a failure.
const TruncationMarker = "<value truncated>"

// ExecutionError is the structured error attached to a failed execution.
type ExecutionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ExecutionResult is the single shape every execution outcome is reported
// in, whether produced by the worker on the happy path or synthesized by the
// coordinator after a crash, kill or timeout. It is always fully populated
// before it crosses any boundary.
type ExecutionResult struct {
	Success              bool            `json:"success"`
	ReturnValue          any             `json:"return_value"`
	ReturnValueTruncated bool            `json:"return_value_truncated,omitempty"`
	Stdout               string          `json:"stdout"`
	StdoutTruncated      bool            `json:"stdout_truncated"`
	Stderr               string          `json:"stderr"`
	StderrTruncated      bool            `json:"stderr_truncated"`
	Error                *ExecutionError `json:"error"`
	ExecutionTimeMS      int64           `json:"execution_time_ms"`
	MemoryUsedMB         float64         `json:"memory_used_mb"`
}

// Failure builds a complete failed result with the given kind and message.
func Failure(kind ErrorKind, message string, elapsedMS int64) ExecutionResult {
	return ExecutionResult{
		Success:         false,
		Error:           &ExecutionError{Kind: kind, Message: message},
		ExecutionTimeMS: elapsedMS,
	}
}
