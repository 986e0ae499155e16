package coordinator

// State is the terminal stage a request reached. Requests move through
// Received -> Validated -> Queued -> Running before landing on one of these;
// only the coordinator ever advances a request, one stage at a time.
type State string

const (
	StateCompleted      State = "completed"
	StateTimedOut       State = "timed_out"
	StateResourceKilled State = "resource_killed"
	StateRuntimeFailed  State = "runtime_failed"
	StateRejected       State = "rejected"
	StateInternalError  State = "internal_error"
)
