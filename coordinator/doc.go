// Package coordinator schedules sandboxed executions and owns every outward
// guarantee of the engine: caller authentication, the concurrency bound, the
// validation gate, worker process lifecycle and the conversion of every
// possible worker outcome into one uniform result shape.
//
// The coordinator never executes submitted code on its own thread of
// control. Each admitted request gets a freshly spawned worker process that
// inherits nothing from the coordinator beyond the request envelope on its
// stdin; the coordinator watches the process, enforces an independent
// wall-clock deadline on top of the worker's kernel CPU limit, and
// classifies clean results, runtime failures, resource-limit kills, timeout
// kills and silent crashes into distinct error kinds.
package coordinator
