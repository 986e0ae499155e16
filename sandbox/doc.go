// Package sandbox provides the isolated script execution engine.
//
// The sandbox package implements the worker side of the execution pipeline:
// a goja-based ECMAScript interpreter whose global environment starts empty
// of host capabilities and only gains them through an explicit allow-list.
// Every host module handed to a script is wrapped in an access guard that
// intercepts all property operations; a module without a guard fails engine
// construction outright rather than silently falling back to unrestricted
// access.
//
// Workers run as separate processes spawned from a clean state. Before any
// submitted code is evaluated, a worker applies kernel resource limits to
// itself (CPU time, address space, process count, zero file size, zero core
// size), captures script output into fixed-capacity buffers, and reports a
// single fully-populated ExecutionResult over stdout. A worker killed by one
// of its own limits exits abruptly by design; the coordinator detects and
// classifies that outcome.
package sandbox
