// Package validator provides the static pre-execution gate for submitted
// scripts.
//
// The validator is a pure function over source text: it never performs I/O
// and never creates a process, so it is cheap enough to run on every request
// before an isolated worker is spawned. It rejects oversized submissions,
// pathological parse trees, reserved-name references and imports outside the
// allow-list, and reports every violation it finds rather than only the
// first.
//
// The gate is advisory, not authoritative: the sandbox engine re-enforces
// name and import restrictions at execution time, because static analysis
// cannot catch every dynamically constructed reference.
package validator
