// Package main is the entry point for the scriptbox execution server.
//
// Scriptbox executes short, semi-trusted scripts submitted by internal
// automation tooling inside a constrained sandbox. Each execution runs in a
// freshly spawned worker process with kernel resource limits applied before
// any submitted code is evaluated; a static validator gates submissions and
// a concurrency-bounded coordinator converts every failure mode into a
// structured result. The same binary serves as both the coordinator and the
// worker: worker mode is selected by an environment marker at startup.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
