// Package registry provides the in-memory task state store. It replaces
// what would otherwise be global mutable maps with an explicit,
// constructor-created object that can be injected into the scheduler and
// HTTP layers, one instance per process (or per test).
package registry
