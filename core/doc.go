// Package core contains the domain model and shared contracts of the
// conversation orchestration core: conversations, turns, flow state, agent
// bindings, workflow instances and recovery attempts, plus the interfaces
// implemented by pluggable collaborators (domain handlers, intent detectors,
// state stores and durable-execution engines).
//
// The package is dependency-light on purpose. Higher-level packages (flow,
// router, recovery, workflow, store) depend on core; core depends on nothing
// but the standard library and uuid.
package core
