// Package recovery applies remediation when a conversation stage fails. The
// manager walks a fixed five-strategy ladder (retry handler, fallback
// handler, reset state, replace conversation, escalate), trying each at most
// once per turn, and records every applied strategy in the durable attempt
// log. The circuit breaker reads the same log to proactively exclude failing
// handlers from selection.
package recovery
