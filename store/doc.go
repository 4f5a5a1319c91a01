// Package store provides StateStore implementations: a process-local
// in-memory store suited to tests and demos, and a Redis-backed store for
// production. Both honor the same contract: optimistic per-key versioning,
// per-key TTL classes, and a distinct store-unavailable error kind so callers
// never mistake an outage for a missing key.
package store
