// Package transcript maintains a searchable, process-local index of
// completed turns. The index is fed by the notifier (subscribe it as a
// sink) so conversation processing never pays for indexing, and search
// stays available even after a conversation has been replaced or ended.
//
// Search is a linear substring scan. Suitable for dashboards, debugging
// and tests; swap in an external search backend for large deployments.
package transcript
