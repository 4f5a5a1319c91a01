// Package testutil contains fluent builders used across tests to reduce
// boilerplate when constructing conversations and turns in specific states
// (mid-flow, bound, failed). Not intended for production usage.
package testutil
