// Package stores provides durable checkpoint persistence for visionflow
// sessions.
//
// A checkpoint is an immutable snapshot of session state at a step index,
// keyed by (session id, step index). The engine writes one checkpoint after
// every execution step and reads them back to resume interrupted sessions.
//
// Three backends are provided: SQLite for durable single-host deployments,
// Redis for shared deployments, and an in-memory store for tests and
// demos. All backends serialize writes per session; distinct sessions
// write concurrently.
package stores
