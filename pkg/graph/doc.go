// Package graph provides the data model for visionflow workflow graphs:
// session state, node registration, edge routing, and the error taxonomy
// shared by the engine and its callers.
//
// A graph is compiled once, before any session runs. Nodes are registered
// into an immutable Registry, edges are compiled into an immutable
// EdgeTable, and both are handed to the engine. Nothing in this package is
// mutated during execution except State, and State is mutated only by the
// engine merging node updates.
package graph
