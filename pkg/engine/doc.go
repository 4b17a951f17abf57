// Package engine implements the visionflow executor: the control loop that
// runs a session's nodes, merges their updates into state, checkpoints
// after every step, routes through the edge table, and recovers node
// failures with bounded per-node retries.
//
// One session executes strictly sequentially; distinct sessions are
// independent and run concurrently, one goroutine per session. The engine
// offers three execution modes over the same core algorithm: Run
// (blocking), RunAsync (handle-based), and RunStream (one StepEvent per
// completed step). All three record the identical step sequence; they
// differ only in delivery.
package engine
