// Package dispatch routes parsed events through middleware and listener
// chains, and enforces the acknowledgment deadline Slack imposes on
// synchronous responses.
//
// The listener registry is built once through a Builder and frozen before any
// request is served. After Build, the registry is shared read-only across all
// invocations; there is no runtime mutation and therefore no cross-invocation
// locking.
//
// Dispatch flow for one event:
//
//  1. Build a Context (team identity, resolved bot token, ack handle).
//  2. Run global middleware in registration order; each may short-circuit.
//  3. Run every matching listener in registration order. A listener failure
//     or panic is caught, logged, and does not prevent later listeners.
//     ErrStopPropagation halts the chain without being a failure.
//  4. Wait for the first acknowledgment up to the deadline (default 3s).
//     If no listener acked, an empty 200 is emitted automatically and a
//     warning is logged. Listeners keep running in the background on a
//     best-effort basis and must tolerate being abandoned mid-execution.
//
// Exactly one acknowledgment is ever transmitted per event; later attempts
// are no-ops that log a warning.
package dispatch
