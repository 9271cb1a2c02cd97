// ABOUTME: Package timeout turns expired pending operations into events.
// ABOUTME: Periodic sweep; no automatic retry for state-changing operations.

// Package timeout implements the deadline sweep for pending operations.
//
// Deadlines are recorded when an operation is registered with the
// correlation tracker; a periodic Sweep finds entries whose deadline has
// passed. State-changing operations (reserve, commit, abort, provision,
// release, terminate) are never retried automatically - the outcome of an
// unanswered request is ambiguous, and blindly resending could commit
// resources twice - so their expiry is handed to the engine as a timeout
// event that parks the connection in an explicit Timeout state for the
// operator to resolve. Idempotent status queries are retried with bounded
// exponential backoff; exhausting the attempts surfaces a stale-status
// anomaly rather than an error.
package timeout
