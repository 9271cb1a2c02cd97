// ABOUTME: Package correlation tracks in-flight requests awaiting provider replies.
// ABOUTME: Maps correlation ids to pending operations, enforcing exclusivity.

// Package correlation implements the pending-operation tracker.
//
// Every outbound request carries a unique correlation id; the provider's
// eventual confirm or fault echoes it back. Register creates a pending
// entry and enforces that a connection has at most one outstanding
// operation per mutually-exclusive family; Resolve matches an inbound
// reply to its entry exactly once, so duplicate or delayed replies (and
// a timeout racing a real confirm) can never apply a transition twice.
package correlation
