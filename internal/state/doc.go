// ABOUTME: Package state models the four orthogonal connection state machines.
// ABOUTME: Pure transition tables with an Apply function, no I/O or locking.

// Package state implements the NSI-CS connection state machines.
//
// A connection's status is the tuple of four independent sub-states:
//
//   - Reservation: whether resources are tentatively or firmly held
//   - Provision: whether the data plane is (to be) active
//   - Lifecycle: monotonic life of the connection record
//   - DataPlane: provider-reported activation status (advisory)
//
// The machines are kept orthogonal rather than flattened into one enum
// because the protocol genuinely allows combinations such as Provisioned
// while Lifecycle is PassedEndTime. Transitions are applied by the pure
// Apply function; an event with no defined transition for the current
// sub-state returns an InvalidTransitionError and leaves the status
// untouched, so callers can record it as an anomaly without corrupting
// the record.
package state
