// ABOUTME: Operations, events and effects consumed and produced by Apply.
// ABOUTME: Events are tagged variants built through the constructor functions.

package state

// Operation identifies one protocol request kind.
type Operation string

// Protocol operations. Query is idempotent and never changes state.
const (
	OpReserve       Operation = "reserve"
	OpReserveCommit Operation = "reserveCommit"
	OpReserveAbort  Operation = "reserveAbort"
	OpProvision     Operation = "provision"
	OpRelease       Operation = "release"
	OpTerminate     Operation = "terminate"
	OpQuery         Operation = "query"
)

// EventKind tags an Event variant.
type EventKind string

// Event kinds.
const (
	EventRequestAccepted EventKind = "requestAccepted"
	EventConfirmReceived EventKind = "confirmReceived"
	EventFaultReceived   EventKind = "faultReceived"
	EventTimeoutExpired  EventKind = "timeoutExpired"
	EventDataPlaneChange EventKind = "dataPlaneChange"
	EventErrorEvent      EventKind = "errorEvent"
	EventPassedEndTime   EventKind = "passedEndTime"
	EventReserveTimeout  EventKind = "reserveTimeout"
)

// Event is one input to the state machines. Only the fields relevant to
// the Kind are set; use the constructors below.
type Event struct {
	Kind EventKind
	Op   Operation

	// ProviderConnectionID carries the provider-assigned id on a
	// reserve confirm.
	ProviderConnectionID string

	// Reason is the provider-supplied fault or error event text.
	Reason string

	// Unrecoverable marks a fault or error event the severity policy
	// classified as fatal for the lifecycle.
	Unrecoverable bool

	// Active is the reported data plane status on a dataPlaneChange.
	Active bool
}

// RequestAccepted records that an outbound request for op was accepted
// into the pending table and is about to be emitted.
func RequestAccepted(op Operation) Event {
	return Event{Kind: EventRequestAccepted, Op: op}
}

// ConfirmReceived records a provider confirm for op.
func ConfirmReceived(op Operation, providerConnectionID string) Event {
	return Event{Kind: EventConfirmReceived, Op: op, ProviderConnectionID: providerConnectionID}
}

// FaultReceived records a provider fault for op.
func FaultReceived(op Operation, reason string, unrecoverable bool) Event {
	return Event{Kind: EventFaultReceived, Op: op, Reason: reason, Unrecoverable: unrecoverable}
}

// TimeoutExpired records that the deadline for a pending op fired with no
// reply.
func TimeoutExpired(op Operation) Event {
	return Event{Kind: EventTimeoutExpired, Op: op}
}

// DataPlaneChanged records a dataPlaneStateChange notification.
func DataPlaneChanged(active bool) Event {
	return Event{Kind: EventDataPlaneChange, Active: active}
}

// ErrorEventReceived records an errorEvent notification.
func ErrorEventReceived(event string, unrecoverable bool) Event {
	return Event{Kind: EventErrorEvent, Reason: event, Unrecoverable: unrecoverable}
}

// PassedEndTime records that the provider reported the schedule window has
// closed.
func PassedEndTime() Event {
	return Event{Kind: EventPassedEndTime}
}

// ReserveTimeoutNotice records a provider-initiated reserveTimeout
// notification (the hold on a checked or held reservation lapsed).
func ReserveTimeoutNotice() Event {
	return Event{Kind: EventReserveTimeout}
}

// Effect is a side effect the engine must perform after a transition.
type Effect string

// Effects.
const (
	// EffectCancelPending drops every pending operation for the
	// connection; stale timeouts for them must become no-ops.
	EffectCancelPending Effect = "cancelPending"

	// EffectArchive marks the connection record archived; emitted when
	// the lifecycle reaches Terminated.
	EffectArchive Effect = "archive"

	// EffectAckReserveTimeout sends a ReserveTimeoutACK back to the
	// provider.
	EffectAckReserveTimeout Effect = "ackReserveTimeout"
)
