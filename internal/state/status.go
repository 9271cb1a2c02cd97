// ABOUTME: Sub-state types and the Status tuple for a connection.
// ABOUTME: String-typed constants matching the NSI-CS state names on the wire.

package state

// Reservation is the reservation sub-state machine.
type Reservation string

// Reservation states. Names match the reservationState values providers
// report in querySummary replies.
const (
	ReservationStart      Reservation = "ReserveStart"
	ReservationChecking   Reservation = "ReserveChecking"
	ReservationHeld       Reservation = "ReserveHeld"
	ReservationFailed     Reservation = "ReserveFailed"
	ReservationAborting   Reservation = "ReserveAborting"
	ReservationCommitting Reservation = "ReserveCommitting"
	ReservationTimeout    Reservation = "ReserveTimeout"
)

// Provision is the provision sub-state machine.
type Provision string

// Provision states.
const (
	ProvisionReleased     Provision = "Released"
	ProvisionProvisioning Provision = "Provisioning"
	ProvisionProvisioned  Provision = "Provisioned"
	ProvisionReleasing    Provision = "Releasing"
)

// Lifecycle is the monotonic lifecycle sub-state machine.
type Lifecycle string

// Lifecycle states. Terminated is absorbing.
const (
	LifecycleCreated       Lifecycle = "Created"
	LifecycleFailed        Lifecycle = "Failed"
	LifecyclePassedEndTime Lifecycle = "PassedEndTime"
	LifecycleTerminating   Lifecycle = "Terminating"
	LifecycleTerminated    Lifecycle = "Terminated"
)

// DataPlane reflects the provider-reported data plane status. It is
// advisory and never gates other transitions.
type DataPlane string

// DataPlane states.
const (
	DataPlaneDown DataPlane = "Down"
	DataPlaneUp   DataPlane = "Up"
)

// Status is the full state tuple of one connection. Committed records
// whether the reservation has been committed; the protocol returns the
// reservation machine to Held after a reserveCommitConfirmed, so Held
// alone does not distinguish committed from merely held.
type Status struct {
	Reservation Reservation
	Provision   Provision
	Lifecycle   Lifecycle
	DataPlane   DataPlane
	Committed   bool
}

// NewStatus returns the initial status of a freshly created connection.
func NewStatus() Status {
	return Status{
		Reservation: ReservationStart,
		Provision:   ProvisionReleased,
		Lifecycle:   LifecycleCreated,
		DataPlane:   DataPlaneDown,
	}
}

// Terminal reports whether the lifecycle has reached its absorbing state.
func (s Status) Terminal() bool {
	return s.Lifecycle == LifecycleTerminated
}

// CommittedHeld reports whether the reservation is firmly committed, the
// precondition for any provision-machine movement.
func (s Status) CommittedHeld() bool {
	return s.Reservation == ReservationHeld && s.Committed
}
