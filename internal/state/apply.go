// ABOUTME: The Apply transition function covering the full event cross-product.
// ABOUTME: Returns the new status plus effects, or InvalidTransitionError.

package state

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned (wrapped in an InvalidTransitionError)
// when an event has no defined transition for the current sub-states.
var ErrInvalidTransition = errors.New("invalid transition")

// InvalidTransitionError names the offending event and the status it was
// applied to. It unwraps to ErrInvalidTransition.
type InvalidTransitionError struct {
	Event  Event
	Status Status
}

func (e *InvalidTransitionError) Error() string {
	if e.Event.Op != "" {
		return fmt.Sprintf("event %s(%s) not permitted in reservation=%s provision=%s lifecycle=%s",
			e.Event.Kind, e.Event.Op, e.Status.Reservation, e.Status.Provision, e.Status.Lifecycle)
	}
	return fmt.Sprintf("event %s not permitted in reservation=%s provision=%s lifecycle=%s",
		e.Event.Kind, e.Status.Reservation, e.Status.Provision, e.Status.Lifecycle)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

func invalid(s Status, ev Event) (Status, []Effect, error) {
	return s, nil, &InvalidTransitionError{Event: ev, Status: s}
}

// Apply applies one event to a connection status. It is pure: on success
// it returns the next status and any effects the caller must perform; on
// an undefined transition it returns the status unchanged together with an
// InvalidTransitionError, so the caller can surface an anomaly without
// mutating the record.
func Apply(s Status, ev Event) (Status, []Effect, error) {
	// Terminated is absorbing; pending operations were canceled when it
	// was reached, so nothing may move the record afterwards.
	if s.Terminal() {
		return invalid(s, ev)
	}

	switch ev.Kind {
	case EventRequestAccepted:
		return applyRequest(s, ev)
	case EventConfirmReceived:
		return applyConfirm(s, ev)
	case EventFaultReceived:
		return applyFault(s, ev)
	case EventTimeoutExpired:
		return applyTimeout(s, ev)
	case EventDataPlaneChange:
		if ev.Active {
			s.DataPlane = DataPlaneUp
		} else {
			s.DataPlane = DataPlaneDown
		}
		return s, nil, nil
	case EventErrorEvent:
		if ev.Unrecoverable && s.Lifecycle == LifecycleCreated {
			s.Lifecycle = LifecycleFailed
		}
		return s, nil, nil
	case EventPassedEndTime:
		if s.Lifecycle != LifecycleCreated && s.Lifecycle != LifecycleFailed {
			return invalid(s, ev)
		}
		s.Lifecycle = LifecyclePassedEndTime
		return s, nil, nil
	case EventReserveTimeout:
		switch s.Reservation {
		case ReservationChecking, ReservationHeld, ReservationCommitting:
			s.Reservation = ReservationTimeout
			return s, []Effect{EffectAckReserveTimeout}, nil
		}
		return invalid(s, ev)
	}
	// An event kind outside the tables is a protocol-version or
	// implementation mismatch, not a reachable runtime scenario.
	return s, nil, fmt.Errorf("unrecognized event kind %q", ev.Kind)
}

func applyRequest(s Status, ev Event) (Status, []Effect, error) {
	switch ev.Op {
	case OpReserve:
		if s.Reservation != ReservationStart || s.Lifecycle != LifecycleCreated {
			return invalid(s, ev)
		}
		s.Reservation = ReservationChecking
		return s, nil, nil
	case OpReserveCommit:
		if s.Reservation != ReservationHeld || s.Committed {
			return invalid(s, ev)
		}
		s.Reservation = ReservationCommitting
		return s, nil, nil
	case OpReserveAbort:
		switch s.Reservation {
		case ReservationHeld, ReservationFailed, ReservationTimeout:
			s.Reservation = ReservationAborting
			return s, nil, nil
		}
		return invalid(s, ev)
	case OpProvision:
		if !s.CommittedHeld() || s.Lifecycle != LifecycleCreated || s.Provision != ProvisionReleased {
			return invalid(s, ev)
		}
		s.Provision = ProvisionProvisioning
		return s, nil, nil
	case OpRelease:
		if s.Provision != ProvisionProvisioned {
			return invalid(s, ev)
		}
		s.Provision = ProvisionReleasing
		return s, nil, nil
	case OpTerminate:
		switch s.Lifecycle {
		case LifecycleCreated, LifecycleFailed, LifecyclePassedEndTime:
			s.Lifecycle = LifecycleTerminating
			return s, []Effect{EffectCancelPending}, nil
		}
		return invalid(s, ev)
	case OpQuery:
		return s, nil, nil
	}
	return invalid(s, ev)
}

func applyConfirm(s Status, ev Event) (Status, []Effect, error) {
	switch ev.Op {
	case OpReserve:
		if s.Reservation != ReservationChecking {
			return invalid(s, ev)
		}
		s.Reservation = ReservationHeld
		return s, nil, nil
	case OpReserveCommit:
		if s.Reservation != ReservationCommitting {
			return invalid(s, ev)
		}
		s.Reservation = ReservationHeld
		s.Committed = true
		return s, nil, nil
	case OpReserveAbort:
		if s.Reservation != ReservationAborting {
			return invalid(s, ev)
		}
		s.Reservation = ReservationStart
		s.Committed = false
		return s, nil, nil
	case OpProvision:
		if s.Provision != ProvisionProvisioning {
			return invalid(s, ev)
		}
		s.Provision = ProvisionProvisioned
		return s, nil, nil
	case OpRelease:
		if s.Provision != ProvisionReleasing {
			return invalid(s, ev)
		}
		s.Provision = ProvisionReleased
		return s, nil, nil
	case OpTerminate:
		if s.Lifecycle != LifecycleTerminating {
			return invalid(s, ev)
		}
		s.Lifecycle = LifecycleTerminated
		s.Provision = ProvisionReleased
		return s, []Effect{EffectCancelPending, EffectArchive}, nil
	case OpQuery:
		return s, nil, nil
	}
	return invalid(s, ev)
}

func applyFault(s Status, ev Event) (Status, []Effect, error) {
	next := s
	switch ev.Op {
	case OpReserve:
		if s.Reservation != ReservationChecking {
			return invalid(s, ev)
		}
		next.Reservation = ReservationFailed
	case OpReserveCommit:
		if s.Reservation != ReservationCommitting {
			return invalid(s, ev)
		}
		next.Reservation = ReservationFailed
	case OpReserveAbort:
		if s.Reservation != ReservationAborting {
			return invalid(s, ev)
		}
		next.Reservation = ReservationFailed
	case OpProvision:
		if s.Provision != ProvisionProvisioning {
			return invalid(s, ev)
		}
		next.Provision = ProvisionReleased
	case OpRelease:
		if s.Provision != ProvisionReleasing {
			return invalid(s, ev)
		}
		next.Provision = ProvisionProvisioned
	case OpTerminate:
		if s.Lifecycle != LifecycleTerminating {
			return invalid(s, ev)
		}
		// Stays Terminating; the operator re-drives terminate.
	case OpQuery:
		return s, nil, nil
	default:
		return invalid(s, ev)
	}
	if ev.Unrecoverable && next.Lifecycle == LifecycleCreated {
		next.Lifecycle = LifecycleFailed
	}
	return next, nil, nil
}

func applyTimeout(s Status, ev Event) (Status, []Effect, error) {
	switch ev.Op {
	case OpReserve:
		if s.Reservation != ReservationChecking {
			return invalid(s, ev)
		}
		s.Reservation = ReservationTimeout
		return s, nil, nil
	case OpReserveCommit:
		if s.Reservation != ReservationCommitting {
			return invalid(s, ev)
		}
		s.Reservation = ReservationTimeout
		return s, nil, nil
	case OpReserveAbort:
		if s.Reservation != ReservationAborting {
			return invalid(s, ev)
		}
		s.Reservation = ReservationTimeout
		return s, nil, nil
	case OpProvision:
		if s.Provision != ProvisionProvisioning {
			return invalid(s, ev)
		}
		s.Provision = ProvisionReleased
		return s, nil, nil
	case OpRelease:
		if s.Provision != ProvisionReleasing {
			return invalid(s, ev)
		}
		s.Provision = ProvisionProvisioned
		return s, nil, nil
	case OpTerminate:
		if s.Lifecycle != LifecycleTerminating {
			return invalid(s, ev)
		}
		// An unanswered terminate keeps the record in Terminating; the
		// operator must re-drive or force cleanup.
		return s, nil, nil
	}
	return invalid(s, ev)
}
