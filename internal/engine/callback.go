// ABOUTME: Inbound provider message dispatch
// ABOUTME: Resolves correlations, dedupes notifications, applies transitions

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/anaeng/aura/internal/correlation"
	"github.com/anaeng/aura/internal/nsi"
	"github.com/anaeng/aura/internal/state"
	"github.com/anaeng/aura/internal/store"
)

// callbackOps maps correlated callback kinds to the operation they answer.
var callbackOps = map[nsi.CallbackKind]state.Operation{
	nsi.CallbackReserveConfirmed:       state.OpReserve,
	nsi.CallbackReserveFailed:          state.OpReserve,
	nsi.CallbackReserveCommitConfirmed: state.OpReserveCommit,
	nsi.CallbackReserveCommitFailed:    state.OpReserveCommit,
	nsi.CallbackReserveAbortConfirmed:  state.OpReserveAbort,
	nsi.CallbackProvisionConfirmed:     state.OpProvision,
	nsi.CallbackReleaseConfirmed:       state.OpRelease,
	nsi.CallbackTerminateConfirmed:     state.OpTerminate,
}

// OnProviderMessage handles one inbound callback payload and returns the
// acknowledgement envelope to send back. Anything the dispatch finds wrong
// with a well-formed message becomes an anomaly, not an error: the
// provider still gets its ack. Only a malformed envelope is an error.
func (e *Engine) OnProviderMessage(ctx context.Context, payload []byte) ([]byte, error) {
	cb, err := nsi.DecodeCallback(payload)
	if err != nil {
		e.recordAnomaly(ctx, "", store.AnomalyMalformedEnvelope, err.Error(), "")
		return nil, err
	}

	e.dispatch(ctx, cb)

	return e.codec.EncodeAcknowledgement(cb.CorrelationID)
}

func (e *Engine) dispatch(ctx context.Context, cb *nsi.Callback) {
	switch cb.Kind {
	case nsi.CallbackErrorEvent, nsi.CallbackDataPlaneStateChange, nsi.CallbackReserveTimeout:
		e.handleNotification(ctx, cb)
	case nsi.CallbackQuerySummaryConfirmed:
		e.handleQueryReply(ctx, cb)
	default:
		e.handleReply(ctx, cb)
	}
}

// handleReply processes a correlated confirm or fail callback.
func (e *Engine) handleReply(ctx context.Context, cb *nsi.Callback) {
	p, err := e.tracker.Resolve(nsi.TrimCorrelationURN(cb.CorrelationID))
	switch {
	case errors.Is(err, correlation.ErrAlreadyResolved):
		e.recordAnomaly(ctx, e.connectionIDFor(ctx, cb), store.AnomalyDuplicateNotice,
			fmt.Sprintf("duplicate %s", cb.Kind), cb.CorrelationID)
		return
	case errors.Is(err, correlation.ErrUnknownCorrelation):
		e.recordAnomaly(ctx, e.connectionIDFor(ctx, cb), store.AnomalyOrphanedCorrelation,
			fmt.Sprintf("%s for correlation id we never issued", cb.Kind), cb.CorrelationID)
		return
	case err != nil:
		e.logger.Error("resolving correlation failed", "correlation_id", cb.CorrelationID, "error", err)
		return
	}

	expectedOp, ok := callbackOps[cb.Kind]
	if !ok || expectedOp != p.Op {
		// A well-formed reply answering the wrong operation family.
		e.recordAnomaly(ctx, p.ConnectionID, store.AnomalyUnsolicitedMessage,
			fmt.Sprintf("%s answers pending %s", cb.Kind, p.Op), cb.CorrelationID)
		return
	}

	unlock := e.lock(p.ConnectionID)
	defer unlock()

	conn, err := e.store.GetConnection(ctx, p.ConnectionID)
	if err != nil {
		e.logger.Error("loading connection for reply failed",
			"connection_id", p.ConnectionID, "error", err)
		return
	}

	var ev state.Event
	switch cb.Kind {
	case nsi.CallbackReserveFailed, nsi.CallbackReserveCommitFailed:
		reason := string(cb.Kind)
		unrecoverable := false
		if cb.Exception != nil {
			reason = cb.Exception.Text
			unrecoverable = e.policy.FaultUnrecoverable(cb.Exception.ErrorID)
		}
		e.recordAnomaly(ctx, conn.ID, store.AnomalyFault,
			fmt.Sprintf("%s: %s", cb.Kind, reason), cb.CorrelationID)
		ev = state.FaultReceived(p.Op, reason, unrecoverable)
	default:
		ev = state.ConfirmReceived(p.Op, cb.ConnectionID)
		// The confirm may carry the provider id before any reserve ack did.
		if conn.ProviderConnectionID == "" && cb.ConnectionID != "" {
			conn.ProviderConnectionID = cb.ConnectionID
		}
	}

	if err := e.transition(ctx, conn, ev, cb.CorrelationID); err != nil {
		return
	}

	e.logger.Info("provider reply applied",
		"kind", string(cb.Kind),
		"connection_id", conn.ID,
		"reservation", string(conn.Status.Reservation),
		"provision", string(conn.Status.Provision),
		"lifecycle", string(conn.Status.Lifecycle))
}

// handleNotification processes provider-initiated notifications, which
// carry the provider connection id rather than a correlation we issued.
func (e *Engine) handleNotification(ctx context.Context, cb *nsi.Callback) {
	conn, err := e.store.GetConnectionByProviderID(ctx, cb.ConnectionID)
	if err != nil {
		e.recordAnomaly(ctx, "", store.AnomalyUnsolicitedMessage,
			fmt.Sprintf("%s for unknown connection %s", cb.Kind, cb.ConnectionID), cb.CorrelationID)
		return
	}

	if cb.NotificationID != 0 && e.notices.SeenNotification(conn.ID, cb.NotificationID) {
		e.recordAnomaly(ctx, conn.ID, store.AnomalyDuplicateNotice,
			fmt.Sprintf("redelivered %s notification %d", cb.Kind, cb.NotificationID), cb.CorrelationID)
		return
	}

	unlock := e.lock(conn.ID)
	defer unlock()

	// Reload under the lock; the record may have moved since the lookup.
	conn, err = e.store.GetConnection(ctx, conn.ID)
	if err != nil {
		e.logger.Error("loading connection for notification failed", "error", err)
		return
	}

	switch cb.Kind {
	case nsi.CallbackErrorEvent:
		e.recordAnomaly(ctx, conn.ID, store.AnomalyErrorEvent,
			fmt.Sprintf("errorEvent %s from %s", cb.Event, cb.OriginatingNSA), cb.CorrelationID)
		ev := state.ErrorEventReceived(cb.Event, e.policy.EventUnrecoverable(cb.Event))
		_ = e.transition(ctx, conn, ev, cb.CorrelationID)

	case nsi.CallbackDataPlaneStateChange:
		if cb.DataPlane == nil {
			return
		}
		_ = e.transition(ctx, conn, state.DataPlaneChanged(cb.DataPlane.Active), cb.CorrelationID)

	case nsi.CallbackReserveTimeout:
		_ = e.transition(ctx, conn, state.ReserveTimeoutNotice(), cb.CorrelationID)
	}
}

// handleQueryReply processes an asynchronous query confirmation.
func (e *Engine) handleQueryReply(ctx context.Context, cb *nsi.Callback) {
	p, err := e.tracker.Resolve(nsi.TrimCorrelationURN(cb.CorrelationID))
	if err != nil {
		// Query replies we no longer wait for are harmless.
		e.logger.Debug("stale query reply", "correlation_id", cb.CorrelationID)
		return
	}

	unlock := e.lock(p.ConnectionID)
	defer unlock()

	conn, err := e.store.GetConnection(ctx, p.ConnectionID)
	if err != nil {
		return
	}
	e.reconcile(ctx, conn, cb.Results)
}

// connectionIDFor best-effort maps a callback to our connection id for
// anomaly attribution.
func (e *Engine) connectionIDFor(ctx context.Context, cb *nsi.Callback) string {
	if cb.ConnectionID == "" {
		return ""
	}
	conn, err := e.store.GetConnectionByProviderID(ctx, cb.ConnectionID)
	if err != nil {
		return ""
	}
	return conn.ID
}
