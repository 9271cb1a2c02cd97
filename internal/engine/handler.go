// ABOUTME: timeout.Handler implementation for the engine
// ABOUTME: Applies timeout transitions and drives query retries

package engine

import (
	"context"
	"fmt"

	"github.com/anaeng/aura/internal/correlation"
	"github.com/anaeng/aura/internal/nsi"
	"github.com/anaeng/aura/internal/state"
	"github.com/anaeng/aura/internal/store"
)

// HandleOperationTimeout resolves an expired state-changing operation and
// applies its timeout transition. No automatic retry: the outcome on the
// provider side is unknown, so re-emitting could double-apply.
func (e *Engine) HandleOperationTimeout(ctx context.Context, p correlation.Pending) {
	if _, err := e.tracker.Resolve(p.CorrelationID); err != nil {
		// The reply won the race between sweep and resolution.
		return
	}

	unlock := e.lock(p.ConnectionID)
	defer unlock()

	conn, err := e.store.GetConnection(ctx, p.ConnectionID)
	if err != nil {
		e.logger.Error("loading connection for timeout failed",
			"connection_id", p.ConnectionID, "error", err)
		return
	}

	e.recordAnomaly(ctx, conn.ID, store.AnomalyOperationTimeout,
		fmt.Sprintf("%s unanswered after %s", p.Op, p.Deadline.Sub(p.IssuedAt)), p.CorrelationID)
	_ = e.transition(ctx, conn, state.TimeoutExpired(p.Op), p.CorrelationID)
}

// RetryQuery re-emits an idempotent status query under its original
// correlation id.
func (e *Engine) RetryQuery(ctx context.Context, p correlation.Pending) error {
	conn, err := e.store.GetConnection(ctx, p.ConnectionID)
	if err != nil {
		return err
	}

	envelope, err := e.codec.EncodeQuerySummarySync(
		nsi.CorrelationURN(p.CorrelationID), []string{conn.ProviderConnectionID})
	if err != nil {
		return err
	}

	ack, err := e.emitter.Post(ctx, envelope)
	if err != nil {
		return err
	}

	if _, err := e.tracker.Resolve(p.CorrelationID); err == nil {
		unlock := e.lock(conn.ID)
		defer unlock()
		if fresh, err := e.store.GetConnection(ctx, conn.ID); err == nil {
			e.reconcile(ctx, fresh, ack.Results)
		}
	}
	return nil
}

// HandleStaleStatus records that query retries for a connection were
// exhausted; its provider-side status is unknown until an operator acts.
func (e *Engine) HandleStaleStatus(ctx context.Context, p correlation.Pending) {
	e.recordAnomaly(ctx, p.ConnectionID, store.AnomalyStaleStatus,
		fmt.Sprintf("status query unanswered after %d attempts", p.Attempts), p.CorrelationID)
}
