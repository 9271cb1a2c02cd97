// ABOUTME: Manager sweeps the pending table and dispatches expiries.
// ABOUTME: Clock is an interface so tests can drive time deterministically.

package timeout

import (
	"context"
	"log/slog"
	"time"

	"github.com/anaeng/aura/internal/correlation"
	"github.com/anaeng/aura/internal/state"
)

// Clock supplies the current time. The real clock is used in production;
// tests substitute a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current wall time.
func (SystemClock) Now() time.Time { return time.Now() }

// Handler receives expiry outcomes. Implemented by the protocol engine.
type Handler interface {
	// HandleOperationTimeout is called once for an expired state-changing
	// operation. The pending entry is still live; the handler resolves it
	// and applies the timeout transition.
	HandleOperationTimeout(ctx context.Context, p correlation.Pending)

	// RetryQuery re-emits an idempotent status query.
	RetryQuery(ctx context.Context, p correlation.Pending) error

	// HandleStaleStatus is called when query retries are exhausted.
	HandleStaleStatus(ctx context.Context, p correlation.Pending)
}

// RetryPolicy bounds query retries.
type RetryPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy is used when the configuration does not override it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 2 * time.Second, Cap: time.Minute, MaxAttempts: 5}
}

// Manager owns the sweep loop.
type Manager struct {
	tracker *correlation.Tracker
	handler Handler
	clock   Clock
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewManager creates a Manager sweeping the given tracker.
func NewManager(tracker *correlation.Tracker, handler Handler, clock Clock, retry RetryPolicy, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tracker: tracker,
		handler: handler,
		clock:   clock,
		retry:   retry,
		logger:  logger.With("component", "timeout"),
	}
}

// Cancel drops the deadline along with its pending entry.
func (m *Manager) Cancel(correlationID string) {
	m.tracker.Cancel(correlationID)
}

// Sweep finds expired pending entries and dispatches them. Invoked
// periodically by Run or directly by tests.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.clock.Now()
	for _, p := range m.tracker.Expired(now) {
		if p.Op == state.OpQuery {
			m.sweepQuery(ctx, p, now)
			continue
		}
		m.logger.Warn("operation deadline expired",
			"connection_id", p.ConnectionID,
			"correlation_id", p.CorrelationID,
			"operation", string(p.Op),
		)
		m.handler.HandleOperationTimeout(ctx, p)
	}
}

func (m *Manager) sweepQuery(ctx context.Context, p correlation.Pending, now time.Time) {
	if p.Attempts >= m.retry.MaxAttempts {
		m.tracker.Cancel(p.CorrelationID)
		m.logger.Warn("status query retries exhausted",
			"connection_id", p.ConnectionID,
			"correlation_id", p.CorrelationID,
			"attempts", p.Attempts,
		)
		m.handler.HandleStaleStatus(ctx, p)
		return
	}

	delay := m.backoff(p.Attempts)
	updated, err := m.tracker.Reschedule(p.CorrelationID, now.Add(delay))
	if err != nil {
		// Resolved between Expired and Reschedule; the race loser is a no-op.
		return
	}
	if err := m.handler.RetryQuery(ctx, *updated); err != nil {
		m.logger.Warn("query retry emit failed",
			"connection_id", p.ConnectionID,
			"correlation_id", p.CorrelationID,
			"error", err,
		)
	}
}

// backoff returns the delay before the next query attempt: base doubled
// per attempt, capped.
func (m *Manager) backoff(attempts int) time.Duration {
	d := m.retry.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= m.retry.Cap {
			return m.retry.Cap
		}
	}
	if d > m.retry.Cap {
		return m.retry.Cap
	}
	return d
}

// Run sweeps at the given interval until the context is canceled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
