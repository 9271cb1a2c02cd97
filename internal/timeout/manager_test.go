// ABOUTME: Tests for the timeout sweep and query retry backoff.
// ABOUTME: Uses a fake clock and a recording handler.

package timeout

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anaeng/aura/internal/correlation"
	"github.com/anaeng/aura/internal/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type recordingHandler struct {
	timeouts []correlation.Pending
	retries  []correlation.Pending
	stale    []correlation.Pending
}

func (h *recordingHandler) HandleOperationTimeout(_ context.Context, p correlation.Pending) {
	h.timeouts = append(h.timeouts, p)
}

func (h *recordingHandler) RetryQuery(_ context.Context, p correlation.Pending) error {
	h.retries = append(h.retries, p)
	return nil
}

func (h *recordingHandler) HandleStaleStatus(_ context.Context, p correlation.Pending) {
	h.stale = append(h.stale, p)
}

func newTestManager(t *testing.T) (*Manager, *correlation.Tracker, *fakeClock, *recordingHandler) {
	t.Helper()
	tracker := correlation.NewTracker()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	handler := &recordingHandler{}
	m := NewManager(tracker, handler, clock, RetryPolicy{
		Base:        2 * time.Second,
		Cap:         8 * time.Second,
		MaxAttempts: 3,
	}, slog.Default())
	return m, tracker, clock, handler
}

func TestSweepEmitsTimeoutForStateChangingOp(t *testing.T) {
	m, tracker, clock, handler := newTestManager(t)

	p, err := tracker.Register("conn-1", state.OpReserve, clock.Now(), clock.Now().Add(30*time.Second))
	require.NoError(t, err)

	m.Sweep(context.Background())
	assert.Empty(t, handler.timeouts, "deadline not reached yet")

	clock.Advance(31 * time.Second)
	m.Sweep(context.Background())
	require.Len(t, handler.timeouts, 1)
	assert.Equal(t, p.CorrelationID, handler.timeouts[0].CorrelationID)
	assert.Empty(t, handler.retries, "state-changing ops are never retried")
}

func TestSweepAfterResolveIsNoop(t *testing.T) {
	m, tracker, clock, handler := newTestManager(t)

	p, err := tracker.Register("conn-1", state.OpReserve, clock.Now(), clock.Now().Add(time.Second))
	require.NoError(t, err)

	// The real confirm wins the race.
	_, err = tracker.Resolve(p.CorrelationID)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	m.Sweep(context.Background())
	assert.Empty(t, handler.timeouts)
}

func TestQueryRetriesWithBackoffThenStale(t *testing.T) {
	m, tracker, clock, handler := newTestManager(t)

	_, err := tracker.Register("conn-1", state.OpQuery, clock.Now(), clock.Now().Add(time.Second))
	require.NoError(t, err)

	// Attempt 1 expired: retried with backoff.
	clock.Advance(2 * time.Second)
	m.Sweep(context.Background())
	require.Len(t, handler.retries, 1)
	assert.Equal(t, 2, handler.retries[0].Attempts)

	// Attempt 2 expired: retried again.
	clock.Advance(10 * time.Second)
	m.Sweep(context.Background())
	require.Len(t, handler.retries, 2)
	assert.Equal(t, 3, handler.retries[1].Attempts)

	// Attempt 3 expired: max reached, surfaces stale status.
	clock.Advance(20 * time.Second)
	m.Sweep(context.Background())
	assert.Len(t, handler.retries, 2)
	require.Len(t, handler.stale, 1)
	assert.Equal(t, "conn-1", handler.stale[0].ConnectionID)

	// Entry is gone; further sweeps do nothing.
	clock.Advance(time.Hour)
	m.Sweep(context.Background())
	assert.Len(t, handler.stale, 1)
}

func TestBackoffCaps(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	assert.Equal(t, 2*time.Second, m.backoff(1))
	assert.Equal(t, 4*time.Second, m.backoff(2))
	assert.Equal(t, 8*time.Second, m.backoff(3))
	assert.Equal(t, 8*time.Second, m.backoff(10))
}
