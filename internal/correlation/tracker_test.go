// ABOUTME: Tests for the pending-operation tracker.
// ABOUTME: Covers exclusivity, single-shot resolve, cancel, and expiry listing.

package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anaeng/aura/internal/state"
)

func TestRegisterAndResolve(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	p, err := tr.Register("conn-1", state.OpReserve, now, now.Add(30*time.Second))
	require.NoError(t, err)
	require.NotEmpty(t, p.CorrelationID)
	assert.Equal(t, 1, p.Attempts)

	got, err := tr.Resolve(p.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, "conn-1", got.ConnectionID)
	assert.Equal(t, state.OpReserve, got.Op)
}

func TestDoubleResolveIsRejected(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	p, err := tr.Register("conn-1", state.OpReserve, now, now.Add(time.Minute))
	require.NoError(t, err)

	_, err = tr.Resolve(p.CorrelationID)
	require.NoError(t, err)

	_, err = tr.Resolve(p.CorrelationID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestUnknownCorrelation(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Resolve("never-issued")
	assert.ErrorIs(t, err, ErrUnknownCorrelation)
}

func TestConflictingFamilyRejected(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	first, err := tr.Register("conn-1", state.OpReserve, now, now.Add(time.Minute))
	require.NoError(t, err)

	// Same family (reservation): rejected, existing entry intact.
	_, err = tr.Register("conn-1", state.OpReserveAbort, now, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrConflictingOperation)

	got, err := tr.Resolve(first.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, state.OpReserve, got.Op)
}

func TestDifferentFamiliesCoexist(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	_, err := tr.Register("conn-1", state.OpRelease, now, now.Add(time.Minute))
	require.NoError(t, err)

	// A query never conflicts.
	_, err = tr.Register("conn-1", state.OpQuery, now, now.Add(time.Minute))
	require.NoError(t, err)

	// Another connection is independent.
	_, err = tr.Register("conn-2", state.OpRelease, now, now.Add(time.Minute))
	require.NoError(t, err)
}

func TestCancelConnection(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	p1, err := tr.Register("conn-1", state.OpProvision, now, now.Add(time.Minute))
	require.NoError(t, err)
	_, err = tr.Register("conn-2", state.OpReserve, now, now.Add(time.Minute))
	require.NoError(t, err)

	canceled := tr.CancelConnection("conn-1", "")
	require.Len(t, canceled, 1)
	assert.Equal(t, p1.CorrelationID, canceled[0].CorrelationID)

	// Canceled entries resolve as already handled, and never expire.
	_, err = tr.Resolve(p1.CorrelationID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Empty(t, tr.Expired(now.Add(time.Hour)))

	// conn-2 untouched.
	assert.Len(t, tr.PendingFor("conn-2"), 1)
}

func TestCancelConnectionSparesExcepted(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	victim, err := tr.Register("conn-1", state.OpProvision, now, now.Add(time.Minute))
	require.NoError(t, err)
	kept, err := tr.Register("conn-1", state.OpTerminate, now, now.Add(time.Minute))
	require.NoError(t, err)

	canceled := tr.CancelConnection("conn-1", kept.CorrelationID)
	require.Len(t, canceled, 1)
	assert.Equal(t, victim.CorrelationID, canceled[0].CorrelationID)

	pending := tr.PendingFor("conn-1")
	require.Len(t, pending, 1)
	assert.Equal(t, kept.CorrelationID, pending[0].CorrelationID)
}

func TestTombstoneRetentionUsesInjectedClock(t *testing.T) {
	tr := NewTracker()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }

	p, err := tr.Register("conn-1", state.OpReserve, current, current.Add(time.Minute))
	require.NoError(t, err)
	_, err = tr.Resolve(p.CorrelationID)
	require.NoError(t, err)

	_, err = tr.Resolve(p.CorrelationID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	// Past the retention window the next Register prunes the tombstone,
	// with no wall-clock involved.
	current = current.Add(closedRetention + time.Minute)
	_, err = tr.Register("conn-2", state.OpReserve, current, current.Add(time.Minute))
	require.NoError(t, err)

	_, err = tr.Resolve(p.CorrelationID)
	assert.ErrorIs(t, err, ErrUnknownCorrelation)
}

func TestExpiredListsOnlyPastDeadline(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	p1, err := tr.Register("conn-1", state.OpReserve, now, now.Add(10*time.Second))
	require.NoError(t, err)
	_, err = tr.Register("conn-2", state.OpReserve, now, now.Add(time.Hour))
	require.NoError(t, err)

	expired := tr.Expired(now.Add(11 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, p1.CorrelationID, expired[0].CorrelationID)

	// Listing does not resolve: the entry is still live.
	assert.Len(t, tr.PendingFor("conn-1"), 1)
}

func TestReschedule(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	p, err := tr.Register("conn-1", state.OpQuery, now, now.Add(2*time.Second))
	require.NoError(t, err)

	updated, err := tr.Reschedule(p.CorrelationID, now.Add(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Attempts)
	assert.Empty(t, tr.Expired(now.Add(3*time.Second)))

	_, err = tr.Reschedule("nope", now)
	assert.ErrorIs(t, err, ErrUnknownCorrelation)
}
