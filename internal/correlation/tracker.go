// ABOUTME: Tracker implementation: Register, Resolve, Cancel, Expired.
// ABOUTME: Mutex-guarded tables keyed by correlation id and connection id.

package correlation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anaeng/aura/internal/state"
)

// Tracker errors.
var (
	// ErrConflictingOperation means another operation in the same
	// mutually-exclusive family is already pending for the connection.
	ErrConflictingOperation = errors.New("conflicting operation pending")

	// ErrUnknownCorrelation means no live pending entry matches the id.
	ErrUnknownCorrelation = errors.New("unknown correlation id")

	// ErrAlreadyResolved means the pending entry was already resolved or
	// canceled; acting on the reply would apply a transition twice.
	ErrAlreadyResolved = errors.New("correlation id already resolved")
)

// closedRetention bounds how long resolved/canceled ids are remembered for
// distinguishing ErrAlreadyResolved from ErrUnknownCorrelation.
const closedRetention = time.Hour

// Pending is one in-flight request awaiting a provider reply.
type Pending struct {
	CorrelationID string
	ConnectionID  string
	Op            state.Operation
	IssuedAt      time.Time
	Deadline      time.Time

	// Attempts counts emissions for idempotent query retries; always 1
	// for state-changing operations.
	Attempts int
}

// family groups operations that may not be pending simultaneously for one
// connection. Queries never conflict with anything.
func family(op state.Operation) string {
	switch op {
	case state.OpReserve, state.OpReserveCommit, state.OpReserveAbort:
		return "reservation"
	case state.OpProvision, state.OpRelease:
		return "provisioning"
	case state.OpTerminate:
		return "lifecycle"
	default:
		return "query"
	}
}

// Tracker is the pending-operation table. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time             // tombstone clock; tests override it
	pending map[string]*Pending          // correlation id -> entry
	byConn  map[string]map[string]string // connection id -> family -> correlation id
	closed  map[string]time.Time         // resolved/canceled ids -> closed at
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		now:     time.Now,
		pending: make(map[string]*Pending),
		byConn:  make(map[string]map[string]string),
		closed:  make(map[string]time.Time),
	}
}

// Register creates a pending entry for op on the given connection and
// returns it with a fresh correlation id. Returns ErrConflictingOperation
// if a colliding entry already exists; the existing entry is left intact.
func (t *Tracker) Register(connectionID string, op state.Operation, now, deadline time.Time) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneClosedLocked(now)

	fam := family(op)
	fams := t.byConn[connectionID]
	if fam != "query" {
		if _, exists := fams[fam]; exists {
			return nil, ErrConflictingOperation
		}
	}

	p := &Pending{
		CorrelationID: uuid.NewString(),
		ConnectionID:  connectionID,
		Op:            op,
		IssuedAt:      now,
		Deadline:      deadline,
		Attempts:      1,
	}
	t.pending[p.CorrelationID] = p
	if fam != "query" {
		if fams == nil {
			fams = make(map[string]string)
			t.byConn[connectionID] = fams
		}
		fams[fam] = p.CorrelationID
	}
	return p, nil
}

// Resolve matches an inbound reply to its pending entry and removes it.
// Exactly one Resolve per entry succeeds; afterwards the id reports
// ErrAlreadyResolved, and ids the tracker never issued (or issued long
// ago) report ErrUnknownCorrelation.
func (t *Tracker) Resolve(correlationID string) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[correlationID]
	if !ok {
		if _, wasClosed := t.closed[correlationID]; wasClosed {
			return nil, ErrAlreadyResolved
		}
		return nil, ErrUnknownCorrelation
	}
	t.removeLocked(p)
	return p, nil
}

// Cancel drops a pending entry without resolving it. A timeout or reply
// arriving for a canceled id performs no work.
func (t *Tracker) Cancel(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[correlationID]; ok {
		t.removeLocked(p)
	}
}

// CancelConnection drops every pending entry for a connection and returns
// the canceled entries. Used when terminate pre-empts ordinary resolution;
// except, when non-empty, spares one correlation id so a just-registered
// terminate survives its own sweep.
func (t *Tracker) CancelConnection(connectionID, except string) []*Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	var canceled []*Pending
	for _, p := range t.pending {
		if p.ConnectionID == connectionID && p.CorrelationID != except {
			canceled = append(canceled, p)
		}
	}
	for _, p := range canceled {
		t.removeLocked(p)
	}
	return canceled
}

// Expired returns copies of the entries whose deadline has passed. The
// entries stay pending; the caller resolves or reschedules them.
func (t *Tracker) Expired(now time.Time) []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Pending
	for _, p := range t.pending {
		if !p.Deadline.After(now) {
			expired = append(expired, *p)
		}
	}
	return expired
}

// Reschedule extends the deadline of a live pending entry and bumps its
// attempt count. Used only for idempotent query retries.
func (t *Tracker) Reschedule(correlationID string, deadline time.Time) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[correlationID]
	if !ok {
		return nil, ErrUnknownCorrelation
	}
	p.Deadline = deadline
	p.Attempts++
	return p, nil
}

// PendingFor returns copies of the live entries for a connection.
func (t *Tracker) PendingFor(connectionID string) []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Pending
	for _, p := range t.pending {
		if p.ConnectionID == connectionID {
			out = append(out, *p)
		}
	}
	return out
}

// removeLocked unlinks an entry and tombstones its id. Must be called
// with mu held.
func (t *Tracker) removeLocked(p *Pending) {
	delete(t.pending, p.CorrelationID)
	if fams, ok := t.byConn[p.ConnectionID]; ok {
		fam := family(p.Op)
		if fams[fam] == p.CorrelationID {
			delete(fams, fam)
		}
		if len(fams) == 0 {
			delete(t.byConn, p.ConnectionID)
		}
	}
	t.closed[p.CorrelationID] = t.now()
}

// pruneClosedLocked drops tombstones older than the retention window.
func (t *Tracker) pruneClosedLocked(now time.Time) {
	for id, at := range t.closed {
		if now.Sub(at) > closedRetention {
			delete(t.closed, id)
		}
	}
}
