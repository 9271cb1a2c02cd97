// ABOUTME: Engine tests driving full protocol exchanges against fakes
// ABOUTME: Covers confirm/fault/timeout races, notifications, and reconcile

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anaeng/aura/internal/correlation"
	"github.com/anaeng/aura/internal/nsi"
	"github.com/anaeng/aura/internal/state"
	"github.com/anaeng/aura/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeEmitter struct {
	mu    sync.Mutex
	posts []string
	ack   *nsi.SyncAck
	err   error
}

func (f *fakeEmitter) Post(ctx context.Context, envelope []byte) (*nsi.SyncAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, string(envelope))
	if f.err != nil {
		return nil, f.err
	}
	if f.ack != nil {
		return f.ack, nil
	}
	return &nsi.SyncAck{}, nil
}

func (f *fakeEmitter) lastPost() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.posts) == 0 {
		return ""
	}
	return f.posts[len(f.posts)-1]
}

func (f *fakeEmitter) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

type testRig struct {
	engine  *Engine
	store   *store.MemoryStore
	tracker *correlation.Tracker
	emitter *fakeEmitter
	clock   *fakeClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	st := store.NewMemoryStore()
	tracker := correlation.NewTracker()
	emitter := &fakeEmitter{}
	clock := newFakeClock()
	eng := New(Options{
		Store:   st,
		Tracker: tracker,
		Codec: &nsi.Codec{
			RequesterNSA: "urn:ogf:network:example.org:2013:nsa:aura",
			ProviderNSA:  "urn:ogf:network:example.net:2013:nsa:safnari",
			ReplyTo:      "http://aura.example.org:9080/nsi/callback",
		},
		Emitter:          emitter,
		Clock:            clock,
		OperationTimeout: 2 * time.Minute,
		QueryTimeout:     30 * time.Second,
	})
	t.Cleanup(eng.Close)
	return &testRig{engine: eng, store: st, tracker: tracker, emitter: emitter, clock: clock}
}

func (r *testRig) createConnection(t *testing.T) *store.Connection {
	t.Helper()
	conn, err := r.engine.CreateConnection(context.Background(), CreateParams{
		Description: "test circuit",
		SourceSTP:   "urn:ogf:network:example.net:2013:topology:port-a",
		DestSTP:     "urn:ogf:network:example.net:2013:topology:port-b",
		SourceVLAN:  1780,
		DestVLAN:    1780,
		Bandwidth:   1000,
		StartTime:   r.clock.Now().Add(time.Hour),
		EndTime:     r.clock.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return conn
}

// pendingCorrelation returns the correlation URN of the single pending
// operation for a connection.
func (r *testRig) pendingCorrelation(t *testing.T, connectionID string) string {
	t.Helper()
	pending := r.tracker.PendingFor(connectionID)
	require.Len(t, pending, 1)
	return nsi.CorrelationURN(pending[0].CorrelationID)
}

func (r *testRig) deliver(t *testing.T, corrURN, body string) {
	t.Helper()
	ack, err := r.engine.OnProviderMessage(context.Background(), callbackXML(corrURN, body))
	require.NoError(t, err)
	assert.Contains(t, string(ack), corrURN)
}

func (r *testRig) status(t *testing.T, connectionID string) state.Status {
	t.Helper()
	conn, err := r.store.GetConnection(context.Background(), connectionID)
	require.NoError(t, err)
	return conn.Status
}

func (r *testRig) anomalies(t *testing.T, connectionID string) []*store.Anomaly {
	t.Helper()
	out, err := r.store.ListAnomalies(context.Background(), connectionID, 50)
	require.NoError(t, err)
	return out
}

func callbackXML(corrURN, body string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Header>
    <head:nsiHeader xmlns:head="http://schemas.ogf.org/nsi/2013/12/framework/headers">
      <protocolVersion>application/vnd.ogf.nsi.cs.v2.requester+soap</protocolVersion>
      <correlationId>%s</correlationId>
      <requesterNSA>urn:ogf:network:example.org:2013:nsa:aura</requesterNSA>
      <providerNSA>urn:ogf:network:example.net:2013:nsa:safnari</providerNSA>
    </head:nsiHeader>
  </soapenv:Header>
  <soapenv:Body>
%s
  </soapenv:Body>
</soapenv:Envelope>`, corrURN, body))
}

func confirmBody(element, connectionID string) string {
	return fmt.Sprintf(`<type:%s xmlns:type="http://schemas.ogf.org/nsi/2013/12/connection/types">
		<connectionId>%s</connectionId>
	</type:%s>`, element, connectionID, element)
}

// reserveToHeld drives a fresh connection through reserve and its confirm.
func (r *testRig) reserveToHeld(t *testing.T) *store.Connection {
	t.Helper()
	ctx := context.Background()
	conn := r.createConnection(t)

	r.emitter.ack = &nsi.SyncAck{ConnectionID: "prov-" + conn.ID[:8]}
	require.NoError(t, r.engine.Reserve(ctx, conn.ID))
	r.emitter.ack = nil

	corr := r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("reserveConfirmed", "prov-"+conn.ID[:8]))

	got, err := r.store.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	require.Equal(t, state.ReservationHeld, got.Status.Reservation)
	return got
}

func (r *testRig) commitHeld(t *testing.T, conn *store.Connection) {
	t.Helper()
	require.NoError(t, r.engine.ReserveCommit(context.Background(), conn.ID))
	corr := r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("reserveCommitConfirmed", conn.ProviderConnectionID))
}

func TestHappyPathReserveToTerminated(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	conn := r.reserveToHeld(t)
	assert.NotEmpty(t, conn.ProviderConnectionID)

	r.commitHeld(t, conn)
	st := r.status(t, conn.ID)
	assert.Equal(t, state.ReservationHeld, st.Reservation)
	assert.True(t, st.Committed)

	require.NoError(t, r.engine.Provision(ctx, conn.ID))
	assert.Contains(t, r.emitter.lastPost(), "<type:provision")
	corr := r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("provisionConfirmed", conn.ProviderConnectionID))
	assert.Equal(t, state.ProvisionProvisioned, r.status(t, conn.ID).Provision)

	// Data plane comes up
	r.deliver(t, nsi.NewCorrelationID(), fmt.Sprintf(`
		<type:dataPlaneStateChange xmlns:type="http://schemas.ogf.org/nsi/2013/12/connection/types">
			<connectionId>%s</connectionId>
			<notificationId>1</notificationId>
			<timeStamp>2026-08-01T13:00:00Z</timeStamp>
			<dataPlaneStatus><active>true</active><version>0</version><versionConsistent>true</versionConsistent></dataPlaneStatus>
		</type:dataPlaneStateChange>`, conn.ProviderConnectionID))
	assert.Equal(t, state.DataPlaneUp, r.status(t, conn.ID).DataPlane)

	require.NoError(t, r.engine.Release(ctx, conn.ID))
	corr = r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("releaseConfirmed", conn.ProviderConnectionID))
	assert.Equal(t, state.ProvisionReleased, r.status(t, conn.ID).Provision)

	require.NoError(t, r.engine.Terminate(ctx, conn.ID))
	corr = r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("terminateConfirmed", conn.ProviderConnectionID))

	got, err := r.store.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, state.LifecycleTerminated, got.Status.Lifecycle)
	assert.NotNil(t, got.ArchivedAt)
	assert.Empty(t, r.tracker.PendingFor(conn.ID))
	assert.Empty(t, r.anomalies(t, conn.ID))
}

func TestReserveFailureThenAbort(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.createConnection(t)

	r.emitter.ack = &nsi.SyncAck{ConnectionID: "prov-1"}
	require.NoError(t, r.engine.Reserve(ctx, conn.ID))
	r.emitter.ack = nil

	corr := r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, `
		<type:reserveFailed xmlns:type="http://schemas.ogf.org/nsi/2013/12/connection/types">
			<connectionId>prov-1</connectionId>
			<serviceException>
				<errorId>00502</errorId>
				<text>Insufficient bandwidth available</text>
			</serviceException>
		</type:reserveFailed>`)

	st := r.status(t, conn.ID)
	assert.Equal(t, state.ReservationFailed, st.Reservation)
	assert.Equal(t, state.LifecycleCreated, st.Lifecycle)

	anomalies := r.anomalies(t, conn.ID)
	require.NotEmpty(t, anomalies)
	assert.Equal(t, store.AnomalyFault, anomalies[0].Kind)
	assert.Contains(t, anomalies[0].Detail, "Insufficient bandwidth")

	require.NoError(t, r.engine.ReserveAbort(ctx, conn.ID))
	corr = r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("reserveAbortConfirmed", "prov-1"))
	assert.Equal(t, state.ReservationStart, r.status(t, conn.ID).Reservation)
}

func TestOperationTimeoutThenLateReply(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.createConnection(t)

	r.emitter.ack = &nsi.SyncAck{ConnectionID: "prov-1"}
	require.NoError(t, r.engine.Reserve(ctx, conn.ID))
	r.emitter.ack = nil

	pending := r.tracker.PendingFor(conn.ID)
	require.Len(t, pending, 1)

	// Deadline fires before the provider answers
	r.engine.HandleOperationTimeout(ctx, pending[0])
	assert.Equal(t, state.ReservationTimeout, r.status(t, conn.ID).Reservation)

	anomalies := r.anomalies(t, conn.ID)
	require.NotEmpty(t, anomalies)
	assert.Equal(t, store.AnomalyOperationTimeout, anomalies[0].Kind)

	// The late confirm must be a no-op beyond an anomaly entry
	r.deliver(t, nsi.CorrelationURN(pending[0].CorrelationID), confirmBody("reserveConfirmed", "prov-1"))
	assert.Equal(t, state.ReservationTimeout, r.status(t, conn.ID).Reservation)

	kinds := map[string]bool{}
	for _, a := range r.anomalies(t, conn.ID) {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds[store.AnomalyDuplicateNotice])
}

func TestTimeoutHandlerLosesRaceToReply(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.createConnection(t)

	r.emitter.ack = &nsi.SyncAck{ConnectionID: "prov-1"}
	require.NoError(t, r.engine.Reserve(ctx, conn.ID))
	r.emitter.ack = nil

	pending := r.tracker.PendingFor(conn.ID)
	require.Len(t, pending, 1)

	// Reply resolves first; the queued timeout must do nothing.
	r.deliver(t, nsi.CorrelationURN(pending[0].CorrelationID), confirmBody("reserveConfirmed", "prov-1"))
	r.engine.HandleOperationTimeout(ctx, pending[0])

	assert.Equal(t, state.ReservationHeld, r.status(t, conn.ID).Reservation)
	assert.Empty(t, r.anomalies(t, conn.ID))
}

func TestReserveTimeoutNotificationAcked(t *testing.T) {
	r := newTestRig(t)
	conn := r.reserveToHeld(t)

	before := r.emitter.postCount()
	r.deliver(t, nsi.NewCorrelationID(), fmt.Sprintf(`
		<type:reserveTimeout xmlns:type="http://schemas.ogf.org/nsi/2013/12/connection/types">
			<connectionId>%s</connectionId>
			<notificationId>7</notificationId>
			<timeStamp>2026-08-01T12:30:00Z</timeStamp>
			<timeoutValue>120</timeoutValue>
		</type:reserveTimeout>`, conn.ProviderConnectionID))

	assert.Equal(t, state.ReservationTimeout, r.status(t, conn.ID).Reservation)
	require.Greater(t, r.emitter.postCount(), before)
	assert.Contains(t, r.emitter.lastPost(), "<type:reserveTimeoutACK")
}

func TestUnknownCorrelationRecordsOrphan(t *testing.T) {
	r := newTestRig(t)
	conn := r.reserveToHeld(t)

	r.deliver(t, nsi.NewCorrelationID(), confirmBody("reserveCommitConfirmed", conn.ProviderConnectionID))

	kinds := map[string]bool{}
	for _, a := range r.anomalies(t, conn.ID) {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds[store.AnomalyOrphanedCorrelation])
	// State unchanged
	assert.Equal(t, state.ReservationHeld, r.status(t, conn.ID).Reservation)
	assert.False(t, r.status(t, conn.ID).Committed)
}

func TestMalformedEnvelopeRejected(t *testing.T) {
	r := newTestRig(t)
	_, err := r.engine.OnProviderMessage(context.Background(), []byte("not soap"))
	require.Error(t, err)

	anomalies, err := r.store.ListAnomalies(context.Background(), "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, anomalies)
	assert.Equal(t, store.AnomalyMalformedEnvelope, anomalies[0].Kind)
}

func TestDuplicateNotificationSuppressed(t *testing.T) {
	r := newTestRig(t)
	conn := r.reserveToHeld(t)

	event := fmt.Sprintf(`
		<type:errorEvent xmlns:type="http://schemas.ogf.org/nsi/2013/12/connection/types">
			<connectionId>%s</connectionId>
			<notificationId>3</notificationId>
			<timeStamp>2026-08-01T12:10:00Z</timeStamp>
			<event>forcedEnd</event>
		</type:errorEvent>`, conn.ProviderConnectionID)

	r.deliver(t, nsi.NewCorrelationID(), event)
	assert.Equal(t, state.LifecycleFailed, r.status(t, conn.ID).Lifecycle)

	r.deliver(t, nsi.NewCorrelationID(), event)

	var errorEvents, duplicates int
	for _, a := range r.anomalies(t, conn.ID) {
		switch a.Kind {
		case store.AnomalyErrorEvent:
			errorEvents++
		case store.AnomalyDuplicateNotice:
			duplicates++
		}
	}
	assert.Equal(t, 1, errorEvents)
	assert.Equal(t, 1, duplicates)
}

func TestTerminateCancelsPendingOperations(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.reserveToHeld(t)
	r.commitHeld(t, conn)

	require.NoError(t, r.engine.Provision(ctx, conn.ID))
	require.Len(t, r.tracker.PendingFor(conn.ID), 1)

	require.NoError(t, r.engine.Terminate(ctx, conn.ID))

	pending := r.tracker.PendingFor(conn.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, state.OpTerminate, pending[0].Op)

	corr := r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("terminateConfirmed", conn.ProviderConnectionID))
	st := r.status(t, conn.ID)
	assert.Equal(t, state.LifecycleTerminated, st.Lifecycle)
	assert.Equal(t, state.ProvisionReleased, st.Provision)
}

func TestTerminateEmitFailureKeepsPendingOperations(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.reserveToHeld(t)
	r.commitHeld(t, conn)

	require.NoError(t, r.engine.Provision(ctx, conn.ID))
	require.Len(t, r.tracker.PendingFor(conn.ID), 1)

	r.emitter.err = fmt.Errorf("connection refused")
	err := r.engine.Terminate(ctx, conn.ID)
	require.Error(t, err)
	r.emitter.err = nil

	// The failed terminate must not have touched the record or the
	// in-flight provision.
	st := r.status(t, conn.ID)
	assert.Equal(t, state.LifecycleCreated, st.Lifecycle)
	pending := r.tracker.PendingFor(conn.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, state.OpProvision, pending[0].Op)

	corr := r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("provisionConfirmed", conn.ProviderConnectionID))

	st = r.status(t, conn.ID)
	assert.Equal(t, state.ProvisionProvisioned, st.Provision)
	assert.Empty(t, r.anomalies(t, conn.ID))
}

func TestQuerySummaryReconciles(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.reserveToHeld(t)

	r.emitter.ack = &nsi.SyncAck{Results: []nsi.QueryResult{{
		ConnectionID:     conn.ProviderConnectionID,
		ReservationState: "ReserveStart",
		LifecycleState:   "Created",
		DataPlaneActive:  true,
	}}}
	results, err := r.engine.QuerySummary(ctx, conn.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Divergent reservation state is an anomaly; data plane is adopted.
	kinds := map[string]bool{}
	for _, a := range r.anomalies(t, conn.ID) {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds[store.AnomalyStatusDivergence])
	assert.Equal(t, state.DataPlaneUp, r.status(t, conn.ID).DataPlane)
	assert.Empty(t, r.tracker.PendingFor(conn.ID))
}

func TestQueryEmitFailureLeavesPendingForRetry(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.reserveToHeld(t)

	r.emitter.err = fmt.Errorf("connection refused")
	_, err := r.engine.QuerySummary(ctx, conn.ID)
	require.Error(t, err)
	r.emitter.err = nil

	pending := r.tracker.PendingFor(conn.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, state.OpQuery, pending[0].Op)

	// The retry path answers and reconciles
	r.emitter.ack = &nsi.SyncAck{Results: []nsi.QueryResult{{
		ConnectionID:     conn.ProviderConnectionID,
		ReservationState: "ReserveHeld",
		LifecycleState:   "Created",
	}}}
	require.NoError(t, r.engine.RetryQuery(ctx, pending[0]))
	assert.Empty(t, r.tracker.PendingFor(conn.ID))
	assert.Empty(t, r.anomalies(t, conn.ID))
}

func TestProvisionRequiresCommit(t *testing.T) {
	r := newTestRig(t)
	conn := r.reserveToHeld(t)

	err := r.engine.Provision(context.Background(), conn.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, state.ErrInvalidTransition)
}

func TestDriveWithoutProviderID(t *testing.T) {
	r := newTestRig(t)
	conn := r.createConnection(t)

	err := r.engine.Provision(context.Background(), conn.ID)
	assert.ErrorIs(t, err, ErrNoProviderConnection)
}

func TestReserveEmitFailureRollsBack(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.createConnection(t)

	r.emitter.err = fmt.Errorf("provider unreachable")
	err := r.engine.Reserve(ctx, conn.ID)
	require.Error(t, err)
	r.emitter.err = nil

	// Nothing pending, record unchanged; reserve can be retried.
	assert.Empty(t, r.tracker.PendingFor(conn.ID))
	assert.Equal(t, state.ReservationStart, r.status(t, conn.ID).Reservation)

	r.emitter.ack = &nsi.SyncAck{ConnectionID: "prov-1"}
	require.NoError(t, r.engine.Reserve(ctx, conn.ID))
}

func TestSweepSchedulesPassedEndTime(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.reserveToHeld(t)

	r.clock.Advance(48 * time.Hour)
	r.engine.SweepSchedules(ctx)

	assert.Equal(t, state.LifecyclePassedEndTime, r.status(t, conn.ID).Lifecycle)

	// Terminate is still legal from PassedEndTime
	require.NoError(t, r.engine.Terminate(ctx, conn.ID))
	corr := r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("terminateConfirmed", conn.ProviderConnectionID))
	assert.Equal(t, state.LifecycleTerminated, r.status(t, conn.ID).Lifecycle)
}

func TestTerminatedIsAbsorbing(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	conn := r.reserveToHeld(t)

	require.NoError(t, r.engine.Terminate(ctx, conn.ID))
	corr := r.pendingCorrelation(t, conn.ID)
	r.deliver(t, corr, confirmBody("terminateConfirmed", conn.ProviderConnectionID))

	err := r.engine.Reserve(ctx, conn.ID)
	assert.ErrorIs(t, err, state.ErrInvalidTransition)

	// A stray notification for the archived record only logs an anomaly
	r.deliver(t, nsi.NewCorrelationID(), fmt.Sprintf(`
		<type:dataPlaneStateChange xmlns:type="http://schemas.ogf.org/nsi/2013/12/connection/types">
			<connectionId>%s</connectionId>
			<notificationId>9</notificationId>
			<dataPlaneStatus><active>true</active></dataPlaneStatus>
		</type:dataPlaneStateChange>`, conn.ProviderConnectionID))
	assert.Equal(t, state.LifecycleTerminated, r.status(t, conn.ID).Lifecycle)
}
