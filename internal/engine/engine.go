// ABOUTME: Protocol engine core: operator intents and outbound request flow
// ABOUTME: Serializes per-connection work and persists after every transition

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anaeng/aura/internal/correlation"
	"github.com/anaeng/aura/internal/dedupe"
	"github.com/anaeng/aura/internal/nsi"
	"github.com/anaeng/aura/internal/policy"
	"github.com/anaeng/aura/internal/state"
	"github.com/anaeng/aura/internal/store"
	"github.com/anaeng/aura/internal/timeout"
)

// ErrNoProviderConnection means the operation needs the provider-assigned
// connection id but the reserve acknowledgement has not delivered one yet.
var ErrNoProviderConnection = errors.New("no provider connection id yet")

// Emitter delivers an encoded envelope to the provider NSA.
type Emitter interface {
	Post(ctx context.Context, envelope []byte) (*nsi.SyncAck, error)
}

// Options configures an Engine. Store, Tracker, Codec, and Emitter are
// required; the rest default sensibly.
type Options struct {
	Store   store.Store
	Tracker *correlation.Tracker
	Codec   *nsi.Codec
	Emitter Emitter
	Policy  *policy.Policy
	Clock   timeout.Clock

	OperationTimeout time.Duration
	QueryTimeout     time.Duration

	Logger *slog.Logger
}

// Engine is the protocol engine. All state movement runs through it.
type Engine struct {
	store   store.Store
	tracker *correlation.Tracker
	codec   *nsi.Codec
	emitter Emitter
	policy  *policy.Policy
	clock   timeout.Clock

	opTimeout    time.Duration
	queryTimeout time.Duration

	logger  *slog.Logger
	notices *dedupe.Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	if opts.Clock == nil {
		opts.Clock = timeout.SystemClock{}
	}
	if opts.OperationTimeout == 0 {
		opts.OperationTimeout = 120 * time.Second
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:        opts.Store,
		tracker:      opts.Tracker,
		codec:        opts.Codec,
		emitter:      opts.Emitter,
		policy:       opts.Policy,
		clock:        opts.Clock,
		opTimeout:    opts.OperationTimeout,
		queryTimeout: opts.QueryTimeout,
		logger:       opts.Logger.With("component", "engine"),
		notices:      dedupe.New(time.Hour, 4096),
		locks:        make(map[string]*sync.Mutex),
	}
}

// Close releases background resources.
func (e *Engine) Close() {
	e.notices.Close()
}

// lock acquires the per-connection mutex and returns its unlock func.
// Everything that reads-modifies-writes one record runs under it.
func (e *Engine) lock(connectionID string) func() {
	e.mu.Lock()
	m, ok := e.locks[connectionID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[connectionID] = m
	}
	e.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// CreateParams describes a circuit to reserve.
type CreateParams struct {
	Description         string
	GlobalReservationID string
	SourceSTP           string
	DestSTP             string
	SourceVLAN          int
	DestVLAN            int
	Bandwidth           int64
	StartTime           time.Time
	EndTime             time.Time
}

// CreateConnection records a new connection in ReserveStart. No provider
// message is sent until Reserve is called.
func (e *Engine) CreateConnection(ctx context.Context, p CreateParams) (*store.Connection, error) {
	if p.SourceSTP == "" || p.DestSTP == "" {
		return nil, fmt.Errorf("source and destination STPs are required")
	}
	if !p.EndTime.After(p.StartTime) {
		return nil, fmt.Errorf("end time %s is not after start time %s", p.EndTime, p.StartTime)
	}
	if p.Bandwidth <= 0 {
		return nil, fmt.Errorf("bandwidth must be positive")
	}
	if p.GlobalReservationID == "" {
		p.GlobalReservationID = nsi.NewCorrelationID()
	}

	now := e.clock.Now().UTC()
	conn := &store.Connection{
		ID:                  uuid.NewString(),
		GlobalReservationID: p.GlobalReservationID,
		Description:         p.Description,
		SourceSTP:           p.SourceSTP,
		DestSTP:             p.DestSTP,
		SourceVLAN:          p.SourceVLAN,
		DestVLAN:            p.DestVLAN,
		Bandwidth:           p.Bandwidth,
		StartTime:           p.StartTime.UTC(),
		EndTime:             p.EndTime.UTC(),
		Status:              state.NewStatus(),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.store.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}

	e.logger.Info("connection created",
		"connection_id", conn.ID,
		"source", conn.SourceSTP,
		"dest", conn.DestSTP,
		"bandwidth_mbps", conn.Bandwidth)
	return conn, nil
}

// Reserve sends the initial reserve request for a connection.
func (e *Engine) Reserve(ctx context.Context, connectionID string) error {
	unlock := e.lock(connectionID)
	defer unlock()

	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}

	next, _, err := state.Apply(conn.Status, state.RequestAccepted(state.OpReserve))
	if err != nil {
		return err
	}

	now := e.clock.Now()
	p, err := e.tracker.Register(conn.ID, state.OpReserve, now, now.Add(e.opTimeout))
	if err != nil {
		return err
	}

	envelope, err := e.codec.EncodeReserve(nsi.CorrelationURN(p.CorrelationID), nsi.ReserveRequest{
		GlobalReservationID: conn.GlobalReservationID,
		Description:         conn.Description,
		StartTime:           conn.StartTime,
		EndTime:             conn.EndTime,
		SourceSTP:           stpWithVLAN(conn.SourceSTP, conn.SourceVLAN),
		DestSTP:             stpWithVLAN(conn.DestSTP, conn.DestVLAN),
		Bandwidth:           conn.Bandwidth,
	})
	if err != nil {
		e.tracker.Cancel(p.CorrelationID)
		return err
	}

	ack, err := e.emitter.Post(ctx, envelope)
	if err != nil {
		e.tracker.Cancel(p.CorrelationID)
		return fmt.Errorf("emitting reserve: %w", err)
	}

	// The provider assigns its connection id in the reserve ack.
	if ack.ConnectionID != "" {
		conn.ProviderConnectionID = ack.ConnectionID
	}
	conn.Status = next
	conn.UpdatedAt = e.clock.Now().UTC()
	if err := e.store.SaveConnection(ctx, conn); err != nil {
		return err
	}

	e.logger.Info("reserve sent",
		"connection_id", conn.ID,
		"provider_connection_id", conn.ProviderConnectionID,
		"correlation_id", p.CorrelationID)
	return nil
}

// ReserveCommit commits a held reservation.
func (e *Engine) ReserveCommit(ctx context.Context, connectionID string) error {
	return e.drive(ctx, connectionID, state.OpReserveCommit)
}

// ReserveAbort abandons a held, failed, or timed-out reservation.
func (e *Engine) ReserveAbort(ctx context.Context, connectionID string) error {
	return e.drive(ctx, connectionID, state.OpReserveAbort)
}

// Provision activates a committed reservation.
func (e *Engine) Provision(ctx context.Context, connectionID string) error {
	return e.drive(ctx, connectionID, state.OpProvision)
}

// Release deactivates a provisioned connection without giving it up.
func (e *Engine) Release(ctx context.Context, connectionID string) error {
	return e.drive(ctx, connectionID, state.OpRelease)
}

// Terminate ends a connection. Pending operations for it are canceled.
func (e *Engine) Terminate(ctx context.Context, connectionID string) error {
	return e.drive(ctx, connectionID, state.OpTerminate)
}

// drive runs the common flow of the connectionId-only operations.
func (e *Engine) drive(ctx context.Context, connectionID string, op state.Operation) error {
	unlock := e.lock(connectionID)
	defer unlock()

	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn.ProviderConnectionID == "" {
		return ErrNoProviderConnection
	}

	next, effects, err := state.Apply(conn.Status, state.RequestAccepted(op))
	if err != nil {
		return err
	}

	now := e.clock.Now()
	p, err := e.tracker.Register(conn.ID, op, now, now.Add(e.opTimeout))
	if err != nil {
		return err
	}

	envelope, err := e.encodeOperation(op, nsi.CorrelationURN(p.CorrelationID), conn.ProviderConnectionID)
	if err != nil {
		e.tracker.Cancel(p.CorrelationID)
		return err
	}

	if _, err := e.emitter.Post(ctx, envelope); err != nil {
		e.tracker.Cancel(p.CorrelationID)
		return fmt.Errorf("emitting %s: %w", op, err)
	}

	// Terminate pre-empts other in-flight work, but only once its request
	// is on the wire; a failed emit leaves those entries live so their
	// replies still resolve.
	for _, eff := range effects {
		if eff == state.EffectCancelPending {
			e.cancelPending(conn.ID, p.CorrelationID)
		}
	}

	conn.Status = next
	conn.UpdatedAt = e.clock.Now().UTC()
	if err := e.store.SaveConnection(ctx, conn); err != nil {
		return err
	}

	e.logger.Info("request sent",
		"operation", string(op),
		"connection_id", conn.ID,
		"correlation_id", p.CorrelationID)
	return nil
}

func (e *Engine) encodeOperation(op state.Operation, correlationID, providerConnectionID string) ([]byte, error) {
	switch op {
	case state.OpReserveCommit:
		return e.codec.EncodeReserveCommit(correlationID, providerConnectionID)
	case state.OpReserveAbort:
		return e.codec.EncodeReserveAbort(correlationID, providerConnectionID)
	case state.OpProvision:
		return e.codec.EncodeProvision(correlationID, providerConnectionID)
	case state.OpRelease:
		return e.codec.EncodeRelease(correlationID, providerConnectionID)
	case state.OpTerminate:
		return e.codec.EncodeTerminate(correlationID, providerConnectionID)
	}
	return nil, fmt.Errorf("no encoder for operation %q", op)
}

// QuerySummary asks the provider for its view of one connection and
// reconciles it against ours.
func (e *Engine) QuerySummary(ctx context.Context, connectionID string) ([]nsi.QueryResult, error) {
	unlock := e.lock(connectionID)
	defer unlock()

	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.ProviderConnectionID == "" {
		return nil, ErrNoProviderConnection
	}

	now := e.clock.Now()
	p, err := e.tracker.Register(conn.ID, state.OpQuery, now, now.Add(e.queryTimeout))
	if err != nil {
		return nil, err
	}

	envelope, err := e.codec.EncodeQuerySummarySync(
		nsi.CorrelationURN(p.CorrelationID), []string{conn.ProviderConnectionID})
	if err != nil {
		e.tracker.Cancel(p.CorrelationID)
		return nil, err
	}

	ack, err := e.emitter.Post(ctx, envelope)
	if err != nil {
		// The entry stays pending; the timeout manager retries the query
		// with backoff until it answers or goes stale.
		return nil, fmt.Errorf("emitting query: %w", err)
	}

	if _, err := e.tracker.Resolve(p.CorrelationID); err == nil {
		e.reconcile(ctx, conn, ack.Results)
	}
	return ack.Results, nil
}

// reconcile compares the provider's reported states against ours. The data
// plane report is advisory and adopted; a reservation or lifecycle mismatch
// is recorded as a divergence anomaly for the operator.
func (e *Engine) reconcile(ctx context.Context, conn *store.Connection, results []nsi.QueryResult) {
	for _, r := range results {
		if r.ConnectionID != conn.ProviderConnectionID {
			continue
		}

		if r.ReservationState != "" && r.ReservationState != string(conn.Status.Reservation) ||
			r.LifecycleState != "" && r.LifecycleState != string(conn.Status.Lifecycle) {
			e.recordAnomaly(ctx, conn.ID, store.AnomalyStatusDivergence,
				fmt.Sprintf("provider reports reservation=%s lifecycle=%s, local reservation=%s lifecycle=%s",
					r.ReservationState, r.LifecycleState, conn.Status.Reservation, conn.Status.Lifecycle), "")
		}

		local := conn.Status.DataPlane == state.DataPlaneUp
		if r.DataPlaneActive != local {
			if err := e.transition(ctx, conn, state.DataPlaneChanged(r.DataPlaneActive), ""); err != nil {
				e.logger.Warn("data plane reconcile failed",
					"connection_id", conn.ID, "error", err)
			}
		}
	}
}

// stpWithVLAN renders an STP URN with its vlan label, the form providers
// expect in reserve criteria.
func stpWithVLAN(stp string, vlan int) string {
	if vlan <= 0 {
		return stp
	}
	return fmt.Sprintf("%s?vlan=%d", stp, vlan)
}

// cancelPending drops every in-flight operation for a connection, sparing
// except when non-empty. Replies or timeouts arriving for the canceled
// entries afterwards resolve to no-ops.
func (e *Engine) cancelPending(connectionID, except string) {
	for _, p := range e.tracker.CancelConnection(connectionID, except) {
		e.logger.Debug("pending operation canceled",
			"connection_id", connectionID,
			"operation", string(p.Op),
			"correlation_id", p.CorrelationID)
	}
}

// transition applies one event, interprets its effects, and persists the
// record. An invalid transition records an anomaly and leaves the record
// untouched.
func (e *Engine) transition(ctx context.Context, conn *store.Connection, ev state.Event, correlationID string) error {
	next, effects, err := state.Apply(conn.Status, ev)
	if err != nil {
		e.recordAnomaly(ctx, conn.ID, store.AnomalyInvalidTransition, err.Error(), correlationID)
		return err
	}

	now := e.clock.Now().UTC()
	conn.Status = next
	conn.UpdatedAt = now

	for _, eff := range effects {
		switch eff {
		case state.EffectCancelPending:
			e.cancelPending(conn.ID, "")
		case state.EffectArchive:
			at := now
			conn.ArchivedAt = &at
		case state.EffectAckReserveTimeout:
			e.sendReserveTimeoutACK(ctx, conn)
		}
	}

	if err := e.store.SaveConnection(ctx, conn); err != nil {
		return fmt.Errorf("persisting transition: %w", err)
	}
	return nil
}

func (e *Engine) sendReserveTimeoutACK(ctx context.Context, conn *store.Connection) {
	envelope, err := e.codec.EncodeReserveTimeoutACK(nsi.NewCorrelationID(), conn.ProviderConnectionID)
	if err != nil {
		e.logger.Warn("encoding reserveTimeoutACK failed", "connection_id", conn.ID, "error", err)
		return
	}
	if _, err := e.emitter.Post(ctx, envelope); err != nil {
		e.logger.Warn("sending reserveTimeoutACK failed", "connection_id", conn.ID, "error", err)
	}
}

func (e *Engine) recordAnomaly(ctx context.Context, connectionID, kind, detail, correlationID string) {
	a := &store.Anomaly{
		ID:            uuid.NewString(),
		ConnectionID:  connectionID,
		Kind:          kind,
		Detail:        detail,
		CorrelationID: correlationID,
		CreatedAt:     e.clock.Now().UTC(),
	}
	if err := e.store.SaveAnomaly(ctx, a); err != nil {
		e.logger.Error("recording anomaly failed", "kind", kind, "error", err)
	}
	e.logger.Warn("anomaly",
		"kind", kind,
		"connection_id", connectionID,
		"detail", detail)
}

// SweepSchedules moves connections whose end time has passed into
// PassedEndTime. Called periodically by the server loop.
func (e *Engine) SweepSchedules(ctx context.Context) {
	conns, err := e.store.ListConnections(ctx, false)
	if err != nil {
		e.logger.Error("listing connections for schedule sweep failed", "error", err)
		return
	}

	now := e.clock.Now()
	for _, c := range conns {
		if !c.EndTime.Before(now) {
			continue
		}
		switch c.Status.Lifecycle {
		case state.LifecycleCreated, state.LifecycleFailed:
		default:
			continue
		}

		unlock := e.lock(c.ID)
		conn, err := e.store.GetConnection(ctx, c.ID)
		if err == nil && conn.EndTime.Before(now) &&
			(conn.Status.Lifecycle == state.LifecycleCreated || conn.Status.Lifecycle == state.LifecycleFailed) {
			if err := e.transition(ctx, conn, state.PassedEndTime(), ""); err == nil {
				e.logger.Info("connection passed end time", "connection_id", conn.ID)
			}
		}
		unlock()
	}
}
