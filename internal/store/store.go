// ABOUTME: Store interface and data types for connection persistence.
// ABOUTME: Defines Connection, Anomaly and the Store interface.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/anaeng/aura/internal/state"
)

// ErrNotFound is returned when a requested connection does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateConnection is returned when creating a connection whose id
// already exists.
var ErrDuplicateConnection = errors.New("connection already exists")

// Connection is the requester's record of one end-to-end circuit
// reservation. ID is assigned by the requester at reserve time; the
// provider's id arrives with the first reserveConfirmed.
type Connection struct {
	ID                   string
	ProviderConnectionID string
	GlobalReservationID  string
	Description          string
	SourceSTP            string
	DestSTP              string
	SourceVLAN           int
	DestVLAN             int
	Bandwidth            int64 // Mbps
	StartTime            time.Time
	EndTime              time.Time
	Status               state.Status
	ArchivedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Anomaly kinds recorded by the engine.
const (
	AnomalyInvalidTransition   = "invalid_transition"
	AnomalyUnsolicitedMessage  = "unsolicited_message"
	AnomalyOperationTimeout    = "operation_timeout"
	AnomalyFault               = "fault"
	AnomalyErrorEvent          = "error_event"
	AnomalyStaleStatus         = "stale_status"
	AnomalyStatusDivergence    = "status_divergence"
	AnomalyDuplicateNotice     = "duplicate_notification"
	AnomalyMalformedEnvelope   = "malformed_envelope"
	AnomalyOrphanedCorrelation = "orphaned_correlation"
)

// Anomaly is one append-only log entry: a non-fatal inconsistency that
// does not corrupt state but requires operator visibility.
type Anomaly struct {
	ID            string
	ConnectionID  string
	Kind          string
	Detail        string
	CorrelationID string
	CreatedAt     time.Time
}

// Store defines the persistence contract for connections and anomalies.
type Store interface {
	CreateConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, id string) (*Connection, error)

	// GetConnectionByProviderID looks a connection up by the provider's
	// id; notifications carry only that id.
	GetConnectionByProviderID(ctx context.Context, providerConnectionID string) (*Connection, error)

	SaveConnection(ctx context.Context, conn *Connection) error
	ListConnections(ctx context.Context, includeArchived bool) ([]*Connection, error)

	SaveAnomaly(ctx context.Context, a *Anomaly) error
	ListAnomalies(ctx context.Context, connectionID string, limit int) ([]*Anomaly, error)

	// Close releases any resources held by the store.
	Close() error
}
