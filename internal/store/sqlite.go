// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Connection/anomaly persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/anaeng/aura/internal/state"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			provider_connection_id TEXT NOT NULL DEFAULT '',
			global_reservation_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			source_stp TEXT NOT NULL,
			dest_stp TEXT NOT NULL,
			source_vlan INTEGER NOT NULL,
			dest_vlan INTEGER NOT NULL,
			bandwidth INTEGER NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			reservation_state TEXT NOT NULL,
			provision_state TEXT NOT NULL,
			lifecycle_state TEXT NOT NULL,
			data_plane_state TEXT NOT NULL,
			committed INTEGER NOT NULL DEFAULT 0,
			archived_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_connections_archived
			ON connections(archived_at);

		CREATE INDEX IF NOT EXISTS idx_connections_provider
			ON connections(provider_connection_id);

		-- connection_id is not a foreign key: malformed envelopes produce
		-- anomalies with no owning connection.
		CREATE TABLE IF NOT EXISTS anomalies (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_anomalies_connection
			ON anomalies(connection_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateConnection inserts a new connection record.
func (s *SQLiteStore) CreateConnection(ctx context.Context, conn *Connection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (
			id, provider_connection_id, global_reservation_id, description,
			source_stp, dest_stp, source_vlan, dest_vlan, bandwidth,
			start_time, end_time,
			reservation_state, provision_state, lifecycle_state, data_plane_state,
			committed, archived_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.ProviderConnectionID, conn.GlobalReservationID, conn.Description,
		conn.SourceSTP, conn.DestSTP, conn.SourceVLAN, conn.DestVLAN, conn.Bandwidth,
		conn.StartTime, conn.EndTime,
		string(conn.Status.Reservation), string(conn.Status.Provision),
		string(conn.Status.Lifecycle), string(conn.Status.DataPlane),
		boolToInt(conn.Status.Committed), conn.ArchivedAt, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConnection
		}
		return fmt.Errorf("inserting connection: %w", err)
	}
	return nil
}

// GetConnection retrieves a connection by id.
func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider_connection_id, global_reservation_id, description,
			source_stp, dest_stp, source_vlan, dest_vlan, bandwidth,
			start_time, end_time,
			reservation_state, provision_state, lifecycle_state, data_plane_state,
			committed, archived_at, created_at, updated_at
		FROM connections WHERE id = ?`, id)
	return scanConnection(row)
}

// GetConnectionByProviderID retrieves a connection by the provider-assigned
// id carried in notifications.
func (s *SQLiteStore) GetConnectionByProviderID(ctx context.Context, providerConnectionID string) (*Connection, error) {
	// Rows awaiting their reserve ack still carry an empty provider id.
	if providerConnectionID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider_connection_id, global_reservation_id, description,
			source_stp, dest_stp, source_vlan, dest_vlan, bandwidth,
			start_time, end_time,
			reservation_state, provision_state, lifecycle_state, data_plane_state,
			committed, archived_at, created_at, updated_at
		FROM connections WHERE provider_connection_id = ?`, providerConnectionID)
	return scanConnection(row)
}

// SaveConnection updates an existing connection record.
func (s *SQLiteStore) SaveConnection(ctx context.Context, conn *Connection) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET
			provider_connection_id = ?, global_reservation_id = ?, description = ?,
			source_stp = ?, dest_stp = ?, source_vlan = ?, dest_vlan = ?, bandwidth = ?,
			start_time = ?, end_time = ?,
			reservation_state = ?, provision_state = ?, lifecycle_state = ?, data_plane_state = ?,
			committed = ?, archived_at = ?, updated_at = ?
		WHERE id = ?`,
		conn.ProviderConnectionID, conn.GlobalReservationID, conn.Description,
		conn.SourceSTP, conn.DestSTP, conn.SourceVLAN, conn.DestVLAN, conn.Bandwidth,
		conn.StartTime, conn.EndTime,
		string(conn.Status.Reservation), string(conn.Status.Provision),
		string(conn.Status.Lifecycle), string(conn.Status.DataPlane),
		boolToInt(conn.Status.Committed), conn.ArchivedAt, conn.UpdatedAt,
		conn.ID,
	)
	if err != nil {
		return fmt.Errorf("updating connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConnections returns connections, newest first. Archived records are
// included only when requested.
func (s *SQLiteStore) ListConnections(ctx context.Context, includeArchived bool) ([]*Connection, error) {
	query := `
		SELECT id, provider_connection_id, global_reservation_id, description,
			source_stp, dest_stp, source_vlan, dest_vlan, bandwidth,
			start_time, end_time,
			reservation_state, provision_state, lifecycle_state, data_plane_state,
			committed, archived_at, created_at, updated_at
		FROM connections`
	if !includeArchived {
		query += " WHERE archived_at IS NULL"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// SaveAnomaly appends an anomaly entry.
func (s *SQLiteStore) SaveAnomaly(ctx context.Context, a *Anomaly) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomalies (id, connection_id, kind, detail, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ConnectionID, a.Kind, a.Detail, a.CorrelationID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting anomaly: %w", err)
	}
	return nil
}

// ListAnomalies returns the newest anomalies for a connection.
func (s *SQLiteStore) ListAnomalies(ctx context.Context, connectionID string, limit int) ([]*Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, kind, detail, correlation_id, created_at
		FROM anomalies WHERE connection_id = ?
		ORDER BY created_at DESC LIMIT ?`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*Anomaly
	for rows.Next() {
		a := &Anomaly{}
		if err := rows.Scan(&a.ID, &a.ConnectionID, &a.Kind, &a.Detail, &a.CorrelationID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning anomaly: %w", err)
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(sc scanner) (*Connection, error) {
	conn := &Connection{}
	var reservation, provision, lifecycle, dataPlane string
	var committed int
	var archivedAt sql.NullTime

	err := sc.Scan(
		&conn.ID, &conn.ProviderConnectionID, &conn.GlobalReservationID, &conn.Description,
		&conn.SourceSTP, &conn.DestSTP, &conn.SourceVLAN, &conn.DestVLAN, &conn.Bandwidth,
		&conn.StartTime, &conn.EndTime,
		&reservation, &provision, &lifecycle, &dataPlane,
		&committed, &archivedAt, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning connection: %w", err)
	}

	conn.Status = state.Status{
		Reservation: state.Reservation(reservation),
		Provision:   state.Provision(provision),
		Lifecycle:   state.Lifecycle(lifecycle),
		DataPlane:   state.DataPlane(dataPlane),
		Committed:   committed != 0,
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		conn.ArchivedAt = &t
	}
	return conn, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a primary key or unique index
// violation. modernc.org/sqlite reports these as plain errors, so we match
// on the message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
