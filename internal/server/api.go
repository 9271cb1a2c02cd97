// ABOUTME: Operator JSON API for creating and driving connections
// ABOUTME: Exposes connection records, actions, and the anomaly log

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anaeng/aura/internal/correlation"
	"github.com/anaeng/aura/internal/engine"
	"github.com/anaeng/aura/internal/nsi"
	"github.com/anaeng/aura/internal/state"
	"github.com/anaeng/aura/internal/store"
)

// CreateConnectionRequest is the JSON request body for POST /api/connections.
type CreateConnectionRequest struct {
	Description         string `json:"description,omitempty"`
	GlobalReservationID string `json:"global_reservation_id,omitempty"`
	SourceSTP           string `json:"source_stp"`
	DestSTP             string `json:"dest_stp"`
	SourceVLAN          int    `json:"source_vlan,omitempty"`
	DestVLAN            int    `json:"dest_vlan,omitempty"`
	Bandwidth           int64  `json:"bandwidth_mbps"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
}

// ConnectionResponse is the JSON shape of one connection record.
type ConnectionResponse struct {
	ID                   string `json:"id"`
	ProviderConnectionID string `json:"provider_connection_id,omitempty"`
	GlobalReservationID  string `json:"global_reservation_id"`
	Description          string `json:"description,omitempty"`
	SourceSTP            string `json:"source_stp"`
	DestSTP              string `json:"dest_stp"`
	SourceVLAN           int    `json:"source_vlan,omitempty"`
	DestVLAN             int    `json:"dest_vlan,omitempty"`
	Bandwidth            int64  `json:"bandwidth_mbps"`
	StartTime            string `json:"start_time"`
	EndTime              string `json:"end_time"`
	ReservationState     string `json:"reservation_state"`
	ProvisionState       string `json:"provision_state"`
	LifecycleState       string `json:"lifecycle_state"`
	DataPlaneState       string `json:"data_plane_state"`
	Committed            bool   `json:"committed"`
	ArchivedAt           string `json:"archived_at,omitempty"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
}

// QueryResultResponse is the JSON shape of one provider query result.
type QueryResultResponse struct {
	ConnectionID        string `json:"connection_id"`
	GlobalReservationID string `json:"global_reservation_id,omitempty"`
	Description         string `json:"description,omitempty"`
	RequesterNSA        string `json:"requester_nsa,omitempty"`
	StartTime           string `json:"start_time,omitempty"`
	EndTime             string `json:"end_time,omitempty"`
	ReservationState    string `json:"reservation_state"`
	LifecycleState      string `json:"lifecycle_state"`
	DataPlaneActive     bool   `json:"data_plane_active"`
}

// AnomalyResponse is the JSON shape of one anomaly log entry.
type AnomalyResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func connectionResponse(c *store.Connection) ConnectionResponse {
	resp := ConnectionResponse{
		ID:                   c.ID,
		ProviderConnectionID: c.ProviderConnectionID,
		GlobalReservationID:  c.GlobalReservationID,
		Description:          c.Description,
		SourceSTP:            c.SourceSTP,
		DestSTP:              c.DestSTP,
		SourceVLAN:           c.SourceVLAN,
		DestVLAN:             c.DestVLAN,
		Bandwidth:            c.Bandwidth,
		StartTime:            c.StartTime.Format(time.RFC3339),
		EndTime:              c.EndTime.Format(time.RFC3339),
		ReservationState:     string(c.Status.Reservation),
		ProvisionState:       string(c.Status.Provision),
		LifecycleState:       string(c.Status.Lifecycle),
		DataPlaneState:       string(c.Status.DataPlane),
		Committed:            c.Status.Committed,
		CreatedAt:            c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            c.UpdatedAt.Format(time.RFC3339),
	}
	if c.ArchivedAt != nil {
		resp.ArchivedAt = c.ArchivedAt.Format(time.RFC3339)
	}
	return resp
}

// handleConnections handles /api/connections: list and create.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listConnections(w, r)
	case http.MethodPost:
		s.createConnection(w, r)
	default:
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"
	conns, err := s.store.ListConnections(r.Context(), includeArchived)
	if err != nil {
		s.sendJSONError(w, http.StatusInternalServerError, "listing connections failed")
		return
	}

	out := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		out = append(out, connectionResponse(c))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request) {
	var req CreateConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid start_time: %v", err))
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid end_time: %v", err))
		return
	}

	conn, err := s.engine.CreateConnection(r.Context(), engine.CreateParams{
		Description:         req.Description,
		GlobalReservationID: req.GlobalReservationID,
		SourceSTP:           req.SourceSTP,
		DestSTP:             req.DestSTP,
		SourceVLAN:          req.SourceVLAN,
		DestVLAN:            req.DestVLAN,
		Bandwidth:           req.Bandwidth,
		StartTime:           start,
		EndTime:             end,
	})
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, connectionResponse(conn))
}

// handleConnectionRoutes handles /api/connections/{id} and
// /api/connections/{id}/{action}.
func (s *Server) handleConnectionRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/connections/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if parts[0] == "" {
		s.sendJSONError(w, http.StatusNotFound, "missing connection id")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.getConnection(w, r, id)
		return
	}

	switch parts[1] {
	case "anomalies":
		if r.Method != http.MethodGet {
			s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.listAnomalies(w, r, id)
	default:
		if r.Method != http.MethodPost {
			s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.runAction(w, r, id, parts[1])
	}
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request, id string) {
	conn, err := s.store.GetConnection(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "connection not found")
		return
	}
	if err != nil {
		s.sendJSONError(w, http.StatusInternalServerError, "loading connection failed")
		return
	}
	s.writeJSON(w, http.StatusOK, connectionResponse(conn))
}

func (s *Server) listAnomalies(w http.ResponseWriter, r *http.Request, id string) {
	anomalies, err := s.store.ListAnomalies(r.Context(), id, 100)
	if err != nil {
		s.sendJSONError(w, http.StatusInternalServerError, "listing anomalies failed")
		return
	}

	out := make([]AnomalyResponse, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, AnomalyResponse{
			ID:            a.ID,
			Kind:          a.Kind,
			Detail:        a.Detail,
			CorrelationID: a.CorrelationID,
			CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// runAction drives one protocol operation for a connection.
func (s *Server) runAction(w http.ResponseWriter, r *http.Request, id, action string) {
	ctx := r.Context()

	var err error
	switch action {
	case "reserve":
		err = s.engine.Reserve(ctx, id)
	case "commit":
		err = s.engine.ReserveCommit(ctx, id)
	case "abort":
		err = s.engine.ReserveAbort(ctx, id)
	case "provision":
		err = s.engine.Provision(ctx, id)
	case "release":
		err = s.engine.Release(ctx, id)
	case "terminate":
		err = s.engine.Terminate(ctx, id)
	case "query":
		var results []nsi.QueryResult
		results, err = s.engine.QuerySummary(ctx, id)
		if err == nil {
			out := make([]QueryResultResponse, 0, len(results))
			for _, res := range results {
				qr := QueryResultResponse{
					ConnectionID:        res.ConnectionID,
					GlobalReservationID: res.GlobalReservationID,
					Description:         res.Description,
					RequesterNSA:        res.RequesterNSA,
					ReservationState:    res.ReservationState,
					LifecycleState:      res.LifecycleState,
					DataPlaneActive:     res.DataPlaneActive,
				}
				if !res.StartTime.IsZero() {
					qr.StartTime = res.StartTime.Format(time.RFC3339)
				}
				if !res.EndTime.IsZero() {
					qr.EndTime = res.EndTime.Format(time.RFC3339)
				}
				out = append(out, qr)
			}
			s.writeJSON(w, http.StatusOK, out)
			return
		}
	default:
		s.sendJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "connection not found")
		return
	case errors.Is(err, state.ErrInvalidTransition),
		errors.Is(err, engine.ErrNoProviderConnection),
		errors.Is(err, correlation.ErrConflictingOperation):
		s.sendJSONError(w, http.StatusConflict, err.Error())
		return
	default:
		s.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		s.sendJSONError(w, http.StatusInternalServerError, "loading connection failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, connectionResponse(conn))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
