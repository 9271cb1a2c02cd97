// ABOUTME: The replyTo endpoint receiving provider SOAP callbacks
// ABOUTME: Feeds payloads to the engine and answers with the SOAP ack

package server

import (
	"io"
	"net/http"
)

// maxCallbackBytes bounds inbound callback payloads.
const maxCallbackBytes = 4 << 20

// handleCallback accepts one asynchronous provider message. Well-formed
// messages are always acknowledged with 200 and a GenericAcknowledgement
// envelope, whatever the dispatch found; malformed payloads get 400.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	ack, err := s.engine.OnProviderMessage(r.Context(), payload)
	if err != nil {
		s.logger.Warn("rejected provider message", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(ack)
}
