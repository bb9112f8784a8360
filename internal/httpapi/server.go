// Package httpapi implements the thin HTTP surface consumed by external
// callers: health/readiness probes and the two ILP packet endpoints. It is
// not part of the hard core — it only wires C4/C5 onto net/http.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kshinn/ilp-connector/internal/inbound"
)

// PeerSessionStatus reports whether the underlying peer session is up.
type PeerSessionStatus interface {
	IsConnected() bool
}

// Server wires the connector's HTTP surface.
type Server struct {
	nodeID    string
	peer      PeerSessionStatus
	inboundH  *inbound.Handler
	outboundH http.Handler
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New builds a Server. outboundH serves POST /ilp/send directly (see
// internal/outbound.Handler).
func New(nodeID string, peer PeerSessionStatus, inboundH *inbound.Handler, outboundH http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		nodeID:    nodeID,
		peer:      peer,
		inboundH:  inboundH,
		outboundH: outboundH,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/ilp/packets", s.handlePackets)
	s.mux.Handle("/ilp/send", outboundH)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status         string    `json:"status"`
	NodeID         string    `json:"nodeId"`
	ActiveSessions int       `json:"activeSessions"`
	BTPConnected   bool      `json:"btpConnected"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.peer != nil && s.peer.IsConnected()
	activeSessions := 0
	if connected {
		activeSessions = 1
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		NodeID:         s.nodeID,
		ActiveSessions: activeSessions,
		BTPConnected:   connected,
		Timestamp:      time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req inbound.LocalDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	resp, err := s.inboundH.HandleLocalDelivery(r.Context(), req)
	if err != nil {
		var verr *inbound.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error("unexpected error handling local delivery", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
