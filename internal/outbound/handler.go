// Package outbound implements the outbound send handler (C5): accepting a
// {destination, amount, data} request, building an ILP Prepare, and
// awaiting the peer's reply through the bilateral session.
package outbound

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/kshinn/ilp-connector/internal/fulfillment"
	"github.com/kshinn/ilp-connector/internal/ilp"
	"github.com/kshinn/ilp-connector/internal/session"
)

const (
	defaultTimeoutMs = 30000
	maxDataBytes     = 65536
)

var amountPattern = regexp.MustCompile(`^\d+$`)

// PeerSession is the subset of *session.Session the outbound handler needs.
// Defined locally as an interface so the handler does not depend on the
// concrete WebSocket-backed session type (tests drive it with a fake).
type PeerSession interface {
	IsConnected() bool
	SendPacket(ctx context.Context, prepare *ilp.Prepare) (*ilp.Fulfill, *ilp.Reject, error)
}

// Request is the JSON body of POST /ilp/send.
type Request struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Data        string `json:"data"`
	TimeoutMs   *int64 `json:"timeout_ms,omitempty"`
}

// Response is the JSON body returned by POST /ilp/send.
type Response struct {
	Accepted    bool   `json:"accepted"`
	Fulfilled   bool   `json:"fulfilled"`
	Fulfillment string `json:"fulfillment,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	Data        string `json:"data,omitempty"`
}

// Handler serves POST /ilp/send.
type Handler struct {
	session PeerSession
	scheme  fulfillment.Scheme
	logger  *slog.Logger
}

// New creates a Handler. session may be nil until a peer connects; requests
// made before then fail with 503 per NotConnected semantics.
func New(session PeerSession, scheme fulfillment.Scheme, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{session: session, scheme: scheme, logger: logger}
}

// SetSession swaps in the live peer session once it has been constructed.
func (h *Handler) SetSession(session PeerSession) {
	h.session = session
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	decodedData, timeoutMs, err := validate(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.session == nil || !h.session.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "no connected peer session")
		return
	}

	condition := h.scheme.Condition(decodedData)
	prepare := &ilp.Prepare{
		Amount:             mustParseUint(req.Amount),
		Destination:        req.Destination,
		ExecutionCondition: condition,
		ExpiresAt:          time.Now().Add(time.Duration(timeoutMs) * time.Millisecond),
		Data:               decodedData,
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	fulfill, reject, err := h.session.SendPacket(ctx, prepare)
	switch {
	case session.IsTimeout(err):
		// The session's own per-request timer (derived from the Prepare's
		// expiry) fires before this outer context does in the common case,
		// so a timeout surfaces as a *session.TimeoutError over resultCh,
		// not as ctx.Err(). Recognize both.
		writeJSON(w, http.StatusRequestTimeout, Response{Accepted: false, Fulfilled: false, Message: "request timed out"})
		return
	case err != nil:
		h.logger.Error("outbound send failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, Response{Accepted: false, Fulfilled: false, Message: err.Error()})
		return
	case fulfill != nil:
		resp := Response{Accepted: true, Fulfilled: true, Fulfillment: base64.StdEncoding.EncodeToString(fulfill.Fulfillment[:])}
		if len(fulfill.Data) > 0 {
			resp.Data = base64.StdEncoding.EncodeToString(fulfill.Data)
		}
		writeJSON(w, http.StatusOK, resp)
	case reject != nil:
		resp := Response{Accepted: false, Fulfilled: false, Code: reject.Code, Message: reject.Message}
		if len(reject.Data) > 0 {
			resp.Data = base64.StdEncoding.EncodeToString(reject.Data)
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, Response{Accepted: false, Fulfilled: false, Message: "no response from peer"})
	}
}

func validate(req Request) (data []byte, timeoutMs int64, err error) {
	if err := ilp.ValidateAddress(req.Destination); err != nil {
		return nil, 0, fmt.Errorf("invalid destination: %w", err)
	}
	if !amountPattern.MatchString(req.Amount) {
		return nil, 0, fmt.Errorf("amount must match ^\\d+$")
	}
	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return nil, 0, fmt.Errorf("data is not valid base64")
	}
	if base64.StdEncoding.EncodeToString(decoded) != req.Data {
		return nil, 0, fmt.Errorf("data is not valid base64")
	}
	if len(decoded) > maxDataBytes {
		return nil, 0, fmt.Errorf("Data exceeds maximum size of %d bytes", maxDataBytes)
	}
	timeoutMs = defaultTimeoutMs
	if req.TimeoutMs != nil {
		if *req.TimeoutMs <= 0 {
			return nil, 0, fmt.Errorf("timeout_ms must be a positive integer")
		}
		timeoutMs = *req.TimeoutMs
	}
	return decoded, timeoutMs, nil
}

func mustParseUint(s string) uint64 {
	var v uint64
	for _, c := range s {
		v = v*10 + uint64(c-'0')
	}
	return v
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
