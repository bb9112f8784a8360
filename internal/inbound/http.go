package inbound

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/kshinn/ilp-connector/internal/ilp"
)

// maxOutboundDataBytes caps the decoded size of a fulfillment's companion
// data field; larger payloads are dropped rather than sent to the peer.
const maxOutboundDataBytes = 32768

// LocalDeliveryRequest is the JSON body of POST /ilp/packets: a local
// delivery request with base64-encoded byte fields.
type LocalDeliveryRequest struct {
	Destination        string `json:"destination"`
	Amount             string `json:"amount"`
	ExecutionCondition string `json:"executionCondition"`
	ExpiresAt          string `json:"expiresAt"`
	Data               string `json:"data"`
	SourcePeer         string `json:"sourcePeer"`
}

// LocalDeliveryResponse is the JSON body returned by POST /ilp/packets.
type LocalDeliveryResponse struct {
	Fulfill *FulfillBody `json:"fulfill,omitempty"`
	Reject  *RejectBody  `json:"reject,omitempty"`
}

// FulfillBody carries a base64-encoded fulfillment.
type FulfillBody struct {
	Fulfillment string `json:"fulfillment"`
	Data        string `json:"data,omitempty"`
}

// RejectBody carries a rejection code and message.
type RejectBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// ValidationError indicates a LocalDeliveryRequest is missing a required
// field or has a malformed one; callers should respond 400.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid local delivery request: %s", e.Field)
}

// HandleLocalDelivery is the HTTP-facing entry point for POST /ilp/packets:
// it decodes base64 fields, runs the same algorithm as HandlePrepare, and
// re-encodes the result as a LocalDeliveryResponse.
func (h *Handler) HandleLocalDelivery(ctx context.Context, req LocalDeliveryRequest) (*LocalDeliveryResponse, error) {
	if req.Destination == "" {
		return nil, &ValidationError{Field: "destination"}
	}
	if req.ExpiresAt == "" {
		return nil, &ValidationError{Field: "expiresAt"}
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, req.ExpiresAt)
	if err != nil {
		return nil, &ValidationError{Field: "expiresAt"}
	}

	var condition [32]byte
	if req.ExecutionCondition != "" {
		condBytes, err := base64.StdEncoding.DecodeString(req.ExecutionCondition)
		if err != nil || len(condBytes) != 32 {
			return nil, &ValidationError{Field: "executionCondition"}
		}
		copy(condition[:], condBytes)
	}

	var data []byte
	if req.Data != "" {
		data, err = base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return nil, &ValidationError{Field: "data"}
		}
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, &ValidationError{Field: "amount"}
	}

	prepare := &ilp.Prepare{
		Destination:        req.Destination,
		Amount:             amount,
		ExecutionCondition: condition,
		ExpiresAt:          expiresAt,
		Data:               data,
	}

	fulfill, reject := h.HandlePrepare(ctx, prepare)
	resp := &LocalDeliveryResponse{}
	switch {
	case fulfill != nil:
		body := &FulfillBody{Fulfillment: base64.StdEncoding.EncodeToString(fulfill.Fulfillment[:])}
		if d := sanitizeOutboundData(fulfill.Data, h.logger); d != nil {
			body.Data = base64.StdEncoding.EncodeToString(d)
		}
		resp.Fulfill = body
	case reject != nil:
		body := &RejectBody{Code: reject.Code, Message: reject.Message}
		if d := sanitizeOutboundData(reject.Data, h.logger); d != nil {
			body.Data = base64.StdEncoding.EncodeToString(d)
		}
		resp.Reject = body
	}
	return resp, nil
}

// sanitizeOutboundData enforces the 32KiB cap on a fulfillment/reject's
// companion data, logging and dropping it (rather than failing the whole
// response) if the cap is exceeded.
func sanitizeOutboundData(data []byte, logger interface{ Warn(string, ...any) }) []byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) > maxOutboundDataBytes {
		logger.Warn("dropping outbound data exceeding size cap", "size", len(data), "cap", maxOutboundDataBytes)
		return nil
	}
	return data
}

func parseAmount(s string) (uint64, error) {
	var amount uint64
	if s == "" {
		return 0, fmt.Errorf("amount is required")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("amount must be numeric")
		}
		amount = amount*10 + uint64(c-'0')
	}
	return amount, nil
}
