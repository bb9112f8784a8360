// Package inbound implements the inbound ILP packet handler (C4): turning a
// Prepare into a Fulfill or Reject by delegating to a business-logic
// collaborator, with a simplified fulfillment derivation.
package inbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kshinn/ilp-connector/internal/fulfillment"
	"github.com/kshinn/ilp-connector/internal/ilp"
)

// PaymentRequest is what the business handler is asked to decide on.
type PaymentRequest struct {
	PaymentID   string
	Destination string
	Amount      uint64
	ExpiresAt   time.Time
	Data        []byte
}

// RejectReason is the business handler's reason for refusing a payment,
// using the vocabulary of the reasonCodeToILP table HandlePrepare maps it
// through.
type RejectReason struct {
	Code    string
	Message string
}

// PaymentDecision is the business handler's verdict.
type PaymentDecision struct {
	Accept bool
	Data   []byte // optional fulfillment companion data, already size-validated
	Reject *RejectReason
}

// BusinessHandler is the external collaborator C4 delegates payment
// decisions to. Implementations must not block indefinitely; pass a
// context with a deadline.
type BusinessHandler interface {
	HandlePayment(ctx context.Context, req PaymentRequest) (*PaymentDecision, error)

	// CheckSetup reports whether destination is a recognized, payable
	// account before a Prepare for it is handed to HandlePayment. A
	// collaborator with no such concept (e.g. one accepting every
	// destination) can report true unconditionally.
	CheckSetup(ctx context.Context, destination string) (bool, error)
}

// reasonCodeToILP maps a business handler's reject reason to an ILP error
// code per the fixed lookup table.
var reasonCodeToILP = map[string]string{
	"insufficient_funds": "T04",
	"expired":            "R00",
	"invalid_request":    "F00",
	"invalid_amount":     "F03",
	"unexpected_payment": "F06",
	"application_error":  "F99",
	"internal_error":     "T00",
	"timeout":            "T00",
}

// Handler implements the inbound packet handling algorithm of C4.
type Handler struct {
	business BusinessHandler
	scheme   fulfillment.Scheme
	logger   *slog.Logger
	nodeAddr string
}

// New creates a Handler. nodeAddr is used as the triggered_by address on
// locally-originated Rejects.
func New(business BusinessHandler, scheme fulfillment.Scheme, nodeAddr string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{business: business, scheme: scheme, nodeAddr: nodeAddr, logger: logger}
}

// HandlePrepare implements session.InboundHandler: it satisfies the method
// set the peer session borrows when servicing an ingress MESSAGE frame.
func (h *Handler) HandlePrepare(ctx context.Context, prepare *ilp.Prepare) (*ilp.Fulfill, *ilp.Reject) {
	if !time.Now().Before(prepare.ExpiresAt) {
		return nil, h.reject("R00", "Payment has expired", nil)
	}

	setUp, err := h.business.CheckSetup(ctx, prepare.Destination)
	if err != nil {
		h.logger.Error("business handler setup check error", "destination", prepare.Destination, "err", err)
		return nil, h.reject("T00", "Internal error processing payment", nil)
	}
	if !setUp {
		return nil, h.reject("F06", "No account set up for destination", nil)
	}

	paymentID := uuid.New().String()

	decision, err := h.business.HandlePayment(ctx, PaymentRequest{
		PaymentID:   paymentID,
		Destination: prepare.Destination,
		Amount:      prepare.Amount,
		ExpiresAt:   prepare.ExpiresAt,
		Data:        prepare.Data,
	})
	if err != nil {
		h.logger.Error("business handler error", "payment_id", paymentID, "err", err)
		return nil, h.reject("T00", "Internal error processing payment", nil)
	}

	if decision.Accept {
		f := h.scheme.Fulfillment(prepare.Data)
		return &ilp.Fulfill{Fulfillment: f, Data: decision.Data}, nil
	}

	code, message := "F99", "rejected"
	if decision.Reject != nil {
		message = decision.Reject.Message
		mapped, ok := reasonCodeToILP[decision.Reject.Code]
		if ok {
			code = mapped
		}
	}
	return nil, h.reject(code, message, decision.Data)
}

func (h *Handler) reject(code, message string, data []byte) *ilp.Reject {
	return &ilp.Reject{
		Code:        code,
		TriggeredBy: h.nodeAddr,
		Message:     message,
		Data:        data,
	}
}
