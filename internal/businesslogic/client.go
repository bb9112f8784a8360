// Package businesslogic implements the HTTP client collaborator that C4
// delegates payment accept/reject decisions to.
package businesslogic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kshinn/ilp-connector/internal/inbound"
)

const maxDataBytes = 32768

// Client calls the business-logic container's /handle-payment endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client targeting baseURL, with the given request timeout
// (defaulting to 5s per the external interface spec).
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type paymentRequestBody struct {
	PaymentID   string `json:"paymentId"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	ExpiresAt   string `json:"expiresAt"`
	Data        string `json:"data,omitempty"`
}

type paymentResponseBody struct {
	Accept       bool   `json:"accept"`
	Data         string `json:"data,omitempty"`
	RejectReason *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"rejectReason,omitempty"`
}

// HandlePayment implements inbound.BusinessHandler.
func (c *Client) HandlePayment(ctx context.Context, req inbound.PaymentRequest) (*inbound.PaymentDecision, error) {
	body := paymentRequestBody{
		PaymentID:   req.PaymentID,
		Destination: req.Destination,
		Amount:      fmt.Sprintf("%d", req.Amount),
		ExpiresAt:   req.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
	if len(req.Data) > 0 {
		body.Data = base64.StdEncoding.EncodeToString(req.Data)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/handle-payment", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Connection failures map to a fabricated rejection rather than a
		// hard error, so the caller always has a Reject to send back.
		c.logger.Warn("business logic unreachable", "err", err)
		return &inbound.PaymentDecision{
			Accept: false,
			Reject: &inbound.RejectReason{Code: "internal_error", Message: err.Error()},
		}, nil
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading business logic response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("business logic returned %d: %s", resp.StatusCode, respBytes)
	}

	var out paymentResponseBody
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return nil, fmt.Errorf("decoding business logic response: %w", err)
	}

	decision := &inbound.PaymentDecision{Accept: out.Accept}
	if out.RejectReason != nil {
		decision.Reject = &inbound.RejectReason{Code: out.RejectReason.Code, Message: out.RejectReason.Message}
	}
	if out.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(out.Data)
		if err != nil {
			c.logger.Warn("dropping non-base64 data from business handler")
		} else if len(decoded) > maxDataBytes {
			c.logger.Warn("dropping oversized data from business handler", "size", len(decoded))
		} else {
			decision.Data = decoded
		}
	}
	return decision, nil
}

// CheckSetup calls the optional setup hook at {baseURL}/setup, interpreting
// a 404 as "allow by default".
func (c *Client) CheckSetup(ctx context.Context, destination string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/setup", bytes.NewReader([]byte(fmt.Sprintf(`{"destination":%q}`, destination))))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("calling setup hook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	return resp.StatusCode < 400, nil
}
