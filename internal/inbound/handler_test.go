package inbound

import (
	"context"
	"testing"
	"time"

	"github.com/kshinn/ilp-connector/internal/fulfillment"
	"github.com/kshinn/ilp-connector/internal/ilp"
)

type stubBusiness struct {
	decision *PaymentDecision
	err      error
	called   bool

	notSetUp    bool
	setupErr    error
	setupCalled bool
}

func (s *stubBusiness) HandlePayment(ctx context.Context, req PaymentRequest) (*PaymentDecision, error) {
	s.called = true
	return s.decision, s.err
}

func (s *stubBusiness) CheckSetup(ctx context.Context, destination string) (bool, error) {
	s.setupCalled = true
	if s.setupErr != nil {
		return false, s.setupErr
	}
	return !s.notSetUp, nil
}

func newPrepare(expiresAt time.Time, data []byte) *ilp.Prepare {
	return &ilp.Prepare{
		Amount:      1000,
		ExpiresAt:   expiresAt,
		Destination: "g.connector.local",
		Data:        data,
	}
}

func TestHandlePrepareExpired(t *testing.T) {
	biz := &stubBusiness{}
	h := New(biz, fulfillment.Simple{}, "g.connector.self", nil)

	prepare := newPrepare(time.Now().Add(-time.Second), []byte("x"))
	fulfill, reject := h.HandlePrepare(context.Background(), prepare)

	if fulfill != nil {
		t.Fatalf("expected no fulfill for expired prepare")
	}
	if reject == nil || reject.Code != "R00" {
		t.Fatalf("expected R00 reject, got %+v", reject)
	}
	if biz.called {
		t.Fatalf("business handler must not be called for an expired prepare")
	}
}

func TestHandlePrepareAccept(t *testing.T) {
	scheme := fulfillment.Simple{}
	biz := &stubBusiness{decision: &PaymentDecision{Accept: true}}
	h := New(biz, scheme, "g.connector.self", nil)

	data := []byte("Hello World")
	prepare := newPrepare(time.Now().Add(time.Minute), data)
	fulfill, reject := h.HandlePrepare(context.Background(), prepare)

	if reject != nil {
		t.Fatalf("expected fulfill, got reject %+v", reject)
	}
	if fulfill.Fulfillment != scheme.Fulfillment(data) {
		t.Fatalf("fulfillment does not match SHA-256(data)")
	}
}

func TestHandlePrepareRejectMapsReasonCode(t *testing.T) {
	cases := []struct {
		reason string
		want   string
	}{
		{"insufficient_funds", "T04"},
		{"expired", "R00"},
		{"invalid_request", "F00"},
		{"invalid_amount", "F03"},
		{"unexpected_payment", "F06"},
		{"application_error", "F99"},
		{"internal_error", "T00"},
		{"timeout", "T00"},
		{"something_unknown", "F99"},
	}
	for _, c := range cases {
		biz := &stubBusiness{decision: &PaymentDecision{
			Accept: false,
			Reject: &RejectReason{Code: c.reason, Message: "no"},
		}}
		h := New(biz, fulfillment.Simple{}, "g.connector.self", nil)
		prepare := newPrepare(time.Now().Add(time.Minute), []byte("x"))
		_, reject := h.HandlePrepare(context.Background(), prepare)
		if reject == nil || reject.Code != c.want {
			t.Errorf("reason %q: expected code %q, got %+v", c.reason, c.want, reject)
		}
	}
}

func TestHandlePrepareNotSetUp(t *testing.T) {
	biz := &stubBusiness{notSetUp: true, decision: &PaymentDecision{Accept: true}}
	h := New(biz, fulfillment.Simple{}, "g.connector.self", nil)
	prepare := newPrepare(time.Now().Add(time.Minute), []byte("x"))
	fulfill, reject := h.HandlePrepare(context.Background(), prepare)

	if fulfill != nil {
		t.Fatalf("expected no fulfill for a destination with no account set up")
	}
	if reject == nil || reject.Code != "F06" {
		t.Fatalf("expected F06 reject, got %+v", reject)
	}
	if biz.called {
		t.Fatalf("business handler must not be called when the destination isn't set up")
	}
}

func TestHandlePrepareSetupCheckError(t *testing.T) {
	biz := &stubBusiness{setupErr: context.DeadlineExceeded}
	h := New(biz, fulfillment.Simple{}, "g.connector.self", nil)
	prepare := newPrepare(time.Now().Add(time.Minute), []byte("x"))
	fulfill, reject := h.HandlePrepare(context.Background(), prepare)

	if fulfill != nil {
		t.Fatalf("expected no fulfill on setup check error")
	}
	if reject == nil || reject.Code != "T00" {
		t.Fatalf("expected T00 reject on setup check error, got %+v", reject)
	}
}

func TestHandlePrepareHandlerError(t *testing.T) {
	biz := &stubBusiness{err: context.DeadlineExceeded}
	h := New(biz, fulfillment.Simple{}, "g.connector.self", nil)
	prepare := newPrepare(time.Now().Add(time.Minute), []byte("x"))
	fulfill, reject := h.HandlePrepare(context.Background(), prepare)
	if fulfill != nil {
		t.Fatalf("expected no fulfill on handler error")
	}
	if reject == nil || reject.Code != "T00" {
		t.Fatalf("expected T00 reject on handler error, got %+v", reject)
	}
}
