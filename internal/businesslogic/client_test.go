package businesslogic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kshinn/ilp-connector/internal/inbound"
)

func TestHandlePaymentAccept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["paymentId"] == "" {
			t.Errorf("expected paymentId to be set")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"accept": true})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	decision, err := c.HandlePayment(context.Background(), inbound.PaymentRequest{
		PaymentID:   "p1",
		Destination: "g.connector.peer1",
		Amount:      100,
		ExpiresAt:   time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Accept {
		t.Fatalf("expected accept=true")
	}
}

func TestHandlePaymentReject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accept":       false,
			"rejectReason": map[string]string{"code": "insufficient_funds", "message": "no"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	decision, err := c.HandlePayment(context.Background(), inbound.PaymentRequest{PaymentID: "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Accept || decision.Reject == nil || decision.Reject.Code != "insufficient_funds" {
		t.Fatalf("expected insufficient_funds reject, got %+v", decision)
	}
}

func TestHandlePaymentConnectionFailureFabricatesRejection(t *testing.T) {
	c := New("http://127.0.0.1:0", 10*time.Millisecond, nil)
	decision, err := c.HandlePayment(context.Background(), inbound.PaymentRequest{PaymentID: "p1"})
	if err != nil {
		t.Fatalf("expected fabricated rejection, not an error: %v", err)
	}
	if decision.Accept || decision.Reject == nil || decision.Reject.Code != "internal_error" {
		t.Fatalf("expected internal_error reject, got %+v", decision)
	}
}

func TestCheckSetupAllowsOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	ok, err := c.CheckSetup(context.Background(), "g.connector.peer1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected 404 to be interpreted as allow-by-default")
	}
}
