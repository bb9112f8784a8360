package fulfillment

import "testing"

func TestSimpleVerifyRoundTrip(t *testing.T) {
	s := Simple{}
	data := []byte("Hello World")
	cond := s.Condition(data)
	if !s.Verify(cond, data) {
		t.Fatalf("expected condition to verify against its own data")
	}
}

func TestSimpleVerifyRejectsBitFlip(t *testing.T) {
	s := Simple{}
	data := []byte("Hello World")
	cond := s.Condition(data)
	cond[0] ^= 0x01
	if s.Verify(cond, data) {
		t.Fatalf("expected flipped condition to fail verification")
	}
}

func TestConditionIsHashOfFulfillment(t *testing.T) {
	s := Simple{}
	data := []byte("payload")
	f := s.Fulfillment(data)
	cond := s.Condition(data)
	if got := s.ConditionFromFulfillment(f); got != cond {
		t.Fatalf("condition derived from fulfillment does not match direct derivation")
	}
}

func TestPSK2RoundTrip(t *testing.T) {
	p := PSK2{SharedSecret: []byte("shared-secret")}
	data := []byte("stream chunk")
	cond := p.Condition(data)
	if !p.Verify(cond, data) {
		t.Fatalf("expected PSK2 condition to verify")
	}
}

func TestFromName(t *testing.T) {
	if _, ok := FromName("simple", nil).(Simple); !ok {
		t.Fatalf("expected Simple scheme for name 'simple'")
	}
	if _, ok := FromName("", nil).(Simple); !ok {
		t.Fatalf("expected Simple scheme as default")
	}
	if _, ok := FromName("psk2", []byte("k")).(PSK2); !ok {
		t.Fatalf("expected PSK2 scheme for name 'psk2'")
	}
}
