// Package fulfillment implements condition/fulfillment derivation for ILP
// conditional payments. Two schemes are supported: the connector's simple
// SHA-256-only scheme (production default) and HMAC-SHA-256 per RFC-0029
// (PSK2/STREAM), selected per session by configuration.
package fulfillment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

// Scheme derives and verifies condition/fulfillment pairs from packet data.
type Scheme interface {
	// Fulfillment derives the 32-byte fulfillment (preimage) for data.
	Fulfillment(data []byte) [32]byte
	// Condition derives the 32-byte execution condition for data.
	Condition(data []byte) [32]byte
	// ConditionFromFulfillment derives the condition from a known fulfillment.
	ConditionFromFulfillment(f [32]byte) [32]byte
	// Verify reports whether condition is the correct hash of data under
	// this scheme, using a constant-time comparison.
	Verify(condition [32]byte, data []byte) bool
}

// Simple is the production fulfillment scheme:
//
//	fulfillment = SHA-256(data)
//	condition   = SHA-256(fulfillment) = SHA-256(SHA-256(data))
type Simple struct{}

// Fulfillment implements Scheme.
func (Simple) Fulfillment(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Condition implements Scheme.
func (s Simple) Condition(data []byte) [32]byte {
	f := s.Fulfillment(data)
	return s.ConditionFromFulfillment(f)
}

// ConditionFromFulfillment implements Scheme.
func (Simple) ConditionFromFulfillment(f [32]byte) [32]byte {
	return sha256.Sum256(f[:])
}

// Verify implements Scheme.
func (s Simple) Verify(condition [32]byte, data []byte) bool {
	got := s.Condition(data)
	return subtle.ConstantTimeCompare(got[:], condition[:]) == 1
}

// PSK2 implements the classic STREAM/PSK2 fulfillment scheme from RFC-0029:
// an HMAC-SHA-256 of the data, keyed by a per-session shared secret, rather
// than a bare hash. It is offered for compatibility with peers that expect
// the RFC-0029 derivation; the connector's own production path uses Simple.
type PSK2 struct {
	SharedSecret []byte
}

// Fulfillment implements Scheme.
func (p PSK2) Fulfillment(data []byte) [32]byte {
	mac := hmac.New(sha256.New, p.SharedSecret)
	mac.Write(data)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Condition implements Scheme.
func (p PSK2) Condition(data []byte) [32]byte {
	f := p.Fulfillment(data)
	return p.ConditionFromFulfillment(f)
}

// ConditionFromFulfillment implements Scheme.
func (PSK2) ConditionFromFulfillment(f [32]byte) [32]byte {
	return sha256.Sum256(f[:])
}

// Verify implements Scheme.
func (p PSK2) Verify(condition [32]byte, data []byte) bool {
	got := p.Condition(data)
	return subtle.ConstantTimeCompare(got[:], condition[:]) == 1
}

// FromName resolves a configured scheme name ("simple" or "psk2") to a
// Scheme instance. sharedSecret is only consulted for "psk2".
func FromName(name string, sharedSecret []byte) Scheme {
	if name == "psk2" {
		return PSK2{SharedSecret: sharedSecret}
	}
	return Simple{}
}
