package ilp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Packet type tags used on the wire, inside a BTP frame's ilp_packet field.
const (
	TypePrepare uint8 = 12
	TypeFulfill uint8 = 13
	TypeReject  uint8 = 14
)

const timeLayout = time.RFC3339Nano

// Prepare is the ILP Prepare packet: a conditional payment instruction.
type Prepare struct {
	Amount             uint64
	ExpiresAt          time.Time
	ExecutionCondition [32]byte
	Destination        string
	Data               []byte
}

// Fulfill is the ILP Fulfill packet: proof of payment (the condition's preimage).
type Fulfill struct {
	Fulfillment [32]byte
	Data        []byte
}

// Reject is the ILP Reject packet: a structured refusal.
type Reject struct {
	Code        string // 3-character ILP error code, e.g. "F00"
	TriggeredBy string // ILP address of the node that produced the rejection
	Message     string
	Data        []byte
}

// EncodePrepare serializes p into its wire representation.
func EncodePrepare(p *Prepare) ([]byte, error) {
	if err := ValidateAddress(p.Destination); err != nil {
		return nil, fmt.Errorf("encode prepare: %w", err)
	}
	ts := []byte(p.ExpiresAt.UTC().Format(timeLayout))
	if len(ts) > 255 {
		return nil, fmt.Errorf("encode prepare: expires_at timestamp too long")
	}
	dest := []byte(p.Destination)
	buf := make([]byte, 0, 1+8+1+len(ts)+32+1+len(dest)+4+len(p.Data))
	buf = append(buf, TypePrepare)
	buf = binary.BigEndian.AppendUint64(buf, p.Amount)
	buf = append(buf, byte(len(ts)))
	buf = append(buf, ts...)
	buf = append(buf, p.ExecutionCondition[:]...)
	buf = append(buf, byte(len(dest)))
	buf = append(buf, dest...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Data)))
	buf = append(buf, p.Data...)
	return buf, nil
}

// DecodePrepare parses a Prepare packet from its wire representation.
func DecodePrepare(b []byte) (*Prepare, error) {
	r := newReader(b)
	typ, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("decode prepare: %w", err)
	}
	if typ != TypePrepare {
		return nil, fmt.Errorf("decode prepare: wrong packet type %d", typ)
	}
	amount, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("decode prepare: amount: %w", err)
	}
	tsBytes, err := r.lenPrefixed8()
	if err != nil {
		return nil, fmt.Errorf("decode prepare: expires_at: %w", err)
	}
	expiresAt, err := time.Parse(timeLayout, string(tsBytes))
	if err != nil {
		return nil, fmt.Errorf("decode prepare: expires_at: %w", err)
	}
	var cond [32]byte
	condBytes, err := r.fixed(32)
	if err != nil {
		return nil, fmt.Errorf("decode prepare: execution_condition: %w", err)
	}
	copy(cond[:], condBytes)
	destBytes, err := r.lenPrefixed8()
	if err != nil {
		return nil, fmt.Errorf("decode prepare: destination: %w", err)
	}
	data, err := r.lenPrefixed32()
	if err != nil {
		return nil, fmt.Errorf("decode prepare: data: %w", err)
	}
	if !r.done() {
		return nil, fmt.Errorf("decode prepare: trailing bytes")
	}
	return &Prepare{
		Amount:             amount,
		ExpiresAt:          expiresAt,
		ExecutionCondition: cond,
		Destination:        string(destBytes),
		Data:               data,
	}, nil
}

// EncodeFulfill serializes f into its wire representation.
func EncodeFulfill(f *Fulfill) ([]byte, error) {
	buf := make([]byte, 0, 1+32+4+len(f.Data))
	buf = append(buf, TypeFulfill)
	buf = append(buf, f.Fulfillment[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Data)))
	buf = append(buf, f.Data...)
	return buf, nil
}

// DecodeFulfill parses a Fulfill packet from its wire representation.
func DecodeFulfill(b []byte) (*Fulfill, error) {
	r := newReader(b)
	typ, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("decode fulfill: %w", err)
	}
	if typ != TypeFulfill {
		return nil, fmt.Errorf("decode fulfill: wrong packet type %d", typ)
	}
	var fulfillment [32]byte
	fb, err := r.fixed(32)
	if err != nil {
		return nil, fmt.Errorf("decode fulfill: fulfillment: %w", err)
	}
	copy(fulfillment[:], fb)
	data, err := r.lenPrefixed32()
	if err != nil {
		return nil, fmt.Errorf("decode fulfill: data: %w", err)
	}
	if !r.done() {
		return nil, fmt.Errorf("decode fulfill: trailing bytes")
	}
	return &Fulfill{Fulfillment: fulfillment, Data: data}, nil
}

// EncodeReject serializes rj into its wire representation.
func EncodeReject(rj *Reject) ([]byte, error) {
	if len(rj.Code) != 3 {
		return nil, fmt.Errorf("encode reject: code must be 3 characters, got %q", rj.Code)
	}
	triggeredBy := []byte(rj.TriggeredBy)
	if len(triggeredBy) > 255 {
		return nil, fmt.Errorf("encode reject: triggered_by too long")
	}
	message := []byte(rj.Message)
	if len(message) > 65535 {
		return nil, fmt.Errorf("encode reject: message too long")
	}
	buf := make([]byte, 0, 1+3+1+len(triggeredBy)+2+len(message)+4+len(rj.Data))
	buf = append(buf, TypeReject)
	buf = append(buf, rj.Code...)
	buf = append(buf, byte(len(triggeredBy)))
	buf = append(buf, triggeredBy...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(message)))
	buf = append(buf, message...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(rj.Data)))
	buf = append(buf, rj.Data...)
	return buf, nil
}

// DecodeReject parses a Reject packet from its wire representation.
func DecodeReject(b []byte) (*Reject, error) {
	r := newReader(b)
	typ, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("decode reject: %w", err)
	}
	if typ != TypeReject {
		return nil, fmt.Errorf("decode reject: wrong packet type %d", typ)
	}
	code, err := r.fixed(3)
	if err != nil {
		return nil, fmt.Errorf("decode reject: code: %w", err)
	}
	triggeredBy, err := r.lenPrefixed8()
	if err != nil {
		return nil, fmt.Errorf("decode reject: triggered_by: %w", err)
	}
	message, err := r.lenPrefixed16()
	if err != nil {
		return nil, fmt.Errorf("decode reject: message: %w", err)
	}
	data, err := r.lenPrefixed32()
	if err != nil {
		return nil, fmt.Errorf("decode reject: data: %w", err)
	}
	if !r.done() {
		return nil, fmt.Errorf("decode reject: trailing bytes")
	}
	return &Reject{
		Code:        string(code),
		TriggeredBy: string(triggeredBy),
		Message:     string(message),
		Data:        data,
	}, nil
}

// PacketType inspects the first byte of an encoded ILP packet without fully
// decoding it, so callers can dispatch to DecodeFulfill/DecodeReject.
func PacketType(b []byte) (uint8, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("ilp packet: empty")
	}
	return b[0], nil
}
