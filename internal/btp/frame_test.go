package btp

import (
	"bytes"
	"testing"
)

func TestRoundTripMessageFrame(t *testing.T) {
	f := &Frame{
		Kind:      KindMessage,
		RequestID: 42,
		Data: &DataPayload{
			SubProtocols: []SubProtocolEntry{
				{Name: "auth", ContentType: 0, Data: []byte(`{"peerId":"a"}`)},
			},
			ILPPacket: []byte{12, 1, 2, 3},
		},
	}

	out, err := Serialize(f)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	parsed, err := Parse(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Kind != f.Kind || parsed.RequestID != f.RequestID {
		t.Fatalf("header mismatch: got %+v", parsed)
	}
	if len(parsed.Data.SubProtocols) != 1 || parsed.Data.SubProtocols[0].Name != "auth" {
		t.Fatalf("sub-protocol mismatch: %+v", parsed.Data.SubProtocols)
	}
	if !bytes.Equal(parsed.Data.ILPPacket, f.Data.ILPPacket) {
		t.Fatalf("ilp_packet mismatch: got %v want %v", parsed.Data.ILPPacket, f.Data.ILPPacket)
	}

	reSerialized, err := Serialize(parsed)
	if err != nil {
		t.Fatalf("re-serialize: %v", err)
	}
	if !bytes.Equal(out, reSerialized) {
		t.Fatalf("serialize(parse(serialize(f))) != serialize(f)")
	}
}

func TestRoundTripEmptyILPPacket(t *testing.T) {
	f := &Frame{
		Kind:      KindResponse,
		RequestID: 7,
		Data:      &DataPayload{},
	}
	out, err := Serialize(f)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := Parse(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Data.ILPPacket) != 0 {
		t.Fatalf("expected absent ilp_packet, got %v", parsed.Data.ILPPacket)
	}
}

func TestRoundTripErrorFrame(t *testing.T) {
	f := &Frame{
		Kind:      KindError,
		RequestID: 99,
		Err: &ErrorPayload{
			Code:        "F00",
			Name:        "NotAcceptedError",
			TriggeredAt: "2024-01-01T00:00:00Z",
			Data:        []byte("bad request"),
		},
	}
	out, err := Serialize(f)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := Parse(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Err.Code != f.Err.Code || parsed.Err.Name != f.Err.Name || parsed.Err.TriggeredAt != f.Err.TriggeredAt {
		t.Fatalf("error payload mismatch: %+v", parsed.Err)
	}
	if !bytes.Equal(parsed.Err.Data, f.Err.Data) {
		t.Fatalf("error data mismatch")
	}
}

func TestParseTooShort(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3, 4})
	if err == nil {
		t.Fatalf("expected error for 4-byte buffer")
	}
	var malformed *MalformedFrameError
	if !errorsAs(err, &malformed) {
		t.Fatalf("expected MalformedFrameError, got %T: %v", err, err)
	}
}

func TestParseUnknownKindTolerated(t *testing.T) {
	buf := []byte{99, 0, 0, 0, 1}
	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("expected unknown kind to be tolerated, got %v", err)
	}
	if f.Kind != Kind(99) {
		t.Fatalf("expected kind 99, got %d", f.Kind)
	}
}

func TestParseLengthPrefixOverrun(t *testing.T) {
	// count=1 sub-protocol, name_len=10 but buffer ends there.
	buf := []byte{6, 0, 0, 0, 1, 1, 10}
	_, err := Parse(buf)
	if err == nil {
		t.Fatalf("expected malformed frame error for overrunning length prefix")
	}
}

func errorsAs(err error, target **MalformedFrameError) bool {
	if e, ok := err.(*MalformedFrameError); ok {
		*target = e
		return true
	}
	return false
}
