// Package btp implements the bilateral framing layer: a compact,
// length-prefixed binary envelope for carrying ILP packets and auxiliary
// sub-protocol data between two directly peered nodes over WebSocket.
package btp

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies the purpose of a Frame.
type Kind uint8

// Frame kinds this connector produces. Other kinds from the wider BTP
// family may appear on ingress and MUST be tolerated (see Parse).
const (
	KindMessage  Kind = 6
	KindResponse Kind = 1
	KindError    Kind = 2
)

// MalformedFrameError is returned by Parse when the buffer is structurally
// invalid: too short, a length prefix overruns the buffer, or a required
// field is missing.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed BTP frame: %s", e.Reason)
}

func malformed(format string, args ...interface{}) error {
	return &MalformedFrameError{Reason: fmt.Sprintf(format, args...)}
}

// SubProtocolEntry is one named, typed sub-protocol payload within a
// DataPayload.
type SubProtocolEntry struct {
	Name        string
	ContentType uint16
	Data        []byte
}

// DataPayload is the payload of a MESSAGE or RESPONSE frame: an ordered
// list of sub-protocols plus an optional opaque ILP packet.
type DataPayload struct {
	SubProtocols []SubProtocolEntry
	ILPPacket    []byte // nil/empty means absent
}

// ErrorPayload is the payload of an ERROR frame.
type ErrorPayload struct {
	Code        string
	Name        string
	TriggeredAt string // ISO-8601 UTC timestamp
	Data        []byte
}

// Frame is the atomic unit on the wire.
type Frame struct {
	Kind      Kind
	RequestID uint32
	Data      *DataPayload  // set when Kind is MESSAGE or RESPONSE
	Err       *ErrorPayload // set when Kind is ERROR
}

// SubProtocol looks up a named sub-protocol entry, reporting whether it was
// found.
func (p *DataPayload) SubProtocol(name string) (SubProtocolEntry, bool) {
	for _, e := range p.SubProtocols {
		if e.Name == name {
			return e, true
		}
	}
	return SubProtocolEntry{}, false
}

// minFrameLen is kind(1) + request_id(4): the shortest possible buffer that
// could conceivably be a frame header.
const minFrameLen = 5

// Parse decodes a Frame from its wire representation. It performs strict
// bounds checking on every read and does not interpret trailing bytes.
//
// Unknown frame kinds are parsed (with a nil Data/Err payload left for the
// caller to ignore) rather than rejected — ingress MUST tolerate kinds
// outside {MESSAGE, RESPONSE, ERROR} from the wider protocol family.
func Parse(b []byte) (*Frame, error) {
	if len(b) < minFrameLen {
		return nil, malformed("BTP message too short")
	}
	r := newReader(b)
	kindByte, _ := r.u8()
	requestID, _ := r.u32()
	kind := Kind(kindByte)

	f := &Frame{Kind: kind, RequestID: requestID}

	switch kind {
	case KindMessage, KindResponse:
		payload, err := parseDataPayload(r)
		if err != nil {
			return nil, err
		}
		f.Data = payload
	case KindError:
		payload, err := parseErrorPayload(r)
		if err != nil {
			return nil, err
		}
		f.Err = payload
	default:
		// Unknown kind: tolerate, carry no decoded payload.
		return f, nil
	}

	if !r.done() {
		return nil, malformed("trailing bytes after payload")
	}
	return f, nil
}

func parseDataPayload(r *reader) (*DataPayload, error) {
	count, err := r.u8()
	if err != nil {
		return nil, malformed("missing sub-protocol count")
	}
	entries := make([]SubProtocolEntry, 0, count)
	for i := 0; i < int(count); i++ {
		nameLen, err := r.u8()
		if err != nil {
			return nil, malformed("sub-protocol %d: missing name length", i)
		}
		name, err := r.fixed(int(nameLen))
		if err != nil {
			return nil, malformed("sub-protocol %d: name exceeds buffer", i)
		}
		contentType, err := r.u16()
		if err != nil {
			return nil, malformed("sub-protocol %d: missing content_type", i)
		}
		dataLen, err := r.u32()
		if err != nil {
			return nil, malformed("sub-protocol %d: missing data length", i)
		}
		data, err := r.fixed(int(dataLen))
		if err != nil {
			return nil, malformed("sub-protocol %d: data exceeds buffer", i)
		}
		entries = append(entries, SubProtocolEntry{
			Name:        string(name),
			ContentType: contentType,
			Data:        append([]byte(nil), data...),
		})
	}
	ilpLen, err := r.u32()
	if err != nil {
		return nil, malformed("missing ilp_packet length")
	}
	ilpBytes, err := r.fixed(int(ilpLen))
	if err != nil {
		return nil, malformed("ilp_packet exceeds buffer")
	}
	var ilp []byte
	if ilpLen > 0 {
		ilp = append([]byte(nil), ilpBytes...)
	}
	return &DataPayload{SubProtocols: entries, ILPPacket: ilp}, nil
}

func parseErrorPayload(r *reader) (*ErrorPayload, error) {
	code, err := r.lenPrefixed8()
	if err != nil {
		return nil, malformed("missing error code")
	}
	name, err := r.lenPrefixed8()
	if err != nil {
		return nil, malformed("missing error name")
	}
	ts, err := r.lenPrefixed8()
	if err != nil {
		return nil, malformed("missing triggered_at")
	}
	dataLen, err := r.u32()
	if err != nil {
		return nil, malformed("missing error data length")
	}
	data, err := r.fixed(int(dataLen))
	if err != nil {
		return nil, malformed("error data exceeds buffer")
	}
	return &ErrorPayload{
		Code:        string(code),
		Name:        string(name),
		TriggeredAt: string(ts),
		Data:        append([]byte(nil), data...),
	}, nil
}

// Serialize writes the exact inverse of Parse.
func Serialize(f *Frame) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(f.Kind))
	buf = binary.BigEndian.AppendUint32(buf, f.RequestID)

	switch f.Kind {
	case KindMessage, KindResponse:
		if f.Data == nil {
			return nil, fmt.Errorf("serialize: %s frame missing data payload", kindName(f.Kind))
		}
		return serializeDataPayload(buf, f.Data)
	case KindError:
		if f.Err == nil {
			return nil, fmt.Errorf("serialize: ERROR frame missing error payload")
		}
		return serializeErrorPayload(buf, f.Err)
	default:
		return nil, fmt.Errorf("serialize: unsupported frame kind %d", f.Kind)
	}
}

func serializeDataPayload(buf []byte, p *DataPayload) ([]byte, error) {
	if len(p.SubProtocols) > 255 {
		return nil, fmt.Errorf("serialize: too many sub-protocols (%d)", len(p.SubProtocols))
	}
	buf = append(buf, byte(len(p.SubProtocols)))
	for _, e := range p.SubProtocols {
		if len(e.Name) > 255 {
			return nil, fmt.Errorf("serialize: sub-protocol name %q too long", e.Name)
		}
		buf = append(buf, byte(len(e.Name)))
		buf = append(buf, e.Name...)
		buf = binary.BigEndian.AppendUint16(buf, e.ContentType)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Data)))
		buf = append(buf, e.Data...)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.ILPPacket)))
	buf = append(buf, p.ILPPacket...)
	return buf, nil
}

func serializeErrorPayload(buf []byte, e *ErrorPayload) ([]byte, error) {
	if len(e.Code) > 255 || len(e.Name) > 255 || len(e.TriggeredAt) > 255 {
		return nil, fmt.Errorf("serialize: error field too long")
	}
	buf = append(buf, byte(len(e.Code)))
	buf = append(buf, e.Code...)
	buf = append(buf, byte(len(e.Name)))
	buf = append(buf, e.Name...)
	buf = append(buf, byte(len(e.TriggeredAt)))
	buf = append(buf, e.TriggeredAt...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Data)))
	buf = append(buf, e.Data...)
	return buf, nil
}

func kindName(k Kind) string {
	switch k {
	case KindMessage:
		return "MESSAGE"
	case KindResponse:
		return "RESPONSE"
	case KindError:
		return "ERROR"
	default:
		return fmt.Sprintf("KIND(%d)", k)
	}
}
