package ilp

import (
	"encoding/binary"
	"fmt"
)

// reader is a small bounds-checked cursor over a byte slice, mirroring the
// strict-bounds-checking discipline the BTP frame codec uses.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) done() bool {
	return r.pos == len(r.buf)
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) fixed(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("buffer too short: need %d bytes, have %d", n, r.remaining())
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.fixed(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.fixed(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.fixed(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.fixed(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) lenPrefixed8() ([]byte, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	return r.fixed(int(n))
}

func (r *reader) lenPrefixed16() ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	return r.fixed(int(n))
}

func (r *reader) lenPrefixed32() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, fmt.Errorf("length prefix %d exceeds remaining buffer %d", n, r.remaining())
	}
	return r.fixed(int(n))
}
