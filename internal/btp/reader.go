package btp

import "encoding/binary"

// reader is a bounds-checked cursor over a byte slice. Every read method
// returns an error instead of panicking so Parse can perform strict bounds
// checking on every field.
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
	if n < 0 || r.remaining() < n {
		return nil, errShortBuffer
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

var errShortBuffer = &shortBufferError{}

type shortBufferError struct{}

func (e *shortBufferError) Error() string { return "buffer too short" }

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

func (r *reader) lenPrefixed8() ([]byte, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	return r.fixed(int(n))
}
