package teltonika

import (
	"encoding/binary"
	"fmt"
)

// reader walks a frame and remembers the first overflow instead of
// panicking on short buffers.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) read(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("buffer overflow: tried to read %d bytes at offset %d (len=%d)", n, r.off, len(r.data))
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.read(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.read(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.read(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.read(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

// uint reads a big endian value of size bytes (1..8).
func (r *reader) uint(size int) uint64 {
	b := r.read(size)
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func (r *reader) remaining() int { return len(r.data) - r.off }
