package protocol

import (
	"bytes"
	"encoding/binary"
)

// LengthField frames messages whose size is carried in a header field.
// Frame length = Offset + Size + value + Adjustment.
type LengthField struct {
	Offset     int
	Size       int // 1, 2 or 4 bytes, big endian
	Adjustment int
	// MaxLength bounds the frame; larger announced lengths are treated as
	// a corrupt header and wait for the connection to resynchronize.
	MaxLength int
}

func (d LengthField) DecodeFrame(buf []byte) ([]byte, int) {
	if len(buf) < d.Offset+d.Size {
		return nil, 0
	}
	var value int
	field := buf[d.Offset : d.Offset+d.Size]
	switch d.Size {
	case 1:
		value = int(field[0])
	case 2:
		value = int(binary.BigEndian.Uint16(field))
	case 4:
		value = int(binary.BigEndian.Uint32(field))
	default:
		return nil, 0
	}
	total := d.Offset + d.Size + value + d.Adjustment
	if total <= 0 || (d.MaxLength > 0 && total > d.MaxLength) {
		return nil, 0
	}
	if len(buf) < total {
		return nil, 0
	}
	return buf[:total], total
}

// Fixed frames messages of a constant size.
type Fixed int

func (d Fixed) DecodeFrame(buf []byte) ([]byte, int) {
	if d <= 0 || len(buf) < int(d) {
		return nil, 0
	}
	return buf[:d], int(d)
}

// Delimiter frames text messages terminated by one of Delimiters. The
// delimiter is consumed; Strip removes it from the frame.
type Delimiter struct {
	Delimiters [][]byte
	Strip      bool
	MaxLength  int
}

func (d Delimiter) DecodeFrame(buf []byte) ([]byte, int) {
	best, bestLen := -1, 0
	for _, delim := range d.Delimiters {
		if len(delim) == 0 {
			continue
		}
		if i := bytes.Index(buf, delim); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, len(delim)
		}
	}
	if best < 0 {
		return nil, 0
	}
	if d.MaxLength > 0 && best > d.MaxLength {
		return nil, 0
	}
	n := best + bestLen
	if d.Strip {
		return buf[:best], n
	}
	return buf[:n], n
}

// Lines is the common CR LF / LF text framing.
func Lines(maxLength int) Delimiter {
	return Delimiter{
		Delimiters: [][]byte{[]byte("\r\n"), []byte("\n")},
		Strip:      true,
		MaxLength:  maxLength,
	}
}
