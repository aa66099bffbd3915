package teltonika

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"track-svr/internal/model"
)

const (
	Codec8  = 0x08
	Codec8E = 0x8E
)

var ErrUnsupportedCodec = errors.New("unsupported codec")

// avlRecord is one decoded AVL record before it becomes a position.
type avlRecord struct {
	Timestamp  time.Time
	Priority   int
	Longitude  float64
	Latitude   float64
	Altitude   int16
	Angle      uint16
	Satellites int
	SpeedKph   int
	EventIOID  int
	IO         map[int]uint64
	RawIO      map[int][]byte
}

// parseAVLData decodes the data field (codec id .. qty2) into records.
func parseAVLData(data []byte) (byte, []avlRecord, error) {
	r := &reader{data: data}
	codecID := r.u8()
	if codecID != Codec8 && codecID != Codec8E {
		return codecID, nil, fmt.Errorf("codec 0x%02x: %w", codecID, ErrUnsupportedCodec)
	}
	qty1 := int(r.u8())
	records := make([]avlRecord, 0, qty1)
	for i := 0; i < qty1; i++ {
		rec := readRecord(r, codecID == Codec8E)
		if r.err != nil {
			return codecID, nil, fmt.Errorf("record %d: %w", i, r.err)
		}
		records = append(records, rec)
	}
	if qty2 := int(r.u8()); r.err == nil && qty2 != qty1 {
		return codecID, nil, fmt.Errorf("record count mismatch: %d != %d", qty1, qty2)
	}
	return codecID, records, r.err
}

func readRecord(r *reader, extended bool) avlRecord {
	rec := avlRecord{
		IO:    make(map[int]uint64),
		RawIO: make(map[int][]byte),
	}
	rec.Timestamp = time.UnixMilli(int64(r.u64())).UTC()
	rec.Priority = int(r.u8())
	rec.Longitude = float64(int32(r.u32())) / 10000000
	rec.Latitude = float64(int32(r.u32())) / 10000000
	rec.Altitude = int16(r.u16())
	rec.Angle = r.u16()
	rec.Satellites = int(r.u8())
	rec.SpeedKph = int(r.u16())

	// codec 8 uses 1 byte ids and counts, 8E uses 2 bytes and adds a
	// variable length group
	readN := func() int {
		if extended {
			return int(r.u16())
		}
		return int(r.u8())
	}
	rec.EventIOID = readN()
	readN() // total IO count, implied by the groups

	for _, size := range []int{1, 2, 4, 8} {
		count := readN()
		for i := 0; i < count && r.err == nil; i++ {
			id := readN()
			rec.IO[id] = r.uint(size)
		}
	}
	if extended {
		count := readN()
		for i := 0; i < count && r.err == nil; i++ {
			id := readN()
			length := int(r.u16())
			value := r.read(length)
			if length <= 8 {
				var v uint64
				for _, b := range value {
					v = v<<8 | uint64(b)
				}
				rec.IO[id] = v
			} else {
				rec.RawIO[id] = value
			}
		}
	}
	return rec
}

// toPosition maps a record onto a position bound to the session device.
func (rec avlRecord) toPosition(p *model.Position) {
	p.SetTime(rec.Timestamp)
	p.Latitude = rec.Latitude
	p.Longitude = rec.Longitude
	p.Altitude = float64(rec.Altitude)
	p.Course = float64(rec.Angle)
	p.Speed = model.KnotsFromKph(float64(rec.SpeedKph))
	p.Valid = rec.Satellites != 0

	p.Set(model.KeySatellites, rec.Satellites)
	p.Set(model.KeyPriority, rec.Priority)
	if rec.EventIOID != 0 {
		p.Set(model.KeyEvent, rec.EventIOID)
	}
	for id, v := range rec.IO {
		setIO(p, id, v)
	}
	for id, raw := range rec.RawIO {
		p.Set(model.PrefixIO+strconv.Itoa(id), hex.EncodeToString(raw))
	}
}
