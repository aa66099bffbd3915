// Package transsync decodes the Transsync basic binary packet ("**" or
// "::" header, one length byte).
package transsync

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"track-svr/internal/model"
	"track-svr/internal/protocol"
)

const (
	Name = "transsync"

	headerStar  = 0x2a2a
	headerColon = 0x3a3a
	// bytes from lac to adc1
	basicLength = 43
)

// Options tune the decoder per deployment.
type Options struct {
	// DistanceFilter replaces fixes reported with ignition off and closer
	// than this many meters to the last position by the last known
	// location. Zero disables it.
	DistanceFilter float64
	Now            func() time.Time
}

type decoder struct {
	opts Options
}

func Protocol(opts Options) protocol.Protocol {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return protocol.Protocol{
		Name:       Name,
		Transports: []string{protocol.TCP},
		NewFrameDecoder: func() protocol.FrameDecoder {
			return protocol.LengthField{Offset: 2, Size: 1, MaxLength: 2 + 1 + 255}
		},
		Decoder: &decoder{opts: opts},
	}
}

func bit(v byte, n uint) bool { return v&(1<<n) != 0 }

func (d *decoder) Decode(_ context.Context, conn *protocol.Conn, frame []byte) ([]*model.Position, error) {
	if len(frame) < 3 {
		return nil, fmt.Errorf("frame too short: %d", len(frame))
	}
	switch binary.BigEndian.Uint16(frame) {
	case headerStar, headerColon:
	default:
		return nil, nil
	}
	if len(frame) < 3+basicLength {
		return nil, fmt.Errorf("basic packet too short: %d", len(frame))
	}
	b := frame[3:]

	lac := binary.BigEndian.Uint16(b[0:2])
	imei := hex.EncodeToString(b[2:10])[1:]
	if conn.Resolve(imei) == nil {
		return nil, fmt.Errorf("%s: %w", imei, protocol.ErrUnknownDevice)
	}
	p := conn.NewPosition()

	// serial(2) and protocol number(1) are not used
	p.SetTime(time.Date(2000+int(b[13]), time.Month(b[14]), int(b[15]),
		int(b[16]), int(b[17]), int(b[18]), 0, time.UTC))

	latitude := float64(binary.BigEndian.Uint32(b[19:23])) / 60.0 / 30000.0
	longitude := float64(binary.BigEndian.Uint32(b[23:27])) / 60.0 / 30000.0
	p.Speed = model.KnotsFromKph(float64(b[27]))
	p.Course = float64(int16(binary.BigEndian.Uint16(b[28:30])))

	p.Set(model.KeyMNC, int(b[30]))
	p.Set(model.KeyLAC, int(lac))
	p.Set(model.KeyCellID, int(binary.BigEndian.Uint16(b[31:33])))

	status2, status0 := b[34], b[36]
	p.Valid = bit(status0, 0)
	if !bit(status0, 1) {
		latitude = -latitude
	}
	if !bit(status0, 2) {
		longitude = -longitude
	}
	p.Latitude = latitude
	p.Longitude = longitude

	ignition := bit(status0, 3)
	p.Set(model.KeyIgnition, ignition)

	if d.opts.DistanceFilter > 0 && !ignition {
		if last := conn.LastPosition(); last != nil && last.Latitude != 0 && last.Longitude != 0 {
			distance := model.Round2(model.Distance(p.Latitude, p.Longitude, last.Latitude, last.Longitude))
			if distance < d.opts.DistanceFilter || !p.Valid {
				conn.LastLocation(p, d.opts.Now().UTC())
			}
		}
	}

	if bit(status0, 4) {
		p.Set(model.KeyAlarm, model.AlarmPowerCut)
		p.Set(model.KeyCharge, false)
	} else {
		p.Set(model.KeyCharge, true)
	}
	p.Set(model.KeyDoor, bit(status0, 5))
	p.Set(model.PrefixOut+"1", bit(status0, 6))
	p.Set(model.PrefixOut+"2", bit(status0, 7))

	if bit(status2, 5) {
		p.Set(model.KeyAlarm, model.AlarmLowBattery)
	}
	if bit(status2, 6) {
		p.Set(model.KeyAlarm, model.AlarmSOS)
	}
	if bit(status2, 7) {
		p.Set(model.KeyAlarm, model.AlarmOverspeed)
	}

	p.Set(model.KeyRSSI, int(b[37]))
	p.Set(model.KeyBattery, int(b[38]))
	p.Set(model.KeySatellites, int(b[39]))
	p.Set(model.KeyHDOP, int(b[40]))
	p.Set(model.PrefixADC+"1", int(int16(binary.BigEndian.Uint16(b[41:43]))))

	return []*model.Position{p}, nil
}
