// Package cdacais2 decodes CDAC AIS-140 (v2) ASCII packets: login,
// heartbeat, health, normal, emergency, full and batch records.
package cdacais2

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"track-svr/internal/model"
	"track-svr/internal/protocol"
)

const Name = "cdacais2"

// device clocks run on IST
const timeCorrection = -330 * time.Minute

type Options struct {
	// Now stamps the login reply; its location decides the reply clock.
	Now func() time.Time
}

type decoder struct {
	now func() time.Time
}

func Protocol(opts Options) protocol.Protocol {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return protocol.Protocol{
		Name:            Name,
		Transports:      []string{protocol.TCP},
		NewFrameDecoder: func() protocol.FrameDecoder { return protocol.FrameDecoderFunc(DecodeFrame) },
		Decoder:         &decoder{now: opts.Now},
	}
}

func decodeAlert(id string) string {
	switch id {
	case "03":
		return model.AlarmPowerCut
	case "04":
		return model.AlarmLowBattery
	case "06":
		return model.AlarmPowerRestored
	case "09", "16":
		return model.AlarmTampering
	case "10":
		return model.AlarmSOS
	case "13":
		return model.AlarmBraking
	case "14":
		return model.AlarmAcceleration
	case "15":
		return model.AlarmCornering
	case "17":
		return model.AlarmOverspeed
	case "18":
		return model.AlarmGeofenceEnter
	case "19":
		return model.AlarmGeofenceExit
	case "23":
		return model.AlarmAccident
	default:
		return ""
	}
}

func (c *cursor) coordinate() float64 {
	deg := c.float(10)
	if h := c.str(1); h == "S" || h == "W" {
		deg = -deg
	}
	return deg
}

// dateTime reads ddMMyy HHmmss in IST and returns UTC.
func (c *cursor) dateTime() time.Time {
	day, month, year := c.int(2), c.int(2), c.int(2)
	hour, minute, second := c.int(2), c.int(2), c.int(2)
	return time.Date(2000+year, time.Month(month), day, hour, minute, second, 0, time.UTC).Add(timeCorrection)
}

// decodeCommon reads the 78 byte record shared by every location packet,
// then the optional geofence id and the full packet tail.
func decodeCommon(c *cursor, p *model.Position, geofenceID, batch bool) {
	if alarm := decodeAlert(c.str(2)); alarm != "" {
		p.Set(model.KeyAlarm, alarm)
	}
	c.str(1) // packet status, live or history
	p.Valid = c.str(1) == "1"
	p.SetTime(c.dateTime())
	p.Latitude = c.coordinate()
	p.Longitude = c.coordinate()

	mcc, mnc := c.int(3), c.int(3)
	p.Set(model.KeyMCC, mcc)
	p.Set(model.KeyMNC, mnc)
	p.Set(model.KeyLAC, c.hex(4))
	p.Set(model.KeyCellID, c.hex(9))

	p.Speed = model.KnotsFromKph(c.float(6))
	p.Course = c.float(6)
	p.Set(model.KeySatellites, c.int(2))
	p.Set(model.KeyHDOP, c.float(2))
	p.Set(model.KeyRSSI, c.float(2))
	p.Set(model.KeyIgnition, c.int(1) == 1)
	p.Set(model.KeyCharge, c.int(1) == 1)
	p.Set(model.KeyMotion, c.str(1) == "M")

	if c.remaining() == 5 || geofenceID {
		c.str(5)
	}

	if c.remaining() > 5 && !batch {
		c.str(6) // vendor id
		p.Set(model.KeyVersionFw, c.str(6))
		c.str(16) // vehicle registration
		p.Altitude = c.float(7)
		p.Set(model.KeyPDOP, c.float(2))
		p.Set(model.KeyOperator, c.str(6))
		// neighbour cells: rssi, lac, cell id
		for i := 0; i < 4; i++ {
			c.str(2 + 4 + 9)
		}
		p.Set(model.KeyExternalBattery, c.float(5))
		p.Set(model.KeyBattery, c.float(5))
		c.str(1) // tamper
		for i := 1; i <= 4; i++ {
			p.Set(model.PrefixIn+strconv.Itoa(i), c.int(1))
		}
	}
}

func (d *decoder) Decode(_ context.Context, conn *protocol.Conn, frame []byte) ([]*model.Position, error) {
	if len(frame) < headerLength {
		return nil, fmt.Errorf("frame too short: %d", len(frame))
	}
	c := &cursor{b: frame}
	header := c.str(headerLength)

	var positions []*model.Position
	switch header {
	case "NRM", "EPB", "CRT", "ALT", "FUL":
		imei := c.str(imeiLength)
		if conn.Resolve(imei) == nil {
			return nil, fmt.Errorf("%s: %w", imei, protocol.ErrUnknownDevice)
		}
		p := conn.NewPosition()
		decodeCommon(c, p, false, false)
		positions = append(positions, p)

	case "BTH":
		imei := c.str(imeiLength)
		if conn.Resolve(imei) == nil {
			return nil, fmt.Errorf("%s: %w", imei, protocol.ErrUnknownDevice)
		}
		count := c.int(3)
		for i := 0; i < count; i++ {
			p := conn.NewPosition()
			decodeCommon(c, p, c.remaining()/(count-i) > recordLength, true)
			positions = append(positions, p)
		}
		// batches are not acknowledged
		return positions, nil

	case "HLM":
		c.str(6) // vendor id
		fw := c.str(6)
		imei := c.str(imeiLength)
		if conn.Resolve(imei) == nil {
			return nil, fmt.Errorf("%s: %w", imei, protocol.ErrUnknownDevice)
		}
		p := conn.NewPosition()
		p.Set(model.KeyVersionFw, fw)
		c.int(3) // ignition on update rate
		c.int(3) // ignition off update rate
		p.Set(model.KeyBatteryLevel, c.float(3))
		c.float(2) // low battery threshold
		c.float(3) // memory used
		for i := 1; i <= 4; i++ {
			p.Set(model.PrefixIn+strconv.Itoa(i), c.int(1))
		}
		p.Set(model.PrefixADC+"1", c.float(2))
		conn.LastLocation(p, c.dateTime())
		positions = append(positions, p)

	case "LGN":
		imei := c.str(imeiLength)
		if conn.Resolve(imei) == nil {
			return nil, fmt.Errorf("%s: %w", imei, protocol.ErrUnknownDevice)
		}
		conn.Reply([]byte("$LGN," + d.now().Format("02012006150405") + "*"))
		return []*model.Position{d.heartbeat(conn)}, nil

	case "ACK", "HBT":
		imei := c.str(imeiLength)
		if conn.Resolve(imei) == nil {
			return nil, fmt.Errorf("%s: %w", imei, protocol.ErrUnknownDevice)
		}
		positions = append(positions, d.heartbeat(conn))

	default:
		return nil, nil
	}

	conn.Reply([]byte("$" + header + ",OK*"))
	return positions, nil
}

// heartbeat is an outdated position carrying the last known fix, stamped
// with the server time.
func (d *decoder) heartbeat(conn *protocol.Conn) *model.Position {
	p := conn.NewPosition()
	conn.LastLocation(p, d.now().UTC())
	return p
}
