// Package dimts decodes DIMTS "$"-prefixed CSV lines.
package dimts

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"track-svr/internal/model"
	"track-svr/internal/protocol"
)

const Name = "dimts"

// $TYPE,imei,ddmmyyyy,hhmmss,status,DDMM.mmmmN,DDDMM.mmmmE,speed,course,
// sats,ignition,battery,charge,satVisible,fw,hw...
var pattern = regexp.MustCompile(`^\$([A-Za-z]+),` +
	`(\d+),` +
	`(\d{2})(\d{2})(\d{4}),` +
	`(\d{2})(\d{2})(\d{2}),` +
	`(\d),` +
	`(\d{2})(\d{2}\.\d+)([NS]),` +
	`(\d{3})(\d{2}\.\d+)([EW]),` +
	`(\d+\.?\d*),` +
	`(\d+\.?\d*),` +
	`(\d+),` +
	`([01]),` +
	`(\d+\.?\d*),` +
	`([01]+),` +
	`([01]+),` +
	`([^,]*),` +
	`([^,]*)`)

func Protocol() protocol.Protocol {
	return protocol.Protocol{
		Name:            Name,
		Transports:      []string{protocol.TCP, protocol.UDP},
		NewFrameDecoder: func() protocol.FrameDecoder { return protocol.Lines(1024) },
		Decoder:         protocol.DecoderFunc(Decode),
	}
}

// fields walks regexp groups, substituting zero values for anything that
// fails to parse.
type fields struct {
	groups []string
	i      int
}

func (f *fields) next() string {
	if f.i >= len(f.groups) {
		return ""
	}
	s := f.groups[f.i]
	f.i++
	return s
}

func (f *fields) int() int {
	n, _ := strconv.Atoi(f.next())
	return n
}

func (f *fields) float() float64 {
	v, _ := strconv.ParseFloat(f.next(), 64)
	return v
}

// coordinate reads degrees, decimal minutes and hemisphere.
func (f *fields) coordinate() float64 {
	deg := f.float()
	deg += f.float() / 60
	if h := f.next(); h == "S" || h == "W" {
		deg = -deg
	}
	return deg
}

func Decode(_ context.Context, conn *protocol.Conn, frame []byte) ([]*model.Position, error) {
	m := pattern.FindStringSubmatch(string(bytes.TrimSpace(frame)))
	if m == nil {
		return nil, nil
	}
	f := &fields{groups: m[1:]}
	msgType := f.next()

	imei := f.next()
	if conn.Resolve(imei) == nil {
		return nil, fmt.Errorf("%s: %w", imei, protocol.ErrUnknownDevice)
	}
	p := conn.NewPosition()
	p.Set(model.KeyEvent, msgType)

	day, month, year := f.int(), f.int(), f.int()
	hour, minute, second := f.int(), f.int(), f.int()
	p.SetTime(time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC))

	p.Valid = f.int() > 0
	p.Latitude = f.coordinate()
	p.Longitude = f.coordinate()
	p.Speed = model.KnotsFromKph(f.float())
	p.Course = f.float()

	p.Set(model.KeySatellites, f.int())
	p.Set(model.KeyIgnition, f.int() == 1)
	p.Set(model.KeyBattery, f.float())
	p.Set(model.KeyCharge, f.int() == 1)
	p.Set(model.KeySatellitesInView, f.int())
	if fw := f.next(); fw != "" {
		p.Set(model.KeyVersionFw, fw)
	}

	return []*model.Position{p}, nil
}
