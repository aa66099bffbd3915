package transsync

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/model"
	"track-svr/internal/protocol"
)

type identity map[string]int64

func (i identity) ResolveUniqueID(uid string) (int64, bool) {
	id, ok := i[uid]
	return id, ok
}

type lastPositions map[int64]*model.Position

func (l lastPositions) LastPosition(id int64) *model.Position { return l[id] }

// header, length 43, lac, imei, serial, proto, 2026-03-01 08:30:00,
// lat 28.6139 N, lon 77.209 E, 36 km/h, course 90, mnc, cid,
// status (sos; valid, N, E, ignition), rssi, battery, sats, hdop, adc1
const basicHex = "2a2a2b" + "0001" + "0356307042441013" + "0001" + "10" +
	"1a030108" + "1e00" +
	"0311e77c" + "08489bc8" +
	"24" + "005a" + "0a" + "1234" +
	"0040000f" +
	"1c" + "64" + "09" + "01" + "0100"

const testIMEI = "356307042441013"

func frame(t *testing.T, status0 string) []byte {
	t.Helper()
	s := basicHex
	if status0 != "" {
		s = s[:len(s)-len("1c640901"+"0100")-2] + status0 + "1c6409010100"
	}
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func decode(t *testing.T, opts Options, devices protocol.Devices, b []byte) ([]*model.Position, error) {
	t.Helper()
	p := Protocol(opts)
	conn := protocol.NewConn(Name, protocol.TCP, nil,
		protocol.Env{Identity: identity{testIMEI: 5}, Devices: devices}, nil)
	return p.Decoder.Decode(context.Background(), conn, b)
}

func TestFrameDecoder(t *testing.T) {
	b := frame(t, "")
	require.Len(t, b, 46)
	fd := Protocol(Options{}).NewFrameDecoder()

	_, n := fd.DecodeFrame(b[:20])
	assert.Zero(t, n)
	got, n := fd.DecodeFrame(append(b, b[:4]...))
	assert.Equal(t, 46, n)
	assert.Equal(t, b, got)
}

func TestDecodeBasic(t *testing.T) {
	positions, err := decode(t, Options{}, nil, frame(t, ""))
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, int64(5), p.DeviceID)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC), p.FixTime)
	assert.True(t, p.Valid)
	assert.InDelta(t, 28.6139, p.Latitude, 1e-4)
	assert.InDelta(t, 77.209, p.Longitude, 1e-4)
	assert.InDelta(t, model.KnotsFromKph(36), p.Speed, 1e-9)
	assert.Equal(t, 90.0, p.Course)
	assert.True(t, p.Attributes.Bool(model.KeyIgnition))
	assert.True(t, p.Attributes.Bool(model.KeyCharge))
	assert.Equal(t, model.AlarmSOS, p.Attributes.String(model.KeyAlarm))
	assert.Equal(t, int64(28), p.Attributes.Int(model.KeyRSSI))
	assert.Equal(t, int64(100), p.Attributes.Int(model.KeyBattery))
	assert.Equal(t, int64(9), p.Attributes.Int(model.KeySatellites))
	assert.Equal(t, int64(256), p.Attributes.Int(model.PrefixADC+"1"))
	assert.Equal(t, int64(0x1234), p.Attributes.Int(model.KeyCellID))
}

func TestDecodeHemispheresAndPowerCut(t *testing.T) {
	// valid, south, west, ignition off, power cut
	positions, err := decode(t, Options{}, nil, frame(t, "11"))
	require.NoError(t, err)
	p := positions[0]
	assert.Less(t, p.Latitude, 0.0)
	assert.Less(t, p.Longitude, 0.0)
	assert.False(t, p.Attributes.Bool(model.KeyIgnition))
	assert.False(t, p.Attributes.Bool(model.KeyCharge))
	// status2 SOS overrides the power cut alarm
	assert.Equal(t, model.AlarmSOS, p.Attributes.String(model.KeyAlarm))
}

func TestDecodeUnknownDevice(t *testing.T) {
	b := frame(t, "")
	b[5] = 0x09
	positions, err := decode(t, Options{}, nil, b)
	assert.ErrorIs(t, err, protocol.ErrUnknownDevice)
	assert.Empty(t, positions)
}

func TestDecodeIgnoresOtherHeaders(t *testing.T) {
	b := frame(t, "")
	b[0], b[1] = 0x78, 0x78
	positions, err := decode(t, Options{}, nil, b)
	assert.NoError(t, err)
	assert.Empty(t, positions)
}

func TestDistanceFilterUsesLastLocation(t *testing.T) {
	last := model.NewPosition(Name)
	last.FixTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	last.Valid = true
	last.Latitude, last.Longitude = 28.61391, 77.20901

	now := time.Date(2026, 3, 1, 8, 31, 0, 0, time.UTC)
	opts := Options{DistanceFilter: 50, Now: func() time.Time { return now }}

	// ignition off, valid, N, E
	positions, err := decode(t, opts, lastPositions{5: last}, frame(t, "07"))
	require.NoError(t, err)
	p := positions[0]
	assert.True(t, p.Outdated)
	assert.Equal(t, last.FixTime, p.FixTime)
	assert.Equal(t, now, p.DeviceTime)
	assert.Equal(t, last.Latitude, p.Latitude)

	// ignition on bypasses the filter
	positions, err = decode(t, opts, lastPositions{5: last}, frame(t, "0f"))
	require.NoError(t, err)
	assert.False(t, positions[0].Outdated)
}
