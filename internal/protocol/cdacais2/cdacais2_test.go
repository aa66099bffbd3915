package cdacais2

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/model"
	"track-svr/internal/protocol"
)

const imei = "868728030001234"

// sos, live, valid, 01/03/26 14:00:00 IST, 28.6139N 77.2090E, mcc 404,
// mnc 045, lac 1A2B, cell ABCD, 36 km/h, 90 deg, 9 sats, hdop 1, rssi 25,
// ignition on, charging, moving
const record = "10" + "L" + "1" + "010326" + "140000" +
	"28.6139000N" + "77.2090000E" +
	"404" + "045" + "1A2B" + "00000ABCD" +
	"036.00" + "090.00" + "09" + "01" + "25" + "1" + "1" + "M"

type identity map[string]int64

func (i identity) ResolveUniqueID(uid string) (int64, bool) {
	id, ok := i[uid]
	return id, ok
}

type lastPositions map[int64]*model.Position

func (l lastPositions) LastPosition(id int64) *model.Position { return l[id] }

type harness struct {
	conn    *protocol.Conn
	decoder protocol.Decoder
	sent    []string
}

var loginTime = time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC)

func newHarness(devices protocol.Devices) *harness {
	h := &harness{}
	h.conn = protocol.NewConn(Name, protocol.TCP, nil,
		protocol.Env{Identity: identity{imei: 8}, Devices: devices},
		func(b []byte) error {
			h.sent = append(h.sent, string(b))
			return nil
		})
	h.decoder = Protocol(Options{Now: func() time.Time { return loginTime }}).Decoder
	return h
}

func (h *harness) decode(t *testing.T, frame string) []*model.Position {
	t.Helper()
	positions, err := h.decoder.Decode(context.Background(), h.conn, []byte(frame))
	require.NoError(t, err)
	return positions
}

func fullTail() string {
	cells := strings.Repeat("20"+"1A2C"+"00000ABCE", 4)
	return "VENDOR" + "FW1.00" + "DL01AB1234      " + "00215.0" + "02" + "AIRTEL" +
		cells + "12.50" + "04.10" + "C" + "1010" + "000123" + "ABCDEF12"
}

func TestRecordLength(t *testing.T) {
	assert.Len(t, record, recordLength)
	assert.Len(t, "FUL"+imei+record+fullTail(), fullLength)
}

func TestDecodeFrame(t *testing.T) {
	nrm := "NRM" + imei + record + "*00"
	require.Len(t, nrm, normalLength)

	cases := []struct {
		name string
		buf  string
		want int
	}{
		{"short", "NRM", 0},
		{"normal partial", nrm[:50], 0},
		{"normal", nrm + "LGN", normalLength},
		{"login", "LGN" + imei + "HBT", loginLength},
		{"heartbeat", "HBT" + imei, loginLength},
		{"batch header only", "BTH" + imei, 0},
		{"batch", "BTH" + imei + "002" + record + record, batchPrefix + 2*recordLength},
		{"batch partial", "BTH" + imei + "002" + record, 0},
		{"ack", "ACK,1234*NRM", 9},
		{"ack partial", "ACK,1234", 0},
		{"unknown header", "XYZ1234567", 0},
		{"full", "FUL" + imei + record + fullTail(), fullLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, n := DecodeFrame([]byte(tc.buf))
			assert.Equal(t, tc.want, n)
			assert.Len(t, frame, tc.want)
		})
	}
}

func TestDecodeNormal(t *testing.T) {
	h := newHarness(nil)
	positions := h.decode(t, "NRM"+imei+record+"*00")
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, int64(8), p.DeviceID)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC), p.FixTime)
	assert.True(t, p.Valid)
	assert.Equal(t, 28.6139, p.Latitude)
	assert.Equal(t, 77.209, p.Longitude)
	assert.InDelta(t, model.KnotsFromKph(36), p.Speed, 1e-9)
	assert.Equal(t, 90.0, p.Course)
	assert.Equal(t, model.AlarmSOS, p.Attributes.String(model.KeyAlarm))
	assert.Equal(t, int64(404), p.Attributes.Int(model.KeyMCC))
	assert.Equal(t, int64(0x1A2B), p.Attributes.Int(model.KeyLAC))
	assert.Equal(t, int64(0xABCD), p.Attributes.Int(model.KeyCellID))
	assert.Equal(t, int64(9), p.Attributes.Int(model.KeySatellites))
	assert.True(t, p.Attributes.Bool(model.KeyIgnition))
	assert.True(t, p.Attributes.Bool(model.KeyMotion))
	assert.False(t, p.Attributes.Has(model.KeyVersionFw))
	assert.Equal(t, []string{"$NRM,OK*"}, h.sent)
}

func TestDecodeFull(t *testing.T) {
	h := newHarness(nil)
	positions := h.decode(t, "FUL"+imei+record+fullTail())
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "FW1.00", p.Attributes.String(model.KeyVersionFw))
	assert.Equal(t, 215.0, p.Altitude)
	assert.Equal(t, "AIRTEL", p.Attributes.String(model.KeyOperator))
	assert.Equal(t, 12.5, p.Attributes.Float(model.KeyExternalBattery))
	assert.Equal(t, 4.1, p.Attributes.Float(model.KeyBattery))
	assert.Equal(t, int64(1), p.Attributes.Int(model.PrefixIn+"1"))
	assert.Equal(t, int64(0), p.Attributes.Int(model.PrefixIn+"2"))
	assert.Equal(t, []string{"$FUL,OK*"}, h.sent)
}

func TestDecodeBatchKeepsOrder(t *testing.T) {
	second := strings.Replace(record, "140000", "140100", 1)
	h := newHarness(nil)
	positions := h.decode(t, "BTH"+imei+"002"+record+second)
	require.Len(t, positions, 2)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC), positions[0].FixTime)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 31, 0, 0, time.UTC), positions[1].FixTime)
	assert.Empty(t, h.sent, "batches are not acknowledged")
}

func TestDecodeLoginAndHeartbeat(t *testing.T) {
	h := newHarness(nil)
	positions := h.decode(t, "LGN"+imei)
	assert.Equal(t, []string{"$LGN,01032026140509*"}, h.sent)
	require.NotNil(t, h.conn.Session())
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Outdated)
	assert.Equal(t, time.Unix(0, 0).UTC(), positions[0].FixTime, "no prior fix")
	assert.Equal(t, loginTime, positions[0].DeviceTime)

	positions = h.decode(t, "HBT"+imei)
	require.Len(t, positions, 1)
	assert.Equal(t, "$HBT,OK*", h.sent[1])
}

func TestDecodeHeartbeatRefreshesLastFix(t *testing.T) {
	last := model.NewPosition(Name)
	last.FixTime = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	last.Valid = true
	last.Latitude, last.Longitude = 28.6, 77.2

	h := newHarness(lastPositions{8: last})
	for _, frame := range []string{"HBT" + imei, "ACK" + imei + "*"} {
		positions := h.decode(t, frame)
		require.Len(t, positions, 1, frame)
		p := positions[0]
		assert.Equal(t, int64(8), p.DeviceID)
		assert.True(t, p.Outdated)
		assert.Equal(t, last.FixTime, p.FixTime)
		assert.Equal(t, 28.6, p.Latitude)
		assert.Equal(t, loginTime, p.DeviceTime)
	}
	assert.Equal(t, []string{"$HBT,OK*", "$ACK,OK*"}, h.sent)
}

func TestDecodeHealthUsesLastLocation(t *testing.T) {
	last := model.NewPosition(Name)
	last.FixTime = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	last.Valid = true
	last.Latitude, last.Longitude = 28.6, 77.2

	h := newHarness(lastPositions{8: last})
	hlm := "HLM" + "VENDOR" + "FW2.00" + imei + "010" + "060" + "087" + "20" + "045" + "1001" + "12" + "010326" + "143000"
	require.Len(t, hlm, healthLength)

	positions := h.decode(t, hlm)
	require.Len(t, positions, 1)
	p := positions[0]
	assert.True(t, p.Outdated)
	assert.Equal(t, last.FixTime, p.FixTime)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), p.DeviceTime)
	assert.Equal(t, 28.6, p.Latitude)
	assert.Equal(t, "FW2.00", p.Attributes.String(model.KeyVersionFw))
	assert.Equal(t, 87.0, p.Attributes.Float(model.KeyBatteryLevel))
	assert.Equal(t, []string{"$HLM,OK*"}, h.sent)
}

func TestDecodeUnknownDevice(t *testing.T) {
	h := newHarness(nil)
	_, err := h.decoder.Decode(context.Background(), h.conn, []byte("NRM999999999999999"+record+"*00"))
	assert.ErrorIs(t, err, protocol.ErrUnknownDevice)
	assert.Empty(t, h.sent)
}
