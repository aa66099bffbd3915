package link

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/model"
	"track-svr/internal/protocol"
)

type uniqueIDs map[int64]string

func (u uniqueIDs) UniqueID(id int64) string { return u[id] }

func startProxy(t *testing.T) (net.Listener, <-chan map[string]any) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	lines := make(chan map[string]any, 16)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			var m map[string]any
			if json.Unmarshal(sc.Bytes(), &m) == nil {
				lines <- m
			}
		}
	}()
	return ln, lines
}

func next(t *testing.T, lines <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case m := <-lines:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no line from link")
		return nil
	}
}

func TestClientStreamsNDJSON(t *testing.T) {
	ln, lines := startProxy(t)
	c := New(ln.Addr().String(), uniqueIDs{3: "356307042441013"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	p := model.NewPosition("teltonika")
	p.ID = 5
	p.DeviceID = 3
	p.SetTime(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	p.Latitude, p.Longitude = 28.6, 77.2
	require.NoError(t, c.StorePosition(ctx, p))

	m := next(t, lines)
	tracking, ok := m["tracking"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "356307042441013", tracking["imei"])
	assert.Equal(t, 5.0, tracking["position_id"])
	assert.Equal(t, "2026-01-02T03:04:05Z", tracking["dt"])

	e := model.NewGeofenceEvent(model.EventGeofenceEnter, p, 10)
	require.NoError(t, c.StoreEvent(ctx, e))
	m = next(t, lines)
	assert.Equal(t, "geofenceEnter", m["event"])
	assert.Equal(t, 10.0, m["geofence_id"])
	assert.Equal(t, e.ID, m["id"])

	conn := protocol.NewConn("teltonika", protocol.TCP,
		&net.TCPAddr{IP: net.IPv4(10, 0, 0, 8), Port: 40100}, protocol.Env{}, nil)
	s := &protocol.Session{DeviceID: 3, UniqueID: "356307042441013"}
	c.SessionOpened(conn, s)
	m = next(t, lines)
	assert.Equal(t, true, m["device_connect"])
	assert.Equal(t, "10.0.0.8", m["remote_ip"])
	assert.Equal(t, 40100.0, m["remote_port"])

	c.SessionClosed(conn, s)
	m = next(t, lines)
	assert.Equal(t, true, m["device_disconnect"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.False(t, c.Connected())
}

func TestClientNotConnected(t *testing.T) {
	c := New("127.0.0.1:1", nil, nil)
	err := c.StorePosition(context.Background(), model.NewPosition("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}
