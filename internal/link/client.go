// Package link streams accepted positions, geofence events and device
// session changes as NDJSON to a socket proxy over a reconnecting TCP
// connection.
package link

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"track-svr/internal/model"
	"track-svr/internal/pipeline"
	"track-svr/internal/protocol"
)

var ErrNotConnected = errors.New("link: not connected")

// UniqueIDs resolves device ids to IMEIs for the payloads.
type UniqueIDs interface {
	UniqueID(deviceID int64) string
}

type Client struct {
	addr      string
	devices   UniqueIDs
	logger    *slog.Logger
	dialRetry time.Duration
	redial    time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// New prepara el cliente; Run abre la conexión.
func New(addr string, devices UniqueIDs, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		addr:      addr,
		devices:   devices,
		logger:    logger.With("component", "link"),
		dialRetry: 5 * time.Second,
		redial:    2 * time.Second,
	}
}

// -------------------------------------------------------------------
//                        LOOP DE CONEXIÓN
// -------------------------------------------------------------------

// Run mantiene la conexión hasta que ctx se cancela.
func (c *Client) Run(ctx context.Context) error {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("link: dial failed", "addr", c.addr, "err", err)
			if !sleep(ctx, c.dialRetry) {
				return nil
			}
			continue
		}

		c.setConn(conn)
		c.logger.Info("link: connected", "remote", conn.RemoteAddr().String())

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		// leer en este hilo hasta que se caiga
		c.readLoop(conn)
		stop()

		c.clearConn(conn)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("link: connection closed, reconnecting...")
		if !sleep(ctx, c.redial) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) clearConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// -------------------------------------------------------------------
//                           LECTURA
// -------------------------------------------------------------------

func (c *Client) readLoop(conn net.Conn) {
	r := bufio.NewScanner(conn)
	for r.Scan() {
		// Por ahora sólo logueamos lo que llega del proxy.
		c.logger.Info("link: incoming line", "line", r.Text())
	}
	if err := r.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		c.logger.Warn("link: read error", "err", err)
	}
}

// -------------------------------------------------------------------
//                          ENVÍO NDJSON
// -------------------------------------------------------------------

func (c *Client) sendNDJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = c.conn.Write(append(b, '\n'))
	return err
}

// -------------------------------------------------------------------
//          PAYLOADS DE ALTO NIVEL HACIA EL PROXY (NDJSON)
// -------------------------------------------------------------------

type deviceConnectPayload struct {
	DeviceConnect bool   `json:"device_connect"`
	IMEI          string `json:"imei"`
	Protocol      string `json:"protocol,omitempty"`
	RemoteIP      string `json:"remote_ip,omitempty"`
	RemotePort    int    `json:"remote_port,omitempty"`
}

type deviceDisconnectPayload struct {
	DeviceDisconnect bool   `json:"device_disconnect"`
	IMEI             string `json:"imei"`
}

type trackingPayload struct {
	Tracking *pipeline.TrackingObject `json:"tracking"`
}

type eventPayload struct {
	Event      string `json:"event"`
	ID         string `json:"id"`
	IMEI       string `json:"imei"`
	PositionID int64  `json:"position_id"`
	GeofenceID int64  `json:"geofence_id"`
	Datetime   string `json:"dt"`
}

// -------------------------------------------------------------------
//                 FUNCIONES PÚBLICAS PARA EL RESTO
// -------------------------------------------------------------------

func (c *Client) uniqueID(deviceID int64) string {
	if c.devices == nil {
		return ""
	}
	return c.devices.UniqueID(deviceID)
}

// StorePosition envía la posición aceptada (formato TrackingObject).
func (c *Client) StorePosition(_ context.Context, p *model.Position) error {
	return c.sendNDJSON(trackingPayload{Tracking: pipeline.BuildTracking(c.uniqueID(p.DeviceID), p)})
}

func (c *Client) StoreEvent(_ context.Context, e model.Event) error {
	return c.sendNDJSON(eventPayload{
		Event:      string(e.Type),
		ID:         e.ID,
		IMEI:       c.uniqueID(e.DeviceID),
		PositionID: e.PositionID,
		GeofenceID: e.GeofenceID,
		Datetime:   e.EventTime.UTC().Format(time.RFC3339),
	})
}

// SendDevice notifica connect/disconnect de un dispositivo.
func (c *Client) SendDevice(info DeviceInfo) {
	var pl any
	switch info.State {
	case DeviceStateConnect:
		pl = deviceConnectPayload{
			DeviceConnect: true,
			IMEI:          info.UniqueID,
			Protocol:      info.Protocol,
			RemoteIP:      info.RemoteIP,
			RemotePort:    info.RemotePort,
		}
	case DeviceStateDisconnect:
		pl = deviceDisconnectPayload{DeviceDisconnect: true, IMEI: info.UniqueID}
	default:
		return
	}
	if err := c.sendNDJSON(pl); err != nil {
		c.logger.Warn("link: send device state failed", "imei", info.UniqueID, "state", info.State.String(), "err", err)
	}
}

func deviceInfo(conn *protocol.Conn, s *protocol.Session, state DeviceState) DeviceInfo {
	info := DeviceInfo{
		UniqueID: s.UniqueID,
		DeviceID: s.DeviceID,
		Protocol: conn.Protocol,
		State:    state,
	}
	if conn.RemoteAddr != nil {
		if host, port, err := net.SplitHostPort(conn.RemoteAddr.String()); err == nil {
			info.RemoteIP = host
			info.RemotePort, _ = strconv.Atoi(port)
		}
	}
	return info
}

func (c *Client) SessionOpened(conn *protocol.Conn, s *protocol.Session) {
	c.SendDevice(deviceInfo(conn, s, DeviceStateConnect))
}

func (c *Client) SessionClosed(conn *protocol.Conn, s *protocol.Session) {
	c.SendDevice(deviceInfo(conn, s, DeviceStateDisconnect))
}
