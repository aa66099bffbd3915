package protocol

import (
	"log/slog"
	"net"
	"time"

	"track-svr/internal/model"
	"track-svr/internal/observability"
)

// Identity resolves wire ids (IMEI, serial, MAC) to device ids.
type Identity interface {
	ResolveUniqueID(uniqueID string) (int64, bool)
}

// Devices exposes the last accepted position of a device.
type Devices interface {
	LastPosition(deviceID int64) *model.Position
}

// SessionObserver is told when a connection binds to a device and when
// that connection goes away.
type SessionObserver interface {
	SessionOpened(c *Conn, s *Session)
	SessionClosed(c *Conn, s *Session)
}

// Env is shared by every connection of a listener.
type Env struct {
	Identity Identity
	Devices  Devices
	Sessions SessionObserver
	Logger   *slog.Logger
}

// Session caches the device resolved on a connection.
type Session struct {
	DeviceID int64
	UniqueID string
}

type ReplyFunc func(b []byte) error

// Conn is the per connection (or per datagram) decode context.
type Conn struct {
	Protocol   string
	Transport  string
	RemoteAddr net.Addr

	env     Env
	reply   ReplyFunc
	session *Session
	logger  *slog.Logger
}

func NewConn(protocol, transport string, remote net.Addr, env Env, reply ReplyFunc) *Conn {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	remoteStr := ""
	if remote != nil {
		remoteStr = remote.String()
	}
	return &Conn{
		Protocol:   protocol,
		Transport:  transport,
		RemoteAddr: remote,
		env:        env,
		reply:      reply,
		logger:     logger.With("protocol", protocol, "remote", remoteStr),
	}
}

func (c *Conn) Logger() *slog.Logger { return c.logger }

func (c *Conn) Session() *Session { return c.session }

// Resolve returns the device session for the first known wire id. Once a
// session exists it is reused for the lifetime of the connection. Unknown
// ids return nil and leave the connection without a session.
func (c *Conn) Resolve(wireIDs ...string) *Session {
	if c.session != nil {
		return c.session
	}
	if c.env.Identity == nil {
		return nil
	}
	var tried []string
	for _, id := range wireIDs {
		if id == "" {
			continue
		}
		if deviceID, ok := c.env.Identity.ResolveUniqueID(id); ok {
			c.session = &Session{DeviceID: deviceID, UniqueID: id}
			observability.SessionsOpened.Inc()
			if c.env.Sessions != nil {
				c.env.Sessions.SessionOpened(c, c.session)
			}
			return c.session
		}
		tried = append(tried, id)
	}
	if len(tried) > 0 {
		observability.UnknownDevices.Inc()
		c.logger.Warn("unknown device", "uniqueIds", tried)
	}
	return nil
}

// Close drops the session. It is called once when the connection ends.
func (c *Conn) Close() {
	if c.session != nil && c.env.Sessions != nil {
		c.env.Sessions.SessionClosed(c, c.session)
	}
	c.session = nil
}

// Reply writes a raw message back to the device. Failures are logged; the
// device will retransmit.
func (c *Conn) Reply(b []byte) {
	if c.reply == nil || len(b) == 0 {
		return
	}
	if err := c.reply(b); err != nil {
		c.logger.Warn("reply failed", "err", err)
		return
	}
	observability.RepliesSent.Inc()
}

// LastPosition returns the last accepted position of the session device.
func (c *Conn) LastPosition() *model.Position {
	if c.session == nil || c.env.Devices == nil {
		return nil
	}
	return c.env.Devices.LastPosition(c.session.DeviceID)
}

// NewPosition returns a position bound to the session device, or nil when
// the connection has no session.
func (c *Conn) NewPosition() *model.Position {
	if c.session == nil {
		return nil
	}
	p := model.NewPosition(c.Protocol)
	p.DeviceID = c.session.DeviceID
	return p
}

// LastLocation fills position with the last known fix for messages that
// carry no location of their own and marks it outdated. Without a prior
// fix the time is set to the epoch.
func (c *Conn) LastLocation(position *model.Position, deviceTime time.Time) {
	if position.DeviceID == 0 {
		return
	}
	position.Outdated = true
	if last := c.env.Devices; last != nil {
		if prev := last.LastPosition(position.DeviceID); prev != nil {
			position.CopySpatial(prev)
		} else {
			position.FixTime = time.Unix(0, 0).UTC()
		}
	} else {
		position.FixTime = time.Unix(0, 0).UTC()
	}
	if deviceTime.IsZero() {
		deviceTime = time.Now().UTC()
	}
	position.DeviceTime = deviceTime
}
