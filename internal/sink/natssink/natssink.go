// Package natssink publishes accepted positions and geofence events on
// NATS subjects track.positions.<deviceId> and track.events.<type>.
package natssink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"track-svr/internal/model"
	"track-svr/internal/pipeline"
)

const (
	PositionSubjectPrefix = "track.positions."
	EventSubjectPrefix    = "track.events."
)

type UniqueIDs interface {
	UniqueID(deviceID int64) string
}

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Sink struct {
	pub     Publisher
	devices UniqueIDs
}

func New(pub Publisher, devices UniqueIDs) *Sink {
	return &Sink{pub: pub, devices: devices}
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

func PositionSubject(deviceID int64) string {
	return fmt.Sprintf("%s%d", PositionSubjectPrefix, deviceID)
}

func EventSubject(t model.EventType) string {
	return EventSubjectPrefix + string(t)
}

func (s *Sink) uniqueID(deviceID int64) string {
	if s.devices == nil {
		return ""
	}
	return s.devices.UniqueID(deviceID)
}

func (s *Sink) StorePosition(_ context.Context, p *model.Position) error {
	b, err := json.Marshal(pipeline.BuildTracking(s.uniqueID(p.DeviceID), p))
	if err != nil {
		return err
	}
	return s.pub.Publish(PositionSubject(p.DeviceID), b)
}

type eventMessage struct {
	model.Event
	UniqueID string `json:"uniqueId"`
}

func (s *Sink) StoreEvent(_ context.Context, e model.Event) error {
	b, err := json.Marshal(eventMessage{Event: e, UniqueID: s.uniqueID(e.DeviceID)})
	if err != nil {
		return err
	}
	return s.pub.Publish(EventSubject(e.Type), b)
}
