package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"track-svr/internal/model"
	"track-svr/internal/observability"
)

// Sink receives accepted positions and geofence events. Delivery is at
// least once; implementations must tolerate repeats.
type Sink interface {
	StorePosition(ctx context.Context, p *model.Position) error
	StoreEvent(ctx context.Context, e model.Event) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Multi fans out to every sink in order. A failing sink is logged and
// counted; it never stops the others.
type Multi struct {
	sinks  []NamedSink
	logger *slog.Logger
}

func NewMulti(logger *slog.Logger, sinks ...NamedSink) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{sinks: sinks, logger: logger.With("component", "sink")}
}

func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) StorePosition(ctx context.Context, p *model.Position) error {
	for _, s := range m.sinks {
		if err := s.Sink.StorePosition(ctx, p); err != nil {
			observability.SinkErrors.WithLabelValues(s.Name).Inc()
			m.logger.Warn("store position failed", "sink", s.Name, "deviceId", p.DeviceID, "positionId", p.ID, "err", err)
		}
	}
	return nil
}

func (m *Multi) StoreEvent(ctx context.Context, e model.Event) error {
	for _, s := range m.sinks {
		if err := s.Sink.StoreEvent(ctx, e); err != nil {
			observability.SinkErrors.WithLabelValues(s.Name).Inc()
			m.logger.Warn("store event failed", "sink", s.Name, "deviceId", e.DeviceID, "eventId", e.ID, "err", err)
		}
	}
	return nil
}

// Recorder keeps everything in memory.
type Recorder struct {
	mu        sync.Mutex
	positions []*model.Position
	events    []model.Event
}

func (r *Recorder) StorePosition(_ context.Context, p *model.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, p.Clone())
	return nil
}

func (r *Recorder) StoreEvent(_ context.Context, e model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Positions() []*model.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Position(nil), r.positions...)
}

func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}
