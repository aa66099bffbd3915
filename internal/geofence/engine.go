package geofence

import (
	"log/slog"
	"sort"
	"time"

	"track-svr/internal/model"
)

type Provider interface {
	ContainedGeofenceIDs(p *model.Position) []int64
	Geofence(id int64) (*Geofence, bool)
}

type Calendar interface {
	CheckMoment(t time.Time) bool
}

type CalendarProvider interface {
	Calendar(id int64) (Calendar, bool)
}

// CalendarFunc adapts a lookup function to CalendarProvider.
type CalendarFunc func(id int64) (Calendar, bool)

func (f CalendarFunc) Calendar(id int64) (Calendar, bool) { return f(id) }

type LatestChecker interface {
	IsLatestPosition(p *model.Position) bool
}

// Membership is the device's current geofence set. The engine is the only
// writer of it.
type Membership interface {
	GeofenceIDs() []int64
	SetGeofenceIDs(ids []int64)
}

type Engine struct {
	geofences Provider
	calendars CalendarProvider
	latest    LatestChecker
	logger    *slog.Logger
}

func NewEngine(geofences Provider, calendars CalendarProvider, latest LatestChecker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		geofences: geofences,
		calendars: calendars,
		latest:    latest,
		logger:    logger.With("component", "geofence"),
	}
}

// Analyze diffs the geofences containing position against the device
// membership, stores the new membership and returns the events that pass
// their calendars. Exits come before enters, each in ascending id order.
// Stale or invalid positions are ignored.
func (e *Engine) Analyze(position *model.Position, state Membership) []model.Event {
	if !position.Valid {
		return nil
	}
	if e.latest != nil && !e.latest.IsLatestPosition(position) {
		return nil
	}

	current := e.geofences.ContainedGeofenceIDs(position)
	previous := state.GeofenceIDs()

	entered := difference(current, previous)
	exited := difference(previous, current)

	state.SetGeofenceIDs(current)

	var events []model.Event
	for _, id := range exited {
		if e.allowed(id, position.FixTime) {
			events = append(events, model.NewGeofenceEvent(model.EventGeofenceExit, position, id))
		}
	}
	for _, id := range entered {
		if e.allowed(id, position.FixTime) {
			events = append(events, model.NewGeofenceEvent(model.EventGeofenceEnter, position, id))
		}
	}
	return events
}

// allowed fails open: no geofence record, no calendar or an unknown
// calendar all let the event through.
func (e *Engine) allowed(geofenceID int64, t time.Time) bool {
	g, ok := e.geofences.Geofence(geofenceID)
	if !ok {
		e.logger.Warn("geofence not found", "geofenceId", geofenceID)
		return true
	}
	if g.CalendarID == 0 || e.calendars == nil {
		return true
	}
	c, ok := e.calendars.Calendar(g.CalendarID)
	if !ok || c == nil {
		return true
	}
	return c.CheckMoment(t)
}

// difference returns a - b sorted ascending.
func difference(a, b []int64) []int64 {
	skip := make(map[int64]struct{}, len(b))
	for _, id := range b {
		skip[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
			skip[id] = struct{}{}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
