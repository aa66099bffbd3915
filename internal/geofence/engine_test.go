package geofence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/model"
)

type fakeProvider struct {
	contained []int64
	fences    map[int64]*Geofence
}

func (f *fakeProvider) ContainedGeofenceIDs(*model.Position) []int64 { return f.contained }

func (f *fakeProvider) Geofence(id int64) (*Geofence, bool) {
	g, ok := f.fences[id]
	return g, ok
}

type calendarStub bool

func (c calendarStub) CheckMoment(time.Time) bool { return bool(c) }

type membership struct{ ids []int64 }

func (m *membership) GeofenceIDs() []int64 { return m.ids }
func (m *membership) SetGeofenceIDs(ids []int64) { m.ids = ids }

type latest bool

func (l latest) IsLatestPosition(*model.Position) bool { return bool(l) }

func calendars(m map[int64]Calendar) CalendarProvider {
	return CalendarFunc(func(id int64) (Calendar, bool) {
		c, ok := m[id]
		return c, ok
	})
}

func fix() *model.Position {
	p := model.NewPosition("test")
	p.ID = 100
	p.DeviceID = 7
	p.Valid = true
	p.FixTime = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	return p
}

func TestAnalyzeExit(t *testing.T) {
	provider := &fakeProvider{fences: map[int64]*Geofence{10: {ID: 10}}}
	state := &membership{ids: []int64{10}}
	e := NewEngine(provider, nil, latest(true), nil)

	events := e.Analyze(fix(), state)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventGeofenceExit, events[0].Type)
	assert.Equal(t, int64(10), events[0].GeofenceID)
	assert.Equal(t, int64(7), events[0].DeviceID)
	assert.Equal(t, int64(100), events[0].PositionID)
	assert.Empty(t, state.ids)
}

func TestAnalyzeCalendarSuppression(t *testing.T) {
	provider := &fakeProvider{fences: map[int64]*Geofence{10: {ID: 10, CalendarID: 3}}}
	state := &membership{ids: []int64{10}}
	e := NewEngine(provider, calendars(map[int64]Calendar{3: calendarStub(false)}), latest(true), nil)

	assert.Empty(t, e.Analyze(fix(), state))
	assert.Empty(t, state.ids, "membership is updated even when events are suppressed")
}

func TestAnalyzeCalendarAllows(t *testing.T) {
	provider := &fakeProvider{
		contained: []int64{10},
		fences:    map[int64]*Geofence{10: {ID: 10, CalendarID: 3}},
	}
	e := NewEngine(provider, calendars(map[int64]Calendar{3: calendarStub(true)}), latest(true), nil)

	events := e.Analyze(fix(), &membership{})
	require.Len(t, events, 1)
	assert.Equal(t, model.EventGeofenceEnter, events[0].Type)
}

func TestAnalyzeMissingCalendarFailsOpen(t *testing.T) {
	provider := &fakeProvider{
		contained: []int64{10},
		fences:    map[int64]*Geofence{10: {ID: 10, CalendarID: 99}},
	}
	e := NewEngine(provider, calendars(map[int64]Calendar{}), latest(true), nil)
	assert.Len(t, e.Analyze(fix(), &membership{}), 1)
}

func TestAnalyzeOrderAndIdempotence(t *testing.T) {
	provider := &fakeProvider{
		contained: []int64{3, 1, 5},
		fences:    map[int64]*Geofence{1: {ID: 1}, 2: {ID: 2}, 3: {ID: 3}, 4: {ID: 4}, 5: {ID: 5}},
	}
	state := &membership{ids: []int64{4, 2, 5}}
	e := NewEngine(provider, nil, latest(true), nil)

	events := e.Analyze(fix(), state)
	var got []string
	for _, ev := range events {
		got = append(got, string(ev.Type)+":"+string(rune('0'+ev.GeofenceID)))
	}
	assert.Equal(t, []string{"geofenceExit:2", "geofenceExit:4", "geofenceEnter:1", "geofenceEnter:3"}, got)
	assert.Equal(t, []int64{3, 1, 5}, state.ids)

	assert.Empty(t, e.Analyze(fix(), state), "unchanged membership emits nothing")
}

func TestAnalyzeIgnoresStaleAndInvalid(t *testing.T) {
	provider := &fakeProvider{fences: map[int64]*Geofence{10: {ID: 10}}}

	state := &membership{ids: []int64{10}}
	assert.Empty(t, NewEngine(provider, nil, latest(false), nil).Analyze(fix(), state))
	assert.Equal(t, []int64{10}, state.ids, "stale position does not touch membership")

	p := fix()
	p.Valid = false
	assert.Empty(t, NewEngine(provider, nil, latest(true), nil).Analyze(p, state))
	assert.Equal(t, []int64{10}, state.ids)
}
