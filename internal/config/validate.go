package config

import (
	"fmt"
	"time"

	"track-svr/internal/calendar"
)

func invalid(key string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, key, fmt.Sprintf(format, args...))
}

// Validate checks the catalog for missing or contradictory values.
func (f File) Validate() error {
	flt := f.Filter
	switch {
	case flt.Future < 0:
		return invalid("filter.future", "negative")
	case flt.Accuracy < 0:
		return invalid("filter.accuracy", "negative")
	case flt.Distance < 0:
		return invalid("filter.distance", "negative")
	case flt.MaxSpeed < 0:
		return invalid("filter.maxSpeed", "negative")
	case flt.MinPeriod < 0:
		return invalid("filter.minPeriod", "negative")
	case flt.SkipLimit < 0:
		return invalid("filter.skipLimit", "negative")
	case f.Transsync.DistanceFilter < 0:
		return invalid("transsync.distanceFilter", "negative")
	case f.Server.IdleTimeout < 0:
		return invalid("server.idleTimeout", "negative")
	case f.Server.MaxBuffer < 0:
		return invalid("server.maxBuffer", "negative")
	}

	seenListener := map[string]bool{}
	for i, l := range f.Listeners {
		key := fmt.Sprintf("listeners[%d]", i)
		if l.Protocol == "" {
			return invalid(key, "protocol required")
		}
		if l.Transport != "tcp" && l.Transport != "udp" {
			return invalid(key, "transport %q, want tcp or udp", l.Transport)
		}
		if l.Port <= 0 || l.Port > 65535 {
			return invalid(key, "port %d out of range", l.Port)
		}
		addr := fmt.Sprintf("%s/%d", l.Transport, l.Port)
		if seenListener[addr] {
			return invalid(key, "%s already in use", addr)
		}
		seenListener[addr] = true
	}

	calendars := map[int64]bool{}
	for i, c := range f.Calendars {
		key := fmt.Sprintf("calendars[%d]", i)
		if c.ID <= 0 {
			return invalid(key, "id required")
		}
		if calendars[c.ID] {
			return invalid(key, "duplicate id %d", c.ID)
		}
		calendars[c.ID] = true
		if _, err := c.build(); err != nil {
			return invalid(key, "%v", err)
		}
	}

	geofences := map[int64]bool{}
	for i, g := range f.Geofences {
		key := fmt.Sprintf("geofences[%d]", i)
		if g.ID <= 0 {
			return invalid(key, "id required")
		}
		if geofences[g.ID] {
			return invalid(key, "duplicate id %d", g.ID)
		}
		geofences[g.ID] = true
		if (g.Circle == nil) == (len(g.Polygon) == 0) {
			return invalid(key, "exactly one of circle or polygon required")
		}
		if g.Circle != nil && g.Circle.Radius <= 0 {
			return invalid(key, "circle radius must be positive")
		}
		if len(g.Polygon) > 0 && len(g.Polygon) < 3 {
			return invalid(key, "polygon needs at least 3 points")
		}
		if g.CalendarID != 0 && !calendars[g.CalendarID] {
			return invalid(key, "unknown calendar %d", g.CalendarID)
		}
	}

	ids := map[int64]bool{}
	uniqueIDs := map[string]bool{}
	for i, d := range f.Devices {
		key := fmt.Sprintf("devices[%d]", i)
		if d.ID <= 0 || d.UniqueID == "" {
			return invalid(key, "id and uniqueId required")
		}
		if ids[d.ID] || uniqueIDs[d.UniqueID] {
			return invalid(key, "duplicate device %d/%s", d.ID, d.UniqueID)
		}
		ids[d.ID], uniqueIDs[d.UniqueID] = true, true
		for _, gid := range d.GeofenceIDs {
			if !geofences[gid] {
				return invalid(key, "unknown geofence %d", gid)
			}
		}
	}
	return nil
}

func (c Calendar) build() (*calendar.Calendar, error) {
	loc := time.UTC
	if c.Timezone != "" {
		l, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	cal := &calendar.Calendar{ID: c.ID, Name: c.Name, Location: loc}
	for _, w := range c.Windows {
		var win calendar.Window
		for _, d := range w.Days {
			day, err := calendar.ParseDay(d)
			if err != nil {
				return nil, err
			}
			win.Days = append(win.Days, day)
		}
		var err error
		if win.Start, err = calendar.ParseClock(w.Start); err != nil {
			return nil, err
		}
		if win.End, err = calendar.ParseClock(w.End); err != nil {
			return nil, err
		}
		// a full day is written 00:00-24:00
		if win.Start == win.End {
			return nil, fmt.Errorf("window %s-%s is empty", w.Start, w.End)
		}
		cal.Windows = append(cal.Windows, win)
	}
	return cal, nil
}
