// Package calendar implements the time window predicates attached to
// geofences. A calendar is a set of weekly windows in a time zone.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Window is active on Days between Start and End, both minutes since
// midnight. End before Start wraps past midnight into the next day; Start
// equal to End is never active.
type Window struct {
	Days  []time.Weekday
	Start int
	End   int
}

type Calendar struct {
	ID       int64
	Name     string
	Location *time.Location
	Windows  []Window
}

// CheckMoment reports whether t falls inside one of the windows.
func (c *Calendar) CheckMoment(t time.Time) bool {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()
	day := local.Weekday()
	prev := (day + 6) % 7

	for _, w := range c.Windows {
		if w.Start <= w.End {
			if w.has(day) && minute >= w.Start && minute < w.End {
				return true
			}
			continue
		}
		if w.has(day) && minute >= w.Start {
			return true
		}
		if w.has(prev) && minute < w.End {
			return true
		}
	}
	return false
}

func (w Window) has(d time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, x := range w.Days {
		if x == d {
			return true
		}
	}
	return false
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseDay accepts english day names or their three letter prefix.
func ParseDay(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if len(key) >= 3 {
		key = key[:3]
	}
	d, ok := weekdays[key]
	if !ok {
		return 0, fmt.Errorf("unknown day %q", s)
	}
	return d, nil
}

// ParseClock parses HH:MM into minutes since midnight. "24:00" is allowed
// as the end of day.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || mm < 0 || mm > 59 || hh > 24 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return hh*60 + mm, nil
}

// Store is a concurrency safe set of calendars.
type Store struct {
	mu        sync.RWMutex
	calendars map[int64]*Calendar
}

func NewStore() *Store {
	return &Store{calendars: make(map[int64]*Calendar)}
}

func (s *Store) Put(c *Calendar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[c.ID] = c
}

func (s *Store) Get(id int64) (*Calendar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calendars[id]
	return c, ok
}
