// Package geofence holds geofence shapes and the event engine that turns a
// device's position stream into enter and exit events.
package geofence

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"track-svr/internal/model"
)

var ErrMissingShape = errors.New("geofence has no shape")

type Shape interface {
	Contains(lat, lon float64) bool
}

// Circle is a center and a radius in meters.
type Circle struct {
	Latitude  float64
	Longitude float64
	Radius    float64
}

func (c Circle) Contains(lat, lon float64) bool {
	return model.Distance(c.Latitude, c.Longitude, lat, lon) <= c.Radius
}

type Point struct {
	Latitude  float64
	Longitude float64
}

// Polygon is a closed ring; the last point connects back to the first.
type Polygon struct {
	Points []Point
}

// Contains uses ray casting on the plate carree projection.
func (p Polygon) Contains(lat, lon float64) bool {
	n := len(p.Points)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p.Points[i], p.Points[j]
		if (a.Latitude > lat) != (b.Latitude > lat) &&
			lon < (b.Longitude-a.Longitude)*(lat-a.Latitude)/(b.Latitude-a.Latitude)+a.Longitude {
			inside = !inside
		}
	}
	return inside
}

type Geofence struct {
	ID         int64
	Name       string
	CalendarID int64 // 0 means no calendar
	Shape      Shape
}

// Links returns the geofences linked to a device; an empty result means
// every geofence applies.
type Links interface {
	LinkedGeofences(deviceID int64) []int64
}

// Store is the in memory geofence provider.
type Store struct {
	mu        sync.RWMutex
	geofences map[int64]*Geofence
	links     Links
}

func NewStore(links Links) *Store {
	return &Store{geofences: make(map[int64]*Geofence), links: links}
}

func (s *Store) Put(g *Geofence) error {
	if g.Shape == nil {
		return fmt.Errorf("geofence %d: %w", g.ID, ErrMissingShape)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geofences[g.ID] = g
	return nil
}

func (s *Store) Geofence(id int64) (*Geofence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.geofences[id]
	return g, ok
}

// ContainedGeofenceIDs returns, in ascending order, the geofences of the
// position's device that contain it.
func (s *Store) ContainedGeofenceIDs(p *model.Position) []int64 {
	var linked []int64
	if s.links != nil {
		linked = s.links.LinkedGeofences(p.DeviceID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	check := func(g *Geofence) {
		if g.Shape.Contains(p.Latitude, p.Longitude) {
			out = append(out, g.ID)
		}
	}
	if len(linked) > 0 {
		for _, id := range linked {
			if g, ok := s.geofences[id]; ok {
				check(g)
			}
		}
	} else {
		for _, g := range s.geofences {
			check(g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
