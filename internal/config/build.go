package config

import (
	"time"

	"track-svr/internal/calendar"
	"track-svr/internal/filter"
	"track-svr/internal/geofence"
	"track-svr/internal/registry"
)

func (f Filter) Engine() filter.Config {
	return filter.Config{
		Invalid:               f.Invalid,
		Zero:                  f.Zero,
		Duplicate:             f.Duplicate,
		Future:                time.Duration(f.Future) * time.Second,
		Accuracy:              f.Accuracy,
		Approximate:           f.Approximate,
		Static:                f.Static,
		Distance:              f.Distance,
		MaxSpeed:              f.MaxSpeed,
		MinPeriod:             time.Duration(f.MinPeriod) * time.Second,
		SkipLimit:             time.Duration(f.SkipLimit) * time.Second,
		SkipAttributesEnabled: f.SkipAttributesEnabled,
		SkipAttributes:        f.SkipAttributes,
	}
}

func (f File) RegistryDevices() []registry.Device {
	out := make([]registry.Device, 0, len(f.Devices))
	for _, d := range f.Devices {
		out = append(out, registry.Device{
			ID:          d.ID,
			UniqueID:    d.UniqueID,
			Name:        d.Name,
			Attributes:  d.Attributes,
			GeofenceIDs: d.GeofenceIDs,
		})
	}
	return out
}

// GeofenceStore builds the store; call after Validate.
func (f File) GeofenceStore(links geofence.Links) (*geofence.Store, error) {
	store := geofence.NewStore(links)
	for _, g := range f.Geofences {
		gf := &geofence.Geofence{ID: g.ID, Name: g.Name, CalendarID: g.CalendarID}
		if g.Circle != nil {
			gf.Shape = geofence.Circle{Latitude: g.Circle.Latitude, Longitude: g.Circle.Longitude, Radius: g.Circle.Radius}
		} else if len(g.Polygon) > 0 {
			poly := geofence.Polygon{}
			for _, pt := range g.Polygon {
				poly.Points = append(poly.Points, geofence.Point{Latitude: pt[0], Longitude: pt[1]})
			}
			gf.Shape = poly
		}
		if err := store.Put(gf); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (f File) CalendarStore() (*calendar.Store, error) {
	store := calendar.NewStore()
	for _, c := range f.Calendars {
		cal, err := c.build()
		if err != nil {
			return nil, invalid("calendar", "%d: %v", c.ID, err)
		}
		store.Put(cal)
	}
	return store, nil
}
