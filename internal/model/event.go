package model

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventGeofenceEnter EventType = "geofenceEnter"
	EventGeofenceExit  EventType = "geofenceExit"
)

// Event is immutable once built. ID is a random key downstream consumers
// can use to drop redeliveries.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	DeviceID   int64     `json:"deviceId"`
	PositionID int64     `json:"positionId"`
	GeofenceID int64     `json:"geofenceId"`
	EventTime  time.Time `json:"eventTime"`
}

func NewGeofenceEvent(t EventType, position *Position, geofenceID int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		DeviceID:   position.DeviceID,
		PositionID: position.ID,
		GeofenceID: geofenceID,
		EventTime:  position.FixTime,
	}
}
