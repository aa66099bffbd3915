package pipeline

import (
	"time"

	"track-svr/internal/model"
)

// TrackingObject es la vista plana de una posición aceptada que se
// entrega a los consumidores externos (link NDJSON, gRPC, NATS).
type TrackingObject struct {
	IMEI       string `json:"imei"`
	Protocol   string `json:"protocol"`
	DeviceID   int64  `json:"device_id"`
	PositionID int64  `json:"position_id"`
	Datetime   string `json:"dt"`
	ServerTime string `json:"server_dt"`

	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Alt  float64 `json:"alt"`
	Spd  int     `json:"spd"` // km/h
	Crs  int     `json:"crs"`
	Sats int     `json:"sats"`

	Attributes map[string]any `json:"attributes,omitempty"`

	MsgType  int  `json:"msg_type"` // 1=live, 0=buffer
	Fix      int  `json:"fix"`      // 1 si valid, sats>3 y coords válidas
	Outdated bool `json:"outdated,omitempty"`
}

func coordsValid(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return true
}

func CalcFix(valid bool, sats int, lat, lon float64) int {
	if valid && sats > 3 && coordsValid(lat, lon) {
		return 1
	}
	return 0
}

// DecideMsgType marca como buffer las posiciones con fix de más de dos
// minutos respecto a la recepción.
func DecideMsgType(fixTime, serverTime time.Time) int {
	if !fixTime.IsZero() && serverTime.Sub(fixTime) > 120*time.Second {
		return 0
	}
	return 1
}

func BuildTracking(uniqueID string, p *model.Position) *TrackingObject {
	sats := int(p.Attributes.Int(model.KeySatellites))
	attrs := make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	return &TrackingObject{
		IMEI:       uniqueID,
		Protocol:   p.Protocol,
		DeviceID:   p.DeviceID,
		PositionID: p.ID,
		Datetime:   p.FixTime.UTC().Format(time.RFC3339),
		ServerTime: p.ServerTime.UTC().Format(time.RFC3339),
		Lat:        p.Latitude,
		Lon:        p.Longitude,
		Alt:        p.Altitude,
		Spd:        int(model.KphFromKnots(p.Speed) + 0.5),
		Crs:        int(p.Course),
		Sats:       sats,
		Attributes: attrs,
		MsgType:    DecideMsgType(p.FixTime, p.ServerTime),
		Fix:        CalcFix(p.Valid, sats, p.Latitude, p.Longitude),
		Outdated:   p.Outdated,
	}
}
