package model

import (
	"time"
)

// Position es un fix normalizado. Todos los decoders producen este tipo.
type Position struct {
	ID       int64  `json:"id"`
	DeviceID int64  `json:"deviceId"`
	Protocol string `json:"protocol"`

	ServerTime time.Time `json:"serverTime"`
	DeviceTime time.Time `json:"deviceTime"`
	FixTime    time.Time `json:"fixTime"`

	Outdated  bool    `json:"outdated"`
	Valid     bool    `json:"valid"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"` // knots
	Course    float64 `json:"course"`
	Accuracy  float64 `json:"accuracy"`

	Attributes Attributes `json:"attributes"`
}

func NewPosition(protocol string) *Position {
	return &Position{
		Protocol:   protocol,
		ServerTime: time.Now().UTC(),
		Attributes: Attributes{},
	}
}

// SetTime fija fix time y device time al mismo instante.
func (p *Position) SetTime(t time.Time) {
	p.FixTime = t
	p.DeviceTime = t
}

func (p *Position) Set(key string, value any) {
	if p.Attributes == nil {
		p.Attributes = Attributes{}
	}
	p.Attributes.Set(key, value)
}

// Clone returns a deep copy; attribute values are scalars so a map copy is enough.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	c.Attributes = make(Attributes, len(p.Attributes))
	for k, v := range p.Attributes {
		c.Attributes[k] = v
	}
	return &c
}

// CopySpatial copies the fix fields of src (time, validity, coordinates,
// motion and accuracy) into p.
func (p *Position) CopySpatial(src *Position) {
	p.FixTime = src.FixTime
	p.Valid = src.Valid
	p.Latitude = src.Latitude
	p.Longitude = src.Longitude
	p.Altitude = src.Altitude
	p.Speed = src.Speed
	p.Course = src.Course
	p.Accuracy = src.Accuracy
}
