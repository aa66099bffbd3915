// Package filter decides which decoded positions are kept. Each check is
// independent and configured separately; a position is dropped when any
// enabled check fires. Accepted positions with unusable coordinates or
// timestamps are patched from the previous fix.
package filter

import (
	"log/slog"
	"strings"
	"time"

	"track-svr/internal/model"
)

// Reason tags the check that rejected a position.
type Reason string

const (
	ReasonInvalid     Reason = "Invalid"
	ReasonZero        Reason = "Zero"
	ReasonDuplicate   Reason = "Duplicate"
	ReasonFuture      Reason = "Future"
	ReasonAccuracy    Reason = "Accuracy"
	ReasonApproximate Reason = "Approximate"
	ReasonStatic      Reason = "Static"
	ReasonDistance    Reason = "Distance"
	ReasonMaxSpeed    Reason = "MaxSpeed"
	ReasonMinPeriod   Reason = "MinPeriod"
)

// SkipAttributesKey is the device attribute listing attribute names whose
// change forces acceptance.
const SkipAttributesKey = "filter.skipAttributes"

type Config struct {
	Invalid     bool
	Zero        bool
	Duplicate   bool
	Future      time.Duration // 0 disables
	Accuracy    float64       // meters, 0 disables
	Approximate bool
	Static      bool
	Distance    float64 // meters, 0 disables
	MaxSpeed    float64 // knots, 0 disables
	MinPeriod   time.Duration
	SkipLimit   time.Duration

	SkipAttributesEnabled bool
	// SkipAttributes is the fallback list when the device has none.
	SkipAttributes string
}

// Devices is the registry view the engine needs.
type Devices interface {
	LookupAttribute(deviceID int64, key, fallback string) string
	UniqueID(deviceID int64) string
}

type Decision int

const (
	Accept Decision = iota
	Drop
)

func (d Decision) String() string {
	if d == Drop {
		return "drop"
	}
	return "accept"
}

type Result struct {
	Decision Decision
	Reasons  []Reason
	// Position is the accepted, possibly patched, copy. Nil on drop.
	Position *model.Position
}

func (r Result) Accepted() bool { return r.Decision == Accept }

type Engine struct {
	cfg     Config
	devices Devices
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With("component", "filter") }
}

func NewEngine(cfg Config, devices Devices, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		devices: devices,
		logger:  slog.Default().With("component", "filter"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// Filter evaluates position against last, the latest accepted position of
// the same device (nil when none). position is not modified.
func (e *Engine) Filter(position, last *model.Position) Result {
	reasons := e.reasons(position, last)
	if len(reasons) > 0 {
		e.logger.Info("position filtered",
			"reasons", reasons,
			"deviceId", position.DeviceID,
			"uniqueId", e.uniqueID(position.DeviceID),
		)
		return Result{Decision: Drop, Reasons: reasons}
	}
	return Result{Decision: Accept, Position: e.patch(position, last)}
}

func (e *Engine) reasons(position, last *model.Position) []Reason {
	var out []Reason
	if e.filterInvalid(position) {
		out = append(out, ReasonInvalid)
	}
	if e.filterZero(position) {
		out = append(out, ReasonZero)
	}
	// duplicate, static and distance each evaluate both skip overrides
	if e.filterDuplicate(position, last) && !e.skipLimit(position, last) && !e.skipAttributes(position, last) {
		out = append(out, ReasonDuplicate)
	}
	if e.filterFuture(position) {
		out = append(out, ReasonFuture)
	}
	if e.filterAccuracy(position) {
		out = append(out, ReasonAccuracy)
	}
	if e.filterApproximate(position) {
		out = append(out, ReasonApproximate)
	}
	if e.filterStatic(position) && !e.skipLimit(position, last) && !e.skipAttributes(position, last) {
		out = append(out, ReasonStatic)
	}
	if e.filterDistance(position, last) && !e.skipLimit(position, last) && !e.skipAttributes(position, last) {
		out = append(out, ReasonDistance)
	}
	if e.filterMaxSpeed(position, last) {
		out = append(out, ReasonMaxSpeed)
	}
	if e.filterMinPeriod(position, last) {
		out = append(out, ReasonMinPeriod)
	}
	return out
}

func (e *Engine) filterInvalid(p *model.Position) bool {
	return e.cfg.Invalid && (!p.Valid ||
		p.Latitude > 90 || p.Longitude > 180 ||
		p.Latitude < -90 || p.Longitude < -180)
}

func (e *Engine) filterZero(p *model.Position) bool {
	return e.cfg.Zero && (p.Latitude == 0 || p.Longitude == 0)
}

func (e *Engine) filterDuplicate(p, last *model.Position) bool {
	if !e.cfg.Duplicate || last == nil || !p.FixTime.Equal(last.FixTime) ||
		p.Attributes.Bool(model.KeyIgnition) != last.Attributes.Bool(model.KeyIgnition) {
		return false
	}
	for key := range p.Attributes {
		if !last.Attributes.Has(key) {
			return false
		}
	}
	return true
}

func (e *Engine) beyondHorizon(p *model.Position) bool {
	return p.FixTime.After(e.now().Add(e.cfg.Future))
}

func (e *Engine) filterFuture(p *model.Position) bool {
	return e.cfg.Future != 0 && e.beyondHorizon(p)
}

func (e *Engine) filterAccuracy(p *model.Position) bool {
	return e.cfg.Accuracy != 0 && p.Accuracy > e.cfg.Accuracy
}

func (e *Engine) filterApproximate(p *model.Position) bool {
	return e.cfg.Approximate && p.Attributes.Bool(model.KeyApproximate)
}

func (e *Engine) filterStatic(p *model.Position) bool {
	return e.cfg.Static && p.Speed == 0
}

func (e *Engine) filterDistance(p, last *model.Position) bool {
	if e.cfg.Distance != 0 && last != nil &&
		p.Attributes.Bool(model.KeyIgnition) == last.Attributes.Bool(model.KeyIgnition) {
		return p.Attributes.Float(model.KeyDistance) < e.cfg.Distance
	}
	return false
}

func (e *Engine) filterMaxSpeed(p, last *model.Position) bool {
	if e.cfg.MaxSpeed == 0 || last == nil {
		return false
	}
	distance := p.Attributes.Float(model.KeyDistance)
	elapsed := p.FixTime.Sub(last.FixTime).Seconds()
	// zero elapsed gives +Inf (or NaN for zero distance), same as the
	// floating point division it models
	return model.KnotsFromMps(distance/elapsed) > e.cfg.MaxSpeed
}

func (e *Engine) filterMinPeriod(p, last *model.Position) bool {
	if e.cfg.MinPeriod == 0 || last == nil {
		return false
	}
	elapsed := p.FixTime.Sub(last.FixTime)
	return elapsed > 0 && elapsed < e.cfg.MinPeriod
}

func (e *Engine) skipLimit(p, last *model.Position) bool {
	if e.cfg.SkipLimit == 0 || last == nil {
		return false
	}
	return p.ServerTime.Sub(last.ServerTime) > e.cfg.SkipLimit
}

// skipAttributes reports whether an attribute the operator cares about
// changed since last.
func (e *Engine) skipAttributes(p, last *model.Position) bool {
	if e.cfg.SkipAttributesEnabled {
		list := e.cfg.SkipAttributes
		if e.devices != nil {
			list = e.devices.LookupAttribute(p.DeviceID, SkipAttributesKey, list)
		}
		for _, key := range splitList(list) {
			if !p.Attributes.Has(key) {
				continue
			}
			if last == nil || !last.Attributes.Has(key) || last.Attributes.String(key) != p.Attributes.String(key) {
				return true
			}
		}
	}
	if last == nil {
		return false
	}
	if p.Protocol == "teltonika" &&
		(last.Attributes.Int(model.PrefixADC+"1") != p.Attributes.Int(model.PrefixADC+"1") ||
			last.Attributes.Int(model.PrefixDI+"1") != p.Attributes.Int(model.PrefixDI+"1") ||
			last.Attributes.Int(model.PrefixDI+"2") != p.Attributes.Int(model.PrefixDI+"2")) {
		return true
	}
	return p.Attributes.Has(model.KeyPower) &&
		p.Attributes.Float(model.KeyPower) != last.Attributes.Float(model.KeyPower)
}

// patch fills unusable fixes from last and marks them outdated.
func (e *Engine) patch(p, last *model.Position) *model.Position {
	out := p.Clone()
	if last != nil {
		if out.Latitude == 0 || out.Longitude == 0 || e.beyondHorizon(out) {
			out.CopySpatial(last)
			out.Outdated = true
			if last.Attributes.Has(model.KeyDistance) {
				out.Set(model.KeyDistance, last.Attributes.Float(model.KeyDistance))
				out.Set(model.KeyTotalDistance, last.Attributes.Float(model.KeyTotalDistance))
			}
		}
	} else if e.beyondHorizon(out) {
		out.FixTime = time.Unix(0, 0).UTC()
	}
	return out
}

func (e *Engine) uniqueID(id int64) string {
	if e.devices == nil {
		return ""
	}
	return e.devices.UniqueID(id)
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
}
