package teltonika

import (
	"strconv"

	"track-svr/internal/model"
)

// IO ids (FMxxx permanent IO elements).
const (
	Ignition     = 239
	Movement     = 240
	GSMSignal    = 21
	DIn1         = 1
	DIn2         = 2
	DIn3         = 3
	DOut1        = 179
	DOut2        = 180
	DOut3        = 380
	AIn1         = 9
	AIn2         = 6
	ExtVolt      = 66
	BatteryVolt  = 67
	BattLevel    = 113
	TotalOd      = 16
	TripOdometer = 199
	GnssPDOP     = 181
	GnssHDOP     = 182
	GsmCellID    = 205
	GsmAreaCode  = 206
	ActiveGsmOpe = 241
)

// setIO stores one IO element on the position under its attribute key.
// Unmapped ids keep their raw value as io<id>.
func setIO(p *model.Position, id int, raw uint64) {
	switch id {
	case Ignition:
		p.Set(model.KeyIgnition, raw == 1)
	case Movement:
		p.Set(model.KeyMotion, raw == 1)
	case GSMSignal:
		p.Set(model.KeyRSSI, raw)
	case DIn1, DIn2, DIn3:
		p.Set(model.PrefixDI+strconv.Itoa(id), raw)
	case DOut1:
		p.Set(model.PrefixOut+"1", raw == 1)
	case DOut2:
		p.Set(model.PrefixOut+"2", raw == 1)
	case DOut3:
		p.Set(model.PrefixOut+"3", raw == 1)
	case AIn1:
		p.Set(model.PrefixADC+"1", raw)
	case AIn2:
		p.Set(model.PrefixADC+"2", raw)
	case ExtVolt:
		p.Set(model.KeyPower, float64(raw)*0.001)
	case BatteryVolt:
		p.Set(model.KeyBattery, float64(raw)*0.001)
	case BattLevel:
		p.Set(model.KeyBatteryLevel, raw)
	case TotalOd:
		p.Set(model.KeyOdometer, raw)
	case TripOdometer:
		p.Set(model.KeyTripOdometer, raw)
	case GnssPDOP:
		p.Set(model.KeyPDOP, float64(raw)*0.1)
	case GnssHDOP:
		p.Set(model.KeyHDOP, float64(raw)*0.1)
	case GsmCellID:
		p.Set(model.KeyCellID, raw)
	case GsmAreaCode:
		p.Set(model.KeyLAC, raw)
	case ActiveGsmOpe:
		p.Set(model.KeyOperator, strconv.FormatUint(raw, 10))
	default:
		p.Set(model.PrefixIO+strconv.Itoa(id), raw)
	}
}
