package model

import (
	"math"
	"strconv"
)

// Well-known attribute keys shared by decoders and handlers.
const (
	KeyIgnition         = "ignition"
	KeyMotion           = "motion"
	KeyCharge           = "charge"
	KeyDistance         = "distance"
	KeyTotalDistance    = "totalDistance"
	KeyApproximate      = "approximate"
	KeyPower            = "power"
	KeyBattery          = "battery"
	KeyBatteryLevel     = "batteryLevel"
	KeyExternalBattery  = "externalBattery"
	KeyAlarm            = "alarm"
	KeySatellites       = "sat"
	KeySatellitesInView = "satVisible"
	KeyHDOP             = "hdop"
	KeyPDOP             = "pdop"
	KeyRSSI             = "rssi"
	KeyDoor             = "door"
	KeyOdometer         = "odometer"
	KeyTripOdometer     = "tripOdometer"
	KeyOBDSpeed         = "obdSpeed"
	KeyVersionFw        = "versionFw"
	KeyOperator         = "operator"
	KeyEvent            = "event"
	KeyPriority         = "priority"
	KeyMCC              = "mcc"
	KeyMNC              = "mnc"
	KeyLAC              = "lac"
	KeyCellID           = "cid"

	PrefixIn  = "in"
	PrefixOut = "out"
	PrefixADC = "adc"
	PrefixIO  = "io"
	// Teltonika reports digital inputs as di1..diN.
	PrefixDI = "di"
)

const (
	AlarmGeneral       = "general"
	AlarmSOS           = "sos"
	AlarmPowerCut      = "powerCut"
	AlarmPowerRestored = "powerRestored"
	AlarmLowBattery    = "lowBattery"
	AlarmOverspeed     = "overspeed"
	AlarmTampering     = "tampering"
	AlarmBraking       = "hardBraking"
	AlarmAcceleration  = "hardAcceleration"
	AlarmCornering     = "hardCornering"
	AlarmGeofenceEnter = "geofenceEnter"
	AlarmGeofenceExit  = "geofenceExit"
	AlarmAccident      = "accident"
)

// Attributes holds protocol specific extras. Values are bool, int64,
// float64 or string; Set normalizes everything else.
type Attributes map[string]any

// Set stores value under key. A nil value removes nothing and is ignored.
func (a Attributes) Set(key string, value any) {
	switch v := value.(type) {
	case nil:
		return
	case bool, int64, float64, string:
		a[key] = v
	case int:
		a[key] = int64(v)
	case int8:
		a[key] = int64(v)
	case int16:
		a[key] = int64(v)
	case int32:
		a[key] = int64(v)
	case uint8:
		a[key] = int64(v)
	case uint16:
		a[key] = int64(v)
	case uint32:
		a[key] = int64(v)
	case uint64:
		if v > math.MaxInt64 {
			a[key] = strconv.FormatUint(v, 10)
		} else {
			a[key] = int64(v)
		}
	case float32:
		a[key] = float64(v)
	case *string:
		if v != nil {
			a[key] = *v
		}
	default:
		return
	}
}

func (a Attributes) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Bool returns false for missing keys.
func (a Attributes) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// Float returns 0 for missing or non numeric keys.
func (a Attributes) Float(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func (a Attributes) Int(key string) int64 {
	switch v := a[key].(type) {
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	case bool:
		if v {
			return 1
		}
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}

func (a Attributes) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
