package link

// DeviceState marca si la sesion del dispositivo se abrio o se cerro.
type DeviceState int

const (
	DeviceStateUnknown DeviceState = iota
	DeviceStateConnect
	DeviceStateDisconnect
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateConnect:
		return "connect"
	case DeviceStateDisconnect:
		return "disconnect"
	}
	return "unknown"
}

// DeviceInfo es lo que se envia al proxy cuando un dispositivo abre o
// cierra sesion.
type DeviceInfo struct {
	UniqueID   string
	DeviceID   int64
	Protocol   string
	RemoteIP   string
	RemotePort int
	State      DeviceState
}
