package session

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/brewbridge/internal/firmware"
)

// The accessors below serve CommandServer reads from cache; none of them
// touch the link.

// LCD returns the last display lines, or ErrNoData.
func (s *Session) LCD() ([]string, error) {
	if s.lcd == nil {
		return nil, ErrNoData
	}
	return append([]string(nil), s.lcd...), nil
}

// Control returns a copy of the cached control state.
func (s *Session) Control() ControlState {
	return s.control
}

// Mode returns the firmware mode letter, or ErrNoData before the
// controller has reported its settings.
func (s *Session) Mode() (string, error) {
	if s.control.Mode == ModeUnknown {
		return "", ErrNoData
	}
	return s.control.Mode.Letter(), nil
}

// BeerSetpoint returns the beer setpoint, or ErrNoData when the current
// mode has none.
func (s *Session) BeerSetpoint() (float64, error) {
	if s.control.BeerSetpoint == nil {
		return 0, ErrNoData
	}
	return *s.control.BeerSetpoint, nil
}

// FridgeSetpoint returns the fridge setpoint, or ErrNoData.
func (s *Session) FridgeSetpoint() (float64, error) {
	if s.control.FridgeSetpoint == nil {
		return 0, ErrNoData
	}
	return *s.control.FridgeSetpoint, nil
}

// ControlConstants returns the last C: payload.
func (s *Session) ControlConstants() (json.RawMessage, error) {
	if s.constants == nil {
		return nil, ErrNoData
	}
	return s.constants.Raw, nil
}

// ControlSettings returns the last S: payload.
func (s *Session) ControlSettings() (json.RawMessage, error) {
	if s.settings == nil {
		return nil, ErrNoData
	}
	return s.settings.Raw, nil
}

// ControlVariables returns the last V: payload.
func (s *Session) ControlVariables() (json.RawMessage, error) {
	if s.variables == nil {
		return nil, ErrNoData
	}
	return s.variables, nil
}

// Temperatures returns the latest T: frame and when it arrived.
func (s *Session) Temperatures() (firmware.Temperatures, time.Time, error) {
	if s.temps == nil {
		return firmware.Temperatures{}, time.Time{}, ErrNoData
	}
	return *s.temps, s.tempsAt, nil
}

// Version returns the handshake version.
func (s *Session) Version() (firmware.Version, error) {
	if s.version == nil {
		return firmware.Version{}, ErrNoData
	}
	return *s.version, nil
}

// DeviceListReply is the getDeviceList document.
type DeviceListReply struct {
	Board      string         `json:"board"`
	Shield     string         `json:"shield"`
	DeviceList DeviceList     `json:"deviceList"`
	PinList    []firmware.Pin `json:"pinList"`
}

// DeviceList returns the device list with board pin metadata, or
// ErrStaleDeviceList while a refresh is incomplete.
func (s *Session) DeviceList() (DeviceListReply, error) {
	list, err := s.devices.Snapshot()
	if err != nil {
		return DeviceListReply{}, err
	}
	var board, shield string
	if s.version != nil {
		board, shield = s.version.Board, s.version.Shield
	}
	return DeviceListReply{
		Board:      board,
		Shield:     shield,
		DeviceList: list,
		PinList:    firmware.PinList(board, shield),
	}, nil
}

// DeviceFreshness exposes the device list freshness bits.
func (s *Session) DeviceFreshness() Freshness {
	return s.devices.Freshness()
}

// DashInfo is the getDashInfo snapshot.
type DashInfo struct {
	BeerTemp    *float64 `json:"BeerTemp"`
	FridgeTemp  *float64 `json:"FridgeTemp"`
	BeerSet     *float64 `json:"BeerSet"`
	FridgeSet   *float64 `json:"FridgeSet"`
	LogInterval int      `json:"LogInterval"`
	Mode        string   `json:"Mode"`
	RoomTemp    *float64 `json:"RoomTemp"`
	State       *int     `json:"State"`
}

// DashInfo combines the latest temperatures with the control state.
// Setpoints fall back to the control state before the first T: frame.
func (s *Session) DashInfo() DashInfo {
	d := DashInfo{
		BeerSet:     s.control.BeerSetpoint,
		FridgeSet:   s.control.FridgeSetpoint,
		LogInterval: int(s.opts.LoggingInterval / time.Second),
		Mode:        s.control.Mode.Letter(),
	}
	if t := s.temps; t != nil {
		d.BeerTemp, d.FridgeTemp, d.RoomTemp, d.State = t.BeerTemp, t.FridgeTemp, t.RoomTemp, t.State
		if t.BeerSet != nil {
			d.BeerSet = t.BeerSet
		}
		if t.FridgeSet != nil {
			d.FridgeSet = t.FridgeSet
		}
	}
	return d
}

// DeviceName returns the configured device name.
func (s *Session) DeviceName() string {
	return s.opts.DeviceName
}

// TempFormat returns the configured temperature unit.
func (s *Session) TempFormat() string {
	return s.opts.TempFormat
}
