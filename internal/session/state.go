package session

import (
	"fmt"

	"github.com/nerrad567/brewbridge/internal/firmware"
)

// State is the session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateDegraded
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode is the controller's temperature control mode.
type Mode string

// ModeUnknown is the mode until the controller reports its settings.
const ModeUnknown Mode = ""

const (
	ModeOff            Mode = "off"
	ModeBeerConstant   Mode = "beer-constant"
	ModeFridgeConstant Mode = "fridge-constant"
	ModeBeerProfile    Mode = "beer-profile"
)

var modeLetters = map[Mode]string{
	ModeOff:            firmware.ModeOff,
	ModeBeerConstant:   firmware.ModeBeerConstant,
	ModeFridgeConstant: firmware.ModeFridgeConstant,
	ModeBeerProfile:    firmware.ModeBeerProfile,
}

// Letter returns the firmware mode letter.
func (m Mode) Letter() string {
	return modeLetters[m]
}

// modeFromLetter maps a firmware mode letter to a Mode.
func modeFromLetter(l string) (Mode, bool) {
	for m, letter := range modeLetters {
		if letter == l {
			return m, true
		}
	}
	return "", false
}

// LoggingStatus is whether temperature readings are being recorded.
type LoggingStatus string

const (
	LoggingActive  LoggingStatus = "active"
	LoggingPaused  LoggingStatus = "paused"
	LoggingStopped LoggingStatus = "stopped"
)

// ControlState is the cached control mode, setpoints and logging status.
// It mirrors the controller; the owning application persists it.
type ControlState struct {
	Mode           Mode          `json:"mode"`
	BeerSetpoint   *float64      `json:"beerSet"`
	FridgeSetpoint *float64      `json:"fridgeSet"`
	Logging        LoggingStatus `json:"logging"`
	BrewName       string        `json:"brewName,omitempty"`
	RunID          string        `json:"runId,omitempty"`
}

// setMode switches mode and drops the setpoints the new mode does not use.
func (c *ControlState) setMode(m Mode, beer, fridge *float64) {
	c.Mode = m
	switch m {
	case ModeOff:
		c.BeerSetpoint, c.FridgeSetpoint = nil, nil
	case ModeBeerConstant, ModeBeerProfile:
		c.BeerSetpoint, c.FridgeSetpoint = beer, nil
	case ModeFridgeConstant:
		c.BeerSetpoint, c.FridgeSetpoint = nil, fridge
	}
}
