package firmware

import (
	"fmt"
	"strings"
)

// Kind identifies a reply frame by its leading marker.
type Kind int

const (
	KindNone Kind = iota
	KindTemperature
	KindDebug
	KindLCD
	KindControlConstants
	KindControlSettings
	KindControlVariables
	KindVersion
	KindAvailableDevices
	KindInstalledDevices
	KindDeviceUpdate
)

var kindMarkers = map[byte]Kind{
	'T': KindTemperature,
	'D': KindDebug,
	'L': KindLCD,
	'C': KindControlConstants,
	'S': KindControlSettings,
	'V': KindControlVariables,
	'N': KindVersion,
	'h': KindAvailableDevices,
	'd': KindInstalledDevices,
	'U': KindDeviceUpdate,
}

var kindNames = map[Kind]string{
	KindNone:             "none",
	KindTemperature:      "temperature",
	KindDebug:            "debug",
	KindLCD:              "lcd",
	KindControlConstants: "control-constants",
	KindControlSettings:  "control-settings",
	KindControlVariables: "control-variables",
	KindVersion:          "version",
	KindAvailableDevices: "available-devices",
	KindInstalledDevices: "installed-devices",
	KindDeviceUpdate:     "device-update",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Frame is one parsed reply line. Frames are values and never modified
// after parsing.
type Frame struct {
	Kind    Kind
	Payload string
}

// ParseLine splits a reply line into its kind and payload. Surrounding
// whitespace and the line terminator are ignored.
func ParseLine(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimLeft(line, " \t\x00")
	if len(line) < 2 || line[1] != ':' {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, truncate(line))
	}
	kind, ok := kindMarkers[line[0]]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, truncate(line))
	}
	return Frame{Kind: kind, Payload: line[2:]}, nil
}

func truncate(s string) string {
	const max = 40
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
