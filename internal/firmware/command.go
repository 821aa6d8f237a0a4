package firmware

import (
	"encoding/json"
	"fmt"
)

// Command is one request to the firmware. Commands with Expect set to a
// frame kind hold the link until that frame arrives or the session times
// the command out; the rest are fire-and-forget.
type Command struct {
	Name    string
	Letter  byte
	Payload []byte
	Expect  Kind
}

// Bytes returns the wire form: the command letter followed by the payload.
func (c Command) Bytes() []byte {
	out := make([]byte, 0, 1+len(c.Payload))
	out = append(out, c.Letter)
	return append(out, c.Payload...)
}

func (c Command) String() string {
	return string(c.Bytes())
}

// ExpectsReply reports whether the command waits for a frame.
func (c Command) ExpectsReply() bool {
	return c.Expect != KindNone
}

func simple(name string, letter byte, expect Kind) Command {
	return Command{Name: name, Letter: letter, Expect: expect}
}

// RequestVersion asks for the N: frame.
func RequestVersion() Command { return simple("version", 'n', KindVersion) }

// RequestTemperatures asks for a T: frame.
func RequestTemperatures() Command { return simple("temperatures", 't', KindTemperature) }

// RequestLCD asks for an L: frame.
func RequestLCD() Command { return simple("lcd", 'l', KindLCD) }

// DumpControlConstants asks for a C: frame.
func DumpControlConstants() Command { return simple("control-constants", 'c', KindControlConstants) }

// DumpControlSettings asks for an S: frame.
func DumpControlSettings() Command { return simple("control-settings", 's', KindControlSettings) }

// ReadControlVariables asks for a V: frame.
func ReadControlVariables() Command { return simple("control-variables", 'v', KindControlVariables) }

// ResetEEPROM restores factory defaults on the controller.
func ResetEEPROM() Command { return simple("reset-eeprom", 'E', KindNone) }

// Restart soft-restarts the controller.
func Restart() Command { return simple("restart", 'R', KindNone) }

// ResetWiFi clears stored WiFi credentials on network controllers.
func ResetWiFi() Command { return simple("reset-wifi", 'w', KindNone) }

// Mode letters used in control settings.
const (
	ModeOff            = "o"
	ModeBeerConstant   = "b"
	ModeFridgeConstant = "f"
	ModeBeerProfile    = "p"
)

type modePayload struct {
	Mode      string   `json:"mode,omitempty"`
	BeerSet   *float64 `json:"beerSet,omitempty"`
	FridgeSet *float64 `json:"fridgeSet,omitempty"`
}

func setParameters(name string, v any) Command {
	// Marshalling these payload types cannot fail.
	b, _ := json.Marshal(v) //nolint:errcheck // Fixed struct types
	return Command{Name: name, Letter: 'j', Payload: b}
}

// SetBeerConstant switches to beer-constant mode at temp.
func SetBeerConstant(temp float64) Command {
	return setParameters("set-beer", modePayload{Mode: ModeBeerConstant, BeerSet: &temp})
}

// SetFridgeConstant switches to fridge-constant mode at temp.
func SetFridgeConstant(temp float64) Command {
	return setParameters("set-fridge", modePayload{Mode: ModeFridgeConstant, FridgeSet: &temp})
}

// SetOff turns temperature control off.
func SetOff() Command {
	return setParameters("set-off", modePayload{Mode: ModeOff})
}

// ActivateProfile switches to beer-profile mode starting at temp.
func ActivateProfile(temp float64) Command {
	return setParameters("activate-profile", modePayload{Mode: ModeBeerProfile, BeerSet: &temp})
}

// UpdateProfileSetpoint moves the beer setpoint while in profile mode.
func UpdateProfileSetpoint(temp float64) Command {
	return setParameters("profile-setpoint", modePayload{BeerSet: &temp})
}

// SetParameters sends an arbitrary settings object. The caller validates raw.
func SetParameters(raw json.RawMessage) Command {
	return Command{Name: "set-parameters", Letter: 'j', Payload: append([]byte(nil), raw...)}
}

// Legacy firmware clamps setpoints to these ranges unless told otherwise.
var legacyBounds = map[string][2]float64{
	"C": {1, 30},
	"F": {33, 86},
}

// SetTempFormat switches the controller's display and control unit. Legacy
// firmware also needs its setpoint limits widened to the new unit's range,
// otherwise it clamps every setpoint to the old unit's numbers.
func SetTempFormat(format string, dialect Dialect) Command {
	payload := struct {
		TempFormat string   `json:"tempFormat"`
		TempSetMin *float64 `json:"tempSetMin,omitempty"`
		TempSetMax *float64 `json:"tempSetMax,omitempty"`
	}{TempFormat: format}

	if dialect == DialectLegacy {
		if b, ok := legacyBounds[format]; ok {
			payload.TempSetMin, payload.TempSetMax = &b[0], &b[1]
		}
	}
	return setParameters("set-temp-format", payload)
}

// ApplyDevice updates an installed device and waits for the U: acknowledgement.
func ApplyDevice(raw json.RawMessage) Command {
	return Command{Name: "apply-device", Letter: 'U', Payload: append([]byte(nil), raw...), Expect: KindDeviceUpdate}
}

// WriteDevice installs a new device definition without waiting for a reply.
func WriteDevice(raw json.RawMessage) Command {
	return Command{Name: "write-device", Letter: 'U', Payload: append([]byte(nil), raw...)}
}

// RefreshDeviceList asks for the installed and available device lists.
// The two replies arrive as separate frames in either order. Neither
// command expects a reply, so both go out back to back; the frames are
// matched by the device list's freshness bits, not the pending slot.
func RefreshDeviceList() []Command {
	return []Command{
		{Name: "list-installed", Letter: 'd', Payload: []byte(`{}`)},
		{Name: "list-available", Letter: 'h', Payload: []byte(`{"u":-1}`)},
	}
}

// RefreshDeviceListWithValues is RefreshDeviceList with current sensor
// readings included in each descriptor.
func RefreshDeviceListWithValues() []Command {
	return []Command{
		{Name: "list-installed-values", Letter: 'd', Payload: []byte(`{"r":1}`)},
		{Name: "list-available-values", Letter: 'h', Payload: []byte(`{"u":-1,"v":1}`)},
	}
}

// FormatTemp renders a temperature the way the firmware expects it in
// text replies: one decimal place.
func FormatTemp(t float64) string {
	return fmt.Sprintf("%.1f", t)
}
