package firmware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Temperatures is the decoded payload of a T: frame. Sensors that are not
// installed are absent, so every field is optional.
type Temperatures struct {
	BeerTemp   *float64 `json:"BeerTemp,omitempty"`
	BeerSet    *float64 `json:"BeerSet,omitempty"`
	BeerAnn    *string  `json:"BeerAnn,omitempty"`
	FridgeTemp *float64 `json:"FridgeTemp,omitempty"`
	FridgeSet  *float64 `json:"FridgeSet,omitempty"`
	FridgeAnn  *string  `json:"FridgeAnn,omitempty"`
	RoomTemp   *float64 `json:"RoomTemp,omitempty"`
	State      *int     `json:"State,omitempty"`
}

// ControlConstants is the subset of a C: frame the bridge interprets.
// Raw keeps the full object for callers that ask for it.
type ControlConstants struct {
	TempFormat *string  `json:"tempFormat,omitempty"`
	TempSetMin *float64 `json:"tempSetMin,omitempty"`
	TempSetMax *float64 `json:"tempSetMax,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ControlSettings is the subset of an S: frame the bridge interprets.
type ControlSettings struct {
	Mode      *string  `json:"mode,omitempty"`
	BeerSet   *float64 `json:"beerSet,omitempty"`
	FridgeSet *float64 `json:"fridgeSet,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// lcdDegree is the HD44780 degree glyph (0xDF) after code page 437 decoding.
const lcdDegree = "▀"

// DecodeTemperatures parses a T: payload.
func DecodeTemperatures(payload string) (Temperatures, error) {
	var t Temperatures
	if err := decodeObject(payload, &t); err != nil {
		return Temperatures{}, err
	}
	return t, nil
}

// DecodeLCD parses an L: payload into display lines.
func DecodeLCD(payload string) ([]string, error) {
	var lines []string
	if err := json.Unmarshal([]byte(payload), &lines); err != nil {
		return nil, fmt.Errorf("%w: lcd: %v", ErrDecode, err)
	}
	for i, l := range lines {
		lines[i] = strings.ReplaceAll(l, lcdDegree, "°")
	}
	return lines, nil
}

// DecodeControlConstants parses a C: payload.
func DecodeControlConstants(payload string) (ControlConstants, error) {
	var c ControlConstants
	if err := decodeObject(payload, &c); err != nil {
		return ControlConstants{}, err
	}
	c.Raw = json.RawMessage(payload)
	return c, nil
}

// DecodeControlSettings parses an S: payload.
func DecodeControlSettings(payload string) (ControlSettings, error) {
	var s ControlSettings
	if err := decodeObject(payload, &s); err != nil {
		return ControlSettings{}, err
	}
	s.Raw = json.RawMessage(payload)
	return s, nil
}

// DecodeObject checks that payload is a JSON object and returns it
// unchanged. Used for V: and U: frames, which the bridge passes through.
func DecodeObject(payload string) (json.RawMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return json.RawMessage(payload), nil
}

// DecodeDeviceList checks that payload is a JSON array and returns it
// unchanged. Used for h: and d: frames.
func DecodeDeviceList(payload string) (json.RawMessage, error) {
	var probe []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return nil, fmt.Errorf("%w: device list: %v", ErrDecode, err)
	}
	if probe == nil {
		return json.RawMessage("[]"), nil
	}
	return json.RawMessage(payload), nil
}

func decodeObject(payload string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after object", ErrDecode)
	}
	return nil
}
