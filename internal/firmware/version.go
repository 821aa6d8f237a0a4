package firmware

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dialect distinguishes firmware generations that need different payloads.
type Dialect int

const (
	DialectModern Dialect = iota
	DialectLegacy
)

func (d Dialect) String() string {
	if d == DialectLegacy {
		return "legacy"
	}
	return "modern"
}

var (
	// MinSupported is the oldest firmware the bridge will talk to.
	MinSupported = Semver{0, 2, 0}

	// minModern is the first firmware release using the modern dialect.
	minModern = Semver{0, 2, 4}
)

// Semver is a major.minor.patch triple.
type Semver struct {
	Major, Minor, Patch int
}

// ParseSemver parses "0.2.11" (an optional leading "v" is accepted).
func ParseSemver(s string) (Semver, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 3 {
		return Semver{}, fmt.Errorf("%w: %q", ErrBadVersion, s)
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Semver{}, fmt.Errorf("%w: %q", ErrBadVersion, s)
		}
		out[i] = n
	}
	return Semver{out[0], out[1], out[2]}, nil
}

// Less reports whether v sorts before o.
func (v Semver) Less(o Semver) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v Semver) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Version is the decoded N: frame.
type Version struct {
	Semver     Semver `json:"-"`
	Release    string `json:"version"`
	Build      string `json:"build,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Board      string `json:"board"`
	Shield     string `json:"shield"`
	Simulator  bool   `json:"simulator"`
	LogVersion int    `json:"log,omitempty"`
}

// Dialect returns the protocol dialect this firmware speaks.
func (v Version) Dialect() Dialect {
	if v.Semver.Less(minModern) {
		return DialectLegacy
	}
	return DialectModern
}

// Supported reports whether the firmware meets MinSupported.
func (v Version) Supported() bool {
	return !v.Semver.Less(MinSupported)
}

// BoardName returns a human readable board name.
func (v Version) BoardName() string {
	if name, ok := boardNames[v.Board]; ok {
		return name
	}
	return "unknown"
}

// ShieldName returns a human readable shield name.
func (v Version) ShieldName() string {
	if name, ok := shieldNames[v.Shield]; ok {
		return name
	}
	return "unknown"
}

var boardNames = map[string]string{
	"s": "standard",
	"l": "leonardo",
	"m": "mega",
	"p": "core",
	"x": "photon",
	"e": "esp8266",
	"3": "esp32",
}

var shieldNames = map[string]string{
	"0": "none",
	"1": "revA",
	"2": "revC",
	"3": "v1",
	"4": "v2",
	"5": "i2c",
}

// versionFields mirrors the modern N: object. Values vary in JSON type
// across firmware builds, so each is decoded as raw and coerced.
type versionFields struct {
	V json.RawMessage `json:"v"`
	N json.RawMessage `json:"n"`
	C json.RawMessage `json:"c"`
	S json.RawMessage `json:"s"`
	Y json.RawMessage `json:"y"`
	B json.RawMessage `json:"b"`
	L json.RawMessage `json:"l"`
}

// DecodeVersion parses an N: payload. Modern firmware sends a JSON object;
// older builds send the bare version string.
func DecodeVersion(payload string) (Version, error) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		raw := strings.Trim(payload, `"`)
		sv, err := ParseSemver(raw)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return Version{Semver: sv, Release: raw}, nil
	}

	var f versionFields
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return Version{}, fmt.Errorf("%w: version: %v", ErrDecode, err)
	}

	release := scalar(f.V)
	sv, err := ParseSemver(release)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	v := Version{
		Semver:    sv,
		Release:   release,
		Build:     scalar(f.N),
		Commit:    scalar(f.C),
		Board:     scalar(f.B),
		Shield:    scalar(f.S),
		Simulator: scalar(f.Y) == "1" || scalar(f.Y) == "true",
	}
	if l, err := strconv.Atoi(scalar(f.L)); err == nil {
		v.LogVersion = l
	}
	return v, nil
}

// scalar renders a JSON string, number or bool as plain text.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
