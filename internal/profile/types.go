package profile

import "time"

// Unit is a temperature unit.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	return u == Celsius || u == Fahrenheit
}

// Point is one step of a schedule: reach Temperature at TTL after the run
// starts. An empty Unit means the profile's Unit.
type Point struct {
	TTL         time.Duration `json:"ttl"`
	Temperature float64       `json:"temperature"`
	Unit        Unit          `json:"unit,omitempty"`
}

// Profile is a named fermentation schedule. Setpoints are reported in Unit.
type Profile struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Unit   Unit    `json:"unit"`
	Points []Point `json:"points"`
}

// unitOf returns the unit point i is expressed in.
func (p Profile) unitOf(i int) Unit {
	if u := p.Points[i].Unit; u != "" {
		return u
	}
	return p.Unit
}

// temperature returns point i converted to the profile's unit.
func (p Profile) temperature(i int) float64 {
	return convert(p.Points[i].Temperature, p.unitOf(i), p.Unit)
}

// Duration is the offset of the last point.
func (p Profile) Duration() time.Duration {
	if len(p.Points) == 0 {
		return 0
	}
	return p.Points[len(p.Points)-1].TTL
}

// Run is a validated profile bound to its start time. Runs are immutable.
type Run struct {
	profile   Profile
	startedAt time.Time
}

// NewRun validates p and binds a copy of it to startedAt.
func NewRun(p Profile, startedAt time.Time) (*Run, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	cp := p
	cp.Points = append([]Point(nil), p.Points...)
	return &Run{profile: cp, startedAt: startedAt}, nil
}

// Profile returns the schedule this run follows.
func (r *Run) Profile() Profile { return r.profile }

// StartedAt returns the run start time.
func (r *Run) StartedAt() time.Time { return r.startedAt }

// Setpoint is CurrentSetpoint for this run.
func (r *Run) Setpoint(now time.Time) float64 {
	return CurrentSetpoint(r.profile, r.startedAt, now)
}

// PastEnd is PastEnd for this run.
func (r *Run) PastEnd(now time.Time) bool {
	return PastEnd(r.profile, r.startedAt, now)
}
