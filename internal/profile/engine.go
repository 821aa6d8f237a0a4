package profile

import (
	"fmt"
	"math"
	"time"
)

// CurrentSetpoint returns the temperature the profile asks for at now,
// for a run that started at startedAt, in the profile's unit.
//
// Panics if p has no points.
func CurrentSetpoint(p Profile, startedAt, now time.Time) float64 {
	mustHavePoints(p, "CurrentSetpoint")

	elapsed := now.Sub(startedAt)
	pts := p.Points

	if elapsed < pts[0].TTL {
		return p.temperature(0)
	}

	for i := 1; i < len(pts); i++ {
		if elapsed >= pts[i].TTL {
			continue
		}
		prevT, nextT := p.temperature(i-1), p.temperature(i)
		if prevT == nextT {
			return prevT
		}
		// pts[i].TTL > elapsed >= pts[i-1].TTL, so the segment has positive length.
		frac := float64(elapsed-pts[i-1].TTL) / float64(pts[i].TTL-pts[i-1].TTL)
		return prevT + (nextT-prevT)*frac
	}

	return p.temperature(len(pts) - 1)
}

// PastEnd reports whether now is at or beyond the profile's last point.
//
// Panics if p has no points.
func PastEnd(p Profile, startedAt, now time.Time) bool {
	mustHavePoints(p, "PastEnd")
	return !now.Before(startedAt.Add(p.Duration()))
}

func mustHavePoints(p Profile, fn string) {
	if len(p.Points) == 0 {
		panic(fmt.Sprintf("profile.%s: profile %d (%q) has no points; validate before starting a run", fn, p.ID, p.Name))
	}
}

// Validate checks that p can drive a run: at least one point, non-decreasing
// offsets starting at or after zero, finite temperatures and known units.
func Validate(p Profile) error {
	if !p.Unit.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidUnit, p.Unit)
	}
	if len(p.Points) == 0 {
		return ErrEmptyProfile
	}
	for i, pt := range p.Points {
		if pt.TTL < 0 {
			return fmt.Errorf("%w: point %d has negative offset %s", ErrInvalidPoint, i, pt.TTL)
		}
		if pt.Unit != "" && !pt.Unit.Valid() {
			return fmt.Errorf("%w: point %d unit %q", ErrInvalidUnit, i, pt.Unit)
		}
		if math.IsNaN(pt.Temperature) || math.IsInf(pt.Temperature, 0) {
			return fmt.Errorf("%w: point %d temperature is not finite", ErrInvalidPoint, i)
		}
		if i > 0 && pt.TTL < p.Points[i-1].TTL {
			return fmt.Errorf("%w: point %d at %s precedes point %d at %s",
				ErrUnsortedPoints, i, pt.TTL, i-1, p.Points[i-1].TTL)
		}
	}
	return nil
}

// ConvertUnit returns a copy of p with every point expressed in to. Each
// point is converted from its own unit.
func ConvertUnit(p Profile, to Unit) (Profile, error) {
	if !to.Valid() {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidUnit, to)
	}
	if !p.Unit.Valid() {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidUnit, p.Unit)
	}
	out := p
	out.Unit = to
	out.Points = make([]Point, len(p.Points))
	for i, pt := range p.Points {
		from := p.unitOf(i)
		if !from.Valid() {
			return Profile{}, fmt.Errorf("%w: point %d unit %q", ErrInvalidUnit, i, from)
		}
		out.Points[i] = Point{TTL: pt.TTL, Temperature: convert(pt.Temperature, from, to), Unit: to}
	}
	return out, nil
}

func convert(t float64, from, to Unit) float64 {
	switch {
	case from == to:
		return t
	case to == Fahrenheit:
		return t*9/5 + 32
	default:
		return (t - 32) * 5 / 9
	}
}
