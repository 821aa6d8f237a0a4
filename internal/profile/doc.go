// Package profile computes the beer setpoint for a running fermentation
// profile and loads profiles from the bridge's SQLite store.
//
// A profile is an ordered list of (offset, temperature) points. Given the
// run's start time, CurrentSetpoint holds the first temperature until the
// first point is reached, interpolates linearly between points whose
// temperatures differ, holds flat between equal points, and holds the last
// temperature forever once the schedule is over. PastEnd reports that last
// condition so the session can drop back to beer-constant mode.
//
// Both functions require at least one point. Callers validate profiles with
// Validate (NewRun does this) before a run starts; an empty profile reaching
// the engine is a programming error and panics.
package profile
