package profile

import "errors"

var (
	// ErrEmptyProfile is returned when a profile has no points.
	ErrEmptyProfile = errors.New("profile: no points")

	// ErrUnsortedPoints is returned when point offsets decrease.
	ErrUnsortedPoints = errors.New("profile: point offsets must be non-decreasing")

	// ErrInvalidPoint is returned for a negative offset or non-finite temperature.
	ErrInvalidPoint = errors.New("profile: invalid point")

	// ErrInvalidUnit is returned when a profile's unit is not C or F.
	ErrInvalidUnit = errors.New("profile: unit must be C or F")

	// ErrProfileNotFound is returned when no profile has the requested id.
	ErrProfileNotFound = errors.New("profile: not found")
)
