package firmware

import "errors"

var (
	// ErrDecode is returned when a frame payload cannot be parsed.
	ErrDecode = errors.New("firmware: malformed frame payload")

	// ErrUnknownFrame is returned for a line without a recognised marker.
	ErrUnknownFrame = errors.New("firmware: unknown frame marker")

	// ErrBadVersion is returned when a version string is not a semver triple.
	ErrBadVersion = errors.New("firmware: unparseable version")
)
