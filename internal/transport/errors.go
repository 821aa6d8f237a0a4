package transport

import "errors"

var (
	// ErrTransportOpen is returned when every open attempt failed.
	ErrTransportOpen = errors.New("transport: could not open link")

	// ErrNotOpen is returned by Read, Write and Flush before Open succeeds
	// or after Close.
	ErrNotOpen = errors.New("transport: link not open")

	// ErrIO wraps read and write failures on an open link.
	ErrIO = errors.New("transport: i/o error")
)
