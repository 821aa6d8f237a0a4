package bridge

import "errors"

var (
	// ErrSessionFailed wraps the session's fatal error when Run exits.
	ErrSessionFailed = errors.New("bridge: controller session failed")

	// ErrReaderFailed wraps the line reader's error when Run exits.
	ErrReaderFailed = errors.New("bridge: line reader failed")

	// ErrServerFailed wraps a command server listener failure.
	ErrServerFailed = errors.New("bridge: command server failed")
)
