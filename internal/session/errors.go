package session

import "errors"

var (
	// ErrUnsupportedVersion is the Fatal reason for firmware below the minimum
	// or a version reply that cannot be read.
	ErrUnsupportedVersion = errors.New("session: unsupported firmware version")

	// ErrHandshakeFailed is the Fatal reason when the controller never answered
	// the version request.
	ErrHandshakeFailed = errors.New("session: no version reply from controller")

	// ErrStaleDeviceList is returned while a device list refresh is incomplete.
	ErrStaleDeviceList = errors.New("session: device list not up to date")

	// ErrCommandTimeout is delivered to a waiting caller when the firmware
	// did not reply in time.
	ErrCommandTimeout = errors.New("session: command timed out")

	// ErrInvalidSetpoint is returned for non-finite or out-of-range setpoints.
	ErrInvalidSetpoint = errors.New("session: invalid setpoint")

	// ErrInvalidPayload is returned when a caller-supplied JSON payload is not an object.
	ErrInvalidPayload = errors.New("session: invalid payload")

	// ErrNoProfile is returned when profile mode is requested without a profile.
	ErrNoProfile = errors.New("session: no profile")

	// ErrNotReady is returned for commands submitted before the handshake completes.
	ErrNotReady = errors.New("session: controller not ready")

	// ErrNoData is returned when a cached value has not been received yet.
	ErrNoData = errors.New("session: no data received yet")
)
