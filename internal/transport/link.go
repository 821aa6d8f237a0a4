package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Default retry policy shared by both transports.
const (
	defaultAttempts = 10
	defaultBackoff  = time.Second
)

// Link is a byte stream to the controller.
type Link interface {
	// Open connects, retrying per the transport's policy. Calling Open on an
	// open link closes and reopens it.
	Open(ctx context.Context) error

	// Read returns up to max bytes that are already available. It does not
	// wait for data: nil, nil means nothing was pending.
	Read(max int) ([]byte, error)

	// Write sends b in full.
	Write(b []byte) error

	// Flush discards buffered input and output.
	Flush() error

	// Close releases the link. Safe to call more than once.
	Close() error

	// Describe names the current endpoint for logs.
	Describe() string
}

// AddressSaver persists endpoints that worked so later starts can reuse them.
type AddressSaver interface {
	SaveResolvedAddress(ctx context.Context, host, address string) error
	SaveResolvedPort(ctx context.Context, deviceSerial, port string) error
}

// Logger is the logging surface used by the transports.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats counts link activity.
type Stats struct {
	BytesRx  uint64
	BytesTx  uint64
	Opens    uint64
	Failures uint64
}

type counters struct {
	bytesRx  atomic.Uint64
	bytesTx  atomic.Uint64
	opens    atomic.Uint64
	failures atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		BytesRx:  c.bytesRx.Load(),
		BytesTx:  c.bytesTx.Load(),
		Opens:    c.opens.Load(),
		Failures: c.failures.Load(),
	}
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// sleepCtx waits for d, returning early with ctx's error if it ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
