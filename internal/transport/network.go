package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	defaultDialTimeout  = 5 * time.Second
	networkReadTimeout  = 5 * time.Millisecond
	networkWriteTimeout = 2 * time.Second
)

// Resolver looks up hostnames. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// NetworkOptions configures a NetworkTransport.
type NetworkOptions struct {
	Host string
	Port int

	// CachedAddress is the last IP Host resolved to. Used when resolution fails.
	CachedAddress string

	// ConnectAttempts bounds each Open. Default 10.
	ConnectAttempts int

	// Backoff is the pause between attempts. Default 1s.
	Backoff time.Duration

	// DialTimeout bounds each TCP connect. Default 5s.
	DialTimeout time.Duration

	Resolver Resolver
	Dial     func(ctx context.Context, network, address string) (net.Conn, error)
	Saver    AddressSaver
	Logger   Logger
}

// NetworkTransport is a Link to a controller exposing its serial protocol
// over TCP.
type NetworkTransport struct {
	opts NetworkOptions
	log  Logger

	// openMu serialises reconnects; mu guards conn and cached.
	openMu sync.Mutex
	mu     sync.RWMutex
	conn   net.Conn
	addr   string
	cached string

	done  *closeOnce
	stats counters
}

// NewNetwork creates a NetworkTransport. It does not connect.
func NewNetwork(opts NetworkOptions) *NetworkTransport {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = defaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.Dial == nil {
		var d net.Dialer
		opts.Dial = d.DialContext
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &NetworkTransport{opts: opts, log: log, cached: opts.CachedAddress, done: newCloseOnce()}
}

// Open resolves and connects, retrying up to ConnectAttempts times.
func (n *NetworkTransport) Open(ctx context.Context) error {
	n.openMu.Lock()
	defer n.openMu.Unlock()
	return n.openLocked(ctx)
}

func (n *NetworkTransport) openLocked(ctx context.Context) error {
	n.dropConn()

	var lastErr error
	for attempt := 1; attempt <= n.opts.ConnectAttempts; attempt++ {
		select {
		case <-n.done.Done():
			return fmt.Errorf("%w: transport closed", ErrNotOpen)
		default:
		}

		addr, fresh, err := n.resolve(ctx)
		if err == nil {
			err = n.dial(ctx, addr)
		}
		if err == nil {
			n.stats.opens.Add(1)
			n.log.Info("controller connected", "host", n.opts.Host, "address", addr, "attempt", attempt)
			if fresh && n.opts.Saver != nil {
				if serr := n.opts.Saver.SaveResolvedAddress(ctx, n.opts.Host, addr); serr != nil {
					n.log.Warn("saving resolved address failed", "host", n.opts.Host, "error", serr)
				}
			}
			return nil
		}

		lastErr = err
		n.stats.failures.Add(1)
		n.log.Warn("controller connect failed", "host", n.opts.Host, "attempt", attempt, "error", err)
		if attempt < n.opts.ConnectAttempts {
			if err := sleepCtx(ctx, n.opts.Backoff); err != nil {
				return fmt.Errorf("%w: %v", ErrTransportOpen, err)
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrTransportOpen, n.opts.ConnectAttempts, lastErr)
}

// resolve returns the address to dial and whether it came from a fresh
// lookup (as opposed to the cache).
func (n *NetworkTransport) resolve(ctx context.Context) (string, bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, n.opts.DialTimeout)
	defer cancel()

	addrs, err := n.opts.Resolver.LookupHost(lookupCtx, n.opts.Host)
	if err == nil && len(addrs) > 0 {
		n.mu.Lock()
		n.cached = addrs[0]
		n.mu.Unlock()
		return addrs[0], true, nil
	}
	if err == nil {
		err = errors.New("no addresses")
	}

	n.mu.RLock()
	cached := n.cached
	n.mu.RUnlock()
	if cached == "" {
		return "", false, fmt.Errorf("resolving %s: %w", n.opts.Host, err)
	}
	n.log.Warn("hostname resolution failed, using cached address",
		"host", n.opts.Host, "address", cached, "error", err)
	return cached, false, nil
}

func (n *NetworkTransport) dial(ctx context.Context, addr string) error {
	dialCtx, cancel := context.WithTimeout(ctx, n.opts.DialTimeout)
	defer cancel()

	target := net.JoinHostPort(addr, strconv.Itoa(n.opts.Port))
	conn, err := n.opts.Dial(dialCtx, "tcp", target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}

	n.mu.Lock()
	n.conn, n.addr = conn, addr
	n.mu.Unlock()
	return nil
}

func (n *NetworkTransport) current() net.Conn {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conn
}

// reopen replaces failed with a fresh connection unless another goroutine
// already did.
func (n *NetworkTransport) reopen(failed net.Conn) error {
	n.openMu.Lock()
	defer n.openMu.Unlock()

	if c := n.current(); c != nil && c != failed {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-n.done.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	n.log.Info("reconnecting to controller", "host", n.opts.Host)
	return n.openLocked(ctx)
}

// Read returns bytes already received, waiting at most a few milliseconds.
// A broken connection is reopened and the read retried once.
func (n *NetworkTransport) Read(max int) ([]byte, error) {
	buf := make([]byte, max)
	for try := 0; try < 2; try++ {
		conn := n.current()
		if conn == nil {
			return nil, ErrNotOpen
		}
		_ = conn.SetReadDeadline(time.Now().Add(networkReadTimeout)) //nolint:errcheck // Read reports failures

		count, err := conn.Read(buf)
		if count > 0 {
			n.stats.bytesRx.Add(uint64(count))
			return buf[:count], nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		if err == nil {
			return nil, nil
		}

		n.stats.failures.Add(1)
		if try == 1 {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrIO, n.Describe(), err)
		}
		n.log.Warn("controller read failed, reconnecting", "error", err)
		if rerr := n.reopen(conn); rerr != nil {
			return nil, fmt.Errorf("%w: reading %s: %v (reconnect: %v)", ErrIO, n.Describe(), err, rerr)
		}
	}
	return nil, nil
}

// Write sends b in full. A broken connection is reopened and the write
// retried once.
func (n *NetworkTransport) Write(b []byte) error {
	for try := 0; try < 2; try++ {
		conn := n.current()
		if conn == nil {
			return ErrNotOpen
		}
		_ = conn.SetWriteDeadline(time.Now().Add(networkWriteTimeout)) //nolint:errcheck // Write reports failures

		count, err := conn.Write(b)
		n.stats.bytesTx.Add(uint64(count))
		if err == nil {
			return nil
		}

		n.stats.failures.Add(1)
		if try == 1 {
			return fmt.Errorf("%w: writing %s: %v", ErrIO, n.Describe(), err)
		}
		n.log.Warn("controller write failed, reconnecting", "error", err)
		if rerr := n.reopen(conn); rerr != nil {
			return fmt.Errorf("%w: writing %s: %v (reconnect: %v)", ErrIO, n.Describe(), err, rerr)
		}
	}
	return nil
}

// Flush drops anything already received. TCP has no output buffer to discard.
func (n *NetworkTransport) Flush() error {
	for {
		b, err := n.Read(256)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return nil
		}
	}
}

// Close disconnects. A closed NetworkTransport cannot be reopened.
func (n *NetworkTransport) Close() error {
	n.done.Close()
	return n.dropConn()
}

func (n *NetworkTransport) dropConn() error {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}

// Describe returns host:port and the address in use.
func (n *NetworkTransport) Describe() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	d := fmt.Sprintf("tcp:%s:%d", n.opts.Host, n.opts.Port)
	if n.addr != "" && n.addr != n.opts.Host {
		d += " (" + n.addr + ")"
	}
	return d
}

// CachedAddress returns the last address that resolved or was supplied.
func (n *NetworkTransport) CachedAddress() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cached
}

// Stats returns link counters.
func (n *NetworkTransport) Stats() Stats {
	return n.stats.snapshot()
}
