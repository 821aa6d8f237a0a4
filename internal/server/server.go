package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAcceptTimeout = 100 * time.Millisecond
	defaultReadTimeout   = 500 * time.Millisecond
	defaultReplyTimeout  = 10 * time.Second
	writeTimeout         = time.Second

	// maxRequestSize caps one request line. setParameters and device
	// payloads are small JSON objects.
	maxRequestSize = 16 * 1024
)

// Logger is the logging surface used by the server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures the listener.
type Options struct {
	// Network is "unix" or "tcp".
	Network string
	// Address is the socket path or host:port.
	Address string

	AcceptTimeout time.Duration
	ReadTimeout   time.Duration
	// ReplyTimeout bounds how long a deferred reply may take before the
	// connection is closed unanswered.
	ReplyTimeout time.Duration

	Logger Logger
}

// Handler serves one request. It must call Reply or Decline on c, either
// before returning or later from the same goroutine that calls Poll.
type Handler interface {
	Handle(ctx context.Context, c *Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *Conn)

// Handle calls f(ctx, c).
func (f HandlerFunc) Handle(ctx context.Context, c *Conn) { f(ctx, c) }

// Stats counts server activity.
type Stats struct {
	Accepted uint64
	Replied  uint64
	Declined uint64
	Expired  uint64
	Rejected uint64
}

// Server accepts one request per connection.
type Server struct {
	ln   net.Listener
	opts Options
	log  Logger

	mu       sync.Mutex
	deferred map[*Conn]struct{}
	closed   bool

	accepted atomic.Uint64
	replied  atomic.Uint64
	declined atomic.Uint64
	expired  atomic.Uint64
	rejected atomic.Uint64
}

// deadliner is implemented by *net.UnixListener and *net.TCPListener.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Listen binds the command socket. A stale Unix socket file left by a
// previous run is removed first.
func Listen(opts Options) (*Server, error) {
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = defaultAcceptTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = defaultReplyTimeout
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}

	switch opts.Network {
	case "unix":
		if err := prepareSocketPath(opts.Address); err != nil {
			return nil, err
		}
	case "tcp":
	default:
		return nil, fmt.Errorf("server: unsupported network %q", opts.Network)
	}

	ln, err := net.Listen(opts.Network, opts.Address)
	if err != nil {
		return nil, fmt.Errorf("server: listening on %s %s: %w", opts.Network, opts.Address, err)
	}
	if opts.Network == "unix" {
		if err := os.Chmod(opts.Address, 0o660); err != nil {
			ln.Close()
			return nil, fmt.Errorf("server: setting socket permissions: %w", err)
		}
	}
	if _, ok := ln.(deadliner); !ok {
		ln.Close()
		return nil, fmt.Errorf("server: listener %T has no accept deadline", ln)
	}

	log.Info("command server listening", "network", opts.Network, "address", ln.Addr().String())
	return &Server{
		ln:       ln,
		opts:     opts,
		log:      log,
		deferred: make(map[*Conn]struct{}),
	}, nil
}

func prepareSocketPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("server: creating socket directory: %w", err)
	}
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("server: checking socket path: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("server: %s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("server: removing stale socket: %w", err)
	}
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Stats returns server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Replied:  s.replied.Load(),
		Declined: s.declined.Load(),
		Expired:  s.expired.Load(),
		Rejected: s.rejected.Load(),
	}
}

// Pending returns the number of connections waiting for a deferred reply.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

// Poll waits up to AcceptTimeout for one client and serves it. It reports
// whether a request was read. Connections whose deferred reply is overdue
// are closed first.
//
// A non-nil error means the listener is unusable.
func (s *Server) Poll(ctx context.Context, h Handler) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := time.Now()
	s.expire(now)

	if err := s.ln.(deadliner).SetDeadline(now.Add(s.opts.AcceptTimeout)); err != nil {
		return false, fmt.Errorf("server: setting accept deadline: %w", err)
	}
	nc, err := s.ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return false, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return false, err
		}
		s.log.Warn("accept failed", "error", err)
		return false, nil
	}
	s.accepted.Add(1)

	req, err := s.readRequest(nc)
	if err != nil {
		s.rejected.Add(1)
		s.log.Warn("rejecting request", "error", err)
		nc.Close()
		return true, nil
	}
	s.log.Debug("request received", "keyword", req.Keyword, "has_value", req.HasValue)

	c := &Conn{srv: s, nc: nc, req: req, deadline: now.Add(s.opts.ReplyTimeout)}
	h.Handle(ctx, c)

	s.mu.Lock()
	if !c.done && !s.closed {
		s.deferred[c] = struct{}{}
	}
	closed := s.closed
	s.mu.Unlock()
	if closed && !c.done {
		c.Decline()
	}
	return true, nil
}

func (s *Server) readRequest(nc net.Conn) (Request, error) {
	if err := nc.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
		return Request{}, err
	}
	r := bufio.NewReaderSize(&limitedConn{Conn: nc, n: maxRequestSize}, 512)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return Request{}, fmt.Errorf("reading request: %w", err)
	}
	return ParseRequest(line)
}

// limitedConn stops reading after n bytes.
type limitedConn struct {
	net.Conn
	n int
}

func (l *limitedConn) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return 0, fmt.Errorf("request longer than %d bytes", maxRequestSize)
	}
	if len(p) > l.n {
		p = p[:l.n]
	}
	n, err := l.Conn.Read(p)
	l.n -= n
	return n, err
}

func (s *Server) expire(now time.Time) {
	s.mu.Lock()
	var overdue []*Conn
	for c := range s.deferred {
		if now.After(c.deadline) {
			overdue = append(overdue, c)
		}
	}
	s.mu.Unlock()

	for _, c := range overdue {
		s.expired.Add(1)
		s.log.Warn("deferred reply timed out", "keyword", c.req.Keyword)
		c.Decline()
	}
}

// Close stops listening and closes every connection still waiting for a
// reply. The Unix socket file is removed.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := make([]*Conn, 0, len(s.deferred))
	for c := range s.deferred {
		pending = append(pending, c)
	}
	s.mu.Unlock()

	for _, c := range pending {
		c.Decline()
	}
	err := s.ln.Close()
	if s.opts.Network == "unix" {
		// net.UnixListener removes the file itself; this covers listeners
		// created with SetUnlinkOnClose(false).
		if rmErr := os.Remove(s.opts.Address); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	return err
}

func (s *Server) release(c *Conn) {
	s.mu.Lock()
	delete(s.deferred, c)
	s.mu.Unlock()
}

// Conn is one client waiting for its reply.
type Conn struct {
	srv      *Server
	nc       net.Conn
	req      Request
	deadline time.Time
	done     bool
}

// Request returns the parsed request.
func (c *Conn) Request() Request { return c.req }

// Reply writes r and closes the connection.
func (c *Conn) Reply(r Reply) error {
	if c.done {
		return ErrAlreadyAnswered
	}
	c.done = true
	defer c.srv.release(c)
	defer c.nc.Close()

	b, err := EncodeReply(r)
	if err != nil {
		c.srv.log.Warn("dropping unencodable reply", "keyword", c.req.Keyword, "error", err)
		return err
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := c.nc.Write(b); err != nil {
		return fmt.Errorf("server: writing reply: %w", err)
	}
	c.srv.replied.Add(1)
	return nil
}

// Decline closes the connection without a reply.
func (c *Conn) Decline() {
	if c.done {
		return
	}
	c.done = true
	c.srv.declined.Add(1)
	c.srv.release(c)
	c.nc.Close()
}
