package server

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func listenTCP(t *testing.T, opts Options) *Server {
	t.Helper()
	opts.Network, opts.Address = "tcp", "127.0.0.1:0"
	if opts.AcceptTimeout == 0 {
		opts.AcceptTimeout = 20 * time.Millisecond
	}
	srv, err := Listen(opts)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

// serve polls srv in the background until the test ends.
func serve(t *testing.T, srv *Server, h Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			if _, err := srv.Poll(ctx, h); err != nil && ctx.Err() == nil {
				t.Errorf("Poll() error = %v", err)
				return
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func clientFor(srv *Server) *Client {
	c := NewClient("tcp", srv.Addr().String())
	c.Timeout = 2 * time.Second
	return c
}

type sendResult struct {
	reply Reply
	err   error
}

func sendAsync(c *Client, keyword, value string) <-chan sendResult {
	ch := make(chan sendResult, 1)
	go func() {
		r, err := c.Send(context.Background(), keyword, value)
		ch <- sendResult{r, err}
	}()
	return ch
}

func TestServer_ImmediateReply(t *testing.T) {
	srv := listenTCP(t, Options{})
	seen := make(chan Request, 1)
	serve(t, srv, HandlerFunc(func(_ context.Context, c *Conn) {
		seen <- c.Request()
		c.Reply(Value("19.5"))
	}))

	reply, err := clientFor(srv).Send(context.Background(), KeywordSetBeer, "19.5")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !reply.Equal(Value("19.5")) {
		t.Errorf("reply = %v, want 19.5", reply)
	}
	got := <-seen
	if got.Keyword != KeywordSetBeer || got.Value != "19.5" || !got.HasValue {
		t.Errorf("handler saw %+v", got)
	}
}

func TestServer_JSONReply(t *testing.T) {
	srv := listenTCP(t, Options{})
	serve(t, srv, HandlerFunc(func(_ context.Context, c *Conn) {
		c.Reply(RawJSON([]byte(`["Mode   Off", "Beer   18.5"]`)))
	}))

	reply, err := clientFor(srv).Send(context.Background(), KeywordLCD, "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	var lines []string
	if err := reply.Decode(&lines); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(lines) != 2 || lines[1] != "Beer   18.5" {
		t.Errorf("lines = %q", lines)
	}
}

func TestServer_DeferredReply(t *testing.T) {
	srv := listenTCP(t, Options{AcceptTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	var held *Conn
	h := HandlerFunc(func(_ context.Context, c *Conn) { held = c })
	result := sendAsync(clientFor(srv), KeywordGetControlVariables, "")

	deadline := time.Now().Add(2 * time.Second)
	for held == nil && time.Now().Before(deadline) {
		if _, err := srv.Poll(ctx, h); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
	}
	if held == nil {
		t.Fatal("request never reached the handler")
	}
	if srv.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", srv.Pending())
	}

	// Later loop iterations serve nothing new while the reply is pending.
	if served, _ := srv.Poll(ctx, h); served {
		t.Error("Poll() served a request that was never sent")
	}
	if err := held.Reply(RawJSON([]byte(`{"beerDiff":0.1}`))); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if err := held.Reply(Ack()); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("second Reply() error = %v, want ErrAlreadyAnswered", err)
	}

	res := <-result
	if res.err != nil {
		t.Fatalf("Send() error = %v", res.err)
	}
	if !res.reply.Equal(RawJSON([]byte(`{"beerDiff":0.1}`))) {
		t.Errorf("reply = %v", res.reply)
	}
	if srv.Pending() != 0 {
		t.Errorf("Pending() = %d after reply", srv.Pending())
	}
}

func TestServer_DeferredReplyExpires(t *testing.T) {
	srv := listenTCP(t, Options{ReplyTimeout: 30 * time.Millisecond})
	serve(t, srv, HandlerFunc(func(context.Context, *Conn) {}))

	_, err := clientFor(srv).Send(context.Background(), KeywordGetControlVariables, "")
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("Send() error = %v, want ErrNoReply", err)
	}
	if srv.Stats().Expired == 0 {
		t.Error("Stats().Expired = 0")
	}
}

func TestServer_UnknownKeywordClosesWithoutReply(t *testing.T) {
	srv := listenTCP(t, Options{})
	serve(t, srv, HandlerFunc(func(_ context.Context, c *Conn) {
		t.Errorf("handler called for %q", c.Request().Keyword)
		c.Reply(Ack())
	}))

	_, err := clientFor(srv).Send(context.Background(), "fetchCoffee", "")
	if !errors.Is(err, ErrNoReply) {
		t.Fatalf("Send() error = %v, want ErrNoReply", err)
	}
}

func TestServer_DeclineClosesWithoutReply(t *testing.T) {
	srv := listenTCP(t, Options{})
	serve(t, srv, HandlerFunc(func(_ context.Context, c *Conn) { c.Decline() }))

	if _, err := clientFor(srv).Send(context.Background(), KeywordGetMode, ""); !errors.Is(err, ErrNoReply) {
		t.Fatalf("Send() error = %v, want ErrNoReply", err)
	}
}

func TestServer_PollWithoutClient(t *testing.T) {
	srv := listenTCP(t, Options{AcceptTimeout: 10 * time.Millisecond})

	start := time.Now()
	served, err := srv.Poll(context.Background(), HandlerFunc(func(context.Context, *Conn) {
		t.Error("handler called without a client")
	}))
	if err != nil || served {
		t.Fatalf("Poll() = %v, %v, want false, nil", served, err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Poll() took %v", time.Since(start))
	}
}

func TestServer_PollAfterClose(t *testing.T) {
	srv := listenTCP(t, Options{})
	srv.Close()

	_, err := srv.Poll(context.Background(), HandlerFunc(func(context.Context, *Conn) {}))
	if err == nil {
		t.Error("Poll() on closed server returned nil error")
	}
}

func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "run", "bridge.sock")
}

func TestServer_UnixSocket(t *testing.T) {
	path := shortSocketPath(t)
	srv, err := Listen(Options{Network: "unix", Address: path, AcceptTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	serve(t, srv, HandlerFunc(func(_ context.Context, c *Conn) { c.Reply(Value("b")) }))

	c := NewClient("unix", path)
	reply, err := c.Send(context.Background(), KeywordGetMode, "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !reply.Equal(Value("b")) {
		t.Errorf("reply = %v", reply)
	}
}

func TestListen_ReplacesStaleSocket(t *testing.T) {
	path := shortSocketPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	stale, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close()

	srv, err := Listen(Options{Network: "unix", Address: path})
	if err != nil {
		t.Fatalf("Listen() over stale socket error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file still present after Close: %v", err)
	}
}

func TestListen_RefusesRegularFile(t *testing.T) {
	path := shortSocketPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("keep me"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Listen(Options{Network: "unix", Address: path}); err == nil {
		t.Fatal("Listen() over a regular file succeeded")
	}
	if b, _ := os.ReadFile(path); string(b) != "keep me" {
		t.Error("regular file was modified")
	}
}

func TestListen_UnsupportedNetwork(t *testing.T) {
	if _, err := Listen(Options{Network: "udp", Address: "127.0.0.1:0"}); err == nil {
		t.Error("Listen(udp) succeeded")
	}
}
