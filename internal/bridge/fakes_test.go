package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/brewbridge/internal/linereader"
	"github.com/nerrad567/brewbridge/internal/profile"
	"github.com/nerrad567/brewbridge/internal/server"
	"github.com/nerrad567/brewbridge/internal/session"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testVersion = `{"v":"0.2.11","n":"v0.2.11","c":"a1b2c3","s":"2","y":0,"b":"s","l":"1"}`

// fakeController is both the session's link and the loop's line source.
// Every command it receives is answered the way the firmware would.
type fakeController struct {
	mu      sync.Mutex
	writes  []string
	mode    string
	openErr error
	silent  bool

	lines linereader.Queue
	debug linereader.Queue

	state readerState
}

type readerState struct {
	mu    sync.Mutex
	state linereader.State
	err   error
}

func newFakeController() *fakeController {
	c := &fakeController{mode: "o"}
	c.state.state = linereader.StateRunning
	return c
}

func (c *fakeController) Open(context.Context) error { return c.openErr }
func (c *fakeController) Flush() error               { return nil }
func (c *fakeController) Describe() string           { return "fake controller" }

func (c *fakeController) Write(b []byte) error {
	cmd := strings.TrimRight(string(b), "\r\n")
	c.mu.Lock()
	c.writes = append(c.writes, cmd)
	silent := c.silent
	c.mu.Unlock()
	if !silent && cmd != "" {
		c.answer(cmd[0], cmd[1:])
	}
	return nil
}

func (c *fakeController) answer(letter byte, payload string) {
	switch letter {
	case 'n':
		c.lines.Push("N:" + testVersion)
	case 'c':
		c.lines.Push(`C:{"tempFormat":"C","tempSetMin":1,"tempSetMax":30}`)
	case 's':
		c.mu.Lock()
		mode := c.mode
		c.mu.Unlock()
		c.lines.Push(fmt.Sprintf(`S:{"mode":%q}`, mode))
	case 'l':
		c.lines.Push(`L:["Mode   Off","Beer   18.5 --.-","Fridge 12.0 --.-","Idling"]`)
	case 't':
		c.lines.Push(`T:{"BeerTemp":18.5,"FridgeTemp":12.0,"RoomTemp":20.1,"State":0}`)
	case 'v':
		c.lines.Push(`V:{"beerDiff":0.12,"diffIntegral":0.0}`)
	case 'd':
		c.lines.Push(`d:[]`)
	case 'h':
		c.lines.Push(`h:[]`)
	case 'U':
		if payload != "" {
			c.lines.Push("U:" + payload)
		}
	case 'j':
		var p map[string]any
		if json.Unmarshal([]byte(payload), &p) == nil {
			if m, ok := p["mode"].(string); ok {
				c.mu.Lock()
				c.mode = m
				c.mu.Unlock()
			}
		}
	}
}

func (c *fakeController) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeController) fail(err error) {
	c.state.mu.Lock()
	c.state.state, c.state.err = linereader.StateError, err
	c.state.mu.Unlock()
}

func (c *fakeController) Lines() *linereader.Queue { return &c.lines }
func (c *fakeController) Debug() *linereader.Queue { return &c.debug }

func (c *fakeController) State() linereader.State {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.state
}

func (c *fakeController) Err() error {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.err
}

type fakeProfiles map[int64]*profile.Profile

func (f fakeProfiles) Get(_ context.Context, id int64) (*profile.Profile, error) {
	p, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", profile.ErrProfileNotFound, id)
	}
	return p, nil
}

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	msgs      []published
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *fakePublisher) on(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// recorder is a responder that keeps what it was told.
type recorder struct {
	replies  []server.Reply
	declined bool
}

func (r *recorder) Reply(rep server.Reply) error {
	if len(r.replies) > 0 {
		return server.ErrAlreadyAnswered
	}
	r.replies = append(r.replies, rep)
	return nil
}

func (r *recorder) Decline() { r.declined = true }

func (r *recorder) reply(t *testing.T) server.Reply {
	t.Helper()
	if len(r.replies) != 1 {
		t.Fatalf("replies = %v, want exactly one", r.replies)
	}
	return r.replies[0]
}

var errNoSink = errors.New("sink unavailable")

func testSessionOptions() session.Options {
	return session.Options{
		DeviceName:      "fermenter",
		TempFormat:      "C",
		LoggingInterval: 1000 * time.Hour,
		LCDRefresh:      1000 * time.Hour,
		SettingsRefresh: 1000 * time.Hour,
		CommandTimeout:  5 * time.Second,
		NewRunID:        func() string { return "run-1" },
	}
}

// newTestLoop builds a loop around a fake controller. The session is not
// yet connected; call settle to bring it to ready.
func newTestLoop(t *testing.T, mutate func(*Options)) (*Loop, *fakeController) {
	t.Helper()
	ctrl := newFakeController()
	opts := Options{
		Session: session.New(ctrl, testSessionOptions()),
		Reader:  ctrl,
		Profiles: fakeProfiles{
			7: {ID: 7, Name: "ale", Unit: profile.Celsius, Points: []profile.Point{
				{TTL: 0, Temperature: 18},
				{TTL: 48 * time.Hour, Temperature: 20},
			}},
		},
		Now: func() time.Time { return t0 },
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), ctrl
}

// settle runs poll ticks at t0 until the startup requests are answered.
func settle(t *testing.T, l *Loop) {
	t.Helper()
	for i := 0; i < 20; i++ {
		l.tick(context.Background(), t0)
	}
	if l.sess.State() != session.StateReady {
		t.Fatalf("session state = %v after settle, want ready", l.sess.State())
	}
}

func request(t *testing.T, line string) server.Request {
	t.Helper()
	req, err := server.ParseRequest(line)
	if err != nil {
		t.Fatalf("ParseRequest(%q) error = %v", line, err)
	}
	return req
}

// call handles one request line and returns the recorder.
func call(t *testing.T, l *Loop, line string) *recorder {
	t.Helper()
	rec := &recorder{}
	l.handle(context.Background(), request(t, line), rec, t0)
	return rec
}

// tickUntilAnswered runs poll ticks at t0 until rec holds a reply. A tick
// drains before it writes, so the answer to a command written in one tick
// is handled by the next.
func tickUntilAnswered(t *testing.T, l *Loop, rec *recorder) {
	t.Helper()
	for i := 0; i < 5 && len(rec.replies) == 0; i++ {
		l.tick(context.Background(), t0)
	}
	if len(rec.replies) == 0 {
		t.Fatal("no reply after 5 ticks")
	}
}
