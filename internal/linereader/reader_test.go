package linereader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedSource returns queued chunks, then nothing.
type scriptedSource struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (s *scriptedSource) push(chunks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks = append(s.chunks, []byte(c))
	}
}

func (s *scriptedSource) Read(int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.chunks) == 0 {
		return nil, nil
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func drain(q *Queue) []string {
	var out []string
	for {
		s, ok := q.Peek()
		if !ok {
			return out
		}
		out = append(out, s)
		q.Ack()
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFeed_SplitsLines(t *testing.T) {
	r := New(&scriptedSource{}, Options{})

	r.feed([]byte("N:0.2.11\r\nT:{\"Beer"))
	r.feed([]byte("Temp\":19.5}\n\nL:[\"a\"]"))

	if got := drain(r.Lines()); !equal(got, []string{"N:0.2.11", `T:{"BeerTemp":19.5}`}) {
		t.Errorf("lines = %q", got)
	}

	r.feed([]byte("\n"))
	if got := drain(r.Lines()); !equal(got, []string{`L:["a"]`}) {
		t.Errorf("lines = %q", got)
	}
}

func TestFeed_StripsEmbeddedDebug(t *testing.T) {
	r := New(&scriptedSource{}, Options{})

	r.feed([]byte(`C:{"tempFormat":"C",D:{"logType":"W","logID":4,"V":[1]}"Kp":5}` + "\n"))

	if got := drain(r.Lines()); !equal(got, []string{`C:{"tempFormat":"C","Kp":5}`}) {
		t.Errorf("lines = %q", got)
	}
	if got := drain(r.Debug()); !equal(got, []string{`{"logType":"W","logID":4,"V":[1]}`}) {
		t.Errorf("debug = %q", got)
	}
}

func TestFeed_DebugLinesRouted(t *testing.T) {
	r := New(&scriptedSource{}, Options{})

	r.feed([]byte("D:{\"logType\":\"I\",\"logID\":1}\nD:plain text\nT:{}\n"))

	if got := drain(r.Lines()); !equal(got, []string{"T:{}"}) {
		t.Errorf("lines = %q", got)
	}
	if got := drain(r.Debug()); !equal(got, []string{`{"logType":"I","logID":1}`, "plain text"}) {
		t.Errorf("debug = %q", got)
	}
}

func TestFeed_IncompleteDebugWaitsForRest(t *testing.T) {
	r := New(&scriptedSource{}, Options{})

	r.feed([]byte(`S:{"mode":"b",D:{"logType":"I"`))
	if r.Lines().Len() != 0 || r.Debug().Len() != 0 {
		t.Fatal("nothing should be published without a newline")
	}
	r.feed([]byte(`}"beerSet":20.0}` + "\n"))

	if got := drain(r.Lines()); !equal(got, []string{`S:{"mode":"b","beerSet":20.0}`}) {
		t.Errorf("lines = %q", got)
	}
	if got := drain(r.Debug()); !equal(got, []string{`{"logType":"I"}`}) {
		t.Errorf("debug = %q", got)
	}
}

func TestFeed_DecodesCodePage437(t *testing.T) {
	r := New(&scriptedSource{}, Options{})

	r.feed([]byte{'L', ':', '[', '"', '2', '0', 0xF8, 'C', ' ', 0xDF, '"', ']', '\n'})

	got := drain(r.Lines())
	if len(got) != 1 || got[0] != `L:["20°C ▀"]` {
		t.Errorf("lines = %q", got)
	}
}

func TestFeed_BufferOverflowDiscards(t *testing.T) {
	r := New(&scriptedSource{}, Options{MaxBufferSize: 16})

	r.feed([]byte(strings.Repeat("x", 32)))
	r.feed([]byte("T:{}\n"))

	if got := drain(r.Lines()); !equal(got, []string{"T:{}"}) {
		t.Errorf("lines = %q", got)
	}
	if r.Stats().Overflows != 1 {
		t.Errorf("Overflows = %d, want 1", r.Stats().Overflows)
	}
}

func TestReader_RunsUntilCancelled(t *testing.T) {
	src := &scriptedSource{}
	src.push("N:0.2", ".11\n", "T:{}\n")

	r := New(src, Options{PollInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for r.Lines().Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := drain(r.Lines()); !equal(got, []string{"N:0.2.11", "T:{}"}) {
		t.Errorf("lines = %q", got)
	}

	cancel()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
	if r.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", r.State())
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v, want nil", r.Err())
	}
}

func TestReader_PersistentErrorIsTerminal(t *testing.T) {
	src := &scriptedSource{err: errors.New("device reports readiness to read but returned no data")}

	r := New(src, Options{ErrorBackoff: time.Millisecond, MaxConsecutiveErrors: 3})
	r.Start(context.Background())

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not fail")
	}
	if r.State() != StateError {
		t.Errorf("State() = %v, want error", r.State())
	}
	if !errors.Is(r.Err(), ErrReaderFailed) {
		t.Errorf("Err() = %v, want ErrReaderFailed", r.Err())
	}
}

// flakySource fails a fixed number of times, then serves data.
type flakySource struct {
	mu       sync.Mutex
	failures int
	served   bool
}

func (f *flakySource) Read(int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("transient")
	}
	if !f.served {
		f.served = true
		return []byte("T:{}\n"), nil
	}
	return nil, nil
}

func TestReader_TransientErrorsRecover(t *testing.T) {
	src := &flakySource{failures: 2}
	r := New(src, Options{ErrorBackoff: time.Millisecond, MaxConsecutiveErrors: 3, PollInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for r.Lines().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if r.Lines().Len() != 1 {
		t.Fatalf("Lines().Len() = %d, want 1", r.Lines().Len())
	}
	if r.State() != StateRunning {
		t.Errorf("State() = %v, want running", r.State())
	}
}
