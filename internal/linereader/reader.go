package linereader

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// ErrReaderFailed is reported by Err once the reader gave up on the link.
var ErrReaderFailed = errors.New("linereader: link read failed repeatedly")

const (
	defaultPollInterval         = 5 * time.Millisecond
	defaultErrorBackoff         = 100 * time.Millisecond
	defaultMaxConsecutiveErrors = 10
	defaultMaxBufferSize        = 64 * 1024
	readChunk                   = 512
)

// debugMessage matches one complete embedded debug message.
var debugMessage = regexp.MustCompile(`D:\{[^{}\n]*\}`)

// Source is where the reader gets bytes. transport.Link satisfies it.
type Source interface {
	Read(max int) ([]byte, error)
}

// Logger is the logging surface used by the reader.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// State is the reader lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tunes the reader. Zero values select defaults.
type Options struct {
	PollInterval         time.Duration
	ErrorBackoff         time.Duration
	MaxConsecutiveErrors int
	MaxBufferSize        int
	Logger               Logger
}

// Reader is the background line reassembler.
type Reader struct {
	src  Source
	opts Options
	log  Logger

	lines *Queue
	debug *Queue

	// buf is only touched by the reader goroutine.
	buf strings.Builder

	state    atomic.Int32
	errMu    sync.Mutex
	err      error
	done     chan struct{}
	doneOnce sync.Once

	linesRx     atomic.Uint64
	debugRx     atomic.Uint64
	overflows   atomic.Uint64
	startedOnce sync.Once
}

// New creates a Reader for src. Call Start to begin reading.
func New(src Source, opts Options) *Reader {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = defaultErrorBackoff
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = defaultMaxBufferSize
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &Reader{
		src:   src,
		opts:  opts,
		log:   log,
		lines: &Queue{},
		debug: &Queue{},
		done:  make(chan struct{}),
	}
}

// Lines is the queue of data lines.
func (r *Reader) Lines() *Queue { return r.lines }

// Debug is the queue of debug message payloads.
func (r *Reader) Debug() *Queue { return r.debug }

// State returns the current lifecycle state.
func (r *Reader) State() State { return State(r.state.Load()) }

// Done is closed when the reader stops, for any reason.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Err returns the terminal error once State is StateError.
func (r *Reader) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Start launches the reader goroutine. It runs until ctx is cancelled or
// the link fails persistently. Start is a no-op after the first call.
func (r *Reader) Start(ctx context.Context) {
	r.startedOnce.Do(func() {
		r.state.Store(int32(StateRunning))
		go r.run(ctx)
	})
}

func (r *Reader) run(ctx context.Context) {
	defer r.doneOnce.Do(func() { close(r.done) })

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			r.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
			return
		default:
		}

		chunk, err := r.src.Read(readChunk)
		if err != nil {
			consecutive++
			r.log.Warn("link read failed", "error", err, "consecutive", consecutive)
			if consecutive >= r.opts.MaxConsecutiveErrors {
				r.fail(fmt.Errorf("%w: %d consecutive errors, last: %v", ErrReaderFailed, consecutive, err))
				return
			}
			if !r.sleep(ctx, r.opts.ErrorBackoff) {
				r.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
				return
			}
			continue
		}
		consecutive = 0

		if len(chunk) == 0 {
			if !r.sleep(ctx, r.opts.PollInterval) {
				r.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
				return
			}
			continue
		}

		r.feed(chunk)
	}
}

func (r *Reader) fail(err error) {
	r.errMu.Lock()
	r.err = err
	r.errMu.Unlock()
	r.state.Store(int32(StateError))
	r.log.Error("line reader stopped", "error", err)
}

func (r *Reader) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// feed decodes chunk, appends it to the buffer and publishes every
// complete line.
func (r *Reader) feed(chunk []byte) {
	// Code page 437 maps every byte, so decoding cannot fail.
	text, _ := charmap.CodePage437.NewDecoder().Bytes(chunk) //nolint:errcheck // Total mapping
	r.buf.Write(text)

	pending := r.buf.String()
	for strings.Contains(pending, "\n") {
		pending = r.extractDebug(pending)

		idx := strings.IndexByte(pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(pending[:idx], "\r \t")
		pending = pending[idx+1:]
		r.publish(line)
	}

	if len(pending) > r.opts.MaxBufferSize {
		r.overflows.Add(1)
		r.log.Warn("line buffer overflow, discarding", "bytes", len(pending))
		pending = ""
	}

	r.buf.Reset()
	r.buf.WriteString(pending)
}

// extractDebug removes every complete debug message from s and queues it.
func (r *Reader) extractDebug(s string) string {
	locs := debugMessage.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(s[last:loc[0]])
		r.debug.Push(s[loc[0]+2 : loc[1]])
		r.debugRx.Add(1)
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func (r *Reader) publish(line string) {
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "D:") {
		r.debug.Push(line[2:])
		r.debugRx.Add(1)
		return
	}
	r.lines.Push(line)
	r.linesRx.Add(1)
}

// Stats reports reader counters.
type Stats struct {
	Lines     uint64
	Debug     uint64
	Overflows uint64
}

// Stats returns a snapshot of the reader counters.
func (r *Reader) Stats() Stats {
	return Stats{
		Lines:     r.linesRx.Load(),
		Debug:     r.debugRx.Load(),
		Overflows: r.overflows.Load(),
	}
}
