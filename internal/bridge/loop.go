package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/brewbridge/internal/infrastructure/config"
	"github.com/nerrad567/brewbridge/internal/linereader"
	"github.com/nerrad567/brewbridge/internal/profile"
	"github.com/nerrad567/brewbridge/internal/server"
	"github.com/nerrad567/brewbridge/internal/session"
)

const defaultPollInterval = 500 * time.Millisecond

// Reason is why the loop is running its current iteration.
type Reason int

const (
	// ReasonSocketEvent serves at most one command server connection.
	ReasonSocketEvent Reason = iota

	// ReasonSerialPollTick is the regular session tick.
	ReasonSerialPollTick

	// ReasonImmediateRecheck drains replies without waiting for the tick.
	ReasonImmediateRecheck
)

func (r Reason) String() string {
	switch r {
	case ReasonSocketEvent:
		return "socket-event"
	case ReasonSerialPollTick:
		return "serial-poll-tick"
	case ReasonImmediateRecheck:
		return "immediate-recheck"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Logger is the logging surface used by the bridge.
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

// LineSource is the background line reader. *linereader.Reader satisfies it.
type LineSource interface {
	Lines() *linereader.Queue
	Debug() *linereader.Queue
	State() linereader.State
	Err() error
}

// CommandServer is the local request socket. *server.Server satisfies it.
type CommandServer interface {
	Poll(ctx context.Context, h server.Handler) (bool, error)
}

// ProfileStore loads temperature profiles for setActiveProfile.
type ProfileStore interface {
	Get(ctx context.Context, id int64) (*profile.Profile, error)
}

// Options wires the loop. Session, Reader and Server are required.
type Options struct {
	Session  *session.Session
	Reader   LineSource
	Server   CommandServer
	Profiles ProfileStore

	// State publishes dashboard, LCD and command responses. Optional.
	State *StatePublisher

	// Health publishes bridge health. Optional.
	Health *HealthReporter

	// Commands delivers request lines received over MQTT. Optional.
	Commands <-chan string

	// Configs delivers validated configuration reloads. Optional.
	Configs <-chan *config.Config

	// PollInterval is the session tick period.
	// Default: 500ms
	PollInterval time.Duration

	Logger Logger

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// Stats counts loop iterations by reason.
type Stats struct {
	SocketEvents     uint64
	PollTicks        uint64
	Rechecks         uint64
	RemoteCommands   uint64
	ConfigReloads    uint64
	ControllerErrors uint64
}

// Loop is the bridge main loop. It is not safe for concurrent use; Run owns
// it until it returns.
type Loop struct {
	sess     *session.Session
	reader   LineSource
	srv      CommandServer
	profiles ProfileStore
	state    *StatePublisher
	health   *HealthReporter
	commands <-chan string
	configs  <-chan *config.Config
	log      Logger
	now      func() time.Time

	pollInterval time.Duration
	nextTick     time.Time
	stopping     bool
	stats        Stats
}

// New creates a Loop from opts.
func New(opts Options) *Loop {
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Loop{
		sess:         opts.Session,
		reader:       opts.Reader,
		srv:          opts.Server,
		profiles:     opts.Profiles,
		state:        opts.State,
		health:       opts.Health,
		commands:     opts.Commands,
		configs:      opts.Configs,
		log:          log,
		now:          now,
		pollInterval: poll,
	}
}

// Stats returns the loop counters. Only meaningful after Run returns or
// from the loop's own goroutine.
func (l *Loop) Stats() Stats { return l.stats }

// Run drives the bridge until ctx is cancelled, a caller sends stopScript
// or quit, or the controller link fails.
//
// Returns:
//   - nil on cancellation or a stop request
//   - ErrSessionFailed, ErrReaderFailed or ErrServerFailed otherwise
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("bridge loop started", "poll_interval", l.pollInterval)
	if l.health != nil {
		l.health.Starting()
	}
	defer func() {
		if l.health != nil {
			l.health.Stopping()
		}
	}()

	reason := ReasonSerialPollTick
	for {
		if ctx.Err() != nil {
			l.log.Info("bridge loop stopped", "reason", "context cancelled")
			return nil
		}
		if err := l.check(); err != nil {
			return err
		}
		if l.stopping {
			l.log.Info("bridge loop stopped", "reason", "stop requested")
			return nil
		}

		now := l.now()
		switch reason {
		case ReasonSocketEvent:
			l.stats.SocketEvents++
			served, err := l.srv.Poll(ctx, l)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				return fmt.Errorf("%w: %w", ErrServerFailed, err)
			}
			reason = l.afterSocket(served, l.now())

		case ReasonImmediateRecheck:
			l.stats.Rechecks++
			l.drain(ctx, now)
			l.sess.Advance(ctx, now)
			reason = ReasonSocketEvent

		case ReasonSerialPollTick:
			l.stats.PollTicks++
			l.tick(ctx, now)
			reason = ReasonSocketEvent
		}
	}
}

// afterSocket picks the reason for the next iteration.
func (l *Loop) afterSocket(served bool, now time.Time) Reason {
	switch {
	case !now.Before(l.nextTick):
		return ReasonSerialPollTick
	case served, l.reader.Lines().Len() > 0:
		return ReasonImmediateRecheck
	default:
		return ReasonSocketEvent
	}
}

func (l *Loop) check() error {
	if l.sess.State() == session.StateFatal {
		return fmt.Errorf("%w: %w", ErrSessionFailed, l.sess.Err())
	}
	if l.reader.State() == linereader.StateError {
		err := l.reader.Err()
		if err == nil {
			err = errors.New("reader stopped")
		}
		return fmt.Errorf("%w: %w", ErrReaderFailed, err)
	}
	return nil
}

func (l *Loop) tick(ctx context.Context, now time.Time) {
	l.drain(ctx, now)
	l.sess.Advance(ctx, now)
	l.receive(ctx, now)
	if l.state != nil {
		l.state.Publish(l.sess)
	}
	if l.health != nil {
		l.health.Tick(now, l.sess)
	}
	l.nextTick = now.Add(l.pollInterval)
}

// drain hands every queued controller line to the session. A line is
// acknowledged only after it has been handled.
func (l *Loop) drain(ctx context.Context, now time.Time) {
	lines := l.reader.Lines()
	for {
		line, ok := lines.Peek()
		if !ok {
			break
		}
		if err := l.sess.HandleLine(ctx, line, now); err != nil {
			l.stats.ControllerErrors++
			l.log.Warn("dropping controller line", "line", line, "error", err)
		}
		lines.Ack()
	}

	debug := l.reader.Debug()
	for {
		msg, ok := debug.Peek()
		if !ok {
			break
		}
		l.log.Info("controller debug message", "message", msg)
		debug.Ack()
	}
}

// receive consumes pending MQTT commands and configuration reloads without
// blocking.
func (l *Loop) receive(ctx context.Context, now time.Time) {
	for {
		select {
		case line, ok := <-l.commands:
			if !ok {
				l.commands = nil
				continue
			}
			l.stats.RemoteCommands++
			l.handleRemote(ctx, line, now)
		case cfg, ok := <-l.configs:
			if !ok {
				l.configs = nil
				continue
			}
			l.stats.ConfigReloads++
			l.reload(cfg, now)
		default:
			return
		}
	}
}

func (l *Loop) reload(cfg *config.Config, now time.Time) {
	l.sess.ApplyConfig(SessionConfig(cfg), now)
	if cfg.Session.PollInterval > 0 {
		l.pollInterval = cfg.Session.PollInterval
	}
	l.log.Info("configuration reloaded",
		"device", cfg.Device.Name,
		"temp_format", cfg.Device.TempFormat,
		"logging_interval", cfg.Device.LoggingInterval)
}

// SessionConfig extracts the reloadable session settings from cfg.
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		DeviceName:      cfg.Device.Name,
		TempFormat:      cfg.Device.TempFormat,
		LoggingInterval: cfg.Device.LoggingInterval,
	}
}
