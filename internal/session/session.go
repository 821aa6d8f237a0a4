package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/brewbridge/internal/firmware"
	"github.com/nerrad567/brewbridge/internal/profile"
)

// Defaults for Options left zero.
const (
	defaultLoggingInterval   = 2 * time.Minute
	defaultLCDRefresh        = 5 * time.Second
	defaultSettingsRefresh   = 5 * time.Minute
	defaultCommandTimeout    = 5 * time.Second
	defaultHandshakeInterval = time.Second
	defaultHandshakeAttempts = 10

	// unitCorrectionInterval spaces out repeated unit corrections when the
	// firmware does not take the first one.
	unitCorrectionInterval = 30 * time.Second
)

// Link is the part of transport.Link the session writes through.
type Link interface {
	Open(ctx context.Context) error
	Write(b []byte) error
	Flush() error
	Describe() string
}

// Logger is the logging surface used by the session.
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

// Options configures a Session.
type Options struct {
	DeviceName      string
	TempFormat      string
	LoggingInterval time.Duration
	LCDRefresh      time.Duration
	SettingsRefresh time.Duration
	CommandTimeout  time.Duration

	HandshakeInterval time.Duration
	HandshakeAttempts int

	// Sink receives readings while logging is active. Optional.
	Sink   Sink
	Logger Logger

	// NewRunID defaults to a random UUID.
	NewRunID func() string
}

// ReplyFunc receives the frame a command was waiting for, or an error
// (ErrCommandTimeout, a write error, or a decode error) when there is none.
type ReplyFunc func(f firmware.Frame, err error)

type outbound struct {
	cmd    firmware.Command
	reply  ReplyFunc
	onSent func()
}

// pendingRequest is the single command awaiting its reply frame.
type pendingRequest struct {
	cmd    firmware.Command
	reply  ReplyFunc
	sentAt time.Time
}

// Session is the bridge's state for one controller.
type Session struct {
	link Link
	opts Options
	log  Logger

	state    State
	fatalErr error

	version *firmware.Version
	dialect firmware.Dialect

	control     ControlState
	run         *profile.Run
	lastProfile float64

	constants    *firmware.ControlConstants
	settings     *firmware.ControlSettings
	variables    json.RawMessage
	lcd          []string
	temps        *firmware.Temperatures
	tempsAt      time.Time
	devices      DeviceListCache
	lastUnitFix  time.Time
	unitMismatch bool

	queue   []outbound
	pending *pendingRequest

	nextTemps    time.Time
	nextLCD      time.Time
	nextSettings time.Time

	handshakeAttempts int
	lastHandshake     time.Time

	stats Stats
}

// Stats counts session activity.
type Stats struct {
	CommandsSent   uint64
	Replies        uint64
	Timeouts       uint64
	DecodeErrors   uint64
	Reconnects     uint64
	ReadingsLogged uint64
}

// New creates a Session in StateConnecting. Nothing is written until Advance.
func New(link Link, opts Options) *Session {
	if opts.LoggingInterval <= 0 {
		opts.LoggingInterval = defaultLoggingInterval
	}
	if opts.LCDRefresh <= 0 {
		opts.LCDRefresh = defaultLCDRefresh
	}
	if opts.SettingsRefresh <= 0 {
		opts.SettingsRefresh = defaultSettingsRefresh
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.HandshakeInterval <= 0 {
		opts.HandshakeInterval = defaultHandshakeInterval
	}
	if opts.HandshakeAttempts <= 0 {
		opts.HandshakeAttempts = defaultHandshakeAttempts
	}
	opts.TempFormat = strings.ToUpper(opts.TempFormat)
	if opts.TempFormat == "" {
		opts.TempFormat = "C"
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.NewString() }
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &Session{
		link:        link,
		opts:        opts,
		log:         log,
		state:       StateConnecting,
		control:     ControlState{Mode: ModeUnknown, Logging: LoggingStopped},
		lastProfile: math.NaN(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Err returns the reason for StateFatal.
func (s *Session) Err() error { return s.fatalErr }

// Stats returns session counters.
func (s *Session) Stats() Stats { return s.stats }

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.log.Info("session state changed", "from", s.state.String(), "to", next.String())
	s.state = next
}

func (s *Session) fail(err error) {
	s.fatalErr = err
	s.setState(StateFatal)
	s.log.Error("session failed", "error", err)
	s.abortAll(err)
}

// abortAll fails the pending command and everything queued.
func (s *Session) abortAll(err error) {
	if s.pending != nil {
		p := s.pending
		s.pending = nil
		if p.reply != nil {
			p.reply(firmware.Frame{}, err)
		}
	}
	q := s.queue
	s.queue = nil
	for _, o := range q {
		if o.reply != nil {
			o.reply(firmware.Frame{}, err)
		}
	}
}

// Advance runs one step of the state machine at time now.
func (s *Session) Advance(ctx context.Context, now time.Time) {
	switch s.state {
	case StateConnecting:
		if err := s.link.Open(ctx); err != nil {
			s.fail(err)
			return
		}
		s.startHandshake()

	case StateHandshaking:
		s.advanceHandshake(now)

	case StateReady:
		s.expirePending(now)
		s.schedule(now)
		s.advanceProfile(now)
		s.dispatch(now)

	case StateDegraded:
		s.stats.Reconnects++
		if err := s.link.Open(ctx); err != nil {
			s.fail(err)
			return
		}
		if s.version == nil {
			s.startHandshake()
			return
		}
		s.log.Info("controller link restored", "link", s.link.Describe())
		s.setState(StateReady)

	case StateFatal:
	}
}

func (s *Session) startHandshake() {
	if err := s.link.Flush(); err != nil {
		s.log.Debug("flush before handshake failed", "error", err)
	}
	s.handshakeAttempts = 0
	s.lastHandshake = time.Time{}
	s.setState(StateHandshaking)
}

func (s *Session) advanceHandshake(now time.Time) {
	if !s.lastHandshake.IsZero() && now.Sub(s.lastHandshake) < s.opts.HandshakeInterval {
		return
	}
	if s.handshakeAttempts >= s.opts.HandshakeAttempts {
		s.fail(fmt.Errorf("%w after %d attempts on %s", ErrHandshakeFailed, s.handshakeAttempts, s.link.Describe()))
		return
	}
	s.handshakeAttempts++
	s.lastHandshake = now
	if err := s.link.Write(firmware.RequestVersion().Bytes()); err != nil {
		s.degrade(err)
		return
	}
	s.stats.CommandsSent++
	s.log.Debug("version requested", "attempt", s.handshakeAttempts)
}

// degrade moves to StateDegraded after a write failure. The pending command
// and the queue are kept; they are replayed once the link is back.
func (s *Session) degrade(err error) {
	s.log.Warn("controller write failed", "link", s.link.Describe(), "error", err)
	s.setState(StateDegraded)
}

// onHandshake records the version, selects the dialect and primes caches.
func (s *Session) onHandshake(v firmware.Version, now time.Time) {
	if !v.Supported() {
		s.fail(fmt.Errorf("%w: %s (minimum %s)", ErrUnsupportedVersion, v.Semver, firmware.MinSupported))
		return
	}
	s.version = &v
	s.dialect = v.Dialect()
	s.log.Info("controller handshake complete",
		"version", v.Semver.String(), "board", v.BoardName(), "shield", v.ShieldName(),
		"dialect", s.dialect.String(), "simulator", v.Simulator)

	s.setState(StateReady)
	s.Submit(firmware.DumpControlConstants(), nil)
	s.Submit(firmware.DumpControlSettings(), nil)
	s.Submit(firmware.RequestLCD(), nil)
	s.refreshDevices(false)

	s.nextTemps = now
	s.nextLCD = now.Add(s.opts.LCDRefresh)
	s.nextSettings = now.Add(s.opts.SettingsRefresh)
}

// Submit queues cmd. reply, if set, is called exactly once: with the reply
// frame for commands that expect one, with a zero frame once the command is
// written for commands that do not, or with an error.
func (s *Session) Submit(cmd firmware.Command, reply ReplyFunc) {
	s.submit(outbound{cmd: cmd, reply: reply})
}

func (s *Session) submit(o outbound) {
	if s.state == StateFatal {
		if o.reply != nil {
			o.reply(firmware.Frame{}, s.fatalErr)
		}
		return
	}
	s.queue = append(s.queue, o)
}

// queued reports whether a command named name is waiting or pending.
func (s *Session) queued(name string) bool {
	if s.pending != nil && s.pending.cmd.Name == name {
		return true
	}
	for _, o := range s.queue {
		if o.cmd.Name == name {
			return true
		}
	}
	return false
}

// dispatch writes queued commands until one that expects a reply is in
// flight or the queue is empty.
func (s *Session) dispatch(now time.Time) {
	for s.pending == nil && len(s.queue) > 0 && s.state == StateReady {
		o := s.queue[0]
		if err := s.link.Write(o.cmd.Bytes()); err != nil {
			s.degrade(err)
			return
		}
		s.queue = s.queue[1:]
		s.stats.CommandsSent++
		s.log.Debug("command sent", "command", o.cmd.Name, "bytes", o.cmd.String())

		if o.onSent != nil {
			o.onSent()
		}
		if o.cmd.ExpectsReply() {
			s.pending = &pendingRequest{cmd: o.cmd, reply: o.reply, sentAt: now}
			return
		}
		if o.reply != nil {
			o.reply(firmware.Frame{}, nil)
		}
	}
}

func (s *Session) expirePending(now time.Time) {
	if s.pending == nil || now.Sub(s.pending.sentAt) < s.opts.CommandTimeout {
		return
	}
	p := s.pending
	s.pending = nil
	s.stats.Timeouts++
	s.log.Warn("command timed out", "command", p.cmd.Name, "waited", now.Sub(p.sentAt).String())
	if p.reply != nil {
		p.reply(firmware.Frame{}, fmt.Errorf("%w: %s", ErrCommandTimeout, p.cmd.Name))
	}
}

// schedule queues the periodic refresh requests that are due.
func (s *Session) schedule(now time.Time) {
	if !now.Before(s.nextTemps) {
		if !s.queued(firmware.RequestTemperatures().Name) {
			s.Submit(firmware.RequestTemperatures(), nil)
		}
		s.nextTemps = now.Add(s.opts.LoggingInterval)
	}
	if !now.Before(s.nextLCD) {
		if !s.queued(firmware.RequestLCD().Name) {
			s.Submit(firmware.RequestLCD(), nil)
		}
		if !s.queued(firmware.DumpControlSettings().Name) {
			s.Submit(firmware.DumpControlSettings(), nil)
		}
		s.nextLCD = now.Add(s.opts.LCDRefresh)
	}
	if !now.Before(s.nextSettings) {
		if !s.queued(firmware.DumpControlConstants().Name) {
			s.Submit(firmware.DumpControlConstants(), nil)
		}
		s.nextSettings = now.Add(s.opts.SettingsRefresh)
	}
}

// advanceProfile pushes the profile setpoint to the controller when its
// rounded value changes, and falls back to beer-constant at the end.
func (s *Session) advanceProfile(now time.Time) {
	if s.control.Mode != ModeBeerProfile || s.run == nil {
		return
	}
	sp := roundSetpoint(s.run.Setpoint(now))

	if s.run.PastEnd(now) {
		s.log.Info("profile complete, holding final temperature",
			"profile", s.run.Profile().Name, "temperature", sp)
		s.setBeerConstant(sp)
		return
	}
	if sp == s.lastProfile {
		return
	}
	s.lastProfile = sp
	s.submit(outbound{
		cmd: firmware.UpdateProfileSetpoint(sp),
		onSent: func() {
			if s.control.Mode == ModeBeerProfile {
				s.control.BeerSetpoint = &sp
			}
		},
	})
}

func roundSetpoint(v float64) float64 {
	return math.Round(v*10) / 10
}

// HandleLine parses and applies one reply line. Errors are informational:
// the frame is dropped and the session carries on.
func (s *Session) HandleLine(ctx context.Context, line string, now time.Time) error {
	f, err := firmware.ParseLine(line)
	if err != nil {
		s.stats.DecodeErrors++
		return err
	}
	return s.HandleFrame(ctx, f, now)
}

// HandleFrame applies f to the caches and completes the pending command if
// f is the kind it waits for.
func (s *Session) HandleFrame(ctx context.Context, f firmware.Frame, now time.Time) error {
	err := s.apply(ctx, f, now)
	if err != nil {
		s.stats.DecodeErrors++
		s.log.Debug("dropping malformed frame", "kind", f.Kind.String(), "error", err)
	}

	if s.pending != nil && s.pending.cmd.Expect == f.Kind {
		p := s.pending
		s.pending = nil
		s.stats.Replies++
		if p.reply != nil {
			p.reply(f, err)
		}
		if s.state == StateReady {
			s.dispatch(now)
		}
	}
	return err
}

func (s *Session) apply(ctx context.Context, f firmware.Frame, now time.Time) error {
	switch f.Kind {
	case firmware.KindVersion:
		v, err := firmware.DecodeVersion(f.Payload)
		handshaking := s.state == StateHandshaking && s.version == nil
		if err != nil {
			// The controller answered, so asking again cannot help.
			if handshaking {
				s.fail(fmt.Errorf("%w: %v", ErrUnsupportedVersion, err))
			}
			return err
		}
		if handshaking {
			s.onHandshake(v, now)
		}

	case firmware.KindTemperature:
		t, err := firmware.DecodeTemperatures(f.Payload)
		if err != nil {
			return err
		}
		s.temps, s.tempsAt = &t, now
		s.logReading(ctx, t, now)

	case firmware.KindLCD:
		lines, err := firmware.DecodeLCD(f.Payload)
		if err != nil {
			return err
		}
		s.lcd = lines

	case firmware.KindControlConstants:
		c, err := firmware.DecodeControlConstants(f.Payload)
		if err != nil {
			return err
		}
		s.constants = &c
		s.checkUnit(now)

	case firmware.KindControlSettings:
		cs, err := firmware.DecodeControlSettings(f.Payload)
		if err != nil {
			return err
		}
		s.settings = &cs
		s.applySettings(cs)

	case firmware.KindControlVariables:
		raw, err := firmware.DecodeObject(f.Payload)
		if err != nil {
			return err
		}
		s.variables = raw

	case firmware.KindInstalledDevices:
		raw, err := firmware.DecodeDeviceList(f.Payload)
		if err != nil {
			return err
		}
		s.devices.SetInstalled(raw)

	case firmware.KindAvailableDevices:
		raw, err := firmware.DecodeDeviceList(f.Payload)
		if err != nil {
			return err
		}
		s.devices.SetAvailable(raw)

	case firmware.KindDeviceUpdate:
		if _, err := firmware.DecodeObject(f.Payload); err != nil {
			return err
		}

	case firmware.KindDebug:
		s.log.Debug("controller debug", "message", f.Payload)
	}
	return nil
}

// applySettings mirrors the controller's reported mode into ControlState.
func (s *Session) applySettings(cs firmware.ControlSettings) {
	if cs.Mode == nil {
		return
	}
	mode, ok := modeFromLetter(*cs.Mode)
	if !ok {
		s.log.Debug("unknown controller mode", "mode", *cs.Mode)
		return
	}
	if mode != ModeBeerProfile && s.run != nil {
		s.log.Info("controller left profile mode", "mode", string(mode))
		s.run = nil
	}
	if mode == ModeBeerProfile && s.run == nil && s.control.Mode != ModeBeerProfile {
		// Profile data lives with the owning application; without a run
		// the bridge only mirrors the setpoint the controller reports.
		s.log.Info("controller is in profile mode without an active profile")
	}
	s.control.setMode(mode, cs.BeerSet, cs.FridgeSet)
}

// checkUnit asks the controller to switch units when it disagrees with the
// configured format.
func (s *Session) checkUnit(now time.Time) {
	if s.constants == nil || s.constants.TempFormat == nil {
		return
	}
	have := strings.ToUpper(*s.constants.TempFormat)
	want := strings.ToUpper(s.opts.TempFormat)
	if have == want {
		s.unitMismatch = false
		return
	}
	s.unitMismatch = true
	if !s.lastUnitFix.IsZero() && now.Sub(s.lastUnitFix) < unitCorrectionInterval {
		return
	}
	s.lastUnitFix = now
	s.log.Warn("controller temperature unit differs from configuration, correcting",
		"controller", have, "configured", want, "dialect", s.dialect.String())
	s.Submit(firmware.SetTempFormat(want, s.dialect), nil)
	s.Submit(firmware.DumpControlConstants(), nil)
}

func (s *Session) logReading(ctx context.Context, t firmware.Temperatures, now time.Time) {
	if s.control.Logging != LoggingActive || s.opts.Sink == nil {
		return
	}
	r := Reading{
		Time:       now,
		Device:     s.opts.DeviceName,
		BrewName:   s.control.BrewName,
		RunID:      s.control.RunID,
		BeerTemp:   t.BeerTemp,
		BeerSet:    t.BeerSet,
		FridgeTemp: t.FridgeTemp,
		FridgeSet:  t.FridgeSet,
		RoomTemp:   t.RoomTemp,
		State:      t.State,
		TempFormat: s.opts.TempFormat,
	}
	if t.BeerAnn != nil {
		r.BeerAnn = *t.BeerAnn
	}
	if t.FridgeAnn != nil {
		r.FridgeAnn = *t.FridgeAnn
	}
	if err := s.opts.Sink.SavePoint(ctx, r); err != nil {
		s.log.Warn("saving reading failed", "error", err)
		return
	}
	s.stats.ReadingsLogged++
}

// requireReady rejects caller commands before the handshake completes or
// after the session failed.
func (s *Session) requireReady() error {
	switch s.state {
	case StateReady, StateDegraded:
		return nil
	case StateFatal:
		return s.fatalErr
	default:
		return ErrNotReady
	}
}

// Config is the subset of configuration that can change while running.
type Config struct {
	DeviceName      string
	TempFormat      string
	LoggingInterval time.Duration
}

// ApplyConfig takes reloaded device settings. A unit change re-reads the
// control constants so the unit check runs against the new format.
func (s *Session) ApplyConfig(c Config, now time.Time) {
	if c.DeviceName != "" {
		s.opts.DeviceName = c.DeviceName
	}
	if c.LoggingInterval > 0 && c.LoggingInterval != s.opts.LoggingInterval {
		s.opts.LoggingInterval = c.LoggingInterval
		s.nextTemps = now
	}
	if c.TempFormat != "" && !strings.EqualFold(c.TempFormat, s.opts.TempFormat) {
		s.opts.TempFormat = strings.ToUpper(c.TempFormat)
		s.lastUnitFix = time.Time{}
		if s.state == StateReady {
			s.Submit(firmware.DumpControlConstants(), nil)
		}
	}
}

// IsTimeout reports whether err means the firmware did not answer.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCommandTimeout)
}
