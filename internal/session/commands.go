package session

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/brewbridge/internal/firmware"
	"github.com/nerrad567/brewbridge/internal/profile"
)

// validSetpoint checks temp against the controller's configured limits
// when they are known.
func (s *Session) validSetpoint(temp float64) error {
	if math.IsNaN(temp) || math.IsInf(temp, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSetpoint, temp)
	}
	if s.constants == nil {
		return nil
	}
	if lo := s.constants.TempSetMin; lo != nil && temp < *lo {
		return fmt.Errorf("%w: %.1f below minimum %.1f", ErrInvalidSetpoint, temp, *lo)
	}
	if hi := s.constants.TempSetMax; hi != nil && temp > *hi {
		return fmt.Errorf("%w: %.1f above maximum %.1f", ErrInvalidSetpoint, temp, *hi)
	}
	return nil
}

// SetBeer switches to beer-constant mode at temp.
func (s *Session) SetBeer(temp float64) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if err := s.validSetpoint(temp); err != nil {
		return err
	}
	s.setBeerConstant(temp)
	return nil
}

func (s *Session) setBeerConstant(temp float64) {
	// The run is dropped now so advanceProfile stops issuing updates while
	// the mode change waits in the queue.
	s.run = nil
	s.lastProfile = math.NaN()
	s.submit(outbound{
		cmd: firmware.SetBeerConstant(temp),
		onSent: func() {
			s.control.setMode(ModeBeerConstant, &temp, nil)
		},
	})
}

// SetFridge switches to fridge-constant mode at temp.
func (s *Session) SetFridge(temp float64) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if err := s.validSetpoint(temp); err != nil {
		return err
	}
	s.run = nil
	s.lastProfile = math.NaN()
	s.submit(outbound{
		cmd: firmware.SetFridgeConstant(temp),
		onSent: func() {
			s.control.setMode(ModeFridgeConstant, nil, &temp)
		},
	})
	return nil
}

// SetOff turns temperature control off.
func (s *Session) SetOff() error {
	if err := s.requireReady(); err != nil {
		return err
	}
	s.run = nil
	s.lastProfile = math.NaN()
	s.submit(outbound{
		cmd: firmware.SetOff(),
		onSent: func() {
			s.control.setMode(ModeOff, nil, nil)
		},
	})
	return nil
}

// ActivateProfile starts following p from startedAt. The profile is
// converted to the configured unit first.
//
// Parameters:
//   - p: profile to follow; nil returns ErrNoProfile
//   - startedAt: time the first point's offset is measured from
//
// Returns:
//   - error: ErrNoProfile, a profile validation error, or ErrInvalidSetpoint
func (s *Session) ActivateProfile(p *profile.Profile, startedAt, now time.Time) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if p == nil {
		return ErrNoProfile
	}
	converted, err := profile.ConvertUnit(*p, profile.Unit(s.opts.TempFormat))
	if err != nil {
		return err
	}
	run, err := profile.NewRun(converted, startedAt)
	if err != nil {
		return err
	}
	sp := roundSetpoint(run.Setpoint(now))
	if err := s.validSetpoint(sp); err != nil {
		return err
	}

	s.submit(outbound{
		cmd: firmware.ActivateProfile(sp),
		onSent: func() {
			s.run = run
			s.lastProfile = sp
			s.control.setMode(ModeBeerProfile, &sp, nil)
		},
	})
	s.log.Info("profile activated", "profile", p.Name, "setpoint", sp)
	return nil
}

// ActiveProfile returns the profile being followed, if any.
func (s *Session) ActiveProfile() (*profile.Run, bool) {
	return s.run, s.run != nil
}

// SetParameters forwards a settings object to the controller and re-reads
// the control settings afterwards.
func (s *Session) SetParameters(raw json.RawMessage) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: expected a JSON object", ErrInvalidPayload)
	}
	s.Submit(firmware.SetParameters(raw), nil)
	s.Submit(firmware.DumpControlSettings(), nil)
	return nil
}

// ApplyDevice sends a device update. When the controller acknowledges it
// the device list is refreshed; reply receives the acknowledgement.
func (s *Session) ApplyDevice(raw json.RawMessage, reply ReplyFunc) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	s.Submit(firmware.ApplyDevice(raw), func(f firmware.Frame, err error) {
		if err == nil {
			s.refreshDevices(false)
		}
		if reply != nil {
			reply(f, err)
		}
	})
	return nil
}

// WriteDevice installs a device without waiting for acknowledgement and
// refreshes the device list.
func (s *Session) WriteDevice(raw json.RawMessage) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	s.devices.Invalidate()
	s.Submit(firmware.WriteDevice(raw), nil)
	s.refreshDevices(false)
	return nil
}

// RefreshDeviceList invalidates the device list and asks for both halves.
func (s *Session) RefreshDeviceList(withValues bool) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	s.refreshDevices(withValues)
	return nil
}

func (s *Session) refreshDevices(withValues bool) {
	s.devices.Invalidate()
	cmds := firmware.RefreshDeviceList()
	if withValues {
		cmds = firmware.RefreshDeviceListWithValues()
	}
	for _, c := range cmds {
		s.Submit(c, nil)
	}
}

// ResetEEPROM restores controller defaults and re-reads everything that
// depends on them.
func (s *Session) ResetEEPROM() error {
	if err := s.requireReady(); err != nil {
		return err
	}
	s.Submit(firmware.ResetEEPROM(), nil)
	s.Submit(firmware.DumpControlConstants(), nil)
	s.Submit(firmware.DumpControlSettings(), nil)
	s.refreshDevices(false)
	return nil
}

// Restart soft-restarts the controller.
func (s *Session) Restart() error {
	if err := s.requireReady(); err != nil {
		return err
	}
	s.Submit(firmware.Restart(), nil)
	return nil
}

// ResetWiFi clears the controller's WiFi settings.
func (s *Session) ResetWiFi() error {
	if err := s.requireReady(); err != nil {
		return err
	}
	s.Submit(firmware.ResetWiFi(), nil)
	return nil
}

// RequestControlVariables asks for a fresh V: frame.
func (s *Session) RequestControlVariables(reply ReplyFunc) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	s.Submit(firmware.ReadControlVariables(), reply)
	return nil
}

// StartNewBrew begins logging under name with a new run ID.
func (s *Session) StartNewBrew(name string) string {
	s.control.Logging = LoggingActive
	s.control.BrewName = name
	s.control.RunID = s.opts.NewRunID()
	s.log.Info("logging started", "brew", name, "run_id", s.control.RunID)
	return s.control.RunID
}

// PauseLogging pauses an active log. It reports whether anything changed.
func (s *Session) PauseLogging() bool {
	if s.control.Logging != LoggingActive {
		return false
	}
	s.control.Logging = LoggingPaused
	s.log.Info("logging paused", "brew", s.control.BrewName)
	return true
}

// ResumeLogging resumes a paused log. It reports whether anything changed.
func (s *Session) ResumeLogging() bool {
	if s.control.Logging != LoggingPaused {
		return false
	}
	s.control.Logging = LoggingActive
	s.log.Info("logging resumed", "brew", s.control.BrewName)
	return true
}

// StopLogging ends the current log.
func (s *Session) StopLogging() {
	if s.control.Logging != LoggingStopped {
		s.log.Info("logging stopped", "brew", s.control.BrewName)
	}
	s.control.Logging = LoggingStopped
	s.control.BrewName = ""
	s.control.RunID = ""
}
