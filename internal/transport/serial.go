package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	defaultBaudRate = 57600

	// serialReadTimeout keeps Read from blocking the line reader.
	serialReadTimeout = 5 * time.Millisecond
)

// knownVendorIDs are USB vendor ids of boards that ship controller firmware.
var knownVendorIDs = map[string]string{
	"2341": "Arduino",
	"2A03": "Arduino.org",
	"2B04": "Particle",
	"1A86": "CH340",
	"10C4": "CP210x",
	"0403": "FTDI",
}

// SerialOptions configures a SerialTransport.
type SerialOptions struct {
	// Port is the configured device node, e.g. /dev/ttyACM0.
	Port string

	// AltPort is tried after the configured and autodetected ports.
	AltPort string

	// PreferAutoDetect tries the autodetected port first.
	PreferAutoDetect bool

	// BaudRate defaults to 57600.
	BaudRate int

	// DeviceSerial is the USB serial number of the controller. When set,
	// autodetection picks the port with this serial number over any other.
	DeviceSerial string

	// CachedPort is the last port DeviceSerial was seen on. Tried last.
	CachedPort string

	// Attempts is how many times the whole candidate list is tried. Default 10.
	Attempts int

	// Backoff is the pause between passes over the candidate list. Default 1s.
	Backoff time.Duration

	Saver  AddressSaver
	Logger Logger

	// OpenPort and ListPorts default to go.bug.st/serial. Tests replace them.
	OpenPort  func(name string, mode *serial.Mode) (serial.Port, error)
	ListPorts func() ([]*enumerator.PortDetails, error)
}

// SerialTransport is a Link over a USB serial port.
type SerialTransport struct {
	opts SerialOptions
	log  Logger

	mu   sync.RWMutex
	port serial.Port
	name string

	done  *closeOnce
	stats counters
}

// NewSerial creates a SerialTransport. It does not open the port.
func NewSerial(opts SerialOptions) *SerialTransport {
	if opts.BaudRate <= 0 {
		opts.BaudRate = defaultBaudRate
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.OpenPort == nil {
		opts.OpenPort = serial.Open
	}
	if opts.ListPorts == nil {
		opts.ListPorts = enumerator.GetDetailedPortsList
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &SerialTransport{opts: opts, log: log, done: newCloseOnce()}
}

// candidate is one port to try, with the USB serial number it was found by.
type candidate struct {
	name         string
	deviceSerial string
	autodetected bool
}

// Open tries each candidate port in order, repeating the list up to
// Attempts times with Backoff between passes.
func (s *SerialTransport) Open(ctx context.Context) error {
	s.closePort()

	mode := &serial.Mode{
		BaudRate: s.opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		select {
		case <-s.done.Done():
			return fmt.Errorf("%w: transport closed", ErrNotOpen)
		default:
		}

		for _, c := range s.candidates() {
			port, err := s.opts.OpenPort(c.name, mode)
			if err != nil {
				lastErr = fmt.Errorf("opening %s: %w", c.name, err)
				s.log.Debug("serial port open failed", "port", c.name, "attempt", attempt, "error", err)
				continue
			}
			if err := port.SetReadTimeout(serialReadTimeout); err != nil {
				port.Close()
				lastErr = fmt.Errorf("configuring %s: %w", c.name, err)
				continue
			}

			s.mu.Lock()
			s.port, s.name = port, c.name
			s.mu.Unlock()
			s.stats.opens.Add(1)
			s.log.Info("serial port opened", "port", c.name, "autodetected", c.autodetected, "attempt", attempt)

			if c.autodetected && c.deviceSerial != "" && s.opts.Saver != nil {
				if err := s.opts.Saver.SaveResolvedPort(ctx, c.deviceSerial, c.name); err != nil {
					s.log.Warn("saving resolved port failed", "port", c.name, "error", err)
				}
			}
			return nil
		}

		s.stats.failures.Add(1)
		if attempt < s.opts.Attempts {
			if err := sleepCtx(ctx, s.opts.Backoff); err != nil {
				return fmt.Errorf("%w: %v", ErrTransportOpen, err)
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no candidate ports")
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrTransportOpen, s.opts.Attempts, lastErr)
}

// candidates returns the ports to try this pass, without duplicates.
func (s *SerialTransport) candidates() []candidate {
	var list []candidate
	seen := make(map[string]bool)
	add := func(c candidate) {
		if c.name == "" || seen[c.name] {
			return
		}
		seen[c.name] = true
		list = append(list, c)
	}

	configured := candidate{name: s.opts.Port}
	auto := s.autodetect()

	if s.opts.PreferAutoDetect {
		add(auto)
		add(configured)
	} else {
		add(configured)
		add(auto)
	}
	add(candidate{name: s.opts.AltPort})
	add(candidate{name: s.opts.CachedPort, deviceSerial: s.opts.DeviceSerial})
	return list
}

// autodetect returns the USB port whose serial number matches DeviceSerial,
// otherwise the first port from a known controller vendor.
func (s *SerialTransport) autodetect() candidate {
	ports, err := s.opts.ListPorts()
	if err != nil {
		s.log.Debug("serial port enumeration failed", "error", err)
		return candidate{}
	}

	var first *enumerator.PortDetails
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if s.opts.DeviceSerial != "" && strings.EqualFold(p.SerialNumber, s.opts.DeviceSerial) {
			return candidate{name: p.Name, deviceSerial: p.SerialNumber, autodetected: true}
		}
		if _, ok := knownVendorIDs[strings.ToUpper(p.VID)]; ok && first == nil {
			first = p
		}
	}
	if first == nil {
		return candidate{}
	}
	return candidate{name: first.Name, deviceSerial: first.SerialNumber, autodetected: true}
}

func (s *SerialTransport) current() serial.Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// Read returns whatever the port has buffered, waiting at most a few
// milliseconds.
func (s *SerialTransport) Read(max int) ([]byte, error) {
	port := s.current()
	if port == nil {
		return nil, ErrNotOpen
	}
	buf := make([]byte, max)
	n, err := port.Read(buf)
	if err != nil {
		s.stats.failures.Add(1)
		return nil, fmt.Errorf("%w: reading %s: %v", ErrIO, s.Describe(), err)
	}
	if n == 0 {
		return nil, nil
	}
	s.stats.bytesRx.Add(uint64(n))
	return buf[:n], nil
}

// Write sends b in full.
func (s *SerialTransport) Write(b []byte) error {
	port := s.current()
	if port == nil {
		return ErrNotOpen
	}
	for len(b) > 0 {
		n, err := port.Write(b)
		if err != nil {
			s.stats.failures.Add(1)
			return fmt.Errorf("%w: writing %s: %v", ErrIO, s.Describe(), err)
		}
		s.stats.bytesTx.Add(uint64(n))
		b = b[n:]
	}
	return nil
}

// Flush discards unread input and unsent output.
func (s *SerialTransport) Flush() error {
	port := s.current()
	if port == nil {
		return ErrNotOpen
	}
	if err := port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: flushing input: %v", ErrIO, err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("%w: flushing output: %v", ErrIO, err)
	}
	return nil
}

// Close releases the port. A closed SerialTransport cannot be reopened.
func (s *SerialTransport) Close() error {
	s.done.Close()
	return s.closePort()
}

func (s *SerialTransport) closePort() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("closing serial port: %w", err)
	}
	return nil
}

// Describe returns the open port name, or the configured one.
func (s *SerialTransport) Describe() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.name != "" {
		return "serial:" + s.name
	}
	return "serial:" + s.opts.Port
}

// Stats returns link counters.
func (s *SerialTransport) Stats() Stats {
	return s.stats.snapshot()
}
