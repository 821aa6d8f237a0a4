package transport

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// fakePort implements the parts of serial.Port the transport uses.
type fakePort struct {
	serial.Port

	mu      sync.Mutex
	name    string
	rx      bytes.Buffer
	tx      bytes.Buffer
	readErr error
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.rx.Len() == 0 {
		return 0, nil
	}
	return p.rx.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.Write(b)
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx.Reset()
	return nil
}
func (p *fakePort) ResetOutputBuffer() error { return nil }
func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeOpener records open attempts and succeeds only for ports in ok.
type fakeOpener struct {
	mu     sync.Mutex
	ok     map[string]*fakePort
	tried  []string
	failN  int
	opened int
}

func (o *fakeOpener) open(name string, _ *serial.Mode) (serial.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tried = append(o.tried, name)
	if o.failN > 0 {
		o.failN--
		return nil, errors.New("busy")
	}
	if p, ok := o.ok[name]; ok {
		o.opened++
		return p, nil
	}
	return nil, errors.New("no such file or directory")
}

type recordingSaver struct {
	mu        sync.Mutex
	ports     map[string]string
	addresses map[string]string
}

func newRecordingSaver() *recordingSaver {
	return &recordingSaver{ports: map[string]string{}, addresses: map[string]string{}}
}

func (r *recordingSaver) SaveResolvedAddress(_ context.Context, host, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses[host] = address
	return nil
}

func (r *recordingSaver) SaveResolvedPort(_ context.Context, deviceSerial, port string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[deviceSerial] = port
	return nil
}

func listing(ports ...*enumerator.PortDetails) func() ([]*enumerator.PortDetails, error) {
	return func() ([]*enumerator.PortDetails, error) { return ports, nil }
}

func TestSerial_CandidateOrder(t *testing.T) {
	usb := &enumerator.PortDetails{Name: "/dev/ttyACM3", IsUSB: true, VID: "2341", SerialNumber: "ABC"}

	tests := []struct {
		name   string
		opts   SerialOptions
		wanted []string
	}{
		{
			name:   "configured then autodetected then alternate",
			opts:   SerialOptions{Port: "/dev/ttyACM0", AltPort: "/dev/ttyUSB0"},
			wanted: []string{"/dev/ttyACM0", "/dev/ttyACM3", "/dev/ttyUSB0"},
		},
		{
			name:   "prefer autodetect",
			opts:   SerialOptions{Port: "/dev/ttyACM0", AltPort: "/dev/ttyUSB0", PreferAutoDetect: true},
			wanted: []string{"/dev/ttyACM3", "/dev/ttyACM0", "/dev/ttyUSB0"},
		},
		{
			name:   "duplicates collapse",
			opts:   SerialOptions{Port: "/dev/ttyACM3", AltPort: "/dev/ttyACM3"},
			wanted: []string{"/dev/ttyACM3"},
		},
		{
			name:   "cached port last",
			opts:   SerialOptions{Port: "/dev/ttyACM0", CachedPort: "/dev/ttyACM7"},
			wanted: []string{"/dev/ttyACM0", "/dev/ttyACM3", "/dev/ttyACM7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.ListPorts = listing(usb)
			s := NewSerial(tt.opts)
			var got []string
			for _, c := range s.candidates() {
				got = append(got, c.name)
			}
			if len(got) != len(tt.wanted) {
				t.Fatalf("candidates = %v, want %v", got, tt.wanted)
			}
			for i := range got {
				if got[i] != tt.wanted[i] {
					t.Errorf("candidates = %v, want %v", got, tt.wanted)
					break
				}
			}
		})
	}
}

func TestSerial_AutodetectPrefersDeviceSerial(t *testing.T) {
	s := NewSerial(SerialOptions{
		DeviceSerial: "wanted",
		ListPorts: listing(
			&enumerator.PortDetails{Name: "/dev/ttyS0", IsUSB: false, VID: "2341"},
			&enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", SerialNumber: "other"},
			&enumerator.PortDetails{Name: "/dev/ttyUSB4", IsUSB: true, VID: "ffff", SerialNumber: "WANTED"},
		),
	})

	c := s.autodetect()
	if c.name != "/dev/ttyUSB4" || !c.autodetected {
		t.Errorf("autodetect() = %+v, want /dev/ttyUSB4", c)
	}
}

func TestSerial_AutodetectUnknownVendor(t *testing.T) {
	s := NewSerial(SerialOptions{
		ListPorts: listing(&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "dead"}),
	})
	if c := s.autodetect(); c.name != "" {
		t.Errorf("autodetect() = %+v, want none", c)
	}
}

func TestSerial_OpenFallsBackToAlternate(t *testing.T) {
	alt := &fakePort{name: "/dev/ttyUSB0"}
	opener := &fakeOpener{ok: map[string]*fakePort{"/dev/ttyUSB0": alt}}

	s := NewSerial(SerialOptions{
		Port:      "/dev/ttyACM0",
		AltPort:   "/dev/ttyUSB0",
		OpenPort:  opener.open,
		ListPorts: listing(),
		Backoff:   time.Millisecond,
	})
	defer s.Close()

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.Describe() != "serial:/dev/ttyUSB0" {
		t.Errorf("Describe() = %q", s.Describe())
	}
	if len(opener.tried) != 2 {
		t.Errorf("tried = %v, want configured then alternate", opener.tried)
	}
}

func TestSerial_OpenRetriesWholeList(t *testing.T) {
	port := &fakePort{}
	opener := &fakeOpener{ok: map[string]*fakePort{"/dev/ttyACM0": port}, failN: 3}

	s := NewSerial(SerialOptions{
		Port:      "/dev/ttyACM0",
		OpenPort:  opener.open,
		ListPorts: listing(),
		Backoff:   time.Millisecond,
	})
	defer s.Close()

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(opener.tried) != 4 {
		t.Errorf("tried %d times, want 4", len(opener.tried))
	}
}

func TestSerial_OpenExhaustsAttempts(t *testing.T) {
	opener := &fakeOpener{}
	s := NewSerial(SerialOptions{
		Port:      "/dev/ttyACM0",
		AltPort:   "/dev/ttyACM1",
		OpenPort:  opener.open,
		ListPorts: listing(),
		Attempts:  10,
		Backoff:   time.Millisecond,
	})

	err := s.Open(context.Background())
	if !errors.Is(err, ErrTransportOpen) {
		t.Fatalf("Open() error = %v, want ErrTransportOpen", err)
	}
	if len(opener.tried) != 20 {
		t.Errorf("tried %d times, want 10 passes over 2 ports", len(opener.tried))
	}
}

func TestSerial_SavesAutodetectedPort(t *testing.T) {
	port := &fakePort{}
	opener := &fakeOpener{ok: map[string]*fakePort{"/dev/ttyACM2": port}}
	saver := newRecordingSaver()

	s := NewSerial(SerialOptions{
		PreferAutoDetect: true,
		OpenPort:         opener.open,
		ListPorts:        listing(&enumerator.PortDetails{Name: "/dev/ttyACM2", IsUSB: true, VID: "2B04", SerialNumber: "XYZ"}),
		Saver:            saver,
	})
	defer s.Close()

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if saver.ports["XYZ"] != "/dev/ttyACM2" {
		t.Errorf("saved ports = %v, want XYZ -> /dev/ttyACM2", saver.ports)
	}
}

func TestSerial_ReadWriteFlush(t *testing.T) {
	port := &fakePort{}
	port.rx.WriteString("T:{}\n")
	opener := &fakeOpener{ok: map[string]*fakePort{"/dev/ttyACM0": port}}

	s := NewSerial(SerialOptions{Port: "/dev/ttyACM0", OpenPort: opener.open, ListPorts: listing()})
	defer s.Close()

	if _, err := s.Read(16); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Read() before Open error = %v, want ErrNotOpen", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	got, err := s.Read(64)
	if err != nil || string(got) != "T:{}\n" {
		t.Errorf("Read() = %q, %v", got, err)
	}
	if got, err := s.Read(64); got != nil || err != nil {
		t.Errorf("Read() on empty port = %q, %v, want nil, nil", got, err)
	}

	if err := s.Write([]byte("t")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if port.tx.String() != "t" {
		t.Errorf("written = %q, want t", port.tx.String())
	}

	port.rx.WriteString("stale")
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got, _ := s.Read(64); got != nil {
		t.Errorf("Read() after Flush = %q, want nothing", got)
	}

	st := s.Stats()
	if st.BytesRx != 5 || st.BytesTx != 1 || st.Opens != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSerial_ReadErrorWrapsIO(t *testing.T) {
	port := &fakePort{readErr: errors.New("device disconnected")}
	opener := &fakeOpener{ok: map[string]*fakePort{"/dev/ttyACM0": port}}

	s := NewSerial(SerialOptions{Port: "/dev/ttyACM0", OpenPort: opener.open, ListPorts: listing()})
	defer s.Close()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := s.Read(8); !errors.Is(err, ErrIO) {
		t.Errorf("Read() error = %v, want ErrIO", err)
	}
}

func TestSerial_CloseIsFinal(t *testing.T) {
	port := &fakePort{}
	opener := &fakeOpener{ok: map[string]*fakePort{"/dev/ttyACM0": port}}
	s := NewSerial(SerialOptions{Port: "/dev/ttyACM0", OpenPort: opener.open, ListPorts: listing()})

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !port.closed {
		t.Error("underlying port not closed")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := s.Open(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Open() after Close error = %v, want ErrNotOpen", err)
	}
}
