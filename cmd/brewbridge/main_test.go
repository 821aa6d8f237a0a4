package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/brewbridge/internal/server"
	"github.com/nerrad567/brewbridge/internal/transport"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ""
`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, options{configPath: path}); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_ServesUntilQuit starts the whole bridge against a fake
// controller on TCP and stops it with a quit request.
func TestRun_ServesUntilQuit(t *testing.T) {
	dir := t.TempDir()
	host, port := fakeFirmware(t)
	socket := filepath.Join(dir, "bb.sock")
	path := writeConfig(t, fmt.Sprintf(`
device:
  name: test-chamber
transport:
  type: network
  network:
    host: %s
    port: %d
server:
  network: unix
  socket_path: %s
database:
  path: %s
logging:
  level: error
`, host, port, socket, filepath.Join(dir, "bridge.db")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, options{configPath: path}) }()

	client := server.NewClient("unix", socket)
	client.Timeout = time.Second
	deadline := time.Now().Add(10 * time.Second)
	for {
		rep, err := client.Send(ctx, server.KeywordGetVersion, "")
		if err == nil && rep.Kind == server.ReplyJSON {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bridge never answered getVersion: %v %v", rep, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if rep, err := client.Send(ctx, server.KeywordQuit, ""); err != nil || rep.Kind != server.ReplyAck {
		t.Fatalf("quit = %v, %v", rep, err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil after quit", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after quit")
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("BREWBRIDGE_CONFIG", "")

	tests := []struct {
		name    string
		args    []string
		want    options
		version bool
		wantErr bool
	}{
		{"defaults", nil, options{configPath: defaultConfigPath}, false, false},
		{"config and level", []string{"-c", "/etc/bb.yaml", "--log-level", "debug"},
			options{configPath: "/etc/bb.yaml", logLevel: "debug"}, false, false},
		{"version", []string{"--version"}, options{configPath: defaultConfigPath}, true, false},
		{"send", []string{"send", "setBeer=18.5"},
			options{configPath: defaultConfigPath, sendArgs: []string{"setBeer=18.5"}}, false, false},
		{"send without request", []string{"send"}, options{}, false, true},
		{"unknown subcommand", []string{"serve"}, options{}, false, true},
		{"unknown flag", []string{"--verbose"}, options{}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, version, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.configPath != tt.want.configPath || got.logLevel != tt.want.logLevel ||
				strings.Join(got.sendArgs, " ") != strings.Join(tt.want.sendArgs, " ") {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
			if version != tt.version {
				t.Errorf("version = %v, want %v", version, tt.version)
			}
		})
	}
}

func TestSend_UnknownKeyword(t *testing.T) {
	path := writeConfig(t, "")
	err := send(context.Background(), options{configPath: path, sendArgs: []string{"setKettle=100"}})
	if err == nil || !strings.Contains(err.Error(), "unknown keyword") {
		t.Errorf("send() error = %v, want unknown keyword", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("BREWBRIDGE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("BREWBRIDGE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

type stubLink struct {
	transport.Link
	err error
}

func (s stubLink) Read(int) ([]byte, error) { return []byte("x"), s.err }

func TestUnopenedIdle(t *testing.T) {
	b, err := unopenedIdle{stubLink{err: transport.ErrNotOpen}}.Read(8)
	if b != nil || err != nil {
		t.Errorf("Read() = %q, %v, want nothing pending", b, err)
	}

	ioErr := fmt.Errorf("%w: cable", transport.ErrIO)
	if _, err := (unopenedIdle{stubLink{err: ioErr}}).Read(8); !errors.Is(err, transport.ErrIO) {
		t.Errorf("Read() error = %v, want ErrIO passed through", err)
	}
}

// writeConfig writes a config file with body appended to a minimal serial
// setup, with MQTT and InfluxDB off.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mqtt:
  enabled: false
influxdb:
  enabled: false
` + body
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// fakeFirmware answers controller commands on a TCP port the way the
// firmware does over its ESP8266 bridge.
func fakeFirmware(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFirmware(conn)
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveFirmware(conn net.Conn) {
	defer conn.Close()
	replies := map[byte]string{
		'n': `N:{"v":"0.2.11","n":"v0.2.11","c":"a1b2c3","s":"2","y":0,"b":"s","l":"1"}`,
		'c': `C:{"tempFormat":"C","tempSetMin":1,"tempSetMax":30}`,
		's': `S:{"mode":"o"}`,
		'l': `L:["Mode   Off","Beer   18.5 --.-","Fridge 12.0 --.-","Idling"]`,
		't': `T:{"BeerTemp":18.5,"FridgeTemp":12.0,"RoomTemp":20.1,"State":0}`,
		'v': `V:{"beerDiff":0.12}`,
		'd': `d:[]`,
		'h': `h:[]`,
	}
	r := bufio.NewReader(conn)
	depth := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		// Commands are single letters; skip their JSON arguments.
		switch {
		case b == '{' || b == '[':
			depth++
			continue
		case b == '}' || b == ']':
			depth--
			continue
		case depth > 0:
			continue
		}
		if reply, ok := replies[b]; ok {
			if _, err := conn.Write([]byte(reply + "\n")); err != nil {
				return
			}
		}
	}
}
