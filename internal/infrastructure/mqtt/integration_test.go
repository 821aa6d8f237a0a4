//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_Connect(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "brewbridge-int-connect"

	client, err := Connect(cfg, "int-connect", nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "brewbridge-int-refused"
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg, "int-refused", nil); err == nil {
		t.Fatal("Connect() to a closed port succeeded")
	}
}

func TestIntegration_CommandRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "brewbridge-int-sub"
	bridge, err := Connect(cfg, "int-test", nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer bridge.Close()

	cfg.Broker.ClientID = "brewbridge-int-pub"
	remote, err := Connect(cfg, "int-remote", nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer remote.Close()

	received := make(chan string, 1)
	if err := bridge.OnCommand(1, func(line string) error {
		received <- line
		return nil
	}); err != nil {
		t.Fatalf("OnCommand() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := remote.Publish(Topics{}.Command("int-test"), []byte("setBeer=19.5\n"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != "setBeer=19.5" {
			t.Errorf("received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command")
	}
}
