package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport types.
const (
	TransportSerial  = "serial"
	TransportNetwork = "network"
)

// Command server listener networks.
const (
	ServerUnix = "unix"
	ServerTCP  = "tcp"
)

// Temperature formats understood by the controller firmware.
const (
	TempCelsius    = "C"
	TempFahrenheit = "F"
)

// Config is the root configuration structure for Brew Bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Transport TransportConfig `yaml:"transport"`
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig describes the fermentation controller this bridge owns.
type DeviceConfig struct {
	// Name identifies the controller in logs, MQTT topics and readings.
	Name string `yaml:"name"`

	// TempFormat is the unit the controller should run in: "C" or "F".
	// The session corrects the firmware when it disagrees.
	TempFormat string `yaml:"temp_format"`

	// LoggingInterval is how often temperatures are requested and logged.
	// Default: 2m
	LoggingInterval time.Duration `yaml:"logging_interval"`
}

// TransportConfig selects how the controller is reached.
type TransportConfig struct {
	// Type is "serial" (USB attached) or "network" (ESP8266 over TCP).
	Type    string                 `yaml:"type"`
	Serial  SerialTransportConfig  `yaml:"serial"`
	Network NetworkTransportConfig `yaml:"network"`
}

// SerialTransportConfig contains settings for a USB serial controller.
type SerialTransportConfig struct {
	Port             string `yaml:"port"`
	AltPort          string `yaml:"alt_port"`
	PreferAutoDetect bool   `yaml:"prefer_auto_detect"`
	BaudRate         int    `yaml:"baud_rate"`

	// DeviceSerial is the USB serial number of the controller, used to find
	// it again when the OS renumbers the port.
	DeviceSerial string `yaml:"device_serial,omitempty"`
}

// NetworkTransportConfig contains settings for a controller that speaks the
// serial protocol over TCP.
type NetworkTransportConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ConnectAttempts int    `yaml:"connect_attempts"`
}

// ServerConfig contains the local command socket settings.
type ServerConfig struct {
	// Network is "unix" or "tcp".
	Network    string `yaml:"network"`
	SocketPath string `yaml:"socket_path"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`

	// AcceptTimeout bounds how long one loop iteration waits for a client.
	// Default: 100ms
	AcceptTimeout time.Duration `yaml:"accept_timeout"`
}

// SessionConfig contains controller session timing.
type SessionConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	LCDRefresh      time.Duration `yaml:"lcd_refresh"`
	SettingsRefresh time.Duration `yaml:"settings_refresh"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often the bridge health message is published.
	// Default: 30s
	HealthInterval time.Duration `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BREWBRIDGE_SECTION_KEY
// For example: BREWBRIDGE_SERIAL_PORT, BREWBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.Device.TempFormat = strings.ToUpper(cfg.Device.TempFormat)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:            "fermenter",
			TempFormat:      TempCelsius,
			LoggingInterval: 2 * time.Minute,
		},
		Transport: TransportConfig{
			Type: TransportSerial,
			Serial: SerialTransportConfig{
				Port:     "/dev/ttyACM0",
				BaudRate: 57600,
			},
			Network: NetworkTransportConfig{
				Port:            23,
				ConnectAttempts: 10,
			},
		},
		Server: ServerConfig{
			Network:       ServerUnix,
			SocketPath:    "/run/brewbridge/brewbridge.sock",
			Host:          "127.0.0.1",
			Port:          4460,
			AcceptTimeout: 100 * time.Millisecond,
		},
		Session: SessionConfig{
			PollInterval:    500 * time.Millisecond,
			LCDRefresh:      5 * time.Second,
			SettingsRefresh: 5 * time.Minute,
			CommandTimeout:  5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/brewbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "brewbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BREWBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("BREWBRIDGE_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("BREWBRIDGE_TEMP_FORMAT"); v != "" {
		cfg.Device.TempFormat = v
	}

	// Transport
	if v := os.Getenv("BREWBRIDGE_TRANSPORT"); v != "" {
		cfg.Transport.Type = v
	}
	if v := os.Getenv("BREWBRIDGE_SERIAL_PORT"); v != "" {
		cfg.Transport.Serial.Port = v
	}
	if v := os.Getenv("BREWBRIDGE_NETWORK_HOST"); v != "" {
		cfg.Transport.Network.Host = v
	}
	if v := os.Getenv("BREWBRIDGE_NETWORK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Transport.Network.Port = port
		}
	}

	// Server
	if v := os.Getenv("BREWBRIDGE_SOCKET_PATH"); v != "" {
		cfg.Server.SocketPath = v
	}

	// Database
	if v := os.Getenv("BREWBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BREWBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BREWBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BREWBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("BREWBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("BREWBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	}
	if c.Device.TempFormat != TempCelsius && c.Device.TempFormat != TempFahrenheit {
		errs = append(errs, "device.temp_format must be C or F")
	}
	if c.Device.LoggingInterval < time.Second {
		errs = append(errs, "device.logging_interval must be at least 1s")
	}

	switch c.Transport.Type {
	case TransportSerial:
		if c.Transport.Serial.Port == "" && c.Transport.Serial.AltPort == "" && !c.Transport.Serial.PreferAutoDetect {
			errs = append(errs, "transport.serial.port is required unless auto-detection is preferred")
		}
		if c.Transport.Serial.BaudRate <= 0 {
			errs = append(errs, "transport.serial.baud_rate must be positive")
		}
	case TransportNetwork:
		if c.Transport.Network.Host == "" {
			errs = append(errs, "transport.network.host is required")
		}
		if c.Transport.Network.Port < 1 || c.Transport.Network.Port > 65535 {
			errs = append(errs, "transport.network.port must be between 1 and 65535")
		}
	default:
		errs = append(errs, "transport.type must be serial or network")
	}

	switch c.Server.Network {
	case ServerUnix:
		if c.Server.SocketPath == "" {
			errs = append(errs, "server.socket_path is required for unix sockets")
		}
	case ServerTCP:
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	default:
		errs = append(errs, "server.network must be unix or tcp")
	}

	if c.Session.PollInterval <= 0 || c.Session.PollInterval >= time.Second {
		errs = append(errs, "session.poll_interval must be between 0 and 1s")
	}
	if c.Session.CommandTimeout <= 0 {
		errs = append(errs, "session.command_timeout must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ListenAddress returns the network and address the command server binds to.
func (c *Config) ListenAddress() (network, address string) {
	if c.Server.Network == ServerTCP {
		return ServerTCP, fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
	}
	return ServerUnix, c.Server.SocketPath
}
