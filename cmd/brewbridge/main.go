// Brew Bridge - fermentation controller bridge
//
// brewbridge owns one BrewPi-compatible temperature controller, reached over
// USB serial or TCP, and answers one-shot requests from local clients on a
// command socket. Readings go to InfluxDB and state to MQTT when configured.
//
// Usage:
//
//	brewbridge [--config path] [--log-level level]
//	brewbridge send <keyword[=value]>
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/brewbridge/internal/addresscache"
	"github.com/nerrad567/brewbridge/internal/bridge"
	"github.com/nerrad567/brewbridge/internal/infrastructure/config"
	"github.com/nerrad567/brewbridge/internal/infrastructure/database"
	"github.com/nerrad567/brewbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/brewbridge/internal/infrastructure/logging"
	"github.com/nerrad567/brewbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewbridge/internal/linereader"
	"github.com/nerrad567/brewbridge/internal/profile"
	"github.com/nerrad567/brewbridge/internal/server"
	"github.com/nerrad567/brewbridge/internal/session"
	"github.com/nerrad567/brewbridge/internal/transport"
	"github.com/nerrad567/brewbridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options are the command-line settings.
type options struct {
	configPath string
	logLevel   string
	sendArgs   []string
}

func main() {
	opts, showVersion, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("brewbridge %s (%s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(opts.sendArgs) > 0 {
		err = send(ctx, opts)
	} else {
		err = run(ctx, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, bool, error) {
	fs := pflag.NewFlagSet("brewbridge", pflag.ContinueOnError)
	var opts options
	fs.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file")
	fs.StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, false, err
	}

	rest := fs.Args()
	if len(rest) > 0 {
		if rest[0] != "send" || len(rest) != 2 {
			return opts, false, fmt.Errorf("usage: brewbridge send <keyword[=value]>")
		}
		opts.sendArgs = rest[1:]
	}
	return opts, *showVersion, nil
}

// run starts the bridge and blocks until it stops.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Command-line settings
//
// Returns:
//   - error: nil on clean shutdown (signal or quit request), or the failure
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting Brew Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version).With("device", cfg.Device.Name)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	cache := addresscache.New(db.DB, cfg.Device.Name)
	link := newLink(ctx, cfg, cache, log.With("component", "transport"))
	defer func() {
		if closeErr := link.Close(); closeErr != nil {
			log.Error("error closing controller link", "error", closeErr)
		}
	}()

	var sinks bridge.FanOut

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Device.Name, log.With("component", "mqtt"))
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		sinks = append(sinks, bridge.MQTTSink{Publisher: mqttClient, QoS: byte(cfg.MQTT.QoS)})
	}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB, log.With("component", "influxdb"))
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled, readings are not stored")
	case err != nil:
		// Readings are not critical to control; run without them.
		log.Warn("InfluxDB connection failed, continuing without it", "error", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		sinks = append(sinks, bridge.InfluxSink{Writer: influxClient})
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return err
	}

	reader := linereader.New(unopenedIdle{link}, linereader.Options{Logger: log.With("component", "reader")})
	reader.Start(ctx)

	sessOpts := session.Options{
		DeviceName:      cfg.Device.Name,
		TempFormat:      cfg.Device.TempFormat,
		LoggingInterval: cfg.Device.LoggingInterval,
		LCDRefresh:      cfg.Session.LCDRefresh,
		SettingsRefresh: cfg.Session.SettingsRefresh,
		CommandTimeout:  cfg.Session.CommandTimeout,
		Logger:          log.With("component", "session"),
	}
	if len(sinks) > 0 {
		sessOpts.Sink = sinks
	}
	sess := session.New(link, sessOpts)

	network, address := cfg.ListenAddress()
	srv, err := server.Listen(server.Options{
		Network:       network,
		Address:       address,
		AcceptTimeout: cfg.Server.AcceptTimeout,
		Logger:        log.With("component", "server"),
	})
	if err != nil {
		return fmt.Errorf("starting command server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing command server", "error", closeErr)
		}
	}()
	log.Info("command server listening", "network", network, "address", address)

	loopOpts := bridge.Options{
		Session:      sess,
		Reader:       reader,
		Server:       srv,
		Profiles:     profile.NewSQLiteRepository(db.DB),
		PollInterval: cfg.Session.PollInterval,
		Logger:       log.With("component", "bridge"),
	}

	if mqttClient != nil {
		qos := byte(cfg.MQTT.QoS)
		loopOpts.State = bridge.NewStatePublisher(mqttClient, cfg.Device.Name, qos, log)
		loopOpts.Health = bridge.NewHealthReporter(bridge.HealthReporterConfig{
			Device:    cfg.Device.Name,
			Version:   version,
			Interval:  cfg.MQTT.HealthInterval,
			Publisher: mqttClient,
			QoS:       qos,
		})
		loopOpts.Health.SetLogger(log)
		commands, subErr := bridge.SubscribeCommands(mqttClient, qos)
		if subErr != nil {
			return fmt.Errorf("subscribing to commands: %w", subErr)
		}
		loopOpts.Commands = commands
	}

	watcher, err := config.NewWatcher(opts.configPath, log)
	if err != nil {
		log.Warn("config hot-reload unavailable", "error", err)
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
		loopOpts.Configs = watcher.Updates()
	}

	log.Info("Brew Bridge started", "controller", link.Describe())

	if err := bridge.New(loopOpts).Run(ctx); err != nil {
		return fmt.Errorf("bridge stopped: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, nil
}

// newLink builds the configured transport, seeded with any endpoint the
// address cache remembers from a previous run.
func newLink(ctx context.Context, cfg *config.Config, cache *addresscache.Store, log *logging.Logger) transport.Link {
	if cfg.Transport.Type == config.TransportNetwork {
		nc := cfg.Transport.Network
		cached, err := cache.ResolvedAddress(ctx, nc.Host)
		if err != nil && !errors.Is(err, addresscache.ErrNotCached) {
			log.Warn("reading cached address failed", "error", err)
		}
		return transport.NewNetwork(transport.NetworkOptions{
			Host:            nc.Host,
			Port:            nc.Port,
			CachedAddress:   cached,
			ConnectAttempts: nc.ConnectAttempts,
			Saver:           cache,
			Logger:          log,
		})
	}

	sc := cfg.Transport.Serial
	var cached string
	if sc.DeviceSerial != "" {
		var err error
		cached, err = cache.ResolvedPort(ctx, sc.DeviceSerial)
		if err != nil && !errors.Is(err, addresscache.ErrNotCached) {
			log.Warn("reading cached port failed", "error", err)
		}
	}
	return transport.NewSerial(transport.SerialOptions{
		Port:             sc.Port,
		AltPort:          sc.AltPort,
		PreferAutoDetect: sc.PreferAutoDetect,
		BaudRate:         sc.BaudRate,
		DeviceSerial:     sc.DeviceSerial,
		CachedPort:       cached,
		Saver:            cache,
		Logger:           log,
	})
}

// unopenedIdle reports a link that is not open yet, or is being reopened by
// the session, as having nothing to read.
type unopenedIdle struct {
	transport.Link
}

func (u unopenedIdle) Read(max int) ([]byte, error) {
	b, err := u.Link.Read(max)
	if errors.Is(err, transport.ErrNotOpen) {
		return nil, nil
	}
	return b, err
}

// send is the client side of the command socket: one request, one reply.
func send(ctx context.Context, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	keyword, value, _ := strings.Cut(opts.sendArgs[0], "=")
	if !server.KnownKeyword(keyword) {
		return fmt.Errorf("unknown keyword %q", keyword)
	}

	client := server.NewClient(cfg.ListenAddress())
	rep, err := client.Send(ctx, keyword, value)
	if err != nil {
		return fmt.Errorf("sending %s: %w", keyword, err)
	}
	fmt.Println(rep.String())
	if rep.Kind == server.ReplyError {
		return fmt.Errorf("%s failed: %s", keyword, rep.Text)
	}
	return nil
}

// getConfigPath returns the config file path from environment or default.
func getConfigPath() string {
	if path := os.Getenv("BREWBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the stores the bridge depends on are reachable.
// MQTT and InfluxDB are optional and skipped when not connected.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("MQTT health check: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check: %w", err)
		}
	}
	return nil
}
