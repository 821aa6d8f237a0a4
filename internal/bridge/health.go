package bridge

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/brewbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewbridge/internal/session"
)

const defaultHealthInterval = 30 * time.Second

// HealthStatus is the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage is published to brewbridge/{device}/health.
// QoS: configured, Retained: yes
type HealthMessage struct {
	Device        string         `json:"device"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        HealthStatus   `json:"status"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Session       string         `json:"session,omitempty"`
	Firmware      string         `json:"firmware,omitempty"`
	Statistics    *session.Stats `json:"statistics,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Device  string
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher Publisher
	QoS       byte

	// StartTime anchors the uptime. Default: time.Now()
	StartTime time.Time
}

// HealthReporter publishes bridge health from the main loop. It has no
// goroutine of its own; the loop calls Tick every poll.
type HealthReporter struct {
	device    string
	version   string
	interval  time.Duration
	publisher Publisher
	qos       byte
	startTime time.Time

	next time.Time
	log  Logger
}

// NewHealthReporter creates a health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: ready for Tick
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	start := cfg.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	return &HealthReporter{
		device:    cfg.Device,
		version:   cfg.Version,
		interval:  interval,
		publisher: cfg.Publisher,
		qos:       cfg.QoS,
		startTime: start,
		log:       noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.log = logger
}

// Tick publishes the current health when the interval has elapsed.
func (h *HealthReporter) Tick(now time.Time, sess *session.Session) {
	if now.Before(h.next) {
		return
	}
	h.next = now.Add(h.interval)
	if err := h.publish(h.Snapshot(now, sess)); err != nil {
		h.log.Warn("publishing health failed", "error", err)
	}
}

// Starting publishes a "starting" status.
func (h *HealthReporter) Starting() {
	//nolint:errcheck // best-effort, the first Tick follows immediately
	h.publish(h.bare(HealthStarting, "bridge starting"))
}

// Stopping publishes a final "stopping" status.
func (h *HealthReporter) Stopping() {
	//nolint:errcheck // best-effort during shutdown
	h.publish(h.bare(HealthStopping, ""))
}

// Snapshot builds the health message for sess.
func (h *HealthReporter) Snapshot(now time.Time, sess *session.Session) HealthMessage {
	status, reason := determineStatus(sess)
	msg := h.bare(status, reason)
	msg.Timestamp = now.UTC()
	msg.UptimeSeconds = int64(now.Sub(h.startTime).Seconds())
	msg.Session = sess.State().String()
	if v, err := sess.Version(); err == nil {
		msg.Firmware = v.Semver.String()
	}
	stats := sess.Stats()
	msg.Statistics = &stats
	if name := sess.DeviceName(); name != "" {
		h.device = name
		msg.Device = name
	}
	return msg
}

func (h *HealthReporter) bare(status HealthStatus, reason string) HealthMessage {
	return HealthMessage{
		Device:        h.device,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
}

func determineStatus(sess *session.Session) (HealthStatus, string) {
	switch sess.State() {
	case session.StateReady:
		return HealthHealthy, ""
	case session.StateDegraded:
		return HealthDegraded, "controller link degraded"
	case session.StateFatal:
		reason := "controller session failed"
		if err := sess.Err(); err != nil {
			reason = err.Error()
		}
		return HealthUnhealthy, reason
	default:
		return HealthStarting, "waiting for controller"
	}
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(h.device), payload, h.qos, true)
}
