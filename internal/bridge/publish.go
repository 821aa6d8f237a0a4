package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/brewbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewbridge/internal/server"
	"github.com/nerrad567/brewbridge/internal/session"
)

const defaultCommandBuffer = 16

// ErrCommandQueueFull is returned to the MQTT layer when remote commands
// arrive faster than the loop consumes them.
var ErrCommandQueueFull = errors.New("bridge: remote command queue full")

// Publisher sends MQTT messages. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Subscriber delivers lines from the device command topic. *mqtt.Client
// satisfies it.
type Subscriber interface {
	OnCommand(qos byte, handler mqtt.CommandHandler) error
}

// StatePublisher mirrors session state onto retained MQTT topics. Retained
// messages are only re-sent when their content changes or the broker
// connection was lost since the last publish.
type StatePublisher struct {
	pub    Publisher
	qos    byte
	device string
	log    Logger

	lastStatus []byte
	lastLCD    []byte
}

// NewStatePublisher creates a publisher for device. logger may be nil.
func NewStatePublisher(pub Publisher, device string, qos byte, logger Logger) *StatePublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &StatePublisher{pub: pub, qos: qos, device: device, log: logger}
}

// Publish sends the dashboard snapshot and LCD lines if they changed.
func (p *StatePublisher) Publish(sess *session.Session) {
	if !p.pub.IsConnected() {
		p.lastStatus, p.lastLCD = nil, nil
		return
	}
	if name := sess.DeviceName(); name != p.device {
		p.device = name
		p.lastStatus, p.lastLCD = nil, nil
	}

	if status, err := json.Marshal(sess.DashInfo()); err == nil {
		p.lastStatus = p.publishChanged(mqtt.Topics{}.Status(p.device), status, p.lastStatus)
	}
	if lines, err := sess.LCD(); err == nil {
		if lcd, err := json.Marshal(lines); err == nil {
			p.lastLCD = p.publishChanged(mqtt.Topics{}.LCD(p.device), lcd, p.lastLCD)
		}
	}
}

// publishChanged publishes payload retained unless it equals last. It
// returns the payload to remember.
func (p *StatePublisher) publishChanged(topic string, payload, last []byte) []byte {
	if bytes.Equal(payload, last) {
		return last
	}
	if err := p.pub.Publish(topic, payload, p.qos, true); err != nil {
		p.log.Warn("publishing state failed", "topic", topic, "error", err)
		return last
	}
	return payload
}

// response is the payload on the response topic.
type response struct {
	Request  string          `json:"request"`
	Kind     string          `json:"kind"`
	Value    string          `json:"value,omitempty"`
	Document json.RawMessage `json:"document,omitempty"`
}

// PublishResponse sends the reply to a remote command.
func (p *StatePublisher) PublishResponse(req server.Request, reply server.Reply) error {
	msg := response{Request: req.String(), Kind: reply.Kind.String()}
	switch reply.Kind {
	case server.ReplyJSON:
		msg.Document = reply.Doc
	default:
		msg.Value = reply.Text
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	return p.pub.Publish(mqtt.Topics{}.Response(p.device), payload, p.qos, false)
}

// SubscribeCommands subscribes to the device command topic and returns the
// channel the loop reads request lines from.
//
// Parameters:
//   - sub: MQTT client bound to the device
//   - qos: subscription QoS
//
// Returns:
//   - <-chan string: request lines, buffered
//   - error: if the subscription failed
func SubscribeCommands(sub Subscriber, qos byte) (<-chan string, error) {
	ch := make(chan string, defaultCommandBuffer)
	err := sub.OnCommand(qos, func(line string) error {
		select {
		case ch <- line:
			return nil
		default:
			return ErrCommandQueueFull
		}
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}
