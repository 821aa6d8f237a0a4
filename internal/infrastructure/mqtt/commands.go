package mqtt

import (
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxCommandSize matches the command socket's request limit.
const maxCommandSize = 16 * 1024

// CommandHandler receives one keyword[=value] line from the command topic.
// A returned error is logged and the line is dropped.
type CommandHandler func(line string) error

type commandSubscription struct {
	qos     byte
	handler CommandHandler
}

// OnCommand subscribes handler to the device's command topic. The
// subscription is restored after every reconnect. Calling it again
// replaces the handler.
func (c *Client) OnCommand(qos byte, handler CommandHandler) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := &commandSubscription{qos: qos, handler: handler}
	if err := c.subscribeCommands(sub); err != nil {
		return err
	}
	c.mu.Lock()
	c.commands = sub
	c.mu.Unlock()
	return nil
}

func (c *Client) subscribeCommands(sub *commandSubscription) error {
	topic := Topics{}.Command(c.device)
	token := c.client.Subscribe(topic, sub.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(sub.handler, msg.Payload())
	})
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// deliver hands one payload to handler. Blank and oversized payloads never
// reach it, and a panicking handler does not take down paho's router.
func (c *Client) deliver(handler CommandHandler, payload []byte) {
	if len(payload) > maxCommandSize {
		c.log.Warn("dropping oversized MQTT command", "device", c.device, "bytes", len(payload))
		return
	}
	line := strings.TrimSpace(string(payload))
	if line == "" {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("MQTT command handler panic recovered", "command", line, "panic", r)
		}
	}()
	if err := handler(line); err != nil {
		c.log.Warn("MQTT command dropped", "command", line, "error", err)
	}
}
