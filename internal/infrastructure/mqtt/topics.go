package mqtt

import "fmt"

// TopicPrefix is the root of every topic the bridge uses.
const TopicPrefix = "brewbridge"

// Topics builds the bridge's topic names.
//
//	topics := mqtt.Topics{}
//	topics.Status("fermenter") // "brewbridge/fermenter/status"
type Topics struct{}

func deviceTopic(device, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, device, leaf)
}

// Status carries the retained dashboard snapshot.
func (Topics) Status(device string) string { return deviceTopic(device, "status") }

// LCD carries the retained display lines.
func (Topics) LCD(device string) string { return deviceTopic(device, "lcd") }

// Reading carries one message per logged reading.
func (Topics) Reading(device string) string { return deviceTopic(device, "reading") }

// Health carries the retained bridge health report.
func (Topics) Health(device string) string { return deviceTopic(device, "health") }

// Command receives keyword[=value] requests.
func (Topics) Command(device string) string { return deviceTopic(device, "command") }

// Response carries replies to Command requests.
func (Topics) Response(device string) string { return deviceTopic(device, "response") }

// Availability carries the retained "online"/"offline" marker, including
// the Last Will.
func (Topics) Availability(device string) string { return deviceTopic(device, "availability") }
