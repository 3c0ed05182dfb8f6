package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the bridge uses.
const TopicPrefix = "stationbridge"

// Topics builds station bridge topic names.
//
//	topics := mqtt.Topics{}
//	topics.Command("spk-1") // stationbridge/command/spk-1
type Topics struct{}

// Command returns the topic on which commands for a station are accepted.
//
// Example: stationbridge/command/spk-1
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Ack returns the topic on which command results are published.
//
// Example: stationbridge/ack/spk-1
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// State returns the retained observed-state topic of a station.
//
// Example: stationbridge/state/spk-1
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Event returns the topic for an event type.
//
// Example: stationbridge/event/scenario_run
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// SystemHealth returns the periodic health topic.
func (Topics) SystemHealth() string {
	return TopicPrefix + "/system/health"
}

// AllCommands matches the command topic of every station.
//
// Pattern: stationbridge/command/+
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// AllStates matches the state topic of every station.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+"
}

// DeviceFromTopic returns the last level of a per-device topic, such as
// the device ID of "stationbridge/command/spk-1".
func DeviceFromTopic(topic string) (string, bool) {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return "", false
	}
	return topic[i+1:], true
}
