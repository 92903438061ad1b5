package mqtt

import "fmt"

// Topic prefixes for Gray Mesh MQTT traffic.
//
// All topics use the flat scheme: graymesh/{category}/{sid}/{...}
const (
	// TopicPrefix is the base for all Gray Mesh topics.
	TopicPrefix = "graymesh"

	// TopicPrefixDevice is the base for device telemetry topics.
	TopicPrefixDevice = "graymesh/device"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graymesh/system"

	// TopicPrefixCommand is the base for inbound device command topics.
	// Kept outside the device prefix so state wildcards never match
	// commands.
	TopicPrefixCommand = "graymesh/command"
)

// Topics provides builders for Gray Mesh MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.DeviceState("158d0001a2b3c4", "temperature")
//	// Returns: "graymesh/device/158d0001a2b3c4/temperature"
type Topics struct{}

// DeviceDiscovery returns the topic for newly discovered devices.
//
// Example: graymesh/discovery/device
func (Topics) DeviceDiscovery() string {
	return fmt.Sprintf("%s/discovery/device", TopicPrefix)
}

// DeviceState returns the topic for one device capability's value changes.
//
// Example: graymesh/device/158d0001a2b3c4/temperature
func (Topics) DeviceState(sid, capability string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevice, sid, capability)
}

// DeviceStateCoarse returns the drift-filtered variant of a capability
// topic, for consumers that only want coarse movements.
//
// Example: graymesh/device/158d0001a2b3c4/temperature/coarse
func (Topics) DeviceStateCoarse(sid, capability string) string {
	return fmt.Sprintf("%s/%s/%s/coarse", TopicPrefixDevice, sid, capability)
}

// DeviceCommand returns the inbound command topic for one device.
//
// Example: graymesh/command/158d0001a2b3c4
func (Topics) DeviceCommand(sid string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixCommand, sid)
}

// SystemStatus returns the system status topic carrying online/offline
// payloads and the Last Will.
//
// Example: graymesh/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceStates returns a pattern matching every capability topic.
//
// Pattern: graymesh/device/+/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/+", TopicPrefixDevice)
}

// AllDeviceCapability returns a pattern matching one capability across
// all devices.
//
// Pattern: graymesh/device/+/temperature
func (Topics) AllDeviceCapability(capability string) string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixDevice, capability)
}

// AllDeviceCommands returns a pattern matching every device command
// topic.
//
// Pattern: graymesh/command/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/+", TopicPrefixCommand)
}

// AllTopics returns a pattern matching all Gray Mesh topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: graymesh/#
func (Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", TopicPrefix)
}
