package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "graylogic/registry"

// Topics provides builders for registry MQTT topics under one prefix.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics("graylogic/registry")
//	topics.DeviceStatus("3f2a9c01b7de")
//	// Returns: "graylogic/registry/device/3f2a9c01b7de/status"
//
// Device segments are token fingerprints, never raw tokens: topic names are
// visible to every subscriber with wildcard access.
type Topics struct {
	prefix string
}

// NewTopics returns builders rooted at prefix. Surrounding slashes are
// trimmed; an empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	return t.prefix
}

// SystemStatus returns the topic for registry online/offline status.
//
// Example: graylogic/registry/system/status
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}

// DeviceStatus returns the retained liveness topic of one device.
//
// Example: graylogic/registry/device/3f2a9c01b7de/status
func (t Topics) DeviceStatus(fingerprint string) string {
	return fmt.Sprintf("%s/device/%s/status", t.prefix, fingerprint)
}

// InstantEvent returns the topic for instant activity addressed to a device.
//
// Example: graylogic/registry/instant/3f2a9c01b7de/asked
func (t Topics) InstantEvent(fingerprint, event string) string {
	return fmt.Sprintf("%s/instant/%s/%s", t.prefix, fingerprint, event)
}

// AllDeviceStatus returns a wildcard matching every device status topic.
//
// Example: graylogic/registry/device/+/status
func (t Topics) AllDeviceStatus() string {
	return t.prefix + "/device/+/status"
}

// AllInstantEvents returns a wildcard matching every instant event topic.
//
// Example: graylogic/registry/instant/#
func (t Topics) AllInstantEvents() string {
	return t.prefix + "/instant/#"
}
