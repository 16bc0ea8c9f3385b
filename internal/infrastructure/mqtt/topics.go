package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic this service publishes.
const TopicPrefix = "watchme"

// Topics builds topic names for one installation.
//
//	topics, _ := mqtt.NewTopics("watchme-core")
//	topics.DeviceState()  // "watchme/device/watchme-core/state"
type Topics struct {
	install string
}

// NewTopics validates install and returns its topic builder. The install
// name becomes one topic level, so it may not contain '/', '+' or '#'.
func NewTopics(install string) (Topics, error) {
	if install == "" || strings.ContainsAny(install, "/+#") {
		return Topics{}, fmt.Errorf("%w: %q", ErrInvalidInstall, install)
	}
	return Topics{install: install}, nil
}

// Install returns the installation name the topics are built for.
func (t Topics) Install() string {
	return t.install
}

// DeviceState is the retained topic carrying the latest reconciliation
// state snapshot.
//
// Example: watchme/device/watchme-core/state
func (t Topics) DeviceState() string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, t.install)
}

// DeviceStatus is the retained online/offline topic, also used for the
// Last Will.
//
// Example: watchme/device/watchme-core/status
func (t Topics) DeviceStatus() string {
	return fmt.Sprintf("%s/device/%s/status", TopicPrefix, t.install)
}

// AllDeviceStates matches the state topic of every installation.
func AllDeviceStates() string {
	return TopicPrefix + "/device/+/state"
}
