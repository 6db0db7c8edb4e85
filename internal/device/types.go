// Package device tracks the simulators and physical devices visible to
// the host and drives their lifecycle through simctl.
package device

import "strings"

// State is a device lifecycle state as reported by simctl.
type State string

const (
	StateShutdown     State = "Shutdown"
	StateBooting      State = "Booting"
	StateBooted       State = "Booted"
	StateShuttingDown State = "ShuttingDown"
	StateCreating     State = "Creating"
)

// ParseState maps a raw simctl state string to a State. The second
// return is false for states this package does not know about.
func ParseState(raw string) (State, bool) {
	switch State(strings.TrimSpace(raw)) {
	case StateShutdown, StateBooting, StateBooted, StateShuttingDown, StateCreating:
		return State(strings.TrimSpace(raw)), true
	case "Shutting Down":
		return StateShuttingDown, true
	default:
		return "", false
	}
}

// Device is a unified view over simulators and physical hardware.
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type,omitempty"`
	Runtime    string `json:"runtime,omitempty"`
	State      State  `json:"state"`
	IsPhysical bool   `json:"is_physical"`
	Available  bool   `json:"is_available"`
}

// Health describes whether a device is usable right now.
type Health struct {
	DeviceID         string   `json:"device_id"`
	RuntimeAvailable bool     `json:"runtime_available"`
	IsAvailable      bool     `json:"is_available"`
	Issues           []string `json:"issues"`
}

// simDevice mirrors one entry of `simctl list devices -j`.
type simDevice struct {
	UDID              string `json:"udid"`
	Name              string `json:"name"`
	State             string `json:"state"`
	IsAvailable       bool   `json:"isAvailable"`
	DeviceTypeID      string `json:"deviceTypeIdentifier"`
	AvailabilityError string `json:"availabilityError,omitempty"`
}

// simDeviceList mirrors the top-level JSON of `simctl list devices -j`,
// keyed by runtime identifier.
type simDeviceList struct {
	Devices map[string][]simDevice `json:"devices"`
}

// Runtime mirrors one entry of `simctl list runtimes -j`.
type Runtime struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	IsAvailable bool   `json:"isAvailable"`
	Platform    string `json:"platform,omitempty"`
}

type runtimeList struct {
	Runtimes []Runtime `json:"runtimes"`
}
