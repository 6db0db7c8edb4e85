package mcperr

import "strings"

// BridgeFault identifies a class of helper/bridge failure.
type BridgeFault string

const (
	FaultPortConflict      BridgeFault = "port_conflict"
	FaultDeviceNotVisible  BridgeFault = "device_not_visible"
	FaultConnectionRefused BridgeFault = "connection_refused"
	FaultFrameworkConflict BridgeFault = "framework_conflict"
	FaultBinaryMissing     BridgeFault = "binary_missing"
	FaultSigningBlocked    BridgeFault = "signing_blocked"
	FaultUnknown           BridgeFault = "unknown"
)

// classifierEntry maps raw error substrings to a fault, a user-facing message
// and fixed remediation steps. The whole table lives here so it can be audited
// in one place.
type classifierEntry struct {
	substrings []string
	fault      BridgeFault
	message    string
	fixes      []string
	canRetry   bool
}

var classifierTable = []classifierEntry{
	{
		substrings: []string{"address already in use", "port already allocated"},
		fault:      FaultPortConflict,
		message:    "Helper port conflict detected",
		fixes: []string{
			"Terminate the stray helper process holding the port",
			"Auto-recovery is engaged; retry the operation",
		},
		canRetry: true,
	},
	{
		substrings: []string{"device not found", "not visible to the helper", "invalid device"},
		fault:      FaultDeviceNotVisible,
		message:    "Device not visible to the automation helper",
		fixes: []string{
			"Ensure the simulator is booted",
			"Run: xcrun simctl boot <device-id>",
			"Verify the device id with the device_management tool",
		},
	},
	{
		substrings: []string{"connection refused", "failed to connect", "broken pipe"},
		fault:      FaultConnectionRefused,
		message:    "Cannot connect to the automation helper",
		fixes: []string{
			"The helper may not be running; auto-recovery will respawn it",
			"Check that nothing blocks local Unix sockets",
		},
		canRetry: true,
	},
	{
		substrings: []string{"is implemented in both"},
		fault:      FaultFrameworkConflict,
		message:    "Helper framework conflict detected",
		fixes: []string{
			"Install the system helper and set HELPER_PREFER_SYSTEM=1",
			"The server falls back to simctl where it can",
		},
	},
	{
		substrings: []string{"no such file", "executable file not found", "enoent"},
		fault:      FaultBinaryMissing,
		message:    "Automation helper binary not found",
		fixes: []string{
			"Reinstall the server so the embedded helper can be extracted",
			"Or install a system helper on PATH",
		},
	},
	{
		substrings: []string{"code signature", "codesign", "killed: 9", "sigkill"},
		fault:      FaultSigningBlocked,
		message:    "Signing policy is blocking the automation helper",
		fixes: []string{
			"Add your terminal to Privacy & Security > Developer Tools",
			"Or prefer the system-installed, properly signed helper",
		},
	},
}

// ClassifyBridge maps a raw bridge/helper error message to a taxonomy error
// with remediation hints attached. Unrecognized messages become a plain
// TOOL_EXECUTION_FAILED.
func ClassifyBridge(raw string) *Error {
	lower := strings.ToLower(raw)
	for _, entry := range classifierTable {
		for _, sub := range entry.substrings {
			if strings.Contains(lower, sub) {
				return New(ToolExecutionFailed, entry.message).
					With("fault", string(entry.fault)).
					With("remediation", entry.fixes).
					With("detail", raw).
					Retryable(entry.canRetry)
			}
		}
	}
	return New(ToolExecutionFailed, raw).
		With("fault", string(FaultUnknown)).
		Retryable(false)
}
