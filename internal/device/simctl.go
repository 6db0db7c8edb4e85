package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// runFunc executes a host command and returns its stdout, stderr, and
// exit error. Tests swap this out for canned output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, string, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// Simctl wraps the xcrun simctl commands the registry needs.
type Simctl struct {
	run runFunc
}

// NewSimctl creates a Simctl backed by the real host toolchain.
func NewSimctl() *Simctl {
	return &Simctl{run: execRun}
}

// ListDevices returns all simulators known to the host, plus the raw
// state strings of entries whose state could not be recognized.
func (s *Simctl) ListDevices(ctx context.Context) ([]Device, []string, error) {
	out, stderr, err := s.run(ctx, "xcrun", "simctl", "list", "devices", "-j")
	if err != nil {
		return nil, nil, fmt.Errorf("simctl list devices failed: %s: %w", stderr, err)
	}
	return parseDeviceList(out)
}

// parseDeviceList flattens the per-runtime device map. Devices with an
// unrecognized state are dropped; their descriptions are returned so
// the caller can log them.
func parseDeviceList(data []byte) ([]Device, []string, error) {
	var list simDeviceList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, nil, fmt.Errorf("failed to parse devices JSON: %w", err)
	}

	var devices []Device
	var dropped []string
	for runtime, devs := range list.Devices {
		for _, d := range devs {
			state, ok := ParseState(d.State)
			if !ok {
				dropped = append(dropped, fmt.Sprintf("%s (%s): unknown state %q", d.Name, d.UDID, d.State))
				continue
			}
			devices = append(devices, Device{
				ID:         d.UDID,
				Name:       d.Name,
				DeviceType: d.DeviceTypeID,
				Runtime:    runtime,
				State:      state,
				IsPhysical: false,
				Available:  d.IsAvailable,
			})
		}
	}
	return devices, dropped, nil
}

// ListRuntimes returns all simulator runtimes installed on the host.
func (s *Simctl) ListRuntimes(ctx context.Context) ([]Runtime, error) {
	out, stderr, err := s.run(ctx, "xcrun", "simctl", "list", "runtimes", "-j")
	if err != nil {
		return nil, fmt.Errorf("simctl list runtimes failed: %s: %w", stderr, err)
	}

	var list runtimeList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("failed to parse runtimes JSON: %w", err)
	}
	return list.Runtimes, nil
}

// Boot boots a simulator. Already-booted is tolerated.
func (s *Simctl) Boot(ctx context.Context, deviceID string) error {
	_, stderr, err := s.run(ctx, "xcrun", "simctl", "boot", deviceID)
	if err != nil {
		if strings.Contains(stderr, "current state: Booted") {
			return nil
		}
		return fmt.Errorf("simctl boot failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// Shutdown shuts a simulator down. Already-shutdown is tolerated.
func (s *Simctl) Shutdown(ctx context.Context, deviceID string) error {
	_, stderr, err := s.run(ctx, "xcrun", "simctl", "shutdown", deviceID)
	if err != nil {
		if strings.Contains(stderr, "current state: Shutdown") {
			return nil
		}
		return fmt.Errorf("simctl shutdown failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// Create creates a new simulator and returns its UDID.
func (s *Simctl) Create(ctx context.Context, name, deviceType, runtime string) (string, error) {
	out, stderr, err := s.run(ctx, "xcrun", "simctl", "create", name, deviceType, runtime)
	if err != nil {
		return "", fmt.Errorf("simctl create failed: %s", strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(string(out)), nil
}

// Delete deletes a simulator.
func (s *Simctl) Delete(ctx context.Context, deviceID string) error {
	_, stderr, err := s.run(ctx, "xcrun", "simctl", "delete", deviceID)
	if err != nil {
		return fmt.Errorf("simctl delete failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// Screenshot captures the device screen to outputPath. An empty path
// picks a timestamped file under the system temp directory.
func (s *Simctl) Screenshot(ctx context.Context, deviceID, outputPath string) (string, error) {
	if outputPath == "" {
		timestamp := time.Now().Format("20060102_150405")
		outputPath = filepath.Join(os.TempDir(), fmt.Sprintf("sim_screenshot_%s.png", timestamp))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	_, stderr, err := s.run(ctx, "xcrun", "simctl", "io", deviceID, "screenshot", outputPath)
	if err != nil {
		return "", fmt.Errorf("simctl screenshot failed: %s", strings.TrimSpace(stderr))
	}
	return outputPath, nil
}

// SpringBoardRunning reports whether the device's main UI service is
// registered with launchd.
func (s *Simctl) SpringBoardRunning(ctx context.Context, deviceID string) bool {
	out, _, err := s.run(ctx, "xcrun", "simctl", "spawn", deviceID,
		"launchctl", "print", "system/com.apple.SpringBoard")
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "com.apple.SpringBoard")
}

// RecentLog returns the last minute of the device's unified log in
// compact form.
func (s *Simctl) RecentLog(ctx context.Context, deviceID string) (string, error) {
	out, stderr, err := s.run(ctx, "xcrun", "simctl", "spawn", deviceID,
		"log", "show", "--style", "compact", "--last", "1m")
	if err != nil {
		return "", fmt.Errorf("log show failed: %s", strings.TrimSpace(stderr))
	}
	return string(out), nil
}

// ListPhysical enumerates attached physical devices via idevice_id.
// A missing tool is not an error; it just means no physical devices.
func ListPhysical(ctx context.Context, run runFunc) []Device {
	out, _, err := run(ctx, "idevice_id", "-l")
	if err != nil {
		return nil
	}

	var devices []Device
	for _, line := range strings.Split(string(out), "\n") {
		udid := strings.TrimSpace(line)
		if udid == "" {
			continue
		}
		devices = append(devices, Device{
			ID:         udid,
			Name:       "Physical Device",
			State:      StateBooted,
			IsPhysical: true,
			Available:  true,
		})
	}
	return devices
}
