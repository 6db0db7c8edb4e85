package device

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"simharness/internal/mcperr"
)

// BootReport summarizes a monitored boot.
type BootReport struct {
	DeviceID   string   `json:"device_id"`
	State      State    `json:"state"`
	UIReady    bool     `json:"ui_ready"`
	Warning    string   `json:"warning,omitempty"`
	Milestones []string `json:"milestones"`
	Elapsed    string   `json:"elapsed"`
}

// BootMonitor drives a simulator boot and waits for it to become
// usable. One deadline covers all three phases.
type BootMonitor struct {
	reg          *Registry
	log          *slog.Logger
	pollInterval time.Duration
}

// NewBootMonitor creates a monitor over reg.
func NewBootMonitor(reg *Registry, log *slog.Logger) *BootMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &BootMonitor{reg: reg, log: log, pollInterval: 500 * time.Millisecond}
}

// WaitForBoot boots the device and waits until it reports Booted and
// its UI service answers, within timeout. A UI that is still not
// responsive at the deadline downgrades to a warning rather than an
// error; a device that never reaches Booted is a TIMEOUT_ERROR.
func (m *BootMonitor) WaitForBoot(ctx context.Context, deviceID string, timeout time.Duration) (*BootReport, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.reg.Boot(ctx, deviceID); err != nil {
		return nil, err
	}
	m.log.Info("boot issued", "device", deviceID)

	report := &BootReport{DeviceID: deviceID}

	state, err := m.pollState(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	report.State = state
	m.log.Info("device booted", "device", deviceID, "elapsed", time.Since(start))

	report.UIReady = m.pollUI(ctx, deviceID)
	if !report.UIReady {
		report.Warning = "device booted but the UI service did not become responsive before the deadline"
		m.log.Warn("UI readiness timed out", "device", deviceID)
	}

	report.Milestones = m.collectMilestones(deviceID)
	report.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return report, nil
}

func (m *BootMonitor) pollState(ctx context.Context, deviceID string) (State, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := m.reg.Refresh(ctx); err != nil {
			// A refresh killed by the deadline is a timeout, not a
			// host failure.
			if ctx.Err() != nil {
				return "", deadlineError(deviceID)
			}
			return "", err
		}
		if d, ok := m.reg.Get(deviceID); ok && d.State == StateBooted {
			return d.State, nil
		}

		select {
		case <-ctx.Done():
			return "", deadlineError(deviceID)
		case <-ticker.C:
		}
	}
}

func deadlineError(deviceID string) *mcperr.Error {
	return mcperr.Newf(mcperr.TimeoutError, "device %s did not reach Booted before the deadline", deviceID).
		With("device_id", deviceID).
		Retryable(true)
}

func (m *BootMonitor) pollUI(ctx context.Context, deviceID string) bool {
	ticker := time.NewTicker(m.pollInterval * 2)
	defer ticker.Stop()

	for {
		if m.reg.Simctl().SpringBoardRunning(ctx, deviceID) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// milestonePatterns maps log substrings to milestone labels, in boot
// order.
var milestonePatterns = []struct {
	substr    string
	milestone string
}{
	{"Boot initiated", "boot begun"},
	{"SpringBoard", "UI launched"},
	{"Scanning for apps", "apps scanned"},
	{"Boot complete", "boot complete"},
}

// collectMilestones scans the last minute of device logs. Log access
// failing is not fatal; the report just has no milestones.
func (m *BootMonitor) collectMilestones(deviceID string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logText, err := m.reg.Simctl().RecentLog(ctx, deviceID)
	if err != nil {
		m.log.Debug("could not read device log for milestones", "device", deviceID, "error", err)
		return []string{}
	}
	return scanMilestones(logText)
}

func scanMilestones(logText string) []string {
	milestones := []string{}
	for _, p := range milestonePatterns {
		if strings.Contains(logText, p.substr) {
			milestones = append(milestones, p.milestone)
		}
	}
	return milestones
}
