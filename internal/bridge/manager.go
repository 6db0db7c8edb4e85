package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Manager owns one supervisor per device. At most one helper runs per
// device id.
type Manager struct {
	mu      sync.Mutex
	ports   *PortAllocator
	locator Locator
	cfg     SupervisorConfig
	log     *slog.Logger
	sups    map[string]*Supervisor
}

// NewManager creates a manager sharing one port allocator across all
// devices.
func NewManager(ports *PortAllocator, locator Locator, cfg SupervisorConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		ports:   ports,
		locator: locator,
		cfg:     cfg,
		log:     log,
		sups:    make(map[string]*Supervisor),
	}
}

// SocketPath returns the per-PID socket path for a device, so two
// servers on the same host never collide.
func SocketPath(deviceID string) string {
	short := deviceID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("mcp-sim-%d-%s.sock", os.Getpid(), short))
}

// Supervisor returns the running supervisor for deviceID, starting one
// if needed.
func (m *Manager) Supervisor(ctx context.Context, deviceID string) (*Supervisor, error) {
	m.mu.Lock()
	sup, ok := m.sups[deviceID]
	if !ok {
		sup = NewSupervisor(deviceID, SocketPath(deviceID), m.ports, m.locator, m.cfg, m.log)
		m.sups[deviceID] = sup
	}
	m.mu.Unlock()

	if err := sup.Start(ctx); err != nil {
		return nil, err
	}
	return sup, nil
}

// Peek returns the supervisor for deviceID without starting one.
func (m *Manager) Peek(deviceID string) (*Supervisor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sup, ok := m.sups[deviceID]
	return sup, ok
}

// StopAll shuts every helper down.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sups := make([]*Supervisor, 0, len(m.sups))
	for _, s := range m.sups {
		sups = append(sups, s)
	}
	m.mu.Unlock()

	for _, s := range sups {
		s.Stop()
	}
}
