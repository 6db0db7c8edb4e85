package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"simharness/internal/mcperr"
)

// PortAllocator hands out helper ports from a fixed range and tracks
// them process-wide so two devices never share one.
type PortAllocator struct {
	mu    sync.Mutex
	base  int
	size  int
	inUse map[int]bool
	log   *slog.Logger

	// probe reports whether a port is free; kill terminates whatever
	// is listening on it. Both are swapped out in tests.
	probe func(port int) bool
	kill  func(ctx context.Context, port int) error
}

// NewPortAllocator creates an allocator over [base, base+size).
func NewPortAllocator(base, size int, log *slog.Logger) *PortAllocator {
	if log == nil {
		log = slog.Default()
	}
	return &PortAllocator{
		base:  base,
		size:  size,
		inUse: make(map[int]bool),
		log:   log,
		probe: probePort,
		kill:  killListener,
	}
}

// probePort reports whether we can bind the port right now.
func probePort(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// killListener terminates processes listening on port, assuming they
// are stale helpers from a previous run.
func killListener(ctx context.Context, port int) error {
	cmd := exec.CommandContext(ctx, "lsof", "-ti", fmt.Sprintf("tcp:%d", port))
	out, err := cmd.Output()
	if err != nil {
		// lsof exits nonzero when nothing listens there.
		return nil
	}

	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid <= 0 {
			continue
		}
		var stderr bytes.Buffer
		killCmd := exec.CommandContext(ctx, "kill", strconv.Itoa(pid))
		killCmd.Stderr = &stderr
		if err := killCmd.Run(); err != nil {
			return fmt.Errorf("failed to kill pid %d on port %d: %s", pid, port, stderr.String())
		}
	}
	// Give the OS a moment to release the socket.
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Allocate returns the first free port in the range. If the base port
// is held by another process (not one of our allocations), that
// listener is terminated first so the preferred port stays usable.
func (a *PortAllocator) Allocate(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.inUse[a.base] && !a.probe(a.base) {
		a.log.Info("terminating stale listener on base port", "port", a.base)
		if err := a.kill(ctx, a.base); err != nil {
			a.log.Warn("could not reclaim base port", "port", a.base, "error", err)
		}
	}

	for port := a.base; port < a.base+a.size; port++ {
		if a.inUse[port] {
			continue
		}
		if !a.probe(port) {
			continue
		}
		a.inUse[port] = true
		return port, nil
	}

	return 0, mcperr.Newf(mcperr.ToolExecutionFailed,
		"no free helper port in range %d-%d", a.base, a.base+a.size-1).
		With("fault", string(mcperr.FaultPortConflict)).
		With("remediation", "shut down other automation helpers or raise HELPER_PORT_BASE")
}

// Release returns a port to the pool.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}

// InUse reports whether this process currently holds the port.
func (a *PortAllocator) InUse(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse[port]
}
