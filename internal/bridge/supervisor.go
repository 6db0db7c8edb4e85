package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"simharness/internal/mcperr"
)

// Locator finds (or builds) a helper binary to launch.
type Locator interface {
	Locate(ctx context.Context) (string, error)
}

// SupervisorConfig tunes a supervisor.
type SupervisorConfig struct {
	ConnectTimeout time.Duration // per spawn attempt
	PingInterval   time.Duration
	MaxFailures    int64 // consecutive probe failures before recovery
	SpawnAttempts  int
}

// DefaultSupervisorConfig returns the stock tuning.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ConnectTimeout: 30 * time.Second,
		PingInterval:   5 * time.Second,
		MaxFailures:    3,
		SpawnAttempts:  3,
	}
}

// Supervisor keeps one helper process alive for one device. It owns
// the helper lifecycle; callers only see Send.
type Supervisor struct {
	deviceID   string
	socketPath string
	cfg        SupervisorConfig
	ports      *PortAllocator
	locator    Locator
	log        *slog.Logger

	mu      sync.Mutex
	session *Session
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	port    int
	running bool

	stopProbe chan struct{}
}

// NewSupervisor creates a supervisor for deviceID. socketPath is the
// per-PID Unix socket the helper will serve on.
func NewSupervisor(deviceID, socketPath string, ports *PortAllocator, locator Locator, cfg SupervisorConfig, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		deviceID:   deviceID,
		socketPath: socketPath,
		cfg:        cfg,
		ports:      ports,
		locator:    locator,
		log:        log.With("device", deviceID),
	}
}

// Start locates the helper, spawns it, and connects. Failed attempts
// retry on the next port up to the attempt budget.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	binary, err := s.locator.Locate(ctx)
	if err != nil {
		return mcperr.From(err, mcperr.ToolExecutionFailed)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.SpawnAttempts; attempt++ {
		if err := s.spawnLocked(ctx, binary); err != nil {
			lastErr = err
			s.log.Warn("helper spawn attempt failed", "attempt", attempt, "error", err)
			s.teardownLocked()
			continue
		}
		s.running = true
		s.stopProbe = make(chan struct{})
		go s.probeLoop(s.stopProbe)
		s.log.Info("helper ready", "port", s.port, "socket", s.socketPath)
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no spawn attempts were made")
	}
	return mcperr.From(lastErr, mcperr.ToolExecutionFailed)
}

// spawnLocked launches the helper once and waits for it to accept on
// the socket. Callers hold s.mu.
func (s *Supervisor) spawnLocked(ctx context.Context, binary string) error {
	port, err := s.ports.Allocate(ctx)
	if err != nil {
		return err
	}
	s.port = port

	os.Remove(s.socketPath)

	s.stderr = &bytes.Buffer{}
	cmd := exec.Command(binary,
		"--device", s.deviceID,
		"--port", strconv.Itoa(port),
		"--socket", s.socketPath)
	cmd.Stderr = s.stderr
	if err := cmd.Start(); err != nil {
		s.ports.Release(port)
		return mcperr.ClassifyBridge(err.Error())
	}
	s.cmd = cmd

	if err := s.waitReady(ctx); err != nil {
		return err
	}

	session := NewSession(s.socketPath, s.log)
	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := session.Connect(connectCtx); err != nil {
		return err
	}
	s.session = session
	return nil
}

// waitReady polls until the helper accepts a connection on its socket.
func (s *Supervisor) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.ConnectTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return mcperr.Newf(mcperr.TimeoutError, "helper startup cancelled for device %s", s.deviceID)
		}
		conn, err := net.Dial("unix", s.socketPath)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	diag := s.stderr.String()
	if diag != "" {
		return mcperr.ClassifyBridge(diag)
	}
	return mcperr.Newf(mcperr.TimeoutError, "helper for device %s did not accept within %s", s.deviceID, s.cfg.ConnectTimeout).
		Retryable(true)
}

// probeLoop pings the helper at a low duty cycle and triggers recovery
// after the failure budget is exhausted.
func (s *Supervisor) probeLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		session := s.session
		s.mu.Unlock()
		if session == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PingInterval)
		err := session.Ping(ctx, s.cfg.PingInterval)
		cancel()
		if err != nil {
			s.log.Warn("helper probe failed", "consecutive", session.ConsecutiveFailures(), "error", err)
		}

		if session.ConsecutiveFailures() >= s.cfg.MaxFailures {
			s.log.Error("helper unhealthy, recovering", "failures", session.ConsecutiveFailures())
			if err := s.Recover(context.Background()); err != nil {
				s.log.Error("helper recovery failed", "error", err)
				return
			}
		}
	}
}

// Recover tears the helper down and starts it again on a fresh port.
func (s *Supervisor) Recover(ctx context.Context) error {
	s.mu.Lock()
	if s.stopProbe != nil {
		close(s.stopProbe)
		s.stopProbe = nil
	}
	s.teardownLocked()
	s.running = false
	s.mu.Unlock()

	return s.Start(ctx)
}

// teardownLocked kills the process, wipes socket state, and releases
// the port. Callers hold s.mu.
func (s *Supervisor) teardownLocked() {
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	os.Remove(s.socketPath)
	if s.port != 0 {
		s.ports.Release(s.port)
		s.port = 0
	}
}

// Stop shuts the helper down for good.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopProbe != nil {
		close(s.stopProbe)
		s.stopProbe = nil
	}
	s.teardownLocked()
	s.running = false
}

// Send forwards a command to the helper session.
func (s *Supervisor) Send(ctx context.Context, cmd Command, timeout time.Duration) ([]byte, *mcperr.Error) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return nil, mcperr.New(mcperr.ToolExecutionFailed, "helper is not running for this device").
			With("device_id", s.deviceID).
			Retryable(true)
	}
	return session.Send(ctx, cmd, timeout)
}

// Health reports the live session health, or a disconnected snapshot.
func (s *Supervisor) Health() Health {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return Health{State: StateDisconnected}
	}
	return session.Health()
}

// Port returns the helper's allocated port, 0 when not running.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}
