package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"simharness/internal/mcperr"
)

// SessionState is the connection lifecycle state.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateReady        SessionState = "ready"
	StateDegraded     SessionState = "degraded"
)

// Health is a snapshot of per-session request metrics.
type Health struct {
	Attempts            int64         `json:"attempts"`
	Successes           int64         `json:"successes"`
	ConsecutiveFailures int64         `json:"consecutive_failures"`
	AvgLatency          time.Duration `json:"avg_latency_ns"`
	LastError           string        `json:"last_error,omitempty"`
	State               SessionState  `json:"state"`
}

// Session is one live connection to a helper. Commands may be
// pipelined; responses are matched to waiters by id.
type Session struct {
	socketPath string
	log        *slog.Logger

	mu    sync.Mutex
	conn  net.Conn
	state SessionState

	nextID  atomic.Int64
	pending map[int64]chan Response

	attempts     atomic.Int64
	successes    atomic.Int64
	consecFails  atomic.Int64
	totalLatency atomic.Int64 // nanoseconds over successful requests
	lastErr      atomic.Value // string

	done chan struct{}
}

// NewSession creates a session for socketPath. It does not connect.
func NewSession(socketPath string, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		socketPath: socketPath,
		log:        log,
		state:      StateDisconnected,
		pending:    make(map[int64]chan Response),
		done:       make(chan struct{}),
	}
}

// Connect dials the helper socket and waits for the ready greeting.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	s.state = StateConnecting

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		s.state = StateDisconnected
		return mcperr.ClassifyBridge(err.Error())
	}

	reader := bufio.NewReader(conn)
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	greeting, err := reader.ReadString('\n')
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		s.state = StateDisconnected
		return mcperr.Newf(mcperr.ToolExecutionFailed, "helper closed the socket before greeting: %v", err)
	}
	if !strings.Contains(greeting, ReadyGreeting) {
		conn.Close()
		s.state = StateDisconnected
		return mcperr.Newf(mcperr.ToolExecutionFailed, "unexpected helper greeting: %q", strings.TrimSpace(greeting))
	}

	s.conn = conn
	s.state = StateReady
	go s.readLoop(reader)
	return nil
}

// readLoop dispatches response lines to waiters. Responses whose id
// has no waiter (timed out or cancelled) are discarded.
func (s *Session) readLoop(reader *bufio.Reader) {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			s.mu.Lock()
			if s.conn != nil {
				s.state = StateDegraded
			}
			s.mu.Unlock()
			s.failAllPending("connection lost: " + err.Error())
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			s.log.Warn("unparseable helper response", "line", line, "error", err)
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()

		if !ok {
			s.log.Debug("discarding late or unknown response", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

func (s *Session) failAllPending(reason string) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]chan Response)
	s.mu.Unlock()

	for id, ch := range pending {
		ch <- Response{ID: id, Success: false, Error: reason}
	}
}

// Send writes cmd and waits for its response within timeout. The
// command id is assigned here. On timeout the waiter is removed so a
// late response is discarded by the read loop.
func (s *Session) Send(ctx context.Context, cmd Command, timeout time.Duration) (json.RawMessage, *mcperr.Error) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil, mcperr.New(mcperr.ToolExecutionFailed, "helper session is not connected").Retryable(true)
	}

	cmd.ID = s.nextID.Add(1)
	ch := make(chan Response, 1)
	s.pending[cmd.ID] = ch

	payload, err := json.Marshal(cmd)
	if err != nil {
		delete(s.pending, cmd.ID)
		s.mu.Unlock()
		return nil, mcperr.Newf(mcperr.InternalError, "failed to encode command: %v", err)
	}
	_, err = s.conn.Write(append(payload, '\n'))
	if err != nil {
		delete(s.pending, cmd.ID)
		s.state = StateDegraded
		s.mu.Unlock()
		s.recordFailure(err.Error())
		return nil, mcperr.ClassifyBridge(err.Error())
	}
	s.mu.Unlock()

	start := time.Now()
	s.attempts.Add(1)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if !resp.Success {
			s.recordFailure(resp.Error)
			return nil, mcperr.ClassifyBridge(resp.Error)
		}
		s.recordSuccess(time.Since(start))
		return resp.Result, nil

	case <-timer.C:
		s.removeWaiter(cmd.ID)
		s.recordFailure("timeout")
		return nil, mcperr.Newf(mcperr.TimeoutError, "%s command timed out after %s", cmd.Type, timeout).
			With("command", cmd.Type).
			Retryable(true)

	case <-ctx.Done():
		s.removeWaiter(cmd.ID)
		return nil, mcperr.Newf(mcperr.TimeoutError, "%s command cancelled", cmd.Type).
			With("command", cmd.Type)
	}
}

func (s *Session) removeWaiter(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) recordSuccess(latency time.Duration) {
	s.successes.Add(1)
	s.consecFails.Store(0)
	s.totalLatency.Add(int64(latency))
	s.mu.Lock()
	if s.state == StateDegraded && s.conn != nil {
		s.state = StateReady
	}
	s.mu.Unlock()
}

func (s *Session) recordFailure(reason string) {
	s.consecFails.Add(1)
	s.lastErr.Store(reason)
}

// ConsecutiveFailures returns the current failure streak.
func (s *Session) ConsecutiveFailures() int64 {
	return s.consecFails.Load()
}

// Health returns a snapshot of the session metrics.
func (s *Session) Health() Health {
	h := Health{
		Attempts:            s.attempts.Load(),
		Successes:           s.successes.Load(),
		ConsecutiveFailures: s.consecFails.Load(),
	}
	if h.Successes > 0 {
		h.AvgLatency = time.Duration(s.totalLatency.Load() / h.Successes)
	}
	if v := s.lastErr.Load(); v != nil {
		h.LastError = v.(string)
	}
	s.mu.Lock()
	h.State = s.state
	s.mu.Unlock()
	return h
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the connection down and fails any waiters.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	s.failAllPending("session closed")
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// SocketPath returns the socket this session talks to.
func (s *Session) SocketPath() string {
	return s.socketPath
}

// Ping issues a trivial command to verify the helper is responsive.
func (s *Session) Ping(ctx context.Context, timeout time.Duration) error {
	if _, err := s.Send(ctx, Ping(), timeout); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
