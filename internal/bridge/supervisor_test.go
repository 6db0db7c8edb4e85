package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simharness/internal/mcperr"
)

type staticLocator struct {
	path string
	err  error
}

func (l staticLocator) Locate(context.Context) (string, error) {
	return l.path, l.err
}

// sleepScript builds a do-nothing executable that stands in for the
// helper process. The actual socket service comes from serveSocket.
func sleepScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-helper")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755))
	return path
}

// serveSocket opens the helper socket shortly after start, emits the
// greeting, and echoes every command.
func serveSocket(t *testing.T, path string) {
	t.Helper()
	go func() {
		time.Sleep(150 * time.Millisecond)
		l, err := net.Listen("unix", path)
		if err != nil {
			return
		}
		t.Cleanup(func() { l.Close() })
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				fmt.Fprintf(conn, "%s\n", ReadyGreeting)
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					var cmd Command
					if json.Unmarshal(scanner.Bytes(), &cmd) != nil {
						continue
					}
					result, _ := json.Marshal(map[string]any{"ok": cmd.Type})
					resp, _ := json.Marshal(Response{ID: cmd.ID, Success: true, Result: result})
					conn.Write(append(resp, '\n'))
				}
			}(conn)
		}
	}()
}

func testSupervisorConfig() SupervisorConfig {
	cfg := DefaultSupervisorConfig()
	cfg.ConnectTimeout = 3 * time.Second
	cfg.PingInterval = time.Hour // keep the probe quiet during tests
	cfg.SpawnAttempts = 1
	return cfg
}

func TestSupervisorStartAndSend(t *testing.T) {
	socketPath := fmt.Sprintf("%s/sup-%d.sock", os.TempDir(), time.Now().UnixNano())
	t.Cleanup(func() { os.Remove(socketPath) })

	ports, _ := newFakeAllocator(10882, 10)
	sup := NewSupervisor("AAA-111", socketPath, ports, staticLocator{path: sleepScript(t)}, testSupervisorConfig(), nil)
	t.Cleanup(sup.Stop)

	serveSocket(t, socketPath)
	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, 10882, sup.Port())

	result, merr := sup.Send(context.Background(), Ping(), 5*time.Second)
	require.Nil(t, merr)
	assert.Contains(t, string(result), "ping")
	assert.Equal(t, StateReady, sup.Health().State)
}

func TestSupervisorStartTimesOutWithoutSocket(t *testing.T) {
	socketPath := fmt.Sprintf("%s/sup-miss-%d.sock", os.TempDir(), time.Now().UnixNano())

	cfg := testSupervisorConfig()
	cfg.ConnectTimeout = 500 * time.Millisecond

	ports, _ := newFakeAllocator(10882, 10)
	sup := NewSupervisor("AAA-111", socketPath, ports, staticLocator{path: sleepScript(t)}, cfg, nil)
	t.Cleanup(sup.Stop)

	err := sup.Start(context.Background())
	var me *mcperr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, mcperr.TimeoutError, me.Code)

	// The failed attempt must release its port.
	assert.False(t, ports.InUse(10882))
}

func TestSupervisorLocatorFailure(t *testing.T) {
	ports, _ := newFakeAllocator(10882, 10)
	sup := NewSupervisor("AAA-111", "/tmp/unused.sock", ports,
		staticLocator{err: errors.New("no helper anywhere")}, testSupervisorConfig(), nil)

	err := sup.Start(context.Background())
	var me *mcperr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, mcperr.ToolExecutionFailed, me.Code)
}

func TestSupervisorSendWhileStopped(t *testing.T) {
	ports, _ := newFakeAllocator(10882, 10)
	sup := NewSupervisor("AAA-111", "/tmp/unused.sock", ports, staticLocator{path: "/bin/true"}, testSupervisorConfig(), nil)

	_, merr := sup.Send(context.Background(), Ping(), time.Second)
	require.NotNil(t, merr)
	assert.Equal(t, mcperr.ToolExecutionFailed, merr.Code)
	assert.Equal(t, true, merr.Data["can_retry"])
}

func TestManagerReusesSupervisorPerDevice(t *testing.T) {
	ports, _ := newFakeAllocator(10882, 10)
	m := NewManager(ports, staticLocator{path: sleepScript(t)}, testSupervisorConfig(), nil)
	t.Cleanup(m.StopAll)

	serveSocket(t, SocketPath("DEV-1"))
	t.Cleanup(func() { os.Remove(SocketPath("DEV-1")) })

	sup1, err := m.Supervisor(context.Background(), "DEV-1")
	require.NoError(t, err)
	sup2, err := m.Supervisor(context.Background(), "DEV-1")
	require.NoError(t, err)
	assert.Same(t, sup1, sup2)
}
