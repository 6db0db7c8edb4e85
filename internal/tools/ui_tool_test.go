package tools

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simharness/internal/bridge"
	"simharness/internal/device"
	"simharness/internal/mcperr"
	"simharness/internal/state"
)

// fakeCatalog serves a fixed device list without touching the host.
type fakeCatalog struct {
	devices map[string]device.Device
	active  string
}

func newFakeCatalog(devs ...device.Device) *fakeCatalog {
	c := &fakeCatalog{devices: make(map[string]device.Device)}
	for _, d := range devs {
		c.devices[d.ID] = d
	}
	return c
}

func (c *fakeCatalog) List() []device.Device {
	out := make([]device.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	return out
}

func (c *fakeCatalog) Refresh(context.Context) ([]device.Device, error) { return c.List(), nil }

func (c *fakeCatalog) Resolve(id string) (device.Device, *mcperr.Error) {
	if id == "" {
		id = c.active
	}
	d, ok := c.devices[id]
	if !ok {
		return device.Device{}, mcperr.Newf(mcperr.ResourceNotFound, "device not found: %s", id).
			With("device_id", id)
	}
	return d, nil
}

func (c *fakeCatalog) Active() (device.Device, bool) {
	d, ok := c.devices[c.active]
	return d, ok
}

func (c *fakeCatalog) SetActive(id string) error              { c.active = id; return nil }
func (c *fakeCatalog) Shutdown(context.Context, string) error { return nil }
func (c *fakeCatalog) Delete(context.Context, string) error   { return nil }

func (c *fakeCatalog) CheckHealth(context.Context) ([]device.Health, error) {
	return nil, nil
}

func (c *fakeCatalog) Create(context.Context, string, string, string) (string, error) {
	return "", nil
}

func (c *fakeCatalog) DeleteUnhealthy(context.Context, bool) ([]string, error) {
	return nil, nil
}

// silentBridge accepts every command and lets the deadline lapse, like
// a helper that stopped answering.
type silentBridge struct {
	gotTimeout time.Duration
}

func (b *silentBridge) Supervisor(context.Context, string) (BridgeSender, error) {
	return b, nil
}

func (b *silentBridge) Send(ctx context.Context, cmd bridge.Command, timeout time.Duration) ([]byte, *mcperr.Error) {
	b.gotTimeout = timeout
	select {
	case <-time.After(timeout):
		return nil, mcperr.Newf(mcperr.TimeoutError, "command %s timed out after %s", cmd.Type, timeout).
			Retryable(true)
	case <-ctx.Done():
		return nil, mcperr.New(mcperr.TimeoutError, "command cancelled").Retryable(true)
	}
}

func newUIRegistry(sender *silentBridge) *Registry {
	catalog := newFakeCatalog(device.Device{
		ID: "AAA-111", Name: "iPhone 15", State: device.StateBooted, Available: true,
	})
	catalog.active = "AAA-111"
	return NewRegistry(Deps{
		Devices:   catalog,
		Bridges:   sender,
		Store:     state.NewStore(),
		Snapshots: state.NewSnapshots(),
	})
}

func uiReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "ui_interaction"
	req.Params.Arguments = args
	return req
}

func TestUIDeadlineHonorsExplicitTimeout(t *testing.T) {
	req := uiReq(map[string]any{"action": "tap", "x": 10.0, "y": 10.0, "timeout": 1.0})
	cmd, merr := buildUICommand("tap", req)
	require.Nil(t, merr)
	assert.Equal(t, time.Second, uiDeadline(req, cmd))

	// Without an explicit timeout the base deadline applies.
	req = uiReq(map[string]any{"action": "tap", "x": 10.0, "y": 10.0})
	cmd, merr = buildUICommand("tap", req)
	require.Nil(t, merr)
	assert.Equal(t, uiTimeout, uiDeadline(req, cmd))
}

func TestUIInteractionTimeoutBoundsTheCall(t *testing.T) {
	sender := &silentBridge{}
	r := newUIRegistry(sender)

	start := time.Now()
	merr := callErr(t, r, "ui_interaction", map[string]any{
		"action": "tap", "x": 10.0, "y": 10.0, "timeout": 1.0,
	})
	elapsed := time.Since(start)

	assert.Equal(t, mcperr.TimeoutError, merr.Code)
	assert.Equal(t, time.Second, sender.gotTimeout)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, true, merr.Data["can_retry"])

	// The server keeps answering after a helper timeout.
	result := call(t, r, "mutate_state", map[string]any{
		"entity": "session", "action": "set", "data": map[string]any{"ok": true},
	})
	assert.Equal(t, "session", result["entity"])
}

func TestUIInteractionUnknownDevice(t *testing.T) {
	r := newUIRegistry(&silentBridge{})
	merr := callErr(t, r, "ui_interaction", map[string]any{
		"action": "tap", "x": 10.0, "y": 10.0, "device_id": "does-not-exist",
	})
	assert.Equal(t, mcperr.ResourceNotFound, merr.Code)
	assert.Equal(t, "does-not-exist", merr.Data["device_id"])
}
