// Package tools declares the server's tool catalog and adapts tool
// calls onto the device, bridge, state, and runner subsystems.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"simharness/internal/bridge"
	"simharness/internal/device"
	"simharness/internal/mcperr"
	"simharness/internal/runner"
	"simharness/internal/state"
)

// Handler executes one tool call and returns a JSON-serializable
// result.
type Handler func(ctx context.Context, req mcp.CallToolRequest) (any, *mcperr.Error)

// DeviceCatalog is the device-registry surface tools depend on.
type DeviceCatalog interface {
	List() []device.Device
	Refresh(ctx context.Context) ([]device.Device, error)
	Resolve(id string) (device.Device, *mcperr.Error)
	Active() (device.Device, bool)
	SetActive(id string) error
	Shutdown(ctx context.Context, id string) error
	Create(ctx context.Context, name, deviceType, runtime string) (string, error)
	Delete(ctx context.Context, id string) error
	CheckHealth(ctx context.Context) ([]device.Health, error)
	DeleteUnhealthy(ctx context.Context, dryRun bool) ([]string, error)
}

// BridgeSender issues one framed command to a device's helper.
type BridgeSender interface {
	Send(ctx context.Context, cmd bridge.Command, timeout time.Duration) ([]byte, *mcperr.Error)
}

// BridgeProvider returns the sender for a device, starting its helper
// if needed.
type BridgeProvider interface {
	Supervisor(ctx context.Context, deviceID string) (BridgeSender, error)
}

// BridgeManager adapts the concrete helper manager to the provider
// seam.
func BridgeManager(m *bridge.Manager) BridgeProvider {
	return managerProvider{m}
}

type managerProvider struct{ m *bridge.Manager }

func (p managerProvider) Supervisor(ctx context.Context, deviceID string) (BridgeSender, error) {
	return p.m.Supervisor(ctx, deviceID)
}

// Deps carries the subsystems tools delegate to.
type Deps struct {
	Devices   DeviceCatalog
	Boot      *device.BootMonitor
	Bridges   BridgeProvider
	Store     *state.Store
	Snapshots *state.Snapshots
	Runner    *runner.Runner
	Log       *slog.Logger
}

// Per-tool deadline defaults.
const (
	uiTimeout         = 5 * time.Second
	screenshotTimeout = 10 * time.Second
	bootTimeout       = 60 * time.Second
	deviceTimeout     = 30 * time.Second
)

// Registry holds the immutable tool catalog built at server init.
type Registry struct {
	deps     Deps
	order    []mcp.Tool
	handlers map[string]Handler
	timeouts map[string]time.Duration
}

// NewRegistry builds the full catalog.
func NewRegistry(deps Deps) *Registry {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	r := &Registry{
		deps:     deps,
		handlers: make(map[string]Handler),
		timeouts: make(map[string]time.Duration),
	}

	// Boot applies its own per-call deadline; the dispatch deadline just
	// has to stay above it.
	r.register(deviceManagementTool(), r.handleDeviceManagement, 10*time.Minute)
	r.register(uiInteractionTool(), r.handleUIInteraction, 30*time.Second)
	r.register(screenCaptureTool(), r.handleScreenCapture, screenshotTimeout)
	r.register(snapshotTool(), r.handleSnapshot, deviceTimeout)
	r.register(queryStateTool(), r.handleQueryState, deviceTimeout)
	r.register(mutateStateTool(), r.handleMutateState, deviceTimeout)
	r.register(runTestTool(), r.handleRunTest, runner.MaxTimeout)

	return r
}

func (r *Registry) register(tool mcp.Tool, handler Handler, timeout time.Duration) {
	r.order = append(r.order, tool)
	r.handlers[tool.Name] = handler
	r.timeouts[tool.Name] = timeout
}

// Schemas returns the catalog in registration order. Listing the
// catalog never executes anything.
func (r *Registry) Schemas() []mcp.Tool {
	out := make([]mcp.Tool, len(r.order))
	copy(out, r.order)
	return out
}

// Call dispatches one tool invocation under the tool's deadline.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, *mcperr.Error) {
	handler, ok := r.handlers[name]
	if !ok {
		return "", mcperr.Newf(mcperr.ToolNotFound, "Tool not found: %s", name).
			With("tool", name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeouts[name])
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	start := time.Now()
	result, merr := handler(ctx, req)
	if merr != nil {
		r.deps.Log.Warn("tool call failed", "tool", name, "code", int(merr.Code), "error", merr.Message)
		return "", merr
	}
	r.deps.Log.Debug("tool call succeeded", "tool", name, "elapsed", time.Since(start))

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", mcperr.Newf(mcperr.InternalError, "failed to encode %s result: %v", name, err)
	}
	return string(text), nil
}

// requireString returns a named string argument or INVALID_TOOL_PARAMS.
func requireString(req mcp.CallToolRequest, key string) (string, *mcperr.Error) {
	v := req.GetString(key, "")
	if v == "" {
		return "", mcperr.Newf(mcperr.InvalidToolParams, "%s requires a %q string parameter", req.Params.Name, key)
	}
	return v, nil
}

// resolveDevice picks the explicit device_id or falls back to the
// active device.
func (r *Registry) resolveDevice(req mcp.CallToolRequest) (device.Device, *mcperr.Error) {
	return r.deps.Devices.Resolve(req.GetString("device_id", ""))
}

// asToolError coerces subsystem errors into taxonomy errors.
func asToolError(err error) *mcperr.Error {
	if err == nil {
		return nil
	}
	return mcperr.From(err, mcperr.ToolExecutionFailed)
}

// statusLine is the uniform shape for side-effect-only results.
func statusLine(format string, args ...any) map[string]any {
	return map[string]any{"status": fmt.Sprintf(format, args...)}
}
