package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"simharness/internal/mcperr"
)

func deviceManagementTool() mcp.Tool {
	return mcp.NewTool("device_management",
		mcp.WithDescription("Manage iOS simulators and connected devices: list, boot, shutdown, create, delete, refresh, health checks, and active-device selection"),
		mcp.WithString("action", mcp.Required(),
			mcp.Description("One of: list, refresh, boot, shutdown, create, delete, get_active, set_active, health, delete_unhealthy")),
		mcp.WithString("device_id", mcp.Description("Target device UDID (required for boot, shutdown, delete, set_active)")),
		mcp.WithString("name", mcp.Description("New simulator name (create)")),
		mcp.WithString("device_type", mcp.Description("Simulator device type identifier (create)")),
		mcp.WithString("runtime", mcp.Description("Simulator runtime identifier (create)")),
		mcp.WithBoolean("dry_run", mcp.Description("For delete_unhealthy: report targets without deleting")),
		mcp.WithNumber("timeout", mcp.Description("Boot timeout in seconds (default 60)")),
	)
}

func (r *Registry) handleDeviceManagement(ctx context.Context, req mcp.CallToolRequest) (any, *mcperr.Error) {
	action, merr := requireString(req, "action")
	if merr != nil {
		return nil, merr
	}

	switch action {
	case "list":
		return map[string]any{"devices": r.deps.Devices.List()}, nil

	case "refresh":
		devices, err := r.deps.Devices.Refresh(ctx)
		if err != nil {
			return nil, asToolError(err)
		}
		return map[string]any{"devices": devices}, nil

	case "boot":
		id, merr := requireString(req, "device_id")
		if merr != nil {
			return nil, merr
		}
		timeout := time.Duration(req.GetFloat("timeout", bootTimeout.Seconds())) * time.Second
		report, err := r.deps.Boot.WaitForBoot(ctx, id, timeout)
		if err != nil {
			return nil, asToolError(err)
		}
		return report, nil

	case "shutdown":
		id, merr := requireString(req, "device_id")
		if merr != nil {
			return nil, merr
		}
		if err := r.deps.Devices.Shutdown(ctx, id); err != nil {
			return nil, asToolError(err)
		}
		return statusLine("device %s shut down", id), nil

	case "create":
		name, merr := requireString(req, "name")
		if merr != nil {
			return nil, merr
		}
		deviceType, merr := requireString(req, "device_type")
		if merr != nil {
			return nil, merr
		}
		runtime, merr := requireString(req, "runtime")
		if merr != nil {
			return nil, merr
		}
		udid, err := r.deps.Devices.Create(ctx, name, deviceType, runtime)
		if err != nil {
			return nil, asToolError(err)
		}
		return map[string]any{"device_id": udid, "name": name}, nil

	case "delete":
		id, merr := requireString(req, "device_id")
		if merr != nil {
			return nil, merr
		}
		if err := r.deps.Devices.Delete(ctx, id); err != nil {
			return nil, asToolError(err)
		}
		return statusLine("device %s deleted", id), nil

	case "get_active":
		active, ok := r.deps.Devices.Active()
		if !ok {
			return map[string]any{"active": nil}, nil
		}
		return map[string]any{"active": active}, nil

	case "set_active":
		id, merr := requireString(req, "device_id")
		if merr != nil {
			return nil, merr
		}
		if err := r.deps.Devices.SetActive(id); err != nil {
			return nil, asToolError(err)
		}
		return statusLine("active device is now %s", id), nil

	case "health":
		reports, err := r.deps.Devices.CheckHealth(ctx)
		if err != nil {
			return nil, asToolError(err)
		}
		return map[string]any{"devices": reports}, nil

	case "delete_unhealthy":
		dryRun := req.GetBool("dry_run", false)
		targets, err := r.deps.Devices.DeleteUnhealthy(ctx, dryRun)
		if err != nil {
			return nil, asToolError(err)
		}
		return map[string]any{"deleted": targets, "dry_run": dryRun}, nil

	default:
		return nil, mcperr.Newf(mcperr.InvalidToolParams, "unknown device_management action: %s", action)
	}
}
