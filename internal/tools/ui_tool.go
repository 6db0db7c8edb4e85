package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"simharness/internal/bridge"
	"simharness/internal/mcperr"
)

func uiInteractionTool() mcp.Tool {
	return mcp.NewTool("ui_interaction",
		mcp.WithDescription("Drive the UI of the active (or named) device: tap by coordinates, text, or accessibility id; swipe; scroll; long-press; type text"),
		mcp.WithString("action", mcp.Required(),
			mcp.Description("One of: tap, tap_text, tap_accessibility_id, swipe, type_text, scroll, long_press")),
		mcp.WithString("device_id", mcp.Description("Device UDID (defaults to the active device)")),
		mcp.WithNumber("x", mcp.Description("X coordinate (tap, long_press)")),
		mcp.WithNumber("y", mcp.Description("Y coordinate (tap, long_press)")),
		mcp.WithString("text", mcp.Description("Visible text to tap, or text to type")),
		mcp.WithString("accessibility_id", mcp.Description("Accessibility identifier to tap")),
		mcp.WithNumber("x1", mcp.Description("Swipe start X")),
		mcp.WithNumber("y1", mcp.Description("Swipe start Y")),
		mcp.WithNumber("x2", mcp.Description("Swipe end X")),
		mcp.WithNumber("y2", mcp.Description("Swipe end Y")),
		mcp.WithNumber("duration", mcp.Description("Gesture duration in seconds")),
		mcp.WithBoolean("clear_first", mcp.Description("Clear the field before typing (type_text)")),
		mcp.WithString("direction", mcp.Description("Scroll direction: up, down, left, right")),
		mcp.WithNumber("amount", mcp.Description("Scroll amount (scroll)")),
		mcp.WithNumber("timeout", mcp.Description("Overall call timeout in seconds; doubles as the element wait for tap_text and tap_accessibility_id")),
	)
}

// buildUICommand translates tool arguments into a helper command.
func buildUICommand(action string, req mcp.CallToolRequest) (bridge.Command, *mcperr.Error) {
	switch action {
	case "tap":
		return bridge.Tap(req.GetFloat("x", 0), req.GetFloat("y", 0)), nil

	case "tap_text":
		text, merr := requireString(req, "text")
		if merr != nil {
			return bridge.Command{}, merr
		}
		return bridge.TapText(text, req.GetFloat("timeout", 0)), nil

	case "tap_accessibility_id":
		id, merr := requireString(req, "accessibility_id")
		if merr != nil {
			return bridge.Command{}, merr
		}
		return bridge.TapAccessibilityID(id, req.GetFloat("timeout", 0)), nil

	case "swipe":
		return bridge.Swipe(
			req.GetFloat("x1", 0), req.GetFloat("y1", 0),
			req.GetFloat("x2", 0), req.GetFloat("y2", 0),
			req.GetFloat("duration", 0)), nil

	case "type_text":
		text, merr := requireString(req, "text")
		if merr != nil {
			return bridge.Command{}, merr
		}
		return bridge.TypeText(text, req.GetBool("clear_first", false)), nil

	case "scroll":
		return bridge.Scroll(req.GetString("direction", "down"), req.GetFloat("amount", 0)), nil

	case "long_press":
		return bridge.LongPress(req.GetFloat("x", 0), req.GetFloat("y", 0), req.GetFloat("duration", 0)), nil

	default:
		return bridge.Command{}, mcperr.Newf(mcperr.InvalidToolParams, "unknown ui_interaction action: %s", action)
	}
}

// uiDeadline picks the send deadline for one gesture. An explicit
// positive timeout argument bounds the whole call; otherwise
// element-waiting gestures get room beyond the base tap deadline.
func uiDeadline(req mcp.CallToolRequest, cmd bridge.Command) time.Duration {
	if v := req.GetFloat("timeout", 0); v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	deadline := uiTimeout
	if cmd.Parameters != nil {
		if v, ok := cmd.Parameters["timeout"].(float64); ok && v > 0 {
			deadline += time.Duration(v * float64(time.Second))
		}
	}
	return deadline
}

func (r *Registry) handleUIInteraction(ctx context.Context, req mcp.CallToolRequest) (any, *mcperr.Error) {
	action, merr := requireString(req, "action")
	if merr != nil {
		return nil, merr
	}

	cmd, merr := buildUICommand(action, req)
	if merr != nil {
		return nil, merr
	}

	dev, merr := r.resolveDevice(req)
	if merr != nil {
		return nil, merr
	}
	if dev.IsPhysical {
		return nil, mcperr.New(mcperr.ValidationError, "UI automation requires a simulator").
			With("device_id", dev.ID)
	}

	sup, err := r.deps.Bridges.Supervisor(ctx, dev.ID)
	if err != nil {
		return nil, asToolError(err)
	}

	raw, merr := sup.Send(ctx, cmd, uiDeadline(req, cmd))
	if merr != nil {
		return nil, merr
	}

	result := map[string]any{"action": action, "device_id": dev.ID}
	if len(raw) > 0 {
		var decoded any
		if json.Unmarshal(raw, &decoded) == nil {
			result["result"] = decoded
		}
	}
	return result, nil
}
