package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"simharness/internal/bridge"
	"simharness/internal/mcperr"
)

func screenCaptureTool() mcp.Tool {
	return mcp.NewTool("screen_capture",
		mcp.WithDescription("Capture the device screen. Returns base64 PNG bytes with dimensions, or writes to output_path when given"),
		mcp.WithString("device_id", mcp.Description("Device UDID (defaults to the active device)")),
		mcp.WithString("output_path", mcp.Description("Write the image here instead of returning bytes")),
	)
}

func (r *Registry) handleScreenCapture(ctx context.Context, req mcp.CallToolRequest) (any, *mcperr.Error) {
	dev, merr := r.resolveDevice(req)
	if merr != nil {
		return nil, merr
	}

	sup, err := r.deps.Bridges.Supervisor(ctx, dev.ID)
	if err != nil {
		return nil, asToolError(err)
	}

	raw, merr := sup.Send(ctx, bridge.Screenshot(), screenshotTimeout)
	if merr != nil {
		return nil, merr
	}

	var shot bridge.ScreenshotResult
	if err := json.Unmarshal(raw, &shot); err != nil {
		return nil, mcperr.Newf(mcperr.ToolExecutionFailed, "helper returned an unreadable screenshot payload: %v", err)
	}

	outputPath := req.GetString("output_path", "")
	if outputPath == "" {
		return map[string]any{
			"device_id": dev.ID,
			"data":      shot.Data,
			"width":     shot.Width,
			"height":    shot.Height,
			"format":    shot.Format,
		}, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(shot.Data)
	if err != nil {
		return nil, mcperr.Newf(mcperr.ToolExecutionFailed, "screenshot payload is not valid base64: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, mcperr.Newf(mcperr.ToolExecutionFailed, "failed to create output directory: %v", err)
	}
	if err := os.WriteFile(outputPath, decoded, 0o644); err != nil {
		return nil, mcperr.Newf(mcperr.ToolExecutionFailed, "failed to write screenshot: %v", err)
	}

	return map[string]any{
		"device_id": dev.ID,
		"path":      outputPath,
		"width":     shot.Width,
		"height":    shot.Height,
		"format":    shot.Format,
	}, nil
}
