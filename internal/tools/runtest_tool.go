package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"simharness/internal/mcperr"
	"simharness/internal/runner"
)

func runTestTool() mcp.Tool {
	return mcp.NewTool("run_test",
		mcp.WithDescription("Run a named test through the host test runner and report pass/fail with captured output"),
		mcp.WithString("test_name", mcp.Required(),
			mcp.Description("Test identifier, e.g. SuiteName/ClassName/testMethod")),
		mcp.WithString("device_id", mcp.Description("Device UDID (defaults to the active device)")),
		mcp.WithNumber("timeout", mcp.Description("Timeout in seconds (default 300, max 3600)")),
	)
}

func (r *Registry) handleRunTest(ctx context.Context, req mcp.CallToolRequest) (any, *mcperr.Error) {
	testName, merr := requireString(req, "test_name")
	if merr != nil {
		return nil, merr
	}
	// Reject bad identifiers before touching any device state.
	if merr := runner.ValidateTestName(testName); merr != nil {
		return nil, merr
	}

	dev, merr := r.resolveDevice(req)
	if merr != nil {
		return nil, merr
	}

	timeout := time.Duration(req.GetFloat("timeout", 0) * float64(time.Second))
	result, merr := r.deps.Runner.Run(ctx, dev.ID, testName, timeout)
	if merr != nil {
		return nil, merr
	}
	return result, nil
}
