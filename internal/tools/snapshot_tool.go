package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"simharness/internal/mcperr"
)

func snapshotTool() mcp.Tool {
	return mcp.NewTool("snapshot",
		mcp.WithDescription("Manage test-state snapshots: named store snapshots (create/restore/list/delete) and the branchable snapshot graph (branch/checkout/merge/tag/find_by_tag/history)"),
		mcp.WithString("action", mcp.Required(),
			mcp.Description("One of: create, restore, list, delete, branch, checkout, merge, tag, find_by_tag, history")),
		mcp.WithString("name", mcp.Description("Snapshot name (create, restore, delete, branch)")),
		mcp.WithString("id", mcp.Description("Snapshot node id (checkout, tag, history)")),
		mcp.WithString("source_id", mcp.Description("Merge source node id")),
		mcp.WithString("target_id", mcp.Description("Merge target node id")),
		mcp.WithString("tag", mcp.Description("Tag value (tag, find_by_tag)")),
		mcp.WithString("payload", mcp.Description("Opaque payload stored on a new branch node")),
	)
}

func (r *Registry) handleSnapshot(ctx context.Context, req mcp.CallToolRequest) (any, *mcperr.Error) {
	action, merr := requireString(req, "action")
	if merr != nil {
		return nil, merr
	}

	switch action {
	case "create":
		name, merr := requireString(req, "name")
		if merr != nil {
			return nil, merr
		}
		r.deps.Store.CreateSnapshot(name)
		return statusLine("snapshot %q created", name), nil

	case "restore":
		name, merr := requireString(req, "name")
		if merr != nil {
			return nil, merr
		}
		if err := r.deps.Store.RestoreSnapshot(name); err != nil {
			return nil, asToolError(err)
		}
		return statusLine("snapshot %q restored", name), nil

	case "list":
		return map[string]any{
			"store_snapshots": r.deps.Store.ListSnapshots(),
			"graph_nodes":     r.deps.Snapshots.List(),
			"head":            r.deps.Snapshots.Head(),
		}, nil

	case "delete":
		name, merr := requireString(req, "name")
		if merr != nil {
			return nil, merr
		}
		if !r.deps.Store.DeleteSnapshot(name) {
			return nil, mcperr.Newf(mcperr.ResourceNotFound, "snapshot not found: %s", name)
		}
		return statusLine("snapshot %q deleted", name), nil

	case "branch":
		name, merr := requireString(req, "name")
		if merr != nil {
			return nil, merr
		}
		id := r.deps.Snapshots.CreateBranch(name, []byte(req.GetString("payload", "")))
		return map[string]any{"id": id, "name": name, "head": r.deps.Snapshots.Head()}, nil

	case "checkout":
		id, merr := requireString(req, "id")
		if merr != nil {
			return nil, merr
		}
		if err := r.deps.Snapshots.Checkout(id); err != nil {
			return nil, asToolError(err)
		}
		return statusLine("head moved to %s", id), nil

	case "merge":
		source, merr := requireString(req, "source_id")
		if merr != nil {
			return nil, merr
		}
		target, merr := requireString(req, "target_id")
		if merr != nil {
			return nil, merr
		}
		mergeID, err := r.deps.Snapshots.Merge(source, target)
		if err != nil {
			return nil, asToolError(err)
		}
		return map[string]any{"id": mergeID, "source_id": source, "target_id": target}, nil

	case "tag":
		id, merr := requireString(req, "id")
		if merr != nil {
			return nil, merr
		}
		tag, merr := requireString(req, "tag")
		if merr != nil {
			return nil, merr
		}
		if err := r.deps.Snapshots.Tag(id, tag); err != nil {
			return nil, asToolError(err)
		}
		return statusLine("node %s tagged %q", id, tag), nil

	case "find_by_tag":
		tag, merr := requireString(req, "tag")
		if merr != nil {
			return nil, merr
		}
		return map[string]any{"nodes": r.deps.Snapshots.FindByTag(tag)}, nil

	case "history":
		id := req.GetString("id", "")
		if id == "" {
			id = r.deps.Snapshots.Head()
		}
		nodes, err := r.deps.Snapshots.History(id)
		if err != nil {
			return nil, asToolError(err)
		}
		return map[string]any{"history": nodes}, nil

	default:
		return nil, mcperr.Newf(mcperr.InvalidToolParams, "unknown snapshot action: %s", action)
	}
}
