package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"simharness/internal/mcperr"
)

func queryStateTool() mcp.Tool {
	return mcp.NewTool("query_state",
		mcp.WithDescription("Read test-session state: fetch one entity by name or filter all entities by attribute equality"),
		mcp.WithString("entity", mcp.Description("Entity name to fetch directly")),
		mcp.WithObject("filter", mcp.Description("Attribute equality filter applied to all entities")),
	)
}

func mutateStateTool() mcp.Tool {
	return mcp.NewTool("mutate_state",
		mcp.WithDescription("Write test-session state: set, merge into, or delete a named entity"),
		mcp.WithString("entity", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithString("action", mcp.Required(), mcp.Description("One of: set, update, delete")),
		mcp.WithObject("data", mcp.Description("Value to store (set) or fields to merge (update)")),
	)
}

func (r *Registry) handleQueryState(_ context.Context, req mcp.CallToolRequest) (any, *mcperr.Error) {
	if entity := req.GetString("entity", ""); entity != "" {
		value, ok := r.deps.Store.Get(entity)
		if !ok {
			return nil, mcperr.Newf(mcperr.ResourceNotFound, "entity not found: %s", entity).
				With("entity", entity)
		}
		return map[string]any{"entity": entity, "value": value}, nil
	}

	args := req.GetArguments()
	filter, _ := args["filter"].(map[string]any)
	return map[string]any{"entities": r.deps.Store.Query(filter)}, nil
}

// mergeUpdate is the update policy for mutate_state: object values are
// merged field by field, anything else is replaced.
func mergeUpdate(current any, _ string, patch any) (any, error) {
	currentObj, cok := current.(map[string]any)
	patchObj, pok := patch.(map[string]any)
	if !cok || !pok {
		return patch, nil
	}
	merged := make(map[string]any, len(currentObj)+len(patchObj))
	for k, v := range currentObj {
		merged[k] = v
	}
	for k, v := range patchObj {
		merged[k] = v
	}
	return merged, nil
}

func (r *Registry) handleMutateState(_ context.Context, req mcp.CallToolRequest) (any, *mcperr.Error) {
	entity, merr := requireString(req, "entity")
	if merr != nil {
		return nil, merr
	}
	action, merr := requireString(req, "action")
	if merr != nil {
		return nil, merr
	}

	args := req.GetArguments()
	data := args["data"]

	switch action {
	case "set":
		if data == nil {
			return nil, mcperr.New(mcperr.InvalidToolParams, "set requires a data parameter")
		}
		r.deps.Store.Set(entity, data)
		return map[string]any{"entity": entity, "value": data}, nil

	case "update":
		if data == nil {
			return nil, mcperr.New(mcperr.InvalidToolParams, "update requires a data parameter")
		}
		next, err := r.deps.Store.Update(entity, action, data, mergeUpdate)
		if err != nil {
			return nil, asToolError(err)
		}
		return map[string]any{"entity": entity, "value": next}, nil

	case "delete":
		if !r.deps.Store.Delete(entity) {
			return nil, mcperr.Newf(mcperr.ResourceNotFound, "entity not found: %s", entity).
				With("entity", entity)
		}
		return statusLine("entity %q deleted", entity), nil

	default:
		return nil, mcperr.Newf(mcperr.InvalidToolParams, "unknown mutate_state action: %s", action)
	}
}
