package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simharness/internal/mcperr"
	"simharness/internal/state"
)

// newStateRegistry builds a registry wired with real state but no
// device, bridge, or runner backends. State, snapshot, and validation
// paths never reach those.
func newStateRegistry() *Registry {
	return NewRegistry(Deps{
		Store:     state.NewStore(),
		Snapshots: state.NewSnapshots(),
	})
}

func call(t *testing.T, r *Registry, name string, args map[string]any) map[string]any {
	t.Helper()
	text, merr := r.Call(context.Background(), name, args)
	require.Nil(t, merr, "tool %s: %v", name, merr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	return decoded
}

func callErr(t *testing.T, r *Registry, name string, args map[string]any) *mcperr.Error {
	t.Helper()
	_, merr := r.Call(context.Background(), name, args)
	require.NotNil(t, merr, "expected %s to fail", name)
	return merr
}

func TestCatalogIsCompleteAndOrdered(t *testing.T) {
	r := newStateRegistry()
	schemas := r.Schemas()

	var names []string
	for _, tool := range schemas {
		assert.NotEmpty(t, tool.Description, "tool %s has no description", tool.Name)
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{
		"device_management", "ui_interaction", "screen_capture",
		"snapshot", "query_state", "mutate_state", "run_test",
	}, names)

	// Listing twice yields the same catalog.
	assert.Equal(t, schemas, r.Schemas())
}

func TestCallUnknownTool(t *testing.T) {
	merr := callErr(t, newStateRegistry(), "no_such_tool", map[string]any{})
	assert.Equal(t, mcperr.ToolNotFound, merr.Code)
	assert.Contains(t, merr.Message, "Tool not found")
}

func TestQueryMutateRoundTrip(t *testing.T) {
	r := newStateRegistry()

	result := call(t, r, "mutate_state", map[string]any{
		"entity": "user",
		"action": "set",
		"data":   map[string]any{"name": "alice", "logged_in": false},
	})
	assert.Equal(t, "user", result["entity"])

	result = call(t, r, "query_state", map[string]any{"entity": "user"})
	value := result["value"].(map[string]any)
	assert.Equal(t, "alice", value["name"])

	// Merge a field, then confirm both old and new fields survive.
	call(t, r, "mutate_state", map[string]any{
		"entity": "user",
		"action": "update",
		"data":   map[string]any{"logged_in": true},
	})
	result = call(t, r, "query_state", map[string]any{"entity": "user"})
	value = result["value"].(map[string]any)
	assert.Equal(t, "alice", value["name"])
	assert.Equal(t, true, value["logged_in"])
}

func TestQueryStateFilter(t *testing.T) {
	r := newStateRegistry()
	call(t, r, "mutate_state", map[string]any{
		"entity": "a", "action": "set", "data": map[string]any{"kind": "x"},
	})
	call(t, r, "mutate_state", map[string]any{
		"entity": "b", "action": "set", "data": map[string]any{"kind": "y"},
	})

	result := call(t, r, "query_state", map[string]any{
		"filter": map[string]any{"kind": "x"},
	})
	entities := result["entities"].(map[string]any)
	assert.Len(t, entities, 1)
	assert.Contains(t, entities, "a")
}

func TestMutateStateDeleteMissingEntity(t *testing.T) {
	merr := callErr(t, newStateRegistry(), "mutate_state", map[string]any{
		"entity": "ghost", "action": "delete",
	})
	assert.Equal(t, mcperr.ResourceNotFound, merr.Code)
}

func TestMutateStateRejectsUnknownAction(t *testing.T) {
	merr := callErr(t, newStateRegistry(), "mutate_state", map[string]any{
		"entity": "x", "action": "upsert", "data": map[string]any{},
	})
	assert.Equal(t, mcperr.InvalidToolParams, merr.Code)
}

func TestSnapshotCreateRestoreFlow(t *testing.T) {
	r := newStateRegistry()
	call(t, r, "mutate_state", map[string]any{
		"entity": "counter", "action": "set", "data": map[string]any{"n": float64(1)},
	})
	call(t, r, "snapshot", map[string]any{"action": "create", "name": "before"})

	call(t, r, "mutate_state", map[string]any{
		"entity": "counter", "action": "set", "data": map[string]any{"n": float64(99)},
	})
	call(t, r, "snapshot", map[string]any{"action": "restore", "name": "before"})

	result := call(t, r, "query_state", map[string]any{"entity": "counter"})
	value := result["value"].(map[string]any)
	assert.Equal(t, float64(1), value["n"])
}

func TestSnapshotBranchTagFind(t *testing.T) {
	r := newStateRegistry()

	branched := call(t, r, "snapshot", map[string]any{
		"action": "branch", "name": "login-flow", "payload": "state-blob",
	})
	id := branched["id"].(string)
	assert.Equal(t, id, branched["head"])

	call(t, r, "snapshot", map[string]any{"action": "tag", "id": id, "tag": "stable"})

	found := call(t, r, "snapshot", map[string]any{"action": "find_by_tag", "tag": "stable"})
	nodes := found["nodes"].([]any)
	require.Len(t, nodes, 1)
	assert.Equal(t, id, nodes[0].(map[string]any)["id"])

	history := call(t, r, "snapshot", map[string]any{"action": "history"})
	chain := history["history"].([]any)
	require.Len(t, chain, 2) // root plus the branch
	assert.Equal(t, id, chain[1].(map[string]any)["id"])
}

func TestSnapshotRestoreUnknown(t *testing.T) {
	merr := callErr(t, newStateRegistry(), "snapshot", map[string]any{
		"action": "restore", "name": "never-created",
	})
	assert.Equal(t, mcperr.ResourceNotFound, merr.Code)
}

func TestRunTestValidatesNameFirst(t *testing.T) {
	merr := callErr(t, newStateRegistry(), "run_test", map[string]any{
		"test_name": "../../etc/passwd",
	})
	assert.Equal(t, mcperr.ValidationError, merr.Code)
}

func TestMissingRequiredParam(t *testing.T) {
	merr := callErr(t, newStateRegistry(), "snapshot", map[string]any{})
	assert.Equal(t, mcperr.InvalidToolParams, merr.Code)
	assert.Contains(t, merr.Message, "action")
}
