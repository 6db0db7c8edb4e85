package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"simharness/internal/mcperr"
)

// Node is one snapshot in the branch tree. Nodes are append-only: once
// created they are never deleted and ids are never reused.
type Node struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	Children  []string  `json:"children"`
	Payload   []byte    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Tags      []string  `json:"tags"`
}

func (n *Node) clone() Node {
	out := *n
	out.Children = append([]string(nil), n.Children...)
	out.Tags = append([]string(nil), n.Tags...)
	// Payload bytes are shared by reference; nodes are append-only so the
	// slice is never mutated after creation.
	return out
}

// Snapshots is the rooted tree of branch nodes. The head is the node new
// branches are created under.
type Snapshots struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	head  string
	root  string
}

// NewSnapshots creates a tree containing only the root node.
func NewSnapshots() *Snapshots {
	rootID := uuid.NewString()
	root := &Node{
		ID:        rootID,
		Name:      "root",
		Timestamp: time.Now().UTC(),
		Tags:      []string{"root"},
	}
	return &Snapshots{
		nodes: map[string]*Node{rootID: root},
		head:  rootID,
		root:  rootID,
	}
}

// Root returns the root node id.
func (t *Snapshots) Root() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Head returns the current head node id.
func (t *Snapshots) Head() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.head
}

// CreateBranch appends a child under the current head and moves the head to
// the new node. The new node id is returned.
func (t *Snapshots) CreateBranch(name string, payload []byte) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	node := &Node{
		ID:        id,
		Name:      name,
		ParentID:  t.head,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	t.nodes[t.head].Children = append(t.nodes[t.head].Children, id)
	t.nodes[id] = node
	t.head = id
	return id
}

// Checkout repositions the head on an existing node.
func (t *Snapshots) Checkout(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[id]; !ok {
		return mcperr.Newf(mcperr.ResourceNotFound, "snapshot %q not found", id)
	}
	t.head = id
	return nil
}

// Merge records a new node under target whose payload is the merge of source
// into target. The merge policy is "target wins": structural merging of
// payloads is deliberately not attempted.
func (t *Snapshots) Merge(sourceID, targetID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[sourceID]; !ok {
		return "", mcperr.Newf(mcperr.ResourceNotFound, "source snapshot %q not found", sourceID)
	}
	target, ok := t.nodes[targetID]
	if !ok {
		return "", mcperr.Newf(mcperr.ResourceNotFound, "target snapshot %q not found", targetID)
	}

	id := uuid.NewString()
	node := &Node{
		ID:        id,
		Name:      fmt.Sprintf("merge_%d", time.Now().Unix()),
		ParentID:  targetID,
		Payload:   target.Payload,
		Timestamp: time.Now().UTC(),
		Tags:      []string{"merge"},
	}
	target.Children = append(target.Children, id)
	t.nodes[id] = node
	return id, nil
}

// Tag adds tag to the node's tag set. Tagging twice is a no-op.
func (t *Snapshots) Tag(id, tag string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[id]
	if !ok {
		return mcperr.Newf(mcperr.ResourceNotFound, "snapshot %q not found", id)
	}
	for _, existing := range node.Tags {
		if existing == tag {
			return nil
		}
	}
	node.Tags = append(node.Tags, tag)
	return nil
}

// FindByTag returns all nodes carrying tag, ordered by timestamp.
func (t *Snapshots) FindByTag(tag string) []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Node
	for _, node := range t.nodes {
		for _, existing := range node.Tags {
			if existing == tag {
				out = append(out, node.clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Get returns a copy of the node with the given id.
func (t *Snapshots) Get(id string) (Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return Node{}, mcperr.Newf(mcperr.ResourceNotFound, "snapshot %q not found", id)
	}
	return node.clone(), nil
}

// History returns the ancestry of id ordered from the root to id.
func (t *Snapshots) History(id string) ([]Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.nodes[id]; !ok {
		return nil, mcperr.Newf(mcperr.ResourceNotFound, "snapshot %q not found", id)
	}

	var chain []Node
	for current := id; current != ""; {
		node := t.nodes[current]
		chain = append(chain, node.clone())
		current = node.ParentID
	}
	// Walked leaf→root; callers want root→leaf.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// List returns every node in the tree, ordered by timestamp.
func (t *Snapshots) List() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Node, 0, len(t.nodes))
	for _, node := range t.nodes {
		out = append(out, node.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
