// Package goals holds the Vision / Objective / Goal tree used to judge
// whether execution stays aligned with long-horizon direction.
package goals

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Layers of the tree, top to bottom.
const (
	LayerVision    = "vision"
	LayerObjective = "objective"
	LayerGoal      = "goal"
)

// Goal tiers. L1 keeps the substrate running; L2 is flourishing work
// that deserves protected deep-work blocks.
const (
	TierSubstrate   = "L1_SUBSTRATE"
	TierFlourishing = "L2_FLOURISHING"
)

// Node states.
const (
	StateDraft               = "draft"
	StateActive              = "active"
	StatePendingConfirmation = "vision_pending_confirmation"
	StateCompleted           = "completed"
	StateArchived            = "archived"
	StateBlocked             = "blocked"
)

// SubTask is a decomposed step attached to a goal node.
type SubTask struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Node is one entry in the tree.
type Node struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Layer       string `json:"layer"`
	State       string `json:"state"`
	Source      string `json:"source,omitempty"`

	ParentID    string   `json:"parent_id,omitempty"`
	ChildrenIDs []string `json:"children_ids,omitempty"`

	// GoalType is TierSubstrate or TierFlourishing for goal-layer nodes.
	GoalType string    `json:"goal_type,omitempty"`
	SubTasks []SubTask `json:"sub_tasks,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Deadline  string `json:"deadline,omitempty"`

	SuccessCount int `json:"success_count,omitempty"`
	SkipCount    int `json:"skip_count,omitempty"`
}

// Registry is an in-memory node store with JSON persistence.
type Registry struct {
	mu    sync.RWMutex
	path  string
	nodes map[string]Node
}

type registryFile struct {
	Nodes []Node `json:"nodes"`
}

// Open loads the registry at path. A missing or unreadable file yields
// an empty registry; alignment analysis degrades to "no data" rather
// than failing the caller.
func Open(path string) *Registry {
	r := &Registry{path: path, nodes: map[string]Node{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		return r
	}
	var f registryFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return r
	}
	for _, n := range f.Nodes {
		if n.ID != "" {
			r.nodes[n.ID] = n
		}
	}
	return r
}

// Save writes the registry back to its path.
func (r *Registry) Save() error {
	r.mu.RLock()
	nodes := r.sortedLocked()
	r.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("registry dir: %w", err)
	}
	body, err := json.MarshalIndent(registryFile{Nodes: nodes}, "", "  ")
	if err != nil {
		return fmt.Errorf("registry encode: %w", err)
	}
	if err := os.WriteFile(r.path, body, 0o644); err != nil {
		return fmt.Errorf("registry write: %w", err)
	}
	return nil
}

// Put inserts or replaces a node and persists.
func (r *Registry) Put(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("registry put: node without id")
	}
	r.mu.Lock()
	r.nodes[n.ID] = n
	r.mu.Unlock()
	return r.Save()
}

// Get returns the node and whether it exists.
func (r *Registry) Get(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// ByLayer returns all nodes on the given layer, ordered by id.
func (r *Registry) ByLayer(layer string) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Node
	for _, n := range r.sortedLocked() {
		if n.Layer == layer {
			out = append(out, n)
		}
	}
	return out
}

// UnderVisionOrObjective walks the parent chain from id and reports
// whether it reaches a vision or objective node. A broken or cyclic
// chain reports false.
func (r *Registry) UnderVisionOrObjective(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{}
	cur, ok := r.nodes[id]
	for ok {
		if cur.Layer == LayerVision || cur.Layer == LayerObjective {
			return true
		}
		if cur.ParentID == "" || seen[cur.ID] {
			return false
		}
		seen[cur.ID] = true
		cur, ok = r.nodes[cur.ParentID]
	}
	return false
}

// TierMaps derives the lookup tables the analyzer needs: goal id to
// tier, and task id to owning goal id (from sub_tasks).
func (r *Registry) TierMaps() (goalTier map[string]string, taskGoal map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	goalTier = map[string]string{}
	taskGoal = map[string]string{}
	for _, n := range r.nodes {
		if n.Layer != LayerGoal {
			continue
		}
		if n.GoalType != "" {
			goalTier[n.ID] = n.GoalType
		}
		for _, st := range n.SubTasks {
			if st.ID != "" {
				taskGoal[st.ID] = n.ID
			}
		}
	}
	return goalTier, taskGoal
}

func (r *Registry) sortedLocked() []Node {
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
