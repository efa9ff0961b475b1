package goals

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRegistry(t *testing.T) *Registry {
	t.Helper()
	r := Open(filepath.Join(t.TempDir(), "goal_registry.json"))
	nodes := []Node{
		{ID: "v1", Title: "Meaningful craft", Layer: LayerVision, State: StateActive},
		{ID: "obj1", Title: "Ship the book", Layer: LayerObjective, State: StateActive, ParentID: "v1"},
		{ID: "g_l2", Title: "Write chapters", Layer: LayerGoal, State: StateActive, ParentID: "obj1",
			GoalType: TierFlourishing, SubTasks: []SubTask{{ID: "t1"}, {ID: "t2"}}},
		{ID: "g_l1", Title: "Inbox zero", Layer: LayerGoal, State: StateActive,
			GoalType: TierSubstrate, SubTasks: []SubTask{{ID: "t3"}}},
		{ID: "g_orphan", Title: "Detached", Layer: LayerGoal, State: StateDraft},
	}
	for _, n := range nodes {
		require.NoError(t, r.Put(n))
	}
	return r
}

func TestRoundTripPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goal_registry.json")

	r := Open(path)
	require.NoError(t, r.Put(Node{ID: "v1", Title: "North star", Layer: LayerVision, State: StateActive}))

	reopened := Open(path)
	n, ok := reopened.Get("v1")
	require.True(t, ok)
	assert.Equal(t, "North star", n.Title)
	assert.Equal(t, 1, reopened.Len())
}

func TestOpenToleratesMissingAndCorruptFiles(t *testing.T) {
	assert.Equal(t, 0, Open(filepath.Join(t.TempDir(), "missing.json")).Len())

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{nodes: ["), 0o644))
	assert.Equal(t, 0, Open(path).Len())
}

func TestUnderVisionOrObjective(t *testing.T) {
	r := seedRegistry(t)

	assert.True(t, r.UnderVisionOrObjective("g_l2"))
	assert.True(t, r.UnderVisionOrObjective("obj1"))
	assert.False(t, r.UnderVisionOrObjective("g_orphan"))
	assert.False(t, r.UnderVisionOrObjective("nope"))
}

func TestUnderVisionOrObjectiveCycleGuard(t *testing.T) {
	r := Open(filepath.Join(t.TempDir(), "goal_registry.json"))
	require.NoError(t, r.Put(Node{ID: "a", Layer: LayerGoal, ParentID: "b"}))
	require.NoError(t, r.Put(Node{ID: "b", Layer: LayerGoal, ParentID: "a"}))

	assert.False(t, r.UnderVisionOrObjective("a"))
}

func TestTierMaps(t *testing.T) {
	r := seedRegistry(t)

	goalTier, taskGoal := r.TierMaps()
	assert.Equal(t, TierFlourishing, goalTier["g_l2"])
	assert.Equal(t, TierSubstrate, goalTier["g_l1"])
	assert.Equal(t, "g_l2", taskGoal["t1"])
	assert.Equal(t, "g_l2", taskGoal["t2"])
	assert.Equal(t, "g_l1", taskGoal["t3"])
	_, objectiveMapped := goalTier["obj1"]
	assert.False(t, objectiveMapped)
}

func TestByLayer(t *testing.T) {
	r := seedRegistry(t)
	assert.Len(t, r.ByLayer(LayerVision), 1)
	assert.Len(t, r.ByLayer(LayerGoal), 3)
}
