package pathfind_test

import (
	"testing"

	"github.com/dosco/nlsqld/internal/pathfind"
	"github.com/dosco/nlsqld/internal/sdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const graphJSON = `{
  "tables": [
    {"name": "employee", "columns": ["id"], "unique_columns": ["id"]},
    {"name": "workTime", "columns": ["id", "employeeId"], "unique_columns": ["id"]},
    {"name": "crew", "columns": ["id"], "unique_columns": ["id"]},
    {"name": "employeeCrew", "columns": ["id", "employeeId", "crewId"], "unique_columns": ["id"]},
    {"name": "isolated", "columns": ["id"], "unique_columns": ["id"]}
  ],
  "relationships": [
    {"from_table": "workTime", "from_column": "employeeId", "to_table": "employee", "to_column": "id",
     "type": "foreign_key", "confidence": 1.0, "cardinality": "N:1"},
    {"from_table": "employeeCrew", "from_column": "employeeId", "to_table": "employee", "to_column": "id",
     "type": "foreign_key", "confidence": 1.0, "cardinality": "N:1"},
    {"from_table": "employeeCrew", "from_column": "crewId", "to_table": "crew", "to_column": "id",
     "type": "foreign_key", "confidence": 1.0, "cardinality": "N:1"},
    {"from_table": "workTime", "from_column": "employeeId", "to_table": "crew", "to_column": "id",
     "type": "heuristic", "confidence": 0.2, "cardinality": "N:1"}
  ],
  "metadata": {}
}`

func graph(t *testing.T) *sdata.Graph {
	t.Helper()
	g, err := sdata.LoadBytes([]byte(graphJSON))
	require.NoError(t, err)
	return g
}

func TestDirectForeignKeyIsOneHop(t *testing.T) {
	g := graph(t)
	path, ok := pathfind.ShortestPath(g, "workTime", "employee", pathfind.DefaultOptions())
	require.True(t, ok)
	assert.Len(t, path, 1)
}

func TestLowConfidenceEdgeExcluded(t *testing.T) {
	g := graph(t)
	// workTime -> crew direct edge has confidence 0.2, below the 0.70
	// threshold, so the path must route through employee and employeeCrew
	// (3 hops).
	path, ok := pathfind.ShortestPath(g, "workTime", "crew", pathfind.DefaultOptions())
	require.True(t, ok)
	assert.Len(t, path, 3)
}

func TestNoPathWhenDisconnected(t *testing.T) {
	g := graph(t)
	_, ok := pathfind.ShortestPath(g, "employee", "isolated", pathfind.DefaultOptions())
	assert.False(t, ok)
}

func TestZeroHopsSameTableIsEmptyPath(t *testing.T) {
	g := graph(t)
	path, ok := pathfind.ShortestPath(g, "employee", "employee", pathfind.Options{MaxHops: 0, ConfidenceThreshold: 0.7})
	require.True(t, ok)
	assert.Empty(t, path)
}

func TestZeroHopsDifferentTablesIsNoPath(t *testing.T) {
	g := graph(t)
	_, ok := pathfind.ShortestPath(g, "employee", "crew", pathfind.Options{MaxHops: 0, ConfidenceThreshold: 0.7})
	assert.False(t, ok)
}

func TestDeterministicAcrossCalls(t *testing.T) {
	g := graph(t)
	p1, _ := pathfind.ShortestPath(g, "workTime", "crew", pathfind.DefaultOptions())
	p2, _ := pathfind.ShortestPath(g, "workTime", "crew", pathfind.DefaultOptions())
	assert.Equal(t, p1, p2)
}

func TestHopCapPrunesFrontier(t *testing.T) {
	g := graph(t)
	opts := pathfind.DefaultOptions()
	opts.MaxHops = 1
	_, ok := pathfind.ShortestPath(g, "workTime", "crew", opts)
	assert.False(t, ok, "crew is only reachable from workTime in 3 hops above the confidence threshold")
}

func TestExpandUnionsPairwisePaths(t *testing.T) {
	g := graph(t)
	rels := pathfind.Expand(g, []string{"workTime", "employee", "crew"}, pathfind.DefaultOptions())
	assert.NotEmpty(t, rels)
}

func TestCacheReturnsSameResult(t *testing.T) {
	g := graph(t)
	c, err := pathfind.NewCache(16)
	require.NoError(t, err)

	p1, ok1 := c.ShortestPath(g, "workTime", "employee", pathfind.DefaultOptions())
	p2, ok2 := c.ShortestPath(g, "workTime", "employee", pathfind.DefaultOptions())
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, p1, p2)
}
