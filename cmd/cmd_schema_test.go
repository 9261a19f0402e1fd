package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validJoinGraph = `{
  "tables": [
    {"name": "employee", "columns": ["id", "firstName"], "unique_columns": ["id"]},
    {"name": "workTime", "columns": ["id", "employeeId"], "unique_columns": ["id"]}
  ],
  "relationships": [
    {"from_table": "workTime", "from_column": "employeeId", "to_table": "employee", "to_column": "id",
     "type": "foreign_key", "confidence": 1.0, "cardinality": "N:1"}
  ],
  "metadata": {}
}`

// writeTestConfig builds a temp artifacts directory and config file, sets
// the package-level cpath to it, and restores cpath on test cleanup.
func writeTestConfig(t *testing.T, withJoinGraph, withDisplay bool) {
	t.Helper()
	dir := t.TempDir()

	if withJoinGraph {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "join_graph_merged.json"), []byte(validJoinGraph), 0o644))
	}
	if withDisplay {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "display_attributes_registry.json"), []byte("{}"), 0o644))
	}

	configYAML := "artifacts_dir: " + dir + "\ndomain:\n  extraction_enabled: false\n"
	configPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0o644))

	old := cpath
	cpath = configPath
	t.Cleanup(func() { cpath = old })
}

func TestSchemaValidateSucceedsWithValidArtifacts(t *testing.T) {
	writeTestConfig(t, true, true)

	c := schemaValidateCmd()
	c.SetArgs(nil)
	err := c.RunE(c, nil)
	require.NoError(t, err)
}

func TestSchemaValidateFailsWithMissingJoinGraph(t *testing.T) {
	writeTestConfig(t, false, true)

	c := schemaValidateCmd()
	err := c.RunE(c, nil)
	assert.Error(t, err)
}

func TestSchemaValidateFailsWithMissingDisplayArtifact(t *testing.T) {
	writeTestConfig(t, true, false)

	c := schemaValidateCmd()
	err := c.RunE(c, nil)
	assert.Error(t, err)
}

func TestSchemaPathFindsDirectForeignKey(t *testing.T) {
	writeTestConfig(t, true, true)

	c := schemaPathCmd()
	err := c.RunE(c, []string{"workTime", "employee"})
	require.NoError(t, err)
}

func TestSchemaPathFailsWhenUnreachable(t *testing.T) {
	dir := t.TempDir()
	disconnected := `{
  "tables": [
    {"name": "a", "columns": ["id"], "unique_columns": ["id"]},
    {"name": "b", "columns": ["id"], "unique_columns": ["id"]}
  ],
  "relationships": [],
  "metadata": {}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "join_graph_merged.json"), []byte(disconnected), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "display_attributes_registry.json"), []byte("{}"), 0o644))
	configPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("artifacts_dir: "+dir+"\ndomain:\n  extraction_enabled: false\n"), 0o644))
	old := cpath
	cpath = configPath
	t.Cleanup(func() { cpath = old })

	c := schemaPathCmd()
	err := c.RunE(c, []string{"a", "b"})
	assert.Error(t, err)
}
