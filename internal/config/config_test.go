package config_test

import (
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dosco/nlsqld/internal/config"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	c, err := config.Load("", afero.NewMemMapFs())
	require.NoError(t, err)

	assert.Equal(t, "nlsqld", c.AppName)
	assert.Equal(t, "mysql", c.Database.Type)
	assert.Equal(t, 3, c.SQLPipeline.CorrectionMaxAttempts)
	assert.Equal(t, "0.0.0.0:8080", c.HostPort())
}

func TestLoadReadsYAMLOverlay(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg.yml", []byte("app_name: custom\nport: \"9090\"\n"), 0o644))

	c, err := config.Load("/cfg.yml", fs)
	require.NoError(t, err)

	assert.Equal(t, "custom", c.AppName)
	assert.Equal(t, "0.0.0.0:9090", c.HostPort())
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	_, err := config.Load("/does/not/exist.yml", afero.NewMemMapFs())
	require.NoError(t, err)
}

func TestEnvOverridesDefault(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	c, err := config.Load("", afero.NewMemMapFs())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", c.LLM.OpenAIModel)
}

func TestShouldUseJSONLogsRespectsExplicitFormat(t *testing.T) {
	c, err := config.Load("", afero.NewMemMapFs())
	require.NoError(t, err)

	c.Production = false
	c.LogFormat = "json"
	assert.True(t, c.ShouldUseJSONLogs())

	c.LogFormat = "simple"
	c.Production = true
	assert.False(t, c.ShouldUseJSONLogs())

	c.LogFormat = "auto"
	assert.True(t, c.ShouldUseJSONLogs())
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, config.SplitCSV(" a ,b,"))
	assert.Nil(t, config.SplitCSV(""))
}

func TestAbsolutePathJoinsArtifactsDir(t *testing.T) {
	c, err := config.Load("", afero.NewMemMapFs())
	require.NoError(t, err)
	c.ArtifactsDir = "/artifacts"
	assert.Equal(t, "/artifacts/x.json", c.AbsolutePath("x.json"))
	assert.Equal(t, string(os.PathSeparator)+"abs.json", c.AbsolutePath(string(os.PathSeparator)+"abs.json"))
}
