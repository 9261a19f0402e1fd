package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dosco/nlsqld/internal/config"
)

func TestWatchArtifactReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "join_graph_merged.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	var reloads int32
	stop, err := config.WatchArtifact(path, zap.NewNop().Sugar(), func() error {
		atomic.AddInt32(&reloads, 1)
		return nil
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"changed":true}`), 0o644))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&reloads) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchArtifactErrorsOnMissingPath(t *testing.T) {
	_, err := config.WatchArtifact(filepath.Join(t.TempDir(), "nope.json"), zap.NewNop().Sugar(), func() error { return nil })
	require.Error(t, err)
}
