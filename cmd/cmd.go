// Package cmd implements the nlsqld CLI: serve starts the HTTP service,
// schema validate/path are operator utilities over the same artifacts
// the service loads at boot.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/kardianos/osext"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dosco/nlsqld/internal/config"
	"github.com/dosco/nlsqld/internal/logging"
)

var (
	version string
	commit  string
)

var cpath string

// Cmd is the entry point for the CLI.
func Cmd() {
	cobra.EnableCommandSorting = false

	root := &cobra.Command{
		Use:   "nlsqld",
		Short: "Natural-language-to-SQL query agent",
	}
	root.PersistentFlags().StringVar(&cpath, "path", "./config.yml", "path to the service config file")

	root.AddCommand(serveCmd())
	root.AddCommand(schemaCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			if version == "" {
				version = "dev"
			}
			cmd.Println(version, commit)
		},
	}
}

// loadConfig reads the service config from cpath, falling back to an
// on-disk default relative to the running binary when no config file is
// present at all, the way the teacher's setup() auto-creates one on
// first run.
func loadConfig() (*config.Config, error) {
	path := cpath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if exeDir, dirErr := osext.ExecutableFolder(); dirErr == nil {
			path = filepath.Join(exeDir, filepath.Base(cpath))
		}
	}
	return config.Load(path, afero.NewOsFs())
}

func newLogger(cfg *config.Config) *zap.Logger {
	return logging.ForLevel(logging.New(cfg.ShouldUseJSONLogs()), cfg.LogLevel).Named(cfg.AppName)
}
