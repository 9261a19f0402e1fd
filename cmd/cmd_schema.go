package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dosco/nlsqld/internal/pathfind"
	"github.com/dosco/nlsqld/internal/sdata"
)

func schemaCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and validate the service's schema artifacts",
	}
	c.AddCommand(schemaValidateCmd())
	c.AddCommand(schemaPathCmd())
	return c
}

func schemaValidateCmd() *cobra.Command {
	var artifactsDir string
	c := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the join graph, domain ontology, and display attributes artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if artifactsDir != "" {
				cfg.ArtifactsDir = artifactsDir
			}

			g, err := loadGraph(cfg)
			if err != nil {
				return err
			}
			cmd.Printf("join graph: %d tables, %d relationships\n", len(g.TableNames()), len(g.AllRelationships()))

			if cfg.Domain.ExtractionEnabled {
				registry, err := loadOntology(cfg, g)
				if err != nil {
					return err
				}
				cmd.Printf("domain ontology: %d terms\n", len(registry.Terms()))
			}

			if _, err := loadDisplay(cfg, g); err != nil {
				return err
			}
			cmd.Println("display attributes: ok")

			cmd.Println("all artifacts valid")
			return nil
		},
	}
	c.Flags().StringVar(&artifactsDir, "artifacts", "", "override the config's artifacts directory")
	return c
}

func schemaPathCmd() *cobra.Command {
	var maxHops int
	c := &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Print the shortest join path between two tables",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			g, err := loadGraph(cfg)
			if err != nil {
				return err
			}

			opts := pathfind.DefaultOptions()
			if maxHops > 0 {
				opts.MaxHops = maxHops
			}

			path, ok := pathfind.ShortestPath(g, args[0], args[1], opts)
			if !ok {
				return fmt.Errorf("no path between %q and %q within %d hops", args[0], args[1], opts.MaxHops)
			}
			printPath(cmd, args[0], path)
			return nil
		},
	}
	c.Flags().IntVar(&maxHops, "max-hops", 0, "override the default hop cap")
	return c
}

func printPath(cmd *cobra.Command, from string, path []sdata.Relationship) {
	cur := from
	for i, rel := range path {
		next := rel.Other(cur)
		cmd.Printf("%d. %s.%s -> %s.%s (confidence %s)\n",
			i+1, rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn, strconv.FormatFloat(rel.Confidence, 'f', 2, 64))
		cur = next
	}
}
