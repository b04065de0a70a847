//go:build !test

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/topo/internal/config"
)

type rootFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "topo",
		Short:         "Design virtual lab networks and compile them into KubeVirt manifests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "registry database path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format (console, json)")

	root.AddCommand(
		newServeCommand(flags),
		newExportCommand(flags),
		newCompileCommand(flags),
	)
	return root
}

// load reads the config file when one is given and applies flag overrides.
func (f *rootFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	if f.configPath != "" {
		loaded, err := config.LoadFromPath(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = f.dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
