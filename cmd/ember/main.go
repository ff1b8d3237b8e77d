// Ember CLI - runs, builds and serves ember scripts
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	"github.com/chazu/ember/manifest"
	"github.com/chazu/ember/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("ember.cli")

func main() {
	var verbose int

	root := &cobra.Command{
		Use:   "ember",
		Short: "Ember scripting runtime",
		Long: `Ember runs scripts of a small dynamic language in a fixed-size heap.

Without a file argument, commands use the entry script of the nearest
ember.toml.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			commonlog.Configure(verbose, nil)
		},
	}
	root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "log more (repeat for debug output)")

	root.AddCommand(
		newRunCmd(),
		newBuildCmd(),
		newDisasmCmd(),
		newReplCmd(),
		newServeCmd(),
		newLspCmd(),
		newRemoteCmd(),
		newCacheCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// project resolves the manifest and entry script for a command. With a
// file argument the nearest ember.toml above it supplies the settings, or
// defaults when there is none. Without one an ember.toml must exist.
func project(args []string) (*manifest.Manifest, string, error) {
	if len(args) > 0 {
		file, err := filepath.Abs(args[0])
		if err != nil {
			return nil, "", err
		}
		m, err := manifest.FindAndLoad(filepath.Dir(file))
		if err != nil {
			return nil, "", err
		}
		if m == nil {
			m = manifest.Default(filepath.Dir(file))
		}
		return m, file, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, "", err
	}
	if m == nil {
		return nil, "", fmt.Errorf("no %s found and no script given", manifest.FileName)
	}
	return m, m.EntryPath(), nil
}

// envConfig returns the manifest's environment settings with the core
// natives writing to stdout.
func envConfig(m *manifest.Manifest) vm.Config {
	cfg := m.EnvConfig()
	cfg.Natives = vm.CoreNatives(os.Stdout)
	return cfg
}
