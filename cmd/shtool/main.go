// shtool inspects, disassembles and runs SH shape files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/colorfulnotion/openfa/config"
	log "github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/sh"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
)

// Flags shared by every command.
var (
	configPath string
	logLevel   string
	debug      string
	noColor    bool

	cfg *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "shtool",
		Short:         "Inspect and run SH shape files",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configPath != "" {
				cfg, err = config.Load(configPath)
			} else {
				cfg, err = config.FindAndLoad(".")
			}
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.InitLogging(os.Stderr); err != nil {
				return err
			}
			log.EnableModules(debug)
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: "+config.FileName+" in . or a parent)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma-separated log modules to trace, or \"all\"")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")

	rootCmd.AddCommand(
		newDumpCmd(),
		newDisasmCmd(),
		newDiffCmd(),
		newFixtureCmd(),
		newRunCmd(),
		newExploreCmd(),
		newScanCmd(),
		newStatsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shtool: %v\n", err)
		os.Exit(1)
	}
}

// loadShape reads a shape from disk. A shape that failed to decode part way
// is returned together with the error.
func loadShape(path string) (*sh.Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := sh.FromBytes(data)
	if err != nil {
		log.Debug(log.ToolModule, "decode failed", "file", path, "err", err)
	}
	return s, err
}

func shapeName(path string) string { return filepath.Base(path) }

func color() bool {
	if noColor {
		return false
	}
	st, err := os.Stdout.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}
