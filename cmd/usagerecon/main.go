package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagerecon/internal/config"
	"github.com/janekbaraniewski/usagerecon/internal/logging"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var g globalFlags

	run := newRunCommand(&g)
	root := &cobra.Command{
		Use:   "usagerecon",
		Short: "usagerecon reconciles Copilot activity summaries against per-day usage exports.",
		Long: "usagerecon checks every active user in a summary activity report against the detailed " +
			"usage export and reports users whose activity the export does not corroborate.\n\n" +
			"Without a subcommand it behaves like 'usagerecon run'.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         run.RunE,
	}
	root.Flags().AddFlagSet(run.Flags())

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (JSON, or YAML by extension); default "+config.ConfigPath())
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(run)
	root.AddCommand(newConfigCommand(&g))
	root.AddCommand(newVersionCommand())
	return root
}

// loadConfig reads the config file named by --config, or the default path.
func (g *globalFlags) loadConfig() (config.Config, error) {
	if g.configPath == "" {
		return config.Load()
	}
	if _, err := os.Stat(g.configPath); err != nil {
		return config.DefaultConfig(), fmt.Errorf("config file: %w", err)
	}
	return config.LoadFrom(g.configPath)
}

func (g *globalFlags) logger(cfg config.Config) (*zap.Logger, error) {
	lc := cfg.Log
	if g.logLevel != "" {
		lc.Level = g.logLevel
	}
	if g.logFormat != "" {
		lc.Format = g.logFormat
	}
	lc.Debug = logging.DebugFromEnv()
	return logging.New(lc)
}
