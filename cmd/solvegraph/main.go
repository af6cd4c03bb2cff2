// Command solvegraph solves competitive programming problems with a
// checkpointed draft, retrieve, solve and evaluate graph.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/solvegraph/internal/config"
	"github.com/dshills/solvegraph/internal/logging"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logJSON    bool
	noColor    bool
	trace      bool

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "solvegraph",
		Short:         "Resumable LLM solver for competitive programming problems",
		Version:       fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to TOML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "Emit JSON logs")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&g.trace, "trace", false, "Export engine spans with the stdout exporter")

	root.AddCommand(
		newSolveCmd(g),
		newResumeCmd(g),
		newHistoryCmd(g),
		newThreadsCmd(g),
		newServeCmd(g),
	)
	return root
}

// load reads the configuration and applies flag overrides.
func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = g.logJSON
	}
	if flags.Changed("no-color") {
		cfg.Log.NoColor = g.noColor
	}
	if g.trace {
		cfg.Trace.Exporter = "stdout"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Log.NoColor {
		color.NoColor = true
	}

	logger, err := logging.New(os.Stderr, logging.Options{
		Level:   cfg.Log.Level,
		JSON:    cfg.Log.JSON,
		NoColor: cfg.Log.NoColor,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	g.cfg = cfg
	g.logger = logger
	return nil
}
