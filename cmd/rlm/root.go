package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/rlm/internal/config"
	"github.com/martinemde/rlm/internal/logging"
	"github.com/martinemde/rlm/rlm"
	"github.com/martinemde/rlm/unifiedllm"
)

// app holds state shared by every subcommand once the root pre-run has
// loaded configuration.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger

	// newClient is replaced in tests.
	newClient func(config.ModelConfig, *zap.Logger) (*unifiedllm.Client, error)
}

func newRootCmd() *cobra.Command {
	return (&app{newClient: newModelClient}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rlm",
		Short: "Recursive Language Model runtime",
		Long: `rlm answers questions about very large contexts. The context is loaded
into a sandboxed REPL that the model drives with code, so it never has to fit
in the model's window.

Use "rlm serve" for an OpenAI-compatible HTTP API, "rlm mcp" for an MCP
server on stdio, or "rlm query" for a one-off question.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if a.verbose {
				cfg.Logging.Verbose = true
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file (or set RLM_CONFIG)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging and show each iteration")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newMCPCmd(a))
	root.AddCommand(newQueryCmd(a))
	return root
}

// registry builds the model client and the engine registry from config.
func (a *app) registry() (*rlm.Registry, error) {
	client, err := a.newClient(a.cfg.Model, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	return rlm.NewRegistry(client, a.cfg.Engine(), rlm.WithLogger(a.logger)), nil
}
