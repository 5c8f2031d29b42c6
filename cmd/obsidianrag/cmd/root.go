// Package cmd provides the CLI commands for obsidianrag.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/obsidianrag/obsidianrag/internal/config"
	"github.com/obsidianrag/obsidianrag/pkg/version"
)

// Root flags — the CLI's only consumed surface (spec.md §6.4): vault
// path, bind port, model name, reranker on/off.
var (
	vaultPath   string
	bindPort    int
	llmModel    string
	useReranker bool
)

// NewRootCmd creates the root command. Running it with no subcommand
// starts the server directly, the same "just run it" shape the
// teacher's root command uses for its smart default.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "obsidianrag",
		Short:   "Local hybrid-search question answering over an Obsidian vault",
		Version: version.Short(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	root.SetVersionTemplate("obsidianrag version {{.Version}}\n")

	root.PersistentFlags().StringVar(&vaultPath, "vault", "", "Path to the Obsidian vault (required)")
	root.PersistentFlags().IntVar(&bindPort, "port", 0, "HTTP bind port (default 8000)")
	root.PersistentFlags().StringVar(&llmModel, "model", "", "Generative model name")
	root.PersistentFlags().BoolVar(&useReranker, "reranker", false, "Enable the reranker")

	root.AddCommand(newServeCmd())

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig composes the frozen Config from defaults, an optional
// obsidianrag.yaml inside the vault directory, environment variables, and the
// flags this process was invoked with (spec.md §9).
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	overrides := config.Overrides{
		VaultPath:    vaultPath,
		HasVaultPath: cmd.Flags().Changed("vault"),
		BindPort:     bindPort,
		HasBindPort:  cmd.Flags().Changed("port"),
		LLMModel:     llmModel,
		HasLLMModel:  cmd.Flags().Changed("model"),
		UseReranker:  useReranker,
		HasReranker:  cmd.Flags().Changed("reranker"),
	}

	dir := vaultPath
	if dir == "" {
		dir = "."
	}

	cfg, err := config.Load(dir, overrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, "obsidianrag:", err)
		return config.Config{}, err
	}
	return cfg, nil
}
