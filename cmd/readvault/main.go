package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/readvault/internal/config"
	"github.com/vonshlovens/readvault/internal/readwise"
	"github.com/vonshlovens/readvault/internal/sync"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "readvault",
		Short:   "Readwise importer for markdown vaults",
		Long:    `Imports Readwise Reader documents and highlights into a local markdown vault, tracking sync state so nothing is fetched or written twice.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		importCmd(),
		backfillCmd(),
		highlightsCmd(),
		reviewCmd(),
		statusCmd(),
		initRangesCmd(),
		resetCmd(),
		initCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// newEngine loads config and wires the API client into a sync engine
func newEngine() (*sync.Engine, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return sync.NewEngine(readwise.New(cfg), cfg), cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so a
// long pagination can stop between pages.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// printResult writes an operation result as indented JSON on stdout
func printResult(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// errorResult holds the JSON printed when an operation fails
type errorResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// finish prints either the operation result or a structured error
// result, keeping stdout machine-readable in both cases. The error
// still propagates for the exit code.
func finish(res interface{}, err error) error {
	if err != nil {
		_ = printResult(errorResult{Status: "error", Message: err.Error()})
		return err
	}
	return printResult(res)
}

func importCmd() *cobra.Command {
	var (
		category string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import documents updated since the last run",
		Long:  `Fetches documents updated after the last import timestamp and saves any that are not already in the vault. The first run fetches the most recent documents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			engine, _, err := newEngine()
			if err != nil {
				return err
			}

			res, err := engine.ImportRecent(ctx, category, limit)
			if err != nil {
				err = fmt.Errorf("import failed: %w", err)
			}
			return finish(res, err)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "filter by category (article, email, rss, pdf, epub, tweet, video)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum documents to fetch (default from config)")
	return cmd
}

func backfillCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "backfill <target-date>",
		Short: "Import historical documents back to a target date",
		Long:  `Paginates backwards through document history until the target date (YYYY-MM-DD) is reached, skipping anything already in the vault. Date spans that were fully walked before are skipped without touching the API.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			engine, _, err := newEngine()
			if err != nil {
				return err
			}

			res, err := engine.Backfill(ctx, args[0], category)
			if err != nil {
				err = fmt.Errorf("backfill failed: %w", err)
			}
			return finish(res, err)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	return cmd
}

func highlightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "highlights",
		Short: "Import and search Readwise highlights",
	}
	cmd.AddCommand(
		highlightsImportCmd(),
		highlightsBackfillCmd(),
		highlightsSearchCmd(),
	)
	return cmd
}

func highlightsImportCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import highlights updated since the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			engine, _, err := newEngine()
			if err != nil {
				return err
			}

			res, err := engine.ImportRecentHighlights(ctx, limit)
			if err != nil {
				err = fmt.Errorf("highlight import failed: %w", err)
			}
			return finish(res, err)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum highlights to fetch")
	return cmd
}

func highlightsBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill <target-date>",
		Short: "Import historical highlights back to a target date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			engine, _, err := newEngine()
			if err != nil {
				return err
			}

			res, err := engine.BackfillHighlights(ctx, args[0])
			if err != nil {
				err = fmt.Errorf("highlight backfill failed: %w", err)
			}
			return finish(res, err)
		},
	}
}

func highlightsSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search recent highlights by text or note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			engine, _, err := newEngine()
			if err != nil {
				return err
			}

			res, err := engine.SearchHighlights(ctx, args[0], limit)
			if err != nil {
				err = fmt.Errorf("search failed: %w", err)
			}
			return finish(res, err)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum matches to return")
	return cmd
}

func reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Write today's daily review note",
		Long:  `Fetches the most recent highlights and writes a dated digest note. Rerunning on the same day regenerates the note.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			engine, _, err := newEngine()
			if err != nil {
				return err
			}

			res, err := engine.DailyReview(ctx)
			if err != nil {
				err = fmt.Errorf("daily review failed: %w", err)
			}
			return finish(res, err)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and vault contents",
		Long:  `Shows the persisted sync state for both streams alongside the files actually present on disk, which is how state drift is spotted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cfg, err := newEngine()
			if err != nil {
				return err
			}

			res, err := engine.StateInfo()
			if err != nil {
				return finish(nil, fmt.Errorf("failed to inspect state: %w", err))
			}

			fmt.Println("=== Readvault Status ===")
			fmt.Printf("Vault Path: %s\n", cfg.VaultPath)
			fmt.Println()
			return printResult(res)
		},
	}
}

func initRangesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-ranges",
		Short: "Rebuild synced ranges from the files on disk",
		Long:  `Scans the vault and reconstructs the synced date ranges from note front-matter. Use this after losing the state file or moving notes around outside the importer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := newEngine()
			if err != nil {
				return err
			}

			res, err := engine.RebuildRanges()
			if err != nil {
				err = fmt.Errorf("failed to rebuild ranges: %w", err)
			}
			return finish(res, err)
		},
	}
}

func resetCmd() *cobra.Command {
	var (
		clearRanges bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the sync state",
		Long:  `Clears import timestamps so the next import starts fresh. Synced ranges are kept unless --clear-ranges is given; rebuilding them costs a full pagination against the API. Vault files are never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				fmt.Print("This resets the sync state (vault files are kept). Continue? [y/N]: ")
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.ToLower(strings.TrimSpace(answer)) != "y" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			engine, _, err := newEngine()
			if err != nil {
				return err
			}

			res, err := engine.Reset(clearRanges)
			if err != nil {
				err = fmt.Errorf("reset failed: %w", err)
			}
			return finish(res, err)
		},
	}

	cmd.Flags().BoolVar(&clearRanges, "clear-ranges", false, "also clear synced date ranges")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file",
		Long:  `Interactively creates a configuration file pointing at your vault.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			fmt.Println("=== Readvault Setup ===")
			fmt.Println()

			fmt.Print("Vault path: ")
			vaultPath, _ := reader.ReadString('\n')
			vaultPath = strings.TrimSpace(vaultPath)

			if _, err := os.Stat(vaultPath); os.IsNotExist(err) {
				return fmt.Errorf("vault path does not exist: %s", vaultPath)
			}

			fmt.Print("Readwise API token (from https://readwise.io/access_token): ")
			token, _ := reader.ReadString('\n')
			token = strings.TrimSpace(token)

			configContent := fmt.Sprintf(`vault_path: "%s"

api:
  token: "${READWISE_TOKEN}"  # Set READWISE_TOKEN environment variable

directories:
  documents: "Readwise/Documents"
  highlights: "Readwise/Highlights"
  daily_reviews: "Readwise/Daily Reviews"
  archives: "Archives/Readwise"

sync:
  page_size: 50
  page_throttle_ms: 500

ignore_patterns:
  - ".obsidian/**"
  - ".trash/**"
  - ".git/**"
  - "**/.DS_Store"
`, vaultPath)

			configDir := config.ConfigDir()
			if err := os.MkdirAll(configDir, 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			configPath := filepath.Join(configDir, "config.yaml")

			if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfig file written to: %s\n", configPath)
			fmt.Printf("\nIMPORTANT: Set the READWISE_TOKEN environment variable:\n")
			fmt.Printf("  export READWISE_TOKEN='%s'\n", token)
			fmt.Println("\nTo check the setup, run: readvault status")
			fmt.Println("To import recent documents, run: readvault import")
			fmt.Println("To pull in history, run: readvault backfill 2024-01-01")

			return nil
		},
	}
}
