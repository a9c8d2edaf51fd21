package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/advisorhq/advisor/internal/app"
	"github.com/advisorhq/advisor/internal/config"
	"github.com/advisorhq/advisor/internal/log"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the embedding cache from the corpus",
	Long: `Reindex discards the embedding cache and recomputes every category
and entry vector from the corpus CSV. Run it after editing the corpus or
switching embedding models.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReindex()
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.SetupIndexOnly(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	idx, err := a.Builder.Rebuild(ctx, a.Corpus)
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}

	fmt.Printf("Reindexed %d entries across %d categories with %s\n",
		idx.Len(), len(a.Corpus.Categories()), idx.Model())
	return nil
}
