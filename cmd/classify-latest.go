package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Thiht/addons-registry/registry"
	"github.com/Thiht/addons-registry/version"
	"github.com/Thiht/go-command"
	"github.com/schollz/progressbar/v3"
)

func ClassifyLatestFlags(flagSet *flag.FlagSet) {
	ConfigFlags(flagSet)
	flagSet.Int("batch-size", 500, "Number of classifications written per transaction")
}

func ClassifyLatestHandler() command.Handler {
	return func(ctx context.Context, flagSet *flag.FlagSet, _ []string) int {
		cfg, ok := setup(ctx, flagSet)
		if !ok {
			return 1
		}

		st, closeStore, err := openStore(ctx, cfg.Neo4j)
		if err != nil {
			slog.ErrorContext(ctx, "failed to open store", slog.Any("error", err))
			return 1
		}
		defer closeStore()

		if err := classify(ctx, st, command.Lookup[int](flagSet, "batch-size")); err != nil {
			slog.ErrorContext(ctx, "failed to classify modules", slog.Any("error", err))
			return 1
		}

		return 0
	}
}

type classificationStore interface {
	ListRecords(ctx context.Context) ([]registry.Record, error)
	SaveClassifications(ctx context.Context, records []registry.Record, classifications map[string]version.Classification, batchSize int) error
}

// classify recomputes the latest flags of every stored record.
func classify(ctx context.Context, st classificationStore, batchSize int) error {
	slog.InfoContext(ctx, "listing modules")
	records, err := st.ListRecords(ctx)
	if err != nil {
		return err
	}

	classifications := registry.Classify(records)

	latest := 0
	for _, c := range classifications {
		if c.IsLatest {
			latest++
		}
	}
	slog.InfoContext(ctx, "modules classified", slog.Int("records", len(records)), slog.Int("latest", latest))

	if batchSize <= 0 {
		batchSize = max(len(records), 1)
	}

	progress := progressbar.Default(int64(len(records)), "classifying")
	for batch := range slices.Chunk(records, batchSize) {
		if err := st.SaveClassifications(ctx, batch, classifications, 0); err != nil {
			return fmt.Errorf("failed to save classifications: %w", err)
		}

		if err := progress.Add(len(batch)); err != nil {
			slog.WarnContext(ctx, "failed to update progress bar", slog.Any("error", err))
		}
	}

	return nil
}
