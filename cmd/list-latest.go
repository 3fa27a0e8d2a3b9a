package cmd

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/Thiht/addons-registry/registry"
	"github.com/Thiht/addons-registry/series"
	"github.com/Thiht/go-command"
)

func ListLatestFlags(flagSet *flag.FlagSet) {
	ConfigFlags(flagSet)
	flagSet.String("output-file", "-", "CSV output file, - for the standard output")
	flagSet.String("series", "", "Only list modules supporting this series")
	flagSet.Bool("lts", false, "Only list modules supporting a long term support series")
	flagSet.Bool("by-repository", false, "List one summary line per repository instead of one line per module")
}

func ListLatestHandler() command.Handler {
	return func(ctx context.Context, flagSet *flag.FlagSet, _ []string) int {
		cfg, ok := setup(ctx, flagSet)
		if !ok {
			return 1
		}

		outputFile := command.Lookup[string](flagSet, "output-file")
		onlySeries := command.Lookup[string](flagSet, "series")
		onlyLTS := command.Lookup[bool](flagSet, "lts")
		byRepository := command.Lookup[bool](flagSet, "by-repository")

		st, closeStore, err := openStore(ctx, cfg.Neo4j)
		if err != nil {
			slog.ErrorContext(ctx, "failed to open store", slog.Any("error", err))
			return 1
		}
		defer closeStore()

		slog.DebugContext(ctx, "listing modules")
		records, err := st.ListRecords(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to list modules", slog.Any("error", err))
			return 1
		}

		templates := registry.Summarize(records)
		if onlySeries != "" {
			templates = slices.DeleteFunc(templates, func(t registry.Template) bool {
				return !slices.Contains(t.SupportedSeries, onlySeries)
			})
		}
		if onlyLTS {
			templates = filterLTS(templates, cfg.Series)
		}

		slog.DebugContext(ctx, "opening output file", slog.String("file", outputFile))
		output, err := createOutput(outputFile)
		if err != nil {
			slog.ErrorContext(ctx, "failed to open output file", slog.String("file", outputFile), slog.Any("error", err))
			return 1
		}
		defer output.Close()

		if byRepository {
			libraries := registry.SummarizeRepositories(templates)
			if err := writeLibraries(output, libraries); err != nil {
				slog.ErrorContext(ctx, "failed to write repositories", slog.Any("error", err))
				return 1
			}

			slog.InfoContext(ctx, "repositories listed", slog.Int("repositories", len(libraries)), slog.Int("modules", len(templates)))
			return 0
		}

		if err := writeTemplates(output, templates); err != nil {
			slog.ErrorContext(ctx, "failed to write modules", slog.Any("error", err))
			return 1
		}

		slog.InfoContext(ctx, "modules listed", slog.Int("modules", len(templates)))

		return 0
	}
}

// filterLTS keeps the templates supporting at least one LTS series of the
// catalog.
func filterLTS(templates []registry.Template, catalog series.Catalog) []registry.Template {
	lts := catalog.LTS().Names()

	return slices.DeleteFunc(templates, func(t registry.Template) bool {
		return !slices.ContainsFunc(t.SupportedSeries, func(s string) bool {
			return slices.Contains(lts, s)
		})
	})
}

func writeTemplates(w io.Writer, templates []registry.Template) error {
	bufferedWriter := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(bufferedWriter)

	if err := csvWriter.Write([]string{"repository", "module", "latest", "versions", "branches", "series"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range templates {
		if err := csvWriter.Write([]string{
			t.Repository,
			t.TechnicalName,
			t.Latest,
			strconv.Itoa(t.VersionCount),
			strings.Join(t.Branches, " "),
			strings.Join(t.SupportedSeries, " "),
		}); err != nil {
			return fmt.Errorf("failed to write module %s: %w", t.TechnicalName, err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return bufferedWriter.Flush()
}

func writeLibraries(w io.Writer, libraries []registry.Library) error {
	bufferedWriter := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(bufferedWriter)

	if err := csvWriter.Write([]string{"repository", "modules", "versions", "series"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, l := range libraries {
		if err := csvWriter.Write([]string{
			l.Repository,
			strconv.Itoa(l.TemplateCount),
			strconv.Itoa(l.VersionCount),
			strings.Join(l.SupportedSeries, " "),
		}); err != nil {
			return fmt.Errorf("failed to write repository %s: %w", l.Repository, err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return bufferedWriter.Flush()
}
