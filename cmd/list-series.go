package cmd

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/Thiht/addons-registry/series"
	"github.com/Thiht/go-command"
)

func ListSeriesFlags(flagSet *flag.FlagSet) {
	ConfigFlags(flagSet)
	flagSet.String("output-file", "-", "CSV output file, - for the standard output")
	flagSet.Bool("count-modules", false, "Count the stored modules of every series")
	flagSet.Bool("supported", false, "Only list supported series")
}

func ListSeriesHandler() command.Handler {
	return func(ctx context.Context, flagSet *flag.FlagSet, _ []string) int {
		cfg, ok := setup(ctx, flagSet)
		if !ok {
			return 1
		}

		outputFile := command.Lookup[string](flagSet, "output-file")
		today := time.Now()

		catalog := cfg.Series
		if command.Lookup[bool](flagSet, "supported") {
			catalog = catalog.Supported(today)
		}

		var counts map[string]int64
		if command.Lookup[bool](flagSet, "count-modules") {
			st, closeStore, err := openStore(ctx, cfg.Neo4j)
			if err != nil {
				slog.ErrorContext(ctx, "failed to open store", slog.Any("error", err))
				return 1
			}
			defer closeStore()

			counts, err = st.CountBySeries(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to count modules by series", slog.Any("error", err))
				return 1
			}
		}

		output, err := createOutput(outputFile)
		if err != nil {
			slog.ErrorContext(ctx, "failed to open output file", slog.String("file", outputFile), slog.Any("error", err))
			return 1
		}
		defer output.Close()

		if err := writeSeries(output, catalog.Sorted(), counts, today); err != nil {
			slog.ErrorContext(ctx, "failed to write series", slog.Any("error", err))
			return 1
		}

		return 0
	}
}

// writeSeries writes the catalog as CSV. The modules column is only present
// when counts is not nil.
func writeSeries(w io.Writer, catalog series.Catalog, counts map[string]int64, today time.Time) error {
	bufferedWriter := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(bufferedWriter)

	header := []string{"series", "code", "status", "current", "lts", "supported", "release_date", "end_of_support", "python", "postgresql"}
	if counts != nil {
		header = append(header, "modules")
	}

	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, s := range catalog {
		row := []string{
			s.Name,
			s.Code(),
			string(s.Status),
			strconv.FormatBool(s.Current),
			strconv.FormatBool(s.LTS),
			strconv.FormatBool(s.IsSupported(today)),
			formatDate(s.ReleaseDate),
			formatDate(s.EndOfSupport),
			s.PythonVersion,
			s.PostgreSQLVersion,
		}
		if counts != nil {
			row = append(row, strconv.FormatInt(counts[s.Name], 10))
		}

		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write series %s: %w", s.Name, err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return bufferedWriter.Flush()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Format(time.DateOnly)
}
