package cmd

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/Thiht/addons-registry/github"
	"github.com/Thiht/addons-registry/manifest"
	"github.com/Thiht/addons-registry/registry"
	"github.com/Thiht/go-command"
)

func ListGitHubAddonsFlags(flagSet *flag.FlagSet) {
	ConfigFlags(flagSet)
	flagSet.String("repository", "", "GitHub repository, as owner/repo")
	flagSet.String("ref", "", "Branch to read, the default branch when empty")
	flagSet.String("output-file", "-", "CSV output file, - for the standard output")
}

// ListGitHubAddonsHandler lists the addons of a repository branch through the
// GitHub API, without cloning it.
func ListGitHubAddonsHandler() command.Handler {
	return func(ctx context.Context, flagSet *flag.FlagSet, _ []string) int {
		cfg, ok := setup(ctx, flagSet)
		if !ok {
			return 1
		}

		fullName := strings.Trim(command.Lookup[string](flagSet, "repository"), "/")
		ref := command.Lookup[string](flagSet, "ref")
		outputFile := command.Lookup[string](flagSet, "output-file")

		if strings.Count(fullName, "/") != 1 {
			slog.ErrorContext(ctx, "repository must be owner/repo", slog.String("repository", fullName))
			return 1
		}

		addons, errs := discoverRemote(ctx, newGitHubClient(cfg.GitHub), fullName, ref)
		for _, err := range errs {
			slog.WarnContext(ctx, "failed to read addon", slog.String("repository", fullName), slog.Any("error", err))
		}

		output, err := createOutput(outputFile)
		if err != nil {
			slog.ErrorContext(ctx, "failed to open output file", slog.String("file", outputFile), slog.Any("error", err))
			return 1
		}
		defer output.Close()

		if err := writeAddons(output, addons, cfg.DefaultSeries); err != nil {
			slog.ErrorContext(ctx, "failed to write addons", slog.Any("error", err))
			return 1
		}

		return 0
	}
}

// discoverRemote looks for addons in the same places as registry.Discover,
// reading the repository through the contents API.
func discoverRemote(ctx context.Context, client github.Client, fullName, ref string) ([]registry.Addon, []error) {
	var (
		addons []registry.Addon
		errs   []error
	)

	for _, searchDir := range registry.SearchDirs {
		dir := strings.TrimPrefix(searchDir, ".")

		entries, err := client.GetContents(ctx, fullName, dir, ref)
		if errors.Is(err, github.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list %s: %w", searchDir, err))
			continue
		}

		for _, entry := range entries {
			if entry.Type != "dir" {
				continue
			}

			addon, found, err := readRemoteAddon(ctx, client, fullName, entry.Path, ref)
			if err != nil {
				errs = append(errs, &registry.DiscoverError{Path: entry.Path, Err: err})
				continue
			}

			if found {
				addons = append(addons, addon)
			}
		}
	}

	slices.SortFunc(addons, func(a, b registry.Addon) int {
		return strings.Compare(a.Path, b.Path)
	})

	return addons, errs
}

func readRemoteAddon(ctx context.Context, client github.Client, fullName, dir, ref string) (registry.Addon, bool, error) {
	files, err := client.GetContents(ctx, fullName, dir, ref)
	if err != nil {
		return registry.Addon{}, false, err
	}

	for _, manifestFile := range registry.ManifestFiles {
		if !slices.ContainsFunc(files, func(c github.Content) bool { return c.Type == "file" && c.Name == manifestFile }) {
			continue
		}

		manifestPath := path.Join(dir, manifestFile)

		data, err := client.GetFile(ctx, fullName, manifestPath, ref)
		if err != nil {
			return registry.Addon{}, false, err
		}

		m, err := manifest.Decode(data)
		if err != nil {
			return registry.Addon{}, false, err
		}

		return registry.Addon{
			TechnicalName: path.Base(dir),
			Path:          dir,
			ManifestFile:  manifestPath,
			Manifest:      m,
		}, true, nil
	}

	return registry.Addon{}, false, nil
}

func writeAddons(w io.Writer, addons []registry.Addon, fallbackSeries string) error {
	bufferedWriter := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(bufferedWriter)

	if err := csvWriter.Write([]string{"module", "name", "version", "series", "path", "license", "installable"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, addon := range addons {
		m := addon.Manifest

		if err := csvWriter.Write([]string{addon.TechnicalName, m.Name, m.Version, m.Series(fallbackSeries), addon.Path, m.License, strconv.FormatBool(m.Installable)}); err != nil {
			return fmt.Errorf("failed to write addon %s: %w", addon.TechnicalName, err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return bufferedWriter.Flush()
}
