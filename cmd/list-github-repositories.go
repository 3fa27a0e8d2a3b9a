package cmd

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/Thiht/addons-registry/config"
	"github.com/Thiht/addons-registry/github"
	"github.com/Thiht/addons-registry/registry"
	"github.com/Thiht/go-command"
	"github.com/schollz/progressbar/v3"
)

func ListGitHubRepositoriesFlags(flagSet *flag.FlagSet) {
	ConfigFlags(flagSet)
	flagSet.String("owner", "OCA", "GitHub organization or user")
	flagSet.Bool("user", false, "The owner is a user, not an organization")
	flagSet.String("output-file", "-", "Seed file to write, - for the standard output")
	flagSet.Bool("include-forks", false, "Include forked repositories")
	flagSet.Bool("include-archived", false, "Include archived repositories")
	flagSet.Bool("with-branches", false, "List the series branches of every repository")
}

func ListGitHubRepositoriesHandler() command.Handler {
	return func(ctx context.Context, flagSet *flag.FlagSet, _ []string) int {
		cfg, ok := setup(ctx, flagSet)
		if !ok {
			return 1
		}

		owner := command.Lookup[string](flagSet, "owner")
		outputFile := command.Lookup[string](flagSet, "output-file")

		kind := github.Organization
		if command.Lookup[bool](flagSet, "user") {
			kind = github.User
		}

		client := newGitHubClient(cfg.GitHub)

		slog.InfoContext(ctx, "listing repositories", slog.String("owner", owner))
		repositories, err := client.ListRepositories(ctx, owner, kind)
		if err != nil {
			slog.ErrorContext(ctx, "failed to list repositories", slog.String("owner", owner), slog.Any("error", err))
			return 1
		}

		repositories = selectRepositories(repositories, command.Lookup[bool](flagSet, "include-forks"), command.Lookup[bool](flagSet, "include-archived"))

		seed := make([]config.Repository, 0, len(repositories))
		for _, repository := range repositories {
			repoURL, err := registry.NormalizeRepositoryURL(repository.HTMLURL)
			if err != nil {
				slog.WarnContext(ctx, "skipping repository", slog.String("repository", repository.FullName), slog.Any("error", err))
				continue
			}

			seed = append(seed, config.Repository{URL: repoURL})
		}

		if command.Lookup[bool](flagSet, "with-branches") {
			names := cfg.Series.Names()
			progress := progressbar.Default(int64(len(seed)), "listing branches")

			for i := range seed {
				fullName := registry.RepositoryName(seed[i].URL)

				branches, err := client.ListBranches(ctx, fullName)
				if err != nil {
					slog.WarnContext(ctx, "failed to list branches", slog.String("repository", fullName), slog.Any("error", err))
				}
				seed[i].Branches = seriesBranches(branches, names)

				if err := progress.Add(1); err != nil {
					slog.WarnContext(ctx, "failed to update progress bar", slog.Any("error", err))
				}
			}

			seed = slices.DeleteFunc(seed, func(r config.Repository) bool {
				return len(r.Branches) == 0
			})
		}

		output, err := createOutput(outputFile)
		if err != nil {
			slog.ErrorContext(ctx, "failed to open output file", slog.String("file", outputFile), slog.Any("error", err))
			return 1
		}
		defer output.Close()

		if err := writeSeed(output, seed); err != nil {
			slog.ErrorContext(ctx, "failed to write seed file", slog.Any("error", err))
			return 1
		}

		slog.InfoContext(ctx, "repositories listed", slog.String("owner", owner), slog.Int("repositories", len(seed)))

		return 0
	}
}

func selectRepositories(repositories []github.Repository, includeForks, includeArchived bool) []github.Repository {
	return slices.DeleteFunc(slices.Clone(repositories), func(r github.Repository) bool {
		return (r.Fork && !includeForks) || (r.Archived && !includeArchived)
	})
}

func seriesBranches(branches []github.Branch, names []string) []string {
	var result []string
	for _, branch := range branches {
		if slices.Contains(names, branch.Name) {
			result = append(result, branch.Name)
		}
	}

	return result
}

// writeSeed writes repositories in the format read by config.ReadSeed.
func writeSeed(w io.Writer, repositories []config.Repository) error {
	bufferedWriter := bufio.NewWriter(w)

	for _, repository := range repositories {
		fields := append([]string{repository.URL}, repository.Branches...)
		if _, err := fmt.Fprintln(bufferedWriter, strings.Join(fields, " ")); err != nil {
			return fmt.Errorf("failed to write repository %s: %w", repository.URL, err)
		}
	}

	return bufferedWriter.Flush()
}
