package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/Thiht/addons-registry/gitcache"
	"github.com/Thiht/addons-registry/registry"
	"github.com/Thiht/go-command"
)

func ListBranchesFlags(flagSet *flag.FlagSet) {
	ConfigFlags(flagSet)
	flagSet.String("repository", "", "URL of the repository")
	flagSet.Bool("series-only", false, "Only list branches named after a known series")
}

func ListBranchesHandler() command.Handler {
	return func(ctx context.Context, flagSet *flag.FlagSet, _ []string) int {
		cfg, ok := setup(ctx, flagSet)
		if !ok {
			return 1
		}

		repoURL, err := registry.NormalizeRepositoryURL(command.Lookup[string](flagSet, "repository"))
		if err != nil {
			slog.ErrorContext(ctx, "invalid repository", slog.String("repository", command.Lookup[string](flagSet, "repository")), slog.Any("error", err))
			return 1
		}

		slog.DebugContext(ctx, "listing remote branches", slog.String("repository", repoURL))
		branches, err := gitcache.RemoteBranches(ctx, repoURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to list remote branches", slog.String("repository", repoURL), slog.Any("error", err))
			return 1
		}

		if command.Lookup[bool](flagSet, "series-only") {
			names := cfg.Series.Names()
			branches = slices.DeleteFunc(branches, func(branch string) bool {
				return !slices.Contains(names, branch)
			})
		}

		for _, branch := range branches {
			fmt.Fprintln(os.Stdout, branch)
		}

		return 0
	}
}
