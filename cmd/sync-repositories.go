package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync/atomic"

	"github.com/Thiht/addons-registry/config"
	"github.com/Thiht/addons-registry/gitcache"
	"github.com/Thiht/addons-registry/registry"
	"github.com/Thiht/addons-registry/series"
	"github.com/Thiht/addons-registry/store"
	"github.com/Thiht/addons-registry/version"
	"github.com/Thiht/go-command"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

func SyncRepositoriesFlags(flagSet *flag.FlagSet) {
	ConfigFlags(flagSet)
	flagSet.String("seed-file", "", "File of \"url [branch...]\" lines to sync in addition to the configured repositories")
	flagSet.Int("batch-size", 500, "Number of classifications written per transaction")
	flagSet.Bool("skip-classify", false, "Do not classify the stored modules after the sync")
}

type branchTarget struct {
	url    string
	branch string
}

func SyncRepositoriesHandler() command.Handler {
	return func(ctx context.Context, flagSet *flag.FlagSet, _ []string) int {
		cfg, ok := setup(ctx, flagSet)
		if !ok {
			return 1
		}

		repositories := cfg.Repositories
		if seedFile := command.Lookup[string](flagSet, "seed-file"); seedFile != "" {
			slog.DebugContext(ctx, "reading seed file", slog.String("file", seedFile))
			seeded, err := config.LoadSeedFile(seedFile)
			if err != nil {
				slog.ErrorContext(ctx, "failed to read seed file", slog.String("file", seedFile), slog.Any("error", err))
				return 1
			}

			repositories = mergeRepositories(repositories, seeded)
		}

		if len(repositories) == 0 {
			slog.WarnContext(ctx, "no repositories to sync")
			return 0
		}

		st, closeStore, err := openStore(ctx, cfg.Neo4j)
		if err != nil {
			slog.ErrorContext(ctx, "failed to open store", slog.Any("error", err))
			return 1
		}
		defer closeStore()

		slog.DebugContext(ctx, "creating neo4j indexes")
		if err := st.EnsureIndexes(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to create indexes", slog.Any("error", err))
			return 1
		}

		slog.InfoContext(ctx, "resolving branches", slog.Int("repositories", len(repositories)))
		targets := resolveTargets(ctx, repositories, cfg.Series, gitcache.RemoteBranches)

		run := store.NewRun()
		slog.InfoContext(ctx, "starting sync", slog.String("run", run.ID), slog.Int("branches", len(targets)))

		cache := gitcache.New(cfg.CacheDir)
		progress := progressbar.Default(int64(len(targets)), "syncing")

		var nbAddons, nbFailed atomic.Int64

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Parallel)
		for _, target := range targets {
			g.Go(func() error {
				defer func() {
					if err := progress.Add(1); err != nil {
						slog.WarnContext(gCtx, "failed to update progress bar", slog.Any("error", err))
					}
				}()

				logger := slog.With(slog.String("run", run.ID), slog.String("repository", target.url), slog.String("branch", target.branch))

				n, err := syncBranch(gCtx, cache, st, run, target, cfg.DefaultSeries, logger)
				nbAddons.Add(int64(n))
				if err == nil {
					return nil
				}

				nbFailed.Add(1)

				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					logger.WarnContext(gCtx, "timeout while syncing branch", slog.Any("error", err))
				} else {
					logger.WarnContext(gCtx, "failed to sync branch", slog.Any("error", err))
				}

				if err := st.MarkSyncError(gCtx, registry.RepositoryName(target.url), target.branch, err, run); err != nil {
					logger.ErrorContext(gCtx, "failed to record sync error", slog.Any("error", err))
				}

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			slog.ErrorContext(ctx, "failed to sync repositories", slog.Any("error", err))
			return 1
		}

		slog.InfoContext(ctx, "repositories synced",
			slog.String("run", run.ID),
			slog.Int("branches", len(targets)),
			slog.Int64("failed", nbFailed.Load()),
			slog.Int64("addons", nbAddons.Load()),
		)

		if command.Lookup[bool](flagSet, "skip-classify") {
			return 0
		}

		if err := classify(ctx, st, command.Lookup[int](flagSet, "batch-size")); err != nil {
			slog.ErrorContext(ctx, "failed to classify modules", slog.Any("error", err))
			return 1
		}

		return 0
	}
}

// mergeRepositories appends the seeded repositories to the configured ones,
// merging the branches of repositories listed in both.
func mergeRepositories(configured, seeded []config.Repository) []config.Repository {
	merged := slices.Clone(configured)

	index := map[string]int{}
	for i, repository := range merged {
		if url, err := registry.NormalizeRepositoryURL(repository.URL); err == nil {
			index[url] = i
		}
	}

	for _, repository := range seeded {
		i, exists := index[repository.URL]
		if !exists {
			index[repository.URL] = len(merged)
			merged = append(merged, repository)
			continue
		}

		branches := slices.Clone(merged[i].Branches)
		for _, branch := range repository.Branches {
			if !slices.Contains(branches, branch) {
				branches = append(branches, branch)
			}
		}
		merged[i].Branches = branches
	}

	return merged
}

// resolveTargets expands repositories without configured branches to their
// remote branches named after a series of the catalog.
func resolveTargets(ctx context.Context, repositories []config.Repository, catalog series.Catalog, listBranches func(context.Context, string) ([]string, error)) []branchTarget {
	names := catalog.Names()

	var targets []branchTarget
	for _, repository := range repositories {
		url, err := registry.NormalizeRepositoryURL(repository.URL)
		if err != nil {
			slog.WarnContext(ctx, "skipping invalid repository", slog.String("repository", repository.URL), slog.Any("error", err))
			continue
		}

		branches := repository.Branches
		if len(branches) == 0 {
			remoteBranches, err := listBranches(ctx, url)
			if err != nil {
				slog.WarnContext(ctx, "failed to list remote branches", slog.String("repository", url), slog.Any("error", err))
				continue
			}

			for _, branch := range remoteBranches {
				if slices.Contains(names, branch) {
					branches = append(branches, branch)
				}
			}

			if len(branches) == 0 {
				slog.WarnContext(ctx, "no series branch found", slog.String("repository", url), slog.Any("branches", remoteBranches))
				continue
			}
		}

		for _, branch := range branches {
			targets = append(targets, branchTarget{url: url, branch: branch})
		}
	}

	return targets
}

type addonStore interface {
	UpsertAddon(ctx context.Context, repoURL string, record registry.Record, addon registry.Addon, run store.Run) error
}

// syncBranch updates the checkout of a branch and stores every addon found in
// it. Manifests that cannot be read are logged and skipped.
func syncBranch(ctx context.Context, cache *gitcache.Cache, st addonStore, run store.Run, target branchTarget, defaultSeries string, logger *slog.Logger) (int, error) {
	logger.DebugContext(ctx, "syncing repository")
	path, err := cache.Sync(ctx, target.url, target.branch)
	if err != nil {
		return 0, fmt.Errorf("failed to sync repository: %w", err)
	}

	addons, errs := registry.Discover(os.DirFS(path))
	for _, err := range errs {
		logger.WarnContext(ctx, "failed to read addon", slog.Any("error", err))
	}

	return storeAddons(ctx, st, run, target, addons, defaultSeries, logger)
}

// storeAddons stores every addon of a branch and returns how many were
// stored. A failed addon does not stop the others; the failures are joined in
// the returned error.
func storeAddons(ctx context.Context, st addonStore, run store.Run, target branchTarget, addons []registry.Addon, defaultSeries string, logger *slog.Logger) (int, error) {
	repository := registry.RepositoryName(target.url)
	fallbackSeries := version.CompatibilityTag(target.branch, defaultSeries)

	stored := 0
	var errs []error
	for _, addon := range addons {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		record := registry.NewRecord(repository, target.branch, addon, fallbackSeries)

		logger.DebugContext(ctx, "storing addon", slog.String("addon", record.TechnicalName), slog.String("version", record.Version))
		if err := st.UpsertAddon(ctx, target.url, record, addon, run); err != nil {
			logger.WarnContext(ctx, "failed to store addon", slog.String("addon", record.TechnicalName), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		stored++
	}

	return stored, errors.Join(errs...)
}
