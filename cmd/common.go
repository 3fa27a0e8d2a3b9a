package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Thiht/addons-registry/config"
	"github.com/Thiht/addons-registry/github"
	"github.com/Thiht/addons-registry/store"
	"github.com/Thiht/go-command"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const DefaultConfigFile = "addons-registry.yaml"

// ConfigFlags registers the flags every subcommand understands.
func ConfigFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", DefaultConfigFile, "Path to the YAML configuration file")
	flagSet.Bool("verbose", false, "Enable debug logs")
}

// setup configures the default logger and loads the configuration.
func setup(ctx context.Context, flagSet *flag.FlagSet) (config.Config, bool) {
	level := slog.LevelInfo
	if command.Lookup[bool](flagSet, "verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	configFile := command.Lookup[string](flagSet, "config")

	slog.DebugContext(ctx, "loading config", slog.String("file", configFile))
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", slog.String("file", configFile), slog.Any("error", err))
		return config.Config{}, false
	}

	if err := cfg.Validate(); err != nil {
		slog.ErrorContext(ctx, "invalid config", slog.String("file", configFile), slog.Any("error", err))
		return config.Config{}, false
	}

	return cfg, true
}

func openStore(ctx context.Context, cfg config.Neo4j) (*store.Store, func(), error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	slog.DebugContext(ctx, "creating neo4j driver", slog.String("uri", cfg.URI))
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	closeDriver := func() {
		if err := driver.Close(context.Background()); err != nil {
			slog.WarnContext(ctx, "failed to close neo4j driver", slog.Any("error", err))
		}
	}

	slog.DebugContext(ctx, "verifying neo4j driver connectivity")
	if err := driver.VerifyConnectivity(ctx); err != nil {
		closeDriver()
		return nil, nil, fmt.Errorf("failed to verify neo4j driver connectivity: %w", err)
	}

	return store.New(driver, cfg.Database), closeDriver, nil
}

func newGitHubClient(cfg config.GitHub) github.Client {
	opts := []github.Option{
		github.WithToken(cfg.Token),
		github.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, github.WithBaseURL(cfg.BaseURL))
	}

	return github.NewClient(opts...)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

// createOutput opens path for writing; "-" is the standard output.
func createOutput(path string) (io.WriteCloser, error) {
	if path == "-" || path == "" {
		return nopCloser{os.Stdout}, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	return file, nil
}
