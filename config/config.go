package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/Thiht/addons-registry/registry"
	"github.com/Thiht/addons-registry/series"
	"gopkg.in/yaml.v3"
)

type Neo4j struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type GitHub struct {
	Token             string  `yaml:"token"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Repository is a repository to sync. Without branches, every branch named
// after a known series is synced.
type Repository struct {
	URL      string   `yaml:"url"`
	Branches []string `yaml:"branches,omitempty"`
}

type Config struct {
	Neo4j         Neo4j          `yaml:"neo4j"`
	GitHub        GitHub         `yaml:"github"`
	CacheDir      string         `yaml:"cache_dir"`
	Parallel      int            `yaml:"parallel"`
	DefaultSeries string         `yaml:"default_series"`
	Repositories  []Repository   `yaml:"repositories"`
	Series        series.Catalog `yaml:"series"`
}

func Default() Config {
	return Config{
		Neo4j: Neo4j{
			URI: "neo4j://localhost",
		},
		GitHub: GitHub{
			RequestsPerSecond: 1,
			Burst:             10,
		},
		CacheDir: defaultCacheDir(),
		Parallel: runtime.NumCPU(),
		Series:   series.Default(),
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}

	return filepath.Join(dir, "addons-registry")
}

// Load reads the configuration file at path over the defaults. A missing file
// yields the defaults. Environment variables override the file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if len(cfg.Series) == 0 {
		cfg.Series = series.Default()
	}

	cfg.applyEnv(os.LookupEnv)

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for name, target := range map[string]*string{
		"GITHUB_TOKEN":   &c.GitHub.Token,
		"NEO4J_URI":      &c.Neo4j.URI,
		"NEO4J_USERNAME": &c.Neo4j.Username,
		"NEO4J_PASSWORD": &c.Neo4j.Password,
	} {
		if value, ok := lookup(name); ok && value != "" {
			*target = value
		}
	}
}

var ErrInvalidConfig = errors.New("invalid config")

func (c Config) Validate() error {
	if c.Parallel <= 0 {
		return fmt.Errorf("%w: parallel must be positive, got %d", ErrInvalidConfig, c.Parallel)
	}

	if c.CacheDir == "" {
		return fmt.Errorf("%w: cache_dir is required", ErrInvalidConfig)
	}

	if c.GitHub.RequestsPerSecond <= 0 || c.GitHub.Burst <= 0 {
		return fmt.Errorf("%w: github rate limit must be positive", ErrInvalidConfig)
	}

	for i, repository := range c.Repositories {
		if _, err := registry.NormalizeRepositoryURL(repository.URL); err != nil {
			return fmt.Errorf("%w: repositories[%d]: %w", ErrInvalidConfig, i, err)
		}
	}

	if err := c.Series.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// LoadSeedFile reads repositories from a file of "url [branch...]" lines.
// Blank lines and lines starting with # are skipped. Repeated URLs are merged.
func LoadSeedFile(path string) ([]Repository, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer file.Close()

	return ReadSeed(file)
}

func ReadSeed(r io.Reader) ([]Repository, error) {
	var repositories []Repository
	index := map[string]int{}

	scanner := bufio.NewScanner(r)
	for lineNumber := 1; scanner.Scan(); lineNumber++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)

		repoURL, err := registry.NormalizeRepositoryURL(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber, err)
		}

		i, exists := index[repoURL]
		if !exists {
			i = len(repositories)
			index[repoURL] = i
			repositories = append(repositories, Repository{URL: repoURL})
		}

		for _, branch := range fields[1:] {
			if !slices.Contains(repositories[i].Branches, branch) {
				repositories[i].Branches = append(repositories[i].Branches, branch)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	return repositories, nil
}
