// Package store persists the registry in Neo4j.
//
//	(:Repository {name, url})-[:HAS_MODULE]->(:Module {repository, branch, name, version})
//	(:Module)-[:DEPENDS_ON]->(:Dependency {name})
//	(:Module)-[:TARGETS]->(:Series {name})
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Thiht/addons-registry/registry"
	"github.com/Thiht/addons-registry/version"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// Run identifies one sync of the registry. Every module written during the run
// carries its ID.
type Run struct {
	ID        string
	StartedAt time.Time
}

func NewRun() Run {
	return Run{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
}

type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

func New(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{driver: driver, database: database}
}

func (s *Store) execute(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.database))
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS FOR (m:Module) ON (m.name)",
	"CREATE INDEX IF NOT EXISTS FOR (m:Module) ON (m.repository, m.branch)",
	"CREATE INDEX IF NOT EXISTS FOR (r:Repository) ON (r.name)",
	"CREATE INDEX IF NOT EXISTS FOR (d:Dependency) ON (d.name)",
	"CREATE INDEX IF NOT EXISTS FOR (s:Series) ON (s.name)",
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, index := range indexes {
		if _, err := s.execute(ctx, index, nil); err != nil {
			return fmt.Errorf("failed to create index %q: %w", index, err)
		}
	}

	return nil
}

// addonParams flattens what the registry keeps about an addon version.
func addonParams(repoURL string, record registry.Record, addon registry.Addon, run Run) map[string]any {
	m := addon.Manifest

	dependencies := make([]any, 0, len(m.Depends))
	for _, dependency := range m.Depends {
		dependencies = append(dependencies, dependency)
	}

	// A module without series gets no TARGETS relationship.
	targets := []any{}
	if record.Series != "" {
		targets = append(targets, record.Series)
	}

	return map[string]any{
		"repositoryURL": repoURL,
		"repository":    record.Repository,
		"branch":        record.Branch,
		"name":          record.TechnicalName,
		"version":       record.Version,
		"series":        record.Series,
		"targets":       targets,
		"dependencies":  dependencies,
		"properties": map[string]any{
			"title":       m.Name,
			"path":        addon.Path,
			"manifest":    addon.ManifestFile,
			"summary":     m.Summary,
			"author":      m.Author,
			"website":     m.Website,
			"license":     m.License,
			"category":    m.Category,
			"installable": m.Installable,
			"autoInstall": m.AutoInstall,
			"application": m.Application,
			"pythonDeps":  toAny(m.ExternalDependencies.Python),
			"binDeps":     toAny(m.ExternalDependencies.Bin),
			"syncedAt":    run.StartedAt.UTC(),
			"syncRun":     run.ID,
			"syncStatus":  SyncStatusSuccess,
			"syncError":   "",
		},
	}
}

func toAny(values []string) []any {
	result := make([]any, 0, len(values))
	for _, v := range values {
		result = append(result, v)
	}

	return result
}

// UpsertAddon stores an addon version and replaces its dependencies.
func (s *Store) UpsertAddon(ctx context.Context, repoURL string, record registry.Record, addon registry.Addon, run Run) error {
	if _, err := s.execute(ctx, `
		MERGE (r:Repository { name: $repository })
		SET r.url = $repositoryURL
		MERGE (m:Module { repository: $repository, branch: $branch, name: $name, version: $version })
		SET m += $properties, m.series = $series
		MERGE (r)-[:HAS_MODULE]->(m)
		WITH m
		OPTIONAL MATCH (m)-[old:DEPENDS_ON|TARGETS]->()
		DELETE old
		WITH DISTINCT m
		FOREACH (target IN $targets |
			MERGE (s:Series { name: target })
			MERGE (m)-[:TARGETS]->(s)
		)
		WITH m
		UNWIND $dependencies AS dependency
		MERGE (d:Dependency { name: dependency })
		MERGE (m)-[:DEPENDS_ON]->(d)
	`, addonParams(repoURL, record, addon, run)); err != nil {
		return fmt.Errorf("failed to upsert addon %s: %w", record.Key(), err)
	}

	return nil
}

// MarkSyncError flags every module of a repository branch after a failed
// sync, keeping the previously synced data.
func (s *Store) MarkSyncError(ctx context.Context, repository, branch string, syncErr error, run Run) error {
	if _, err := s.execute(ctx, `
		MATCH (m:Module { repository: $repository, branch: $branch })
		SET m.syncStatus = $status, m.syncError = $error, m.syncedAt = $at, m.syncRun = $run
	`, map[string]any{
		"repository": repository,
		"branch":     branch,
		"status":     SyncStatusError,
		"error":      syncErr.Error(),
		"at":         run.StartedAt.UTC(),
		"run":        run.ID,
	}); err != nil {
		return fmt.Errorf("failed to mark sync error: %w", err)
	}

	return nil
}

func (s *Store) ListRecords(ctx context.Context) ([]registry.Record, error) {
	result, err := s.execute(ctx, `
		MATCH (m:Module)
		RETURN m.repository AS repository, m.branch AS branch, m.name AS name, m.version AS version, m.series AS series
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}

	records := make([]registry.Record, 0, len(result.Records))
	for _, row := range result.Records {
		records = append(records, registry.Record{
			Repository:    stringField(row, "repository"),
			Branch:        stringField(row, "branch"),
			TechnicalName: stringField(row, "name"),
			Version:       stringField(row, "version"),
			Series:        stringField(row, "series"),
		})
	}

	return records, nil
}

// stringField returns the empty string for missing or null values.
func stringField(record *neo4j.Record, key string) string {
	raw, ok := record.Get(key)
	if !ok {
		return ""
	}

	value, _ := raw.(string)
	return value
}

func classificationRows(records []registry.Record, classifications map[string]version.Classification) []map[string]any {
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		c, ok := classifications[r.Key()]
		if !ok {
			continue
		}

		rows = append(rows, map[string]any{
			"repository": r.Repository,
			"branch":     r.Branch,
			"name":       r.TechnicalName,
			"version":    r.Version,
			"isLatest":   c.IsLatest,
			"hasNewer":   c.HasNewer,
			"newerCount": int64(c.NewerCount),
		})
	}

	return rows
}

// SaveClassifications writes the classification of every record, in batches.
func (s *Store) SaveClassifications(ctx context.Context, records []registry.Record, classifications map[string]version.Classification, batchSize int) error {
	rows := classificationRows(records, classifications)

	if batchSize <= 0 {
		batchSize = len(rows)
	}

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))

		if _, err := s.execute(ctx, `
			UNWIND $rows AS row
			MATCH (m:Module { repository: row.repository, branch: row.branch, name: row.name, version: row.version })
			SET m.isLatest = row.isLatest, m.hasNewer = row.hasNewer, m.newerCount = row.newerCount
		`, map[string]any{"rows": rows[start:end]}); err != nil {
			return fmt.Errorf("failed to save classifications: %w", err)
		}
	}

	return nil
}

// CountBySeries counts the stored modules per series.
func (s *Store) CountBySeries(ctx context.Context) (map[string]int64, error) {
	result, err := s.execute(ctx, `
		MATCH (m:Module)-[:TARGETS]->(s:Series)
		RETURN s.name AS series, COUNT(m) AS modules
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count modules by series: %w", err)
	}

	counts := make(map[string]int64, len(result.Records))
	for _, row := range result.Records {
		rawCount, ok := row.Get("modules")
		if !ok {
			return nil, fmt.Errorf("failed to get modules from record")
		}

		count, ok := rawCount.(int64)
		if !ok {
			return nil, fmt.Errorf("modules is not an int64: %v", rawCount)
		}

		counts[stringField(row, "series")] = count
	}

	return counts, nil
}
