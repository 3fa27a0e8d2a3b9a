package cmd

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thiht/addons-registry/config"
	"github.com/Thiht/addons-registry/github"
	"github.com/Thiht/addons-registry/manifest"
	"github.com/Thiht/addons-registry/registry"
	"github.com/Thiht/addons-registry/series"
	"github.com/Thiht/addons-registry/store"
	"github.com/Thiht/addons-registry/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeRepositories(t *testing.T) {
	configured := []config.Repository{
		{URL: "https://github.com/OCA/web.git", Branches: []string{"17.0"}},
		{URL: "https://github.com/OCA/server-tools"},
	}
	seeded := []config.Repository{
		{URL: "https://github.com/OCA/web", Branches: []string{"17.0", "18.0"}},
		{URL: "https://github.com/OCA/sale-workflow"},
	}

	merged := mergeRepositories(configured, seeded)

	assert.Equal(t, []config.Repository{
		{URL: "https://github.com/OCA/web.git", Branches: []string{"17.0", "18.0"}},
		{URL: "https://github.com/OCA/server-tools"},
		{URL: "https://github.com/OCA/sale-workflow"},
	}, merged)
	assert.Equal(t, []string{"17.0"}, configured[0].Branches)
}

func TestResolveTargets(t *testing.T) {
	remote := map[string][]string{
		"https://github.com/OCA/web":         {"16.0", "17.0", "18.0", "main"},
		"https://github.com/OCA/no-series":   {"main", "master"},
		"https://github.com/OCA/unreachable": nil,
	}
	listBranches := func(_ context.Context, url string) ([]string, error) {
		branches, ok := remote[url]
		if !ok || branches == nil {
			return nil, errors.New("unreachable")
		}
		return branches, nil
	}

	catalog := series.Catalog{
		{Name: "17.0", Major: 17, Status: series.StatusStable},
		{Name: "18.0", Major: 18, Status: series.StatusStable},
	}

	targets := resolveTargets(context.Background(), []config.Repository{
		{URL: "https://github.com/OCA/web.git"},
		{URL: "https://github.com/OCA/server-tools", Branches: []string{"main"}},
		{URL: "https://github.com/OCA/no-series"},
		{URL: "https://github.com/OCA/unreachable"},
		{URL: ""},
	}, catalog, listBranches)

	assert.Equal(t, []branchTarget{
		{url: "https://github.com/OCA/web", branch: "17.0"},
		{url: "https://github.com/OCA/web", branch: "18.0"},
		{url: "https://github.com/OCA/server-tools", branch: "main"},
	}, targets)
}

type fakeClassificationStore struct {
	records []registry.Record
	batches [][]registry.Record
	saved   map[string]version.Classification
	err     error
}

func (s *fakeClassificationStore) ListRecords(context.Context) ([]registry.Record, error) {
	return s.records, s.err
}

func (s *fakeClassificationStore) SaveClassifications(_ context.Context, records []registry.Record, classifications map[string]version.Classification, _ int) error {
	s.batches = append(s.batches, records)
	if s.saved == nil {
		s.saved = map[string]version.Classification{}
	}

	for _, r := range records {
		s.saved[r.Key()] = classifications[r.Key()]
	}

	return nil
}

func TestClassify(t *testing.T) {
	st := &fakeClassificationStore{
		records: []registry.Record{
			{Repository: "OCA/web", Branch: "18.0", TechnicalName: "web_widget", Version: "18.0.1.0.0"},
			{Repository: "OCA/web", Branch: "18.0", TechnicalName: "web_widget", Version: "18.0.1.1.0"},
			{Repository: "OCA/web", Branch: "18.0", TechnicalName: "web_widget", Version: "18.0.2.0.0"},
			{Repository: "OCA/web", Branch: "17.0", TechnicalName: "web_widget", Version: "17.0.1.0.0"},
			{Repository: "OCA/web", Branch: "18.0", TechnicalName: "web_other", Version: "18.0.1.0.0"},
		},
	}

	require.NoError(t, classify(context.Background(), st, 2))

	assert.Len(t, st.batches, 3)
	assert.Len(t, st.saved, 5)

	assert.Equal(t, version.Classification{HasNewer: true, NewerCount: 2}, st.saved[st.records[0].Key()])
	assert.Equal(t, version.Classification{HasNewer: true, NewerCount: 1}, st.saved[st.records[1].Key()])
	assert.Equal(t, version.Classification{IsLatest: true}, st.saved[st.records[2].Key()])
	assert.Equal(t, version.Classification{IsLatest: true}, st.saved[st.records[3].Key()])
	assert.Equal(t, version.Classification{IsLatest: true}, st.saved[st.records[4].Key()])
}

func TestClassifyWithoutBatchSize(t *testing.T) {
	st := &fakeClassificationStore{
		records: []registry.Record{
			{Repository: "OCA/web", Branch: "18.0", TechnicalName: "web_widget", Version: "18.0.1.0.0"},
			{Repository: "OCA/web", Branch: "18.0", TechnicalName: "web_widget", Version: "18.0.1.1.0"},
		},
	}

	require.NoError(t, classify(context.Background(), st, 0))
	assert.Len(t, st.batches, 1)
}

func TestClassifyListError(t *testing.T) {
	st := &fakeClassificationStore{err: errors.New("boom")}

	require.Error(t, classify(context.Background(), st, 10))
	assert.Empty(t, st.batches)
}

type fakeAddonStore struct {
	failing map[string]error
	stored  []registry.Record
}

func (s *fakeAddonStore) UpsertAddon(_ context.Context, _ string, record registry.Record, _ registry.Addon, _ store.Run) error {
	if err, ok := s.failing[record.TechnicalName]; ok {
		return err
	}

	s.stored = append(s.stored, record)
	return nil
}

func TestStoreAddonsContinuesAfterFailure(t *testing.T) {
	errBroken := errors.New("constraint violation")
	st := &fakeAddonStore{failing: map[string]error{"web_broken": errBroken}}

	addons := []registry.Addon{
		{TechnicalName: "web_widget", Manifest: manifest.Manifest{Version: "18.0.1.0.0"}},
		{TechnicalName: "web_broken", Manifest: manifest.Manifest{Version: "18.0.1.0.0"}},
		{TechnicalName: "web_other", Manifest: manifest.Manifest{Version: "1.0"}},
	}
	target := branchTarget{url: "https://github.com/OCA/web", branch: "18.0"}

	stored, err := storeAddons(context.Background(), st, store.NewRun(), target, addons, "", slog.Default())
	require.ErrorIs(t, err, errBroken)
	assert.Equal(t, 2, stored)

	require.Len(t, st.stored, 2)
	assert.Equal(t, "web_widget", st.stored[0].TechnicalName)
	assert.Equal(t, "web_other", st.stored[1].TechnicalName)
	assert.Equal(t, "OCA/web", st.stored[1].Repository)
}

func TestStoreAddonsJoinsFailures(t *testing.T) {
	errFirst, errSecond := errors.New("first"), errors.New("second")
	st := &fakeAddonStore{failing: map[string]error{"a": errFirst, "b": errSecond}}

	stored, err := storeAddons(context.Background(), st, store.NewRun(), branchTarget{url: "https://github.com/OCA/web", branch: "18.0"},
		[]registry.Addon{{TechnicalName: "a"}, {TechnicalName: "b"}}, "", slog.Default())
	assert.Equal(t, 0, stored)
	require.ErrorIs(t, err, errFirst)
	require.ErrorIs(t, err, errSecond)
}

func TestStoreAddonsNoAddons(t *testing.T) {
	stored, err := storeAddons(context.Background(), &fakeAddonStore{}, store.NewRun(), branchTarget{url: "https://github.com/OCA/web", branch: "18.0"}, nil, "", slog.Default())
	require.NoError(t, err)
	assert.Zero(t, stored)
}

func TestWriteTemplates(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTemplates(&buf, []registry.Template{
		{
			Repository:      "OCA/web",
			TechnicalName:   "web_widget",
			Latest:          "18.0.2.0.0",
			VersionCount:    3,
			Branches:        []string{"17.0", "18.0"},
			SupportedSeries: []string{"17.0", "18.0"},
		},
	}))

	assert.Equal(t, "repository,module,latest,versions,branches,series\nOCA/web,web_widget,18.0.2.0.0,3,17.0 18.0,17.0 18.0\n", buf.String())
}

func TestWriteLibraries(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLibraries(&buf, []registry.Library{
		{Repository: "OCA/web", TemplateCount: 2, VersionCount: 5, SupportedSeries: []string{"17.0", "18.0"}},
	}))

	assert.Equal(t, "repository,modules,versions,series\nOCA/web,2,5,17.0 18.0\n", buf.String())
}

func TestFilterLTS(t *testing.T) {
	catalog := series.Catalog{
		{Name: "16.0", Major: 16, Status: series.StatusMaintenance, LTS: true},
		{Name: "17.0", Major: 17, Status: series.StatusStable},
	}

	templates := filterLTS([]registry.Template{
		{Repository: "OCA/web", TechnicalName: "web_old", SupportedSeries: []string{"16.0"}},
		{Repository: "OCA/web", TechnicalName: "web_new", SupportedSeries: []string{"17.0"}},
		{Repository: "OCA/web", TechnicalName: "web_both", SupportedSeries: []string{"16.0", "17.0"}},
		{Repository: "OCA/web", TechnicalName: "web_untagged"},
	}, catalog)

	require.Len(t, templates, 2)
	assert.Equal(t, "web_old", templates[0].TechnicalName)
	assert.Equal(t, "web_both", templates[1].TechnicalName)
}

func TestWriteSeries(t *testing.T) {
	catalog := series.Catalog{
		{Name: "18.0", Major: 18, Status: series.StatusStable, Current: true, EndOfSupport: time.Date(2027, time.November, 1, 0, 0, 0, 0, time.UTC), PythonVersion: "3.10+"},
		{Name: "14.0", Major: 14, Status: series.StatusEndOfLife},
	}
	today := time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, writeSeries(&buf, catalog, nil, today))
	assert.Equal(t, strings.Join([]string{
		"series,code,status,current,lts,supported,release_date,end_of_support,python,postgresql",
		"18.0,018.000,stable,true,false,true,,2027-11-01,3.10+,",
		"14.0,014.000,end_of_life,false,false,false,,,,",
		"",
	}, "\n"), buf.String())

	buf.Reset()
	require.NoError(t, writeSeries(&buf, catalog, map[string]int64{"18.0": 42}, today))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], ",modules"))
	assert.True(t, strings.HasSuffix(lines[1], ",42"))
	assert.True(t, strings.HasSuffix(lines[2], ",0"))
}

func TestSelectRepositories(t *testing.T) {
	repositories := []github.Repository{
		{Name: "web"},
		{Name: "fork", Fork: true},
		{Name: "old", Archived: true},
	}

	names := func(repositories []github.Repository) []string {
		var result []string
		for _, r := range repositories {
			result = append(result, r.Name)
		}
		return result
	}

	assert.Equal(t, []string{"web"}, names(selectRepositories(repositories, false, false)))
	assert.Equal(t, []string{"web", "fork"}, names(selectRepositories(repositories, true, false)))
	assert.Equal(t, []string{"web", "fork", "old"}, names(selectRepositories(repositories, true, true)))
	assert.Len(t, repositories, 3)
}

func TestSeriesBranches(t *testing.T) {
	branches := []github.Branch{{Name: "main"}, {Name: "17.0"}, {Name: "18.0"}, {Name: "18.0-mig"}}

	assert.Equal(t, []string{"17.0", "18.0"}, seriesBranches(branches, []string{"16.0", "17.0", "18.0"}))
	assert.Empty(t, seriesBranches(nil, []string{"18.0"}))
}

func TestWriteSeedIsReadable(t *testing.T) {
	repositories := []config.Repository{
		{URL: "https://github.com/OCA/web", Branches: []string{"17.0", "18.0"}},
		{URL: "https://github.com/OCA/server-tools"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeSeed(&buf, repositories))
	assert.Equal(t, "https://github.com/OCA/web 17.0 18.0\nhttps://github.com/OCA/server-tools\n", buf.String())

	read, err := config.ReadSeed(&buf)
	require.NoError(t, err)
	assert.Equal(t, repositories, read)
}

type fakeGitHubClient struct {
	github.Client

	dirs  map[string][]github.Content
	files map[string]string
}

func (c *fakeGitHubClient) GetContents(_ context.Context, _, path, _ string) ([]github.Content, error) {
	contents, ok := c.dirs[path]
	if !ok {
		return nil, github.ErrNotFound
	}

	return contents, nil
}

func (c *fakeGitHubClient) GetFile(_ context.Context, _, path, _ string) ([]byte, error) {
	content, ok := c.files[path]
	if !ok {
		return nil, github.ErrNotFound
	}

	return []byte(content), nil
}

func TestDiscoverRemote(t *testing.T) {
	client := &fakeGitHubClient{
		dirs: map[string][]github.Content{
			"": {
				{Type: "file", Name: "README.md", Path: "README.md"},
				{Type: "dir", Name: "web_widget", Path: "web_widget"},
				{Type: "dir", Name: "setup", Path: "setup"},
				{Type: "dir", Name: "broken", Path: "broken"},
			},
			"web_widget": {{Type: "file", Name: "__manifest__.py"}},
			"setup":      {{Type: "dir", Name: "web_widget"}},
			"broken":     {{Type: "file", Name: "__manifest__.py"}},
			"addons": {
				{Type: "dir", Name: "legacy", Path: "addons/legacy"},
			},
			"addons/legacy": {{Type: "file", Name: "__openerp__.py"}},
		},
		files: map[string]string{
			"web_widget/__manifest__.py":   `{"name": "Web Widget", "version": "18.0.1.0.0", "depends": ["web"]}`,
			"broken/__manifest__.py":       `{"name": "Broken",`,
			"addons/legacy/__openerp__.py": `{"name": "Legacy", "version": "8.0.1.0.0", "installable": False}`,
		},
	}

	addons, errs := discoverRemote(context.Background(), client, "OCA/web", "18.0")

	require.Len(t, errs, 1)
	var discoverErr *registry.DiscoverError
	require.ErrorAs(t, errs[0], &discoverErr)
	assert.Equal(t, "broken", discoverErr.Path)

	require.Len(t, addons, 2)
	assert.Equal(t, "legacy", addons[0].TechnicalName)
	assert.Equal(t, "addons/legacy/__openerp__.py", addons[0].ManifestFile)
	assert.False(t, addons[0].Manifest.Installable)
	assert.Equal(t, "web_widget", addons[1].TechnicalName)
	assert.Equal(t, []string{"web"}, addons[1].Manifest.Depends)

	var buf bytes.Buffer
	require.NoError(t, writeAddons(&buf, addons, "18.0"))
	assert.Equal(t, strings.Join([]string{
		"module,name,version,series,path,license,installable",
		"legacy,Legacy,8.0.1.0.0,8.0,addons/legacy,,false",
		"web_widget,Web Widget,18.0.1.0.0,18.0,web_widget,,true",
		"",
	}, "\n"), buf.String())
}

func TestCreateOutput(t *testing.T) {
	stdout, err := createOutput("-")
	require.NoError(t, err)
	require.NoError(t, stdout.Close())

	path := filepath.Join(t.TempDir(), "out.csv")
	file, err := createOutput(path)
	require.NoError(t, err)
	_, err = file.Write([]byte("ok"))
	require.NoError(t, err)
	require.NoError(t, file.Close())
	assert.FileExists(t, path)

	_, err = createOutput(filepath.Join(t.TempDir(), "missing", "out.csv"))
	require.Error(t, err)
}
