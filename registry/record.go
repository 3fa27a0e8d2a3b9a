package registry

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/Thiht/addons-registry/version"
)

// Record is what the registry stores for one version of an addon found on a
// repository branch.
type Record struct {
	Repository    string
	Branch        string
	TechnicalName string
	Version       string
	Series        string
}

func NewRecord(repository, branch string, addon Addon, fallbackSeries string) Record {
	return Record{
		Repository:    repository,
		Branch:        branch,
		TechnicalName: addon.TechnicalName,
		Version:       addon.Manifest.Version,
		Series:        addon.Manifest.Series(fallbackSeries),
	}
}

// Scope groups the records whose versions are compared together: the same
// addon of the same repository on the same branch.
func (r Record) Scope() string {
	return r.Repository + "@" + r.Branch + "/" + r.TechnicalName
}

// Key identifies a record.
func (r Record) Key() string {
	return r.Scope() + "@" + r.Version
}

// Classify reports, for every record key, whether it holds the latest version
// of its scope.
func Classify(records []Record) map[string]version.Classification {
	return version.ClassifyLatestFunc(records, Record.Key, Record.Scope, func(r Record) string { return r.Version })
}

// Template summarizes every version of an addon across the branches of a
// repository.
type Template struct {
	Repository      string
	TechnicalName   string
	Latest          string
	VersionCount    int
	Branches        []string
	SupportedSeries []string
}

func Summarize(records []Record) []Template {
	type key struct{ repository, name string }

	grouped := map[key][]Record{}
	for _, r := range records {
		k := key{r.Repository, r.TechnicalName}
		grouped[k] = append(grouped[k], r)
	}

	templates := make([]Template, 0, len(grouped))
	for k, group := range grouped {
		versions := make([]string, 0, len(group))
		series := make([]string, 0, len(group))
		branches := map[string]struct{}{}
		for _, r := range group {
			versions = append(versions, r.Version)
			if r.Series != "" {
				series = append(series, r.Series)
			}
			branches[r.Branch] = struct{}{}
		}

		latest, _ := version.Latest(versions)

		t := Template{
			Repository:      k.repository,
			TechnicalName:   k.name,
			Latest:          latest,
			VersionCount:    len(group),
			SupportedSeries: version.SupportedSeries(series, ""),
		}
		for branch := range branches {
			t.Branches = append(t.Branches, branch)
		}
		sort.Strings(t.Branches)

		templates = append(templates, t)
	}

	sort.Slice(templates, func(i, j int) bool {
		if templates[i].Repository != templates[j].Repository {
			return templates[i].Repository < templates[j].Repository
		}

		return templates[i].TechnicalName < templates[j].TechnicalName
	})

	return templates
}

// Library summarizes the addons of a repository.
type Library struct {
	Repository      string
	TemplateCount   int
	VersionCount    int
	SupportedSeries []string
}

// SummarizeRepositories aggregates templates per repository, sorted by
// repository.
func SummarizeRepositories(templates []Template) []Library {
	index := map[string]int{}
	var libraries []Library
	var series [][]string
	for _, t := range templates {
		i, exists := index[t.Repository]
		if !exists {
			i = len(libraries)
			index[t.Repository] = i
			libraries = append(libraries, Library{Repository: t.Repository})
			series = append(series, nil)
		}

		libraries[i].TemplateCount++
		libraries[i].VersionCount += t.VersionCount
		series[i] = append(series[i], t.SupportedSeries...)
	}

	for i := range libraries {
		libraries[i].SupportedSeries = version.SupportedSeries(series[i], "")
	}

	sort.Slice(libraries, func(i, j int) bool {
		return libraries[i].Repository < libraries[j].Repository
	})

	return libraries
}

var reGitHubRepository = regexp.MustCompile(`^https://github.com/[^/]+/[^/]+$`)

var ErrInvalidRepository = errors.New("invalid repository URL")

// NormalizeRepositoryURL canonicalizes GitHub URLs. Other URLs and local paths
// are only trimmed.
func NormalizeRepositoryURL(repository string) (string, error) {
	repository = strings.TrimSpace(repository)
	if strings.HasPrefix(repository, "http://github.com/") {
		repository = "https://" + strings.TrimPrefix(repository, "http://")
	}

	repository = strings.TrimSuffix(repository, "/")
	repository = strings.TrimSuffix(repository, ".git")

	if repository == "" {
		return "", ErrInvalidRepository
	}

	if strings.HasPrefix(repository, "https://github.com/") && !reGitHubRepository.MatchString(repository) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRepository, repository)
	}

	return repository, nil
}

// RepositoryName returns "owner/repo" for GitHub URLs and the last path
// element otherwise.
func RepositoryName(repository string) string {
	if u, err := url.Parse(repository); err == nil && u.Host == "github.com" {
		return strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	}

	repository = strings.TrimSuffix(strings.TrimSuffix(repository, "/"), ".git")

	return repository[strings.LastIndex(repository, "/")+1:]
}
