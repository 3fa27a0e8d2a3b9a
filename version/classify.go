package version

import (
	"slices"
	"sort"
)

// Classification tells whether an entity holds the latest version of its
// scope.
type Classification struct {
	IsLatest   bool
	HasNewer   bool
	NewerCount int
}

// Entity is a versioned record belonging to a comparison scope.
type Entity[K, S comparable] struct {
	ID      K
	Scope   S
	Version string
}

// ClassifyLatest classifies every entity against the other entities sharing
// its scope. Entities with equal versions are all reported as latest.
func ClassifyLatest[K, S comparable](entities []Entity[K, S]) map[K]Classification {
	return ClassifyLatestFunc(entities,
		func(e Entity[K, S]) K { return e.ID },
		func(e Entity[K, S]) S { return e.Scope },
		func(e Entity[K, S]) string { return e.Version },
	)
}

// ClassifyLatestFunc is [ClassifyLatest] for arbitrary items, with accessors
// for the identifier, the scope and the version string.
func ClassifyLatestFunc[E any, K, S comparable](items []E, id func(E) K, scope func(E) S, version func(E) string) map[K]Classification {
	cache := map[string]Parsed{}
	parse := func(v string) Parsed {
		if p, ok := cache[v]; ok {
			return p
		}

		p := Parse(v)
		cache[v] = p
		return p
	}

	scopes := map[S][]Parsed{}
	for _, item := range items {
		s := scope(item)
		scopes[s] = append(scopes[s], parse(version(item)))
	}

	for _, parsed := range scopes {
		slices.SortFunc(parsed, Parsed.Compare)
	}

	result := make(map[K]Classification, len(items))
	for _, item := range items {
		sorted := scopes[scope(item)]
		p := parse(version(item))

		firstGreater := sort.Search(len(sorted), func(i int) bool {
			return sorted[i].Compare(p) > 0
		})
		newer := len(sorted) - firstGreater

		result[id(item)] = Classification{
			IsLatest:   newer == 0,
			HasNewer:   newer > 0,
			NewerCount: newer,
		}
	}

	return result
}

// Latest returns the greatest version. Among equal versions the first one
// wins.
func Latest(versions []string) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}

	latest, latestParsed := versions[0], Parse(versions[0])
	for _, v := range versions[1:] {
		if p := Parse(v); p.Compare(latestParsed) > 0 {
			latest, latestParsed = v, p
		}
	}

	return latest, true
}

// Sort sorts versions in ascending order, keeping equal versions in their
// original order.
func Sort(versions []string) {
	slices.SortStableFunc(versions, Compare)
}

// SupportedSeries returns the distinct compatibility tags of versions in
// ascending order.
func SupportedSeries(versions []string, fallback string) []string {
	seen := map[string]struct{}{}
	tags := make([]string, 0, len(versions))
	for _, v := range versions {
		tag := CompatibilityTag(v, fallback)
		if tag == "" {
			continue
		}

		if _, exists := seen[tag]; exists {
			continue
		}
		seen[tag] = struct{}{}

		tags = append(tags, tag)
	}

	Sort(tags)

	return tags
}
