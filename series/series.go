// Package series describes Odoo release series (14.0, 15.0, ...) and their
// support lifecycle.
package series

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/Thiht/addons-registry/version"
)

type Status string

const (
	StatusDevelopment Status = "development"
	StatusBeta        Status = "beta"
	StatusStable      Status = "stable"
	StatusMaintenance Status = "maintenance"
	StatusDeprecated  Status = "deprecated"
	StatusEndOfLife   Status = "end_of_life"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDevelopment, StatusBeta, StatusStable, StatusMaintenance, StatusDeprecated, StatusEndOfLife:
		return true
	default:
		return false
	}
}

type Series struct {
	Name              string    `yaml:"name"`
	Major             int       `yaml:"major"`
	Minor             int       `yaml:"minor"`
	ReleaseDate       time.Time `yaml:"release_date,omitempty"`
	EndOfSupport      time.Time `yaml:"end_of_support,omitempty"`
	LTS               bool      `yaml:"lts,omitempty"`
	Current           bool      `yaml:"current,omitempty"`
	Status            Status    `yaml:"status"`
	PythonVersion     string    `yaml:"python_version,omitempty"`
	PostgreSQLVersion string    `yaml:"postgresql_version,omitempty"`
}

// Code is a sortable representation of the series, "018.000" for 18.0.
func (s Series) Code() string {
	return fmt.Sprintf("%03d.%03d", s.Major, s.Minor)
}

func (s Series) IsSupported(today time.Time) bool {
	switch s.Status {
	case StatusDeprecated, StatusEndOfLife:
		return false
	}

	if !s.EndOfSupport.IsZero() {
		return !s.EndOfSupport.Before(truncateDay(today))
	}

	return true
}

// Compatible reports whether a module version such as "18.0.1.0.0" targets
// the series.
func (s Series) Compatible(moduleVersion string) bool {
	return version.CompatibilityTag(moduleVersion, "") == s.Name
}

func (s Series) Compare(o Series) int {
	if c := cmp.Compare(s.Major, o.Major); c != 0 {
		return c
	}

	return cmp.Compare(s.Minor, o.Minor)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

type Catalog []Series

var (
	ErrDuplicateSeries = errors.New("duplicate series")
	ErrInvalidSeries   = errors.New("invalid series")
)

func (c Catalog) Validate() error {
	seen := map[string]struct{}{}
	for _, s := range c {
		if _, exists := seen[s.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateSeries, s.Name)
		}
		seen[s.Name] = struct{}{}

		if want := strconv.Itoa(s.Major) + "." + strconv.Itoa(s.Minor); s.Name != want {
			return fmt.Errorf("%w: name %q does not match %s", ErrInvalidSeries, s.Name, want)
		}

		if !s.Status.Valid() {
			return fmt.Errorf("%w: %s has unknown status %q", ErrInvalidSeries, s.Name, s.Status)
		}
	}

	return nil
}

// Find returns the series a version string belongs to.
func (c Catalog) Find(versionString string) (Series, bool) {
	tag := version.CompatibilityTag(versionString, "")
	for _, s := range c {
		if s.Name == tag {
			return s, true
		}
	}

	return Series{}, false
}

func (c Catalog) Current() (Series, bool) {
	for _, s := range c {
		if s.Current {
			return s, true
		}
	}

	return Series{}, false
}

func (c Catalog) Supported(today time.Time) Catalog {
	var supported Catalog
	for _, s := range c {
		if s.IsSupported(today) {
			supported = append(supported, s)
		}
	}

	return supported
}

// LTS returns the long term support series, in catalog order.
func (c Catalog) LTS() Catalog {
	var lts Catalog
	for _, s := range c {
		if s.LTS {
			lts = append(lts, s)
		}
	}

	return lts
}

// Sorted returns a copy of the catalog, newest series first.
func (c Catalog) Sorted() Catalog {
	sorted := slices.Clone(c)
	slices.SortFunc(sorted, func(a, b Series) int {
		return b.Compare(a)
	})

	return sorted
}

// Names returns the series names, in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for _, s := range c {
		names = append(names, s.Name)
	}

	return names
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Default is the catalog used when the configuration does not define one.
func Default() Catalog {
	return Catalog{
		{Name: "14.0", Major: 14, Minor: 0, ReleaseDate: date(2020, time.October, 1), EndOfSupport: date(2023, time.November, 1), LTS: true, Status: StatusEndOfLife, PythonVersion: "3.6+", PostgreSQLVersion: "10+"},
		{Name: "15.0", Major: 15, Minor: 0, ReleaseDate: date(2021, time.October, 1), EndOfSupport: date(2024, time.November, 1), LTS: true, Status: StatusEndOfLife, PythonVersion: "3.7+", PostgreSQLVersion: "10+"},
		{Name: "16.0", Major: 16, Minor: 0, ReleaseDate: date(2022, time.October, 12), EndOfSupport: date(2025, time.November, 1), LTS: true, Status: StatusMaintenance, PythonVersion: "3.7+", PostgreSQLVersion: "12+"},
		{Name: "17.0", Major: 17, Minor: 0, ReleaseDate: date(2023, time.November, 8), EndOfSupport: date(2026, time.November, 1), LTS: true, Status: StatusStable, PythonVersion: "3.10+", PostgreSQLVersion: "12+"},
		{Name: "18.0", Major: 18, Minor: 0, ReleaseDate: date(2024, time.October, 2), EndOfSupport: date(2027, time.November, 1), LTS: true, Current: true, Status: StatusStable, PythonVersion: "3.10+", PostgreSQLVersion: "13+"},
	}
}
