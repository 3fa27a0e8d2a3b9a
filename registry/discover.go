// Package registry discovers Odoo addons in repository checkouts and
// describes the records kept for each addon version.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/Thiht/addons-registry/manifest"
)

var (
	// ManifestFiles are tried in order in every candidate directory.
	ManifestFiles = []string{"__manifest__.py", "__openerp__.py"}

	// SearchDirs are the directories whose children may be addons.
	SearchDirs = []string{".", "addons", "modules", "odoo-addons", "src"}
)

type Addon struct {
	TechnicalName string
	Path          string
	ManifestFile  string
	Manifest      manifest.Manifest
}

// DiscoverError is returned for every addon whose manifest could not be read.
type DiscoverError struct {
	Path string
	Err  error
}

func (e *DiscoverError) Error() string {
	return fmt.Sprintf("addon %s: %v", e.Path, e.Err)
}

func (e *DiscoverError) Unwrap() error {
	return e.Err
}

// Discover finds the addons of a checkout. A broken manifest does not stop the
// discovery: it is reported in the returned errors and the addon is skipped.
func Discover(fsys fs.FS) ([]Addon, []error) {
	var (
		addons []Addon
		errs   []error
		seen   = map[string]struct{}{}
	)

	for _, dir := range SearchDirs {
		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, &DiscoverError{Path: dir, Err: err})
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			addonPath := path.Join(dir, entry.Name())
			if _, exists := seen[addonPath]; exists {
				continue
			}

			manifestFile, data, err := readManifest(fsys, addonPath)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					errs = append(errs, &DiscoverError{Path: addonPath, Err: err})
				}
				continue
			}
			seen[addonPath] = struct{}{}

			m, err := manifest.Decode(data)
			if err != nil {
				errs = append(errs, &DiscoverError{Path: addonPath, Err: err})
				continue
			}

			addons = append(addons, Addon{
				TechnicalName: entry.Name(),
				Path:          addonPath,
				ManifestFile:  path.Join(addonPath, manifestFile),
				Manifest:      m,
			})
		}
	}

	sort.Slice(addons, func(i, j int) bool {
		return addons[i].Path < addons[j].Path
	})

	return addons, errs
}

func readManifest(fsys fs.FS, dir string) (string, []byte, error) {
	for _, name := range ManifestFiles {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err == nil {
			return name, data, nil
		}

		if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
	}

	return "", nil, fs.ErrNotExist
}
