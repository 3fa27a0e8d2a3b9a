// Package manifest reads Odoo addon manifests (__manifest__.py and the
// legacy __openerp__.py).
package manifest

import (
	"fmt"

	"github.com/Thiht/addons-registry/version"
)

const DefaultCategory = "Uncategorized"

type ExternalDependencies struct {
	Python []string `json:"python,omitempty"`
	Bin    []string `json:"bin,omitempty"`
}

type Manifest struct {
	Name                 string
	Version              string
	Summary              string
	Description          string
	Author               string
	Website              string
	License              string
	Category             string
	Depends              []string
	Data                 []string
	Demo                 []string
	ExternalDependencies ExternalDependencies
	Installable          bool
	AutoInstall          bool
	Application          bool

	// Raw holds every key of the manifest, including the ones above.
	Raw map[string]any
}

// Decode parses a manifest file. Known keys holding a value of the wrong type
// are ignored and keep their default.
func Decode(data []byte) (Manifest, error) {
	raw, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m := Manifest{
		Name:        stringValue(raw, "name"),
		Version:     stringValue(raw, "version"),
		Summary:     stringValue(raw, "summary"),
		Description: stringValue(raw, "description"),
		Author:      stringValue(raw, "author"),
		Website:     stringValue(raw, "website"),
		License:     stringValue(raw, "license"),
		Category:    stringValue(raw, "category"),
		Depends:     stringsValue(raw, "depends"),
		Data:        stringsValue(raw, "data"),
		Demo:        stringsValue(raw, "demo"),
		Installable: boolValue(raw, "installable", true),
		AutoInstall: boolValue(raw, "auto_install", false),
		Application: boolValue(raw, "application", false),
		Raw:         raw,
	}

	if m.Category == "" {
		m.Category = DefaultCategory
	}

	if external, ok := raw["external_dependencies"].(map[string]any); ok {
		m.ExternalDependencies = ExternalDependencies{
			Python: stringsValue(external, "python"),
			Bin:    stringsValue(external, "bin"),
		}
	}

	return m, nil
}

// Series returns the Odoo series the manifest version targets, e.g. "18.0"
// for "18.0.1.0.0".
func (m Manifest) Series(fallback string) string {
	return version.CompatibilityTag(m.Version, fallback)
}

func stringValue(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

func stringsValue(raw map[string]any, key string) []string {
	items, ok := raw[key].([]any)
	if !ok {
		return nil
	}

	values := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			values = append(values, s)
		}
	}

	return values
}

// boolValue accepts the integer flags some old manifests use.
func boolValue(raw map[string]any, key string, fallback bool) bool {
	switch v := raw[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	default:
		return fallback
	}
}
