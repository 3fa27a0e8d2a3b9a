// Package version parses the free-form version strings found in addon
// manifests and orders them.
//
// Parsing never fails: strings without digits parse to the zero version.
// Digits embedded in prerelease qualifiers are kept, so "2.1.0-beta3" parses
// to 2.1.0.3 and is flagged as a prerelease.
package version

import (
	"math"
	"strconv"
	"strings"
)

// Size is the number of numeric components kept from a version string.
const Size = 4

var prereleaseMarkers = []string{"alpha", "beta", "rc", "dev", "pre"}

// Parsed is the comparable form of a version string.
type Parsed struct {
	Components [Size]int
	Prerelease bool
}

func Parse(version string) Parsed {
	version = strings.ToLower(strings.TrimSpace(version))
	if version == "" {
		return Parsed{}
	}

	var parsed Parsed
	for _, marker := range prereleaseMarkers {
		if strings.Contains(version, marker) {
			parsed.Prerelease = true
			break
		}
	}

	// "v." is checked first so that "v.18.0" does not leave a leading dot behind.
	if rest, ok := strings.CutPrefix(version, "v."); ok {
		version = rest
	} else {
		version = strings.TrimPrefix(version, "v")
	}

	n := 0
	for i := 0; i < len(version) && n < Size; {
		if !isDigit(version[i]) {
			i++
			continue
		}

		j := i
		for j < len(version) && isDigit(version[j]) {
			j++
		}

		parsed.Components[n] = atoi(version[i:j])
		n++
		i = j
	}

	return parsed
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

// atoi saturates instead of failing on runs too large for an int.
func atoi(digits string) int {
	value, err := strconv.Atoi(digits)
	if err != nil {
		return math.MaxInt
	}

	return value
}

// IsZero reports whether no numeric component was found.
func (p Parsed) IsZero() bool {
	return p.Components == [Size]int{}
}

func (p Parsed) rank() int {
	if p.Prerelease {
		return -1
	}

	return 0
}

// Compare returns -1, 0 or +1 depending on whether p orders before, equal to
// or after o. A prerelease orders before a final release with the same
// components.
func (p Parsed) Compare(o Parsed) int {
	for i := range Size {
		switch {
		case p.Components[i] < o.Components[i]:
			return -1
		case p.Components[i] > o.Components[i]:
			return 1
		}
	}

	switch {
	case p.rank() < o.rank():
		return -1
	case p.rank() > o.rank():
		return 1
	default:
		return 0
	}
}

func (p Parsed) String() string {
	var b strings.Builder
	for i, component := range p.Components {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(component))
	}

	if p.Prerelease {
		b.WriteString("-pre")
	}

	return b.String()
}

// Compare parses a and b and compares them with [Parsed.Compare].
func Compare(a, b string) int {
	return Parse(a).Compare(Parse(b))
}

// CompatibilityTag returns the "major.minor" series of a version string,
// e.g. "18.0" for "18.0.1.2.3". Versions without a positive major component
// return fallback.
func CompatibilityTag(version, fallback string) string {
	parsed := Parse(version)
	if parsed.Components[0] <= 0 {
		return fallback
	}

	return strconv.Itoa(parsed.Components[0]) + "." + strconv.Itoa(parsed.Components[1])
}
