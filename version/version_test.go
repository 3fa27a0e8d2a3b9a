package version

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		components [Size]int
		prerelease bool
	}{
		{name: "empty", version: ""},
		{name: "blank", version: "   "},
		{name: "no digits", version: "abc"},
		{name: "odoo module version", version: "18.0.1.2.3", components: [Size]int{18, 0, 1, 2}},
		{name: "short version", version: "1.0", components: [Size]int{1, 0, 0, 0}},
		{name: "v prefix", version: "v18.0", components: [Size]int{18, 0, 0, 0}},
		{name: "v. prefix", version: "v.18.0", components: [Size]int{18, 0, 0, 0}},
		{name: "uppercase v prefix", version: " V2.1 ", components: [Size]int{2, 1, 0, 0}},
		{name: "beta", version: "2.1.0-beta", components: [Size]int{2, 1, 0, 0}, prerelease: true},
		{name: "digits in qualifier", version: "2.1.0-beta3", components: [Size]int{2, 1, 0, 3}, prerelease: true},
		{name: "release candidate", version: "1.0rc1", components: [Size]int{1, 0, 1, 0}, prerelease: true},
		{name: "uppercase marker", version: "3.0-ALPHA", components: [Size]int{3, 0, 0, 0}, prerelease: true},
		{name: "dev marker", version: "17.0.1.0.0.dev", components: [Size]int{17, 0, 1, 0}, prerelease: true},
		{name: "pre marker inside word", version: "1.0-preview", components: [Size]int{1, 0, 0, 0}, prerelease: true},
		{name: "final", version: "2.1.0", components: [Size]int{2, 1, 0, 0}},
		{name: "garbage between digits", version: "x1y2z3", components: [Size]int{1, 2, 3, 0}},
		{name: "overflow saturates", version: "99999999999999999999999.1", components: [Size]int{math.MaxInt, 1, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.version)
			assert.Equal(t, tt.components, got.Components)
			assert.Equal(t, tt.prerelease, got.Prerelease)
		})
	}
}

func TestParsePrefixIsInsignificant(t *testing.T) {
	assert.Equal(t, Parse("18.0"), Parse("v18.0"))
	assert.Equal(t, Parse("18.0"), Parse("v.18.0"))
}

func TestParseIsZero(t *testing.T) {
	assert.True(t, Parse("").IsZero())
	assert.True(t, Parse("garbage").IsZero())
	assert.False(t, Parse("0.1").IsZero())
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{a: "2.1.0-beta", b: "2.1.0", want: -1},
		{a: "2.1.0", b: "2.1.0-beta", want: 1},
		{a: "18.0.1.0.0", b: "18.0.2.0.0", want: -1},
		{a: "18.0.2.0.0", b: "17.0.9.0.0", want: 1},
		{a: "1.0", b: "1.0.0.0", want: 0},
		{a: "v1.2", b: "1.2", want: 0},
		{a: "", b: "abc", want: 0},
		{a: "", b: "0.0.0.1", want: -1},
		{a: "18.0.1.2.3", b: "18.0.1.2.9", want: 0},
		{a: "1.10", b: "1.9", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestCompareTotalOrder(t *testing.T) {
	versions := []string{
		"", "abc", "0.1", "1", "1.0", "1.0.0-beta", "1.0.0-rc1", "1.0.0",
		"v1.0.1", "1.1.0-dev", "1.1.0", "2.1.0-beta3", "2.1.0.3", "17.0.1.0.0",
		"18.0.1.0.0", "18.0.1.0.0-alpha", "v.18.0", "18.0.2.0.0",
	}

	for _, x := range versions {
		assert.Equal(t, 0, Compare(x, x), "reflexive for %q", x)

		for _, y := range versions {
			assert.Equal(t, -Compare(y, x), Compare(x, y), "antisymmetric for %q and %q", x, y)

			for _, z := range versions {
				if Compare(x, y) <= 0 && Compare(y, z) <= 0 {
					assert.LessOrEqual(t, Compare(x, z), 0, "transitive for %q <= %q <= %q", x, y, z)
				}
			}
		}
	}
}

func TestCompatibilityTag(t *testing.T) {
	tests := []struct {
		version  string
		fallback string
		want     string
	}{
		{version: "18.0.1.0.0", fallback: "0.0", want: "18.0"},
		{version: "garbage", fallback: "18.0", want: "18.0"},
		{version: "", fallback: "17.0", want: "17.0"},
		{version: "v16.0.2", fallback: "", want: "16.0"},
		{version: "0.3.1", fallback: "18.0", want: "18.0"},
		{version: "12", fallback: "", want: "12.0"},
		{version: "2.1.0-beta3", fallback: "", want: "2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, CompatibilityTag(tt.version, tt.fallback))
		})
	}
}

func TestParsedString(t *testing.T) {
	assert.Equal(t, "18.0.1.2", Parse("18.0.1.2.3").String())
	assert.Equal(t, "2.1.0.0-pre", Parse("2.1.0-beta").String())
	assert.Equal(t, "0.0.0.0", Parse("").String())
}
