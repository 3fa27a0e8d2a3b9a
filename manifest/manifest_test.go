package manifest

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const saleManifest = `# Copyright 2024 Example
# License LGPL-3.0 or later (https://www.gnu.org/licenses/lgpl).
{
    "name": "Sale Order Templates",
    "version": "18.0.1.2.0",
    'summary': "Reusable "
               "quotation templates",
    "description": """
Long description
with "quotes" inside.
""",
    "author": "Odoo Community Association (OCA)",
    "website": "https://github.com/OCA/sale-workflow",
    "license": "LGPL-3",
    "depends": ["sale", 'product',],  # trailing comma
    "data": [
        "security/ir.model.access.csv",
        "views/sale_order_template_views.xml",
    ],
    "demo": (),
    "external_dependencies": {"python": ["openupgradelib"], "bin": ("wkhtmltopdf",)},
    "installable": True,
    "auto_install": False,
    "application": 1,
    "sequence": 15,
    "price": 9.99,
    "images": None,
}
`

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(saleManifest))
	require.NoError(t, err)

	assert.Equal(t, "Sale Order Templates", m.Name)
	assert.Equal(t, "18.0.1.2.0", m.Version)
	assert.Equal(t, "Reusable quotation templates", m.Summary)
	assert.Equal(t, "\nLong description\nwith \"quotes\" inside.\n", m.Description)
	assert.Equal(t, "Odoo Community Association (OCA)", m.Author)
	assert.Equal(t, "LGPL-3", m.License)
	assert.Equal(t, DefaultCategory, m.Category)
	assert.Equal(t, []string{"sale", "product"}, m.Depends)
	assert.Equal(t, []string{"security/ir.model.access.csv", "views/sale_order_template_views.xml"}, m.Data)
	assert.Empty(t, m.Demo)
	assert.Equal(t, ExternalDependencies{Python: []string{"openupgradelib"}, Bin: []string{"wkhtmltopdf"}}, m.ExternalDependencies)
	assert.True(t, m.Installable)
	assert.False(t, m.AutoInstall)
	assert.True(t, m.Application)

	assert.Equal(t, int64(15), m.Raw["sequence"])
	assert.InDelta(t, 9.99, m.Raw["price"], 0.0001)
	assert.Contains(t, m.Raw, "images")
	assert.Nil(t, m.Raw["images"])

	assert.Equal(t, "18.0", m.Series("0.0"))
}

func TestDecodeDefaults(t *testing.T) {
	m, err := Decode([]byte(`{'name': 'Minimal', 'installable': 'yes'}`))
	require.NoError(t, err)

	assert.Equal(t, "Minimal", m.Name)
	assert.Empty(t, m.Version)
	assert.Equal(t, DefaultCategory, m.Category)
	assert.True(t, m.Installable)
	assert.Nil(t, m.Depends)
	assert.Equal(t, "18.0", m.Series("18.0"))
}

func TestParseStrings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "escapes", input: `{"k": "a\tb\n\"c\" \\ \x41\u00e9"}`, want: "a\tb\n\"c\" \\ Aé"},
		{name: "raw string", input: `{"k": r"C:\path\n"}`, want: `C:\path\n`},
		{name: "unicode prefix", input: `{"k": u'caf\u00e9'}`, want: "café"},
		{name: "parenthesized concatenation", input: "{\"k\": (\"a\"\n  \"b\")}", want: "ab"},
		{name: "single quote triple", input: "{'k': '''x'y'''}", want: "x'y"},
		{name: "utf-8", input: `{"k": "Gestión de módulos"}`, want: "Gestión de módulos"},
		{name: "line continuation", input: "{\"k\": \"a\" \\\n \"b\"}", want: "ab"},
		{name: "hash inside string", input: `{"k": "#not a comment"}`, want: "#not a comment"},
		{name: "octal escape", input: `{"k": "a\012b\101"}`, want: "a\nbA"},
		{name: "nul escape", input: `{"k": "\0"}`, want: "\x00"},
		{name: "octal escape stops at non octal digit", input: `{"k": "\08"}`, want: "\x008"},
		{name: "octal escape reads at most three digits", input: `{"k": "\1011"}`, want: "A1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got["k"])
		})
	}
}

func TestParseValues(t *testing.T) {
	got, err := Parse([]byte(`{
		"int": -3, "float": 1.5e3, "big": 1_000,
		"tuple": ("a",), "paren": ("a"), "nested": {"x": [1, [2, 3]]},
		1: "numeric key",
	}`))
	require.NoError(t, err)

	assert.Equal(t, int64(-3), got["int"])
	assert.InDelta(t, 1500.0, got["float"], 0.0001)
	assert.Equal(t, int64(1000), got["big"])
	assert.Equal(t, []any{"a"}, got["tuple"])
	assert.Equal(t, "a", got["paren"])
	assert.Equal(t, map[string]any{"x": []any{int64(1), []any{int64(2), int64(3)}}}, got["nested"])
	assert.Equal(t, "numeric key", got["1"])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "function call", input: `{"name": _("Sale")}`},
		{name: "missing colon", input: `{"name" "Sale"}`},
		{name: "unterminated dict", input: `{"name": "Sale"`},
		{name: "unterminated string", input: `{"name": "Sale}`},
		{name: "newline in string", input: "{\"name\": \"Sa\nle\"}"},
		{name: "trailing garbage", input: `{"name": "Sale"} extra`},
		{name: "unterminated list", input: `{"depends": ["sale"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)

			var syntaxErr *SyntaxError
			assert.True(t, errors.As(err, &syntaxErr), "got %T: %v", err, err)
		})
	}
}

func nestedLists(depth int) string {
	return `{"k": ` + strings.Repeat("[", depth) + strings.Repeat("]", depth) + `}`
}

func TestParseNestingLimit(t *testing.T) {
	// The enclosing dict counts as one level.
	got, err := Parse([]byte(nestedLists(MaxDepth - 1)))
	require.NoError(t, err)
	assert.Contains(t, got, "k")

	var syntaxErr *SyntaxError
	_, err = Parse([]byte(nestedLists(MaxDepth)))
	require.ErrorAs(t, err, &syntaxErr)
	assert.Contains(t, syntaxErr.Msg, "nested deeper")

	_, err = Parse([]byte(`{"k": ` + strings.Repeat("(", 1_000_000)))
	require.ErrorAs(t, err, &syntaxErr)

	_, err = Decode([]byte(strings.Repeat(`{"k": `, 1_000_000)))
	require.ErrorAs(t, err, &syntaxErr)
}

func TestParseSyntaxErrorPosition(t *testing.T) {
	_, err := Parse([]byte("{\n  \"name\": _(\"Sale\"),\n}"))

	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, 2, syntaxErr.Line)
}

func TestParseNotDict(t *testing.T) {
	_, err := Parse([]byte(`["sale"]`))
	require.ErrorIs(t, err, ErrNotDict)

	_, err = Decode([]byte(`"just a string"`))
	require.ErrorIs(t, err, ErrNotDict)
}
