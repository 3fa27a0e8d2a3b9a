package manifest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SyntaxError reports a position in the manifest that is not a supported
// Python literal.
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("manifest:%d:%d: %s", e.Line, e.Column, e.Msg)
}

var ErrNotDict = errors.New("manifest is not a dict literal")

// Parse evaluates the literal expression held by a manifest file. Dicts
// become map[string]any, lists and tuples []any, numbers int64 or float64,
// None nil.
func Parse(data []byte) (map[string]any, error) {
	p := &parser{src: string(data), line: 1, col: 1}

	p.skipSpace()
	value, err := p.value()
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q after literal", p.peek())
	}

	dict, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotDict, value)
	}

	return dict, nil
}

// MaxDepth is the deepest nesting of dicts, lists and tuples Parse accepts.
const MaxDepth = 100

type parser struct {
	src   string
	pos   int
	line  int
	col   int
	depth int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}

	return p.src[p.pos]
}

func (p *parser) advance(n int) {
	for i := 0; i < n && !p.eof(); i++ {
		if p.src[p.pos] == '\n' {
			p.line++
			p.col = 1
		} else {
			p.col++
		}
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Line: p.line, Column: p.col, Msg: fmt.Sprintf(format, args...)}
}

// skipSpace skips whitespace, comments and line continuations.
func (p *parser) skipSpace() {
	for !p.eof() {
		switch c := p.peek(); {
		case c == ' ', c == '\t', c == '\n', c == '\r', c == '\f':
			p.advance(1)
		case c == '\\' && strings.HasPrefix(p.src[p.pos:], "\\\n"):
			p.advance(2)
		case c == '#':
			for !p.eof() && p.peek() != '\n' {
				p.advance(1)
			}
		default:
			return
		}
	}
}

func (p *parser) value() (any, error) {
	if p.eof() {
		return nil, p.errorf("unexpected end of manifest")
	}

	switch c := p.peek(); c {
	case '{', '[', '(':
		if p.depth >= MaxDepth {
			return nil, p.errorf("literal nested deeper than %d levels", MaxDepth)
		}

		p.depth++
		defer func() { p.depth-- }()
	}

	switch c := p.peek(); {
	case c == '{':
		return p.dict()
	case c == '[':
		items, _, err := p.sequence('[', ']')
		return items, err
	case c == '(':
		return p.tuple()
	case c == '"', c == '\'', p.stringPrefix() > 0:
		return p.concatenatedStrings()
	case c == '-', c == '+', c == '.', isDigit(c):
		return p.number()
	case isIdentStart(c):
		return p.keyword()
	default:
		return nil, p.errorf("unexpected %q", c)
	}
}

func (p *parser) dict() (any, error) {
	p.advance(1)

	dict := map[string]any{}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.advance(1)
			return dict, nil
		}

		rawKey, err := p.value()
		if err != nil {
			return nil, err
		}

		key, ok := rawKey.(string)
		if !ok {
			key = fmt.Sprint(rawKey)
		}

		p.skipSpace()
		if p.peek() != ':' {
			return nil, p.errorf("expected ':' after dict key %q", key)
		}
		p.advance(1)

		p.skipSpace()
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		dict[key] = value

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.advance(1)
		case '}':
		default:
			return nil, p.errorf("expected ',' or '}' in dict")
		}
	}
}

// sequence also reports whether the last item was followed by a comma.
func (p *parser) sequence(open, closing byte) ([]any, bool, error) {
	if p.peek() != open {
		return nil, false, p.errorf("expected %q", open)
	}
	p.advance(1)

	items := []any{}
	trailingComma := false
	for {
		p.skipSpace()
		if p.peek() == closing {
			p.advance(1)
			return items, trailingComma, nil
		}

		if p.eof() {
			return nil, false, p.errorf("unterminated sequence, expected %q", closing)
		}

		item, err := p.value()
		if err != nil {
			return nil, false, err
		}
		items = append(items, item)
		trailingComma = false

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.advance(1)
			trailingComma = true
		case closing:
		default:
			return nil, false, p.errorf("expected ',' or %q in sequence", closing)
		}
	}
}

// tuple also accepts a parenthesized expression, which is how long strings
// are usually wrapped in manifests.
func (p *parser) tuple() (any, error) {
	items, trailingComma, err := p.sequence('(', ')')
	if err != nil {
		return nil, err
	}

	if len(items) == 1 && !trailingComma {
		return items[0], nil
	}

	return items, nil
}

func (p *parser) keyword() (any, error) {
	start := p.pos
	for !p.eof() && (isIdentStart(p.peek()) || isDigit(p.peek())) {
		p.advance(1)
	}

	switch word := p.src[start:p.pos]; word {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	default:
		return nil, p.errorf("unsupported name %q", word)
	}
}

func (p *parser) number() (any, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.advance(1)
	}

	isFloat := false
	for !p.eof() {
		c := p.peek()
		switch {
		case isDigit(c), c == '_':
		case c == '.', c == 'e', c == 'E':
			isFloat = true
		case (c == '-' || c == '+') && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E'):
		default:
			return p.convertNumber(p.src[start:p.pos], isFloat)
		}
		p.advance(1)
	}

	return p.convertNumber(p.src[start:p.pos], isFloat)
}

func (p *parser) convertNumber(text string, isFloat bool) (any, error) {
	text = strings.ReplaceAll(text, "_", "")

	if !isFloat {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf("invalid number %q", text)
	}

	return f, nil
}

// stringPrefix returns the length of a string prefix such as r, u, b or rb
// when it is directly followed by a quote.
func (p *parser) stringPrefix() int {
	for n := 1; n <= 2 && p.pos+n < len(p.src); n++ {
		prefix := strings.ToLower(p.src[p.pos : p.pos+n])
		if strings.Trim(prefix, "rub") != "" {
			return 0
		}

		if q := p.src[p.pos+n]; q == '"' || q == '\'' {
			return n
		}
	}

	return 0
}

// concatenatedStrings parses one or more adjacent string literals and concatenates them.
func (p *parser) concatenatedStrings() (any, error) {
	var b strings.Builder
	for {
		s, err := p.stringLiteral()
		if err != nil {
			return nil, err
		}
		b.WriteString(s)

		p.skipSpace()
		if c := p.peek(); c != '"' && c != '\'' && p.stringPrefix() == 0 {
			return b.String(), nil
		}
	}
}

func (p *parser) stringLiteral() (string, error) {
	raw := false
	if n := p.stringPrefix(); n > 0 {
		raw = strings.ContainsAny(p.src[p.pos:p.pos+n], "rR")
		p.advance(n)
	}

	quote := p.src[p.pos : p.pos+1]
	if strings.HasPrefix(p.src[p.pos:], strings.Repeat(quote, 3)) {
		quote = strings.Repeat(quote, 3)
	}
	p.advance(len(quote))

	var b strings.Builder
	for {
		if p.eof() {
			return "", p.errorf("unterminated string")
		}

		if strings.HasPrefix(p.src[p.pos:], quote) {
			p.advance(len(quote))
			return b.String(), nil
		}

		c := p.peek()
		switch {
		case c == '\n' && len(quote) == 1:
			return "", p.errorf("newline in string")
		case c == '\\' && raw:
			b.WriteString(p.src[p.pos : p.pos+min(2, len(p.src)-p.pos)])
			p.advance(2)
		case c == '\\':
			if err := p.escape(&b); err != nil {
				return "", err
			}
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			b.WriteRune(r)
			p.advance(size)
		}
	}
}

func (p *parser) escape(b *strings.Builder) error {
	p.advance(1)
	if p.eof() {
		return p.errorf("unterminated escape")
	}

	c := p.peek()
	p.advance(1)

	switch c {
	case '\n':
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case '0', '1', '2', '3', '4', '5', '6', '7':
		code := rune(c - '0')
		for i := 0; i < 2 && isOctal(p.peek()); i++ {
			code = code*8 + rune(p.peek()-'0')
			p.advance(1)
		}
		b.WriteRune(code)
	case 'x', 'u', 'U':
		width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		if p.pos+width > len(p.src) {
			return p.errorf("truncated \\%c escape", c)
		}

		code, err := strconv.ParseUint(p.src[p.pos:p.pos+width], 16, 32)
		if err != nil {
			return p.errorf("invalid \\%c escape", c)
		}
		b.WriteRune(rune(code))
		p.advance(width)
	default:
		b.WriteByte('\\')
		b.WriteByte(c)
	}

	return nil
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isOctal(c byte) bool {
	return '0' <= c && c <= '7'
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
