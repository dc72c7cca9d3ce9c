package messaging

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// ErrInvalidFilter is returned for expressions outside the supported subset of
// the Pub/Sub filter language: conjunctions of attribute equality,
// inequality and presence tests, optionally negated with NOT.
var ErrInvalidFilter = errors.New("invalid subscription filter")

type filterOp int

const (
	opEquals filterOp = iota
	opNotEquals
	opHas
)

type filterClause struct {
	key    string
	value  string
	op     filterOp
	negate bool
}

// Filter is a boolean predicate over message attributes. The zero value
// matches every message.
type Filter struct {
	clauses []filterClause
}

func AttributeEquals(key, value string) Filter {
	return Filter{clauses: []filterClause{{key: key, value: value, op: opEquals}}}
}

func AttributeNotEquals(key, value string) Filter {
	return Filter{clauses: []filterClause{{key: key, value: value, op: opNotEquals}}}
}

func HasAttribute(key string) Filter {
	return Filter{clauses: []filterClause{{key: key, op: opHas}}}
}

func MissingAttribute(key string) Filter {
	return Filter{clauses: []filterClause{{key: key, op: opHas, negate: true}}}
}

// And returns the conjunction of f and other.
func (f Filter) And(other Filter) Filter {
	clauses := make([]filterClause, 0, len(f.clauses)+len(other.clauses))
	clauses = append(clauses, f.clauses...)
	clauses = append(clauses, other.clauses...)
	return Filter{clauses: clauses}
}

func (f Filter) IsZero() bool {
	return len(f.clauses) == 0
}

func (f Filter) Match(attributes map[string]string) bool {
	for _, c := range f.clauses {
		value, present := attributes[c.key]
		var ok bool
		switch c.op {
		case opEquals:
			ok = present && value == c.value
		case opNotEquals:
			ok = !present || value != c.value
		case opHas:
			ok = present
		}
		if c.negate {
			ok = !ok
		}
		if !ok {
			return false
		}
	}
	return true
}

// Equal reports whether f and other select the same messages, ignoring the
// spacing and quoting of the text they were parsed from.
func (f Filter) Equal(other Filter) bool {
	return f.String() == other.String()
}

// String renders the filter in Pub/Sub filter syntax, which is also what
// ParseFilter accepts.
func (f Filter) String() string {
	parts := make([]string, 0, len(f.clauses))
	for _, c := range f.clauses {
		var b strings.Builder
		if c.negate {
			b.WriteString("NOT ")
		}
		switch c.op {
		case opEquals:
			b.WriteString("attributes." + c.key + " = " + strconv.Quote(c.value))
		case opNotEquals:
			b.WriteString("attributes." + c.key + " != " + strconv.Quote(c.value))
		case opHas:
			b.WriteString("attributes:" + c.key)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, " AND ")
}

func ParseFilter(expr string) (Filter, error) {
	tokens, err := tokenizeFilter(expr)
	if err != nil {
		return Filter{}, err
	}
	if len(tokens) == 0 {
		return Filter{}, nil
	}

	p := filterParser{tokens: tokens}
	var f Filter
	for {
		c, err := p.clause()
		if err != nil {
			return Filter{}, errors.Wrapf(err, "parse filter %q", expr)
		}
		f.clauses = append(f.clauses, c)
		if p.done() {
			return f, nil
		}
		if tok := p.next(); tok.kind != tokWord || tok.text != "AND" {
			return Filter{}, errors.Wrapf(ErrInvalidFilter, "parse filter %q: expected AND, got %q", expr, tok.text)
		}
	}
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokDot
	tokColon
	tokEquals
	tokNotEquals
)

type filterToken struct {
	kind tokenKind
	text string
}

func tokenizeFilter(expr string) ([]filterToken, error) {
	var tokens []filterToken
	runes := []rune(expr)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '.':
			tokens = append(tokens, filterToken{kind: tokDot, text: "."})
			i++
		case r == ':':
			tokens = append(tokens, filterToken{kind: tokColon, text: ":"})
			i++
		case r == '=':
			tokens = append(tokens, filterToken{kind: tokEquals, text: "="})
			i++
		case r == '!':
			if i+1 >= len(runes) || runes[i+1] != '=' {
				return nil, errors.Wrapf(ErrInvalidFilter, "unexpected '!' at offset %d", i)
			}
			tokens = append(tokens, filterToken{kind: tokNotEquals, text: "!="})
			i += 2
		case r == '"':
			j := i + 1
			for ; j < len(runes); j++ {
				if runes[j] == '\\' {
					j++
					continue
				}
				if runes[j] == '"' {
					break
				}
			}
			if j >= len(runes) {
				return nil, errors.Wrapf(ErrInvalidFilter, "unterminated string at offset %d", i)
			}
			value, err := strconv.Unquote(string(runes[i : j+1]))
			if err != nil {
				return nil, errors.Wrapf(ErrInvalidFilter, "bad string literal at offset %d", i)
			}
			tokens = append(tokens, filterToken{kind: tokString, text: value})
			i = j + 1
		case isFilterIdent(r):
			j := i
			for j < len(runes) && isFilterIdent(runes[j]) {
				j++
			}
			tokens = append(tokens, filterToken{kind: tokWord, text: string(runes[i:j])})
			i = j
		default:
			return nil, errors.Wrapf(ErrInvalidFilter, "unexpected %q at offset %d", r, i)
		}
	}
	return tokens, nil
}

func isFilterIdent(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}

type filterParser struct {
	tokens []filterToken
	pos    int
}

func (p *filterParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *filterParser) next() filterToken {
	if p.done() {
		return filterToken{kind: tokWord}
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func (p *filterParser) clause() (filterClause, error) {
	var c filterClause
	tok := p.next()
	if tok.kind == tokWord && tok.text == "NOT" {
		c.negate = true
		tok = p.next()
	}
	if tok.kind != tokWord || tok.text != "attributes" {
		return c, errors.Wrapf(ErrInvalidFilter, "expected attributes, got %q", tok.text)
	}

	sep := p.next()
	key := p.next()
	if key.kind != tokWord || key.text == "" {
		return c, errors.Wrapf(ErrInvalidFilter, "expected attribute key, got %q", key.text)
	}
	c.key = key.text

	switch sep.kind {
	case tokColon:
		c.op = opHas
		return c, nil
	case tokDot:
	default:
		return c, errors.Wrapf(ErrInvalidFilter, "expected '.' or ':', got %q", sep.text)
	}

	op := p.next()
	switch op.kind {
	case tokEquals:
		c.op = opEquals
	case tokNotEquals:
		c.op = opNotEquals
	default:
		return c, errors.Wrapf(ErrInvalidFilter, "expected = or !=, got %q", op.text)
	}
	value := p.next()
	if value.kind != tokString {
		return c, errors.Wrapf(ErrInvalidFilter, "expected quoted value, got %q", value.text)
	}
	c.value = value.text
	return c, nil
}
