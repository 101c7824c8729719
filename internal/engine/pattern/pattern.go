// Package pattern tokenizes generator pattern strings into literal spans and
// typed expression tokens. The scanner is a flat left-to-right pass; nesting
// comes from re-parsing child patterns during evaluation, never from the
// tokenizer itself. Anything unrecognized falls back to literal text.
package pattern

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/RolldeoDev/rolldeo-go/internal/engine/dice"
)

// Token is one element of a tokenized pattern.
type Token interface{ token() }

// Literal is a run of plain text.
type Literal struct {
	Text string
}

// Dice is a {{dice:EXPR}} or bare {{2d6}} roll.
type Dice struct {
	Expr string
}

// Math is a {{math:EXPR}} arithmetic evaluation.
type Math struct {
	Expr string
}

// Variable is a {{$name}} or {{$alias.name}} reference.
type Variable struct {
	Alias string
	Name  string
}

// Placeholder is a {{@name}} or {{@name.property}} reference.
type Placeholder struct {
	Name     string
	Property string
}

// TableRef is a {{id}}, {{alias.id}} or {{ns.id}} roll, resolved at
// evaluation time.
type TableRef struct {
	Ref string
}

// CountSpec is the multiplier of a multi-roll: a literal integer, a $variable
// or a dice expression. Exactly one field is set.
type CountSpec struct {
	Literal int
	Var     string
	Dice    string
}

// MultiRoll is {{N*id}}, {{N*unique*id}}, {{NdM*id}} or {{$var*id}}.
type MultiRoll struct {
	Count     CountSpec
	Unique    bool
	Ref       string
	Separator string
	HasSep    bool
}

// CaptureMultiRoll is {{N*id >> $var}} with optional |silent and |"sep".
type CaptureMultiRoll struct {
	MultiRoll
	VarName string
	Silent  bool
}

// CaptureAccess addresses a capture variable: {{$var[0].@a.@b}},
// {{$var.count}}, {{$var.description}}, {{$var|", "}}.
type CaptureAccess struct {
	VarName    string
	Index      *int
	Properties []string
	Separator  string
	HasSep     bool
}

// Collect is {{collect:$var.@prop}} or {{collect:$var.value}}.
type Collect struct {
	VarName   string
	Property  string
	Unique    bool
	Separator string
	HasSep    bool
}

// Again is {{again}}, {{again*N}} or {{again*unique}}.
type Again struct {
	Count  int
	Unique bool
}

// Instance is {{id#name}} memoization.
type Instance struct {
	Ref  string
	Name string
}

func (Literal) token()          {}
func (Dice) token()             {}
func (Math) token()             {}
func (Variable) token()         {}
func (Placeholder) token()      {}
func (TableRef) token()         {}
func (MultiRoll) token()        {}
func (CaptureMultiRoll) token() {}
func (CaptureAccess) token()    {}
func (Collect) token()          {}
func (Again) token()            {}
func (Instance) token()         {}

var (
	refRe   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*(\.[a-zA-Z_][a-zA-Z0-9_-]*)*$`)
	identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)
)

// Tokenize splits a pattern into literal spans and expression tokens.
func Tokenize(p string) []Token {
	var toks []Token
	var lit strings.Builder

	flushLit := func() {
		if lit.Len() > 0 {
			toks = append(toks, Literal{Text: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(p) {
		// Backslash escapes a following brace pair.
		if p[i] == '\\' && strings.HasPrefix(p[i+1:], "{{") {
			lit.WriteString("{{")
			i += 3
			continue
		}
		if strings.HasPrefix(p[i:], "{{") {
			end := strings.Index(p[i+2:], "}}")
			if end < 0 {
				lit.WriteString(p[i:])
				break
			}
			inner := p[i+2 : i+2+end]
			tok := ParseExpression(inner)
			if l, ok := tok.(Literal); ok && l.Text == "" {
				// Unrecognized: keep the raw braces as text.
				lit.WriteString(p[i : i+2+end+2])
			} else {
				flushLit()
				toks = append(toks, tok)
			}
			i += 2 + end + 2
			continue
		}
		lit.WriteByte(p[i])
		i++
	}
	flushLit()
	return toks
}

// Expression is an extracted {{…}} span with its parsed token, used for
// expression-to-output mapping in the previewer.
type Expression struct {
	Start int
	End   int
	Raw   string
	Token Token
}

// ExtractExpressions returns every {{…}} span of the pattern in order.
// Unrecognized expressions are reported with a Literal token holding the
// raw span.
func ExtractExpressions(p string) []Expression {
	var out []Expression
	i := 0
	for i < len(p) {
		if p[i] == '\\' && strings.HasPrefix(p[i+1:], "{{") {
			i += 3
			continue
		}
		if strings.HasPrefix(p[i:], "{{") {
			end := strings.Index(p[i+2:], "}}")
			if end < 0 {
				break
			}
			raw := p[i : i+2+end+2]
			inner := p[i+2 : i+2+end]
			tok := ParseExpression(inner)
			if l, ok := tok.(Literal); ok && l.Text == "" {
				tok = Literal{Text: raw}
			}
			out = append(out, Expression{Start: i, End: i + len(raw), Raw: raw, Token: tok})
			i += len(raw)
			continue
		}
		i++
	}
	return out
}

// ParseExpression classifies the inside of a {{…}} pair. An empty Literal
// signals an unrecognized expression.
func ParseExpression(inner string) Token {
	s := strings.TrimSpace(inner)
	if s == "" {
		return Literal{}
	}

	switch {
	case strings.HasPrefix(s, "dice:"):
		expr := strings.TrimSpace(s[len("dice:"):])
		if expr == "" {
			return Literal{}
		}
		return Dice{Expr: expr}
	case strings.HasPrefix(s, "math:"):
		expr := strings.TrimSpace(s[len("math:"):])
		if expr == "" {
			return Literal{}
		}
		return Math{Expr: expr}
	case strings.HasPrefix(s, "collect:"):
		return parseCollect(s[len("collect:"):])
	}

	if s == "again" || strings.HasPrefix(s, "again*") {
		return parseAgain(s)
	}

	if idx := strings.Index(s, ">>"); idx >= 0 {
		return parseCaptureMultiRoll(s[:idx], s[idx+2:])
	}

	body, flags := splitFlags(s)

	if strings.HasPrefix(body, "$") {
		return parseDollar(body, flags)
	}
	if strings.HasPrefix(body, "@") {
		return parsePlaceholder(body, flags)
	}
	if dice.IsExpression(body) && len(flags) == 0 {
		return Dice{Expr: body}
	}
	if idx := strings.Index(body, "#"); idx > 0 {
		ref, name := body[:idx], body[idx+1:]
		if refRe.MatchString(ref) && identRe.MatchString(name) && len(flags) == 0 {
			return Instance{Ref: ref, Name: name}
		}
		return Literal{}
	}
	if strings.Contains(body, "*") {
		return parseMultiRoll(body, flags)
	}
	if refRe.MatchString(body) && len(flags) == 0 {
		return TableRef{Ref: body}
	}
	return Literal{}
}

// splitFlags separates "body|flag|flag" respecting quoted separators.
func splitFlags(s string) (string, []string) {
	var parts []string
	var cur strings.Builder
	inQuote := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
			cur.WriteByte(c)
		case c == '|':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	body := strings.TrimSpace(parts[0])
	var flags []string
	for _, f := range parts[1:] {
		flags = append(flags, strings.TrimSpace(f))
	}
	return body, flags
}

// applyFlags interprets trailing |flags: "silent", "unique" keywords and a
// quoted (or bare) separator string.
func applyFlags(flags []string) (silent, unique, hasSep bool, sep string) {
	for _, f := range flags {
		switch {
		case f == "silent":
			silent = true
		case f == "unique":
			unique = true
		case len(f) >= 2 && (f[0] == '"' || f[0] == '\'') && f[len(f)-1] == f[0]:
			sep = f[1 : len(f)-1]
			hasSep = true
		case f != "":
			sep = f
			hasSep = true
		}
	}
	return
}

func parseAgain(s string) Token {
	if s == "again" {
		return Again{Count: 1}
	}
	arg := s[len("again*"):]
	if arg == "unique" {
		return Again{Count: 1, Unique: true}
	}
	if n, err := strconv.Atoi(arg); err == nil && n > 0 {
		return Again{Count: n}
	}
	return Literal{}
}

func parseCollect(s string) Token {
	body, flags := splitFlags(strings.TrimSpace(s))
	if !strings.HasPrefix(body, "$") {
		return Literal{}
	}
	rest := body[1:]
	dot := strings.Index(rest, ".")
	if dot <= 0 {
		return Literal{}
	}
	name, prop := rest[:dot], rest[dot+1:]
	if !identRe.MatchString(name) {
		return Literal{}
	}
	switch {
	case prop == "value":
	case strings.HasPrefix(prop, "@") && identRe.MatchString(prop[1:]):
		prop = prop[1:]
	default:
		return Literal{}
	}
	_, unique, hasSep, sep := applyFlags(flags)
	return Collect{VarName: name, Property: prop, Unique: unique, Separator: sep, HasSep: hasSep}
}

func parsePlaceholder(body string, flags []string) Token {
	if len(flags) != 0 {
		return Literal{}
	}
	rest := body[1:]
	name, prop := rest, ""
	if dot := strings.Index(rest, "."); dot >= 0 {
		name, prop = rest[:dot], rest[dot+1:]
	}
	if !identRe.MatchString(name) || name == "" {
		return Literal{}
	}
	if prop != "" && !identRe.MatchString(prop) {
		return Literal{}
	}
	return Placeholder{Name: name, Property: prop}
}

// parseDollar handles everything that starts with $: plain variables,
// alias-qualified variables, capture access chains and $var*table
// multi-rolls.
func parseDollar(body string, flags []string) Token {
	if star := strings.Index(body, "*"); star > 0 {
		return parseMultiRoll(body, flags)
	}

	rest := body[1:]
	if rest == "" {
		return Literal{}
	}

	name := rest
	var index *int
	var chain string

	if br := strings.Index(rest, "["); br >= 0 {
		rb := strings.Index(rest, "]")
		if rb < br {
			return Literal{}
		}
		n, err := strconv.Atoi(rest[br+1 : rb])
		if err != nil {
			return Literal{}
		}
		name = rest[:br]
		index = &n
		chain = strings.TrimPrefix(rest[rb+1:], ".")
	} else if dot := strings.Index(rest, "."); dot >= 0 {
		name = rest[:dot]
		chain = rest[dot+1:]
	}

	if !identRe.MatchString(name) {
		return Literal{}
	}

	if index == nil && chain == "" {
		// Bare {{$name}} — a separator flag still forces capture semantics.
		_, _, hasSep, sep := applyFlags(flags)
		if hasSep {
			return CaptureAccess{VarName: name, Separator: sep, HasSep: true}
		}
		if len(flags) != 0 {
			return Literal{}
		}
		return Variable{Name: name}
	}

	if chain != "" {
		props, ok := parseChain(chain)
		if !ok {
			// $alias.name import-qualified variable.
			if index == nil && len(flags) == 0 && identRe.MatchString(chain) {
				return Variable{Alias: name, Name: chain}
			}
			return Literal{}
		}
		_, _, hasSep, sep := applyFlags(flags)
		return CaptureAccess{VarName: name, Index: index, Properties: props, Separator: sep, HasSep: hasSep}
	}

	_, _, hasSep, sep := applyFlags(flags)
	return CaptureAccess{VarName: name, Index: index, Separator: sep, HasSep: hasSep}
}

// parseChain parses ".@a.@b", ".count", ".description", ".value" property
// chains. Terminal keywords may only appear last.
func parseChain(chain string) ([]string, bool) {
	parts := strings.Split(chain, ".")
	var props []string
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, "@") && identRe.MatchString(part[1:]):
			props = append(props, part[1:])
		case part == "count" || part == "description" || part == "value":
			if i != len(parts)-1 {
				return nil, false
			}
			props = append(props, part)
		default:
			return nil, false
		}
	}
	return props, true
}

func parseMultiRoll(body string, flags []string) Token {
	parts := strings.Split(body, "*")
	if len(parts) < 2 || len(parts) > 3 {
		return Literal{}
	}

	count, ok := parseCount(strings.TrimSpace(parts[0]))
	if !ok {
		return Literal{}
	}

	unique := false
	ref := strings.TrimSpace(parts[len(parts)-1])
	if len(parts) == 3 {
		if strings.TrimSpace(parts[1]) != "unique" {
			return Literal{}
		}
		unique = true
	}
	if !refRe.MatchString(ref) {
		return Literal{}
	}

	_, uniqueFlag, hasSep, sep := applyFlags(flags)
	return MultiRoll{
		Count:     count,
		Unique:    unique || uniqueFlag,
		Ref:       ref,
		Separator: sep,
		HasSep:    hasSep,
	}
}

func parseCount(s string) (CountSpec, bool) {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return CountSpec{Literal: n}, true
	}
	if strings.HasPrefix(s, "$") && identRe.MatchString(s[1:]) {
		return CountSpec{Var: s[1:]}, true
	}
	if dice.IsExpression(s) {
		return CountSpec{Dice: s}, true
	}
	return CountSpec{}, false
}

func parseCaptureMultiRoll(left, right string) Token {
	body, lflags := splitFlags(strings.TrimSpace(left))
	mr := parseMultiRoll(body, lflags)
	roll, ok := mr.(MultiRoll)
	if !ok {
		return Literal{}
	}

	target, rflags := splitFlags(strings.TrimSpace(right))
	if !strings.HasPrefix(target, "$") || !identRe.MatchString(target[1:]) {
		return Literal{}
	}
	silent, _, hasSep, sep := applyFlags(rflags)
	if hasSep {
		roll.Separator = sep
		roll.HasSep = true
	}
	return CaptureMultiRoll{MultiRoll: roll, VarName: target[1:], Silent: silent}
}
