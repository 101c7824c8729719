// Package dice parses and rolls dice expressions of the form
// NdM[khK|klK|!][+N|-N|*N], e.g. "2d6+3", "4d6kh3", "3d8!".
package dice

import (
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultMaxExplosions bounds how many extra dice an exploding roll may add.
const DefaultMaxExplosions = 20

// KeepMode selects which rolled dice count toward the total.
type KeepMode int

const (
	KeepAll KeepMode = iota
	KeepHighest
	KeepLowest
)

// Expression is a parsed dice expression.
type Expression struct {
	Count     int
	Sides     int
	Keep      KeepMode
	KeepN     int
	Exploding bool
	// Op is '+', '-' or '*' when a modifier tail is present, 0 otherwise.
	Op       byte
	Operand  int
	Original string
}

// Result is the outcome of rolling an expression.
type Result struct {
	Total     int
	Rolls     []int
	Kept      []int
	Exploded  bool
	Truncated bool
	Breakdown string
}

var exprRe = regexp.MustCompile(`^(\d*)[dD](\d+)(?:(kh|kl|k)(\d+)|(!))?(?:([+\-*])(\d+))?$`)

// Parse parses a dice expression. The count defaults to 1 when omitted.
func Parse(expr string) (*Expression, error) {
	trimmed := strings.TrimSpace(expr)
	m := exprRe.FindStringSubmatch(trimmed)
	if m == nil {
		return nil, fmt.Errorf("invalid dice expression %q", expr)
	}

	e := &Expression{Count: 1, Original: trimmed}
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid dice count %q in %q", m[1], expr)
		}
		e.Count = n
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil || sides < 1 {
		return nil, fmt.Errorf("invalid sides %q in %q", m[2], expr)
	}
	e.Sides = sides

	switch m[3] {
	case "kh", "k":
		e.Keep = KeepHighest
	case "kl":
		e.Keep = KeepLowest
	}
	if m[4] != "" {
		n, err := strconv.Atoi(m[4])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid keep count %q in %q", m[4], expr)
		}
		e.KeepN = n
	}
	if m[5] == "!" {
		e.Exploding = true
	}
	if m[6] != "" {
		e.Op = m[6][0]
		n, err := strconv.Atoi(m[7])
		if err != nil {
			return nil, fmt.Errorf("invalid modifier %q in %q", m[7], expr)
		}
		e.Operand = n
	}
	return e, nil
}

// IsExpression reports whether s parses as a dice expression. Used by the
// pattern tokenizer to classify bare expressions inside braces.
func IsExpression(s string) bool {
	return exprRe.MatchString(strings.TrimSpace(s))
}

// Roller rolls expressions against a random source with a bounded explosion
// count. A nil rng uses the shared package-level source.
type Roller struct {
	rng           *rand.Rand
	maxExplosions int
}

// NewRoller creates a roller. maxExplosions <= 0 selects the default bound.
func NewRoller(rng *rand.Rand, maxExplosions int) *Roller {
	if maxExplosions <= 0 {
		maxExplosions = DefaultMaxExplosions
	}
	return &Roller{rng: rng, maxExplosions: maxExplosions}
}

func (r *Roller) die(sides int) int {
	if r.rng != nil {
		return r.rng.Intn(sides) + 1
	}
	return rand.Intn(sides) + 1
}

// Roll rolls a parsed expression.
func (r *Roller) Roll(e *Expression) *Result {
	res := &Result{}

	for i := 0; i < e.Count; i++ {
		res.Rolls = append(res.Rolls, r.die(e.Sides))
	}
	if e.Exploding {
		extra := 0
		for i := 0; i < len(res.Rolls); i++ {
			if res.Rolls[i] != e.Sides {
				continue
			}
			if extra >= r.maxExplosions {
				res.Truncated = true
				break
			}
			res.Exploded = true
			extra++
			res.Rolls = append(res.Rolls, r.die(e.Sides))
		}
	}

	res.Kept = keep(res.Rolls, e.Keep, e.KeepN)
	for _, v := range res.Kept {
		res.Total += v
	}
	switch e.Op {
	case '+':
		res.Total += e.Operand
	case '-':
		res.Total -= e.Operand
	case '*':
		res.Total *= e.Operand
	}
	res.Breakdown = breakdown(e, res)
	return res
}

// Evaluate parses and rolls expr in one step.
func (r *Roller) Evaluate(expr string) (*Result, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return r.Roll(e), nil
}

func keep(rolls []int, mode KeepMode, n int) []int {
	if mode == KeepAll || n <= 0 || n >= len(rolls) {
		return append([]int(nil), rolls...)
	}
	sorted := append([]int(nil), rolls...)
	if mode == KeepHighest {
		sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	} else {
		sort.Ints(sorted)
	}
	return sorted[:n]
}

func breakdown(e *Expression, res *Result) string {
	var b strings.Builder
	base := e.Original
	if e.Op != 0 {
		if i := strings.LastIndexAny(base, "+-*"); i > 0 {
			base = base[:i]
		}
	}
	b.WriteString(base)
	b.WriteString(" [")
	for i, v := range res.Rolls {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteString("]")
	if e.Op != 0 {
		fmt.Fprintf(&b, " %c%d", e.Op, e.Operand)
	}
	fmt.Fprintf(&b, " = %d", res.Total)
	return b.String()
}
