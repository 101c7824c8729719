package mathexpr

import "testing"

func noVars(string) (int, bool) { return 0, false }

func TestEvaluate(t *testing.T) {
	vars := func(name string) (int, bool) {
		switch name {
		case "a":
			return 4, true
		case "b":
			return 3, true
		}
		return 0, false
	}

	cases := []struct {
		expr string
		want int
	}{
		{"1 + 2", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 3", 3},
		{"10 % 3", 1},
		{"$a + 1", 5},
		{"$a * $b", 12},
		{"($a + $b) % 5", 2},
		{"7", 7},
	}
	for _, c := range cases {
		got, ok := Evaluate(c.expr, vars)
		if !ok {
			t.Fatalf("%q: unexpected failure", c.expr)
		}
		if got != c.want {
			t.Fatalf("%q = %d, want %d", c.expr, got, c.want)
		}
	}
}

func TestEvaluateFailures(t *testing.T) {
	for _, expr := range []string{
		"",
		"1 +",
		"+ 1 2",
		"(1 + 2",
		"1 + 2)",
		"$missing + 1",
		"1 / 0",
		"5 % 0",
		"two + two",
		"$",
	} {
		if _, ok := Evaluate(expr, noVars); ok {
			t.Fatalf("%q: expected failure", expr)
		}
	}
}
