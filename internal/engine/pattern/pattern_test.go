package pattern

import (
	"reflect"
	"testing"
)

func single(t *testing.T, p string) Token {
	t.Helper()
	toks := Tokenize(p)
	if len(toks) != 1 {
		t.Fatalf("Tokenize(%q) = %d tokens, want 1: %#v", p, len(toks), toks)
	}
	return toks[0]
}

func TestTokenizeLiteralAndTable(t *testing.T) {
	toks := Tokenize("You meet {{npc}} at the {{place}}.")
	want := []Token{
		Literal{Text: "You meet "},
		TableRef{Ref: "npc"},
		Literal{Text: " at the "},
		TableRef{Ref: "place"},
		Literal{Text: "."},
	}
	if !reflect.DeepEqual(toks, want) {
		t.Fatalf("got %#v", toks)
	}
}

func TestTokenizeDice(t *testing.T) {
	if tok := single(t, "{{dice:2d6+3}}"); tok != (Dice{Expr: "2d6+3"}) {
		t.Fatalf("got %#v", tok)
	}
	if tok := single(t, "{{2d6}}"); tok != (Dice{Expr: "2d6"}) {
		t.Fatalf("bare dice: got %#v", tok)
	}
}

func TestTokenizeMath(t *testing.T) {
	if tok := single(t, "{{math:$a + 1}}"); tok != (Math{Expr: "$a + 1"}) {
		t.Fatalf("got %#v", tok)
	}
}

func TestTokenizeVariable(t *testing.T) {
	if tok := single(t, "{{$name}}"); tok != (Variable{Name: "name"}) {
		t.Fatalf("got %#v", tok)
	}
	if tok := single(t, "{{$core.level}}"); tok != (Variable{Alias: "core", Name: "level"}) {
		t.Fatalf("got %#v", tok)
	}
}

func TestTokenizePlaceholder(t *testing.T) {
	if tok := single(t, "{{@creature}}"); tok != (Placeholder{Name: "creature"}) {
		t.Fatalf("got %#v", tok)
	}
	if tok := single(t, "{{@creature.size}}"); tok != (Placeholder{Name: "creature", Property: "size"}) {
		t.Fatalf("got %#v", tok)
	}
	if tok := single(t, "{{@self.description}}"); tok != (Placeholder{Name: "self", Property: "description"}) {
		t.Fatalf("got %#v", tok)
	}
}

func TestTokenizeNamespacedTable(t *testing.T) {
	if tok := single(t, "{{core.monsters.goblins}}"); tok != (TableRef{Ref: "core.monsters.goblins"}) {
		t.Fatalf("got %#v", tok)
	}
}

func TestTokenizeMultiRoll(t *testing.T) {
	tok := single(t, "{{3*enemies}}")
	if tok != (MultiRoll{Count: CountSpec{Literal: 3}, Ref: "enemies"}) {
		t.Fatalf("got %#v", tok)
	}

	tok = single(t, `{{3*unique*enemies|" and "}}`)
	mr, ok := tok.(MultiRoll)
	if !ok || !mr.Unique || mr.Separator != " and " || !mr.HasSep {
		t.Fatalf("got %#v", tok)
	}

	tok = single(t, "{{2d4*loot}}")
	if tok != (MultiRoll{Count: CountSpec{Dice: "2d4"}, Ref: "loot"}) {
		t.Fatalf("got %#v", tok)
	}

	tok = single(t, "{{$n*loot}}")
	if tok != (MultiRoll{Count: CountSpec{Var: "n"}, Ref: "loot"}) {
		t.Fatalf("got %#v", tok)
	}
}

func TestTokenizeCaptureMultiRoll(t *testing.T) {
	tok := single(t, "{{3*unique*enemies >> $foes|silent}}")
	cmr, ok := tok.(CaptureMultiRoll)
	if !ok {
		t.Fatalf("got %#v", tok)
	}
	if cmr.VarName != "foes" || !cmr.Silent || !cmr.Unique || cmr.Ref != "enemies" {
		t.Fatalf("got %#v", cmr)
	}

	tok = single(t, `{{2*loot >> $bag|", "}}`)
	cmr, ok = tok.(CaptureMultiRoll)
	if !ok || cmr.Silent || cmr.Separator != ", " || !cmr.HasSep {
		t.Fatalf("got %#v", tok)
	}
}

func TestTokenizeCaptureAccess(t *testing.T) {
	tok := single(t, "{{$foes[0]}}")
	ca, ok := tok.(CaptureAccess)
	if !ok || ca.VarName != "foes" || ca.Index == nil || *ca.Index != 0 {
		t.Fatalf("got %#v", tok)
	}

	tok = single(t, "{{$foes[-1]}}")
	ca = tok.(CaptureAccess)
	if *ca.Index != -1 {
		t.Fatalf("got %#v", ca)
	}

	tok = single(t, "{{$foes.count}}")
	ca = tok.(CaptureAccess)
	if !reflect.DeepEqual(ca.Properties, []string{"count"}) {
		t.Fatalf("got %#v", ca)
	}

	tok = single(t, "{{$hero.@weapon.@rarity}}")
	ca = tok.(CaptureAccess)
	if !reflect.DeepEqual(ca.Properties, []string{"weapon", "rarity"}) {
		t.Fatalf("got %#v", ca)
	}

	tok = single(t, "{{$foes[1].@type}}")
	ca = tok.(CaptureAccess)
	if *ca.Index != 1 || !reflect.DeepEqual(ca.Properties, []string{"type"}) {
		t.Fatalf("got %#v", ca)
	}

	tok = single(t, `{{$foes|"; "}}`)
	ca = tok.(CaptureAccess)
	if ca.Separator != "; " || !ca.HasSep {
		t.Fatalf("got %#v", ca)
	}
}

func TestTokenizeCollect(t *testing.T) {
	tok := single(t, "{{collect:$foes.@type|unique}}")
	c, ok := tok.(Collect)
	if !ok || c.VarName != "foes" || c.Property != "type" || !c.Unique {
		t.Fatalf("got %#v", tok)
	}

	tok = single(t, `{{collect:$bag.value|", "}}`)
	c = tok.(Collect)
	if c.Property != "value" || c.Separator != ", " {
		t.Fatalf("got %#v", c)
	}
}

func TestTokenizeAgain(t *testing.T) {
	if tok := single(t, "{{again}}"); tok != (Again{Count: 1}) {
		t.Fatalf("got %#v", tok)
	}
	if tok := single(t, "{{again*3}}"); tok != (Again{Count: 3}) {
		t.Fatalf("got %#v", tok)
	}
	if tok := single(t, "{{again*unique}}"); tok != (Again{Count: 1, Unique: true}) {
		t.Fatalf("got %#v", tok)
	}
}

func TestTokenizeInstance(t *testing.T) {
	if tok := single(t, "{{villain#main}}"); tok != (Instance{Ref: "villain", Name: "main"}) {
		t.Fatalf("got %#v", tok)
	}
}

func TestUnrecognizedFallsBackToLiteral(t *testing.T) {
	toks := Tokenize("{{not a table!}}")
	if len(toks) != 1 {
		t.Fatalf("got %#v", toks)
	}
	lit, ok := toks[0].(Literal)
	if !ok || lit.Text != "{{not a table!}}" {
		t.Fatalf("got %#v", toks[0])
	}
}

func TestUnclosedBraces(t *testing.T) {
	toks := Tokenize("hello {{world")
	if len(toks) != 1 {
		t.Fatalf("got %#v", toks)
	}
	if lit := toks[0].(Literal); lit.Text != "hello {{world" {
		t.Fatalf("got %q", lit.Text)
	}
}

func TestEscapedBraces(t *testing.T) {
	toks := Tokenize(`\{{literal}}`)
	if lit, ok := toks[0].(Literal); !ok || lit.Text != "{{literal}}" {
		t.Fatalf("got %#v", toks)
	}
}

func TestExtractExpressions(t *testing.T) {
	p := "roll {{2d6}} on {{loot}}"
	exprs := ExtractExpressions(p)
	if len(exprs) != 2 {
		t.Fatalf("got %d expressions", len(exprs))
	}
	if exprs[0].Raw != "{{2d6}}" || exprs[1].Raw != "{{loot}}" {
		t.Fatalf("got %#v", exprs)
	}
	if p[exprs[1].Start:exprs[1].End] != "{{loot}}" {
		t.Fatalf("span mismatch: %d..%d", exprs[1].Start, exprs[1].End)
	}
	if _, ok := exprs[0].Token.(Dice); !ok {
		t.Fatalf("token 0 = %#v", exprs[0].Token)
	}
	if _, ok := exprs[1].Token.(TableRef); !ok {
		t.Fatalf("token 1 = %#v", exprs[1].Token)
	}
}
