package engine

import (
	"errors"
	"testing"

	"github.com/RolldeoDev/rolldeo-go/internal/tables"
)

func TestInheritanceOverrideAndAppend(t *testing.T) {
	doc := testDoc()
	doc.Tables = []tables.Table{
		{
			ID: "base",
			Entries: []tables.Entry{
				{ID: "e1", Value: "parent-one"},
				{ID: "e2", Value: "parent-two"},
			},
			DefaultSets: map[string]string{"origin": "base", "kind": "old"},
		},
		{
			ID:      "child",
			Extends: "base",
			Entries: []tables.Entry{
				{ID: "e1", Value: "child-one"},
				{ID: "e3", Value: "child-three"},
			},
			DefaultSets: map[string]string{"kind": "new"},
		},
	}
	e := newTestEngine(t, doc)

	col, err := e.collection("main")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	merged, err := e.resolveInheritance(col, col.tables["child"])
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if merged.Extends != "" {
		t.Fatal("extends must be cleared")
	}
	if len(merged.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(merged.Entries))
	}
	byID := map[string]string{}
	for _, en := range merged.Entries {
		byID[en.ID] = en.Value
	}
	if byID["e1"] != "child-one" {
		t.Fatalf("override failed: %v", byID)
	}
	if byID["e2"] != "parent-two" || byID["e3"] != "child-three" {
		t.Fatalf("merge incomplete: %v", byID)
	}
	if merged.DefaultSets["origin"] != "base" || merged.DefaultSets["kind"] != "new" {
		t.Fatalf("defaultSets = %v", merged.DefaultSets)
	}
}

func TestInheritancePartialEntryOverride(t *testing.T) {
	doc := testDoc()
	doc.Tables = []tables.Table{
		{
			ID: "base",
			Entries: []tables.Entry{
				{ID: "e1", Value: "sword", Weight: wptr(5), Description: "sharp"},
			},
		},
		{
			ID:      "child",
			Extends: "base",
			Entries: []tables.Entry{
				{ID: "e1", Weight: wptr(2)},
			},
		},
	}
	e := newTestEngine(t, doc)

	col, _ := e.collection("main")
	merged, err := e.resolveInheritance(col, col.tables["child"])
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	en := merged.Entries[0]
	if en.Value != "sword" || en.Description != "sharp" {
		t.Fatalf("undeclared fields must keep the parent's: %+v", en)
	}
	if en.EffectiveWeight() != 2 {
		t.Fatalf("weight = %v, want child's 2", en.EffectiveWeight())
	}
}

func TestInheritanceCircularFails(t *testing.T) {
	doc := testDoc()
	doc.Tables = []tables.Table{
		{ID: "a", Extends: "b", Entries: []tables.Entry{{Value: "a"}}},
		{ID: "b", Extends: "a", Entries: []tables.Entry{{Value: "b"}}},
	}
	e := newTestEngine(t, doc)

	_, err := e.Roll("a", "main", RollOptions{})
	if !errors.Is(err, ErrInheritanceDepth) {
		t.Fatalf("err = %v, want ErrInheritanceDepth", err)
	}
}

func TestInheritanceParentMustBeSimple(t *testing.T) {
	doc := testDoc()
	doc.Tables = []tables.Table{
		{ID: "comp", Type: tables.TypeComposite, Sources: []tables.Source{{Table: "x"}}},
		{ID: "x", Entries: []tables.Entry{{Value: "x"}}},
		{ID: "child", Extends: "comp", Entries: []tables.Entry{{Value: "c"}}},
	}
	e := newTestEngine(t, doc)

	_, err := e.Roll("child", "main", RollOptions{})
	if !errors.Is(err, ErrInheritanceNotSimple) {
		t.Fatalf("err = %v, want ErrInheritanceNotSimple", err)
	}
}

func TestInheritanceCacheInvalidation(t *testing.T) {
	doc := testDoc()
	doc.Tables = []tables.Table{
		{ID: "base", Entries: []tables.Entry{{ID: "e1", Value: "old"}}},
		{ID: "child", Extends: "base", Entries: []tables.Entry{}},
	}
	e := newTestEngine(t, doc)

	if res := mustRoll(t, e, "child"); res.Text != "old" {
		t.Fatalf("got %q", res.Text)
	}
	e.cacheMu.Lock()
	cached := len(e.inheritCache)
	e.cacheMu.Unlock()
	if cached == 0 {
		t.Fatal("expected the merge to be cached")
	}

	updated := testDoc()
	updated.Tables = []tables.Table{
		{ID: "base", Entries: []tables.Entry{{ID: "e1", Value: "new"}}},
		{ID: "child", Extends: "base", Entries: []tables.Entry{}},
	}
	if err := e.UpdateDocument("main", updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	if res := mustRoll(t, e, "child"); res.Text != "new" {
		t.Fatalf("stale cache: got %q", res.Text)
	}
}

func TestSynthesizedEntryIDs(t *testing.T) {
	if got := synthesizeEntryID("loot", 0); got != "loot000" {
		t.Fatalf("got %q", got)
	}
	if got := synthesizeEntryID("loot", 41); got != "loot041" {
		t.Fatalf("got %q", got)
	}
}
