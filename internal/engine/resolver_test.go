package engine

import (
	"math/rand"
	"testing"

	"github.com/RolldeoDev/rolldeo-go/internal/tables"
)

func gemsDoc() *tables.Document {
	return &tables.Document{
		Metadata: tables.Metadata{
			Name:        "Gems",
			Namespace:   "test.gems",
			Version:     "1.0.0",
			SpecVersion: "1.0",
		},
		Tables: []tables.Table{
			{ID: "gems", Entries: []tables.Entry{{Value: "ruby"}}},
		},
		Templates: []tables.Template{
			{ID: "shiny", Pattern: "a shiny {{gems}}"},
		},
	}
}

func newImportingEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(WithRand(rand.New(rand.NewSource(7))))

	main := testDoc()
	main.Imports = []tables.Import{{Alias: "ext", Path: "test.gems"}}
	main.Tables = []tables.Table{
		{ID: "pouch", Entries: []tables.Entry{{Value: "you find {{ext.gems}}"}}},
		{ID: "named", Entries: []tables.Entry{{Value: "from {{test.gems.gems}}"}}},
	}

	if err := e.LoadCollection(gemsDoc(), "gems", true); err != nil {
		t.Fatalf("load gems: %v", err)
	}
	if err := e.LoadCollection(main, "main", false); err != nil {
		t.Fatalf("load main: %v", err)
	}
	return e
}

func TestImportAliasResolution(t *testing.T) {
	e := newImportingEngine(t)
	if res := mustRoll(t, e, "pouch"); res.Text != "you find ruby" {
		t.Fatalf("got %q", res.Text)
	}
}

func TestNamespaceResolution(t *testing.T) {
	e := newImportingEngine(t)
	if res := mustRoll(t, e, "named"); res.Text != "from ruby" {
		t.Fatalf("got %q", res.Text)
	}
}

func TestUndottedCrossCollectionFallback(t *testing.T) {
	e := newImportingEngine(t)
	// "gems" is not in main; the undotted fallback searches all collections.
	main, _ := e.collection("main")
	tbl, col := e.resolveTable(main, "gems")
	if tbl == nil || col.ID != "gems" {
		t.Fatalf("fallback failed: %v %v", tbl, col)
	}
}

func TestResolveImportsByExplicitPathMap(t *testing.T) {
	e := New(WithRand(rand.New(rand.NewSource(7))))

	ext := gemsDoc()
	ext.Metadata.Namespace = "something.else"
	if err := e.LoadCollection(ext, "mystery", true); err != nil {
		t.Fatalf("load: %v", err)
	}

	main := testDoc()
	main.Imports = []tables.Import{{Alias: "ext", Path: "gems/on/disk.json"}}
	main.Tables = []tables.Table{
		{ID: "pouch", Entries: []tables.Entry{{Value: "{{ext.gems}}"}}},
	}
	if err := e.LoadCollection(main, "main", false); err != nil {
		t.Fatalf("load: %v", err)
	}

	// Unresolvable by namespace or id; the explicit map wires it.
	e.ResolveImports(map[string]string{"gems/on/disk.json": "mystery"})

	if res := mustRoll(t, e, "pouch"); res.Text != "ruby" {
		t.Fatalf("got %q", res.Text)
	}
}

func TestImportedTemplateIsIsolated(t *testing.T) {
	e := New(WithRand(rand.New(rand.NewSource(7))))

	ext := gemsDoc()
	ext.Templates = []tables.Template{{
		ID:      "shiny",
		Shared:  tables.SharedVars{{Name: "polish", Pattern: "gleaming"}},
		Pattern: "a {{$polish}} {{gems}}",
	}}
	if err := e.LoadCollection(ext, "gems", true); err != nil {
		t.Fatalf("load: %v", err)
	}

	main := testDoc()
	main.Imports = []tables.Import{{Alias: "ext", Path: "test.gems"}}
	main.Tables = []tables.Table{
		{ID: "find", Entries: []tables.Entry{{Value: "{{ext.shiny}} [{{$polish}}]"}}},
	}
	if err := e.LoadCollection(main, "main", false); err != nil {
		t.Fatalf("load: %v", err)
	}

	// The imported template's shared variable must not leak into the
	// caller: $polish after the template call resolves to nothing.
	res, err := e.Roll("find", "main", RollOptions{})
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if res.Text != "a gleaming ruby []" {
		t.Fatalf("got %q", res.Text)
	}
}

func TestListImported(t *testing.T) {
	e := newImportingEngine(t)

	infos, err := e.ListImportedTables("main")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "ext.gems" {
		t.Fatalf("infos = %+v", infos)
	}

	tpls, err := e.ListImportedTemplates("main")
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(tpls) != 1 || tpls[0].ID != "ext.shiny" {
		t.Fatalf("tpls = %+v", tpls)
	}
}
