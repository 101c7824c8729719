package tables

import "testing"

func validDoc() *Document {
	return &Document{
		Metadata: Metadata{Name: "Test", Namespace: "test.ns", Version: "1.0.0", SpecVersion: "1.0"},
		Tables: []Table{
			{ID: "colors", Entries: []Entry{{Value: "Red"}}},
		},
	}
}

func TestValidateAcceptsGoodDocument(t *testing.T) {
	res := Validate(validDoc())
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
}

func TestValidateRejectsEmptyName(t *testing.T) {
	doc := validDoc()
	doc.Metadata.Name = ""
	if res := Validate(doc); res.Valid {
		t.Fatal("expected invalid")
	}
}

func TestValidateRejectsBadNamespace(t *testing.T) {
	for _, ns := range []string{"1bad", "with space", "a..b", ".leading"} {
		doc := validDoc()
		doc.Metadata.Namespace = ns
		if res := Validate(doc); res.Valid {
			t.Fatalf("namespace %q should be rejected", ns)
		}
	}
	for _, ns := range []string{"good", "good.nested", "_under.x9"} {
		doc := validDoc()
		doc.Metadata.Namespace = ns
		if res := Validate(doc); !res.Valid {
			t.Fatalf("namespace %q should be accepted: %v", ns, res.Errors)
		}
	}
}

func TestValidateRejectsUnsupportedSpecVersion(t *testing.T) {
	doc := validDoc()
	doc.Metadata.SpecVersion = "9.9"
	if res := Validate(doc); res.Valid {
		t.Fatal("expected invalid")
	}
}

func TestValidateRejectsMissingTableID(t *testing.T) {
	doc := validDoc()
	doc.Tables = append(doc.Tables, Table{Entries: []Entry{{Value: "x"}}})
	if res := Validate(doc); res.Valid {
		t.Fatal("expected invalid")
	}
}

func TestValidateRejectsDuplicateTableID(t *testing.T) {
	doc := validDoc()
	doc.Tables = append(doc.Tables, Table{ID: "colors", Entries: []Entry{{Value: "x"}}})
	if res := Validate(doc); res.Valid {
		t.Fatal("expected invalid")
	}
}

func TestValidateCompositeNeedsSources(t *testing.T) {
	doc := validDoc()
	doc.Tables = append(doc.Tables, Table{ID: "comp", Type: TypeComposite})
	if res := Validate(doc); res.Valid {
		t.Fatal("expected invalid")
	}
}

func TestValidateUnknownUniqueOverflow(t *testing.T) {
	doc := validDoc()
	doc.Metadata.UniqueOverflow = "explode"
	if res := Validate(doc); res.Valid {
		t.Fatal("expected invalid")
	}
}

func TestValidateRaw(t *testing.T) {
	res := ValidateRaw([]byte(`{"metadata":{},"tables":[]}`))
	if !res.Valid {
		t.Fatalf("expected valid shape, got %v", res.Errors)
	}
	res = ValidateRaw([]byte(`{"tables":{}}`))
	if res.Valid {
		t.Fatal("expected invalid: tables not array, metadata missing")
	}
	res = ValidateRaw([]byte(`not json`))
	if res.Valid {
		t.Fatal("expected invalid json to be rejected")
	}
}
