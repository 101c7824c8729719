package tables

import (
	"encoding/json"
	"testing"
)

func TestSharedVarsPreserveOrder(t *testing.T) {
	raw := `{"first":"{{a}}","second":"{{$first}} x","third":"y"}`
	var s SharedVars
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(s) != len(want) {
		t.Fatalf("got %d vars, want %d", len(s), len(want))
	}
	for i, name := range want {
		if s[i].Name != name {
			t.Fatalf("s[%d].Name = %q, want %q", i, s[i].Name, name)
		}
	}
}

func TestSharedVarsRoundTrip(t *testing.T) {
	s := SharedVars{{Name: "b", Pattern: "2"}, {Name: "a", Pattern: "1"}}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back SharedVars
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[0].Name != "b" || back[1].Name != "a" {
		t.Fatalf("order lost: %#v", back)
	}
}

func TestEntryWeightDefaultsToOne(t *testing.T) {
	var e Entry
	if err := json.Unmarshal([]byte(`{"value":"Red"}`), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.EffectiveWeight() != 1 {
		t.Fatalf("weight = %v, want 1", e.EffectiveWeight())
	}

	if err := json.Unmarshal([]byte(`{"value":"Never","weight":0}`), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.EffectiveWeight() != 0 {
		t.Fatalf("weight = %v, want explicit 0", e.EffectiveWeight())
	}
}

func TestDecodeYAMLSharedOrder(t *testing.T) {
	raw := []byte(`
metadata:
  name: Test
  namespace: test.ns
  version: 1.0.0
  specVersion: "1.0"
shared:
  one: "1"
  two: "{{$one}}"
tables:
  - id: colors
    entries:
      - value: Red
`)
	doc, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Shared) != 2 || doc.Shared[0].Name != "one" || doc.Shared[1].Name != "two" {
		t.Fatalf("shared order lost: %#v", doc.Shared)
	}
	if doc.Tables[0].Variant() != TypeSimple {
		t.Fatalf("variant = %q, want simple", doc.Tables[0].Variant())
	}
}

func TestDecodeSniffsJSON(t *testing.T) {
	raw := []byte(`{"metadata":{"name":"T","namespace":"t","version":"1.0.0","specVersion":"1.0"},"tables":[{"id":"a","entries":[{"value":"x"}]}]}`)
	doc, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Metadata.Name != "T" {
		t.Fatalf("name = %q", doc.Metadata.Name)
	}
}
