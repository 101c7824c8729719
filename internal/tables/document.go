// Package tables defines the document model the generation engine evaluates:
// documents, tables, entries, templates and their decode/validation rules.
package tables

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// SpecVersions lists the document spec versions this engine accepts.
var SpecVersions = []string{"1.0", "1.1"}

// TableType discriminates the three table variants.
type TableType string

const (
	TypeSimple     TableType = "simple"
	TypeComposite  TableType = "composite"
	TypeCollection TableType = "collection"
)

// UniqueOverflowPolicy decides what happens when a unique roll exhausts its pool.
type UniqueOverflowPolicy string

const (
	UniqueOverflowStop  UniqueOverflowPolicy = "stop"
	UniqueOverflowReset UniqueOverflowPolicy = "reset"
	UniqueOverflowWrap  UniqueOverflowPolicy = "wrap"
)

// Metadata is the document header.
type Metadata struct {
	Name                string               `json:"name" yaml:"name"`
	Namespace           string               `json:"namespace" yaml:"namespace"`
	Version             string               `json:"version" yaml:"version"`
	SpecVersion         string               `json:"specVersion" yaml:"specVersion"`
	MaxRecursionDepth   int                  `json:"maxRecursionDepth,omitempty" yaml:"maxRecursionDepth,omitempty"`
	MaxInheritanceDepth int                  `json:"maxInheritanceDepth,omitempty" yaml:"maxInheritanceDepth,omitempty"`
	MaxDiceExplosions   int                  `json:"maxDiceExplosions,omitempty" yaml:"maxDiceExplosions,omitempty"`
	UniqueOverflow      UniqueOverflowPolicy `json:"uniqueOverflow,omitempty" yaml:"uniqueOverflow,omitempty"`
}

// Import declares an alias for another document.
type Import struct {
	Alias string `json:"alias" yaml:"alias"`
	Path  string `json:"path" yaml:"path"`
}

// SharedVar is one shared-variable declaration. Declaration order is
// significant: later declarations may reference earlier ones.
type SharedVar struct {
	Name    string
	Pattern string
}

// SharedVars preserves the declaration order of a shared block, which plain
// Go maps would lose.
type SharedVars []SharedVar

// UnmarshalJSON decodes a JSON object into ordered declarations.
func (s *SharedVars) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("shared: expected object, got %v", tok)
	}
	var out SharedVars
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("shared: expected string key, got %v", keyTok)
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("shared %q: %w", key, err)
		}
		out = append(out, SharedVar{Name: key, Pattern: val})
	}
	*s = out
	return nil
}

// MarshalJSON emits the declarations as an object in declaration order.
func (s SharedVars) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(v.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(v.Pattern)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML mapping into ordered declarations.
func (s *SharedVars) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("shared: expected mapping, got %v", value.Kind)
	}
	var out SharedVars
	for i := 0; i+1 < len(value.Content); i += 2 {
		var key, val string
		if err := value.Content[i].Decode(&key); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&val); err != nil {
			return fmt.Errorf("shared %q: %w", key, err)
		}
		out = append(out, SharedVar{Name: key, Pattern: val})
	}
	*s = out
	return nil
}

// Get returns the pattern declared for name.
func (s SharedVars) Get(name string) (string, bool) {
	for _, v := range s {
		if v.Name == name {
			return v.Pattern, true
		}
	}
	return "", false
}

// Entry is one weighted option in a simple table.
type Entry struct {
	ID          string            `json:"id,omitempty" yaml:"id,omitempty"`
	Value       string            `json:"value" yaml:"value"`
	Weight      *float64          `json:"weight,omitempty" yaml:"weight,omitempty"`
	Sets        map[string]string `json:"sets,omitempty" yaml:"sets,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	ResultType  string            `json:"resultType,omitempty" yaml:"resultType,omitempty"`
	Assets      []string          `json:"assets,omitempty" yaml:"assets,omitempty"`
}

// EffectiveWeight returns the entry weight, defaulting to 1 when undeclared.
func (e *Entry) EffectiveWeight() float64 {
	if e.Weight == nil {
		return 1
	}
	return *e.Weight
}

// Source is one weighted member of a composite table.
type Source struct {
	Table  string   `json:"table" yaml:"table"`
	Weight *float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// EffectiveWeight returns the source weight, defaulting to 1 when undeclared.
func (s *Source) EffectiveWeight() float64 {
	if s.Weight == nil {
		return 1
	}
	return *s.Weight
}

// Table is one of three variants, discriminated by Type (simple when empty).
type Table struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Type        TableType         `json:"type,omitempty" yaml:"type,omitempty"`
	Entries     []Entry           `json:"entries,omitempty" yaml:"entries,omitempty"`
	Sources     []Source          `json:"sources,omitempty" yaml:"sources,omitempty"`
	Tables      []string          `json:"tables,omitempty" yaml:"tables,omitempty"`
	DefaultSets map[string]string `json:"defaultSets,omitempty" yaml:"defaultSets,omitempty"`
	Extends     string            `json:"extends,omitempty" yaml:"extends,omitempty"`
	Shared      SharedVars        `json:"shared,omitempty" yaml:"shared,omitempty"`
	Hidden      bool              `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	ResultType  string            `json:"resultType,omitempty" yaml:"resultType,omitempty"`
}

// Variant returns the table type, defaulting to simple.
func (t *Table) Variant() TableType {
	if t.Type == "" {
		return TypeSimple
	}
	return t.Type
}

// DisplayName returns the table name, falling back to its id.
func (t *Table) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// Template is a named pattern.
type Template struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name,omitempty" yaml:"name,omitempty"`
	Pattern    string     `json:"pattern" yaml:"pattern"`
	Shared     SharedVars `json:"shared,omitempty" yaml:"shared,omitempty"`
	ResultType string     `json:"resultType,omitempty" yaml:"resultType,omitempty"`
}

// Conditional is a document-level post-processing rule.
type Conditional struct {
	When   string `json:"when" yaml:"when"`
	Action string `json:"action" yaml:"action"`
	Value  string `json:"value,omitempty" yaml:"value,omitempty"`
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// Variable names the shared variable written by the setVariable action.
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty"`
}

// Document is the unit the engine loads. Immutable once loaded.
type Document struct {
	Metadata     Metadata          `json:"metadata" yaml:"metadata"`
	Imports      []Import          `json:"imports,omitempty" yaml:"imports,omitempty"`
	Variables    map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Shared       SharedVars        `json:"shared,omitempty" yaml:"shared,omitempty"`
	Conditionals []Conditional     `json:"conditionals,omitempty" yaml:"conditionals,omitempty"`
	Tables       []Table           `json:"tables" yaml:"tables"`
	Templates    []Template        `json:"templates,omitempty" yaml:"templates,omitempty"`
}

// Table returns the table with the given id, or nil.
func (d *Document) Table(id string) *Table {
	for i := range d.Tables {
		if d.Tables[i].ID == id {
			return &d.Tables[i]
		}
	}
	return nil
}

// Template returns the template with the given id, or nil.
func (d *Document) Template(id string) *Template {
	for i := range d.Templates {
		if d.Templates[i].ID == id {
			return &d.Templates[i]
		}
	}
	return nil
}
