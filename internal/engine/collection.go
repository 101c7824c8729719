package engine

import (
	"sort"

	"github.com/RolldeoDev/rolldeo-go/internal/tables"
)

// Collection wraps a loaded document with its identifier, lookup indices and
// resolved imports. Built at load time; read-only during rolls.
type Collection struct {
	ID        string
	Doc       *tables.Document
	Preloaded bool

	tables    map[string]*tables.Table
	templates map[string]*tables.Template
	imports   map[string]*Collection
}

func newCollection(doc *tables.Document, id string, preloaded bool) *Collection {
	c := &Collection{
		ID:        id,
		Doc:       doc,
		Preloaded: preloaded,
		tables:    make(map[string]*tables.Table, len(doc.Tables)),
		templates: make(map[string]*tables.Template, len(doc.Templates)),
		imports:   make(map[string]*Collection),
	}
	for i := range doc.Tables {
		c.tables[doc.Tables[i].ID] = &doc.Tables[i]
	}
	for i := range doc.Templates {
		c.templates[doc.Templates[i].ID] = &doc.Templates[i]
	}
	return c
}

// Namespace returns the document namespace.
func (c *Collection) Namespace() string { return c.Doc.Metadata.Namespace }

// TableInfo describes a table for listings.
type TableInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CollectionID string `json:"collectionId"`
	Type         string `json:"type"`
	Hidden       bool   `json:"hidden,omitempty"`
}

// TemplateInfo describes a template for listings.
type TemplateInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CollectionID string `json:"collectionId"`
}

func (c *Collection) tableInfos() []TableInfo {
	out := make([]TableInfo, 0, len(c.tables))
	for _, t := range c.Doc.Tables {
		out = append(out, TableInfo{
			ID:           t.ID,
			Name:         t.DisplayName(),
			CollectionID: c.ID,
			Type:         string(t.Variant()),
			Hidden:       t.Hidden,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Collection) templateInfos() []TemplateInfo {
	out := make([]TemplateInfo, 0, len(c.templates))
	for _, t := range c.Doc.Templates {
		name := t.Name
		if name == "" {
			name = t.ID
		}
		out = append(out, TemplateInfo{ID: t.ID, Name: name, CollectionID: c.ID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
