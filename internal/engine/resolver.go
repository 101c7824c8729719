package engine

import (
	"sort"
	"strings"

	"github.com/RolldeoDev/rolldeo-go/internal/tables"
)

// Reference resolution maps a possibly dotted reference to a table or
// template plus the collection that contains it. Lookup order for dotted
// references: import alias of the current collection, then exact namespace
// match across all loaded collections, then the declared-but-unresolved
// import fallback (path matched against namespace or collection id).
// Undotted references search the current collection first, then all others.

// sortedCollections returns the loaded collections in stable id order so
// cross-collection fallbacks are deterministic.
func (e *Engine) sortedCollections() []*Collection {
	out := make([]*Collection, 0, len(e.collections))
	for _, c := range e.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) resolveTable(cur *Collection, ref string) (*tables.Table, *Collection) {
	if !strings.Contains(ref, ".") {
		if t, ok := cur.tables[ref]; ok {
			return t, cur
		}
		for _, c := range e.sortedCollections() {
			if t, ok := c.tables[ref]; ok {
				return t, c
			}
		}
		return nil, nil
	}

	head, rest, _ := strings.Cut(ref, ".")

	// Import alias; the remainder may itself be dotted through a chain of
	// imports.
	if imp, ok := cur.imports[head]; ok {
		if t, c := e.resolveTable(imp, rest); t != nil {
			return t, c
		}
	}

	// Dotted namespace: every leading segment run is tried as a namespace
	// with the remainder as the id.
	segs := strings.Split(ref, ".")
	for cut := len(segs) - 1; cut >= 1; cut-- {
		ns := strings.Join(segs[:cut], ".")
		id := strings.Join(segs[cut:], ".")
		for _, c := range e.sortedCollections() {
			if c.Namespace() == ns {
				if t, ok := c.tables[id]; ok {
					return t, c
				}
			}
		}
	}

	// Declared import that load-time resolution missed.
	for _, imp := range cur.Doc.Imports {
		if imp.Alias != head {
			continue
		}
		for _, c := range e.sortedCollections() {
			if c.Namespace() == imp.Path || c.ID == imp.Path {
				if t, tc := e.resolveTable(c, rest); t != nil {
					return t, tc
				}
			}
		}
	}
	return nil, nil
}

func (e *Engine) resolveTemplate(cur *Collection, ref string) (*tables.Template, *Collection) {
	if !strings.Contains(ref, ".") {
		if t, ok := cur.templates[ref]; ok {
			return t, cur
		}
		for _, c := range e.sortedCollections() {
			if t, ok := c.templates[ref]; ok {
				return t, c
			}
		}
		return nil, nil
	}

	head, rest, _ := strings.Cut(ref, ".")

	if imp, ok := cur.imports[head]; ok {
		if t, c := e.resolveTemplate(imp, rest); t != nil {
			return t, c
		}
	}

	segs := strings.Split(ref, ".")
	for cut := len(segs) - 1; cut >= 1; cut-- {
		ns := strings.Join(segs[:cut], ".")
		id := strings.Join(segs[cut:], ".")
		for _, c := range e.sortedCollections() {
			if c.Namespace() == ns {
				if t, ok := c.templates[id]; ok {
					return t, c
				}
			}
		}
	}

	for _, imp := range cur.Doc.Imports {
		if imp.Alias != head {
			continue
		}
		for _, c := range e.sortedCollections() {
			if c.Namespace() == imp.Path || c.ID == imp.Path {
				if t, tc := e.resolveTemplate(c, rest); t != nil {
					return t, tc
				}
			}
		}
	}
	return nil, nil
}

// resolveImportsLocked wires import aliases across loaded collections. An
// explicit path-to-id map takes priority, then namespace equality, then
// collection id equality. Callers hold the engine lock.
func (e *Engine) resolveImportsLocked(pathToID map[string]string) {
	for _, col := range e.collections {
		col.imports = make(map[string]*Collection)
		for _, imp := range col.Doc.Imports {
			if id, ok := pathToID[imp.Path]; ok {
				if target, ok := e.collections[id]; ok {
					col.imports[imp.Alias] = target
					continue
				}
			}
			var matched *Collection
			for _, c := range e.sortedCollections() {
				if c.Namespace() == imp.Path {
					matched = c
					break
				}
			}
			if matched == nil {
				for _, c := range e.sortedCollections() {
					if c.ID == imp.Path {
						matched = c
						break
					}
				}
			}
			if matched != nil {
				col.imports[imp.Alias] = matched
			}
		}
	}
}
