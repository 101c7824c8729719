package engine

import (
	"fmt"

	"github.com/RolldeoDev/rolldeo-go/internal/tables"
)

// synthesizeEntryID derives a stable id for an entry that declares none,
// from the table id and the entry's ordinal position.
func synthesizeEntryID(tableID string, ordinal int) string {
	return fmt.Sprintf("%s%03d", tableID, ordinal)
}

func entryID(tableID string, ordinal int, e *tables.Entry) string {
	if e.ID != "" {
		return e.ID
	}
	return synthesizeEntryID(tableID, ordinal)
}

type inheritKey struct {
	collectionID string
	tableID      string
}

// resolveInheritance returns the table with its extends chain merged in.
// Results are cached by (collection id, table id); the cache is additive and
// idempotent, and invalidated whenever collections change.
func (e *Engine) resolveInheritance(col *Collection, t *tables.Table) (*tables.Table, error) {
	if t.Extends == "" {
		return t, nil
	}
	key := inheritKey{collectionID: col.ID, tableID: t.ID}
	e.cacheMu.Lock()
	cached, ok := e.inheritCache[key]
	e.cacheMu.Unlock()
	if ok {
		return cached, nil
	}

	merged, err := e.mergeInheritance(col, t, 0)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.inheritCache[key] = merged
	e.cacheMu.Unlock()
	return merged, nil
}

func (e *Engine) mergeInheritance(col *Collection, t *tables.Table, depth int) (*tables.Table, error) {
	if t.Extends == "" {
		return t, nil
	}
	maxDepth := e.maxInheritanceDepth(col.Doc)
	if depth >= maxDepth {
		return nil, fmt.Errorf("%w: table %q exceeds depth %d", ErrInheritanceDepth, t.ID, maxDepth)
	}

	parent, parentCol := e.resolveTable(col, t.Extends)
	if parent == nil {
		return nil, fmt.Errorf("%w: parent %q of table %q", ErrTableNotFound, t.Extends, t.ID)
	}
	if parent.Variant() != tables.TypeSimple {
		return nil, fmt.Errorf("%w: parent %q of table %q", ErrInheritanceNotSimple, t.Extends, t.ID)
	}

	resolvedParent, err := e.mergeInheritance(parentCol, parent, depth+1)
	if err != nil {
		return nil, err
	}

	merged := *t
	merged.Extends = ""

	// Parent entries first, keyed by id; child entries override matching
	// ids in place or append.
	order := make([]string, 0, len(resolvedParent.Entries)+len(t.Entries))
	byID := make(map[string]tables.Entry)
	for i := range resolvedParent.Entries {
		id := entryID(resolvedParent.ID, i, &resolvedParent.Entries[i])
		entry := resolvedParent.Entries[i]
		entry.ID = id
		byID[id] = entry
		order = append(order, id)
	}
	for i := range t.Entries {
		id := entryID(t.ID, i, &t.Entries[i])
		child := t.Entries[i]
		child.ID = id
		if base, ok := byID[id]; ok {
			byID[id] = mergeEntry(base, child)
		} else {
			byID[id] = child
			order = append(order, id)
		}
	}
	merged.Entries = make([]tables.Entry, 0, len(order))
	for _, id := range order {
		merged.Entries = append(merged.Entries, byID[id])
	}

	// defaultSets: parent first, child overrides.
	if len(resolvedParent.DefaultSets) > 0 || len(t.DefaultSets) > 0 {
		sets := make(map[string]string, len(resolvedParent.DefaultSets)+len(t.DefaultSets))
		for k, v := range resolvedParent.DefaultSets {
			sets[k] = v
		}
		for k, v := range t.DefaultSets {
			sets[k] = v
		}
		merged.DefaultSets = sets
	}

	return &merged, nil
}

// mergeEntry shallow-merges a child entry over its parent: declared child
// fields win, undeclared ones keep the parent's.
func mergeEntry(parent, child tables.Entry) tables.Entry {
	out := parent
	out.ID = child.ID
	if child.Value != "" {
		out.Value = child.Value
	}
	if child.Weight != nil {
		out.Weight = child.Weight
	}
	if child.Sets != nil {
		out.Sets = child.Sets
	}
	if child.Description != "" {
		out.Description = child.Description
	}
	if child.ResultType != "" {
		out.ResultType = child.ResultType
	}
	if child.Assets != nil {
		out.Assets = child.Assets
	}
	return out
}
