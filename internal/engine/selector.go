package engine

import (
	"github.com/RolldeoDev/rolldeo-go/internal/tables"
)

// candidate is one weighted option in a selection pool. For collection
// tables the pool spans several source tables, so each candidate carries
// the table it came from.
type candidate struct {
	entry   *tables.Entry
	entryID string
	table   *tables.Table
	col     *Collection
	weight  float64
}

// buildSimplePool collects the selectable entries of a table, excluding
// explicit zero weights and any entry id present in exclude.
func buildSimplePool(col *Collection, t *tables.Table, exclude map[string]bool) []candidate {
	pool := make([]candidate, 0, len(t.Entries))
	for i := range t.Entries {
		e := &t.Entries[i]
		w := e.EffectiveWeight()
		if w <= 0 {
			continue
		}
		id := entryID(t.ID, i, e)
		if exclude[id] {
			continue
		}
		pool = append(pool, candidate{entry: e, entryID: id, table: t, col: col, weight: w})
	}
	return pool
}

// pickWeighted draws one candidate proportionally to weight. Ties and
// boundaries resolve in declaration order.
func (e *Engine) pickWeighted(pool []candidate) *candidate {
	if len(pool) == 0 {
		return nil
	}
	total := 0.0
	for _, c := range pool {
		total += c.weight
	}
	r := e.float64() * total
	acc := 0.0
	for i := range pool {
		acc += pool[i].weight
		if r < acc {
			return &pool[i]
		}
	}
	return &pool[len(pool)-1]
}

// pickSource draws one composite source by weight.
func (e *Engine) pickSource(sources []tables.Source) *tables.Source {
	if len(sources) == 0 {
		return nil
	}
	total := 0.0
	for i := range sources {
		total += sources[i].EffectiveWeight()
	}
	if total <= 0 {
		return nil
	}
	r := e.float64() * total
	acc := 0.0
	for i := range sources {
		acc += sources[i].EffectiveWeight()
		if r < acc {
			return &sources[i]
		}
	}
	return &sources[len(sources)-1]
}
