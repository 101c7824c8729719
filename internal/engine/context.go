package engine

import (
	"encoding/json"
	"strconv"

	"github.com/RolldeoDev/rolldeo-go/internal/tables"
)

// SetValue is either plain text or a nested CaptureItem. When a set value is
// a pure single-table reference, the sub-roll is kept structured rather than
// flattened, which is what makes chained access like $hero.@weapon.@rarity
// possible.
type SetValue struct {
	Text string
	Item *CaptureItem
}

// IsItem reports whether the value carries a nested item.
func (v SetValue) IsItem() bool { return v.Item != nil }

// String flattens the value to text.
func (v SetValue) String() string {
	if v.Item != nil {
		return v.Item.Value
	}
	return v.Text
}

// MarshalJSON emits either the string or the nested item.
func (v SetValue) MarshalJSON() ([]byte, error) {
	if v.Item != nil {
		return json.Marshal(v.Item)
	}
	return json.Marshal(v.Text)
}

// CaptureItem is one captured roll: its text, its structured sets and the
// first description the roll produced.
type CaptureItem struct {
	Value       string              `json:"value"`
	Sets        map[string]SetValue `json:"sets,omitempty"`
	Description string              `json:"description,omitempty"`
}

// CaptureVariable is an ordered list of captured rolls.
type CaptureVariable struct {
	Items []*CaptureItem `json:"items"`
}

// Count returns the number of captured items.
func (c *CaptureVariable) Count() int { return len(c.Items) }

// At resolves an index, with negative values wrapping from the end.
func (c *CaptureVariable) At(i int) (*CaptureItem, bool) {
	if i < 0 {
		i += len(c.Items)
	}
	if i < 0 || i >= len(c.Items) {
		return nil, false
	}
	return c.Items[i], true
}

// Description is one recorded entry description.
type Description struct {
	TableName string `json:"tableName"`
	TableID   string `json:"tableId"`
	Value     string `json:"value"`
	Text      string `json:"text"`
	Depth     int    `json:"depth"`
}

// sharedValue is one shared variable together with the id of the table or
// template that set it, so a table rolled twice re-evaluates its own
// declarations while inherited values survive.
type sharedValue struct {
	value    string
	sourceID string
}

// genContext is the per-roll mutable state threaded through the recursive
// evaluation. Nested scopes share it by pointer; only nested template
// evaluation (any template referenced from a pattern, same-collection or
// imported) builds the isolated variant (see isolatedFor).
type genContext struct {
	staticVars     map[string]string
	sharedVars     map[string]*sharedValue
	docSharedNames map[string]bool
	captureShared  map[string]*CaptureItem
	captureSource  map[string]string

	// placeholders maps table id -> property -> text, populated from the
	// selected entry's merged sets at selection time.
	placeholders map[string]map[string]string

	usedEntries map[string]map[string]bool
	instances   map[string]string
	captures    map[string]*CaptureVariable

	descriptions *[]Description

	depth     int
	setsInFly map[string]bool

	currentTableID   string
	currentEntryID   string
	currentEntryDesc string

	trace *tracer
}

func newContext(doc *tables.Document, trace bool) *genContext {
	ctx := &genContext{
		staticVars:     make(map[string]string),
		sharedVars:     make(map[string]*sharedValue),
		docSharedNames: make(map[string]bool),
		captureShared:  make(map[string]*CaptureItem),
		captureSource:  make(map[string]string),
		placeholders:   make(map[string]map[string]string),
		usedEntries:    make(map[string]map[string]bool),
		instances:      make(map[string]string),
		captures:       make(map[string]*CaptureVariable),
		descriptions:   new([]Description),
		setsInFly:      make(map[string]bool),
	}
	for k, v := range doc.Variables {
		ctx.staticVars[k] = v
	}
	if trace {
		ctx.trace = newTracer("roll", "")
	}
	return ctx
}

// isolatedFor builds the context for evaluating a nested template: fresh
// placeholder and shared-variable maps seeded from the target document, while
// captures, instances, used entries, descriptions, depth and trace stay
// shared so the overall roll remains one bounded evaluation.
func (c *genContext) isolatedFor(doc *tables.Document) *genContext {
	iso := &genContext{
		staticVars:     make(map[string]string),
		sharedVars:     make(map[string]*sharedValue),
		docSharedNames: make(map[string]bool),
		captureShared:  make(map[string]*CaptureItem),
		captureSource:  make(map[string]string),
		placeholders:   make(map[string]map[string]string),
		usedEntries:    c.usedEntries,
		instances:      c.instances,
		captures:       c.captures,
		descriptions:   c.descriptions,
		depth:          c.depth,
		setsInFly:      c.setsInFly,
		trace:          c.trace,
	}
	for k, v := range doc.Variables {
		iso.staticVars[k] = v
	}
	return iso
}

// setSharedString stores a shared variable, trimming a numeric value to its
// canonical form so conditionals and math see the same text.
func (c *genContext) setSharedString(name, value, sourceID string) {
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		value = strconv.FormatFloat(f, 'f', -1, 64)
	}
	c.sharedVars[name] = &sharedValue{value: value, sourceID: sourceID}
}

// lookupVariable resolves a $name reference: capture-aware shared first,
// then shared, then static.
func (c *genContext) lookupVariable(name string) (string, bool) {
	if item, ok := c.captureShared[name]; ok {
		return item.Value, true
	}
	if sv, ok := c.sharedVars[name]; ok {
		return sv.value, true
	}
	if v, ok := c.staticVars[name]; ok {
		return v, true
	}
	return "", false
}

// lookupPlaceholder resolves @name or @name.prop against the placeholder
// buckets.
func (c *genContext) lookupPlaceholder(name, prop string) (string, bool) {
	bucket, ok := c.placeholders[name]
	if !ok {
		return "", false
	}
	if prop == "" {
		// Bare @name resolves to the conventional "value" key when present.
		v, ok := bucket["value"]
		return v, ok
	}
	v, ok := bucket[prop]
	return v, ok
}

// addUsedEntry records an entry id for unique-roll exclusion.
func (c *genContext) addUsedEntry(tableID, entryID string) {
	set, ok := c.usedEntries[tableID]
	if !ok {
		set = make(map[string]bool)
		c.usedEntries[tableID] = set
	}
	set[entryID] = true
}

// conditionalResolver adapts the context to the conditional evaluator.
type conditionalResolver struct {
	ctx *genContext
}

func (r conditionalResolver) Variable(name string) (string, bool) {
	return r.ctx.lookupVariable(name)
}

func (r conditionalResolver) Placeholder(name, prop string) (string, bool) {
	return r.ctx.lookupPlaceholder(name, prop)
}
