// Package engine implements the generation engine: it loads table
// collections and evaluates rolls over them, producing a text artifact
// together with captures, descriptions and an optional execution trace.
package engine

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/RolldeoDev/rolldeo-go/internal/tables"
	"github.com/RolldeoDev/rolldeo-go/pkg/logger"
	"github.com/RolldeoDev/rolldeo-go/pkg/metrics"
	"github.com/google/uuid"
)

// Bounds are the evaluation limits applied when a document's metadata does
// not set its own.
type Bounds struct {
	MaxRecursionDepth   int
	MaxInheritanceDepth int
	MaxDiceExplosions   int
}

// DefaultBounds are the stock evaluation limits.
var DefaultBounds = Bounds{
	MaxRecursionDepth:   20,
	MaxInheritanceDepth: 5,
	MaxDiceExplosions:   20,
}

// Engine evaluates rolls against loaded collections. Loading and rolling
// may be interleaved from different goroutines; individual rolls are
// synchronous and single-threaded.
type Engine struct {
	mu          sync.RWMutex
	collections map[string]*Collection

	cacheMu      sync.Mutex
	inheritCache map[inheritKey]*tables.Table

	rngMu sync.Mutex
	rng   *rand.Rand

	log            *logger.Logger
	bounds         Bounds
	metricsEnabled bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRand injects a random source, e.g. a seeded one for reproducible
// rolls. The engine serialises access to it.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithBounds overrides the default evaluation limits.
func WithBounds(b Bounds) Option {
	return func(e *Engine) { e.bounds = b }
}

// WithMetrics enables the prometheus roll instrumentation.
func WithMetrics(enabled bool) Option {
	return func(e *Engine) { e.metricsEnabled = enabled }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		collections:  make(map[string]*Collection),
		inheritCache: make(map[inheritKey]*tables.Table),
		log:          logger.Nop(),
		bounds:       DefaultBounds,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) float64() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	if e.rng != nil {
		return e.rng.Float64()
	}
	return rand.Float64()
}

// diceSeed derives a seed for a per-roll dice source so a seeded engine
// produces reproducible rolls without sharing its Rand across goroutines.
func (e *Engine) diceSeed() (int64, bool) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	if e.rng == nil {
		return 0, false
	}
	return e.rng.Int63(), true
}

func (e *Engine) maxRecursionDepth(doc *tables.Document) int {
	if doc.Metadata.MaxRecursionDepth > 0 {
		return doc.Metadata.MaxRecursionDepth
	}
	return e.bounds.MaxRecursionDepth
}

func (e *Engine) maxInheritanceDepth(doc *tables.Document) int {
	if doc.Metadata.MaxInheritanceDepth > 0 {
		return doc.Metadata.MaxInheritanceDepth
	}
	return e.bounds.MaxInheritanceDepth
}

func (e *Engine) maxDiceExplosions(doc *tables.Document) int {
	if doc.Metadata.MaxDiceExplosions > 0 {
		return doc.Metadata.MaxDiceExplosions
	}
	return e.bounds.MaxDiceExplosions
}

// LoadCollection registers a document under id and builds its indices.
// Imports are re-resolved across all loaded collections.
func (e *Engine) LoadCollection(doc *tables.Document, id string, preloaded bool) error {
	if doc == nil {
		return fmt.Errorf("load collection %q: nil document", id)
	}
	if id == "" {
		id = uuid.NewString()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collections[id] = newCollection(doc, id, preloaded)
	e.resolveImportsLocked(nil)
	e.clearInheritanceCacheLocked()
	if e.metricsEnabled {
		metrics.SetLoadedCollections(len(e.collections))
	}
	e.log.Component("engine").WithField("collection", id).Debug("collection loaded")
	return nil
}

// UpdateDocument replaces a loaded collection's document and re-indexes.
func (e *Engine) UpdateDocument(id string, doc *tables.Document) error {
	if doc == nil {
		return fmt.Errorf("update collection %q: nil document", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	old, ok := e.collections[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrCollectionNotFound, id)
	}
	e.collections[id] = newCollection(doc, id, old.Preloaded)
	e.resolveImportsLocked(nil)
	e.clearInheritanceCacheLocked()
	return nil
}

// UnloadCollection removes a collection.
func (e *Engine) UnloadCollection(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.collections, id)
	e.resolveImportsLocked(nil)
	e.clearInheritanceCacheLocked()
	if e.metricsEnabled {
		metrics.SetLoadedCollections(len(e.collections))
	}
}

// ResolveImports wires import aliases across loaded collections. The
// optional map routes import paths to collection ids ahead of the
// namespace- and id-equality fallbacks.
func (e *Engine) ResolveImports(pathToID map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolveImportsLocked(pathToID)
}

// ClearInheritanceCache drops all cached inheritance merges.
func (e *Engine) ClearInheritanceCache() {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.inheritCache = make(map[inheritKey]*tables.Table)
}

func (e *Engine) clearInheritanceCacheLocked() {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.inheritCache = make(map[inheritKey]*tables.Table)
}

// Collections returns the ids of all loaded collections.
func (e *Engine) Collections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.collections))
	for _, c := range e.sortedCollections() {
		out = append(out, c.ID)
	}
	return out
}

// collection returns the collection for id. An empty id is accepted when
// exactly one collection is loaded.
func (e *Engine) collection(id string) (*Collection, error) {
	if id == "" {
		if len(e.collections) == 1 {
			for _, c := range e.collections {
				return c, nil
			}
		}
		return nil, fmt.Errorf("%w: empty id with %d collections loaded", ErrCollectionNotFound, len(e.collections))
	}
	c, ok := e.collections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, id)
	}
	return c, nil
}

// GetTable returns a table by id. With an empty collection id, all loaded
// collections are searched in stable order.
func (e *Engine) GetTable(id, collectionID string) (*tables.Table, string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if collectionID != "" {
		col, err := e.collection(collectionID)
		if err != nil {
			return nil, "", err
		}
		if t, ok := col.tables[id]; ok {
			return t, col.ID, nil
		}
		return nil, "", fmt.Errorf("%w: %q in collection %q", ErrTableNotFound, id, collectionID)
	}
	for _, col := range e.sortedCollections() {
		if t, ok := col.tables[id]; ok {
			return t, col.ID, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %q", ErrTableNotFound, id)
}

// GetTemplate returns a template by id from the given collection.
func (e *Engine) GetTemplate(id, collectionID string) (*tables.Template, string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	col, err := e.collection(collectionID)
	if err != nil {
		return nil, "", err
	}
	if t, ok := col.templates[id]; ok {
		return t, col.ID, nil
	}
	return nil, "", fmt.Errorf("%w: %q in collection %q", ErrTemplateNotFound, id, collectionID)
}

// ListTables lists the tables of a collection.
func (e *Engine) ListTables(collectionID string) ([]TableInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	col, err := e.collection(collectionID)
	if err != nil {
		return nil, err
	}
	return col.tableInfos(), nil
}

// ListTemplates lists the templates of a collection.
func (e *Engine) ListTemplates(collectionID string) ([]TemplateInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	col, err := e.collection(collectionID)
	if err != nil {
		return nil, err
	}
	return col.templateInfos(), nil
}

// ListImportedTables lists the tables visible through a collection's
// resolved imports, qualified by alias.
func (e *Engine) ListImportedTables(collectionID string) ([]TableInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	col, err := e.collection(collectionID)
	if err != nil {
		return nil, err
	}
	var out []TableInfo
	for alias, imp := range col.imports {
		for _, info := range imp.tableInfos() {
			info.ID = alias + "." + info.ID
			out = append(out, info)
		}
	}
	sortTableInfos(out)
	return out, nil
}

// ListImportedTemplates lists templates visible through resolved imports.
func (e *Engine) ListImportedTemplates(collectionID string) ([]TemplateInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	col, err := e.collection(collectionID)
	if err != nil {
		return nil, err
	}
	var out []TemplateInfo
	for alias, imp := range col.imports {
		for _, info := range imp.templateInfos() {
			info.ID = alias + "." + info.ID
			out = append(out, info)
		}
	}
	sortTemplateInfos(out)
	return out, nil
}

// RollOptions control a single roll.
type RollOptions struct {
	EnableTrace bool
}

// RawPatternOptions control a raw-pattern preview evaluation.
type RawPatternOptions struct {
	RollOptions
	// Shared seeds extra shared variables, name to pattern, evaluated in
	// map-key order after the document's own declarations.
	Shared map[string]string
}

// Metadata describes the provenance of a result.
type Metadata struct {
	RollID       string    `json:"rollId"`
	SourceID     string    `json:"sourceId"`
	CollectionID string    `json:"collectionId"`
	Timestamp    time.Time `json:"timestamp"`
	EntryID      string    `json:"entryId,omitempty"`
}

// ExpressionOutput maps one {{…}} span of a previewed pattern to the text
// it produced.
type ExpressionOutput struct {
	Raw    string `json:"raw"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Output string `json:"output"`
}

// Result is the artifact of a roll.
type Result struct {
	Text              string                       `json:"text"`
	ResultType        string                       `json:"resultType,omitempty"`
	Assets            []string                     `json:"assets,omitempty"`
	Placeholders      map[string]map[string]string `json:"placeholders,omitempty"`
	Metadata          Metadata                     `json:"metadata"`
	Trace             *TraceNode                   `json:"trace,omitempty"`
	Captures          map[string]*CaptureVariable  `json:"captures,omitempty"`
	Descriptions      []Description                `json:"descriptions,omitempty"`
	ExpressionOutputs []ExpressionOutput           `json:"expressionOutputs,omitempty"`
}

func sortTableInfos(infos []TableInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
}

func sortTemplateInfos(infos []TemplateInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
}
