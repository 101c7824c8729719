package engine

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RolldeoDev/rolldeo-go/internal/engine/conditional"
	"github.com/RolldeoDev/rolldeo-go/internal/engine/dice"
	"github.com/RolldeoDev/rolldeo-go/internal/engine/mathexpr"
	"github.com/RolldeoDev/rolldeo-go/internal/engine/pattern"
	"github.com/RolldeoDev/rolldeo-go/internal/tables"
	"github.com/RolldeoDev/rolldeo-go/pkg/metrics"
	"github.com/google/uuid"
)

const defaultSeparator = ", "

// mathErrorText substitutes for a failed {{math:…}} expression so the rest
// of the pattern keeps evaluating.
const mathErrorText = "[math error]"

// rollParams carry per-invocation selection constraints down one rollTable
// call.
type rollParams struct {
	excludeIDs map[string]bool
	unique     bool
}

// rollOutcome is the internal result of evaluating one table.
type rollOutcome struct {
	text       string
	resultType string
	assets     []string
	sets       map[string]SetValue
	entryID    string
}

// evaluator drives one roll. It owns the context and the per-roll dice
// source; the engine it points back to supplies resolution, selection and
// inheritance.
type evaluator struct {
	eng    *Engine
	ctx    *genContext
	doc    *tables.Document
	roller *dice.Roller
}

func (e *Engine) newEvaluator(col *Collection, enableTrace bool) *evaluator {
	var src *rand.Rand
	if seed, ok := e.diceSeed(); ok {
		src = rand.New(rand.NewSource(seed))
	}
	return &evaluator{
		eng:    e,
		ctx:    newContext(col.Doc, enableTrace),
		doc:    col.Doc,
		roller: dice.NewRoller(src, e.maxDiceExplosions(col.Doc)),
	}
}

// warn records an evaluation warning: trace leaf plus debug log. Warnings
// never abort the roll.
func (ev *evaluator) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	ev.ctx.trace.leaf("warning", msg, "")
	ev.eng.log.Component("engine").Debug(msg)
}

// Roll evaluates a table and assembles the result artifact.
func (e *Engine) Roll(tableID, collectionID string, opts RollOptions) (*Result, error) {
	start := time.Now()
	res, err := e.rollTableTop(tableID, collectionID, opts)
	if e.metricsEnabled {
		metrics.ObserveRoll("table", statusOf(err), time.Since(start))
	}
	return res, err
}

func (e *Engine) rollTableTop(tableID, collectionID string, opts RollOptions) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	col, err := e.collection(collectionID)
	if err != nil {
		return nil, err
	}
	t, ok := col.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: %q in collection %q", ErrTableNotFound, tableID, col.ID)
	}

	ev := e.newEvaluator(col, opts.EnableTrace)
	if ev.ctx.trace != nil {
		ev.ctx.trace.root.Label = tableID
	}
	if err := ev.evalDocumentShared(col); err != nil {
		return nil, err
	}
	out, err := ev.rollTable(col, t, rollParams{})
	if err != nil {
		return nil, err
	}
	text, err := ev.applyDocConditionals(col, out.text)
	if err != nil {
		return nil, err
	}
	return ev.buildResult(col, tableID, out.entryID, text, out.resultType, out.assets), nil
}

// RollTemplate evaluates a template and assembles the result artifact.
func (e *Engine) RollTemplate(templateID, collectionID string, opts RollOptions) (*Result, error) {
	start := time.Now()
	res, err := e.rollTemplateTop(templateID, collectionID, opts)
	if e.metricsEnabled {
		metrics.ObserveRoll("template", statusOf(err), time.Since(start))
	}
	return res, err
}

func (e *Engine) rollTemplateTop(templateID, collectionID string, opts RollOptions) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	col, err := e.collection(collectionID)
	if err != nil {
		return nil, err
	}
	tpl, ok := col.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("%w: %q in collection %q", ErrTemplateNotFound, templateID, col.ID)
	}

	ev := e.newEvaluator(col, opts.EnableTrace)
	if ev.ctx.trace != nil {
		ev.ctx.trace.root.Label = templateID
	}
	if err := ev.evalDocumentShared(col); err != nil {
		return nil, err
	}
	if err := ev.evalScopedShared(col, tpl.ID, tpl.Shared); err != nil {
		return nil, err
	}
	text, err := ev.evaluatePattern(col, tpl.Pattern)
	if err != nil {
		return nil, err
	}
	text, err = ev.applyDocConditionals(col, text)
	if err != nil {
		return nil, err
	}
	return ev.buildResult(col, tpl.ID, "", text, tpl.ResultType, nil), nil
}

// EvaluateRawPattern evaluates a pattern string against a collection, also
// reporting per-expression output slices for live preview.
func (e *Engine) EvaluateRawPattern(pat, collectionID string, opts RawPatternOptions) (*Result, error) {
	start := time.Now()
	res, err := e.evaluateRawPatternTop(pat, collectionID, opts)
	if e.metricsEnabled {
		metrics.ObserveRoll("pattern", statusOf(err), time.Since(start))
	}
	return res, err
}

func (e *Engine) evaluateRawPatternTop(pat, collectionID string, opts RawPatternOptions) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	col, err := e.collection(collectionID)
	if err != nil {
		return nil, err
	}

	ev := e.newEvaluator(col, opts.EnableTrace)
	if ev.ctx.trace != nil {
		ev.ctx.trace.root.Label = "pattern"
	}
	if err := ev.evalDocumentShared(col); err != nil {
		return nil, err
	}
	// Caller-provided shared variables, in stable name order.
	names := make([]string, 0, len(opts.Shared))
	for name := range opts.Shared {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ev.evalSharedDecl(col, tables.SharedVar{Name: name, Pattern: opts.Shared[name]}, ""); err != nil {
			return nil, err
		}
	}

	exprs := pattern.ExtractExpressions(pat)
	var b strings.Builder
	outputs := make([]ExpressionOutput, 0, len(exprs))
	last := 0
	for _, ex := range exprs {
		b.WriteString(pat[last:ex.Start])
		var out string
		if lit, ok := ex.Token.(pattern.Literal); ok {
			out = lit.Text
		} else {
			out, err = ev.evalToken(col, ex.Token)
			if err != nil {
				return nil, err
			}
		}
		outputs = append(outputs, ExpressionOutput{Raw: ex.Raw, Start: ex.Start, End: ex.End, Output: out})
		b.WriteString(out)
		last = ex.End
	}
	b.WriteString(pat[last:])

	res := ev.buildResult(col, "", "", b.String(), "", nil)
	res.ExpressionOutputs = outputs
	return res, nil
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// buildResult assembles the public result from the evaluator state.
func (ev *evaluator) buildResult(col *Collection, sourceID, entryID, text, resultType string, assets []string) *Result {
	res := &Result{
		Text:       text,
		ResultType: resultType,
		Assets:     assets,
		Metadata: Metadata{
			RollID:       uuid.NewString(),
			SourceID:     sourceID,
			CollectionID: col.ID,
			Timestamp:    time.Now().UTC(),
			EntryID:      entryID,
		},
	}
	if len(ev.ctx.placeholders) > 0 {
		res.Placeholders = ev.ctx.placeholders
	}
	if len(ev.ctx.captures) > 0 {
		res.Captures = ev.ctx.captures
	}
	if len(*ev.ctx.descriptions) > 0 {
		descs := append([]Description(nil), *ev.ctx.descriptions...)
		sort.SliceStable(descs, func(i, j int) bool { return descs[i].Depth < descs[j].Depth })
		res.Descriptions = descs
	}
	if ev.ctx.trace != nil {
		res.Trace = ev.ctx.trace.root
	}
	return res
}

// --- shared variables ---

// evalDocumentShared evaluates document-level shared declarations in order
// and reserves their names against shadowing.
func (ev *evaluator) evalDocumentShared(col *Collection) error {
	for _, decl := range col.Doc.Shared {
		ev.ctx.docSharedNames[strings.TrimPrefix(decl.Name, "$")] = true
		if err := ev.evalSharedDecl(col, decl, ""); err != nil {
			return err
		}
	}
	return nil
}

// evalScopedShared evaluates table- or template-level declarations. A name
// already reserved by the document or by a static variable fails the roll;
// a value set by a parent scope is kept; a value this same source set on a
// previous roll is re-evaluated.
func (ev *evaluator) evalScopedShared(col *Collection, sourceID string, decls tables.SharedVars) error {
	ctx := ev.ctx
	for _, decl := range decls {
		base := strings.TrimPrefix(decl.Name, "$")
		if ctx.docSharedNames[base] {
			return fmt.Errorf("%w: %q in %q shadows a document shared variable", ErrShadowedVariable, decl.Name, sourceID)
		}
		if _, ok := ctx.staticVars[base]; ok {
			return fmt.Errorf("%w: %q in %q shadows a static variable", ErrShadowedVariable, decl.Name, sourceID)
		}
	}
	// Clear values this source set previously so a multi-roll re-evaluates
	// them; values set by a parent survive.
	for _, decl := range decls {
		base := strings.TrimPrefix(decl.Name, "$")
		if sv, ok := ctx.sharedVars[base]; ok && sv.sourceID == sourceID {
			delete(ctx.sharedVars, base)
		}
		if src, ok := ctx.captureSource[base]; ok && src == sourceID {
			delete(ctx.captureShared, base)
			delete(ctx.captureSource, base)
		}
	}
	for _, decl := range decls {
		base := strings.TrimPrefix(decl.Name, "$")
		if _, ok := ctx.sharedVars[base]; ok {
			continue
		}
		if _, ok := ctx.captureShared[base]; ok {
			continue
		}
		if err := ev.evalSharedDecl(col, decl, sourceID); err != nil {
			return err
		}
	}
	return nil
}

// evalSharedDecl evaluates one declaration. Names with a $ sigil are
// capture-aware and keep the structured roll.
func (ev *evaluator) evalSharedDecl(col *Collection, decl tables.SharedVar, sourceID string) error {
	if strings.HasPrefix(decl.Name, "$") {
		return ev.evalCaptureShared(col, strings.TrimPrefix(decl.Name, "$"), decl.Pattern, sourceID)
	}
	v, err := ev.evaluatePattern(col, decl.Pattern)
	if err != nil {
		return err
	}
	ev.ctx.setSharedString(decl.Name, v, sourceID)
	return nil
}

// evalCaptureShared stores a capture-aware shared variable. A pattern that
// is a single table reference keeps the sub-roll structured; a single
// capture-access chain ending in a nested item is stored directly; anything
// else flattens to text.
func (ev *evaluator) evalCaptureShared(col *Collection, name, pat, sourceID string) error {
	exprs := pattern.ExtractExpressions(pat)
	trimmed := strings.TrimSpace(pat)
	if len(exprs) == 1 && exprs[0].Raw == trimmed {
		switch tok := exprs[0].Token.(type) {
		case pattern.TableRef:
			if t, tc := ev.eng.resolveTable(col, tok.Ref); t != nil {
				descStart := len(*ev.ctx.descriptions)
				out, err := ev.rollTable(tc, t, rollParams{})
				if err != nil {
					return err
				}
				item := &CaptureItem{Value: out.text, Sets: out.sets}
				if len(*ev.ctx.descriptions) > descStart {
					item.Description = (*ev.ctx.descriptions)[descStart].Text
				}
				ev.ctx.captureShared[name] = item
				ev.ctx.captureSource[name] = sourceID
				return nil
			}
		case pattern.CaptureAccess:
			if item := ev.captureAccessItem(tok); item != nil {
				ev.ctx.captureShared[name] = item
				ev.ctx.captureSource[name] = sourceID
				return nil
			}
		}
	}
	v, err := ev.evaluatePattern(col, pat)
	if err != nil {
		return err
	}
	ev.ctx.captureShared[name] = &CaptureItem{Value: v, Sets: map[string]SetValue{}}
	ev.ctx.captureSource[name] = sourceID
	return nil
}

// captureAccessItem resolves a capture-access chain when it lands on a
// nested CaptureItem; nil otherwise.
func (ev *evaluator) captureAccessItem(tok pattern.CaptureAccess) *CaptureItem {
	item := ev.captureBaseItem(tok.VarName, tok.Index)
	if item == nil {
		return nil
	}
	for _, prop := range tok.Properties {
		switch prop {
		case "value", "count", "description":
			return nil
		}
		v, ok := item.Sets[prop]
		if !ok || v.Item == nil {
			return nil
		}
		item = v.Item
	}
	return item
}

// captureBaseItem picks the base item of a capture access: an indexed
// capture element, the first element of an unindexed capture, or a
// capture-aware shared item.
func (ev *evaluator) captureBaseItem(name string, index *int) *CaptureItem {
	if cv, ok := ev.ctx.captures[name]; ok {
		i := 0
		if index != nil {
			i = *index
		}
		item, ok := cv.At(i)
		if !ok {
			return nil
		}
		return item
	}
	if item, ok := ev.ctx.captureShared[name]; ok && (index == nil || *index == 0 || *index == -1) {
		return item
	}
	return nil
}

// --- conditionals ---

// applyDocConditionals applies document-level conditionals to the final
// text in declaration order. Malformed conditions warn and are skipped.
func (ev *evaluator) applyDocConditionals(col *Collection, text string) (string, error) {
	for _, cond := range col.Doc.Conditionals {
		matched, err := conditional.Evaluate(cond.When, conditionalResolver{ctx: ev.ctx})
		if err != nil {
			ev.warn("conditional %q: %v", cond.When, err)
			continue
		}
		if !matched {
			continue
		}
		value, err := ev.evaluatePattern(col, cond.Value)
		if err != nil {
			return "", err
		}
		text = conditional.ApplyAction(text, cond.Action, value, cond.Target, cond.Variable, func(name, v string) {
			ev.ctx.setSharedString(name, v, "conditional")
		})
	}
	return text, nil
}

// --- table rolling ---

// rollTable evaluates one table with recursion accounting and shared
// variable scoping, dispatching on the table variant.
func (ev *evaluator) rollTable(col *Collection, t *tables.Table, rp rollParams) (*rollOutcome, error) {
	ctx := ev.ctx
	maxDepth := ev.eng.maxRecursionDepth(ev.doc)
	ctx.depth++
	defer func() { ctx.depth-- }()
	if ctx.depth > maxDepth {
		if ev.eng.metricsEnabled {
			metrics.RecursionLimitHit()
		}
		return nil, fmt.Errorf("%w: depth %d reached rolling table %q", ErrRecursionLimit, maxDepth, t.ID)
	}

	ctx.trace.push("table", t.ID, "")
	defer ctx.trace.pop()

	prevTable, prevEntry, prevDesc := ctx.currentTableID, ctx.currentEntryID, ctx.currentEntryDesc
	ctx.currentTableID = t.ID
	defer func() {
		ctx.currentTableID, ctx.currentEntryID, ctx.currentEntryDesc = prevTable, prevEntry, prevDesc
	}()

	if len(t.Shared) > 0 {
		if err := ev.evalScopedShared(col, t.ID, t.Shared); err != nil {
			return nil, err
		}
	}

	switch t.Variant() {
	case tables.TypeComposite:
		return ev.rollComposite(col, t, rp)
	case tables.TypeCollection:
		return ev.rollCollection(col, t, rp)
	default:
		return ev.rollSimple(col, t, rp)
	}
}

func (ev *evaluator) rollSimple(col *Collection, t *tables.Table, rp rollParams) (*rollOutcome, error) {
	resolved, err := ev.eng.resolveInheritance(col, t)
	if err != nil {
		return nil, err
	}

	pool := ev.buildPool(col, resolved, rp)
	if len(pool) == 0 {
		pool = ev.handleUniqueOverflow(col, resolved, rp)
	}
	if len(pool) == 0 {
		ev.warn("table %q: no selectable entries", t.ID)
		return &rollOutcome{sets: map[string]SetValue{}}, nil
	}

	cand := ev.eng.pickWeighted(pool)
	if rp.unique {
		ev.ctx.addUsedEntry(resolved.ID, cand.entryID)
	}
	return ev.finishSelection(col, resolved, cand)
}

// buildPool combines the per-call exclusions with the unique used-entries
// set of the table.
func (ev *evaluator) buildPool(col *Collection, t *tables.Table, rp rollParams) []candidate {
	exclude := rp.excludeIDs
	if rp.unique {
		if used := ev.ctx.usedEntries[t.ID]; len(used) > 0 {
			merged := make(map[string]bool, len(used)+len(rp.excludeIDs))
			for id := range rp.excludeIDs {
				merged[id] = true
			}
			for id := range used {
				merged[id] = true
			}
			exclude = merged
		}
	}
	return buildSimplePool(col, t, exclude)
}

// handleUniqueOverflow applies the document's unique-overflow policy when
// exclusions empty the pool: stop yields nothing, reset clears the
// used-entries set and retries once, wrap falls back to the unexcluded pool.
func (ev *evaluator) handleUniqueOverflow(col *Collection, t *tables.Table, rp rollParams) []candidate {
	if !rp.unique && len(rp.excludeIDs) == 0 {
		return nil
	}
	switch col.Doc.Metadata.UniqueOverflow {
	case tables.UniqueOverflowReset:
		delete(ev.ctx.usedEntries, t.ID)
		return buildSimplePool(col, t, rp.excludeIDs)
	case tables.UniqueOverflowWrap:
		return buildSimplePool(col, t, nil)
	default:
		ev.warn("table %q: unique pool exhausted", t.ID)
		return nil
	}
}

func (ev *evaluator) rollComposite(col *Collection, t *tables.Table, rp rollParams) (*rollOutcome, error) {
	src := ev.eng.pickSource(t.Sources)
	if src == nil {
		ev.warn("composite %q: no selectable sources", t.ID)
		return &rollOutcome{sets: map[string]SetValue{}}, nil
	}
	sub, subCol := ev.eng.resolveTable(col, src.Table)
	if sub == nil {
		ev.warn("composite %q: source table %q not found", t.ID, src.Table)
		return &rollOutcome{sets: map[string]SetValue{}}, nil
	}
	out, err := ev.rollTable(subCol, sub, rp)
	if err != nil {
		return nil, err
	}
	// Result type: rolled entry's, else source table's (already folded into
	// out), else the composite's.
	if out.resultType == "" {
		out.resultType = t.ResultType
	}
	return out, nil
}

func (ev *evaluator) rollCollection(col *Collection, t *tables.Table, rp rollParams) (*rollOutcome, error) {
	var pool []candidate
	for _, id := range t.Tables {
		member, memberCol := ev.eng.resolveTable(col, id)
		if member == nil {
			ev.warn("collection %q: member table %q not found", t.ID, id)
			continue
		}
		if member.Variant() != tables.TypeSimple {
			ev.warn("collection %q: member table %q is not simple", t.ID, id)
			continue
		}
		resolved, err := ev.eng.resolveInheritance(memberCol, member)
		if err != nil {
			return nil, err
		}
		pool = append(pool, ev.buildPool(memberCol, resolved, rp)...)
	}
	if len(pool) == 0 {
		ev.warn("collection %q: no selectable entries", t.ID)
		return &rollOutcome{sets: map[string]SetValue{}}, nil
	}

	cand := ev.eng.pickWeighted(pool)
	if rp.unique {
		ev.ctx.addUsedEntry(cand.table.ID, cand.entryID)
	}
	out, err := ev.finishSelection(cand.col, cand.table, cand)
	if err != nil {
		return nil, err
	}
	if out.resultType == "" {
		out.resultType = t.ResultType
	}
	return out, nil
}

// finishSelection evaluates the selected entry: merged sets first (so the
// value pattern sees the placeholders), then the value, then the
// description.
func (ev *evaluator) finishSelection(col *Collection, t *tables.Table, cand *candidate) (*rollOutcome, error) {
	ctx := ev.ctx
	ctx.currentEntryID = cand.entryID
	ctx.currentEntryDesc = cand.entry.Description

	sets, err := ev.evaluateMergedSets(col, t, cand.entry)
	if err != nil {
		return nil, err
	}
	bucket := make(map[string]string, len(sets))
	for k, v := range sets {
		bucket[k] = v.String()
	}
	ctx.placeholders[t.ID] = bucket

	text, err := ev.evaluatePattern(col, cand.entry.Value)
	if err != nil {
		return nil, err
	}
	ctx.trace.leaf("entry", cand.entryID, text)

	if cand.entry.Description != "" {
		desc, err := ev.evaluatePattern(col, cand.entry.Description)
		if err != nil {
			return nil, err
		}
		*ctx.descriptions = append(*ctx.descriptions, Description{
			TableName: t.DisplayName(),
			TableID:   t.ID,
			Value:     text,
			Text:      desc,
			Depth:     ctx.depth,
		})
	}

	resultType := cand.entry.ResultType
	if resultType == "" {
		resultType = t.ResultType
	}
	return &rollOutcome{
		text:       text,
		resultType: resultType,
		assets:     cand.entry.Assets,
		sets:       sets,
		entryID:    cand.entryID,
	}, nil
}

// evaluateMergedSets evaluates the entry's merged sets: defaultSets
// overridden by the entry's own, each value evaluated exactly once per
// selection with cycle detection. A value that is a single table reference
// keeps the sub-roll structured.
func (ev *evaluator) evaluateMergedSets(col *Collection, t *tables.Table, entry *tables.Entry) (map[string]SetValue, error) {
	merged := make(map[string]string, len(t.DefaultSets)+len(entry.Sets))
	for k, v := range t.DefaultSets {
		merged[k] = v
	}
	for k, v := range entry.Sets {
		merged[k] = v
	}
	if len(merged) == 0 {
		return map[string]SetValue{}, nil
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]SetValue, len(merged))
	for _, k := range keys {
		v, err := ev.evaluateSetValue(col, t.ID, k, merged[k])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (ev *evaluator) evaluateSetValue(col *Collection, tableID, key, raw string) (SetValue, error) {
	if !strings.Contains(raw, "{{") {
		return SetValue{Text: raw}, nil
	}

	cycleKey := tableID + "." + key
	if ev.ctx.setsInFly[cycleKey] {
		// A set value that transitively references itself emits its raw
		// pattern once instead of spinning.
		ev.warn("set %q: cycle detected", cycleKey)
		return SetValue{Text: raw}, nil
	}
	ev.ctx.setsInFly[cycleKey] = true
	defer delete(ev.ctx.setsInFly, cycleKey)

	exprs := pattern.ExtractExpressions(raw)
	trimmed := strings.TrimSpace(raw)
	if len(exprs) == 1 && exprs[0].Raw == trimmed {
		if ref, ok := exprs[0].Token.(pattern.TableRef); ok {
			sub, subCol := ev.eng.resolveTable(col, ref.Ref)
			if sub == nil {
				ev.warn("set %q: table %q not found", cycleKey, ref.Ref)
				return SetValue{Text: ""}, nil
			}
			out, err := ev.rollTable(subCol, sub, rollParams{})
			if err != nil {
				return SetValue{}, err
			}
			return SetValue{Item: &CaptureItem{Value: out.text, Sets: out.sets}}, nil
		}
	}

	text, err := ev.evaluatePattern(col, raw)
	if err != nil {
		return SetValue{}, err
	}
	return SetValue{Text: text}, nil
}

// --- pattern evaluation ---

// evaluatePattern tokenizes and evaluates a pattern left to right.
func (ev *evaluator) evaluatePattern(col *Collection, pat string) (string, error) {
	if pat == "" {
		return "", nil
	}
	var b strings.Builder
	for _, tok := range pattern.Tokenize(pat) {
		s, err := ev.evalToken(col, tok)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (ev *evaluator) evalToken(col *Collection, tok pattern.Token) (string, error) {
	switch t := tok.(type) {
	case pattern.Literal:
		return t.Text, nil
	case pattern.Dice:
		return ev.evalDice(t), nil
	case pattern.Math:
		return ev.evalMath(t), nil
	case pattern.Variable:
		return ev.evalVariable(col, t), nil
	case pattern.Placeholder:
		return ev.evalPlaceholder(col, t)
	case pattern.TableRef:
		return ev.evalTableRef(col, t)
	case pattern.MultiRoll:
		return ev.evalMultiRoll(col, t)
	case pattern.CaptureMultiRoll:
		return ev.evalCaptureMultiRoll(col, t)
	case pattern.CaptureAccess:
		return ev.evalCaptureAccess(t), nil
	case pattern.Collect:
		return ev.evalCollect(t), nil
	case pattern.Again:
		return ev.evalAgain(col, t)
	case pattern.Instance:
		return ev.evalInstance(col, t)
	default:
		return "", nil
	}
}

func (ev *evaluator) evalDice(t pattern.Dice) string {
	res, err := ev.roller.Evaluate(t.Expr)
	if err != nil {
		ev.warn("dice %q: %v", t.Expr, err)
		return ""
	}
	detail := res.Breakdown
	if res.Truncated {
		detail += " (explosion capped)"
	}
	ev.ctx.trace.leaf("dice", t.Expr, detail)
	return strconv.Itoa(res.Total)
}

func (ev *evaluator) evalMath(t pattern.Math) string {
	v, ok := mathexpr.Evaluate(t.Expr, func(name string) (int, bool) {
		s, ok := ev.ctx.lookupVariable(name)
		if !ok {
			return 0, false
		}
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int(f), true
		}
		return 0, false
	})
	if !ok {
		ev.warn("math %q: evaluation failed", t.Expr)
		return mathErrorText
	}
	return strconv.Itoa(v)
}

func (ev *evaluator) evalVariable(col *Collection, t pattern.Variable) string {
	if t.Alias != "" {
		// Import-qualified variables read the imported document's statics.
		if imp, ok := col.imports[t.Alias]; ok {
			if v, ok := imp.Doc.Variables[t.Name]; ok {
				return v
			}
		}
		ev.warn("variable $%s.%s not found", t.Alias, t.Name)
		return ""
	}
	if v, ok := ev.ctx.lookupVariable(t.Name); ok {
		return v
	}
	// A bare $name naming a capture joins its values.
	if cv, ok := ev.ctx.captures[t.Name]; ok {
		return joinItems(cv.Items, defaultSeparator)
	}
	ev.warn("variable $%s not found", t.Name)
	return ""
}

func (ev *evaluator) evalPlaceholder(col *Collection, t pattern.Placeholder) (string, error) {
	if t.Name == "self" && t.Property == "description" {
		if ev.ctx.currentEntryDesc == "" {
			return "", nil
		}
		return ev.evaluatePattern(col, ev.ctx.currentEntryDesc)
	}
	if v, ok := ev.ctx.lookupPlaceholder(t.Name, t.Property); ok {
		return v, nil
	}
	// No implicit table roll here: a set value that happens to match a
	// table id stays text; rolling requires explicit {{id}} syntax.
	ev.warn("placeholder @%s.%s not found", t.Name, t.Property)
	return "", nil
}

func (ev *evaluator) evalTableRef(col *Collection, t pattern.TableRef) (string, error) {
	if tbl, tc := ev.eng.resolveTable(col, t.Ref); tbl != nil {
		out, err := ev.rollTable(tc, tbl, rollParams{})
		if err != nil {
			return "", err
		}
		return out.text, nil
	}
	if tpl, tc := ev.eng.resolveTemplate(col, t.Ref); tpl != nil {
		return ev.rollTemplateNested(tc, tpl)
	}
	ev.warn("reference %q not found", t.Ref)
	return "", nil
}

// rollTemplateNested evaluates a template referenced from a pattern in an
// isolated context so its shared declarations cannot pollute the caller.
func (ev *evaluator) rollTemplateNested(col *Collection, tpl *tables.Template) (string, error) {
	ctx := ev.ctx
	maxDepth := ev.eng.maxRecursionDepth(ev.doc)
	ctx.depth++
	defer func() { ctx.depth-- }()
	if ctx.depth > maxDepth {
		if ev.eng.metricsEnabled {
			metrics.RecursionLimitHit()
		}
		return "", fmt.Errorf("%w: depth %d reached rolling template %q", ErrRecursionLimit, maxDepth, tpl.ID)
	}

	ctx.trace.push("template", tpl.ID, "")
	defer ctx.trace.pop()

	iso := ctx.isolatedFor(col.Doc)
	prev := ev.ctx
	ev.ctx = iso
	defer func() { ev.ctx = prev }()

	if err := ev.evalDocumentShared(col); err != nil {
		return "", err
	}
	if err := ev.evalScopedShared(col, tpl.ID, tpl.Shared); err != nil {
		return "", err
	}
	return ev.evaluatePattern(col, tpl.Pattern)
}

// resolveCount resolves a multi-roll count from a literal, a variable or a
// dice expression.
func (ev *evaluator) resolveCount(spec pattern.CountSpec) (int, bool) {
	switch {
	case spec.Var != "":
		s, ok := ev.ctx.lookupVariable(spec.Var)
		if !ok {
			ev.warn("multi-roll count $%s not found", spec.Var)
			return 0, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 0 {
			ev.warn("multi-roll count $%s=%q is not a count", spec.Var, s)
			return 0, false
		}
		return n, true
	case spec.Dice != "":
		res, err := ev.roller.Evaluate(spec.Dice)
		if err != nil {
			ev.warn("multi-roll count %q: %v", spec.Dice, err)
			return 0, false
		}
		return res.Total, true
	default:
		return spec.Literal, true
	}
}

func separatorOf(hasSep bool, sep string) string {
	if hasSep {
		return sep
	}
	return defaultSeparator
}

func (ev *evaluator) evalMultiRoll(col *Collection, t pattern.MultiRoll) (string, error) {
	count, ok := ev.resolveCount(t.Count)
	if !ok {
		return "", nil
	}

	if tbl, tc := ev.eng.resolveTable(col, t.Ref); tbl != nil {
		texts := make([]string, 0, count)
		for i := 0; i < count; i++ {
			out, err := ev.rollTable(tc, tbl, rollParams{unique: t.Unique})
			if err != nil {
				return "", err
			}
			texts = append(texts, out.text)
		}
		return strings.Join(texts, separatorOf(t.HasSep, t.Separator)), nil
	}
	if tpl, tc := ev.eng.resolveTemplate(col, t.Ref); tpl != nil {
		// Unique has no meaning for templates and is ignored.
		texts := make([]string, 0, count)
		for i := 0; i < count; i++ {
			s, err := ev.rollTemplateNested(tc, tpl)
			if err != nil {
				return "", err
			}
			texts = append(texts, s)
		}
		return strings.Join(texts, separatorOf(t.HasSep, t.Separator)), nil
	}
	ev.warn("multi-roll target %q not found", t.Ref)
	return "", nil
}

func (ev *evaluator) evalCaptureMultiRoll(col *Collection, t pattern.CaptureMultiRoll) (string, error) {
	count, ok := ev.resolveCount(t.Count)
	if !ok {
		return "", nil
	}

	if _, exists := ev.ctx.captures[t.VarName]; exists {
		ev.warn("capture $%s redefined", t.VarName)
	}

	cv := &CaptureVariable{}
	var texts []string

	if tbl, tc := ev.eng.resolveTable(col, t.Ref); tbl != nil {
		for i := 0; i < count; i++ {
			descStart := len(*ev.ctx.descriptions)
			out, err := ev.rollTable(tc, tbl, rollParams{unique: t.Unique})
			if err != nil {
				return "", err
			}
			item := &CaptureItem{Value: out.text, Sets: out.sets}
			if len(*ev.ctx.descriptions) > descStart {
				item.Description = (*ev.ctx.descriptions)[descStart].Text
			}
			cv.Items = append(cv.Items, item)
			texts = append(texts, out.text)
		}
	} else if tpl, tc := ev.eng.resolveTemplate(col, t.Ref); tpl != nil {
		for i := 0; i < count; i++ {
			s, err := ev.rollTemplateNested(tc, tpl)
			if err != nil {
				return "", err
			}
			cv.Items = append(cv.Items, &CaptureItem{Value: s, Sets: map[string]SetValue{}})
			texts = append(texts, s)
		}
	} else {
		ev.warn("capture multi-roll target %q not found", t.Ref)
		return "", nil
	}

	ev.ctx.captures[t.VarName] = cv
	if t.Silent {
		return "", nil
	}
	return strings.Join(texts, separatorOf(t.HasSep, t.Separator)), nil
}

func joinItems(items []*CaptureItem, sep string) string {
	vals := make([]string, 0, len(items))
	for _, it := range items {
		vals = append(vals, it.Value)
	}
	return strings.Join(vals, sep)
}

func (ev *evaluator) evalCaptureAccess(t pattern.CaptureAccess) string {
	sep := separatorOf(t.HasSep, t.Separator)

	cv, isCapture := ev.ctx.captures[t.VarName]
	cs, isShared := ev.ctx.captureShared[t.VarName]
	if !isCapture && !isShared {
		ev.warn("capture $%s not found", t.VarName)
		return ""
	}

	var items []*CaptureItem
	if isCapture {
		items = cv.Items
	} else {
		items = []*CaptureItem{cs}
	}

	// .count applies to the whole variable.
	if len(t.Properties) == 1 && t.Properties[0] == "count" && t.Index == nil {
		return strconv.Itoa(len(items))
	}

	if t.Index != nil {
		item, ok := (&CaptureVariable{Items: items}).At(*t.Index)
		if !ok {
			ev.warn("capture $%s[%d]: index out of bounds", t.VarName, *t.Index)
			return ""
		}
		return ev.traverseItem(t.VarName, item, t.Properties)
	}

	if len(t.Properties) == 0 {
		return joinItems(items, sep)
	}

	// Unindexed property access maps over every item.
	var outs []string
	for _, item := range items {
		if s := ev.traverseItem(t.VarName, item, t.Properties); s != "" {
			outs = append(outs, s)
		}
	}
	return strings.Join(outs, sep)
}

// traverseItem walks a property chain over nested capture items per the
// chained-access rules: terminal keywords end the walk, strings cannot be
// chained through, missing properties degrade to empty output.
func (ev *evaluator) traverseItem(varName string, item *CaptureItem, props []string) string {
	for i, prop := range props {
		terminal := i == len(props)-1
		switch prop {
		case "value":
			if !terminal {
				ev.warn("capture $%s: value must be the last property", varName)
				return ""
			}
			return item.Value
		case "count":
			if !terminal {
				ev.warn("capture $%s: count must be the last property", varName)
				return ""
			}
			return "1"
		case "description":
			if !terminal {
				ev.warn("capture $%s: description must be the last property", varName)
				return ""
			}
			return item.Description
		}

		v, ok := item.Sets[prop]
		if !ok {
			ev.warn("capture $%s: property %q not found", varName, prop)
			return ""
		}
		if v.Item == nil {
			if terminal {
				return v.Text
			}
			ev.warn("capture $%s: cannot chain through string property %q", varName, prop)
			return ""
		}
		if terminal {
			return v.Item.Value
		}
		item = v.Item
	}
	return item.Value
}

func (ev *evaluator) evalCollect(t pattern.Collect) string {
	cv, isCapture := ev.ctx.captures[t.VarName]
	cs, isShared := ev.ctx.captureShared[t.VarName]
	if !isCapture && !isShared {
		ev.warn("collect: capture $%s not found", t.VarName)
		return ""
	}

	var items []*CaptureItem
	if isCapture {
		items = cv.Items
	} else {
		items = []*CaptureItem{cs}
	}

	var vals []string
	seen := make(map[string]bool)
	for _, item := range items {
		var v string
		if t.Property == "value" {
			v = item.Value
		} else if sv, ok := item.Sets[t.Property]; ok {
			v = sv.String()
		}
		if v == "" {
			continue
		}
		if t.Unique {
			if seen[v] {
				continue
			}
			seen[v] = true
		}
		vals = append(vals, v)
	}
	return strings.Join(vals, separatorOf(t.HasSep, t.Separator))
}

func (ev *evaluator) evalAgain(col *Collection, t pattern.Again) (string, error) {
	ctx := ev.ctx
	if ctx.currentTableID == "" {
		ev.warn("again used outside a table roll")
		return "", nil
	}
	tbl, tc := ev.eng.resolveTable(col, ctx.currentTableID)
	if tbl == nil {
		ev.warn("again: table %q not found", ctx.currentTableID)
		return "", nil
	}

	exclude := map[string]bool{}
	if ctx.currentEntryID != "" {
		exclude[ctx.currentEntryID] = true
	}
	texts := make([]string, 0, t.Count)
	for i := 0; i < t.Count; i++ {
		out, err := ev.rollTable(tc, tbl, rollParams{excludeIDs: exclude, unique: t.Unique})
		if err != nil {
			return "", err
		}
		if out.text != "" {
			texts = append(texts, out.text)
		}
	}
	return strings.Join(texts, defaultSeparator), nil
}

func (ev *evaluator) evalInstance(col *Collection, t pattern.Instance) (string, error) {
	key := t.Ref + "#" + t.Name
	if v, ok := ev.ctx.instances[key]; ok {
		return v, nil
	}
	tbl, tc := ev.eng.resolveTable(col, t.Ref)
	if tbl == nil {
		ev.warn("instance target %q not found", t.Ref)
		return "", nil
	}
	out, err := ev.rollTable(tc, tbl, rollParams{})
	if err != nil {
		return "", err
	}
	ev.ctx.instances[key] = out.text
	return out.text, nil
}
