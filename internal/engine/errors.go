package engine

import "errors"

// Structural errors fail the roll outright. Evaluation-level problems
// degrade to empty output and a trace warning instead (see evaluate.go).
var (
	ErrCollectionNotFound   = errors.New("collection not found")
	ErrTableNotFound        = errors.New("table not found")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrRecursionLimit       = errors.New("recursion limit exceeded")
	ErrInheritanceDepth     = errors.New("inheritance depth exceeded")
	ErrInheritanceNotSimple = errors.New("inheritance parent is not a simple table")
	ErrShadowedVariable     = errors.New("shared variable shadows a reserved name")
)
