package tables

import (
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
)

var namespaceRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)*$`)

// ValidationError locates one problem in a document.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationResult reports the outcome of validating a document.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(path, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateRaw checks the raw JSON shape before decoding: required blocks
// present and of the right kind. Cheap structural rejects happen here so
// decode errors don't mask authoring mistakes.
func ValidateRaw(raw []byte) ValidationResult {
	var res ValidationResult
	if !gjson.ValidBytes(raw) {
		res.add("", "document is not valid JSON")
		return res
	}
	doc := gjson.ParseBytes(raw)
	if !doc.Get("metadata").Exists() {
		res.add("metadata", "metadata block is required")
	}
	tablesVal := doc.Get("tables")
	if !tablesVal.Exists() {
		res.add("tables", "tables array is required")
	} else if !tablesVal.IsArray() {
		res.add("tables", "tables must be an array")
	}
	if v := doc.Get("templates"); v.Exists() && !v.IsArray() {
		res.add("templates", "templates must be an array")
	}
	if v := doc.Get("imports"); v.Exists() && !v.IsArray() {
		res.add("imports", "imports must be an array")
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// Validate checks a decoded document against the structural rules: required
// metadata, namespace shape, supported spec version, table ids present and
// unique, and per-variant table shape.
func Validate(doc *Document) ValidationResult {
	var res ValidationResult

	if doc.Metadata.Name == "" {
		res.add("metadata.name", "name must not be empty")
	}
	if doc.Metadata.Namespace == "" {
		res.add("metadata.namespace", "namespace must not be empty")
	} else if !namespaceRe.MatchString(doc.Metadata.Namespace) {
		res.add("metadata.namespace", "namespace %q does not match the required pattern", doc.Metadata.Namespace)
	}
	if !specVersionSupported(doc.Metadata.SpecVersion) {
		res.add("metadata.specVersion", "unsupported spec version %q", doc.Metadata.SpecVersion)
	}
	switch doc.Metadata.UniqueOverflow {
	case "", UniqueOverflowStop, UniqueOverflowReset, UniqueOverflowWrap:
	default:
		res.add("metadata.uniqueOverflow", "unknown policy %q", doc.Metadata.UniqueOverflow)
	}

	seen := make(map[string]bool)
	for i := range doc.Tables {
		t := &doc.Tables[i]
		path := fmt.Sprintf("tables[%d]", i)
		if t.ID == "" {
			res.add(path+".id", "table id is required")
			continue
		}
		if seen[t.ID] {
			res.add(path+".id", "duplicate table id %q", t.ID)
		}
		seen[t.ID] = true

		switch t.Variant() {
		case TypeSimple:
			if len(t.Entries) == 0 {
				res.add(path+".entries", "simple table %q has no entries", t.ID)
			}
		case TypeComposite:
			if len(t.Sources) == 0 {
				res.add(path+".sources", "composite table %q has no sources", t.ID)
			}
			if t.Extends != "" {
				res.add(path+".extends", "composite table %q cannot extend", t.ID)
			}
		case TypeCollection:
			if len(t.Tables) == 0 {
				res.add(path+".tables", "collection table %q names no tables", t.ID)
			}
			if t.Extends != "" {
				res.add(path+".extends", "collection table %q cannot extend", t.ID)
			}
		default:
			res.add(path+".type", "unknown table type %q", t.Type)
		}
	}

	tplSeen := make(map[string]bool)
	for i := range doc.Templates {
		t := &doc.Templates[i]
		path := fmt.Sprintf("templates[%d]", i)
		if t.ID == "" {
			res.add(path+".id", "template id is required")
			continue
		}
		if tplSeen[t.ID] {
			res.add(path+".id", "duplicate template id %q", t.ID)
		}
		tplSeen[t.ID] = true
		if t.Pattern == "" {
			res.add(path+".pattern", "template %q has an empty pattern", t.ID)
		}
	}

	aliasSeen := make(map[string]bool)
	for i, imp := range doc.Imports {
		path := fmt.Sprintf("imports[%d]", i)
		if imp.Alias == "" {
			res.add(path+".alias", "import alias is required")
		} else if aliasSeen[imp.Alias] {
			res.add(path+".alias", "duplicate import alias %q", imp.Alias)
		}
		aliasSeen[imp.Alias] = true
		if imp.Path == "" {
			res.add(path+".path", "import path is required")
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func specVersionSupported(v string) bool {
	for _, s := range SpecVersions {
		if s == v {
			return true
		}
	}
	return false
}
