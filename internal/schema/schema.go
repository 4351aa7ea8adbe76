// Package schema validates decoded JSON values against JSON-Schema
// draft-07 documents, caching compiled schemas by path within the
// process.
package schema

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// FieldError is one flattened validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// Validator compiles and caches JSON schemas by filesystem path.
type Validator struct {
	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// NewValidator creates an empty Validator.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*gojsonschema.Schema)}
}

// Validate validates v (already-decoded JSON, e.g. map[string]any) against
// the draft-07 schema at schemaPath, compiling and caching it on first use.
func (v *Validator) Validate(schemaPath string, value any) ([]FieldError, error) {
	compiled, err := v.compiled(schemaPath)
	if err != nil {
		return nil, err
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return nil, fmt.Errorf("schema: validating: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]FieldError, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, FieldError{
			Path:    "/" + jsonPointerFromDotted(e.Field()),
			Keyword: e.Type(),
			Message: e.Description(),
		})
	}
	return errs, nil
}

func (v *Validator) compiled(schemaPath string) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.schemas[schemaPath]; ok {
		return s, nil
	}

	loader := gojsonschema.NewReferenceLoader("file://" + schemaPath)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("schema: compiling %s: %w", schemaPath, err)
	}
	v.schemas[schemaPath] = compiled
	return compiled, nil
}

// jsonPointerFromDotted converts gojsonschema's dotted field path
// ("(root).foo.0.bar") into a slash-delimited JSON Pointer fragment
// ("foo/0/bar").
func jsonPointerFromDotted(field string) string {
	if field == "(root)" {
		return ""
	}
	out := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c == '.' {
			out = append(out, '/')
			continue
		}
		out = append(out, c)
	}
	s := string(out)
	const prefix = "(root)/"
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
