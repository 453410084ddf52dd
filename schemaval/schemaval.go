// Package schemaval validates JSON documents against JSON Schema using the
// CUE evaluator. It implements the store's SchemaValidator capability.
package schemaval

import (
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/jsonschema"
)

// Violation reports a document that does not satisfy its schema. Detail
// holds the full evaluator output, one finding per line.
type Violation struct {
	Detail string
}

func (e *Violation) Error() string {
	return e.Detail
}

// Validator converts JSON Schema documents into CUE values and checks
// documents by unification. Converted schemas are cached by content, so
// validating many rows against one schema compiles it once.
//
// A Validator is safe for concurrent use.
type Validator struct {
	mu    sync.Mutex
	ctx   *cue.Context
	cache map[string]cue.Value
}

func New() *Validator {
	return &Validator{
		ctx:   cuecontext.New(),
		cache: make(map[string]cue.Value),
	}
}

// Validate checks doc against schema and returns a *Violation when the
// document does not conform. An empty schema accepts everything.
func (v *Validator) Validate(doc, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	sv, err := v.compiled(schema)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	dv := v.ctx.CompileBytes(data)
	if err := dv.Err(); err != nil {
		return fmt.Errorf("failed to compile document: %w", err)
	}
	if err := sv.Unify(dv).Validate(cue.Concrete(true)); err != nil {
		return &Violation{Detail: cueerrors.Details(err, nil)}
	}
	return nil
}

// compiled returns the CUE value for a schema, converting and caching it
// on first use. The $schema and $id keywords are dropped first: schemas
// here are inline documents, not addressable resources.
func (v *Validator) compiled(schema map[string]any) (cue.Value, error) {
	clean := make(map[string]any, len(schema))
	for k, val := range schema {
		if k == "$schema" || k == "$id" {
			continue
		}
		clean[k] = val
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to encode schema: %w", err)
	}
	key := string(data)
	if sv, ok := v.cache[key]; ok {
		return sv, nil
	}

	expr := v.ctx.CompileBytes(data)
	if err := expr.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile schema: %w", err)
	}
	file, err := jsonschema.Extract(expr, &jsonschema.Config{})
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to interpret schema: %w", err)
	}
	sv := v.ctx.BuildFile(file)
	if err := sv.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to build schema: %w", err)
	}
	v.cache[key] = sv
	return sv, nil
}
