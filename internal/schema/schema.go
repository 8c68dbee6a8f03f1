// Package schema compiles the task-submission JSON Schema and performs the
// hard-reject (input) / soft-flag (output) validation of spec.md §6, adapted
// from the teacher's internal/services/validator.go: the teacher compiles
// one input/output schema pair per capability loaded from a directory of
// *.json files; this package compiles one fixed input schema (there is a
// single submission shape, not a per-capability one) plus an optional
// per-task-type result schema supplied by the caller.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation wraps every schema rejection so callers can distinguish it
// from a malformed-JSON error with errors.Is.
var ErrValidation = errors.New("schema: validation failed")

// FieldError is one violation, in the {field, message} shape spec.md §6
// requires the submission endpoint to report.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// taskSubmissionSchemaJSON is the JSON Schema source for one task inside a
// POST /tasks envelope (spec.md §6's field-by-field contract), compiled by
// NewValidator.
const taskSubmissionSchemaJSON = `{
  "$id": "https://inaiurai.dev/schemas/task-submission.json",
  "type": "object",
  "required": ["type", "prompt", "context"],
  "properties": {
    "type": {"enum": ["code", "test", "review", "doc", "security"]},
    "priority": {"enum": ["high", "normal", "low"], "default": "normal"},
    "model": {"enum": ["opus", "sonnet"], "default": "sonnet"},
    "prompt": {"type": "string", "minLength": 1, "maxLength": 50000},
    "maxTokens": {"type": "integer", "minimum": 1, "maximum": 200000},
    "timeoutMinutes": {"type": "integer", "minimum": 1, "maximum": 120, "default": 30},
    "budgetCents": {"type": "integer", "minimum": 1, "maximum": 10000, "default": 100},
    "parentTaskId": {"type": "string", "format": "uuid"},
    "context": {
      "type": "object",
      "required": ["branch"],
      "properties": {
        "branch": {"type": "string", "minLength": 1, "maxLength": 255, "pattern": "^[A-Za-z0-9._\\-/]+$"},
        "files": {"type": "array", "maxItems": 100, "items": {"type": "string", "maxLength": 500}},
        "dependencies": {"type": "array", "maxItems": 50, "items": {"type": "string", "format": "uuid"}},
        "repositoryUrl": {"type": "string"},
        "baseCommit": {"type": "string", "pattern": "^[0-9a-f]{40}$"}
      }
    }
  }
}`

// envelopeSchemaJSON is the {tasks: [...]} wrapper (spec.md §6's "1-20 tasks
// per call").
const envelopeSchemaJSON = `{
  "$id": "https://inaiurai.dev/schemas/task-envelope.json",
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "minItems": 1,
      "maxItems": 20,
      "items": {"$ref": "https://inaiurai.dev/schemas/task-submission.json"}
    }
  }
}`

// Validator holds the compiled submission schemas plus any per-task-type
// result schemas registered via RegisterResultSchema.
type Validator struct {
	envelope       *jsonschema.Schema
	task           *jsonschema.Schema
	resultSchemas  map[string]*jsonschema.Schema
}

// NewValidator compiles the fixed envelope/task schemas. It never fails in
// practice since the schemas above are constants, but returns an error to
// keep the constructor's shape consistent with one that might load schemas
// from disk (as the teacher's NewValidator does).
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("https://inaiurai.dev/schemas/task-submission.json", strings.NewReader(taskSubmissionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add task schema resource: %w", err)
	}
	if err := compiler.AddResource("https://inaiurai.dev/schemas/task-envelope.json", strings.NewReader(envelopeSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add envelope schema resource: %w", err)
	}
	task, err := compiler.Compile("https://inaiurai.dev/schemas/task-submission.json")
	if err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}
	envelope, err := compiler.Compile("https://inaiurai.dev/schemas/task-envelope.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}

	return &Validator{
		envelope:      envelope,
		task:          task,
		resultSchemas: make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateEnvelope performs the hard-reject check on a raw POST /tasks body.
func (v *Validator) ValidateEnvelope(body json.RawMessage) ([]FieldError, error) {
	return v.validate(v.envelope, body)
}

// ValidateTask performs the hard-reject check on a single task, for callers
// (e.g. POST /tasks/{id}/resubmit-style flows) that validate one task body
// at a time rather than an envelope.
func (v *Validator) ValidateTask(body json.RawMessage) ([]FieldError, error) {
	return v.validate(v.task, body)
}

// RegisterResultSchema compiles and registers a soft-flag output schema for
// taskType. Unlike the task-submission schema this is optional: not every
// deployment cares to validate result shape per type.
func (v *Validator) RegisterResultSchema(taskType string, schemaJSON string) error {
	id := "https://inaiurai.dev/schemas/result-" + taskType + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(id, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("add result schema resource %q: %w", taskType, err)
	}
	compiled, err := compiler.Compile(id)
	if err != nil {
		return fmt.Errorf("compile result schema %q: %w", taskType, err)
	}
	v.resultSchemas[taskType] = compiled
	return nil
}

// ValidateResult performs the soft-flag check (spec.md §6): an error here
// is informational, callers are expected to log-and-flag rather than reject
// an already-completed result. Returns (nil, nil) when no schema is
// registered for taskType.
func (v *Validator) ValidateResult(taskType string, body json.RawMessage) ([]FieldError, error) {
	compiled, ok := v.resultSchemas[taskType]
	if !ok {
		return nil, nil
	}
	return v.validate(compiled, body)
}

func (v *Validator) validate(schema *jsonschema.Schema, body json.RawMessage) ([]FieldError, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	err := schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return flatten(verr), ErrValidation
}

// flatten walks a ValidationError's cause tree into leaf-level field errors;
// jsonschema/v5 nests one ValidationError per failed subschema, with the
// actual failing keyword at the leaves.
func flatten(verr *jsonschema.ValidationError) []FieldError {
	if len(verr.Causes) == 0 {
		return []FieldError{{Field: verr.InstanceLocation, Message: verr.Message}}
	}
	var out []FieldError
	for _, cause := range verr.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
