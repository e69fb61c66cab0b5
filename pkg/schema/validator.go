// Package schema validates LLM outputs against the pipeline's fixed set of
// JSON schemas and builds the single deterministic repair prompt used when
// validation fails.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed miner_output.schema.json
var minerOutputSchemaJSON string

//go:embed evaluator_batch.schema.json
var evaluatorBatchSchemaJSON string

// Name identifies one of the fixed schemas.
type Name string

const (
	MinerOutput     Name = "miner_output"
	EvaluatorBatch  Name = "evaluator_batch"
)

// Validator compiles and validates the pipeline's fixed JSON schemas.
type Validator struct {
	schemas map[Name]*jsonschema.Schema
	raw     map[Name]string
}

// RawSchema returns the uncompiled JSON schema document for name, so callers
// (pkg/miner, pkg/evaluator) can pass it to providers that support
// server-side schema-constrained output (e.g. OpenAI's json_schema response
// format).
func (v *Validator) RawSchema(name Name) ([]byte, bool) {
	doc, ok := v.raw[name]
	if !ok {
		return nil, false
	}
	return []byte(doc), true
}

// NewValidator compiles all fixed schemas up front, failing fast on a schema
// authoring error rather than surfacing it lazily on the first LLM call.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	resources := map[Name]string{
		MinerOutput:    minerOutputSchemaJSON,
		EvaluatorBatch: evaluatorBatchSchemaJSON,
	}

	schemas := make(map[Name]*jsonschema.Schema, len(resources))
	for name, doc := range resources {
		resourceID := string(name) + ".schema.json"
		if err := compiler.AddResource(resourceID, strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("schema: failed to add resource %s: %w", resourceID, err)
		}
		compiled, err := compiler.Compile(resourceID)
		if err != nil {
			return nil, fmt.Errorf("schema: failed to compile %s: %w", resourceID, err)
		}
		schemas[name] = compiled
	}

	return &Validator{schemas: schemas, raw: resources}, nil
}

// ValidationFailure carries the failing fields so a repair prompt can name
// them.
type ValidationFailure struct {
	Schema   Name
	Messages []string
}

func (f *ValidationFailure) Error() string {
	return fmt.Sprintf("schema %s: %s", f.Schema, strings.Join(f.Messages, "; "))
}

// Validate parses raw as JSON and validates it against the named schema,
// returning a *ValidationFailure (not a bare error) on failure so callers can
// build a repair prompt from it.
func (v *Validator) Validate(name Name, raw []byte) (*ValidationFailure, error) {
	schema, ok := v.schemas[name]
	if !ok {
		return nil, fmt.Errorf("schema: unknown schema %q", name)
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return &ValidationFailure{Schema: name, Messages: []string{fmt.Sprintf("invalid JSON: %v", err)}}, nil
	}

	if err := schema.Validate(data); err != nil {
		var verr *jsonschema.ValidationError
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			verr = ve
		}
		return &ValidationFailure{Schema: name, Messages: collectMessages(verr, err)}, nil
	}

	return nil, nil
}

// collectMessages flattens a jsonschema.ValidationError's cause tree into a
// short, human-readable list of failing fields, falling back to the plain
// error string when the library didn't return a structured error.
func collectMessages(verr *jsonschema.ValidationError, fallback error) []string {
	if verr == nil {
		return []string{fallback.Error()}
	}

	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e == nil {
			return
		}
		if len(e.Causes) == 0 {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.InstanceLocation, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)

	if len(msgs) == 0 {
		return []string{fallback.Error()}
	}
	return msgs
}

// RepairPrompt builds the deterministic single-shot repair prompt: it names
// the schema, lists the failing fields, and demands a corrected object with
// no prose.
func RepairPrompt(failure *ValidationFailure, invalidOutput string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous response did not conform to the %q schema.\n", failure.Schema)
	b.WriteString("Failing fields:\n")
	for _, m := range failure.Messages {
		fmt.Fprintf(&b, "  - %s\n", m)
	}
	b.WriteString("\nYour previous output was:\n")
	b.WriteString(invalidOutput)
	b.WriteString("\n\nReturn a corrected JSON object conforming to the schema. Respond with JSON only, no prose.")
	return b.String()
}
