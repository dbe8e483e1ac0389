package services

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed schema/jobs.yaml
var jobSchemaDoc []byte

// Schema names in schema/jobs.yaml.
const (
	SchemaJobCreate = "JobCreate"
	SchemaRunCreate = "RunCreate"
)

// SpecValidator checks outgoing payloads against the embedded OpenAPI
// component schemas before they reach the console.
type SpecValidator struct {
	doc *openapi3.T
}

func NewSpecValidator() (*SpecValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(jobSchemaDoc)
	if err != nil {
		return nil, fmt.Errorf("load job schema: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate job schema: %w", err)
	}
	return &SpecValidator{doc: doc}, nil
}

// Validate marshals payload to JSON and visits it with the named schema.
func (v *SpecValidator) Validate(schema string, payload any) error {
	ref, ok := v.doc.Components.Schemas[schema]
	if !ok || ref.Value == nil {
		return fmt.Errorf("unknown schema %q", schema)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	if err := ref.Value.VisitJSON(generic, openapi3.MultiErrors()); err != nil {
		return fmt.Errorf("%s: %w", schema, err)
	}
	return nil
}
