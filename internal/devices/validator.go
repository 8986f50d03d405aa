package devices

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/topology-v1.json
var topologySchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("topology-v1.json",
		strings.NewReader(topologySchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("topology-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDocument validates a decoded YAML document. YAML and JSON share a
// data model here, so the document is normalised through encoding/json.
func (v *Validator) ValidateDocument(doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("topology is not representable as JSON: %w", err)
	}

	var normalised any
	if err := json.Unmarshal(data, &normalised); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(normalised); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}
