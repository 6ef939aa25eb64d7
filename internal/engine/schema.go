package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ResponseSchema is a compiled JSON schema used to reject malformed provider
// payloads before they are decoded.
type ResponseSchema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles schemaMap once; adapters hold the result.
func CompileSchema(name string, schemaMap map[string]any) (*ResponseSchema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ResponseSchema{schema: s}, nil
}

// MustCompileSchema panics on an invalid schema; for package-level schemas.
func MustCompileSchema(name string, schemaMap map[string]any) *ResponseSchema {
	s, err := CompileSchema(name, schemaMap)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks raw JSON against the schema.
func (s *ResponseSchema) Validate(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
