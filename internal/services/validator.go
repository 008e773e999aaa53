package services

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrValidation can be used with errors.Is to detect validation failures (hard reject or soft flag).
var ErrValidation = errors.New("validation failed")

// Validator checks generation parameters and provider results against the
// per-asset-type schemas in schemas/.
type Validator struct {
	inputSchemas  map[string]*jsonschema.Schema
	outputSchemas map[string]*jsonschema.Schema
}

// NewValidator compiles input_schema and output_schema of every embedded schema file.
// The asset type is the file name without ".v1.json".
func NewValidator() (*Validator, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	inputSchemas := make(map[string]*jsonschema.Schema)
	outputSchemas := make(map[string]*jsonschema.Schema)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		assetType := strings.TrimSuffix(strings.TrimSuffix(e.Name(), path.Ext(e.Name())), ".v1")
		p := path.Join("schemas", e.Name())
		data, err := schemaFS.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", p, err)
		}
		var file struct {
			Properties struct {
				InputSchema  json.RawMessage `json:"input_schema"`
				OutputSchema json.RawMessage `json:"output_schema"`
			} `json:"properties"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		if len(file.Properties.InputSchema) == 0 || len(file.Properties.OutputSchema) == 0 {
			return nil, fmt.Errorf("%q: missing input_schema or output_schema", p)
		}
		inputID := "https://genstudio.dev/schemas/" + assetType + ".input"
		outputID := "https://genstudio.dev/schemas/" + assetType + ".output"
		inputSchemas[assetType], err = jsonschema.CompileString(inputID, string(file.Properties.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("compile input schema %q: %w", assetType, err)
		}
		outputSchemas[assetType], err = jsonschema.CompileString(outputID, string(file.Properties.OutputSchema))
		if err != nil {
			return nil, fmt.Errorf("compile output schema %q: %w", assetType, err)
		}
	}

	return &Validator{
		inputSchemas:  inputSchemas,
		outputSchemas: outputSchemas,
	}, nil
}

// ValidateParams performs hard reject: returns an error if params do not match the asset type's input_schema.
func (v *Validator) ValidateParams(assetType string, params json.RawMessage) error {
	return validate(v.inputSchemas, assetType, params)
}

// ValidateOutput returns an error if a provider result does not match the asset type's output_schema.
// Callers treat this as a soft flag.
func (v *Validator) ValidateOutput(assetType string, output json.RawMessage) error {
	return validate(v.outputSchemas, assetType, output)
}

func validate(schemas map[string]*jsonschema.Schema, assetType string, raw json.RawMessage) error {
	schema, ok := schemas[assetType]
	if !ok {
		return fmt.Errorf("%w: unknown asset type %q", ErrValidation, assetType)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
