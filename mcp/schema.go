package mcp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidArguments is returned when call arguments do not match the
// tool's input schema.
var ErrInvalidArguments = errors.New("invalid arguments")

// ArgumentValidator checks tool call arguments against a tool's input schema.
type ArgumentValidator struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a tool input schema. An empty schema accepts any
// arguments.
func CompileSchema(raw []byte) (*ArgumentValidator, error) {
	if len(raw) == 0 {
		return &ArgumentValidator{}, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ArgumentValidator{schema: schema}, nil
}

// Validate checks the raw JSON arguments of a call. Empty arguments are
// treated as an empty object.
func (v *ArgumentValidator) Validate(arguments string) error {
	if v == nil || v.schema == nil {
		return nil
	}
	if arguments == "" {
		arguments = "{}"
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(arguments)))
	if err != nil {
		return fmt.Errorf("%w: not JSON: %v", ErrInvalidArguments, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
