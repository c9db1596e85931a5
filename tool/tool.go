// Package tool defines function tools the model may call and the handlers that
// answer them.
package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Definition describes one function tool on the wire.
type Definition struct {
	Type        string         `json:"type,omitempty"` // always "function" when sent
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Handler answers a tool call. The returned value is JSON-serialized into the
// function_call_output item; a returned error is absorbed into an error
// payload instead of propagating.
type Handler func(arguments map[string]any) (any, error)

// Registration pairs a definition with its handler. Exactly one registration
// per name may be live at a time.
type Registration struct {
	Definition Definition
	Handler    Handler
}

// New builds a Registration whose parameter schema is reflected from the
// handler's argument struct. Struct fields may carry `json` and `jsonschema`
// tags to shape the schema.
func New[T any](name, description string, handler func(params T) (any, error)) Registration {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var zero T
	schema := reflector.Reflect(zero)

	raw, err := schema.MarshalJSON()
	if err != nil {
		panic(fmt.Sprintf("tool %q: reflect parameters: %v", name, err))
	}
	var parameters map[string]any
	if err := json.Unmarshal(raw, &parameters); err != nil {
		panic(fmt.Sprintf("tool %q: decode parameter schema: %v", name, err))
	}
	delete(parameters, "$schema")

	return Registration{
		Definition: Definition{
			Type:        "function",
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
		Handler: func(arguments map[string]any) (any, error) {
			data, err := json.Marshal(arguments)
			if err != nil {
				return nil, fmt.Errorf("tool %q: encode arguments: %w", name, err)
			}
			var params T
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, fmt.Errorf("tool %q: decode arguments: %w", name, err)
			}
			return handler(params)
		},
	}
}
