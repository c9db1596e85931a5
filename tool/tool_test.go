package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReflectsParameterSchema(t *testing.T) {
	type params struct {
		City  string `json:"city" jsonschema:"description=City name"`
		Limit int    `json:"limit,omitempty"`
	}
	reg := New("get_weather", "Looks up the weather.", func(p params) (any, error) {
		return nil, nil
	})

	assert.Equal(t, "function", reg.Definition.Type)
	assert.Equal(t, "get_weather", reg.Definition.Name)
	assert.Equal(t, "Looks up the weather.", reg.Definition.Description)

	schema := reg.Definition.Parameters
	assert.NotContains(t, schema, "$schema")
	assert.Equal(t, "object", schema["type"])

	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, properties, "city")
	assert.Contains(t, properties, "limit")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"city"}, required)
}

func TestNewHandlerDecodesArguments(t *testing.T) {
	type params struct {
		City string `json:"city"`
	}
	reg := New("echo_city", "", func(p params) (any, error) {
		return p.City, nil
	})

	result, err := reg.Handler(map[string]any{"city": "Lyon"})
	require.NoError(t, err)
	assert.Equal(t, "Lyon", result)

	// Wrongly-typed arguments surface as a decode error.
	_, err = reg.Handler(map[string]any{"city": 42})
	assert.ErrorContains(t, err, "decode arguments")
}
