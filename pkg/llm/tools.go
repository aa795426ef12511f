package llm

// ToolDefinition describes a callable tool in the declarative form the
// model providers expect. The gateway publishes one of these per exposed
// tool; provider clients translate it into their native schema type.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is a JSON Schema fragment describing tool parameters.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single parameter in a tool's input schema.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// ObjectSchema is a convenience constructor for the common case of an
// object schema with named properties.
func ObjectSchema(props map[string]Property, required ...string) InputSchema {
	return InputSchema{Type: "object", Properties: props, Required: required}
}

// StringProperty builds a string-typed schema property.
func StringProperty(description string, enum ...string) Property {
	return Property{Type: "string", Description: description, Enum: enum}
}

// BoolProperty builds a boolean-typed schema property.
func BoolProperty(description string) Property {
	return Property{Type: "boolean", Description: description}
}

// IntProperty builds an integer-typed schema property.
func IntProperty(description string) Property {
	return Property{Type: "integer", Description: description}
}
