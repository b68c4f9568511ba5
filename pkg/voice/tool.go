package voice

// Schema is a JSON-schema-like description of a tool payload. It is sent
// to the service to negotiate capabilities and is never enforced locally.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// ToolHandler receives the structured payload of one tool event.
type ToolHandler func(payload map[string]any)

// ToolRegistration associates a wire event name with its schema,
// description and handler.
type ToolRegistration struct {
	// Name is the event name the service emits (e.g., "update_meeting_notes").
	Name string

	// Description explains when the service should emit the event.
	Description string

	// Schema describes the payload.
	Schema Schema

	// Handler is called once per inbound event with the decoded payload.
	Handler ToolHandler
}

// ToolDeclaration is the wire form of a registration inside the start message.
type ToolDeclaration struct {
	Schema          Schema `json:"schema"`
	ToolDescription string `json:"toolDescription"`
}
