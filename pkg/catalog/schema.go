package catalog

import "encoding/json"

// ToolDef is the provider-agnostic shape most chat-completion APIs wrap a
// function schema in before layering their own envelope on top.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolDefs renders every function in the catalog to ToolDef, for a
// provider adapter to wrap in its own wire envelope (OpenAI's
// `{"type":"function","function":{...}}`, Anthropic's flat `tools` array,
// Google's `functionDeclarations`).
func (c Catalog) ToolDefs() []ToolDef {
	defs := make([]ToolDef, 0, len(c))
	for _, f := range c {
		var params map[string]any
		if err := json.Unmarshal([]byte(f.SchemaJSON), &params); err != nil {
			continue
		}
		defs = append(defs, ToolDef{Name: f.Name, Description: f.Description, Parameters: params})
	}
	return defs
}
