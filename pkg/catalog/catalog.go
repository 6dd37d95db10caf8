// Package catalog holds the static table of callable functions (§4.3): the
// tool schema the orchestrator advertises to both backends, and the
// allow-list FunctionExecutor checks before anything else runs.
package catalog

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Function is one entry in the catalog: a name, a human description and a
// JSON Schema describing its arguments.
type Function struct {
	Name        string
	Description string
	SchemaJSON  string
}

// ValidationError reports schema-validation failures for one function call.
type ValidationError struct {
	Function string
	Errors   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("catalog: invalid arguments for %s: %v", e.Function, e.Errors)
}

// Validate checks args against the function's parameter schema.
func (f Function) Validate(args map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(f.SchemaJSON)
	docLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("catalog: schema validation error for %s: %w", f.Name, err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return &ValidationError{Function: f.Name, Errors: errs}
	}
	return nil
}

// Catalog is the static, immutable name -> Function table.
type Catalog map[string]Function

// Lookup returns the Function for name and whether it exists — the
// allow-list check FunctionExecutor's policy gate runs first (§4.4).
func (c Catalog) Lookup(name string) (Function, bool) {
	f, ok := c[name]
	return f, ok
}

// Names returns every registered function name.
func (c Catalog) Names() []string {
	out := make([]string, 0, len(c))
	for n := range c {
		out = append(out, n)
	}
	return out
}

// Functions returns every registered Function, for callers (the reasoning
// stage) that need the full schema set rather than a name -> Function map.
func (c Catalog) Functions() []Function {
	out := make([]Function, 0, len(c))
	for _, f := range c {
		out = append(out, f)
	}
	return out
}
