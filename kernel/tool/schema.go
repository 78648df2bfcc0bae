package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
)

// compileSchema builds and compiles the JSON schema for one tool's
// declared parameters. Undeclared argument keys are tolerated; declared
// keys are type-checked and required-checked before the handler runs.
func compileSchema(name string, params map[string]llm.Param) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for pname, p := range params {
		prop := map[string]any{"type": llm.JSONType(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[pname] = prop
		if p.IsRequired() {
			required = append(required, pname)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("tool: marshal schema for %q: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + "/schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tool: schema resource for %q: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool: compile schema for %q: %w", name, err)
	}
	return schema, nil
}

// validateArgs checks args against the compiled schema. Args are
// round-tripped through JSON so Go-native numbers validate the same way
// decoded provider payloads do.
func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not JSON-serializable: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}
