package providers

// Schema metadata keys stripped before sending tool definitions to a
// provider. The tool registry compiles the full schema for local
// argument validation; provider APIs only accept the structural subset.
var strippedSchemaKeys = map[string]bool{
	"$schema": true,
	"$id":     true,
	"$defs":   true,
}

// CleanSchemaForProvider returns a deep copy of schema with keywords the
// provider's validator rejects removed. A missing top-level type defaults
// to "object" (both OpenAI and Anthropic require it).
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object"}
	}
	out, _ := cleanSchemaValue(schema).(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

func cleanSchemaValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			if strippedSchemaKeys[k] {
				continue
			}
			out[k] = cleanSchemaValue(sub)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			out[i] = cleanSchemaValue(sub)
		}
		return out
	default:
		return v
	}
}

// CleanToolSchemas applies CleanSchemaForProvider to every tool definition.
func CleanToolSchemas(provider string, tools []ToolDefinition) []ToolDefinition {
	out := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		t.Function.Parameters = CleanSchemaForProvider(provider, t.Function.Parameters)
		out[i] = t
	}
	return out
}
