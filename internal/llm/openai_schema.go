package llm

import "sort"

// normalizeSchemaForOpenAI adapts a tool's JSON schema to OpenAI's strict
// function-calling mode: every object in the schema tree gets an explicit
// additionalProperties (left alone if it is already a schema, set to false
// if absent) and a required list covering every one of its properties.
// Free-form maps (e.g. an "env" parameter typed as an object whose
// additionalProperties is itself a schema) are left untouched so they keep
// accepting arbitrary keys.
func normalizeSchemaForOpenAI(schema map[string]interface{}) map[string]interface{} {
	normalized, _ := normalizeSchemaNode(schema).(map[string]interface{})
	return normalized
}

func normalizeSchemaNode(node interface{}) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = normalizeSchemaNode(val)
		}
		if t, _ := out["type"].(string); t == "object" {
			if _, hasAdditional := out["additionalProperties"]; !hasAdditional {
				out["additionalProperties"] = false
			}
			if props, ok := out["properties"].(map[string]interface{}); ok {
				required := make([]string, 0, len(props))
				for k := range props {
					required = append(required, k)
				}
				sort.Strings(required)
				out["required"] = required
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = normalizeSchemaNode(item)
		}
		return out
	default:
		return v
	}
}
