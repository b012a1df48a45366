package services

import (
	"encoding/json"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// RenderTemplate replaces every {{key}} with the stringified variable. Nil values render as an empty
// string and unknown keys are left untouched. Substitution is flat and single pass.
func RenderTemplate(text string, vars map[string]interface{}) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[2 : len(match)-2]
		value, ok := vars[key]
		if !ok {
			return match
		}
		return renderValue(value)
	})
}

func renderValue(v interface{}) string {
	switch normalized := normalizeValue(v).(type) {
	case map[string]interface{}:
		b, err := json.Marshal(normalized)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return stringify(normalized)
	}
}

// MergeVariables overlays the trigger payload on top of the entity attributes.
func MergeVariables(entity map[string]interface{}, triggerData map[string]interface{}) map[string]interface{} {
	vars := make(map[string]interface{}, len(entity)+len(triggerData))
	for k, v := range entity {
		vars[k] = v
	}
	for k, v := range triggerData {
		vars[k] = v
	}
	return vars
}
