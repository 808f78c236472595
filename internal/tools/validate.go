package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

// ValidateArgs checks args against schema. Unknown properties are allowed;
// missing required properties, wrong types and values outside an
// enumeration are not.
func ValidateArgs(schema *models.ParameterSchema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	return validateValue(schema, args, "arguments")
}

func validateValue(s *models.ParameterSchema, v interface{}, path string) error {
	if s == nil || s.Type == "" {
		return nil
	}
	switch s.Type {
	case "object":
		obj, ok := v.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s must be an object", path)
		}
		for _, req := range s.Required {
			if val, ok := obj[req]; !ok || val == nil {
				return fmt.Errorf("missing required argument %s", join(path, req))
			}
		}
		for name, prop := range s.Properties {
			val, ok := obj[name]
			if !ok || val == nil {
				continue
			}
			if err := validateValue(prop, val, join(path, name)); err != nil {
				return err
			}
		}
	case "array":
		arr, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("%s must be an array", path)
		}
		for i, item := range arr {
			if err := validateValue(s.Items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case "string":
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", path)
		}
		if len(s.Enum) > 0 && !contains(s.Enum, str) {
			return fmt.Errorf("%s must be one of: %s", path, strings.Join(s.Enum, ", "))
		}
	case "number":
		if _, ok := number(v); !ok {
			return fmt.Errorf("%s must be a number", path)
		}
	case "integer":
		f, ok := number(v)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("%s must be an integer", path)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s must be a boolean", path)
		}
	default:
		return fmt.Errorf("%s: unsupported schema type %q", path, s.Type)
	}
	return nil
}

func join(path, name string) string {
	if path == "arguments" {
		return name
	}
	return path + "." + name
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
