package config

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// YSpec validates structure values against a rule set. Rules are named;
// "root" is applied to the value itself.
//
//	root:    {match: list, item: country}
//	country: {match: dict, items: {name: string, code: integer}, required_items: [name]}
//	string:  {match: string}
//	integer: {match: int}
type YSpec struct {
	rules map[string]map[string]any
}

var ymatches = []string{"list", "dict", "one_of", "set", "string", "bool", "int", "float", "none", "any"}

// NewYSpec checks the rule set shape
func NewYSpec(schema map[string]any) (*YSpec, error) {
	y := &YSpec{rules: make(map[string]map[string]any, len(schema))}
	for name, raw := range schema {
		rule, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %q is not a map", name)
		}
		match, _ := rule["match"].(string)
		if !slices.Contains(ymatches, match) {
			return nil, fmt.Errorf("rule %q has unknown match %q", name, match)
		}
		y.rules[name] = rule
	}
	if _, ok := y.rules["root"]; !ok {
		return nil, fmt.Errorf("no root rule")
	}
	for name, rule := range y.rules {
		for _, ref := range ruleRefs(rule) {
			if _, ok := y.rules[ref]; !ok {
				return nil, fmt.Errorf("rule %q references unknown rule %q", name, ref)
			}
		}
	}
	return y, nil
}

func ruleRefs(rule map[string]any) []string {
	var out []string
	switch rule["match"] {
	case "list":
		if s, ok := rule["item"].(string); ok {
			out = append(out, s)
		}
	case "dict":
		items, _ := rule["items"].(map[string]any)
		for _, v := range items {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		if s, ok := rule["default_item"].(string); ok {
			out = append(out, s)
		}
	case "one_of":
		variants, _ := rule["variants"].([]any)
		for _, v := range variants {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Check validates value, reporting the path of the first mismatch
func (y *YSpec) Check(value any) error {
	return y.check(value, "root", "")
}

func (y *YSpec) check(value any, ruleName, path string) error {
	rule := y.rules[ruleName]
	at := path
	if at == "" {
		at = "/"
	}
	switch rule["match"] {
	case "any":
		return nil
	case "none":
		if value != nil {
			return fmt.Errorf("value at %s should be empty", at)
		}
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("value at %s should be a string", at)
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("value at %s should be a boolean", at)
		}
	case "int":
		if _, ok := value.(int64); !ok {
			return fmt.Errorf("value at %s should be an integer", at)
		}
	case "float":
		switch value.(type) {
		case int64, float64:
		default:
			return fmt.Errorf("value at %s should be a float", at)
		}
	case "set":
		variants, _ := rule["variants"].([]any)
		for _, v := range variants {
			if reflect.DeepEqual(v, value) {
				return nil
			}
		}
		return fmt.Errorf("value at %s should be one of %v", at, variants)
	case "list":
		list, ok := value.([]any)
		if !ok {
			return fmt.Errorf("value at %s should be a list", at)
		}
		item, _ := rule["item"].(string)
		for i, v := range list {
			if err := y.check(v, item, fmt.Sprintf("%s/%d", path, i)); err != nil {
				return err
			}
		}
	case "dict":
		m, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("value at %s should be a map", at)
		}
		items, _ := rule["items"].(map[string]any)
		defaultItem, _ := rule["default_item"].(string)
		for k, v := range m {
			sub, ok := items[k].(string)
			if !ok {
				if defaultItem == "" {
					return fmt.Errorf("key %q at %s is not allowed", k, at)
				}
				sub = defaultItem
			}
			if err := y.check(v, sub, path+"/"+k); err != nil {
				return err
			}
		}
		required, _ := rule["required_items"].([]any)
		for _, r := range required {
			k, _ := r.(string)
			if _, ok := m[k]; !ok {
				return fmt.Errorf("required key %q at %s is missing", k, at)
			}
		}
	case "one_of":
		variants, _ := rule["variants"].([]any)
		var msgs []string
		for _, v := range variants {
			name, _ := v.(string)
			err := y.check(value, name, path)
			if err == nil {
				return nil
			}
			msgs = append(msgs, err.Error())
		}
		return fmt.Errorf("value at %s matches no variant: %s", at, strings.Join(msgs, "; "))
	}
	return nil
}
