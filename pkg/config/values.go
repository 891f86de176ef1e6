package config

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/security"
	"github.com/cuemby/adcm/pkg/types"
)

func valueErr(r *types.PrototypeConfig, format string, args ...any) error {
	return errcode.New(errcode.ConfigValueError, "config key %q: %s", Key(r.Name, r.Subname), fmt.Sprintf(format, args...))
}

// IsEmpty reports values that do not satisfy a required field
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// checkValue validates one leaf value; variants are resolved by the
// caller and passed in allowed
func checkValue(r *types.PrototypeConfig, v any, allowed []any) error {
	if v == nil {
		if r.Required {
			return valueErr(r, "value of required key is empty")
		}
		return nil
	}

	switch r.Type {
	case types.FieldString, types.FieldText, types.FieldPassword, types.FieldFile:
		s, ok := v.(string)
		if !ok {
			return valueErr(r, "should be a string")
		}
		if r.Required && s == "" {
			return valueErr(r, "should be not empty")
		}

	case types.FieldInteger:
		i, ok := v.(int64)
		if !ok {
			return valueErr(r, "should be an integer")
		}
		if err := checkBounds(r, float64(i)); err != nil {
			return err
		}

	case types.FieldFloat:
		var f float64
		switch t := v.(type) {
		case int64:
			f = float64(t)
		case float64:
			f = t
		default:
			return valueErr(r, "should be a float")
		}
		if err := checkBounds(r, f); err != nil {
			return err
		}

	case types.FieldBoolean:
		if _, ok := v.(bool); !ok {
			return valueErr(r, "should be a boolean")
		}

	case types.FieldOption:
		for _, opt := range r.Limits.Option {
			if reflect.DeepEqual(opt, v) {
				return nil
			}
		}
		return valueErr(r, "not in option list: %v", optionValues(r))

	case types.FieldList:
		list, ok := v.([]any)
		if !ok {
			return valueErr(r, "should be a list")
		}
		for _, e := range list {
			if _, ok := e.(string); !ok {
				return valueErr(r, "list elements should be strings")
			}
		}
		if r.Required && len(list) == 0 {
			return valueErr(r, "should be not empty")
		}

	case types.FieldMap:
		m, ok := v.(map[string]any)
		if !ok {
			return valueErr(r, "should be a map")
		}
		for _, e := range m {
			if _, ok := e.(string); !ok {
				return valueErr(r, "map values should be strings")
			}
		}
		if r.Required && len(m) == 0 {
			return valueErr(r, "should be not empty")
		}

	case types.FieldStructure:
		if r.Limits.YSpec == nil {
			return nil
		}
		y, err := NewYSpec(r.Limits.YSpec)
		if err != nil {
			return errcode.New(errcode.InvalidConfigDefinition, "config key %q: %v", Key(r.Name, r.Subname), err)
		}
		if err := y.Check(v); err != nil {
			return valueErr(r, "%v", err)
		}

	case types.FieldJSON:

	case types.FieldVariant:
		if _, ok := v.(string); !ok {
			return valueErr(r, "should be a string")
		}
		if r.Limits.Source != nil && r.Limits.Source.Strict && !slices.ContainsFunc(allowed, func(a any) bool {
			return reflect.DeepEqual(a, v)
		}) {
			return valueErr(r, "not in variant list: %v", allowed)
		}

	default:
		return valueErr(r, "unknown type %q", r.Type)
	}
	return nil
}

func checkBounds(r *types.PrototypeConfig, f float64) error {
	if r.Limits.Min != nil && f < *r.Limits.Min {
		return valueErr(r, "should be more than %v", *r.Limits.Min)
	}
	if r.Limits.Max != nil && f > *r.Limits.Max {
		return valueErr(r, "should be less than %v", *r.Limits.Max)
	}
	return nil
}

func optionValues(r *types.PrototypeConfig) []any {
	out := make([]any, 0, len(r.Limits.Option))
	for _, v := range r.Limits.Option {
		out = append(out, v)
	}
	return out
}

// equalValues compares two stored values of a row; passwords compare by
// plaintext
func equalValues(vault *security.Vault, r *types.PrototypeConfig, a, b any) bool {
	if r.Type == types.FieldPassword && vault != nil {
		as, aok := a.(string)
		bs, bok := b.(string)
		if aok && bok {
			pa, errA := vault.Decrypt(as)
			pb, errB := vault.Decrypt(bs)
			if errA == nil && errB == nil {
				return pa == pb
			}
		}
	}
	return reflect.DeepEqual(types.Normalize(a), types.Normalize(b))
}
