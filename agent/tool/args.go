package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

// Args are the invocation arguments after validation: every declared,
// supplied value coerced to its wire string. Absent optionals are not keys.
type Args map[string]string

func (a Args) Get(name string) string {
	return a[name]
}

// Properties copies the arguments minus the given names, renaming keys via
// rename when present.
func (a Args) Properties(exclude []string, rename map[string]string) map[string]string {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}
	out := make(map[string]string, len(a))
	for k, v := range a {
		if _, ok := skip[k]; ok {
			continue
		}
		if to, ok := rename[k]; ok {
			k = to
		}
		out[k] = v
	}
	return out
}

// bindArgs checks raw against the action's parameters. Unknown arguments,
// missing or blank required ones and values that cannot be coerced to the
// declared type are validation errors.
func bindArgs(action contractx.Action, raw map[string]any) (Args, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := action.Param(k); !ok {
			return nil, fmt.Errorf("%w: unknown argument %q", contractx.ErrValidation, k)
		}
	}

	out := make(Args, len(action.Params))
	for _, p := range action.Params {
		v, present := raw[p.Name]
		if present && v != nil {
			s, err := coerce(p, v)
			if err != nil {
				return nil, err
			}
			if s != "" {
				out[p.Name] = s
				continue
			}
		}
		if p.Required {
			return nil, fmt.Errorf("%w: missing required argument %q", contractx.ErrValidation, p.Name)
		}
	}
	return out, nil
}

func coerce(p contractx.Param, v any) (string, error) {
	switch p.Type {
	case contractx.ParamString:
		switch value := v.(type) {
		case string:
			return strings.TrimSpace(value), nil
		case json.Number:
			return value.String(), nil
		case float64, float32, int, int64, int32:
			return formatNumber(v)
		}
	case contractx.ParamNumber:
		switch value := v.(type) {
		case string:
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				return "", nil
			}
			f, err := strconv.ParseFloat(strings.ReplaceAll(trimmed, ",", ""), 64)
			if err != nil {
				return "", fmt.Errorf("%w: argument %q must be a number, got %q", contractx.ErrValidation, p.Name, value)
			}
			return formatNumber(f)
		case json.Number:
			f, err := value.Float64()
			if err != nil {
				return "", fmt.Errorf("%w: argument %q must be a number, got %q", contractx.ErrValidation, p.Name, value)
			}
			return formatNumber(f)
		case float64, float32, int, int64, int32:
			return formatNumber(v)
		}
	case contractx.ParamBoolean:
		switch value := v.(type) {
		case bool:
			return strconv.FormatBool(value), nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(value))
			if err != nil {
				return "", fmt.Errorf("%w: argument %q must be a boolean, got %q", contractx.ErrValidation, p.Name, value)
			}
			return strconv.FormatBool(b), nil
		}
	}
	return "", fmt.Errorf("%w: argument %q must be %s, got %T", contractx.ErrValidation, p.Name, p.Type, v)
}

func formatNumber(v any) (string, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case int32:
		return strconv.FormatInt(int64(n), 10), nil
	default:
		return "", fmt.Errorf("%w: unsupported number %T", contractx.ErrValidation, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: number is not finite", contractx.ErrValidation)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
