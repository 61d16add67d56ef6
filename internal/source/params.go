package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Params holds operator attributes. Values are int64, float64, string, bool or a
// slice of int64, float64 or string; importers normalise narrower types.
type Params map[string]any

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Int returns an integer attribute or def when absent.
func (p Params) Int(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("attribute %q: expected integer, got %T", key, v)
}

// Float returns a floating-point attribute or def when absent. Integers are widened.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	}
	return 0, fmt.Errorf("attribute %q: expected float, got %T", key, v)
}

// Text returns a string attribute or def when absent.
func (p Params) Text(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("attribute %q: expected string, got %T", key, v)
	}
	return s, nil
}

// Ints returns an integer list attribute, or nil when absent.
func (p Params) Ints(key string) ([]int64, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	switch x := v.(type) {
	case []int64:
		return x, nil
	case []int:
		out := make([]int64, len(x))
		for i, e := range x {
			out[i] = int64(e)
		}
		return out, nil
	case int64:
		return []int64{x}, nil
	}
	return nil, fmt.Errorf("attribute %q: expected integer list, got %T", key, v)
}

// Floats returns a float list attribute, or nil when absent.
func (p Params) Floats(key string) ([]float64, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	switch x := v.(type) {
	case []float64:
		return x, nil
	case []float32:
		out := make([]float64, len(x))
		for i, e := range x {
			out[i] = float64(e)
		}
		return out, nil
	case float64:
		return []float64{x}, nil
	}
	return nil, fmt.Errorf("attribute %q: expected float list, got %T", key, v)
}

// Strings renders every attribute as text. Lists are comma separated. This is the
// form custom-layer predicates are evaluated against.
func (p Params) Strings() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = formatValue(v)
	}
	return out
}

// Keys returns the attribute names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case []int64:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = strconv.FormatInt(e, 10)
		}
		return strings.Join(parts, ",")
	case []float64:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = strconv.FormatFloat(e, 'g', -1, 64)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(x, ",")
	}
	return fmt.Sprint(v)
}
