package registry

import (
	"errors"
	"fmt"
)

// ErrUnknownOption marks a configuration key outside the step's recognized
// option set. It is rejected before any step is constructed.
var ErrUnknownOption = errors.New("unrecognized option")

// Params is a step configuration mapping. The recognized option set of a
// step is exactly the key set of its declared defaults.
type Params map[string]any

// Clone returns a shallow copy. A nil receiver clones to an empty map so
// merge never mutates a factory's declared defaults.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Effective merges user overrides over the factory's declared defaults.
// Keys absent from the defaults are rejected with ErrUnknownOption.
func Effective(f Factory, overrides Params) (Params, error) {
	merged := f.Defaults().Clone()
	for k, v := range overrides {
		if _, ok := merged[k]; !ok {
			return nil, fmt.Errorf("%w: %q is not an option of step %s", ErrUnknownOption, k, f.Name())
		}
		merged[k] = v
	}
	return merged, nil
}

// Typed accessors below coerce the loosely-typed values produced by YAML
// and flag parsing. A missing or mistyped key yields the zero value; steps
// rely on their defaults to guarantee presence.

func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

func (p Params) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (p Params) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Floats returns a numeric list value, or nil when the key is absent, nil,
// or not a list of numbers.
func (p Params) Floats(key string) []float64 {
	raw, ok := p[key].([]any)
	if !ok {
		if typed, ok := p[key].([]float64); ok {
			return typed
		}
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		case int64:
			out = append(out, float64(v))
		default:
			return nil
		}
	}
	return out
}
