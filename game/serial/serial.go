// Package serial converts engine values to and from their wire form. Element
// and player references cross the wire as small tagged objects
// ({"__elementId": n}, {"__elementRef": "path"}, {"__playerRef": seat});
// everything else is plain JSON. Resolution back to live objects happens
// against a specific game, and a reference that no longer resolves is a hard
// error rather than a silent nil.
package serial

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/meeplelab/parlor/game/engine"
)

const (
	keyElementID  = "__elementId"
	keyElementRef = "__elementRef"
	keyPlayerRef  = "__playerRef"
)

var (
	// ErrDanglingRef is returned when a serialized reference does not
	// resolve against the target game.
	ErrDanglingRef = errors.New("serialized reference does not resolve")
	// ErrUnsupported is returned for values with no wire representation.
	ErrUnsupported = errors.New("value cannot be serialized")
)

// Options controls serialization behavior.
type Options struct {
	// UseBranchPaths encodes elements as {"__elementRef": path} instead of
	// {"__elementId": id}. Paths survive tree rebuilds where ids may not.
	UseBranchPaths bool
}

// SerializeValue converts an engine value into its JSON-ready wire form.
func SerializeValue(v any, opts Options) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *engine.Element:
		if opts.UseBranchPaths {
			return map[string]any{keyElementRef: val.BranchPath()}, nil
		}
		return map[string]any{keyElementID: val.ID()}, nil
	case *engine.Player:
		return map[string]any{keyPlayerRef: val.Seat()}, nil
	case bool, string, int, int32, int64, float32, float64:
		return val, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			s, err := SerializeValue(item, opts)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			s, err := SerializeValue(item, opts)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
}

// DeserializeValue resolves a wire value back into an engine value.
func DeserializeValue(j any, g *engine.Game) (any, error) {
	switch val := j.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if IsSerializedReference(val) {
			return resolveReference(val, g)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			d, err := DeserializeValue(item, g)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			d, err := DeserializeValue(item, g)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	default:
		return val, nil
	}
}

// IsSerializedReference reports whether j is one of the tagged reference
// forms.
func IsSerializedReference(j any) bool {
	m, ok := j.(map[string]any)
	if !ok {
		return false
	}
	_, a := m[keyElementID]
	_, b := m[keyElementRef]
	_, c := m[keyPlayerRef]
	return a || b || c
}

func resolveReference(m map[string]any, g *engine.Game) (any, error) {
	if raw, ok := m[keyElementID]; ok {
		id, ok := asInt(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s=%v", ErrDanglingRef, keyElementID, raw)
		}
		el, ok := g.ElementByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: no element with id %d", ErrDanglingRef, id)
		}
		return el, nil
	}
	if raw, ok := m[keyElementRef]; ok {
		path, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s=%v", ErrDanglingRef, keyElementRef, raw)
		}
		el, ok := g.ElementByPath(path)
		if !ok {
			return nil, fmt.Errorf("%w: no element at %q", ErrDanglingRef, path)
		}
		return el, nil
	}
	raw := m[keyPlayerRef]
	seat, ok := asInt(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %s=%v", ErrDanglingRef, keyPlayerRef, raw)
	}
	p, ok := g.Player(seat)
	if !ok {
		return nil, fmt.Errorf("%w: no player in seat %d", ErrDanglingRef, seat)
	}
	return p, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// Equal compares two wire values structurally, treating ints and floats of
// the same magnitude as equal. Useful in tests and choice validation.
func Equal(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
