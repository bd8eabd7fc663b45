package ingest

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// circularMarker is the literal token substituted for an already
// in-progress ancestor reference, per spec §4.1/§8.5.
const circularMarker = "[Circular]"

// marshalCycleTolerant serializes v to JSON, substituting the literal
// string "[Circular]" at any position where a reference cycle would
// otherwise recurse forever. Unlike encoding/json's default behavior
// (which simply overflows the stack on a self-referential struct
// graph built through interfaces/maps), this walks the value with
// reflection first, tracking the active recursion path by pointer
// identity, and produces a cycle-free tree that json.Marshal can
// then serialize normally.
//
// This is distinct from sizeest's CycleSet: sizeest dedups *shared*
// subgraphs across a whole batch (same pointer seen twice is free the
// second time), while this only breaks genuine cycles (an object
// that is its own ancestor) — a DAG with two paths to the same node
// is valid JSON and must serialize both times.
func marshalCycleTolerant(v interface{}) ([]byte, error) {
	safe := toSafe(reflect.ValueOf(v), map[uintptr]bool{})
	return json.Marshal(safe)
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

func toSafe(rv reflect.Value, inStack map[uintptr]bool) interface{} {
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if inStack[ptr] {
			return circularMarker
		}
		inStack[ptr] = true
		defer delete(inStack, ptr)
		return toSafe(rv.Elem(), inStack)

	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return toSafe(rv.Elem(), inStack)

	case reflect.Struct:
		if rv.Type() == timeType {
			return rv.Interface()
		}
		// A struct can only participate in a cycle through a pointer,
		// interface, map or slice field, all of which already track
		// the active recursion path above; the struct's own value has
		// no reference identity to track.
		out := make(map[string]interface{}, rv.NumField())
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok {
				if tag == "-" {
					continue
				}
				if idx := indexComma(tag); idx >= 0 {
					if idx > 0 {
						name = tag[:idx]
					}
					f := rv.Field(i)
					if strings.Contains(tag[idx:], "omitempty") && (f.IsZero() ||
						((f.Kind() == reflect.Slice || f.Kind() == reflect.Map) && f.Len() == 0)) {
						continue
					}
				} else if tag != "" {
					name = tag
				}
			}
			out[name] = toSafe(rv.Field(i), inStack)
		}
		return out

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if inStack[ptr] {
			return circularMarker
		}
		inStack[ptr] = true
		defer delete(inStack, ptr)

		out := make(map[string]interface{}, rv.Len())
		for _, k := range rv.MapKeys() {
			out[fmt.Sprint(k.Interface())] = toSafe(rv.MapIndex(k), inStack)
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if inStack[ptr] {
			return circularMarker
		}
		inStack[ptr] = true
		defer delete(inStack, ptr)
		return toSafeArray(rv, inStack)

	case reflect.Array:
		return toSafeArray(rv, inStack)

	default:
		// time.Duration values are emitted as milliseconds, matching the
		// *Ms JSON names of the fields that carry them; other primitives
		// marshal fine on their own.
		if rv.Type() == durationType {
			return float64(rv.Int()) / float64(time.Millisecond)
		}
		return rv.Interface()
	}
}

func toSafeArray(rv reflect.Value, inStack map[uintptr]bool) interface{} {
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = toSafe(rv.Index(i), inStack)
	}
	return out
}

func indexComma(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			return i
		}
	}
	return -1
}
