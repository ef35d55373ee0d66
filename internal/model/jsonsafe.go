package model

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// Float is a float64 that serializes NaN and ±Inf as null.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler. null decodes to NaN.
func (f *Float) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Finite returns nil for NaN or ±Inf, else a pointer to v.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Sanitize walks maps and slices decoded from JSON-like data and replaces
// every non-finite float with nil. Pointers to structs are scrubbed in
// place: non-finite float pointers become nil and plain float fields
// become zero. The sanitized value is returned.
func Sanitize(v any) any {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return t
	case *float64:
		if t == nil {
			return nil
		}
		return Sanitize(*t)
	case map[string]any:
		for k, e := range t {
			t[k] = Sanitize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = Sanitize(e)
		}
		return t
	case []float64:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Sanitize(e)
		}
		return out
	case map[string]float64:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Sanitize(e)
		}
		return out
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			scrub(rv.Elem())
		}
		return v
	}
}

func nonFinite(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		return math.IsNaN(f) || math.IsInf(f, 0)
	}
	return false
}

func scrub(v reflect.Value) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		if nonFinite(v) && v.CanSet() {
			v.SetFloat(0)
		}
	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		if nonFinite(v.Elem()) && v.CanSet() {
			v.Set(reflect.Zero(v.Type()))
			return
		}
		scrub(v.Elem())
	case reflect.Struct:
		for i := range v.NumField() {
			if f := v.Field(i); f.CanSet() {
				scrub(f)
			}
		}
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			scrub(v.Index(i))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			e := iter.Value()
			switch {
			case nonFinite(e):
				v.SetMapIndex(iter.Key(), reflect.Zero(e.Type()))
			case e.Kind() == reflect.Interface && !e.IsNil():
				clean := Sanitize(e.Elem().Interface())
				if clean == nil {
					v.SetMapIndex(iter.Key(), reflect.Zero(e.Type()))
				} else {
					v.SetMapIndex(iter.Key(), reflect.ValueOf(clean))
				}
			}
		}
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		if nonFinite(v.Elem()) && v.CanSet() {
			v.Set(reflect.Zero(v.Type()))
			return
		}
		if v.Elem().Kind() == reflect.Pointer {
			scrub(v.Elem())
		}
	}
}

// MarshalSafe sanitizes v and encodes it as JSON.
func MarshalSafe(v any) ([]byte, error) {
	return json.Marshal(Sanitize(v))
}
