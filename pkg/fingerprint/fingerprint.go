// Package fingerprint derives stable partition keys from argument values.
//
// Two argument values that are deeply equal always produce the same
// fingerprint, regardless of map insertion order. The value is first reduced
// to a canonical byte form (its Go type followed by its JSON encoding) and
// then hashed with BLAKE3.
//
// Arguments must be JSON representable. Structs with unexported fields are
// rejected, since JSON would drop those fields and let different values
// collide. Below the top level, values are told apart by their JSON form only.
package fingerprint

import (
	"encoding"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/zeebo/blake3"
)

// Size is the number of hash bytes kept in a fingerprint (hex encoded to 2*Size chars).
const Size = 16

// ErrUnencodable is returned for values without a canonical form
// (channels, functions, cyclic values, structs with unexported fields).
var ErrUnencodable = errors.New("fingerprint: value cannot be encoded")

// Of returns the fingerprint of v.
func Of(v any) (string, error) {
	data, err := canonical(v)
	if err != nil {
		return "", err
	}

	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:Size]), nil
}

// MustOf is like Of but panics on unencodable values.
func MustOf(v any) string {
	fp, err := Of(v)
	if err != nil {
		panic(err)
	}
	return fp
}

// Equal reports whether a and b fingerprint identically.
func Equal(a, b any) bool {
	fa, err := Of(a)
	if err != nil {
		return false
	}
	fb, err := Of(b)
	if err != nil {
		return false
	}
	return fa == fb
}

// canonical encodes v so that deeply equal values yield identical bytes.
// encoding/json writes map keys in sorted order and struct fields in
// declaration order, which is the property needed here.
func canonical(v any) ([]byte, error) {
	if err := checkExported(reflect.ValueOf(v), make(map[uintptr]bool)); err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}

	typeName := "nil"
	if t := reflect.TypeOf(v); t != nil {
		typeName = t.String()
	}
	out := make([]byte, 0, len(typeName)+1+len(data))
	out = append(out, typeName...)
	out = append(out, 0)
	return append(out, data...), nil
}

var (
	jsonMarshaler = reflect.TypeFor[json.Marshaler]()
	textMarshaler = reflect.TypeFor[encoding.TextMarshaler]()
)

// checkExported rejects values containing structs with unexported fields.
// Types with their own JSON or text encoding are trusted.
func checkExported(v reflect.Value, seen map[uintptr]bool) error {
	if !v.IsValid() {
		return nil
	}
	if t := v.Type(); t.Kind() != reflect.Interface &&
		(t.Implements(jsonMarshaler) || t.Implements(textMarshaler) ||
			reflect.PointerTo(t).Implements(jsonMarshaler) || reflect.PointerTo(t).Implements(textMarshaler)) {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			return checkExported(v.Elem(), seen)
		}
	case reflect.Pointer:
		if v.IsNil() || seen[v.Pointer()] {
			return nil
		}
		seen[v.Pointer()] = true
		return checkExported(v.Elem(), seen)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkExported(v.Index(i), seen); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkExported(iter.Value(), seen); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				if f.Anonymous {
					if err := checkExported(v.Field(i), seen); err != nil {
						return err
					}
					continue
				}
				return fmt.Errorf("%w: %s has unexported field %s", ErrUnencodable, t, f.Name)
			}
			if err := checkExported(v.Field(i), seen); err != nil {
				return err
			}
		}
	}
	return nil
}
