package resolvercache

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/FormidableLabs/trygql/internal/schema"
)

// decodeAny decodes a cache entry into generic JSON values.
func decodeAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// DecodeAs returns a decoder that rebuilds cache entries as T, so resolvers of
// child fields keep receiving the parent type they expect.
func DecodeAs[T any]() schema.DecodeFunc {
	return func(data []byte) (any, error) {
		var value T
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, err
		}
		if isNil(value) {
			return nil, nil
		}
		return value, nil
	}
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
