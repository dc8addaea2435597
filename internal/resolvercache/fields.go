package resolvercache

import (
	"reflect"
	"strings"
	"sync"
)

// recordField is a struct field as it appears in a record: its JSON name and
// the index path used to reach it through embedded structs.
type recordField struct {
	name  string
	index []int
}

var fieldCache sync.Map // map[reflect.Type][]recordField

// recordFields lists the serializable fields of struct type t. Exported fields
// are named by their json tag, fields tagged "-" are skipped and untagged
// embedded structs are flattened with outer names taking precedence.
func recordFields(t reflect.Type) []recordField {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]recordField)
	}

	fields := collectFields(t, nil, map[reflect.Type]bool{})

	seen := make(map[string]bool, len(fields))
	out := make([]recordField, 0, len(fields))
	for _, f := range fields {
		if seen[f.name] {
			continue
		}
		seen[f.name] = true
		out = append(out, f)
	}

	fieldCache.Store(t, out)
	return out
}

// collectFields walks t breadth first so shallower fields are listed before
// promoted ones.
func collectFields(t reflect.Type, prefix []int, walking map[reflect.Type]bool) []recordField {
	if walking[t] {
		return nil
	}
	walking[t] = true
	defer delete(walking, t)

	var direct, embedded []recordField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded = append(embedded, collectFields(ft, index, walking)...)
				continue
			}
		}

		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		direct = append(direct, recordField{name: name, index: index})
	}

	return append(direct, embedded...)
}

// fieldByIndex follows index through v, reporting false when it crosses a nil
// embedded pointer.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}
