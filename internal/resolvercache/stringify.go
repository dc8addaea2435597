package resolvercache

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// variant is the serialization shape of a value.
type variant int

const (
	variantNull variant = iota
	variantPrimitive
	variantNumber
	variantList
	variantConvertible
	variantPointer
	variantPlainRecord
	variantOpaqueRecord
	variantUnsupported
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	jsonNumberType    = reflect.TypeOf(json.Number(""))
)

// visit identifies a reference-like value on the current descent path.
type visit struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// stringifier renders one value. It is created per top-level call, so its
// visited set never outlives that call.
type stringifier struct {
	ids     *Identities
	visited map[visit]struct{}
}

// Stringify renders v as canonical JSON-like text: record keys are sorted,
// cycles render as null and opaque pointers render as {"__key":"<token>"}
// using ids. Struct values without exported fields render every field.
func Stringify(ids *Identities, v any) string {
	s := &stringifier{
		ids:     ids,
		visited: make(map[visit]struct{}),
	}
	return s.value(reflect.ValueOf(v))
}

func (s *stringifier) value(v reflect.Value) string {
	for v.IsValid() && v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}

	switch classify(v) {
	case variantNull:
		return "null"
	case variantNumber:
		return v.String()
	case variantPrimitive:
		return primitive(v)
	case variantConvertible:
		return s.convert(v)
	case variantList:
		return s.guard(v, s.list)
	case variantPointer:
		return s.guard(v, func(v reflect.Value) string {
			return s.value(v.Elem())
		})
	case variantPlainRecord:
		if v.Kind() == reflect.Map {
			return s.guard(v, s.mapRecord)
		}
		return s.structRecord(v)
	case variantOpaqueRecord:
		return s.opaque(v)
	default:
		return ""
	}
}

func classify(v reflect.Value) variant {
	if !v.IsValid() {
		return variantNull
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return variantNull
		}
	}

	if v.Type() == jsonNumberType {
		if v.String() == "" {
			return variantNull
		}
		return variantNumber
	}

	if v.CanInterface() && (v.Type().Implements(jsonMarshalerType) || v.Type().Implements(textMarshalerType)) {
		return variantConvertible
	}

	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return variantPrimitive
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return variantPrimitive
		}
		return variantList
	case reflect.Array:
		return variantList
	case reflect.Map:
		return variantPlainRecord
	case reflect.Struct:
		if len(recordFields(v.Type())) == 0 {
			return variantOpaqueRecord
		}
		return variantPlainRecord
	case reflect.Pointer:
		elem := v.Type().Elem()
		if elem.Kind() == reflect.Struct && len(recordFields(elem)) == 0 {
			return variantOpaqueRecord
		}
		return variantPointer
	default:
		return variantUnsupported
	}
}

// guard renders v with fn while v is marked as visited. A value already on the
// descent path is a cycle and renders as null.
func (s *stringifier) guard(v reflect.Value, fn func(reflect.Value) string) string {
	var key visit
	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		key = visit{typ: v.Type(), ptr: v.Pointer()}
	case reflect.Slice:
		if v.Len() == 0 {
			return fn(v)
		}
		key = visit{typ: v.Type(), ptr: v.Pointer(), len: v.Len()}
	default:
		return fn(v)
	}

	if _, seen := s.visited[key]; seen {
		return "null"
	}
	s.visited[key] = struct{}{}
	defer delete(s.visited, key)

	return fn(v)
}

func (s *stringifier) convert(v reflect.Value) string {
	data, err := json.Marshal(v.Interface())
	if err != nil {
		return ""
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var plain any
	if err := dec.Decode(&plain); err != nil {
		return ""
	}
	return s.value(reflect.ValueOf(plain))
}

func (s *stringifier) list(v reflect.Value) string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		item := s.value(v.Index(i))
		if item == "" {
			item = "null"
		}
		b.WriteString(item)
	}
	b.WriteByte(']')
	return b.String()
}

type pair struct {
	key   string
	value reflect.Value
}

func (s *stringifier) mapRecord(v reflect.Value) string {
	pairs := make([]pair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		pairs = append(pairs, pair{key: mapKey(iter.Key()), value: iter.Value()})
	}
	return s.record(pairs)
}

func (s *stringifier) structRecord(v reflect.Value) string {
	fields := recordFields(v.Type())
	pairs := make([]pair, 0, len(fields))
	for _, f := range fields {
		fv, ok := fieldByIndex(v, f.index)
		if !ok {
			continue
		}
		pairs = append(pairs, pair{key: f.name, value: fv})
	}
	return s.record(pairs)
}

func (s *stringifier) record(pairs []pair) string {
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].key < pairs[j].key
	})

	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, p := range pairs {
		value := s.value(p.value)
		if value == "" {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(literal(p.key))
		b.WriteByte(':')
		b.WriteString(value)
	}
	b.WriteByte('}')
	return b.String()
}

func (s *stringifier) opaque(v reflect.Value) string {
	if v.Kind() == reflect.Pointer {
		return `{"__key":` + literal(s.ids.Token(v)) + `}`
	}
	return s.hiddenRecord(v)
}

// hiddenRecord renders a struct value with no serializable fields as a record
// of all its fields keyed by Go name. Unexported fields are read through
// reflection, so two values of one type differ whenever their contents do.
func (s *stringifier) hiddenRecord(v reflect.Value) string {
	t := v.Type()
	pairs := make([]pair, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		pairs = append(pairs, pair{key: t.Field(i).Name, value: v.Field(i)})
	}
	return s.record(pairs)
}

// primitive renders a scalar through its kind so that values read through
// unexported embedded structs, which cannot be converted to interfaces, still
// render.
func primitive(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return literal(float32(v.Float()))
	case reflect.Float64:
		return literal(v.Float())
	case reflect.String:
		return literal(v.String())
	case reflect.Slice:
		return literal(v.Bytes())
	default:
		return ""
	}
}

// literal encodes a primitive as JSON without HTML escaping. Values JSON
// cannot represent, such as NaN, render as null.
func literal(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func mapKey(k reflect.Value) string {
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			if text, err := tm.MarshalText(); err == nil {
				return string(text)
			}
		}
		return fmt.Sprint(k.Interface())
	}
	if text := primitive(k); text != "" {
		return text
	}
	return k.String()
}
