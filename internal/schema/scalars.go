package schema

import (
	"net/url"
	"reflect"
	"regexp"
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

var hexColorRe = regexp.MustCompile(`^#?([0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// HexColorCode is a CSS hexadecimal color such as "#7af9ab".
var HexColorCode = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "HexColorCode",
	Description: "A field whose value is a hex color code.",
	Serialize:   hexColor,
	ParseValue:  hexColor,
	ParseLiteral: func(valueAST ast.Value) interface{} {
		if v, ok := valueAST.(*ast.StringValue); ok {
			return hexColor(v.Value)
		}
		return nil
	},
})

func hexColor(value interface{}) interface{} {
	s, ok := value.(string)
	if !ok || !hexColorRe.MatchString(s) {
		return nil
	}
	return s
}

// URL is an absolute URL serialized as a string.
var URL = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "URL",
	Description: "A field whose value conforms to the standard URL format as specified in RFC3986.",
	Serialize:   absoluteURL,
	ParseValue:  absoluteURL,
	ParseLiteral: func(valueAST ast.Value) interface{} {
		if v, ok := valueAST.(*ast.StringValue); ok {
			return absoluteURL(v.Value)
		}
		return nil
	},
})

func absoluteURL(value interface{}) interface{} {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return nil
	}
	return u.String()
}

// JSONObject is an arbitrary JSON object.
var JSONObject = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSONObject",
	Description: "The `JSONObject` scalar type represents JSON objects as specified by ECMA-404.",
	Serialize:   jsonObject,
	ParseValue:  jsonObject,
	ParseLiteral: func(valueAST ast.Value) interface{} {
		if _, ok := valueAST.(*ast.ObjectValue); !ok {
			return nil
		}
		return literalValue(valueAST)
	},
})

func jsonObject(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return v
	case map[string]string:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[key] = val
		}
		return out
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil
	}
	if rv.IsNil() {
		return nil
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out
}

func literalValue(valueAST ast.Value) interface{} {
	switch v := valueAST.(type) {
	case *ast.ObjectValue:
		out := make(map[string]interface{}, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name.Value] = literalValue(f.Value)
		}
		return out
	case *ast.ListValue:
		out := make([]interface{}, 0, len(v.Values))
		for _, item := range v.Values {
			out = append(out, literalValue(item))
		}
		return out
	case *ast.StringValue:
		return v.Value
	case *ast.EnumValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n
		}
		return nil
	case *ast.FloatValue:
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			return f
		}
		return nil
	default:
		return nil
	}
}
