package schema

import (
	"github.com/graphql-go/graphql"
)

// PageArgs are the optional limit/skip arguments shared by list fields.
func PageArgs() graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"limit": &graphql.ArgumentConfig{Type: graphql.Int},
		"skip":  &graphql.ArgumentConfig{Type: graphql.Int},
	}
}

// Paginate applies skip then limit to list. Missing arguments leave the list
// unchanged; out-of-range values clamp.
func Paginate[T any](list []T, args map[string]any) []T {
	if skip, ok := IntArg(args, "skip"); ok {
		if skip < 0 {
			skip = 0
		}
		if skip > len(list) {
			skip = len(list)
		}
		list = list[skip:]
	}
	if limit, ok := IntArg(args, "limit"); ok {
		if limit < 0 {
			limit = 0
		}
		if limit < len(list) {
			list = list[:limit]
		}
	}
	return list
}

// IntArg reads an integer argument.
func IntArg(args map[string]any, name string) (int, bool) {
	switch v := args[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// StringArg reads a string argument.
func StringArg(args map[string]any, name string) (string, bool) {
	v, ok := args[name].(string)
	return v, ok
}
