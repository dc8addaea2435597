package schema

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/graphql-go/graphql"
)

const cursorPrefix = "cursor:"

// ErrInvalidCursor is returned for cursors not produced by EncodeCursor.
var ErrInvalidCursor = errors.New("invalid cursor")

// PageInfo describes a page of a connection.
type PageInfo struct {
	HasNextPage     bool    `json:"hasNextPage"`
	HasPreviousPage bool    `json:"hasPreviousPage"`
	StartCursor     *string `json:"startCursor"`
	EndCursor       *string `json:"endCursor"`
}

// Edge is one node of a connection with its cursor.
type Edge[T any] struct {
	Cursor string `json:"cursor"`
	Node   T      `json:"node"`
}

// Connection is a forward-paginated relay connection.
type Connection[T any] struct {
	Edges    []Edge[T] `json:"edges"`
	Nodes    []T       `json:"nodes"`
	PageInfo PageInfo  `json:"pageInfo"`
}

// EncodeCursor returns the opaque cursor for an absolute offset.
func EncodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor returns the offset encoded in cursor.
func DecodeCursor(cursor string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	n, err := strconv.Atoi(strings.TrimPrefix(string(raw), cursorPrefix))
	if err != nil || !strings.HasPrefix(string(raw), cursorPrefix) || n < 0 {
		return 0, ErrInvalidCursor
	}
	return n, nil
}

// StartOffset returns the offset of the first node after the "after" cursor.
func StartOffset(args map[string]any) (int, error) {
	after, ok := StringArg(args, "after")
	if !ok || after == "" {
		return 0, nil
	}
	n, err := DecodeCursor(after)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// NewConnection builds a page from nodes fetched starting at offset start.
// Callers fetch one node more than first so the next page can be detected.
func NewConnection[T any](nodes []T, start, first int) *Connection[T] {
	hasNext := len(nodes) > first
	if hasNext {
		nodes = nodes[:first]
	}

	conn := &Connection[T]{
		Edges: make([]Edge[T], len(nodes)),
		Nodes: nodes,
		PageInfo: PageInfo{
			HasNextPage:     hasNext,
			HasPreviousPage: start > 0,
		},
	}
	for i, node := range nodes {
		conn.Edges[i] = Edge[T]{Cursor: EncodeCursor(start + i), Node: node}
	}
	if len(conn.Edges) > 0 {
		startCursor := conn.Edges[0].Cursor
		endCursor := conn.Edges[len(conn.Edges)-1].Cursor
		conn.PageInfo.StartCursor = &startCursor
		conn.PageInfo.EndCursor = &endCursor
	}
	return conn
}

// ConnectionArgs returns the forward pagination arguments merged with extra.
func ConnectionArgs(extra graphql.FieldConfigArgument) graphql.FieldConfigArgument {
	args := graphql.FieldConfigArgument{
		"first": &graphql.ArgumentConfig{
			Type:        graphql.NewNonNull(graphql.Int),
			Description: "Returns the first n elements from the list.",
		},
		"after": &graphql.ArgumentConfig{
			Type:        graphql.String,
			Description: "Returns the elements in the list that come after the specified cursor",
		},
	}
	for name, arg := range extra {
		args[name] = arg
	}
	return args
}

// PageInfo returns the shared PageInfo type.
func (b *Builder) PageInfo() *graphql.Object {
	if b.pageInfo == nil {
		b.pageInfo = b.Object(ObjectDef{
			Name:        "PageInfo",
			Description: "PageInfo cursor, as defined in https://facebook.github.io/relay/graphql/connections.htm#sec-undefined.PageInfo",
			Fields: func() Fields {
				return Fields{
					{Name: "hasNextPage", Type: graphql.NewNonNull(graphql.Boolean), Description: "Used to indicate whether more edges exist following the set defined by the clients arguments."},
					{Name: "hasPreviousPage", Type: graphql.NewNonNull(graphql.Boolean), Description: "Used to indicate whether more edges exist prior to the set defined by the clients arguments."},
					{Name: "startCursor", Type: graphql.String, Description: "The cursor corresponding to the first nodes in edges."},
					{Name: "endCursor", Type: graphql.String, Description: "The cursor corresponding to the last nodes in edges."},
				}
			},
		})
	}
	return b.pageInfo
}

// Connection builds the "<name>Connection" and "<name>Edge" types for node.
func (b *Builder) Connection(name string, node graphql.Output) *graphql.Object {
	edge := b.Object(ObjectDef{
		Name: name + "Edge",
		Fields: func() Fields {
			return Fields{
				{Name: "cursor", Type: graphql.NewNonNull(graphql.String), Description: "https://facebook.github.io/relay/graphql/connections.htm#sec-Cursor"},
				{Name: "node", Type: node, Description: "https://facebook.github.io/relay/graphql/connections.htm#sec-Node"},
			}
		},
	})

	return b.Object(ObjectDef{
		Name: name + "Connection",
		Fields: func() Fields {
			return Fields{
				{Name: "edges", Type: graphql.NewList(edge), Description: "https://facebook.github.io/relay/graphql/connections.htm#sec-Edge-Types"},
				{Name: "nodes", Type: graphql.NewList(node), Description: "Flattened list of " + name + " type"},
				{Name: "pageInfo", Type: graphql.NewNonNull(b.PageInfo()), Description: "https://facebook.github.io/relay/graphql/connections.htm#sec-undefined.PageInfo"},
			}
		},
	})
}
