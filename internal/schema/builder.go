// Package schema builds graphql-go types from declarative definitions and lets
// plugins wrap field resolvers while the schema is being constructed.
package schema

import (
	"log/slog"
	"time"

	"github.com/graphql-go/graphql"
)

// Middleware wraps a field resolver.
type Middleware func(next graphql.FieldResolveFn) graphql.FieldResolveFn

// Plugin hooks into schema construction.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string
	// OnCreateFieldResolver is called once per object field at build time.
	// Returning nil leaves the field's resolver untouched.
	OnCreateFieldResolver(cfg FieldConfig) Middleware
}

// DecodeFunc rebuilds a resolved value from its JSON encoding.
type DecodeFunc func(data []byte) (any, error)

// FieldDef declares one field of an object or interface type.
type FieldDef struct {
	Name              string
	Description       string
	DeprecationReason string
	Type              graphql.Output
	Args              graphql.FieldConfigArgument
	Resolve           graphql.FieldResolveFn

	// TTL opts the field into resolver caching when positive.
	TTL time.Duration
	// Decode turns a cached JSON entry back into the value the resolver
	// would have returned. Nil decodes into generic JSON values.
	Decode DecodeFunc
}

// Fields is an ordered list of field definitions.
type Fields []FieldDef

// FieldConfig is what plugins see for each field at build time.
type FieldConfig struct {
	ParentTypeName string
	Field          FieldDef
}

// ObjectDef declares an object type. Fields is a thunk so types may refer to
// themselves or to types declared later.
type ObjectDef struct {
	Name        string
	Description string
	Interfaces  func() []*graphql.Interface
	Fields      func() Fields
	IsTypeOf    graphql.IsTypeOfFn
}

// InterfaceDef declares an interface type.
type InterfaceDef struct {
	Name        string
	Description string
	Fields      func() Fields
	ResolveType graphql.ResolveTypeFn
}

// Builder creates graphql-go types, applying plugins to every object field.
type Builder struct {
	plugins  []Plugin
	logger   *slog.Logger
	pageInfo *graphql.Object
}

// NewBuilder creates a builder with the given plugins. The first plugin wraps
// outermost.
func NewBuilder(logger *slog.Logger, plugins ...Plugin) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		plugins: plugins,
		logger:  logger,
	}
}

// Object builds an object type.
func (b *Builder) Object(def ObjectDef) *graphql.Object {
	cfg := graphql.ObjectConfig{
		Name:        def.Name,
		Description: def.Description,
		IsTypeOf:    def.IsTypeOf,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return b.objectFields(def.Name, def.Fields())
		}),
	}
	if def.Interfaces != nil {
		cfg.Interfaces = graphql.InterfacesThunk(def.Interfaces)
	}
	return graphql.NewObject(cfg)
}

// Interface builds an interface type. Interface fields are never wrapped
// since graphql-go always resolves through the implementing object.
func (b *Builder) Interface(def InterfaceDef) *graphql.Interface {
	return graphql.NewInterface(graphql.InterfaceConfig{
		Name:        def.Name,
		Description: def.Description,
		ResolveType: def.ResolveType,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			fields := graphql.Fields{}
			for _, fd := range def.Fields() {
				fields[fd.Name] = plainField(fd)
			}
			return fields
		}),
	})
}

// Field builds a single object field, applying plugins.
func (b *Builder) Field(parentTypeName string, def FieldDef) *graphql.Field {
	field := plainField(def)

	cfg := FieldConfig{ParentTypeName: parentTypeName, Field: def}

	var resolve graphql.FieldResolveFn
	for i := len(b.plugins) - 1; i >= 0; i-- {
		mw := b.plugins[i].OnCreateFieldResolver(cfg)
		if mw == nil {
			continue
		}
		if resolve == nil {
			resolve = def.Resolve
			if resolve == nil {
				resolve = graphql.DefaultResolveFn
			}
		}
		resolve = mw(resolve)
		b.logger.Debug("wrapped field resolver",
			"plugin", b.plugins[i].Name(),
			"field", parentTypeName+"."+def.Name,
		)
	}

	if resolve != nil {
		field.Resolve = resolve
	}

	return field
}

func (b *Builder) objectFields(parentTypeName string, defs Fields) graphql.Fields {
	fields := make(graphql.Fields, len(defs))
	for _, fd := range defs {
		fields[fd.Name] = b.Field(parentTypeName, fd)
	}
	return fields
}

func plainField(def FieldDef) *graphql.Field {
	return &graphql.Field{
		Name:              def.Name,
		Description:       def.Description,
		DeprecationReason: def.DeprecationReason,
		Type:              def.Type,
		Args:              def.Args,
		Resolve:           def.Resolve,
	}
}
