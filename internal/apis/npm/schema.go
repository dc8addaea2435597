package npm

import (
	"errors"
	"fmt"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/FormidableLabs/trygql/internal/resolvercache"
	"github.com/FormidableLabs/trygql/internal/schema"
)

// CacheTTL is how long cached relay-npm fields live.
const CacheTTL = time.Hour

var errNegativeFirst = errors.New("first must not be negative")

// NewSchema builds the relay-npm schema.
func NewSchema(b *schema.Builder, registry *Registry, skypack *Skypack) (graphql.Schema, error) {
	var packageType, versionType, jsExportType, assetExportType *graphql.Object

	resolveMetadataType := func(p graphql.ResolveTypeParams) *graphql.Object {
		switch p.Value.(type) {
		case *Package:
			return packageType
		case *Version:
			return versionType
		}
		return nil
	}

	node := b.Interface(schema.InterfaceDef{
		Name:        "Node",
		ResolveType: resolveMetadataType,
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "id", Type: graphql.NewNonNull(graphql.ID)},
			}
		},
	})

	metadata := b.Interface(schema.InterfaceDef{
		Name:        "Metadata",
		ResolveType: resolveMetadataType,
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "id", Type: graphql.NewNonNull(graphql.ID)},
				{Name: "name", Type: graphql.NewNonNull(graphql.String)},
			}
		},
	})

	tag := b.Object(schema.ObjectDef{
		Name:        "Tag",
		Description: "Tagged version of the package",
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "tag", Type: graphql.NewNonNull(graphql.String)},
				{Name: "version", Type: graphql.NewNonNull(graphql.String)},
			}
		},
	})

	distributable := b.Object(schema.ObjectDef{
		Name:        "Distributable",
		Description: "Information about an artifact of a version",
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "shasum", Type: graphql.NewNonNull(graphql.String)},
				{Name: "tarball", Type: graphql.NewNonNull(schema.URL)},
				{Name: "integrity", Type: graphql.String},
				{Name: "fileCount", Type: graphql.Int},
				{Name: "unpackedSize", Type: graphql.Int},
				{
					Name:              "unpackagedSize",
					Type:              graphql.Int,
					DeprecationReason: "Use unpackedSize.",
					Resolve: distResolver(func(d *Dist) interface{} {
						return d.UnpackedSize
					}),
				},
				{
					Name: "npmSignature",
					Type: graphql.String,
					Resolve: distResolver(func(d *Dist) interface{} {
						return d.Signature
					}),
				},
			}
		},
	})

	export := b.Interface(schema.InterfaceDef{
		Name: "Export",
		ResolveType: func(p graphql.ResolveTypeParams) *graphql.Object {
			exp, ok := p.Value.(*Export)
			if !ok {
				return nil
			}
			if exp.Type == ExportJS {
				return jsExportType
			}
			return assetExportType
		},
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "path", Type: graphql.NewNonNull(graphql.String)},
			}
		},
	})

	exportPath := schema.FieldDef{
		Name: "path",
		Type: graphql.NewNonNull(graphql.String),
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			exp, ok := p.Source.(*Export)
			if !ok {
				return nil, fmt.Errorf("npm: unexpected export %T", p.Source)
			}
			return exp.ID, nil
		},
	}

	jsExportType = b.Object(schema.ObjectDef{
		Name:        "JSExport",
		Description: "JavaScript file in the distributable as provided by skypack.dev.",
		Interfaces:  func() []*graphql.Interface { return []*graphql.Interface{export} },
		Fields: func() schema.Fields {
			return schema.Fields{
				exportPath,
				{Name: "hasDefaultExport", Type: graphql.Boolean},
				{Name: "namedExports", Type: graphql.NewList(graphql.String)},
			}
		},
	})

	assetExportType = b.Object(schema.ObjectDef{
		Name:        "AssetExport",
		Description: "Non-JS asset file in the distributable as provided by skypack.dev.",
		Interfaces:  func() []*graphql.Interface { return []*graphql.Interface{export} },
		Fields: func() schema.Fields {
			return schema.Fields{exportPath}
		},
	})

	nodeInterfaces := func() []*graphql.Interface { return []*graphql.Interface{node, metadata} }

	versionType = b.Object(schema.ObjectDef{
		Name:        "Version",
		Description: "Published version for an npm package.",
		Interfaces:  nodeInterfaces,
		Fields: func() schema.Fields {
			return schema.Fields{
				{
					Name: "id",
					Type: graphql.NewNonNull(graphql.ID),
					Resolve: versionResolver(func(_ graphql.ResolveParams, v *Version) (interface{}, error) {
						return v.ID(), nil
					}),
				},
				{Name: "name", Type: graphql.NewNonNull(graphql.String)},
				{Name: "description", Type: graphql.String},
				{Name: "version", Type: graphql.NewNonNull(graphql.String)},
				{Name: "dist", Type: graphql.NewNonNull(distributable)},
				{Name: "optionalDependencies", Type: schema.JSONObject},
				{Name: "peerDependencies", Type: schema.JSONObject},
				{Name: "devDependencies", Type: schema.JSONObject},
				{Name: "dependencies", Type: schema.JSONObject},
				{Name: "engines", Type: schema.JSONObject},
				{Name: "bin", Type: schema.JSONObject},
				{
					Name:   "exports",
					Type:   graphql.NewList(export),
					Args:   schema.PageArgs(),
					TTL:    CacheTTL,
					Decode: resolvercache.DecodeAs[[]*Export](),
					Resolve: versionResolver(func(p graphql.ResolveParams, v *Version) (interface{}, error) {
						exports, err := skypack.Exports(p.Context, v.Name, v.Version)
						if err != nil || exports == nil {
							return nil, err
						}
						return schema.Paginate(exports, p.Args), nil
					}),
				},
			}
		},
	})

	packageType = b.Object(schema.ObjectDef{
		Name:        "Package",
		Description: "Metadata for an npm package.",
		Interfaces:  nodeInterfaces,
		Fields: func() schema.Fields {
			return schema.Fields{
				{
					Name: "id",
					Type: graphql.NewNonNull(graphql.ID),
					Resolve: packageResolver(func(_ graphql.ResolveParams, pkg *Package) (interface{}, error) {
						return pkg.ID(), nil
					}),
				},
				{Name: "name", Type: graphql.NewNonNull(graphql.String)},
				{Name: "description", Type: graphql.String},
				{
					Name: "modifiedAt",
					Type: graphql.NewNonNull(graphql.DateTime),
					Resolve: packageResolver(func(_ graphql.ResolveParams, pkg *Package) (interface{}, error) {
						modified, ok := pkg.Modified()
						if !ok {
							return nil, fmt.Errorf("npm: %s has no modification time", pkg.Name)
						}
						return modified, nil
					}),
				},
				{
					Name:        "distTags",
					Type:        graphql.NewNonNull(graphql.NewList(tag)),
					Description: "List of registered distributable tags.",
					Resolve: packageResolver(func(_ graphql.ResolveParams, pkg *Package) (interface{}, error) {
						return pkg.Tags(), nil
					}),
				},
				{
					Name: "versions",
					Type: graphql.NewNonNull(graphql.NewList(versionType)),
					Args: schema.PageArgs(),
					Resolve: packageResolver(func(p graphql.ResolveParams, pkg *Package) (interface{}, error) {
						return schema.Paginate(pkg.VersionList(), p.Args), nil
					}),
				},
				{
					Name:        "version",
					Type:        versionType,
					Description: "Resolve a specific version of the package given a valid semver selector",
					Args: graphql.FieldConfigArgument{
						"selector": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					},
					TTL:    CacheTTL,
					Decode: resolvercache.DecodeAs[*Version](),
					Resolve: packageResolver(func(p graphql.ResolveParams, pkg *Package) (interface{}, error) {
						selector, _ := schema.StringArg(p.Args, "selector")
						if v := ResolveVersion(pkg, selector); v != nil {
							return v, nil
						}
						return nil, nil
					}),
				},
			}
		},
	})

	packageConnection := b.Connection("Package", packageType)

	query := b.Object(schema.ObjectDef{
		Name: "Query",
		Fields: func() schema.Fields {
			return schema.Fields{
				{
					Name:        "node",
					Type:        node,
					Description: "Get a Node interface type by ID, e.g. Package or Version",
					Args: graphql.FieldConfigArgument{
						"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					},
					TTL:    CacheTTL,
					Decode: decodeNode,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						id, _ := schema.StringArg(p.Args, "id")
						name, version, ok := ParseID(id)
						if !ok {
							return nil, nil
						}
						pkg, err := registry.Package(p.Context, name)
						if err != nil || pkg == nil {
							return nil, err
						}
						if version == "" {
							return pkg, nil
						}
						if v := pkg.Versions[version]; v != nil {
							return v, nil
						}
						return nil, nil
					},
				},
				{
					Name:        "package",
					Type:        packageType,
					Description: "Retrieve a package by name",
					Args: graphql.FieldConfigArgument{
						"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					},
					TTL:    CacheTTL,
					Decode: resolvercache.DecodeAs[*Package](),
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						name, _ := schema.StringArg(p.Args, "name")
						pkg, err := registry.Package(p.Context, name)
						if err != nil || pkg == nil {
							return nil, err
						}
						return pkg, nil
					},
				},
				{
					Name:        "resolve",
					Type:        versionType,
					Description: "Resolve a semver range or tag for a specific package",
					Args: graphql.FieldConfigArgument{
						"name":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
						"selector": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					},
					TTL:    CacheTTL,
					Decode: resolvercache.DecodeAs[*Version](),
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						name, _ := schema.StringArg(p.Args, "name")
						selector, _ := schema.StringArg(p.Args, "selector")
						pkg, err := registry.Package(p.Context, name)
						if err != nil || pkg == nil {
							return nil, err
						}
						if v := ResolveVersion(pkg, selector); v != nil {
							return v, nil
						}
						return nil, nil
					},
				},
				{
					Name:        "search",
					Type:        packageConnection,
					Description: "Search for packages on the npm registry",
					Args: schema.ConnectionArgs(graphql.FieldConfigArgument{
						"query": &graphql.ArgumentConfig{
							Type:        graphql.NewNonNull(graphql.String),
							Description: "Search string to search for on the npm registry",
						},
					}),
					TTL:    CacheTTL,
					Decode: resolvercache.DecodeAs[*schema.Connection[*Package]](),
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						text, _ := schema.StringArg(p.Args, "query")
						first, _ := schema.IntArg(p.Args, "first")
						if first < 0 {
							return nil, errNegativeFirst
						}
						if first > MaxSearchSize-1 {
							first = MaxSearchSize - 1
						}
						start, err := schema.StartOffset(p.Args)
						if err != nil {
							return nil, err
						}

						packages, err := registry.Search(p.Context, text, first+1, start)
						if err != nil {
							return nil, err
						}
						return schema.NewConnection(packages, start, first), nil
					},
				},
			}
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: query,
		Types: []graphql.Type{packageType, versionType, jsExportType, assetExportType},
	})
}

func packageResolver(fn func(graphql.ResolveParams, *Package) (interface{}, error)) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		pkg, ok := p.Source.(*Package)
		if !ok {
			return nil, fmt.Errorf("npm: unexpected package %T", p.Source)
		}
		return fn(p, pkg)
	}
}

func versionResolver(fn func(graphql.ResolveParams, *Version) (interface{}, error)) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		v, ok := p.Source.(*Version)
		if !ok {
			return nil, fmt.Errorf("npm: unexpected version %T", p.Source)
		}
		return fn(p, v)
	}
}

// distResolver adapts fn to the Dist value or pointer graphql-go passes as
// source.
func distResolver(fn func(*Dist) interface{}) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		switch d := p.Source.(type) {
		case Dist:
			return fn(&d), nil
		case *Dist:
			return fn(d), nil
		}
		return nil, fmt.Errorf("npm: unexpected dist %T", p.Source)
	}
}
