package colors

import (
	"github.com/graphql-go/graphql"

	"github.com/FormidableLabs/trygql/internal/schema"
)

// NewSchema builds the intermittent-colors schema over api.
func NewSchema(b *schema.Builder, api *API) (graphql.Schema, error) {
	color := b.Object(schema.ObjectDef{
		Name:        "Color",
		Description: "One of the most common RGB monitor colors, as defined by participants in an xkcd color name survey.",
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "name", Type: graphql.NewNonNull(graphql.String)},
				{Name: "hex", Type: graphql.NewNonNull(schema.HexColorCode)},
			}
		},
	})

	query := b.Object(schema.ObjectDef{
		Name: "Query",
		Fields: func() schema.Fields {
			return schema.Fields{
				{
					Name:        "randomColor",
					Type:        graphql.NewNonNull(color),
					Description: "Get a random color out of the xkcd survey colors. This has a 1:3 chance of succeeding.",
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						c, err := api.RandomColor()
						if err != nil {
							return nil, err
						}
						return c, nil
					},
				},
				{
					Name:        "color",
					Type:        color,
					Description: "Get a color by its name from the xkcd survey colors. This has a 1:3 chance of succeeding.",
					Args: graphql.FieldConfigArgument{
						"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						name, _ := schema.StringArg(p.Args, "name")
						c, err := api.Color(name)
						if err != nil || c == nil {
							return nil, err
						}
						return c, nil
					},
				},
				{
					Name:        "colors",
					Type:        graphql.NewList(color),
					Description: "Paginate through the xkcd survey colors. This has a 1:3 chance of succeeding.",
					Args:        schema.PageArgs(),
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						list, err := api.Colors()
						if err != nil {
							return nil, err
						}
						return schema.Paginate(list, p.Args), nil
					},
				},
			}
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query})
}
