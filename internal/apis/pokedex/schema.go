package pokedex

import (
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/FormidableLabs/trygql/internal/schema"
)

// NewSchema builds the basic-pokedex schema over dex.
func NewSchema(b *schema.Builder, dex *Dex) (graphql.Schema, error) {
	values := make(graphql.EnumValueConfigMap, len(Types))
	for _, t := range Types {
		values[t] = &graphql.EnumValueConfig{Value: t}
	}
	pokemonType := graphql.NewEnum(graphql.EnumConfig{
		Name:        "PokemonType",
		Description: "Elemental property associated with either a Pokémon or one of their moves.",
		Values:      values,
	})

	attack := b.Object(schema.ObjectDef{
		Name:        "Attack",
		Description: "Move a Pokémon can perform with the associated damage and type.",
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "name", Type: graphql.String},
				{Name: "type", Type: pokemonType},
				{Name: "damage", Type: graphql.Int},
			}
		},
	})

	requirement := b.Object(schema.ObjectDef{
		Name:        "EvolutionRequirement",
		Description: "Requirement that prevents an evolution through regular means of levelling up.",
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "amount", Type: graphql.Int},
				{Name: "name", Type: graphql.String},
			}
		},
	})

	dimension := b.Object(schema.ObjectDef{
		Name: "PokemonDimension",
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "minimum", Type: graphql.String},
				{Name: "maximum", Type: graphql.String},
			}
		},
	})

	attacks := b.Object(schema.ObjectDef{
		Name: "AttacksConnection",
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "fast", Type: graphql.NewList(attack)},
				{Name: "special", Type: graphql.NewList(attack)},
			}
		},
	})

	var pokemon *graphql.Object
	pokemon = b.Object(schema.ObjectDef{
		Name: "Pokemon",
		Fields: func() schema.Fields {
			return schema.Fields{
				{Name: "id", Type: graphql.NewNonNull(graphql.ID)},
				{Name: "name", Type: graphql.NewNonNull(graphql.String)},
				{Name: "classification", Type: graphql.String},
				{Name: "types", Type: graphql.NewList(pokemonType)},
				{Name: "resistant", Type: graphql.NewList(pokemonType)},
				{Name: "weaknesses", Type: graphql.NewList(pokemonType)},
				{Name: "evolutionRequirements", Type: graphql.NewList(requirement)},
				{Name: "weight", Type: dimension},
				{Name: "height", Type: dimension},
				{Name: "attacks", Type: attacks},
				{Name: "fleeRate", Type: graphql.Float, Description: "Likelihood of an attempt to catch a Pokémon to fail."},
				{Name: "maxCP", Type: graphql.Int, Description: "Maximum combat power a Pokémon may achieve at max level."},
				{Name: "maxHP", Type: graphql.Int, Description: "Maximum health points a Pokémon may achieve at max level."},
				{
					Name: "evolutions",
					Type: graphql.NewList(pokemon),
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						parent, ok := p.Source.(*Pokemon)
						if !ok {
							return nil, fmt.Errorf("pokedex: unexpected parent %T", p.Source)
						}
						if evolutions := dex.Evolutions(parent); evolutions != nil {
							return evolutions, nil
						}
						return nil, nil
					},
				},
			}
		},
	})

	query := b.Object(schema.ObjectDef{
		Name: "Query",
		Fields: func() schema.Fields {
			return schema.Fields{
				{
					Name:        "pokemons",
					Type:        graphql.NewList(pokemon),
					Description: "List out all Pokémon, optionally in pages",
					Args:        schema.PageArgs(),
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return schema.Paginate(dex.List(), p.Args), nil
					},
				},
				{
					Name:        "pokemon",
					Type:        pokemon,
					Description: "Get a single Pokémon by its ID, a three character long identifier padded with zeroes",
					Args: graphql.FieldConfigArgument{
						"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						id, _ := schema.StringArg(p.Args, "id")
						if found := dex.Get(id); found != nil {
							return found, nil
						}
						return nil, nil
					},
				},
			}
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query})
}
