// Package pokedex serves a static Pokédex over GraphQL.
package pokedex

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
)

//go:embed data/pokemons.json
var pokemonData []byte

// Types lists the elemental types in declaration order.
var Types = []string{
	"Grass", "Poison", "Fire", "Flying", "Water", "Bug", "Normal", "Electric", "Ground",
	"Fairy", "Fighting", "Psychic", "Rock", "Steel", "Ice", "Ghost", "Dragon", "Dark",
}

type Attack struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Damage int    `json:"damage"`
}

type Attacks struct {
	Fast    []Attack `json:"fast"`
	Special []Attack `json:"special"`
}

type Dimension struct {
	Minimum string `json:"minimum"`
	Maximum string `json:"maximum"`
}

type EvolutionRequirement struct {
	Amount int    `json:"amount"`
	Name   string `json:"name"`
}

// Evolution references a later stage by its numeric id.
type Evolution struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Pokemon struct {
	ID                    string                 `json:"id"`
	Name                  string                 `json:"name"`
	Classification        string                 `json:"classification"`
	Types                 []string               `json:"types"`
	Resistant             []string               `json:"resistant"`
	Weaknesses            []string               `json:"weaknesses"`
	EvolutionRequirements []EvolutionRequirement `json:"evolutionRequirements,omitempty"`
	Evolutions            []Evolution            `json:"evolutions,omitempty"`
	Weight                *Dimension             `json:"weight"`
	Height                *Dimension             `json:"height"`
	Attacks               *Attacks               `json:"attacks"`
	FleeRate              float64                `json:"fleeRate"`
	MaxCP                 int                    `json:"maxCP"`
	MaxHP                 int                    `json:"maxHP"`
}

// Dex is an immutable, ordered collection of Pokémon.
type Dex struct {
	list []*Pokemon
	byID map[string]*Pokemon
}

// Load parses the embedded dataset.
func Load() (*Dex, error) {
	return Parse(pokemonData)
}

// Parse builds a Dex from a JSON array of Pokémon.
func Parse(data []byte) (*Dex, error) {
	var list []*Pokemon
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("pokedex: parsing dataset: %w", err)
	}

	d := &Dex{
		list: list,
		byID: make(map[string]*Pokemon, len(list)),
	}
	for _, p := range list {
		if p.ID == "" {
			continue
		}
		d.byID[p.ID] = p
	}
	return d, nil
}

// List returns every Pokémon in dataset order.
func (d *Dex) List() []*Pokemon {
	return d.list
}

// Get returns the Pokémon with the given three-character id, or nil.
func (d *Dex) Get(id string) *Pokemon {
	return d.byID[id]
}

// Evolutions returns the later stages of p that exist in the dataset, or nil
// when p does not evolve.
func (d *Dex) Evolutions(p *Pokemon) []*Pokemon {
	known := d.byID[p.ID]
	if known == nil || len(known.Evolutions) == 0 {
		return nil
	}

	out := make([]*Pokemon, 0, len(known.Evolutions))
	for _, evolution := range known.Evolutions {
		if next := d.byID[PadID(evolution.ID)]; next != nil {
			out = append(out, next)
		}
	}
	return out
}

// PadID formats a numeric id the way the dataset keys Pokémon, e.g. 7 → "007".
func PadID(id int) string {
	s := strconv.Itoa(id)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
