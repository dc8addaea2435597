package pokedex

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/graphql-go/graphql"

	"github.com/FormidableLabs/trygql/internal/schema"
)

func testSchema(t *testing.T) (graphql.Schema, *Dex) {
	t.Helper()

	dex, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	s, err := NewSchema(schema.NewBuilder(slog.New(slog.NewTextHandler(io.Discard, nil))), dex)
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}
	return s, dex
}

func run(t *testing.T, s graphql.Schema, query string) map[string]interface{} {
	t.Helper()

	res := graphql.Do(graphql.Params{Schema: s, RequestString: query, Context: context.Background()})
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	return res.Data.(map[string]interface{})
}

func TestLoad(t *testing.T) {
	dex, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(dex.List()) == 0 {
		t.Fatal("expected embedded Pokémon")
	}
	if p := dex.Get("001"); p == nil || p.Name != "Bulbasaur" {
		t.Errorf("Get(001) = %+v", p)
	}
	if dex.Get("1") != nil {
		t.Error("ids must be zero padded")
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte(`{`)); err == nil {
		t.Error("expected error for invalid dataset")
	}
}

func TestPadID(t *testing.T) {
	tests := map[int]string{1: "001", 25: "025", 151: "151", 1000: "1000"}
	for in, want := range tests {
		if got := PadID(in); got != want {
			t.Errorf("PadID(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestEvolutions(t *testing.T) {
	dex, _ := Load()

	got := dex.Evolutions(dex.Get("001"))
	if len(got) != 2 || got[0].Name != "Ivysaur" || got[1].Name != "Venusaur" {
		t.Errorf("Evolutions(Bulbasaur) = %v", got)
	}
	if got := dex.Evolutions(dex.Get("003")); got != nil {
		t.Errorf("Evolutions(Venusaur) = %v, want nil", got)
	}
	if got := dex.Evolutions(&Pokemon{ID: "999"}); got != nil {
		t.Errorf("Evolutions(unknown) = %v, want nil", got)
	}
}

func TestQueryPokemon(t *testing.T) {
	s, _ := testSchema(t)

	data := run(t, s, `{
		pokemon(id: "025") {
			id name types maxCP fleeRate
			weight { minimum maximum }
			attacks { fast { name type damage } }
			evolutionRequirements { amount name }
			evolutions { id name }
		}
	}`)

	p := data["pokemon"].(map[string]interface{})
	if p["name"] != "Pikachu" || p["maxCP"] != 777 || p["fleeRate"] != 0.1 {
		t.Errorf("pokemon = %v", p)
	}
	if types := p["types"].([]interface{}); len(types) != 1 || types[0] != "Electric" {
		t.Errorf("types = %v", types)
	}
	if w := p["weight"].(map[string]interface{}); w["minimum"] != "5.25kg" {
		t.Errorf("weight = %v", w)
	}
	fast := p["attacks"].(map[string]interface{})["fast"].([]interface{})
	if first := fast[0].(map[string]interface{}); first["name"] != "Quick Attack" || first["type"] != "Normal" || first["damage"] != 10 {
		t.Errorf("fast[0] = %v", first)
	}
	reqs := p["evolutionRequirements"].([]interface{})
	if req := reqs[0].(map[string]interface{}); req["amount"] != 50 {
		t.Errorf("evolutionRequirements = %v", reqs)
	}
	evolutions := p["evolutions"].([]interface{})
	if len(evolutions) != 1 || evolutions[0].(map[string]interface{})["id"] != "026" {
		t.Errorf("evolutions = %v", evolutions)
	}
}

func TestQueryPokemonUnknown(t *testing.T) {
	s, _ := testSchema(t)

	data := run(t, s, `{ pokemon(id: "999") { id } }`)
	if data["pokemon"] != nil {
		t.Errorf("pokemon = %v, want null", data["pokemon"])
	}
}

func TestQueryPokemonsPaginates(t *testing.T) {
	s, dex := testSchema(t)

	data := run(t, s, `{ all: pokemons { id } page: pokemons(skip: 3, limit: 2) { id name } }`)

	if all := data["all"].([]interface{}); len(all) != len(dex.List()) {
		t.Errorf("len(all) = %d, want %d", len(all), len(dex.List()))
	}
	page := data["page"].([]interface{})
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
	if page[0].(map[string]interface{})["name"] != "Charmander" {
		t.Errorf("page[0] = %v", page[0])
	}
}

func TestQueryEvolutionsNullWhenFinalStage(t *testing.T) {
	s, _ := testSchema(t)

	data := run(t, s, `{ pokemon(id: "006") { evolutions { id } } }`)
	if evolutions := data["pokemon"].(map[string]interface{})["evolutions"]; evolutions != nil {
		t.Errorf("evolutions = %v, want null", evolutions)
	}
}
