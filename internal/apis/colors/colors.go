// Package colors serves the xkcd color survey over a GraphQL API that fails
// on purpose two times out of three.
package colors

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

//go:embed data/xkcd-colors.json
var colorData []byte

// ErrorCode is the extension code of every intentional failure.
const ErrorCode = "NO_SOUP"

var errPaletteEmpty = errors.New("colors: palette is empty")

// Color is one named RGB monitor color.
type Color struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// Palette is an ordered set of colors.
type Palette struct {
	colors []Color
	byName map[string]Color
}

// LoadPalette parses the embedded survey colors.
func LoadPalette() (*Palette, error) {
	return ParsePalette(colorData)
}

// ParsePalette builds a palette from a JSON array of colors.
func ParsePalette(data []byte) (*Palette, error) {
	var list []Color
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("colors: parsing palette: %w", err)
	}

	p := &Palette{
		colors: list,
		byName: make(map[string]Color, len(list)),
	}
	for _, c := range list {
		p.byName[c.Name] = c
	}
	return p, nil
}

func (p *Palette) List() []Color {
	return p.colors
}

func (p *Palette) Len() int {
	return len(p.colors)
}

// Lookup returns the color with the given name.
func (p *Palette) Lookup(name string) (Color, bool) {
	c, ok := p.byName[name]
	return c, ok
}

// SoupError is returned by every resolver that was chosen to fail.
type SoupError struct {
	Timestamp time.Time
}

func (e *SoupError) Error() string {
	return "NO SOUP... I mean, no color for you!"
}

// Extensions implements gqlerrors.ExtendedError.
func (e *SoupError) Extensions() map[string]interface{} {
	return map[string]interface{}{
		"code":        ErrorCode,
		"description": "The /graphql/intermittent-colors API provides a demo of a randomly failing GraphQL API.",
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Config configures the API.
type Config struct {
	// Palette defaults to the embedded survey colors.
	Palette *Palette
	// Random returns a number in [0, 1). Defaults to math/rand.
	Random func() float64
	Now    func() time.Time
}

// API resolves colors, failing at random.
type API struct {
	palette *Palette
	random  func() float64
	now     func() time.Time
}

// New creates the API.
func New(cfg Config) (*API, error) {
	if cfg.Palette == nil {
		p, err := LoadPalette()
		if err != nil {
			return nil, err
		}
		cfg.Palette = p
	}
	if cfg.Random == nil {
		cfg.Random = rand.Float64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &API{
		palette: cfg.Palette,
		random:  cfg.Random,
		now:     cfg.Now,
	}, nil
}

// failAtRandom lets one call in three through.
func (a *API) failAtRandom() error {
	if a.random() > 1.0/3 {
		return &SoupError{Timestamp: a.now()}
	}
	return nil
}

// RandomColor returns a random color of the palette.
func (a *API) RandomColor() (*Color, error) {
	if err := a.failAtRandom(); err != nil {
		return nil, err
	}
	n := a.palette.Len()
	if n == 0 {
		return nil, errPaletteEmpty
	}
	index := int(a.random() * float64(n-1))
	c := a.palette.List()[index]
	return &c, nil
}

// Color returns the color named name, or nil when there is none.
func (a *API) Color(name string) (*Color, error) {
	if err := a.failAtRandom(); err != nil {
		return nil, err
	}
	c, ok := a.palette.Lookup(name)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Colors returns the palette.
func (a *API) Colors() ([]Color, error) {
	if err := a.failAtRandom(); err != nil {
		return nil, err
	}
	return a.palette.List(), nil
}
