package routing

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"notiapp/internal/geo"
)

// ErrUnknownDestination is returned for ids missing from the catalog.
var ErrUnknownDestination = errors.New("unknown destination")

// Destination is one entry of the closed set of places a journey can target.
type Destination struct {
	ID       string    `yaml:"id" json:"id" validate:"required,max=64,excludesall=./*>"`
	Name     string    `yaml:"name" json:"name" validate:"required"`
	Location geo.Point `yaml:",inline" json:"location"`
	// ShapeID names the stored shape used by DBProvider; optional.
	ShapeID string `yaml:"shape_id" json:"shapeId,omitempty"`
}

type catalogFile struct {
	Destinations []Destination `yaml:"destinations" validate:"required,min=1,dive"`
}

// Catalog indexes destinations by id.
type Catalog struct {
	byID map[string]Destination
}

var validate = validator.New()

func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read destinations: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse destinations: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid destinations: %w", err)
	}
	return NewCatalog(f.Destinations...)
}

func NewCatalog(dests ...Destination) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Destination, len(dests))}
	for _, d := range dests {
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate destination id %q", d.ID)
		}
		c.byID[d.ID] = d
	}
	return c, nil
}

func (c *Catalog) Get(id string) (Destination, error) {
	d, ok := c.byID[id]
	if !ok {
		return Destination{}, fmt.Errorf("%w: %q", ErrUnknownDestination, id)
	}
	return d, nil
}

// All returns destinations sorted by id.
func (c *Catalog) All() []Destination {
	out := make([]Destination, 0, len(c.byID))
	for _, d := range c.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
