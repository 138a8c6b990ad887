// Package catalog holds the static aromatherapy reference dataset: the oil
// entries and blend recipes every recommendation and consultation feature
// works from. The dataset is embedded at build time, validated once, and
// shared read-only for the life of the process.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed data/aromas.json
var rawCatalog []byte

type Usage struct {
	Diffuser string `json:"diffuser"`
	Bath     string `json:"bath"`
	Massage  string `json:"massage"`
}

type Aroma struct {
	ID          string   `json:"id"`
	NameJA      string   `json:"name_ja"`
	NameEN      string   `json:"name_en"`
	Category    string   `json:"category"`
	Effects     []string `json:"effects"`
	Symptoms    []string `json:"symptoms"`
	Scenes      []string `json:"scenes"`
	PriceRange  string   `json:"price_range"`
	Difficulty  string   `json:"difficulty"`
	BlendWell   []string `json:"blend_well"`
	Cautions    []string `json:"cautions"`
	Usage       Usage    `json:"usage"`
	Description string   `json:"description"`
	Color       string   `json:"color"`
}

type BlendItem struct {
	AromaID string `json:"aroma_id"`
	Drops   int    `json:"drops"`
}

type BlendRecipe struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Recipe  []BlendItem `json:"recipe"`
	Effects []string    `json:"effects"`
	Scene   string      `json:"scene"`
}

const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Catalog is immutable after Load. Callers receive shared slices and must
// not modify them.
type Catalog struct {
	aromas []Aroma
	blends []BlendRecipe
	byID   map[string]int
}

type catalogFile struct {
	Aromas []Aroma       `json:"aromas"`
	Blends []BlendRecipe `json:"blends"`
}

// Load parses and validates the embedded dataset. Referential integrity of
// blend_well and recipe aroma ids is enforced here rather than at lookup
// time, so the rest of the code can index the catalog without nil checks.
func Load() (*Catalog, error) {
	return Parse(rawCatalog)
}

func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse aroma catalog: %w", err)
	}
	if len(file.Aromas) == 0 {
		return nil, fmt.Errorf("aroma catalog is empty")
	}

	byID := make(map[string]int, len(file.Aromas))
	for i, aroma := range file.Aromas {
		if aroma.ID == "" {
			return nil, fmt.Errorf("aroma at index %d has empty id", i)
		}
		if _, dup := byID[aroma.ID]; dup {
			return nil, fmt.Errorf("duplicate aroma id %q", aroma.ID)
		}
		switch aroma.Difficulty {
		case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		default:
			return nil, fmt.Errorf("aroma %q has unknown difficulty %q", aroma.ID, aroma.Difficulty)
		}
		byID[aroma.ID] = i
	}
	for _, aroma := range file.Aromas {
		for _, partner := range aroma.BlendWell {
			if _, ok := byID[partner]; !ok {
				return nil, fmt.Errorf("aroma %q blends with unknown aroma %q", aroma.ID, partner)
			}
		}
	}
	for _, blend := range file.Blends {
		if blend.ID == "" {
			return nil, fmt.Errorf("blend %q has empty id", blend.Name)
		}
		for _, item := range blend.Recipe {
			if _, ok := byID[item.AromaID]; !ok {
				return nil, fmt.Errorf("blend %q references unknown aroma %q", blend.ID, item.AromaID)
			}
			if item.Drops <= 0 {
				return nil, fmt.Errorf("blend %q has non-positive drop count for %q", blend.ID, item.AromaID)
			}
		}
	}

	return &Catalog{
		aromas: file.Aromas,
		blends: file.Blends,
		byID:   byID,
	}, nil
}

// Aromas returns all entries in catalog order.
func (c *Catalog) Aromas() []Aroma {
	return c.aromas
}

// Blends returns all blend recipes in catalog order.
func (c *Catalog) Blends() []BlendRecipe {
	return c.blends
}

func (c *Catalog) ByID(id string) (Aroma, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Aroma{}, false
	}
	return c.aromas[idx], true
}

func (c *Catalog) Len() int {
	return len(c.aromas)
}
