// Package ingredients canonicalizes ingredient names onto stable keys and
// parses free-text ingredient lists supplied by users completing a partial
// extraction.
package ingredients

import (
	"sort"
	"strings"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/config"
)

// Catalog resolves Swedish and English ingredient spellings to canonical
// keys. Lookup is longest-synonym-first so "koffein vattenfri" wins over
// "koffein" when both occur in a label.
type Catalog struct {
	exact    map[string]entry
	ordered  []string // synonyms sorted by descending length, for Contains matching
	displays map[string]string
}

type entry struct {
	key     string
	display string
}

// NewCatalog builds a catalog from the synonym tables.
func NewCatalog(tables *config.Tables) *Catalog {
	c := &Catalog{
		exact:    make(map[string]entry),
		displays: make(map[string]string),
	}
	for _, syn := range tables.Synonyms {
		c.displays[syn.Key] = syn.Display
		for _, name := range syn.Names {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			c.exact[name] = entry{key: syn.Key, display: syn.Display}
			c.ordered = append(c.ordered, name)
		}
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		return len(c.ordered[i]) > len(c.ordered[j])
	})
	return c
}

// Lookup resolves a raw label to a canonical key and display name. A label
// matches by exact form first, then by containing a known synonym.
func (c *Catalog) Lookup(raw string) (key, display string, ok bool) {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == "" {
		return "", "", false
	}
	if e, found := c.exact[label]; found {
		return e.key, e.display, true
	}
	for _, name := range c.ordered {
		if strings.Contains(label, name) {
			e := c.exact[name]
			return e.key, e.display, true
		}
	}
	return "", "", false
}

// Display returns the display name for a canonical key, falling back to the
// key itself.
func (c *Catalog) Display(key string) string {
	if d, ok := c.displays[key]; ok {
		return d
	}
	return key
}

// Canonicalize converts raw ingredient candidates into canonical Ingredients
// with milligram dosages. Unrecognized names keep their display form with an
// empty key so the caller can report them.
func (c *Catalog) Canonicalize(cands []models.IngredientCandidate, source string) []models.Ingredient {
	out := make([]models.Ingredient, 0, len(cands))
	seen := make(map[string]int)
	for _, cand := range cands {
		key, display, ok := c.Lookup(cand.Name)
		if !ok {
			display = strings.TrimSpace(cand.Name)
		}
		mg, unit := normalizeAmount(cand.Amount, cand.Unit)
		ing := models.Ingredient{
			Key:         key,
			DisplayName: display,
			DosageMg:    mg,
			Included:    true,
			Sources:     []string{source},
		}
		if unit != "mg" {
			ing.Unit = unit
		}
		// Keep the higher dosage when the same key appears twice.
		if key != "" {
			if idx, dup := seen[key]; dup {
				if ing.DosageMg > out[idx].DosageMg {
					out[idx].DosageMg = ing.DosageMg
					out[idx].Unit = ing.Unit
				}
				continue
			}
			seen[key] = len(out)
		}
		out = append(out, ing)
	}
	return out
}
