package models

import "strings"

// Ingredient is the canonical per-serving ingredient representation. Dosage
// is always milligrams except when Unit is "IU", which passes through
// unconverted with the tag visible to callers.
type Ingredient struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name"`
	DosageMg    float64  `json:"dosage_mg"`
	Unit        string   `json:"unit,omitempty"` // "IU" when not converted
	Included    bool     `json:"is_included"`
	Primary     bool     `json:"is_primary,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// SupplementRecord is the canonical pipeline output.
type SupplementRecord struct {
	Name              string       `json:"name"`
	PriceSEK          float64      `json:"price_sek"`
	TotalServings     int          `json:"total_servings"`
	ServingSize       string       `json:"serving_size"`
	ActiveIngredients []Ingredient `json:"active_ingredients"`
	ProductType       string       `json:"product_type,omitempty"`
	Confidence        int          `json:"confidence"` // 0..100
}

// PrimaryCount reports how many ingredients are flagged primary. Valid
// records carry exactly one; zero or more than two is a validation warning.
func (r *SupplementRecord) PrimaryCount() int {
	n := 0
	for _, ing := range r.ActiveIngredients {
		if ing.Primary {
			n++
		}
	}
	return n
}

// IngredientEntry is the site-extractor-native view of one table row.
type IngredientEntry struct {
	DisplayName string  `json:"display_name"`
	AmountMg    float64 `json:"amount_mg"`
	Unit        string  `json:"unit,omitempty"`
	RowLabel    string  `json:"row_label,omitempty"`
}

// ExtractionMeta records which structural signals and fallback tiers fired
// during a site-specific extraction, so the reported confidence is auditable.
type ExtractionMeta struct {
	TableFound    bool   `json:"table_found"`
	TableClass    string `json:"table_class,omitempty"` // nutritional or supplement
	PriceSelector string `json:"price_selector,omitempty"`
	QuantityTier  string `json:"quantity_tier,omitempty"` // header, metadata, default
	Confidence    int    `json:"confidence"`
}

// StructuredSupplementData is the richer record produced by site-specific
// extractors. It and SupplementRecord are two views of the same entity; the
// mapping is lossless in both directions for ingredients with a known key.
type StructuredSupplementData struct {
	ProductName          string                     `json:"product_name"`
	PriceSEK             float64                    `json:"price_sek,omitempty"`
	ServingSize          string                     `json:"serving_size"`
	ServingsPerContainer int                        `json:"servings_per_container"`
	Ingredients          map[string]IngredientEntry `json:"ingredients"`
	Unrecognized         []string                   `json:"unrecognized_ingredients,omitempty"`
	TotalCaffeineMg      float64                    `json:"total_caffeine_mg,omitempty"`
	ProductType          string                     `json:"product_type,omitempty"`
	Meta                 ExtractionMeta             `json:"extraction_metadata"`
}

// ToRecord converts the site-extractor view into the canonical record.
func (s *StructuredSupplementData) ToRecord() *SupplementRecord {
	rec := &SupplementRecord{
		Name:          s.ProductName,
		PriceSEK:      s.PriceSEK,
		TotalServings: s.ServingsPerContainer,
		ServingSize:   s.ServingSize,
		ProductType:   s.ProductType,
		Confidence:    s.Meta.Confidence,
	}
	var best *Ingredient
	for key, entry := range s.Ingredients {
		ing := Ingredient{
			Key:         key,
			DisplayName: entry.DisplayName,
			DosageMg:    entry.AmountMg,
			Unit:        entry.Unit,
			Included:    true,
			Sources:     []string{"site"},
		}
		rec.ActiveIngredients = append(rec.ActiveIngredients, ing)
		last := &rec.ActiveIngredients[len(rec.ActiveIngredients)-1]
		// IU values are unconverted and must not outrank mg doses.
		if strings.EqualFold(last.Unit, "IU") {
			continue
		}
		if best == nil || last.DosageMg > best.DosageMg {
			best = last
		}
	}
	if best != nil {
		best.Primary = true
	}
	return rec
}

// ToStructured converts the canonical record back into the site-extractor
// view. Only ingredients with a key survive the round trip; keyless ones are
// reported as unrecognized.
func (r *SupplementRecord) ToStructured() *StructuredSupplementData {
	s := &StructuredSupplementData{
		ProductName:          r.Name,
		PriceSEK:             r.PriceSEK,
		ServingSize:          r.ServingSize,
		ServingsPerContainer: r.TotalServings,
		Ingredients:          make(map[string]IngredientEntry, len(r.ActiveIngredients)),
		ProductType:          r.ProductType,
		Meta:                 ExtractionMeta{Confidence: r.Confidence},
	}
	for _, ing := range r.ActiveIngredients {
		if ing.Key == "" {
			s.Unrecognized = append(s.Unrecognized, ing.DisplayName)
			continue
		}
		s.Ingredients[ing.Key] = IngredientEntry{
			DisplayName: ing.DisplayName,
			AmountMg:    ing.DosageMg,
			Unit:        ing.Unit,
		}
		if ing.Key == "caffeine" {
			s.TotalCaffeineMg = ing.DosageMg
		}
	}
	return s
}
