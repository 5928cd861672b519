// Package pipeline validates extraction output and runs the fallback chain:
// model normalization first, then pattern-only records, then targeted vision
// re-analysis, then a partial record with user prompts, and finally a minimal
// structure. The chain is strictly ordered and terminates after at most five
// stages.
package pipeline

import (
	"strings"

	"github.com/tillskottskollen/extractor/models"
)

// fieldPresent reports whether one required field holds a usable value.
func fieldPresent(rec *models.SupplementRecord, f models.Field) bool {
	if rec == nil {
		return false
	}
	switch f {
	case models.FieldName:
		return len(strings.TrimSpace(rec.Name)) >= 3
	case models.FieldPrice:
		return rec.PriceSEK > 0
	case models.FieldServings:
		return rec.TotalServings > 0
	case models.FieldServingSize:
		return strings.TrimSpace(rec.ServingSize) != ""
	case models.FieldIngredients:
		for _, ing := range rec.ActiveIngredients {
			if ing.Included {
				return true
			}
		}
		return false
	case models.FieldDosage:
		for _, ing := range rec.ActiveIngredients {
			if ing.Included && ing.DosageMg > 0 {
				return true
			}
		}
		return false
	}
	return false
}

// Completeness scores a record as the percentage of required fields present,
// and lists the missing ones in contract order.
func Completeness(rec *models.SupplementRecord) (int, []models.Field) {
	present := 0
	var missing []models.Field
	for _, f := range models.RequiredFields {
		if fieldPresent(rec, f) {
			present++
		} else {
			missing = append(missing, f)
		}
	}
	return present * 100 / len(models.RequiredFields), missing
}

// mergeMissing copies fields from src into dst only where dst lacks them.
// Present fields are never overwritten, so completeness is monotone across
// fallback stages.
func mergeMissing(dst, src *models.SupplementRecord) {
	if dst == nil || src == nil {
		return
	}
	if !fieldPresent(dst, models.FieldName) && fieldPresent(src, models.FieldName) {
		dst.Name = src.Name
	}
	if !fieldPresent(dst, models.FieldPrice) && fieldPresent(src, models.FieldPrice) {
		dst.PriceSEK = src.PriceSEK
	}
	if !fieldPresent(dst, models.FieldServings) && fieldPresent(src, models.FieldServings) {
		dst.TotalServings = src.TotalServings
	}
	if !fieldPresent(dst, models.FieldServingSize) && fieldPresent(src, models.FieldServingSize) {
		dst.ServingSize = src.ServingSize
	}
	if !fieldPresent(dst, models.FieldIngredients) && fieldPresent(src, models.FieldIngredients) {
		dst.ActiveIngredients = src.ActiveIngredients
	}
	if dst.ProductType == "" {
		dst.ProductType = src.ProductType
	}
}
