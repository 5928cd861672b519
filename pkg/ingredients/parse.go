package ingredients

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/units"
)

// segmentPattern matches one "name: amount unit" segment. The colon is
// optional; the unit defaults to mg when absent.
var segmentPattern = regexp.MustCompile(`(?i)^\s*([^:\d]+?)\s*:?\s*(\d+(?:[.,]\d+)?)\s*(mg|mcg|µg|ug|g|iu|ie)?\s*$`)

// ParseUserList parses a free-text ingredient list entered by a user, split
// on commas and semicolons. The first parsed entry is marked primary.
func ParseUserList(input string, catalog *Catalog) []models.Ingredient {
	var out []models.Ingredient
	for _, segment := range splitSegments(input) {
		m := segmentPattern.FindStringSubmatch(segment)
		if m == nil {
			continue
		}
		amount, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", "."), 64)
		if err != nil {
			continue
		}
		unit := m[3]
		if unit == "" {
			unit = "mg"
		}
		key, display, ok := catalog.Lookup(m[1])
		if !ok {
			display = strings.TrimSpace(m[1])
		}
		mg, tag := normalizeAmount(amount, unit)
		ing := models.Ingredient{
			Key:         key,
			DisplayName: display,
			DosageMg:    mg,
			Included:    true,
			Primary:     len(out) == 0,
			Sources:     []string{"user"},
		}
		if tag != "mg" {
			ing.Unit = tag
		}
		out = append(out, ing)
	}
	return out
}

func splitSegments(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeAmount(value float64, rawUnit string) (float64, string) {
	mg, tag := units.ToMilligrams(value, units.Parse(rawUnit))
	return mg, string(tag)
}
