package sites

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/config"
	"github.com/tillskottskollen/extractor/pkg/ingredients"
	"github.com/tillskottskollen/extractor/pkg/units"
)

// tableParser holds the table-classification and dosage logic shared by all
// site extractors: every implementation must classify tables, convert doses
// to milligrams, aggregate caffeine and walk the container-size fallbacks
// the same way.
type tableParser struct {
	tables  *config.Tables
	catalog *ingredients.Catalog
}

func newTableParser(tables *config.Tables, catalog *ingredients.Catalog) *tableParser {
	return &tableParser{tables: tables, catalog: catalog}
}

var amountCell = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(mg|mcg|µg|ug|g|iu|ie)\b`)
var weightToken = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(kg|g)\b`)
var countToken = regexp.MustCompile(`(?i)(\d{1,4})\s*(kapslar|tabletter|caps|capsules|tablets|st)\b`)
var servingsToken = regexp.MustCompile(`(?i)(\d{1,4})\s*(portioner|servings|doser)\b`)
var priceToken = regexp.MustCompile(`(\d{1,5}(?:[.,]\d{1,2})?)`)
var strikeClass = regexp.MustCompile(`(?i)(strike|old|before|ord[-_ ]?pris|was[-_]price|line-through)`)

// classify labels a table by counting keyword hits per row label against the
// two disjoint keyword sets and taking the majority. A tie counts as macro
// data: nutrition facts are far more common than ingredient panels.
func (p *tableParser) classify(grid *models.TableGrid) TableClass {
	if grid == nil || len(grid.Rows) == 0 {
		return TableNone
	}
	macro, supplement := 0, 0
	for _, row := range grid.Rows {
		if len(row) == 0 {
			continue
		}
		label := strings.ToLower(row[0])
		if containsAny(label, p.tables.MacroRowKeywords) {
			macro++
		}
		if containsAny(label, p.tables.SupplementRowKeywords) {
			supplement++
		}
	}
	if macro == 0 && supplement == 0 {
		return TableNone
	}
	if supplement > macro {
		return TableSupplement
	}
	return TableNutritional
}

func containsAny(label string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(label, kw) {
			return true
		}
	}
	return false
}

// parseIngredients converts a supplement table's rows into canonical
// entries. Gram amounts at or above the macro cutoff are macro data and
// excluded; everything else is normalized to milligrams. Caffeine
// contributions (direct, blends, green-tea extract at its assumed fraction)
// are summed into one derived entry.
func (p *tableParser) parseIngredients(grid *models.TableGrid) (map[string]models.IngredientEntry, []string, float64) {
	entries := make(map[string]models.IngredientEntry)
	var unrecognized []string
	var caffeineMg float64

	for _, row := range grid.Rows {
		if len(row) < 2 {
			continue
		}
		label := strings.TrimSpace(row[0])
		if label == "" {
			continue
		}
		value, unit, ok := rowAmount(row[1:])
		if !ok {
			continue
		}
		if unit == units.Gram && value >= p.tables.Thresholds.MacroGramCutoff {
			// "5g of protein per scoop" is a macro, "3g of creatine" is
			// a dose; the cutoff separates them.
			continue
		}
		mg, tag := units.ToMilligrams(value, unit)

		key, display, known := p.catalog.Lookup(label)
		if !known {
			unrecognized = append(unrecognized, label)
			continue
		}
		entry := models.IngredientEntry{
			DisplayName: display,
			AmountMg:    mg,
			RowLabel:    label,
		}
		if tag != units.Milligram {
			entry.Unit = string(tag)
		}
		if existing, dup := entries[key]; !dup || mg > existing.AmountMg {
			entries[key] = entry
		}
		if fraction, contributes := p.tables.CaffeineFractions[key]; contributes && tag == units.Milligram {
			caffeineMg += mg * fraction
		}
	}

	if caffeineMg > 0 {
		entries["caffeine"] = models.IngredientEntry{
			DisplayName: p.catalog.Display("caffeine"),
			AmountMg:    caffeineMg,
			RowLabel:    "derived: caffeine total",
		}
	}
	return entries, unrecognized, caffeineMg
}

// rowAmount finds the first cell carrying an amount with a dosage unit.
func rowAmount(cells []string) (float64, units.Unit, bool) {
	for _, cell := range cells {
		m := amountCell.FindStringSubmatch(cell)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		return v, units.Parse(m[2]), true
	}
	return 0, units.Unknown, false
}

// price extracts a price from a selection, rejecting candidates that carry
// strikethrough or old-price styling.
func price(sel *goquery.Selection) (float64, bool) {
	var found float64
	var ok bool
	sel.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if isStruckThrough(s) {
			return true // keep looking
		}
		// Drop struck-through children so a campaign block's old price
		// never shadows the current one.
		clean := s.Clone()
		clean.Find("del,s,strike").Remove()
		m := priceToken.FindStringSubmatch(clean.Text())
		if m == nil {
			return true
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil || v <= 0 {
			return true
		}
		found, ok = v, true
		return false
	})
	return found, ok
}

// isStruckThrough walks the node and its ancestors for old-price markers.
func isStruckThrough(s *goquery.Selection) bool {
	for node := s; node.Length() > 0; node = node.Parent() {
		tag := goquery.NodeName(node)
		if tag == "del" || tag == "s" || tag == "strike" {
			return true
		}
		if class, _ := node.Attr("class"); strikeClass.MatchString(class) {
			return true
		}
		if style, _ := node.Attr("style"); strings.Contains(strings.ToLower(style), "line-through") {
			return true
		}
		if tag == "body" || tag == "html" {
			break
		}
	}
	return false
}

// containerSize resolves total servings, walking the fallback tiers when no
// explicit count is present: header weight text, then metadata weight
// fields, then the product-type default.
func (p *tableParser) containerSize(doc *goquery.Document, headerText string, servingGrams float64, productType string) (int, QuantityTier) {
	pageText := doc.Find("body").Text()

	if m := servingsToken.FindStringSubmatch(pageText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, TierExplicit
		}
	}

	if n := servingsFromWeightText(headerText, servingGrams); n > 0 {
		return n, TierHeader
	}
	if m := countToken.FindStringSubmatch(headerText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, TierHeader
		}
	}

	var metaWeight string
	doc.Find(`meta[itemprop="weight"], [data-weight]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if v, ok := s.Attr("content"); ok && v != "" {
			metaWeight = v
			return false
		}
		if v, ok := s.Attr("data-weight"); ok && v != "" {
			metaWeight = v
			return false
		}
		return true
	})
	if n := servingsFromWeightText(metaWeight, servingGrams); n > 0 {
		return n, TierMetadata
	}

	if n, ok := p.tables.DefaultQuantities[productType]; ok && n > 0 {
		return n, TierDefault
	}
	return p.tables.DefaultQuantities["default"], TierDefault
}

// servingsFromWeightText divides a container weight by the per-serving
// grams when both are known.
func servingsFromWeightText(text string, servingGrams float64) int {
	if text == "" || servingGrams <= 0 {
		return 0
	}
	m := weightToken.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v <= 0 {
		return 0
	}
	if strings.EqualFold(m[2], "kg") {
		v *= 1000
	}
	n := int(v / servingGrams)
	if n <= 0 {
		return 0
	}
	return n
}

// detectProductType keys the default-quantity fallback.
func detectProductType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "pre-workout") || strings.Contains(lower, "pre workout") || strings.Contains(lower, "pwo"):
		return "pre-workout"
	case strings.Contains(lower, "protein") || strings.Contains(lower, "whey") || strings.Contains(lower, "vassle"):
		return "protein"
	case strings.Contains(lower, "kreatin") || strings.Contains(lower, "creatine"):
		return "creatine"
	case strings.Contains(lower, "bcaa") || strings.Contains(lower, "eaa") || strings.Contains(lower, "amino"):
		return "amino"
	case strings.Contains(lower, "vitamin") || strings.Contains(lower, "mineral"):
		return "vitamin"
	case strings.Contains(lower, "fat burner") || strings.Contains(lower, "fettförbränning"):
		return "fat-burner"
	default:
		return "default"
	}
}

// confidenceFor scores a site extraction by which signals were present and
// which fallback tier fired.
func confidenceFor(tableFound bool, class TableClass, priceFound bool, tier QuantityTier) int {
	conf := 30
	if tableFound {
		conf += 25
		if class == TableSupplement {
			conf += 15
		}
	}
	if priceFound {
		conf += 15
	}
	switch tier {
	case TierExplicit:
		conf += 15
	case TierHeader:
		conf += 10
	case TierMetadata:
		conf += 5
	case TierDefault:
		// default quantity is a guess; no bonus
	}
	if conf > 100 {
		conf = 100
	}
	return conf
}
