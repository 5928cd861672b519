package patterns

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tillskottskollen/extractor/models"
)

// Fixed bonus a heading-element name candidate gets over candidates matched
// through generic markup attributes.
const headingNameBonus = 15.0

// Confidence is a monotone function of match presence and the winning
// block's score: confidenceBase + score, capped by the configured field cap.
const confidenceBase = 30

var oldPriceMarker = regexp.MustCompile(`(?i)(old|gammal|ord\.?[-_ ]?pris|strike|line-through|<del|<s>)`)
var nameAttrMarker = regexp.MustCompile(`(?i)(product[-_]?name|produktnamn|\btitle\b|\bname\b)`)

// Extract runs every pattern family over the ranked blocks. All matches are
// retained with their source block's score; field winners are chosen by
// highest contributing block score, never by match order.
func (e *Extractor) Extract(blocks []models.RankedBlock) *models.PatternResult {
	res := &models.PatternResult{Confidence: make(map[models.Field]int)}
	if len(blocks) == 0 {
		return res
	}

	order := e.localeOrder(sampleText(blocks))
	res.Locale = order[0]

	var priceCands []models.Candidate
	var nameCands []models.Candidate
	seenIngredients := make(map[string]int)

	for _, rb := range blocks {
		for _, locale := range order {
			f := e.families[locale]
			priceCands = append(priceCands, e.matchPrice(f, rb)...)
			res.Dosages = append(res.Dosages, matchValueUnit(f.dosage, rb)...)
			res.Quantities = append(res.Quantities, matchValueUnit(f.quantity, rb)...)
			res.ServingSizes = append(res.ServingSizes, matchServingSize(f.servingSize, rb)...)
			e.matchIngredients(f, rb, res, seenIngredients)
		}
		nameCands = append(nameCands, nameCandidates(rb)...)
	}

	if winner := bestCandidate(priceCands); winner != nil {
		res.Price = &winner.Value
		res.Confidence[models.FieldPrice] = e.confidence(winner.BlockScore)
	}
	if winner := bestCandidate(nameCands); winner != nil {
		res.ProductName = winner.Raw
		res.Confidence[models.FieldName] = e.confidence(winner.BlockScore)
	}
	if winner := bestCandidate(res.Quantities); winner != nil {
		res.Confidence[models.FieldServings] = e.confidence(winner.BlockScore)
	}
	if winner := bestCandidate(res.ServingSizes); winner != nil {
		res.Confidence[models.FieldServingSize] = e.confidence(winner.BlockScore)
	}
	if len(res.Dosages) > 0 {
		res.Confidence[models.FieldDosage] = e.confidence(bestCandidate(res.Dosages).BlockScore)
	}
	if len(res.Ingredients) > 0 {
		best := res.Ingredients[0].BlockScore
		for _, ing := range res.Ingredients[1:] {
			if ing.BlockScore > best {
				best = ing.BlockScore
			}
		}
		res.Confidence[models.FieldIngredients] = e.confidence(best)
	}
	return res
}

// matchPrice extracts price candidates, rejecting blocks that carry
// strikethrough or old-price styling.
func (e *Extractor) matchPrice(f *family, rb models.RankedBlock) []models.Candidate {
	if oldPriceMarker.MatchString(rb.Attributes) || oldPriceMarker.MatchString(rb.RawMarkup) {
		return nil
	}
	var out []models.Candidate
	for _, re := range f.price {
		for _, m := range re.FindAllStringSubmatch(rb.Text, -1) {
			if v, ok := parseNumber(m[1]); ok && v > 0 {
				out = append(out, models.Candidate{Raw: strings.TrimSpace(m[0]), Value: v, BlockScore: rb.Score})
			}
		}
	}
	return out
}

func matchValueUnit(res []*regexp.Regexp, rb models.RankedBlock) []models.Candidate {
	var out []models.Candidate
	for _, re := range res {
		for _, m := range re.FindAllStringSubmatch(rb.Text, -1) {
			v, ok := parseNumber(m[1])
			if !ok {
				continue
			}
			c := models.Candidate{Raw: strings.TrimSpace(m[0]), Value: v, BlockScore: rb.Score}
			if len(m) > 2 {
				c.Unit = strings.ToLower(m[2])
			}
			out = append(out, c)
		}
	}
	return out
}

func matchServingSize(res []*regexp.Regexp, rb models.RankedBlock) []models.Candidate {
	var out []models.Candidate
	for _, re := range res {
		for _, m := range re.FindAllStringSubmatch(rb.Text, -1) {
			phrase := strings.TrimSpace(m[1])
			if phrase == "" {
				continue
			}
			c := models.Candidate{Raw: phrase, BlockScore: rb.Score}
			if v, ok := leadingNumber(phrase); ok {
				c.Value = v
			}
			out = append(out, c)
		}
	}
	return out
}

// matchIngredients collects name+amount pairs and delimited ingredient
// lists, deduplicating by lowercase name and keeping the higher block score.
func (e *Extractor) matchIngredients(f *family, rb models.RankedBlock, res *models.PatternResult, seen map[string]int) {
	add := func(cand models.IngredientCandidate) {
		key := strings.ToLower(strings.TrimSpace(cand.Name))
		if len(key) < 3 {
			return
		}
		if idx, ok := seen[key]; ok {
			if cand.BlockScore > res.Ingredients[idx].BlockScore {
				res.Ingredients[idx] = cand
			}
			return
		}
		seen[key] = len(res.Ingredients)
		res.Ingredients = append(res.Ingredients, cand)
	}

	for _, re := range f.ingredient {
		for _, m := range re.FindAllStringSubmatch(rb.Text, -1) {
			amount, ok := parseNumber(m[2])
			if !ok {
				continue
			}
			add(models.IngredientCandidate{
				Name:       strings.TrimSpace(m[1]),
				Amount:     amount,
				Unit:       strings.ToLower(m[3]),
				BlockScore: rb.Score,
			})
		}
	}
	for _, re := range f.ingredientList {
		for _, m := range re.FindAllStringSubmatch(rb.Text, -1) {
			for _, part := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ';' }) {
				name := strings.TrimSpace(part)
				if name == "" {
					continue
				}
				add(models.IngredientCandidate{Name: name, BlockScore: rb.Score})
			}
		}
	}
}

// nameCandidates produces product-name candidates. Headings get a fixed
// bonus over generic attribute matches.
func nameCandidates(rb models.RankedBlock) []models.Candidate {
	var out []models.Candidate
	text := strings.TrimSpace(rb.Text)
	if len(text) < 3 || len(text) > 120 {
		return nil
	}
	if rb.Kind == models.BlockHeading {
		out = append(out, models.Candidate{Raw: text, BlockScore: rb.Score + headingNameBonus})
	} else if nameAttrMarker.MatchString(rb.Attributes) {
		out = append(out, models.Candidate{Raw: text, BlockScore: rb.Score})
	}
	return out
}

func bestCandidate(cands []models.Candidate) *models.Candidate {
	var best *models.Candidate
	for i := range cands {
		if best == nil || cands[i].BlockScore > best.BlockScore {
			best = &cands[i]
		}
	}
	return best
}

func (e *Extractor) confidence(blockScore float64) int {
	conf := confidenceBase + int(blockScore)
	if conf > e.fieldCap {
		conf = e.fieldCap
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	return v, err == nil
}

var leadingNum = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)`)

func leadingNumber(s string) (float64, bool) {
	m := leadingNum.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	return parseNumber(m[1])
}

func sampleText(blocks []models.RankedBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.Text)
		sb.WriteString(" ")
		if sb.Len() > 2000 {
			break
		}
	}
	return sb.String()
}
