package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/blocks"
	"github.com/tillskottskollen/extractor/pkg/config"
	"github.com/tillskottskollen/extractor/pkg/ingredients"
	"github.com/tillskottskollen/extractor/pkg/normalizer"
	"github.com/tillskottskollen/extractor/pkg/ranker"
	"github.com/tillskottskollen/extractor/pkg/units"
	"github.com/tillskottskollen/extractor/pkg/vision"
)

// Stage names one fallback step. The audit trail records every stage that
// ran, in order.
type Stage string

const (
	StageModel   Stage = "model_normalization"
	StagePattern Stage = "pattern_fallback"
	StageVision  Stage = "vision_fallback"
	StageUser    Stage = "partial_with_user_input"
	StageMinimal Stage = "minimal_structure"
)

// Page bundles everything the fallback chain needs about one fetched page.
type Page struct {
	URL     string
	Meta    blocks.PageMeta
	Ranking ranker.Ranking
	Pattern *models.PatternResult
}

// Machine runs the ordered fallback chain over one page. Each stage either
// produces an acceptable record or demotes to the next. Any partial record
// terminates as success false with user prompts; the minimal structure is
// reserved for pages where nothing was extractable.
type Machine struct {
	Normalizer *normalizer.Normalizer
	Vision     *vision.Client
	Catalog    *ingredients.Catalog
	Thresholds config.Thresholds
	Log        zerolog.Logger
}

// Run executes the chain. The returned result is never nil and always
// carries the audit trail; callers branch on Success.
func (m *Machine) Run(ctx context.Context, page Page) *models.ExtractionResult {
	result := &models.ExtractionResult{
		URL:           page.URL,
		FallbacksUsed: []string{},
	}

	rec := m.runModel(ctx, page, result)
	if m.accept(result, rec, models.SourceModel) {
		return result
	}

	patternRec := m.runPattern(page, result)
	rec = better(rec, patternRec)
	if m.accept(result, rec, models.SourcePattern) {
		return result
	}

	if visionRec := m.runVision(ctx, page, rec, result); visionRec != nil {
		rec = visionRec
		if m.accept(result, rec, models.SourceVision) {
			return result
		}
	}

	if rec != nil {
		if comp, missing := Completeness(rec); comp > 0 {
			result.FallbacksUsed = append(result.FallbacksUsed, string(StageUser))
			m.finalize(result, rec, models.SourceUser, false)
			result.UserInputNeeded = m.prompts(page, missing)
			return result
		}
	}

	result.FallbacksUsed = append(result.FallbacksUsed, string(StageMinimal))
	m.finalize(result, minimalRecord(page), models.SourceMinimal, false)
	return result
}

// accept finalizes the result when the record's completeness reaches the
// acceptance threshold.
func (m *Machine) accept(result *models.ExtractionResult, rec *models.SupplementRecord, src models.Source) bool {
	if rec == nil {
		return false
	}
	comp, _ := Completeness(rec)
	if comp < m.Thresholds.AcceptConfidence {
		return false
	}
	m.finalize(result, rec, src, true)
	return true
}

// finalize freezes the result: record, completeness, missing fields, both
// views and the primary-cardinality warnings.
func (m *Machine) finalize(result *models.ExtractionResult, rec *models.SupplementRecord, src models.Source, success bool) {
	comp, missing := Completeness(rec)
	result.Success = success
	result.Source = src
	result.Record = rec
	result.Completeness = comp
	result.MissingFields = missing
	if rec != nil {
		ensurePrimary(rec)
		switch n := rec.PrimaryCount(); {
		case n == 0 && len(rec.ActiveIngredients) > 0:
			result.Warnings = append(result.Warnings, "no primary ingredient identified")
		case n > 2:
			result.Warnings = append(result.Warnings, fmt.Sprintf("%d ingredients flagged primary, expected at most two", n))
		}
		result.Structured = rec.ToStructured()
	}
	m.Log.Info().
		Str("source", string(src)).
		Int("completeness", comp).
		Strs("fallbacks", result.FallbacksUsed).
		Bool("success", success).
		Msg("extraction finished")
}

func (m *Machine) runModel(ctx context.Context, page Page, result *models.ExtractionResult) *models.SupplementRecord {
	result.FallbacksUsed = append(result.FallbacksUsed, string(StageModel))
	if m.Normalizer == nil {
		return nil
	}
	rec, err := m.Normalizer.Normalize(ctx, page.Ranking.All(), page.Pattern, page.Ranking.BlockCounts())
	if err != nil {
		m.Log.Warn().Str("stage", string(StageModel)).Err(err).Msg("model normalization failed, demoting")
		return nil
	}
	return rec
}

// runPattern materializes a record straight from the pattern matches, with
// no model in the loop.
func (m *Machine) runPattern(page Page, result *models.ExtractionResult) *models.SupplementRecord {
	result.FallbacksUsed = append(result.FallbacksUsed, string(StagePattern))
	p := page.Pattern
	if p == nil {
		return nil
	}

	rec := &models.SupplementRecord{Name: p.ProductName}
	if rec.Name == "" {
		rec.Name = page.Meta.Title
	}
	if p.Price != nil {
		rec.PriceSEK = *p.Price
	}
	if best := bestQuantity(p.Quantities); best > 0 {
		rec.TotalServings = best
	}
	if len(p.ServingSizes) > 0 {
		rec.ServingSize = bestRaw(p.ServingSizes)
	}
	if m.Catalog != nil {
		rec.ActiveIngredients = m.Catalog.Canonicalize(p.Ingredients, "pattern")
	}
	rec.Confidence = averageConfidence(p)
	return rec
}

// runVision re-analyzes the top nutrition-bearing block when text extraction
// left ingredients or serving size missing. Other gaps never trigger vision.
func (m *Machine) runVision(ctx context.Context, page Page, rec *models.SupplementRecord, result *models.ExtractionResult) *models.SupplementRecord {
	if m.Vision == nil {
		return nil
	}
	_, missing := Completeness(rec)
	var wanted []models.Field
	for _, f := range missing {
		if f == models.FieldIngredients || f == models.FieldServingSize || f == models.FieldServings {
			wanted = append(wanted, f)
		}
	}
	if !hasField(wanted, models.FieldIngredients) && !hasField(wanted, models.FieldServingSize) {
		return nil
	}

	target := page.Ranking.Top(models.CategoryNutritional)
	if target == nil {
		target = page.Ranking.Top(models.CategoryIngredient)
	}
	if target == nil && page.Meta.Image == "" {
		return nil
	}

	result.FallbacksUsed = append(result.FallbacksUsed, string(StageVision))
	markup := ""
	if target != nil {
		markup = target.RawMarkup
		if markup == "" {
			markup = target.Text
		}
	}
	partial, err := m.Vision.Analyze(ctx, markup, page.Meta.Image, wanted)
	if err != nil {
		m.Log.Warn().Str("stage", string(StageVision)).Err(err).Msg("vision fallback failed, demoting")
		return nil
	}

	if rec == nil {
		rec = &models.SupplementRecord{Name: page.Meta.Title}
	}
	merged := *rec
	if partial.TotalServings != nil && merged.TotalServings == 0 {
		merged.TotalServings = *partial.TotalServings
	}
	if partial.ServingSize != nil && merged.ServingSize == "" {
		merged.ServingSize = strings.TrimSpace(*partial.ServingSize)
	}
	if len(merged.ActiveIngredients) == 0 && len(partial.Ingredients) > 0 && m.Catalog != nil {
		merged.ActiveIngredients = m.Catalog.Canonicalize(partial.Ingredients, "vision")
	}
	if partial.Confidence > merged.Confidence {
		merged.Confidence = partial.Confidence
	}
	return &merged
}

// prompts builds one user prompt per missing field, each with a best-effort
// suggestion from the highest-scoring related block.
func (m *Machine) prompts(page Page, missing []models.Field) []models.UserPrompt {
	out := make([]models.UserPrompt, 0, len(missing))
	for _, f := range missing {
		p := models.UserPrompt{Field: f}
		switch f {
		case models.FieldName:
			p.Prompt = "Enter the product name"
			p.Suggestion = page.Meta.Title
		case models.FieldPrice:
			p.Prompt = "Enter the price in SEK"
			p.Suggestion = topBlockText(page.Ranking, models.CategoryPrice)
		case models.FieldServings:
			p.Prompt = "Enter the number of servings per container"
			p.Suggestion = topBlockText(page.Ranking, models.CategoryQuantity)
		case models.FieldServingSize:
			p.Prompt = "Enter the serving size, e.g. 15 g"
			p.Suggestion = topBlockText(page.Ranking, models.CategoryDosage)
		case models.FieldIngredients, models.FieldDosage:
			p.Prompt = "List active ingredients as 'name: amount unit', separated by commas"
			p.Suggestion = topBlockText(page.Ranking, models.CategoryIngredient)
			if p.Suggestion == "" {
				p.Suggestion = topBlockText(page.Ranking, models.CategoryNutritional)
			}
		}
		out = append(out, p)
	}
	return out
}

// ApplyUserInput merges user-entered field values into a partial result and
// revalidates it. Ingredient input follows the 'name: amount unit' grammar.
func (m *Machine) ApplyUserInput(result *models.ExtractionResult, inputs map[models.Field]string) *models.ExtractionResult {
	rec := result.Record
	if rec == nil {
		rec = &models.SupplementRecord{}
	}
	for f, raw := range inputs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		switch f {
		case models.FieldName:
			rec.Name = raw
		case models.FieldPrice:
			if v, ok := parseNumber(raw); ok {
				rec.PriceSEK = v
			}
		case models.FieldServings:
			if v, ok := parseNumber(raw); ok {
				rec.TotalServings = int(v)
			}
		case models.FieldServingSize:
			rec.ServingSize = raw
		case models.FieldIngredients, models.FieldDosage:
			if parsed := ingredients.ParseUserList(raw, m.Catalog); len(parsed) > 0 {
				rec.ActiveIngredients = parsed
			}
		}
	}
	result.FallbacksUsed = append(result.FallbacksUsed, string(StageUser))
	result.UserInputNeeded = nil
	comp, _ := Completeness(rec)
	m.finalize(result, rec, models.SourceUser, comp >= m.Thresholds.AcceptConfidence)
	return result
}

// minimalRecord is the terminal guaranteed structure: a name from whatever
// the page offered and nothing else.
func minimalRecord(page Page) *models.SupplementRecord {
	name := strings.TrimSpace(page.Meta.Title)
	if name == "" {
		if u, err := url.Parse(page.URL); err == nil {
			name = u.Host
		}
	}
	return &models.SupplementRecord{Name: name}
}

// ensurePrimary flags the highest-dosage included ingredient when none is
// primary yet.
func ensurePrimary(rec *models.SupplementRecord) {
	if rec.PrimaryCount() > 0 {
		return
	}
	best := -1
	for i, ing := range rec.ActiveIngredients {
		if !ing.Included || units.Unit(ing.Unit) == units.IU {
			continue
		}
		if best == -1 || ing.DosageMg > rec.ActiveIngredients[best].DosageMg {
			best = i
		}
	}
	if best >= 0 {
		rec.ActiveIngredients[best].Primary = true
	}
}

// better keeps the more complete of two candidate records, preferring the
// earlier stage on ties.
func better(a, b *models.SupplementRecord) *models.SupplementRecord {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	compA, _ := Completeness(a)
	compB, _ := Completeness(b)
	if compB > compA {
		return b
	}
	return a
}

func bestQuantity(cands []models.Candidate) int {
	var best *models.Candidate
	for i := range cands {
		if best == nil || cands[i].BlockScore > best.BlockScore {
			best = &cands[i]
		}
	}
	if best == nil {
		return 0
	}
	return int(best.Value)
}

func bestRaw(cands []models.Candidate) string {
	var best *models.Candidate
	for i := range cands {
		if best == nil || cands[i].BlockScore > best.BlockScore {
			best = &cands[i]
		}
	}
	if best == nil {
		return ""
	}
	return best.Raw
}

func averageConfidence(p *models.PatternResult) int {
	if len(p.Confidence) == 0 {
		return 0
	}
	sum := 0
	for _, c := range p.Confidence {
		sum += c
	}
	return sum / len(p.Confidence)
}

func topBlockText(rk ranker.Ranking, cat models.Category) string {
	top := rk.Top(cat)
	if top == nil {
		return ""
	}
	text := top.Text
	if len(text) > 120 {
		text = text[:120]
	}
	return text
}

func hasField(fields []models.Field, f models.Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "kr"))
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	return v, err == nil && v > 0
}
