package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/blocks"
	"github.com/tillskottskollen/extractor/pkg/config"
	"github.com/tillskottskollen/extractor/pkg/ingredients"
	"github.com/tillskottskollen/extractor/pkg/normalizer"
	"github.com/tillskottskollen/extractor/pkg/vision"
)

type stubLLM struct {
	content string
	err     error
	calls   int
}

func (s *stubLLM) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func testMachine(t *testing.T, model, visionStub *stubLLM) (*Machine, *config.Tables) {
	t.Helper()
	tables, err := config.Default()
	if err != nil {
		t.Fatalf("load tables: %v", err)
	}
	catalog := ingredients.NewCatalog(tables)
	m := &Machine{
		Catalog:    catalog,
		Thresholds: tables.Thresholds,
		Log:        zerolog.Nop(),
	}
	if model != nil {
		m.Normalizer = &normalizer.Normalizer{Client: model, Model: "text", Catalog: catalog}
	}
	if visionStub != nil {
		m.Vision = &vision.Client{LLM: visionStub, Model: "vision"}
	}
	return m, tables
}

const fullModelReply = `{
  "name": "Pre-Workout Fury",
  "price_sek": 249,
  "total_servings": 30,
  "serving_size": "15 g",
  "active_ingredients": [{"name": "Koffein", "amount": 200, "unit": "mg"}],
  "product_type": "pre-workout",
  "confidence": 88
}`

func TestModelAcceptedFirst(t *testing.T) {
	m, _ := testMachine(t, &stubLLM{content: fullModelReply}, nil)

	res := m.Run(context.Background(), Page{Pattern: &models.PatternResult{}})
	if !res.Success || res.Source != models.SourceModel {
		t.Fatalf("success=%v source=%s", res.Success, res.Source)
	}
	if res.Completeness != 100 {
		t.Errorf("completeness = %d", res.Completeness)
	}
	if len(res.FallbacksUsed) != 1 || res.FallbacksUsed[0] != string(StageModel) {
		t.Errorf("fallbacks = %v", res.FallbacksUsed)
	}
}

func fullPattern() *models.PatternResult {
	price := 249.0
	return &models.PatternResult{
		ProductName: "Pre-Workout Fury",
		Price:       &price,
		Quantities:  []models.Candidate{{Raw: "30 portioner", Value: 30, BlockScore: 40}},
		ServingSizes: []models.Candidate{
			{Raw: "15 g", Value: 15, BlockScore: 40},
		},
		Ingredients: []models.IngredientCandidate{
			{Name: "Koffein", Amount: 200, Unit: "mg", BlockScore: 40},
		},
		Confidence: map[models.Field]int{
			models.FieldName:        90,
			models.FieldPrice:       90,
			models.FieldServings:    85,
			models.FieldServingSize: 85,
			models.FieldIngredients: 90,
		},
	}
}

func TestDemotesToPattern(t *testing.T) {
	m, _ := testMachine(t, &stubLLM{err: errors.New("model down")}, nil)

	res := m.Run(context.Background(), Page{Pattern: fullPattern()})
	if !res.Success || res.Source != models.SourcePattern {
		t.Fatalf("success=%v source=%s missing=%v", res.Success, res.Source, res.MissingFields)
	}
	want := []string{string(StageModel), string(StagePattern)}
	if len(res.FallbacksUsed) != 2 || res.FallbacksUsed[0] != want[0] || res.FallbacksUsed[1] != want[1] {
		t.Errorf("fallbacks = %v", res.FallbacksUsed)
	}
}

const visionReply = `{
  "total_servings": null,
  "serving_size": "15 g",
  "ingredients": [{"name": "Koffein", "amount": 200, "unit": "mg"}],
  "confidence": 85
}`

func TestVisionFillsMissingPanel(t *testing.T) {
	visionStub := &stubLLM{content: visionReply}
	m, _ := testMachine(t, &stubLLM{err: errors.New("model down")}, visionStub)

	// Text layers found identity and price but no nutrition panel.
	price := 249.0
	p := &models.PatternResult{
		ProductName: "Pre-Workout Fury",
		Price:       &price,
		Quantities:  []models.Candidate{{Raw: "30 portioner", Value: 30, BlockScore: 40}},
		Confidence: map[models.Field]int{
			models.FieldName:  90,
			models.FieldPrice: 90,
		},
	}
	page := Page{
		Pattern: p,
		Meta:    blocks.PageMeta{Image: "https://example.com/label.jpg"},
	}
	res := m.Run(context.Background(), page)

	if visionStub.calls != 1 {
		t.Fatalf("vision calls = %d", visionStub.calls)
	}
	if !res.Success || res.Source != models.SourceVision {
		t.Fatalf("success=%v source=%s missing=%v", res.Success, res.Source, res.MissingFields)
	}
	if res.Completeness != 100 {
		t.Errorf("completeness = %d", res.Completeness)
	}
	// Earlier fields survive the merge.
	if res.Record.Name != "Pre-Workout Fury" || res.Record.PriceSEK != 249 {
		t.Errorf("record = %+v", res.Record)
	}
	if res.Record.ServingSize != "15 g" || len(res.Record.ActiveIngredients) != 1 {
		t.Errorf("vision fields not merged: %+v", res.Record)
	}
}

func TestAcceptsFiveOfSixWithoutVision(t *testing.T) {
	visionStub := &stubLLM{content: visionReply}
	m, _ := testMachine(t, &stubLLM{err: errors.New("model down")}, visionStub)

	p := fullPattern()
	p.Price = nil // only price missing: 83% completeness clears the bar
	res := m.Run(context.Background(), Page{Pattern: p})

	if visionStub.calls != 0 {
		t.Fatalf("vision called %d times for a price gap", visionStub.calls)
	}
	if !res.Success || res.Source != models.SourcePattern {
		t.Fatalf("success=%v source=%s completeness=%d", res.Success, res.Source, res.Completeness)
	}
	if res.Completeness != 83 {
		t.Errorf("completeness = %d", res.Completeness)
	}
	if len(res.MissingFields) != 1 || res.MissingFields[0] != models.FieldPrice {
		t.Errorf("missing = %v", res.MissingFields)
	}
}

func TestPartialRecordTerminatesWithPrompts(t *testing.T) {
	m, _ := testMachine(t, &stubLLM{err: errors.New("model down")}, nil)

	// Identity and container size matched, nothing from the nutrition panel.
	price := 249.0
	p := &models.PatternResult{
		ProductName: "Pre-Workout Fury",
		Price:       &price,
		Quantities:  []models.Candidate{{Raw: "30 portioner", Value: 30, BlockScore: 40}},
		Confidence: map[models.Field]int{
			models.FieldName:  90,
			models.FieldPrice: 90,
		},
	}
	res := m.Run(context.Background(), Page{Pattern: p})

	if res.Success {
		t.Error("prompts pending, result must not claim success")
	}
	if res.Source != models.SourceUser {
		t.Fatalf("source = %s", res.Source)
	}
	if res.Completeness != 50 {
		t.Errorf("completeness = %d", res.Completeness)
	}
	// The partial record survives instead of being replaced by a minimal one.
	if res.Record == nil || res.Record.Name != "Pre-Workout Fury" || res.Record.PriceSEK != 249 || res.Record.TotalServings != 30 {
		t.Errorf("record = %+v", res.Record)
	}
	want := []string{string(StageModel), string(StagePattern), string(StageUser)}
	if len(res.FallbacksUsed) != 3 || res.FallbacksUsed[2] != want[2] {
		t.Errorf("fallbacks = %v", res.FallbacksUsed)
	}
	if len(res.UserInputNeeded) != 3 || res.UserInputNeeded[0].Field != models.FieldServingSize {
		t.Errorf("prompts = %+v", res.UserInputNeeded)
	}
}

func TestMinimalStructureOnTotalFailure(t *testing.T) {
	m, _ := testMachine(t, nil, nil)

	res := m.Run(context.Background(), Page{
		URL:  "https://example.com/p/1",
		Meta: blocks.PageMeta{Title: "Unknown Product"},
	})
	if res.Success {
		t.Error("minimal structure must not claim success")
	}
	if res.Source != models.SourceMinimal {
		t.Errorf("source = %s", res.Source)
	}
	if res.Record == nil || res.Record.Name != "Unknown Product" {
		t.Errorf("record = %+v", res.Record)
	}
	if len(res.FallbacksUsed) > 5 {
		t.Errorf("fallback chain too long: %v", res.FallbacksUsed)
	}
	last := res.FallbacksUsed[len(res.FallbacksUsed)-1]
	if last != string(StageMinimal) {
		t.Errorf("chain must terminate at minimal, got %v", res.FallbacksUsed)
	}
}

func TestApplyUserInput(t *testing.T) {
	m, _ := testMachine(t, &stubLLM{err: errors.New("model down")}, nil)

	p := fullPattern()
	p.Price = nil
	p.Quantities = nil
	res := m.Run(context.Background(), Page{Pattern: p})
	if res.Success || res.Source != models.SourceUser || len(res.UserInputNeeded) != 2 {
		t.Fatalf("setup: success=%v source=%s prompts=%v", res.Success, res.Source, res.UserInputNeeded)
	}

	res = m.ApplyUserInput(res, map[models.Field]string{
		models.FieldPrice:    "249 kr",
		models.FieldServings: "30",
	})
	if !res.Success || res.Completeness != 100 {
		t.Fatalf("success=%v completeness=%d", res.Success, res.Completeness)
	}
	if res.Record.PriceSEK != 249 || res.Record.TotalServings != 30 {
		t.Errorf("record = %+v", res.Record)
	}
	if len(res.UserInputNeeded) != 0 {
		t.Errorf("prompts not cleared: %v", res.UserInputNeeded)
	}
}

func TestApplyUserInputIngredientList(t *testing.T) {
	m, _ := testMachine(t, nil, nil)

	res := &models.ExtractionResult{
		Record: &models.SupplementRecord{
			Name: "Sleep Formula", PriceSEK: 199, TotalServings: 60, ServingSize: "1 kapsel",
		},
	}
	res = m.ApplyUserInput(res, map[models.Field]string{
		models.FieldIngredients: "Melatonin: 1 mg, Magnesium: 200 mg",
	})
	if !res.Success {
		t.Fatalf("success=%v completeness=%d", res.Success, res.Completeness)
	}
	ings := res.Record.ActiveIngredients
	if len(ings) != 2 || ings[0].Key != "melatonin" || !ings[0].Primary {
		t.Errorf("ingredients = %+v", ings)
	}
}

func TestPrimaryCardinalityWarnings(t *testing.T) {
	m, _ := testMachine(t, nil, nil)

	mg := func(key string, dosage float64, primary bool) models.Ingredient {
		return models.Ingredient{Key: key, DisplayName: key, DosageMg: dosage, Unit: "mg", Included: true, Primary: primary}
	}
	tests := []struct {
		name        string
		ingredients []models.Ingredient
		warnings    int
	}{
		{"one primary", []models.Ingredient{mg("caffeine", 200, true)}, 0},
		{"two primaries", []models.Ingredient{mg("caffeine", 200, true), mg("taurine", 1000, true)}, 0},
		{"three primaries", []models.Ingredient{mg("caffeine", 200, true), mg("taurine", 1000, true), mg("creatine", 3000, true)}, 1},
		{"only unconvertible doses", []models.Ingredient{
			{Key: "vitamin-d3", DisplayName: "Vitamin D3", DosageMg: 2000, Unit: "IU", Included: true},
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &models.ExtractionResult{}
			rec := &models.SupplementRecord{Name: "X Y Z", ActiveIngredients: tt.ingredients}
			m.finalize(result, rec, models.SourcePattern, false)
			if len(result.Warnings) != tt.warnings {
				t.Errorf("warnings = %v, want %d", result.Warnings, tt.warnings)
			}
		})
	}
}

func TestCompleteness(t *testing.T) {
	full := &models.SupplementRecord{
		Name: "X Y Z", PriceSEK: 100, TotalServings: 30, ServingSize: "15 g",
		ActiveIngredients: []models.Ingredient{{Key: "caffeine", DosageMg: 200, Included: true}},
	}
	tests := []struct {
		name    string
		mutate  func(r *models.SupplementRecord)
		percent int
		missing models.Field
	}{
		{"all present", func(r *models.SupplementRecord) {}, 100, ""},
		{"no price", func(r *models.SupplementRecord) { r.PriceSEK = 0 }, 83, models.FieldPrice},
		{"no servings", func(r *models.SupplementRecord) { r.TotalServings = 0 }, 83, models.FieldServings},
		{"excluded ingredient", func(r *models.SupplementRecord) {
			r.ActiveIngredients[0].Included = false
		}, 66, models.FieldIngredients},
		{"zero dosage", func(r *models.SupplementRecord) {
			r.ActiveIngredients[0].DosageMg = 0
		}, 83, models.FieldDosage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := *full
			rec.ActiveIngredients = []models.Ingredient{full.ActiveIngredients[0]}
			tt.mutate(&rec)
			comp, missing := Completeness(&rec)
			if comp != tt.percent {
				t.Errorf("completeness = %d, want %d", comp, tt.percent)
			}
			if tt.missing != "" {
				if len(missing) == 0 || missing[0] != tt.missing {
					t.Errorf("missing = %v, want %s first", missing, tt.missing)
				}
			} else if len(missing) != 0 {
				t.Errorf("missing = %v", missing)
			}
		})
	}
}
