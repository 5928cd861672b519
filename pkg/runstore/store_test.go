package runstore

import (
	"testing"

	"github.com/tillskottskollen/extractor/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult() *models.ExtractionResult {
	return &models.ExtractionResult{
		Success:       true,
		Source:        models.SourceSite,
		Completeness:  100,
		FallbacksUsed: []string{},
		URL:           "https://www.gymgrossisten.com/pwo-fury",
		CorrelationID: "11111111-2222-3333-4444-555555555555",
		Record: &models.SupplementRecord{
			Name:          "Pre-Workout Fury",
			PriceSEK:      249,
			TotalServings: 30,
			ServingSize:   "15 g",
			ProductType:   "pre-workout",
			Confidence:    95,
			ActiveIngredients: []models.Ingredient{
				{Key: "caffeine", DisplayName: "Caffeine", DosageMg: 300, Included: true, Primary: false, Sources: []string{"site"}},
				{Key: "beta-alanine", DisplayName: "Beta-Alanine", DosageMg: 3200, Included: true, Primary: true, Sources: []string{"site"}},
			},
		},
	}
}

func TestSaveAndReadBack(t *testing.T) {
	s := openTestStore(t)

	runID, err := s.SaveResult(sampleResult())
	if err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if runID == 0 {
		t.Fatal("run id not assigned")
	}

	runs, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
	run := runs[0]
	if run.Name != "Pre-Workout Fury" || run.PriceSEK != 249 || !run.Success {
		t.Errorf("run = %+v", run)
	}
	if run.Source != "site" || run.Completeness != 100 {
		t.Errorf("run audit = %+v", run)
	}

	ings, err := s.Ingredients(runID)
	if err != nil {
		t.Fatalf("Ingredients: %v", err)
	}
	if len(ings) != 2 {
		t.Fatalf("ingredients = %d", len(ings))
	}
	// Ordered by descending dosage.
	if ings[0].Key != "beta-alanine" || !ings[0].Primary {
		t.Errorf("first ingredient = %+v", ings[0])
	}
	if ings[1].Sources[0] != "site" {
		t.Errorf("sources = %v", ings[1].Sources)
	}
}

func TestSaveFallbackAudit(t *testing.T) {
	s := openTestStore(t)

	res := sampleResult()
	res.Success = false
	res.Source = models.SourceMinimal
	res.FallbacksUsed = []string{"model_normalization", "pattern_fallback", "minimal_structure"}
	res.MissingFields = []models.Field{models.FieldPrice, models.FieldIngredients}
	res.Record = &models.SupplementRecord{Name: "Unknown"}

	if _, err := s.SaveResult(res); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	runs, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs[0].Fallbacks) != 3 || runs[0].Fallbacks[2] != "minimal_structure" {
		t.Errorf("fallbacks = %v", runs[0].Fallbacks)
	}
	if len(runs[0].MissingFields) != 2 || runs[0].MissingFields[0] != models.FieldPrice {
		t.Errorf("missing fields = %v", runs[0].MissingFields)
	}
}

func TestRecentLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		if _, err := s.SaveResult(sampleResult()); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	runs, err := s.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("runs = %d, want limit respected", len(runs))
	}
}
