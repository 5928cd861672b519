package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/config"
	"github.com/tillskottskollen/extractor/pkg/ingredients"
	"github.com/tillskottskollen/extractor/pkg/patterns"
	"github.com/tillskottskollen/extractor/pkg/ranker"
	"github.com/tillskottskollen/extractor/pkg/sites"
)

// fakeSite is a canned site adapter for orchestration tests.
type fakeSite struct {
	res   *sites.Result
	calls int
}

func (f *fakeSite) CanHandle(url string) bool {
	return strings.Contains(url, "known.example")
}

func (f *fakeSite) Extract(markup string) (*sites.Result, error) {
	f.calls++
	return f.res, nil
}

func (f *fakeSite) ToStructuredFormat(res *sites.Result) *models.StructuredSupplementData {
	return &models.StructuredSupplementData{
		ProductName:          res.ProductName,
		PriceSEK:             res.PriceSEK,
		ServingSize:          res.ServingSize,
		ServingsPerContainer: res.ServingsPerContainer,
		Ingredients:          res.Ingredients,
		Meta: models.ExtractionMeta{
			TableFound:   res.TableFound,
			TableClass:   string(res.TableClass),
			QuantityTier: string(res.QuantityTier),
			Confidence:   res.Confidence,
		},
	}
}

func testOrchestrator(t *testing.T, site *fakeSite, mode Mode) *Orchestrator {
	t.Helper()
	tables, err := config.Default()
	if err != nil {
		t.Fatalf("load tables: %v", err)
	}
	pats, err := patterns.New(tables)
	if err != nil {
		t.Fatalf("compile patterns: %v", err)
	}
	catalog := ingredients.NewCatalog(tables)
	return &Orchestrator{
		Registry: sites.NewRegistry(site),
		Ranker:   ranker.New(tables),
		Patterns: pats,
		Machine: &Machine{
			Catalog:    catalog,
			Thresholds: tables.Thresholds,
			Log:        zerolog.Nop(),
		},
		Thresholds: tables.Thresholds,
		Mode:       mode,
		Log:        zerolog.Nop(),
	}
}

func confidentSiteResult() *sites.Result {
	return &sites.Result{
		ProductName:          "Pre-Workout Fury",
		PriceSEK:             249,
		ServingSize:          "15 g",
		ServingsPerContainer: 30,
		Ingredients: map[string]models.IngredientEntry{
			"caffeine": {DisplayName: "Caffeine", AmountMg: 200},
		},
		TableFound:   true,
		TableClass:   sites.TableSupplement,
		QuantityTier: sites.TierExplicit,
		Confidence:   95,
	}
}

const productMarkup = `<html><head><title>PWO Fury</title></head><body>
<h1>PWO Fury</h1>
<span class="product-price">249 kr</span>
<p>Burken räcker till 30 portioner. Portionsstorlek: 15 g</p>
<p>Innehåll: Koffein: 200 mg, Taurin: 1 g</p>
</body></html>`

func TestSequentialSkipsLegacyOnConfidentSite(t *testing.T) {
	site := &fakeSite{res: confidentSiteResult()}
	o := testOrchestrator(t, site, ModeSequential)

	res := o.Extract(context.Background(), "https://known.example/p/1", productMarkup)
	if !res.Success || res.Source != models.SourceSite {
		t.Fatalf("success=%v source=%s", res.Success, res.Source)
	}
	if site.calls != 1 {
		t.Errorf("site calls = %d", site.calls)
	}
	if len(res.FallbacksUsed) != 0 {
		t.Errorf("legacy pipeline ran: %v", res.FallbacksUsed)
	}
	if res.CorrelationID == "" || res.URL != "https://known.example/p/1" {
		t.Errorf("audit fields: id=%q url=%q", res.CorrelationID, res.URL)
	}
	if res.Record.PrimaryCount() != 1 {
		t.Errorf("primary count = %d", res.Record.PrimaryCount())
	}
}

func TestSequentialMergesWeakSiteWithLegacy(t *testing.T) {
	weak := confidentSiteResult()
	weak.Confidence = 40
	weak.ProductName = ""
	weak.PriceSEK = 0
	site := &fakeSite{res: weak}
	o := testOrchestrator(t, site, ModeSequential)

	res := o.Extract(context.Background(), "https://known.example/p/1", productMarkup)
	if res.Record == nil {
		t.Fatal("no record")
	}
	// Identity from the legacy pipeline, ingredient panel from the site.
	if res.Record.Name != "PWO Fury" {
		t.Errorf("name = %q", res.Record.Name)
	}
	if res.Record.PriceSEK != 249 {
		t.Errorf("price = %v", res.Record.PriceSEK)
	}
	found := false
	for _, ing := range res.Record.ActiveIngredients {
		if ing.Key == "caffeine" && ing.DosageMg == 200 {
			found = true
		}
	}
	if !found {
		t.Errorf("site ingredients not merged: %+v", res.Record.ActiveIngredients)
	}
	if !res.Success {
		t.Errorf("merged record should succeed, completeness=%d missing=%v", res.Completeness, res.MissingFields)
	}
}

func TestParallelModeMerges(t *testing.T) {
	site := &fakeSite{res: confidentSiteResult()}
	o := testOrchestrator(t, site, ModeParallel)

	res := o.Extract(context.Background(), "https://known.example/p/1", productMarkup)
	if site.calls != 1 {
		t.Errorf("site calls = %d", site.calls)
	}
	if res.Record == nil || res.Completeness != 100 {
		t.Fatalf("completeness = %d", res.Completeness)
	}
	if !res.Success {
		t.Errorf("success = false, missing = %v", res.MissingFields)
	}
}

func TestUnknownSiteRunsLegacyOnly(t *testing.T) {
	site := &fakeSite{res: confidentSiteResult()}
	o := testOrchestrator(t, site, ModeSequential)

	res := o.Extract(context.Background(), "https://other.example/p/1", productMarkup)
	if site.calls != 0 {
		t.Errorf("site adapter called for unknown URL")
	}
	if res.Record == nil {
		t.Fatal("no record")
	}
	if res.Record.Name != "PWO Fury" {
		t.Errorf("name = %q", res.Record.Name)
	}
	if len(res.FallbacksUsed) == 0 {
		t.Error("legacy pipeline audit trail empty")
	}
}
