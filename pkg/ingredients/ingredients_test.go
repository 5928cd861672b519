package ingredients

import (
	"testing"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/config"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	tables, err := config.Default()
	if err != nil {
		t.Fatalf("load default tables: %v", err)
	}
	return NewCatalog(tables)
}

func TestLookup(t *testing.T) {
	c := testCatalog(t)

	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantOK  bool
	}{
		{"swedish caffeine", "Koffein", "caffeine", true},
		{"anhydrous caffeine", "Koffein vattenfri", "caffeine", true},
		{"embedded synonym", "Grönt te-extrakt (40% EGCG)", "green-tea-extract", true},
		{"english creatine", "Creatine Monohydrate", "creatine", true},
		{"swedish zinc", "Zink", "zinc", true},
		{"unknown", "Unicorn dust", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, _, ok := c.Lookup(tt.raw)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Errorf("Lookup(%q) = (%q, %v), want (%q, %v)", tt.raw, key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	c := testCatalog(t)

	cands := []models.IngredientCandidate{
		{Name: "Koffein", Amount: 200, Unit: "mg", BlockScore: 40},
		{Name: "Kreatin", Amount: 3, Unit: "g", BlockScore: 38},
		{Name: "Vitamin D3", Amount: 2000, Unit: "iu", BlockScore: 20},
		{Name: "Koffein vattenfri", Amount: 150, Unit: "mg", BlockScore: 10}, // duplicate key, lower dose
		{Name: "Mystery blend", Amount: 500, Unit: "mg", BlockScore: 5},
	}
	got := c.Canonicalize(cands, "pattern")

	if len(got) != 4 {
		t.Fatalf("got %d ingredients, want 4 (duplicate caffeine merged): %+v", len(got), got)
	}
	if got[0].Key != "caffeine" || got[0].DosageMg != 200 {
		t.Errorf("caffeine = %+v, want key caffeine dosage 200", got[0])
	}
	if got[1].Key != "creatine" || got[1].DosageMg != 3000 {
		t.Errorf("creatine grams not converted: %+v", got[1])
	}
	if got[2].Key != "vitamin-d" || got[2].Unit != "IU" || got[2].DosageMg != 2000 {
		t.Errorf("IU should pass through tagged: %+v", got[2])
	}
	if got[3].Key != "" || got[3].DisplayName != "Mystery blend" {
		t.Errorf("unknown ingredient should keep display form: %+v", got[3])
	}
}

func TestParseUserList(t *testing.T) {
	c := testCatalog(t)

	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"mixed separators", "Koffein: 200 mg; Kreatin: 3 g, Taurin 1000", 3},
		{"empty", "", 0},
		{"garbage segment skipped", "Koffein: 200 mg, just words", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUserList(tt.input, c)
			if len(got) != tt.want {
				t.Fatalf("ParseUserList(%q) = %d entries, want %d", tt.input, len(got), tt.want)
			}
		})
	}
}

func TestParseUserListDetails(t *testing.T) {
	c := testCatalog(t)
	got := ParseUserList("Koffein: 200 mg; Kreatin: 3 g, Taurin 1000", c)
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	if !got[0].Primary {
		t.Error("first entry must be primary")
	}
	if got[1].Primary || got[2].Primary {
		t.Error("only the first entry may be primary")
	}
	if got[1].DosageMg != 3000 {
		t.Errorf("grams not converted: %v", got[1].DosageMg)
	}
	if got[2].DosageMg != 1000 {
		t.Errorf("default unit should be mg: %v", got[2].DosageMg)
	}
	if got[2].Key != "taurine" {
		t.Errorf("taurin should canonicalize: %q", got[2].Key)
	}
}
