package ranker

import (
	"fmt"
	"testing"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/config"
)

func testRanker(t *testing.T) *Ranker {
	t.Helper()
	tables, err := config.Default()
	if err != nil {
		t.Fatalf("load default tables: %v", err)
	}
	return New(tables)
}

func TestCategorization(t *testing.T) {
	r := testRanker(t)

	tests := []struct {
		name string
		b    models.SemanticBlock
		want models.Category
	}{
		{
			"price span",
			models.SemanticBlock{Kind: models.BlockSpan, Text: "249 kr", Attributes: "product-price"},
			models.CategoryPrice,
		},
		{
			"ingredient list",
			models.SemanticBlock{Kind: models.BlockList, Text: "Ingredienser: koffein, kreatin, taurin"},
			models.CategoryIngredient,
		},
		{
			"dosage paragraph",
			models.SemanticBlock{Kind: models.BlockParagraph, Text: "Rekommenderad dosering: 200 mg per portion"},
			models.CategoryDosage,
		},
		{
			"quantity text",
			models.SemanticBlock{Kind: models.BlockParagraph, Text: "Burken innehåller 90 kapslar totalt, antal per förpackning"},
			models.CategoryQuantity,
		},
		{
			"nutrition table",
			models.SemanticBlock{Kind: models.BlockTable, Text: "Näringsvärde energi 45 kcal fett 0 g"},
			models.CategoryNutritional,
		},
		{
			"unrelated",
			models.SemanticBlock{Kind: models.BlockParagraph, Text: "Fri frakt över 500 spänn och snabb leverans"},
			models.CategoryOther,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Rank([]models.SemanticBlock{tt.b})
			for cat, bucket := range got.Buckets {
				if len(bucket) > 0 && cat != tt.want {
					t.Errorf("categorized as %q, want %q", cat, tt.want)
				}
			}
		})
	}
}

// Price outranks ingredient in the fixed priority order; a block matching
// both must land in the price bucket.
func TestCategoryPriorityTieBreak(t *testing.T) {
	r := testRanker(t)
	b := models.SemanticBlock{
		Kind: models.BlockParagraph,
		Text: "Pris 249 kr för burken med ingredienser som koffein",
	}
	got := r.Rank([]models.SemanticBlock{b})
	if len(got.Bucket(models.CategoryPrice)) != 1 {
		t.Fatalf("block not in price bucket: %+v", got.Buckets)
	}
}

func TestBucketTruncationInvariant(t *testing.T) {
	r := testRanker(t)
	var blocks []models.SemanticBlock
	for i := 0; i < 25; i++ {
		blocks = append(blocks, models.SemanticBlock{
			Kind: models.BlockParagraph,
			Text: fmt.Sprintf("Pris %d kr för produkt nummer %d i sortimentet", 100+i, i),
		})
	}
	got := r.Rank(blocks)
	for cat, bucket := range got.Buckets {
		if len(bucket) > 5 {
			t.Errorf("bucket %q holds %d blocks, max is 5", cat, len(bucket))
		}
		for i := 1; i < len(bucket); i++ {
			if bucket[i].Score > bucket[i-1].Score {
				t.Errorf("bucket %q not sorted descending at %d", cat, i)
			}
		}
	}
}

func TestTableScoresAboveParagraph(t *testing.T) {
	r := testRanker(t)
	blocks := []models.SemanticBlock{
		{Kind: models.BlockTable, Text: "Ingrediens koffein 200 mg kreatin 3 g"},
		{Kind: models.BlockParagraph, Text: "Ingrediens koffein 200 mg kreatin 3 g"},
	}
	got := r.Rank(blocks)
	bucket := got.Bucket(models.CategoryIngredient)
	if len(bucket) != 2 {
		t.Fatalf("expected both blocks in ingredient bucket, got %+v", got.Buckets)
	}
	if bucket[0].Kind != models.BlockTable {
		t.Errorf("table should outrank paragraph: %+v", bucket)
	}
}

func TestAttributeKeywordBonus(t *testing.T) {
	r := testRanker(t)
	blocks := []models.SemanticBlock{
		{Kind: models.BlockSpan, Text: "249 kr", Attributes: "price"},
		{Kind: models.BlockSpan, Text: "249 kr"},
	}
	got := r.Rank(blocks)
	bucket := got.Bucket(models.CategoryPrice)
	if len(bucket) != 2 {
		t.Fatalf("want both spans in price bucket, got %+v", got.Buckets)
	}
	if bucket[0].Attributes != "price" {
		t.Errorf("attribute-tagged span should rank first")
	}
	if bucket[0].Breakdown.AttributeHits == 0 {
		t.Errorf("attribute hit not scored: %+v", bucket[0].Breakdown)
	}
}
