// Package ranker scores semantic blocks against the five field classes and
// buckets them by category. Scoring is additive and deterministic so the
// same page always ranks the same way.
package ranker

import (
	"regexp"
	"sort"
	"strings"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/config"
)

const (
	// Per-distinct-keyword score within the assigned class.
	keywordPoints = 3.0
	// Numeric density contributes at most this much.
	numericDensityCap = 15.0
	// Per unit-bearing numeric token, e.g. "250 mg".
	unitTokenPoints = 5.0
	// Per keyword matched inside a class/id-style attribute.
	attributePoints = 8.0
	// Each category bucket keeps at most this many blocks.
	bucketSize = 5
)

// kindBase gives structured kinds a head start; tables score highest since
// structured data is likeliest there.
var kindBase = map[models.BlockKind]float64{
	models.BlockTable:     20,
	models.BlockHeading:   12,
	models.BlockList:      10,
	models.BlockContainer: 8,
	models.BlockParagraph: 6,
	models.BlockSpan:      4,
}

var unitToken = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s*(mg|mcg|µg|ug|g|iu|ie|kr|%)\b`)
var numericToken = regexp.MustCompile(`\d`)

// Ranker scores blocks against the configured keyword classes. Keywords are
// compiled once with word boundaries so "kr" never matches inside "kreatin".
type Ranker struct {
	keywords map[models.Category][]*regexp.Regexp
}

// New builds a ranker from the extraction tables.
func New(tables *config.Tables) *Ranker {
	compiled := make(map[models.Category][]*regexp.Regexp, len(tables.Keywords))
	for cat, words := range tables.Keywords {
		for _, kw := range words {
			compiled[cat] = append(compiled[cat],
				regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
		}
	}
	return &Ranker{keywords: compiled}
}

// Ranking is the ranker's output: per-category buckets, each truncated to
// the top five blocks and ordered by descending score.
type Ranking struct {
	Buckets map[models.Category][]models.RankedBlock
}

// Rank scores and buckets the block set.
func (r *Ranker) Rank(blocks []models.SemanticBlock) Ranking {
	ranking := Ranking{Buckets: make(map[models.Category][]models.RankedBlock)}
	for _, b := range blocks {
		rb := r.score(b)
		ranking.Buckets[rb.Category] = append(ranking.Buckets[rb.Category], rb)
	}
	for cat, bucket := range ranking.Buckets {
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].Score > bucket[j].Score
		})
		if len(bucket) > bucketSize {
			bucket = bucket[:bucketSize]
		}
		ranking.Buckets[cat] = bucket
	}
	return ranking
}

// score computes one block's category and additive score. Categorization is
// mutually exclusive: the first category in priority order with a keyword
// hit wins.
func (r *Ranker) score(b models.SemanticBlock) models.RankedBlock {
	text := b.Text
	attrs := b.Attributes

	category := models.CategoryOther
	var distinctHits, attrHits int
	for _, cat := range models.CategoryPriority {
		hits, inAttrs := matchKeywords(r.keywords[cat], text, attrs)
		if hits > 0 || inAttrs > 0 {
			category = cat
			distinctHits = hits
			attrHits = inAttrs
			break
		}
	}

	breakdown := models.ScoreBreakdown{
		KindBase:       kindBase[b.Kind],
		KeywordPoints:  keywordPoints * float64(distinctHits),
		NumericDensity: numericDensity(text),
		UnitTokens:     unitTokenPoints * float64(len(unitToken.FindAllString(b.Text, -1))),
		AttributeHits:  attributePoints * float64(attrHits),
	}

	return models.RankedBlock{
		SemanticBlock: b,
		Score: breakdown.KindBase + breakdown.KeywordPoints +
			breakdown.NumericDensity + breakdown.UnitTokens + breakdown.AttributeHits,
		Category:  category,
		Breakdown: breakdown,
	}
}

func matchKeywords(keywords []*regexp.Regexp, text, attrs string) (textHits, attrHits int) {
	for _, kw := range keywords {
		if kw.MatchString(text) {
			textHits++
		}
		if attrs != "" && kw.MatchString(attrs) {
			attrHits++
		}
	}
	return textHits, attrHits
}

// numericDensity awards up to numericDensityCap points proportional to the
// share of tokens that carry digits.
func numericDensity(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	numeric := 0
	for _, f := range fields {
		if numericToken.MatchString(f) {
			numeric++
		}
	}
	points := float64(numeric) / float64(len(fields)) * 2 * numericDensityCap
	if points > numericDensityCap {
		points = numericDensityCap
	}
	return points
}

// Bucket returns the ranked blocks for one category.
func (rk Ranking) Bucket(cat models.Category) []models.RankedBlock {
	return rk.Buckets[cat]
}

// Top returns the highest-scoring block in a category, nil when empty.
func (rk Ranking) Top(cat models.Category) *models.RankedBlock {
	bucket := rk.Buckets[cat]
	if len(bucket) == 0 {
		return nil
	}
	return &bucket[0]
}

// All returns every ranked block across buckets ordered by descending score.
func (rk Ranking) All() []models.RankedBlock {
	var all []models.RankedBlock
	for _, bucket := range rk.Buckets {
		all = append(all, bucket...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})
	return all
}

// BlockCounts reports bucket sizes, used to bound the model prompt.
func (rk Ranking) BlockCounts() map[models.Category]int {
	out := make(map[models.Category]int, len(rk.Buckets))
	for cat, bucket := range rk.Buckets {
		out[cat] = len(bucket)
	}
	return out
}
