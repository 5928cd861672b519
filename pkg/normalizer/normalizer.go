// Package normalizer builds a bounded prompt from ranked blocks plus the
// partial pattern record, invokes a text-completion service with a strict
// JSON-only contract, and validates the returned document against the
// required-field schema.
package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/ingredients"
	"github.com/tillskottskollen/extractor/pkg/llm"
	"github.com/tillskottskollen/extractor/pkg/units"
)

const (
	// Per-block text budget in the prompt; ranked blocks are already the
	// top five per category, so the prompt stays bounded.
	maxBlockChars = 400
	// Model output confidence is clamped to this range.
	maxConfidence = 100
)

const systemMessage = "You normalize dietary-supplement product data. Respond with strict JSON only, no narration. Schema: {\"name\": string, \"price_sek\": number, \"total_servings\": integer, \"serving_size\": string, \"active_ingredients\": [{\"name\": string, \"amount\": number, \"unit\": \"mg\"|\"g\"|\"mcg\"|\"IU\"}], \"product_type\": string, \"confidence\": integer 0..100}. Amounts are per serving. Use null for unknown scalar fields and [] for unknown ingredients. Swedish source text is common; translate ingredient names to their common form."

// Normalizer calls the text-completion endpoint and maps its reply onto the
// canonical record.
type Normalizer struct {
	Client  llm.Client
	Model   string
	Catalog *ingredients.Catalog
}

// wireRecord is the JSON document the model must return.
type wireRecord struct {
	Name              string           `json:"name"`
	PriceSEK          *float64         `json:"price_sek"`
	TotalServings     *int             `json:"total_servings"`
	ServingSize       *string          `json:"serving_size"`
	ActiveIngredients []wireIngredient `json:"active_ingredients"`
	ProductType       string           `json:"product_type"`
	Confidence        int              `json:"confidence"`
}

type wireIngredient struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// Normalize runs one completion call. Any transport, parse or schema failure
// is returned as an error so the orchestrator can demote instead of retry.
func (n *Normalizer) Normalize(ctx context.Context, blocks []models.RankedBlock, pattern *models.PatternResult, counts map[models.Category]int) (*models.SupplementRecord, error) {
	if n.Client == nil || n.Model == "" {
		return nil, errors.New("normalizer not configured")
	}

	prompt, err := buildPrompt(blocks, pattern, counts)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := n.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: n.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
		N:           1,
	})
	if err != nil {
		return nil, fmt.Errorf("normalizer call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	raw = stripFence(raw)
	var wire wireRecord
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("parse normalizer json: %w", err)
	}
	return n.toRecord(&wire)
}

// toRecord validates the wire document and enforces milligram normalization
// at the boundary.
func (n *Normalizer) toRecord(wire *wireRecord) (*models.SupplementRecord, error) {
	if len(strings.TrimSpace(wire.Name)) < 3 {
		return nil, errors.New("schema: name missing")
	}
	rec := &models.SupplementRecord{
		Name:        strings.TrimSpace(wire.Name),
		ProductType: wire.ProductType,
		Confidence:  clamp(wire.Confidence, 0, maxConfidence),
	}
	if wire.PriceSEK != nil && *wire.PriceSEK > 0 {
		rec.PriceSEK = *wire.PriceSEK
	}
	if wire.TotalServings != nil && *wire.TotalServings > 0 {
		rec.TotalServings = *wire.TotalServings
	}
	if wire.ServingSize != nil {
		rec.ServingSize = strings.TrimSpace(*wire.ServingSize)
	}

	cands := make([]models.IngredientCandidate, 0, len(wire.ActiveIngredients))
	for _, wi := range wire.ActiveIngredients {
		if strings.TrimSpace(wi.Name) == "" || wi.Amount < 0 {
			continue
		}
		cands = append(cands, models.IngredientCandidate{
			Name:   wi.Name,
			Amount: wi.Amount,
			Unit:   wi.Unit,
		})
	}
	rec.ActiveIngredients = n.Catalog.Canonicalize(cands, "model")
	markPrimary(rec)
	return rec, nil
}

// markPrimary flags the highest-dosage included ingredient when the model
// returned none, keeping the at-most-one invariant for model output.
func markPrimary(rec *models.SupplementRecord) {
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

// buildPrompt assembles the bounded user prompt: ranked block excerpts per
// category, the pattern extraction JSON and the block counts.
func buildPrompt(blocks []models.RankedBlock, pattern *models.PatternResult, counts map[models.Category]int) (string, error) {
	var sb strings.Builder
	sb.WriteString("Extract one supplement product from these page excerpts.\n")

	sb.WriteString("\nBlock counts:")
	for _, cat := range append(models.CategoryPriority, models.CategoryOther) {
		if c, ok := counts[cat]; ok && c > 0 {
			fmt.Fprintf(&sb, " %s=%d", cat, c)
		}
	}
	sb.WriteString("\n\nRanked blocks:\n")
	for _, b := range blocks {
		text := b.Text
		if len(text) > maxBlockChars {
			text = text[:maxBlockChars]
		}
		fmt.Fprintf(&sb, "- [%s/%s score=%.0f] %s\n", b.Category, b.Kind, b.Score, text)
	}

	patternJSON, err := json.Marshal(pattern)
	if err != nil {
		return "", err
	}
	sb.WriteString("\nPattern extraction so far:\n")
	sb.Write(patternJSON)
	sb.WriteString("\n")
	return sb.String(), nil
}

// stripFence tolerates models that wrap JSON in a markdown code fence.
func stripFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
