// Package vision re-analyzes a single targeted page region through a
// vision-capable model when text extraction left ingredients or serving
// size missing. The prompt is scoped to the missing fields only.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tillskottskollen/extractor/models"
	"github.com/tillskottskollen/extractor/pkg/llm"
)

const systemMessage = "You read supplement nutrition panels. Respond with strict JSON only containing exactly the requested fields. Schema: {\"total_servings\": integer|null, \"serving_size\": string|null, \"ingredients\": [{\"name\": string, \"amount\": number, \"unit\": string}], \"confidence\": integer 0..100}. Omit fields that were not requested."

// Partial is the field-scoped reply: only the requested fields are set.
type Partial struct {
	TotalServings *int                         `json:"total_servings,omitempty"`
	ServingSize   *string                      `json:"serving_size,omitempty"`
	Ingredients   []models.IngredientCandidate `json:"-"`
	Confidence    int                          `json:"confidence"`
}

type wirePartial struct {
	TotalServings *int    `json:"total_servings"`
	ServingSize   *string `json:"serving_size"`
	Ingredients   []struct {
		Name   string  `json:"name"`
		Amount float64 `json:"amount"`
		Unit   string  `json:"unit"`
	} `json:"ingredients"`
	Confidence int `json:"confidence"`
}

// Client calls the vision endpoint.
type Client struct {
	LLM   llm.Client
	Model string
}

// Analyze sends the targeted block markup (and the product image when the
// page exposes one) with a prompt scoped to the missing fields.
func (c *Client) Analyze(ctx context.Context, htmlBlock, imageURL string, missing []models.Field) (*Partial, error) {
	if c.LLM == nil || c.Model == "" {
		return nil, errors.New("vision client not configured")
	}
	if len(missing) == 0 {
		return nil, errors.New("no fields requested")
	}

	prompt := buildPrompt(htmlBlock, missing)
	message := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if imageURL != "" {
		message.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
		}
	} else {
		message.Content = prompt
	}

	resp, err := c.LLM.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			message,
		},
		Temperature: 0,
		N:           1,
	})
	if err != nil {
		return nil, fmt.Errorf("vision call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices")
	}

	var wire wirePartial
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("parse vision json: %w", err)
	}

	partial := &Partial{
		TotalServings: wire.TotalServings,
		ServingSize:   wire.ServingSize,
		Confidence:    wire.Confidence,
	}
	for _, ing := range wire.Ingredients {
		if strings.TrimSpace(ing.Name) == "" || ing.Amount <= 0 {
			continue
		}
		partial.Ingredients = append(partial.Ingredients, models.IngredientCandidate{
			Name:   ing.Name,
			Amount: ing.Amount,
			Unit:   ing.Unit,
		})
	}
	return partial, nil
}

func buildPrompt(htmlBlock string, missing []models.Field) string {
	names := make([]string, 0, len(missing))
	for _, f := range missing {
		names = append(names, string(f))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract only these fields: %s.\n", strings.Join(names, ", "))
	sb.WriteString("Page region markup:\n")
	if len(htmlBlock) > 4000 {
		htmlBlock = htmlBlock[:4000]
	}
	sb.WriteString(htmlBlock)
	return sb.String()
}
