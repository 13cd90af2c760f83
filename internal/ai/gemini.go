package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Request carries the reconciled deal facts submitted for validation.
type Request struct {
	ASIN          string
	Title         string
	CurrentPrice  *float64
	OriginalPrice *float64
	DiscountPct   *float64
	Currency      string
}

// Result is the structured validation verdict.
type Result struct {
	Approved  bool   `json:"approved"`
	Reasoning string `json:"reasoning"`
	ReviewES  string `json:"review_es"`
	ReviewEN  string `json:"review_en"`
}

type Client struct {
	model *genai.GenerativeModel

	mu    sync.Mutex
	cache map[string]Result
}

func NewClient(ctx context.Context, apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, nil // Return nil client if no key provided
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelID)
	model.SetTemperature(0.1) // Low temperature for deterministic output
	model.ResponseMIMEType = "application/json"

	// Define the schema for Structured Outputs
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"approved": {
				Type:        genai.TypeBoolean,
				Description: "True if the price and discount are plausible for the product and the deal is worth publishing. False for suspicious prices, inflated reference prices or junk listings.",
			},
			"reasoning": {
				Type:        genai.TypeString,
				Description: "One short sentence explaining the verdict.",
			},
			"review_es": {
				Type:        genai.TypeString,
				Description: "A one-sentence Spanish blurb describing why the product is attractive at this price.",
			},
			"review_en": {
				Type:        genai.TypeString,
				Description: "The same blurb in English.",
			},
		},
		Required: []string{"approved", "reasoning", "review_es", "review_en"},
	}

	return &Client{model: model, cache: make(map[string]Result)}, nil
}

// ValidateDeal asks the model whether the reconciled deal looks legitimate.
// Verdicts are memoized per ASIN and price pair, so re-running a batch does
// not re-bill identical deals.
func (c *Client) ValidateDeal(ctx context.Context, req Request) (Result, error) {
	if c == nil || c.model == nil {
		return Result{}, fmt.Errorf("client not configured")
	}

	key := cacheKey(req)
	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	prompt := fmt.Sprintf(`
Evaluate this Amazon deal:
ASIN: %s
Title: %q
Current price: %s
Reference price: %s
Discount: %s

Task:
1. Decide if the deal is legitimate and worth publishing to a deals channel. Reject implausibly cheap electronics, inflated reference prices and accessory listings masquerading as the main product.
2. Write a one-sentence buyer-facing blurb in Spanish and in English.

Output JSON adhering to the schema.
`, req.ASIN, req.Title, formatPrice(req.CurrentPrice, req.Currency), formatPrice(req.OriginalPrice, req.Currency), formatPct(req.DiscountPct))

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Result{}, fmt.Errorf("gemini generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, fmt.Errorf("no response candidates from gemini")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		txt, ok := part.(genai.Text)
		if !ok {
			continue
		}
		// Clean up potential markdown formatting just in case
		jsonStr := strings.TrimSpace(string(txt))
		jsonStr = strings.TrimPrefix(jsonStr, "```json")
		jsonStr = strings.TrimPrefix(jsonStr, "```")
		jsonStr = strings.TrimSuffix(jsonStr, "```")

		var result Result
		if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
			return Result{}, fmt.Errorf("failed to parse gemini response: %w", err)
		}

		c.mu.Lock()
		c.cache[key] = result
		c.mu.Unlock()
		return result, nil
	}

	return Result{}, fmt.Errorf("no text part in response")
}

func cacheKey(req Request) string {
	return fmt.Sprintf("%s|%s|%s", req.ASIN, formatPrice(req.CurrentPrice, ""), formatPrice(req.OriginalPrice, ""))
}

func formatPrice(v *float64, currency string) string {
	if v == nil {
		return "unknown"
	}
	if currency == "" {
		return fmt.Sprintf("%.2f", *v)
	}
	return fmt.Sprintf("%.2f %s", *v, currency)
}

func formatPct(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.0f%%", *v)
}
