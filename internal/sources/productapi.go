package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chollohub/dealbot/internal/models"
	"github.com/chollohub/dealbot/internal/util"
)

// ProductClient queries the product metadata API for catalog data on a
// single ASIN. It is the highest-priority enrichment source.
type ProductClient interface {
	Fetch(ctx context.Context, asin, marketplace string) (models.SourceSignal, error)
}

type ProductAPIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	partnerTag string
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
}

func NewProductAPIClient(baseURL, apiKey, partnerTag string) *ProductAPIClient {
	return &ProductAPIClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		partnerTag: partnerTag,
		maxRetries: 3,
		retryBase:  2 * time.Second,
		retryMax:   10 * time.Second,
	}
}

type productItemRequest struct {
	ASIN        string `json:"asin"`
	Marketplace string `json:"marketplace"`
	PartnerTag  string `json:"partner_tag,omitempty"`
}

type productItemResponse struct {
	ASIN         string   `json:"asin"`
	Title        string   `json:"title"`
	Price        *float64 `json:"price"`
	ListPrice    *float64 `json:"list_price"`
	DiscountPct  *float64 `json:"discount_pct"`
	ImageURL     string   `json:"image_url"`
	Availability string   `json:"availability"`
	Rating       *float64 `json:"rating"`
	RatingCount  *int     `json:"rating_count"`
}

// Fetch retrieves catalog data for one ASIN. Transient failures are retried
// with exponential backoff; a final failure is reported both as an error and
// as a failed signal so callers can degrade to lower-priority sources.
func (c *ProductAPIClient) Fetch(ctx context.Context, asin, marketplace string) (models.SourceSignal, error) {
	var item productItemResponse

	err := util.RetryWithBackoff(ctx, c.maxRetries, c.retryBase, c.retryMax, func(attempt int) error {
		if attempt > 0 {
			slog.Warn("Retrying product API fetch", "asin", asin, "attempt", attempt)
		}
		return c.fetchItem(ctx, asin, marketplace, &item)
	})
	if err != nil {
		slog.Warn("Product API fetch failed", "asin", asin, "error", err)
		return models.SourceSignal{ASIN: asin, Success: false, Err: err.Error()}, err
	}

	signal := models.SourceSignal{
		ASIN:          asin,
		Title:         item.Title,
		CurrentPrice:  item.Price,
		OriginalPrice: item.ListPrice,
		DiscountPct:   item.DiscountPct,
		ImageURL:      item.ImageURL,
		Availability:  item.Availability,
		Rating:        item.Rating,
		RatingCount:   item.RatingCount,
		Success:       true,
	}
	return signal, nil
}

func (c *ProductAPIClient) fetchItem(ctx context.Context, asin, marketplace string, out *productItemResponse) error {
	body, err := json.Marshal(productItemRequest{ASIN: asin, Marketplace: marketplace, PartnerTag: c.partnerTag})
	if err != nil {
		return fmt.Errorf("failed to encode product request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/items", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create product request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("product API request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("product API returned status %d for %s", res.StatusCode, asin)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode product response: %w", err)
	}
	return nil
}
