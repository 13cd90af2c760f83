package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chollohub/dealbot/internal/models"
	"github.com/chollohub/dealbot/internal/util"
)

const pollInterval = 5 * time.Second

// ScrapeClient enriches a batch of ASINs through the asynchronous scrape
// task service: submit a task, poll until a result file is ready, then
// download and parse it.
type ScrapeClient interface {
	FetchBatch(ctx context.Context, asins []string, marketplace string) (map[string]models.SourceSignal, error)
}

type ScrapeAPIClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	serviceName string
	maxWait     time.Duration
	pollEvery   time.Duration
}

func NewScrapeAPIClient(baseURL, apiKey, serviceName string, maxWait time.Duration) *ScrapeAPIClient {
	return &ScrapeAPIClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		apiKey:      apiKey,
		serviceName: serviceName,
		maxWait:     maxWait,
		pollEvery:   pollInterval,
	}
}

type scrapeTaskRequest struct {
	ServiceName string            `json:"service_name"`
	Queries     []string          `json:"queries"`
	Settings    scrapeTaskSetting `json:"settings"`
}

type scrapeTaskSetting struct {
	OutputExtension string `json:"output_extension"`
	Marketplace     string `json:"marketplace"`
}

type scrapeTask struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	FileURL string `json:"file_url"`
}

// FetchBatch submits one scrape task for all ASINs and blocks until the
// result file is available or maxWait elapses. Every requested ASIN gets an
// entry in the returned map; ASINs absent from the result file are marked as
// failed signals.
func (c *ScrapeAPIClient) FetchBatch(ctx context.Context, asins []string, marketplace string) (map[string]models.SourceSignal, error) {
	if len(asins) == 0 {
		return map[string]models.SourceSignal{}, nil
	}

	taskID, err := c.submitTask(ctx, asins, marketplace)
	if err != nil {
		return failAll(asins, err), fmt.Errorf("failed to submit scrape task: %w", err)
	}
	slog.Info("Submitted scrape task", "task_id", taskID, "asins", len(asins))

	fileURL, err := c.waitForResult(ctx, taskID)
	if err != nil {
		return failAll(asins, err), fmt.Errorf("scrape task %s did not complete: %w", taskID, err)
	}

	signals, err := c.downloadResults(ctx, fileURL)
	if err != nil {
		return failAll(asins, err), fmt.Errorf("failed to download scrape results: %w", err)
	}

	// Requested ASINs missing from the result file still get an entry.
	for _, asin := range asins {
		if _, ok := signals[asin]; !ok {
			signals[asin] = models.SourceSignal{ASIN: asin, Success: false, Err: "not present in scrape results"}
		}
	}
	return signals, nil
}

func (c *ScrapeAPIClient) submitTask(ctx context.Context, asins []string, marketplace string) (string, error) {
	body, err := json.Marshal(scrapeTaskRequest{
		ServiceName: c.serviceName,
		Queries:     asins,
		Settings:    scrapeTaskSetting{OutputExtension: "csv", Marketplace: marketplace},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("task submission returned status %d", res.StatusCode)
	}

	var task scrapeTask
	if err := json.NewDecoder(res.Body).Decode(&task); err != nil {
		return "", err
	}
	if task.ID == "" {
		return "", fmt.Errorf("task submission response missing id")
	}
	return task.ID, nil
}

// waitForResult polls the task list until the submitted task exposes a
// result file URL.
func (c *ScrapeAPIClient) waitForResult(ctx context.Context, taskID string) (string, error) {
	deadline := time.Now().Add(c.maxWait)
	for {
		task, err := c.findTask(ctx, taskID)
		if err != nil {
			slog.Warn("Scrape task poll failed", "task_id", taskID, "error", err)
		} else if task != nil {
			if task.FileURL != "" {
				return task.FileURL, nil
			}
			if task.Status == "failed" {
				return "", fmt.Errorf("task reported status failed")
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out after %s", c.maxWait)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollEvery):
		}
	}
}

func (c *ScrapeAPIClient) findTask(ctx context.Context, taskID string) (*scrapeTask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks?limit=50", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("task list returned status %d", res.StatusCode)
	}

	var tasks []scrapeTask
	if err := json.NewDecoder(res.Body).Decode(&tasks); err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID == taskID {
			return &tasks[i], nil
		}
	}
	return nil, nil
}

func (c *ScrapeAPIClient) downloadResults(ctx context.Context, fileURL string) (map[string]models.SourceSignal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("result download returned status %d", res.StatusCode)
	}
	return parseResultCSV(res.Body)
}

// parseResultCSV maps rows of the scrape result file onto source signals.
// Column order is not fixed; the header row decides the mapping.
func parseResultCSV(r io.Reader) (map[string]models.SourceSignal, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read result header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	signals := make(map[string]models.SourceSignal)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("Skipping malformed result row", "error", err)
			continue
		}

		asin := field(row, "asin")
		if asin == "" {
			continue
		}

		signal := models.SourceSignal{
			ASIN:          asin,
			Title:         field(row, "name"),
			CurrentPrice:  util.ParsePrice(field(row, "price")),
			OriginalPrice: util.ParsePrice(field(row, "strike_price")),
			DiscountPct:   util.ParsePrice(field(row, "price_saving")),
			Availability:  field(row, "availability"),
			Rating:        util.ParsePrice(field(row, "rating")),
			ImageURL:      field(row, "image_1"),
			Success:       true,
		}
		if reviews := field(row, "reviews"); reviews != "" {
			if n := util.SafeAtoi(reviews); n > 0 {
				signal.RatingCount = models.Int(n)
			}
		}
		signals[asin] = signal
	}
	return signals, nil
}

func failAll(asins []string, err error) map[string]models.SourceSignal {
	signals := make(map[string]models.SourceSignal, len(asins))
	for _, asin := range asins {
		signals[asin] = models.SourceSignal{ASIN: asin, Success: false, Err: err.Error()}
	}
	return signals
}
