package shortlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chollohub/dealbot/internal/models"
)

// Provider shortens deal URLs. The set of implementations is small and
// fixed; the active one is chosen once at startup from configuration.
type Provider interface {
	Shorten(ctx context.Context, longURL string) (models.ShortLink, error)
	Name() string
}

// New selects a provider by configuration name. Unknown names fall back to
// the direct pass-through provider.
func New(provider, domain, bitlyToken string) Provider {
	switch provider {
	case "bitly":
		return &Bitly{httpClient: defaultClient(), token: bitlyToken}
	case "worker":
		return &Worker{httpClient: defaultClient(), domain: domain}
	default:
		return &Direct{}
	}
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// Direct performs no shortening and hands back the original URL.
type Direct struct{}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Shorten(_ context.Context, longURL string) (models.ShortLink, error) {
	return models.ShortLink{ShortURL: longURL, LongURL: longURL, Provider: d.Name()}, nil
}

// Bitly shortens through the Bitly v4 API.
type Bitly struct {
	httpClient *http.Client
	token      string
	baseURL    string
}

func (b *Bitly) Name() string { return "bitly" }

func (b *Bitly) Shorten(ctx context.Context, longURL string) (models.ShortLink, error) {
	endpoint := b.baseURL
	if endpoint == "" {
		endpoint = "https://api-ssl.bitly.com"
	}

	body, err := json.Marshal(map[string]string{"long_url": longURL})
	if err != nil {
		return models.ShortLink{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v4/shorten", bytes.NewReader(body))
	if err != nil {
		return models.ShortLink{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.token)

	res, err := b.httpClient.Do(req)
	if err != nil {
		return models.ShortLink{}, fmt.Errorf("bitly request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return models.ShortLink{}, fmt.Errorf("bitly returned status %d", res.StatusCode)
	}

	var payload struct {
		Link string `json:"link"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return models.ShortLink{}, fmt.Errorf("failed to decode bitly response: %w", err)
	}
	if payload.Link == "" {
		return models.ShortLink{}, fmt.Errorf("bitly response missing link")
	}
	return models.ShortLink{ShortURL: payload.Link, LongURL: longURL, Provider: b.Name()}, nil
}

// Worker shortens through a self-hosted redirect worker that accepts the
// target URL and returns a slug under the configured domain.
type Worker struct {
	httpClient *http.Client
	domain     string
}

func (w *Worker) Name() string { return "worker" }

func (w *Worker) Shorten(ctx context.Context, longURL string) (models.ShortLink, error) {
	body, err := json.Marshal(map[string]string{"url": longURL})
	if err != nil {
		return models.ShortLink{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.domain+"/api/links", bytes.NewReader(body))
	if err != nil {
		return models.ShortLink{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.httpClient.Do(req)
	if err != nil {
		return models.ShortLink{}, fmt.Errorf("worker request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return models.ShortLink{}, fmt.Errorf("worker returned status %d", res.StatusCode)
	}

	var payload struct {
		Slug string `json:"slug"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return models.ShortLink{}, fmt.Errorf("failed to decode worker response: %w", err)
	}
	if payload.Slug == "" {
		return models.ShortLink{}, fmt.Errorf("worker response missing slug")
	}
	return models.ShortLink{ShortURL: w.domain + "/" + payload.Slug, LongURL: longURL, Provider: w.Name()}, nil
}
