package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chollohub/dealbot/internal/models"
)

// Sender delivers one formatted deal message to a set of destinations.
type Sender interface {
	Send(ctx context.Context, destinations []string, message, imageURL string) models.PublishOutcome
}

// Client talks to the WhatsApp HTTP gateway. Destinations are channel or
// group JIDs; each send is independent and one failure does not abort the
// rest.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type imageMessagePayload struct {
	To      string `json:"to"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

type textMessagePayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type messageResponse struct {
	Sent    bool `json:"sent"`
	Message struct {
		ID string `json:"id"`
	} `json:"message"`
}

// Send delivers the message to every destination. The outcome is successful
// when at least one destination accepted it.
func (c *Client) Send(ctx context.Context, destinations []string, message, imageURL string) models.PublishOutcome {
	outcome := models.PublishOutcome{
		Destinations: destinations,
		MessageIDs:   make(map[string]string),
		SentAt:       time.Now().UTC(),
	}

	var errs []string
	for _, dest := range destinations {
		if dest == "" {
			continue
		}
		messageID, err := c.sendOne(ctx, dest, message, imageURL)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", dest, err))
			continue
		}
		outcome.MessageIDs[dest] = messageID
		outcome.Success = true
	}

	if len(errs) > 0 {
		outcome.Err = strings.Join(errs, "; ")
	}
	return outcome
}

func (c *Client) sendOne(ctx context.Context, destination, message, imageURL string) (string, error) {
	var endpoint string
	var payload any
	if imageURL != "" {
		endpoint = c.baseURL + "/messages/image"
		payload = imageMessagePayload{To: destination, Media: imageURL, Caption: message}
	} else {
		endpoint = c.baseURL + "/messages/text"
		payload = textMessagePayload{To: destination, Body: message}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gateway status %s, body: %s", resp.Status, string(bodyBytes))
	}

	var msgResponse messageResponse
	if err := json.Unmarshal(bodyBytes, &msgResponse); err != nil {
		return "", fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if !msgResponse.Sent {
		return "", fmt.Errorf("gateway did not accept the message, body: %s", string(bodyBytes))
	}
	return msgResponse.Message.ID, nil
}
