package processor

import (
	"context"
	"time"

	"github.com/chollohub/dealbot/internal/models"
)

// DealStore abstracts the persistence layer.
type DealStore interface {
	RecentPublished(ctx context.Context, asin string, cutoff time.Time) (*models.PersistedDeal, error)
	SaveDeal(ctx context.Context, deal models.PersistedDeal, outcome *models.PublishOutcome) error
	LogEvent(ctx context.Context, dealID, event, detail string) error
	TopDealsToday(ctx context.Context, limit int) ([]models.PersistedDeal, error)
}

// DealSender abstracts the messaging gateway.
type DealSender interface {
	Send(ctx context.Context, destinations []string, message, imageURL string) models.PublishOutcome
}

// FeedParser abstracts the feed text parser.
type FeedParser interface {
	ParseFile(path string) ([]models.RawDeal, error)
}

// LinkShortener abstracts the shortlink provider.
type LinkShortener interface {
	Shorten(ctx context.Context, longURL string) (models.ShortLink, error)
	Name() string
}
