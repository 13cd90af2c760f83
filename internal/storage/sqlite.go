package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/chollohub/dealbot/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the SQLite-backed persistence layer. Every publish attempt ends
// in a deal row; per-destination receipts and pipeline events hang off it.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDeal upserts the deal row and, when an outcome is given, one receipt
// row per destination that accepted the message.
func (s *Store) SaveDeal(ctx context.Context, deal models.PersistedDeal, outcome *models.PublishOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO deals (
			deal_id, asin, title, src_url, validated_price, adjusted_price,
			list_price, discount_pct, popularity, currency, rating,
			rating_count, short_url, provider, needs_review, created_at,
			published_at, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deal.DealID, deal.ASIN, deal.Title, deal.SrcURL, deal.ValidatedPrice,
		deal.AdjustedPrice, deal.ListPrice, deal.DiscountPct, deal.Popularity,
		string(deal.Currency), deal.Rating, deal.RatingCount, deal.ShortURL,
		deal.Provider, deal.NeedsReview, formatTime(deal.CreatedAt),
		formatTimePtr(deal.PublishedAt), string(deal.Status))
	if err != nil {
		return fmt.Errorf("failed to save deal %s: %w", deal.DealID, err)
	}

	if outcome != nil {
		for _, dest := range outcome.Destinations {
			messageID := outcome.MessageIDs[dest]
			if messageID == "" {
				continue
			}
			_, err = tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO destinations (deal_id, destination, message_id, sent_at)
				VALUES (?, ?, ?, ?)`,
				deal.DealID, dest, messageID, formatTime(outcome.SentAt))
			if err != nil {
				return fmt.Errorf("failed to save destination receipt: %w", err)
			}
		}
	}

	return tx.Commit()
}

// RecentPublished returns the most recent published deal for the ASIN with
// published_at at or after cutoff, or nil when there is none. The cutoff is
// supplied by the caller so preview and daemon call sites can use different
// windows against the same query.
func (s *Store) RecentPublished(ctx context.Context, asin string, cutoff time.Time) (*models.PersistedDeal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT deal_id, asin, title, src_url, validated_price, adjusted_price,
		       list_price, discount_pct, popularity, currency, rating,
		       rating_count, short_url, provider, needs_review, created_at,
		       published_at, status
		FROM deals
		WHERE asin = ? AND status = ? AND published_at >= ?
		ORDER BY published_at DESC
		LIMIT 1`,
		asin, string(models.StatusPublished), formatTime(cutoff))

	deal, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recent publish for %s: %w", asin, err)
	}
	return deal, nil
}

// LogEvent appends one pipeline event. Events are append-only diagnostics;
// failures here should not abort processing.
func (s *Store) LogEvent(ctx context.Context, dealID, event, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (deal_id, event, detail, created_at)
		VALUES (?, ?, ?, ?)`,
		dealID, event, detail, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to log event %s: %w", event, err)
	}
	return nil
}

// TopDealsToday returns the deals published in the trailing 24 hours ranked
// by popularity, then discount depth. Used by the daily summary.
func (s *Store) TopDealsToday(ctx context.Context, limit int) ([]models.PersistedDeal, error) {
	windowStart := time.Now().UTC().Add(-24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		SELECT deal_id, asin, title, src_url, validated_price, adjusted_price,
		       list_price, discount_pct, popularity, currency, rating,
		       rating_count, short_url, provider, needs_review, created_at,
		       published_at, status
		FROM deals
		WHERE status = ? AND published_at >= ?
		ORDER BY COALESCE(popularity, 0) DESC, COALESCE(discount_pct, 0) DESC
		LIMIT ?`,
		string(models.StatusPublished), formatTime(windowStart), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top deals: %w", err)
	}
	defer rows.Close()

	var deals []models.PersistedDeal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal row: %w", err)
		}
		deals = append(deals, *deal)
	}
	return deals, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeal(row scanner) (*models.PersistedDeal, error) {
	var deal models.PersistedDeal
	var currency, status string
	var createdAt string
	var publishedAt, shortURL, provider sql.NullString

	err := row.Scan(&deal.DealID, &deal.ASIN, &deal.Title, &deal.SrcURL,
		&deal.ValidatedPrice, &deal.AdjustedPrice, &deal.ListPrice,
		&deal.DiscountPct, &deal.Popularity, &currency, &deal.Rating,
		&deal.RatingCount, &shortURL, &provider, &deal.NeedsReview,
		&createdAt, &publishedAt, &status)
	if err != nil {
		return nil, err
	}

	deal.Currency = models.Currency(currency)
	deal.Status = models.DealStatus(status)
	deal.ShortURL = shortURL.String
	deal.Provider = provider.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		deal.CreatedAt = t
	}
	if publishedAt.Valid {
		if t, err := time.Parse(time.RFC3339, publishedAt.String); err == nil {
			deal.PublishedAt = &t
		}
	}
	return &deal, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
