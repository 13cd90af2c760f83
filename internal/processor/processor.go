package processor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/chollohub/dealbot/internal/config"
	"github.com/chollohub/dealbot/internal/feed"
	"github.com/chollohub/dealbot/internal/filter"
	"github.com/chollohub/dealbot/internal/models"
	"github.com/chollohub/dealbot/internal/publisher"
	"github.com/chollohub/dealbot/internal/reconcile"
	"github.com/chollohub/dealbot/internal/sources"
	"github.com/chollohub/dealbot/internal/util"
)

const (
	feedLookback    = 24 * time.Hour
	summaryTopCount = 3
)

// RunStats summarizes one processing run. Skipped covers filter rejections
// and deals that could not be qualified; duplicates are tracked on their own.
type RunStats struct {
	Files      int
	Processed  int
	Published  int
	Skipped    int
	Duplicates int
	Failed     int
}

// Runner drives the pipeline: discover feed files, parse them, enrich each
// deal, reconcile, gate on duplicates, filter, publish and persist. Per-deal
// failures are counted and logged, never fatal to the run.
type Runner struct {
	cfg        *config.Config
	parser     FeedParser
	product    sources.ProductClient
	scrape     sources.ScrapeClient
	browser    sources.BrowserScraper
	reconciler *reconcile.Reconciler
	filter     *filter.Filter
	store      DealStore
	sender     DealSender
	shortener  LinkShortener

	limiter   *rate.Limiter
	processed map[string]bool
}

// New wires the runner. The product, scrape and browser clients are
// optional; a nil client simply contributes no signal.
func New(cfg *config.Config, parser FeedParser, product sources.ProductClient, scrape sources.ScrapeClient,
	browser sources.BrowserScraper, reconciler *reconcile.Reconciler, f *filter.Filter,
	store DealStore, sender DealSender, shortener LinkShortener) *Runner {

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.InterDealDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.InterDealDelay), 1)
	}

	return &Runner{
		cfg:        cfg,
		parser:     parser,
		product:    product,
		scrape:     scrape,
		browser:    browser,
		reconciler: reconciler,
		filter:     f,
		store:      store,
		sender:     sender,
		shortener:  shortener,
		limiter:    limiter,
		processed:  make(map[string]bool),
	}
}

// RunOnce processes the recent feed files under sourceDir. Files already
// handled by this runner instance are skipped.
func (r *Runner) RunOnce(ctx context.Context, sourceDir string) (RunStats, error) {
	var stats RunStats

	files, err := feed.Find(sourceDir, time.Now().Add(-feedLookback))
	if err != nil {
		return stats, fmt.Errorf("failed to discover feed files: %w", err)
	}

	var pending []feed.File
	for _, f := range files {
		if r.processed[f.Path] {
			continue
		}
		pending = append(pending, f)
		if r.cfg.MaxFilesPerRun > 0 && len(pending) >= r.cfg.MaxFilesPerRun {
			break
		}
	}
	if len(pending) == 0 {
		slog.Info("No new feed files to process", "dir", sourceDir)
		return stats, nil
	}

	for _, f := range pending {
		deals, err := r.parser.ParseFile(f.Path)
		if err != nil {
			slog.Error("Failed to parse feed file", "path", f.Path, "error", err)
			stats.Failed++
			continue
		}
		stats.Files++
		r.processed[f.Path] = true

		scrapeCache := r.enrichBatch(ctx, deals)

		for _, raw := range deals {
			if err := r.limiter.Wait(ctx); err != nil {
				return stats, err
			}
			stats.Processed++
			r.processDeal(ctx, raw, scrapeCache, &stats)
		}
	}

	r.sendStatusUpdate(ctx, stats)
	slog.Info("Run finished", "files", stats.Files, "processed", stats.Processed,
		"published", stats.Published, "skipped", stats.Skipped,
		"duplicates", stats.Duplicates, "failed", stats.Failed)
	return stats, nil
}

// enrichBatch fetches scrape signals for all ASINs in the batch in one task
// per marketplace. The cache is scoped to this batch only.
func (r *Runner) enrichBatch(ctx context.Context, deals []models.RawDeal) map[string]models.SourceSignal {
	cache := make(map[string]models.SourceSignal)
	if r.scrape == nil {
		return cache
	}

	byMarketplace := make(map[string][]string)
	for _, deal := range deals {
		if deal.ASIN == "" {
			continue
		}
		mp := deal.Currency.Marketplace()
		byMarketplace[mp] = append(byMarketplace[mp], deal.ASIN)
	}

	for mp, asins := range byMarketplace {
		signals, err := r.scrape.FetchBatch(ctx, asins, mp)
		if err != nil {
			slog.Warn("Scrape enrichment failed for batch", "marketplace", mp, "error", err)
		}
		for asin, sig := range signals {
			cache[asin] = sig
		}
	}
	return cache
}

func (r *Runner) processDeal(ctx context.Context, raw models.RawDeal, scrapeCache map[string]models.SourceSignal, stats *RunStats) {
	// A panic in one deal must not abort the rest of the batch. The deal is
	// counted as skipped, like any other it could not qualify.
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Panic while processing deal", "asin", raw.ASIN, "panic", rec)
			stats.Skipped++
		}
	}()

	if raw.ASIN == "" {
		slog.Info("Skipping deal without ASIN", "title", raw.Title)
		r.logEvent(ctx, raw.DealID, "skipped", "no ASIN in URL")
		stats.Skipped++
		return
	}

	signals := r.collectSignals(ctx, raw, scrapeCache)
	deal := r.reconciler.Reconcile(ctx, raw, signals)

	if r.isDuplicate(ctx, deal) {
		slog.Info("Skipping duplicate deal", "asin", deal.ASIN)
		r.logEvent(ctx, raw.DealID, "duplicate", "recently published at a similar price")
		stats.Duplicates++
		return
	}

	decision := r.filter.Evaluate(raw, deal)
	if !decision.Publish {
		slog.Info("Deal rejected", "asin", deal.ASIN, "reason", decision.Reason)
		r.logEvent(ctx, raw.DealID, "filter_reject", decision.Reason)
		stats.Skipped++
		return
	}

	if tagged, changed := util.EnsureAffiliateTag(deal.URL, r.cfg.PartnerTag); changed {
		deal.URL = tagged
	}

	link := models.ShortLink{ShortURL: deal.URL, LongURL: deal.URL, Provider: "direct"}
	if r.shortener != nil {
		shortened, err := r.shortener.Shorten(ctx, deal.URL)
		if err != nil {
			slog.Warn("Shortening failed, using long URL", "asin", deal.ASIN, "error", err)
		} else {
			link = shortened
		}
	}

	message := publisher.FormatDeal(raw, deal, link.ShortURL)
	outcome := r.sender.Send(ctx, r.dealDestinations(), message, deal.ImageURL)

	persisted := buildPersisted(raw, deal, link, outcome)
	if err := r.store.SaveDeal(ctx, persisted, &outcome); err != nil {
		slog.Error("Failed to persist deal", "deal_id", raw.DealID, "error", err)
	}

	if outcome.Success {
		r.logEvent(ctx, raw.DealID, "published", strings.Join(outcome.Destinations, ","))
		stats.Published++
	} else {
		r.logEvent(ctx, raw.DealID, "send_failed", outcome.Err)
		stats.Failed++
	}
}

func (r *Runner) collectSignals(ctx context.Context, raw models.RawDeal, scrapeCache map[string]models.SourceSignal) reconcile.Signals {
	var signals reconcile.Signals

	if r.product != nil {
		sig, err := r.product.Fetch(ctx, raw.ASIN, raw.Currency.Marketplace())
		if err != nil {
			slog.Warn("Catalog lookup failed", "asin", raw.ASIN, "error", err)
		}
		signals.ProductAPI = &sig
	}

	if sig, ok := scrapeCache[raw.ASIN]; ok {
		signals.ScrapeAPI = &sig
	}

	// The browser is expensive; render only when no image turned up yet.
	haveImage := (signals.ProductAPI != nil && signals.ProductAPI.Success && signals.ProductAPI.ImageURL != "") ||
		(signals.ScrapeAPI != nil && signals.ScrapeAPI.Success && signals.ScrapeAPI.ImageURL != "")
	if !haveImage && r.browser != nil {
		sig, err := r.browser.Fetch(ctx, raw.ASIN, raw.Currency.Marketplace())
		if err != nil {
			slog.Warn("Browser fallback failed", "asin", raw.ASIN, "error", err)
		}
		signals.Browser = &sig
	}
	return signals
}

// isDuplicate suppresses republication of a recently published ASIN unless
// its price moved by more than the configured delta. A lookup failure never
// blocks publication.
func (r *Runner) isDuplicate(ctx context.Context, deal models.CanonicalDeal) bool {
	cutoff := time.Now().Add(-r.cfg.Thresholds.DuplicateWindow)
	prior, err := r.store.RecentPublished(ctx, deal.ASIN, cutoff)
	if err != nil {
		slog.Warn("Duplicate check failed, treating as new", "asin", deal.ASIN, "error", err)
		return false
	}
	if prior == nil {
		return false
	}
	if deal.CurrentPrice == nil || prior.AdjustedPrice == 0 {
		return true
	}
	deltaPct := math.Abs(*deal.CurrentPrice-prior.AdjustedPrice) / prior.AdjustedPrice * 100
	return deltaPct <= r.cfg.Thresholds.DuplicatePriceDeltaPct
}

func (r *Runner) dealDestinations() []string {
	var dests []string
	for _, jid := range []string{r.cfg.ChannelJID, r.cfg.GroupJID} {
		if jid != "" {
			dests = append(dests, jid)
		}
	}
	return dests
}

func (r *Runner) sendStatusUpdate(ctx context.Context, stats RunStats) {
	if r.cfg.StatusJID == "" {
		return
	}
	message := publisher.FormatStatus(stats.Processed, stats.Published, stats.Skipped, stats.Duplicates, stats.Failed)
	if outcome := r.sender.Send(ctx, []string{r.cfg.StatusJID}, message, ""); !outcome.Success {
		slog.Warn("Status update failed", "error", outcome.Err)
	}
}

// SendDailySummary posts today's top deals to the summary destination.
func (r *Runner) SendDailySummary(ctx context.Context) error {
	if r.cfg.SummaryJID == "" {
		return nil
	}
	deals, err := r.store.TopDealsToday(ctx, summaryTopCount)
	if err != nil {
		return fmt.Errorf("failed to load top deals: %w", err)
	}
	message := publisher.FormatDailySummary(deals)
	if message == "" {
		slog.Info("No published deals today, skipping summary")
		return nil
	}
	if outcome := r.sender.Send(ctx, []string{r.cfg.SummaryJID}, message, ""); !outcome.Success {
		return fmt.Errorf("summary send failed: %s", outcome.Err)
	}
	return nil
}

func (r *Runner) logEvent(ctx context.Context, dealID, event, detail string) {
	if err := r.store.LogEvent(ctx, dealID, event, detail); err != nil {
		slog.Warn("Failed to log event", "deal_id", dealID, "event", event, "error", err)
	}
}

func buildPersisted(raw models.RawDeal, deal models.CanonicalDeal, link models.ShortLink, outcome models.PublishOutcome) models.PersistedDeal {
	status := models.StatusFailed
	var publishedAt *time.Time
	if outcome.Success {
		status = models.StatusPublished
		sentAt := outcome.SentAt
		publishedAt = &sentAt
	}

	popularity := 0
	if deal.RatingCount != nil {
		popularity = *deal.RatingCount
	}

	return models.PersistedDeal{
		DealID:         raw.DealID,
		ASIN:           deal.ASIN,
		Title:          deal.Title,
		SrcURL:         deal.URL,
		ValidatedPrice: deal.CurrentPrice,
		AdjustedPrice:  deal.AdjustedPrice,
		ListPrice:      deal.OriginalPrice,
		DiscountPct:    deal.DiscountPct,
		Popularity:     popularity,
		Currency:       deal.Currency,
		Rating:         deal.Rating,
		RatingCount:    deal.RatingCount,
		ShortURL:       link.ShortURL,
		Provider:       link.Provider,
		NeedsReview:    deal.NeedsReview,
		CreatedAt:      time.Now().UTC(),
		PublishedAt:    publishedAt,
		Status:         status,
	}
}
