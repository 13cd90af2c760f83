package reconcile

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/chollohub/dealbot/internal/ai"
	"github.com/chollohub/dealbot/internal/config"
	"github.com/chollohub/dealbot/internal/models"
	"github.com/chollohub/dealbot/internal/util"
)

// Signals bundles the per-source enrichment responses for one deal. A nil
// entry means the source was never consulted for this deal.
type Signals struct {
	ProductAPI *models.SourceSignal
	ScrapeAPI  *models.SourceSignal
	Browser    *models.SourceSignal
}

// Validator is the optional AI reasonableness check. *ai.Client satisfies it;
// a nil Validator routes every deal through the local fallback check.
type Validator interface {
	ValidateDeal(ctx context.Context, req ai.Request) (ai.Result, error)
}

type Reconciler struct {
	thresholds config.Thresholds
	validator  Validator
}

func New(thresholds config.Thresholds, validator Validator) *Reconciler {
	return &Reconciler{thresholds: thresholds, validator: validator}
}

// Reconcile merges the raw deal and its source signals into one canonical
// record. Field precedence is fixed per field and a value set by a
// higher-priority source is never overwritten by a lower one. Reconcile is a
// pure function of its inputs apart from the optional validator call.
func (r *Reconciler) Reconcile(ctx context.Context, raw models.RawDeal, signals Signals) models.CanonicalDeal {
	product := usable(signals.ProductAPI)
	scrape := usable(signals.ScrapeAPI)
	browser := usable(signals.Browser)

	deal := models.CanonicalDeal{
		DealID:   raw.DealID,
		ASIN:     raw.ASIN,
		Title:    raw.Title,
		URL:      raw.URL,
		Currency: raw.Currency,
	}
	if product != nil && product.Title != "" && strings.HasPrefix(raw.Title, "Deal ") {
		deal.Title = product.Title
	}

	// Current price: catalog wins, stated price is the degraded fallback.
	if product != nil && product.CurrentPrice != nil {
		deal.CurrentPrice = product.CurrentPrice
	} else {
		deal.CurrentPrice = raw.StatedPrice
	}

	r.resolveOriginalAndDiscount(&deal, raw, product, scrape, browser)

	for _, sig := range []*models.SourceSignal{product, scrape, browser} {
		if deal.ImageURL == "" && sig != nil && sig.ImageURL != "" {
			deal.ImageURL = sig.ImageURL
		}
	}

	// Ratings come from the catalog or the scrape service, never the browser.
	for _, sig := range []*models.SourceSignal{product, scrape} {
		if deal.Rating == nil && sig != nil && sig.Rating != nil {
			deal.Rating = sig.Rating
			deal.RatingCount = sig.RatingCount
		}
	}

	for _, sig := range []*models.SourceSignal{product, scrape, browser} {
		if sig == nil {
			continue
		}
		if deal.DeliveryCost == nil && sig.DeliveryCost != nil {
			deal.DeliveryCost = sig.DeliveryCost
		}
		if sig.HasMandatoryDelivery {
			deal.HasMandatoryDelivery = true
		}
	}

	deal.Availability = r.resolveAvailability(deal.CurrentPrice, product, scrape, browser)
	deal.NeedsReview = r.needsReview(raw, product, deal.CurrentPrice)

	if deal.CurrentPrice != nil {
		deal.AdjustedPrice = util.Round2(*deal.CurrentPrice*r.thresholds.PriceMultiplier + r.thresholds.PriceAdditive)
	}

	r.validate(ctx, &deal)
	return deal
}

// resolveOriginalAndDiscount applies the pairing precedence: catalog, then
// the feed's own PVP/discount, then scrape, then browser. The discount is
// recomputed from the price pair whenever both prices are known, so a stale
// source discount can never contradict the prices shown.
func (r *Reconciler) resolveOriginalAndDiscount(deal *models.CanonicalDeal, raw models.RawDeal, product, scrape, browser *models.SourceSignal) {
	type pairing struct {
		original *float64
		discount *float64
	}
	pairings := []pairing{
		{signalOriginal(product), signalDiscount(product)},
		{raw.StatedPVP, raw.StatedDiscountPct},
		{signalOriginal(scrape), signalDiscount(scrape)},
		{signalOriginal(browser), signalDiscount(browser)},
	}

	var pairedDiscount *float64
	for _, p := range pairings {
		if p.original != nil {
			deal.OriginalPrice = p.original
			pairedDiscount = p.discount
			break
		}
	}

	switch {
	case deal.OriginalPrice != nil && deal.CurrentPrice != nil && *deal.OriginalPrice > *deal.CurrentPrice:
		pct := math.Round((*deal.OriginalPrice - *deal.CurrentPrice) / *deal.OriginalPrice * 100)
		deal.DiscountPct = models.Float(pct)
	case pairedDiscount != nil:
		deal.DiscountPct = pairedDiscount
	default:
		// A source's bare discount is never published next to prices from a
		// different pairing. Only the feed's own explicit figure may stand in.
		deal.DiscountPct = raw.StatedDiscountPct
	}
}

// resolveAvailability normalizes the first explicit availability code found.
// An absent code with a known price means available, not unknown.
func (r *Reconciler) resolveAvailability(currentPrice *float64, sigs ...*models.SourceSignal) string {
	for _, sig := range sigs {
		if sig == nil || sig.Availability == "" {
			continue
		}
		return normalizeAvailability(sig.Availability)
	}
	if currentPrice != nil {
		return models.AvailabilityNow
	}
	return ""
}

func normalizeAvailability(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "now", "available-now", "in stock", "en stock", "available":
		return models.AvailabilityNow
	default:
		return strings.TrimSpace(code)
	}
}

func (r *Reconciler) needsReview(raw models.RawDeal, product *models.SourceSignal, currentPrice *float64) bool {
	if product == nil {
		return true
	}
	if raw.StatedPrice == nil || currentPrice == nil || *raw.StatedPrice == 0 {
		return false
	}
	gap := math.Abs(*raw.StatedPrice-*currentPrice) / *raw.StatedPrice * 100
	return gap > r.thresholds.PriceDiscrepancyPct
}

// validate sets AIApproved and the bilingual blurbs, via the model when one
// is configured and the local sanity check otherwise. AIApproved is never
// left unset.
func (r *Reconciler) validate(ctx context.Context, deal *models.CanonicalDeal) {
	if r.validator != nil {
		result, err := r.validator.ValidateDeal(ctx, ai.Request{
			ASIN:          deal.ASIN,
			Title:         deal.Title,
			CurrentPrice:  deal.CurrentPrice,
			OriginalPrice: deal.OriginalPrice,
			DiscountPct:   deal.DiscountPct,
			Currency:      string(deal.Currency),
		})
		if err == nil {
			deal.AIApproved = result.Approved
			deal.ReviewES = result.ReviewES
			deal.ReviewEN = result.ReviewEN
			return
		}
		slog.Warn("AI validation failed, using local fallback", "asin", deal.ASIN, "error", err)
	}

	deal.AIApproved = fallbackApprove(deal, r.thresholds)
	deal.ReviewES, deal.ReviewEN = fallbackReviews(deal.Title)
}

func usable(sig *models.SourceSignal) *models.SourceSignal {
	if sig == nil || !sig.Success {
		return nil
	}
	return sig
}

func signalOriginal(sig *models.SourceSignal) *float64 {
	if sig == nil {
		return nil
	}
	return sig.OriginalPrice
}

func signalDiscount(sig *models.SourceSignal) *float64 {
	if sig == nil {
		return nil
	}
	return sig.DiscountPct
}
