package publisher

import (
	"fmt"
	"strings"

	"github.com/chollohub/dealbot/internal/models"
)

// FormatDeal renders the bilingual deal message sent to subscribers. Layout
// is fixed: Spanish block, English block, rating, price line, link.
func FormatDeal(raw models.RawDeal, deal models.CanonicalDeal, shortURL string) string {
	var b strings.Builder

	titleES := raw.TitleES
	if titleES == "" {
		titleES = deal.Title
	}
	b.WriteString("🇪🇸 " + titleES + "\n")
	if deal.ReviewES != "" {
		b.WriteString("📋 " + deal.ReviewES + "\n")
	}
	b.WriteString("\n")

	titleEN := raw.TitleEN
	if titleEN == "" {
		titleEN = deal.Title
	}
	b.WriteString("🇬🇧 " + titleEN + "\n")
	if deal.ReviewEN != "" {
		b.WriteString("📋 " + deal.ReviewEN + "\n")
	}
	b.WriteString("\n")

	if deal.Rating != nil {
		b.WriteString("⭐ " + models.Stars(*deal.Rating))
		if deal.RatingCount != nil {
			b.WriteString(fmt.Sprintf(" (%d)", *deal.RatingCount))
		}
		b.WriteString("\n")
	}

	if deal.CurrentPrice != nil {
		b.WriteString("💰 " + FormatAmount(*deal.CurrentPrice, deal.Currency))
		if deal.OriginalPrice != nil {
			b.WriteString(" (PVP: " + FormatAmount(*deal.OriginalPrice, deal.Currency) + ")")
		}
		if deal.DiscountPct != nil {
			b.WriteString(fmt.Sprintf(" (-%.0f%%)", *deal.DiscountPct))
		}
		b.WriteString("\n")
	}

	b.WriteString("🛒 " + shortURL + "\n")
	return b.String()
}

// FormatDailySummary renders the end-of-day top deals message.
func FormatDailySummary(deals []models.PersistedDeal) string {
	if len(deals) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("🏆 TOP CHOLLOS DE HOY / TODAY'S TOP DEALS\n\n")
	for i, deal := range deals {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, deal.Title))
		b.WriteString("   💰 " + FormatAmount(deal.AdjustedPrice, deal.Currency))
		if deal.DiscountPct != nil {
			b.WriteString(fmt.Sprintf(" (-%.0f%%)", *deal.DiscountPct))
		}
		b.WriteString("\n")
		if deal.ShortURL != "" {
			b.WriteString("   🛒 " + deal.ShortURL + "\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// FormatStatus renders the operator status line posted after each run.
func FormatStatus(processed, published, skipped, duplicates, failed int) string {
	return fmt.Sprintf("✅ Run finished: %d processed, %d published, %d skipped, %d duplicates, %d failed",
		processed, published, skipped, duplicates, failed)
}

// FormatAmount renders a price in the marketplace's conventional style:
// comma decimals with a trailing symbol for EUR, leading symbol otherwise.
func FormatAmount(v float64, currency models.Currency) string {
	if currency == models.CurrencyEUR || currency == "" {
		return strings.ReplaceAll(fmt.Sprintf("%.2f", v), ".", ",") + " €"
	}
	return currency.Symbol() + fmt.Sprintf("%.2f", v)
}
