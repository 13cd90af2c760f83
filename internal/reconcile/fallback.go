package reconcile

import (
	"strings"

	"github.com/chollohub/dealbot/internal/config"
	"github.com/chollohub/dealbot/internal/models"
)

// Category keyword tables for the local sanity check and blurb templates.
// Matching is case-insensitive substring over the deal title.
var (
	techKeywords = []string{
		"auricular", "headphone", "earbud", "teclado", "keyboard", "ratón", "mouse",
		"portátil", "laptop", "tablet", "smartphone", "móvil", "ssd", "disco duro",
		"smartwatch", "altavoz", "speaker", "cámara", "camera", "router", "monitor",
	}
	gamingMonitorKeywords = []string{"gaming", "144hz", "165hz", "240hz"}

	homeKeywords   = []string{"cocina", "kitchen", "aspirador", "vacuum", "freidora", "fryer", "cafetera", "coffee"}
	sportKeywords  = []string{"fitness", "bicicleta", "bike", "mancuerna", "dumbbell", "running"}
	beautyKeywords = []string{"crema", "serum", "champú", "shampoo", "perfume", "maquillaje"}
)

// fallbackApprove is the deterministic stand-in for the AI check: category
// price floors, a hard discount cap, and a bound on how far the reference
// price may sit above the current price.
func fallbackApprove(deal *models.CanonicalDeal, t config.Thresholds) bool {
	if deal.CurrentPrice == nil {
		return false
	}
	price := *deal.CurrentPrice
	title := strings.ToLower(deal.Title)

	if matchesAny(title, techKeywords) {
		floor := 20.0
		if strings.Contains(title, "monitor") && matchesAny(title, gamingMonitorKeywords) {
			floor = 50.0
		}
		if price < floor {
			return false
		}
	}

	if deal.DiscountPct != nil && *deal.DiscountPct > 90 {
		return false
	}
	if deal.OriginalPrice != nil && price > 0 && *deal.OriginalPrice/price > 10 {
		return false
	}
	return true
}

// fallbackReviews produces the bilingual blurb pair from category templates.
func fallbackReviews(title string) (es, en string) {
	lower := strings.ToLower(title)
	switch {
	case matchesAny(lower, techKeywords):
		return "Buena relación calidad-precio en tecnología, con valoraciones sólidas de los compradores.",
			"Solid value for money in tech, with strong buyer ratings."
	case matchesAny(lower, homeKeywords):
		return "Un imprescindible para el hogar a un precio difícil de ver.",
			"A household essential at a price you rarely see."
	case matchesAny(lower, sportKeywords):
		return "Equipamiento deportivo fiable rebajado, ideal para entrenar en casa.",
			"Reliable sports gear on sale, great for home workouts."
	case matchesAny(lower, beautyKeywords):
		return "Producto de cuidado personal bien valorado, ahora con descuento.",
			"A well-rated personal care product, now discounted."
	default:
		return "Oferta destacada con un descuento real sobre el precio habitual.",
			"A standout deal with a genuine discount off the usual price."
	}
}

func matchesAny(title string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}
