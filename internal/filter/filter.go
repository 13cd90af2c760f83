package filter

import (
	"github.com/chollohub/dealbot/internal/config"
	"github.com/chollohub/dealbot/internal/models"
)

// Rejection and acceptance reasons. Rule order decides which reason wins
// when several rules would fire; tests pin both the strings and the order.
const (
	ReasonNoImage            = "no image available"
	ReasonNoOriginalPrice    = "no original price (PVP) found"
	ReasonNoDiscount         = "no discount information"
	ReasonPriceSanity        = "price sanity check failed"
	ReasonDiscountTooLow     = "discount below minimum threshold"
	ReasonMandatoryDelivery  = "mandatory delivery fee applies"
	ReasonNotApproved        = "not approved by validation"
	ReasonNoCurrentPrice     = "no current price (possibly out of stock)"
	ReasonNotAvailable       = "not available now"
	ReasonBetterThanExpected = "price better than expected"
	ReasonWithinTolerance    = "price within tolerance"
	ReasonDiscountDropped    = "discount dropped too much"
	ReasonPriceIncreased     = "price increased beyond tolerance"
	ReasonDiscountOK         = "discount meets threshold"
	ReasonLowPriceCarveOut   = "low price with acceptable discount"
	ReasonNoCriteria         = "no criteria met"
)

// rule inspects one aspect of the deal. A nil verdict passes control to the
// next rule; the first non-nil verdict is final.
type rule struct {
	name  string
	check func(raw models.RawDeal, deal models.CanonicalDeal, t config.Thresholds) *models.PublishDecision
}

type Filter struct {
	thresholds config.Thresholds
	rules      []rule
}

func New(thresholds config.Thresholds) *Filter {
	return &Filter{
		thresholds: thresholds,
		rules: []rule{
			{"image", checkImage},
			{"reference-pair", checkReferencePair},
			{"price-sanity", checkPriceSanity},
			{"minimum-discount", checkMinimumDiscount},
			{"delivery", checkDelivery},
			{"approval", checkApproval},
			{"current-price", checkCurrentPrice},
			{"availability", checkAvailability},
			{"stated-price", checkStatedPrice},
			{"no-reference", checkNoReference},
		},
	}
}

// Evaluate runs the rule chain in order and returns the first verdict. It is
// deterministic and free of side effects; duplicate suppression happens
// upstream in the orchestrator.
func (f *Filter) Evaluate(raw models.RawDeal, deal models.CanonicalDeal) models.PublishDecision {
	for _, r := range f.rules {
		if verdict := r.check(raw, deal, f.thresholds); verdict != nil {
			return *verdict
		}
	}
	return models.PublishDecision{Publish: false, Reason: ReasonNoCriteria}
}

func reject(reason string) *models.PublishDecision {
	return &models.PublishDecision{Publish: false, Reason: reason}
}

func accept(reason string) *models.PublishDecision {
	return &models.PublishDecision{Publish: true, Reason: reason}
}

func checkImage(_ models.RawDeal, deal models.CanonicalDeal, _ config.Thresholds) *models.PublishDecision {
	if deal.ImageURL == "" {
		return reject(ReasonNoImage)
	}
	return nil
}

// A publishable deal needs the full reference pair: a known original price
// and a discount. An explicit discount without its PVP is not enough, and
// vice versa.
func checkReferencePair(_ models.RawDeal, deal models.CanonicalDeal, _ config.Thresholds) *models.PublishDecision {
	if deal.OriginalPrice == nil {
		return reject(ReasonNoOriginalPrice)
	}
	if deal.DiscountPct == nil {
		return reject(ReasonNoDiscount)
	}
	return nil
}

// checkPriceSanity catches corrupted or mismatched listings where the
// resolved price bears no relation to what the feed claimed.
func checkPriceSanity(raw models.RawDeal, deal models.CanonicalDeal, t config.Thresholds) *models.PublishDecision {
	if raw.StatedPrice == nil || *raw.StatedPrice == 0 || deal.CurrentPrice == nil {
		return nil
	}
	ratio := *deal.CurrentPrice / *raw.StatedPrice
	if ratio < t.PriceSanityMinRatio || ratio > t.PriceSanityMaxRatio {
		return reject(ReasonPriceSanity)
	}
	return nil
}

// checkMinimumDiscount enforces the general discount floor. Cheap items that
// clear the lower carve-out threshold are exempted, but only when the feed
// carries no stated price; a deal with a stated reference must meet the full
// floor here rather than drift through to the tolerance comparison.
func checkMinimumDiscount(raw models.RawDeal, deal models.CanonicalDeal, t config.Thresholds) *models.PublishDecision {
	if deal.DiscountPct == nil || *deal.DiscountPct >= t.MinDiscountPct {
		return nil
	}
	if raw.StatedPrice == nil && deal.CurrentPrice != nil && *deal.CurrentPrice > 0 &&
		*deal.CurrentPrice <= t.LowPriceCeiling && *deal.DiscountPct >= t.LowPriceMinDiscountPct {
		return nil
	}
	return reject(ReasonDiscountTooLow)
}

func checkDelivery(_ models.RawDeal, deal models.CanonicalDeal, _ config.Thresholds) *models.PublishDecision {
	if deal.HasMandatoryDelivery {
		return reject(ReasonMandatoryDelivery)
	}
	return nil
}

func checkApproval(_ models.RawDeal, deal models.CanonicalDeal, _ config.Thresholds) *models.PublishDecision {
	if !deal.AIApproved {
		return reject(ReasonNotApproved)
	}
	return nil
}

func checkCurrentPrice(_ models.RawDeal, deal models.CanonicalDeal, _ config.Thresholds) *models.PublishDecision {
	if deal.CurrentPrice == nil {
		return reject(ReasonNoCurrentPrice)
	}
	return nil
}

func checkAvailability(_ models.RawDeal, deal models.CanonicalDeal, _ config.Thresholds) *models.PublishDecision {
	if deal.Availability != "" && deal.Availability != models.AvailabilityNow {
		return reject(ReasonNotAvailable)
	}
	return nil
}

// checkStatedPrice compares the resolved price against what the feed
// promised. Below the stated price is always good news; above it is accepted
// only within tolerance and only if the discount did not quietly collapse.
func checkStatedPrice(raw models.RawDeal, deal models.CanonicalDeal, t config.Thresholds) *models.PublishDecision {
	if raw.StatedPrice == nil || deal.CurrentPrice == nil {
		return nil
	}
	current, stated := *deal.CurrentPrice, *raw.StatedPrice

	if current < stated {
		return accept(ReasonBetterThanExpected)
	}
	if current <= stated*t.PriceToleranceRatio {
		if raw.StatedDiscountPct == nil {
			return accept(ReasonWithinTolerance)
		}
		if deal.DiscountPct != nil && *raw.StatedDiscountPct-*deal.DiscountPct <= t.DiscountDropTolerancePts {
			return accept(ReasonWithinTolerance)
		}
		return reject(ReasonDiscountDropped)
	}
	return reject(ReasonPriceIncreased)
}

// checkNoReference accepts deals that lack a stated-price reference on
// discount strength alone.
func checkNoReference(raw models.RawDeal, deal models.CanonicalDeal, t config.Thresholds) *models.PublishDecision {
	if raw.StatedPrice != nil {
		return nil
	}
	if deal.DiscountPct == nil {
		return nil
	}
	if *deal.DiscountPct >= t.MinDiscountPct {
		return accept(ReasonDiscountOK)
	}
	if deal.CurrentPrice != nil && *deal.CurrentPrice <= t.LowPriceCeiling && *deal.DiscountPct >= t.LowPriceMinDiscountPct {
		return accept(ReasonLowPriceCarveOut)
	}
	return nil
}
