package models

import (
	"strings"
	"time"
)

// Currency identifies the marketplace currency a deal was listed in.
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyUSD Currency = "USD"
)

// Symbol returns the display symbol for the currency.
func (c Currency) Symbol() string {
	switch c {
	case CurrencyGBP:
		return "£"
	case CurrencyUSD:
		return "$"
	default:
		return "€"
	}
}

// Marketplace returns the marketplace code used by the source adapters.
func (c Currency) Marketplace() string {
	switch c {
	case CurrencyGBP:
		return "uk"
	case CurrencyUSD:
		return "us"
	default:
		return "es"
	}
}

// DealStatus tracks a deal through the pipeline.
type DealStatus string

const (
	StatusParsed    DealStatus = "parsed"
	StatusValidated DealStatus = "validated"
	StatusPublished DealStatus = "published"
	StatusFailed    DealStatus = "failed"
)

// AvailabilityNow is the only availability code treated as in-stock.
const AvailabilityNow = "Now"

// RawDeal is one candidate deal extracted from a feed text block.
// Fields hold exactly what the text stated; nothing here has been
// validated against external sources yet.
type RawDeal struct {
	DealID            string `validate:"required"`
	Title             string `validate:"required"`
	TitleES           string
	TitleEN           string
	URL               string `validate:"required,url"`
	ASIN              string `validate:"omitempty,len=10,alphanum"`
	StatedPrice       *float64
	StatedPVP         *float64
	StatedDiscountPct *float64
	Currency          Currency
	LanguageTag       string
	Status            DealStatus
}

// SourceSignal is one normalized response from a single external source.
// A failed lookup is represented as Success=false with Err set; callers
// treat that the same as an absent signal.
type SourceSignal struct {
	ASIN                 string
	Title                string
	CurrentPrice         *float64
	OriginalPrice        *float64
	DiscountPct          *float64
	ImageURL             string
	Availability         string
	Rating               *float64
	RatingCount          *int
	DeliveryCost         *float64
	HasMandatoryDelivery bool
	Success              bool
	Err                  string
}

// CanonicalDeal is the reconciled record the filter and publisher consume.
type CanonicalDeal struct {
	DealID        string `validate:"required"`
	ASIN          string
	Title         string
	URL           string `validate:"required,url"`
	Currency      Currency
	CurrentPrice  *float64
	OriginalPrice *float64
	DiscountPct   *float64
	AdjustedPrice float64
	ImageURL      string `validate:"omitempty,url"`
	Availability  string
	Rating        *float64
	RatingCount   *int

	DeliveryCost         *float64
	HasMandatoryDelivery bool

	NeedsReview bool
	AIApproved  bool
	ReviewES    string
	ReviewEN    string
}

// PublishDecision is the filter verdict for one deal.
type PublishDecision struct {
	Publish bool
	Reason  string
}

// PublishOutcome records the result of sending one deal to its destinations.
type PublishOutcome struct {
	DealID       string
	Destinations []string
	MessageIDs   map[string]string
	SentAt       time.Time
	Success      bool
	Err          string
}

// ShortLink is the result of shortening a deal URL.
type ShortLink struct {
	ShortURL string
	LongURL  string
	Provider string
}

// PersistedDeal is the durable row written after every publish attempt.
type PersistedDeal struct {
	DealID         string
	ASIN           string
	Title          string
	SrcURL         string
	ValidatedPrice *float64
	AdjustedPrice  float64
	ListPrice      *float64
	DiscountPct    *float64
	Popularity     int
	Currency       Currency
	Rating         *float64
	RatingCount    *int
	ShortURL       string
	Provider       string
	NeedsReview    bool
	CreatedAt      time.Time
	PublishedAt    *time.Time
	Status         DealStatus
}

// Stars renders a five-star rating line, e.g. 4.5 -> "★★★★☆".
func Stars(value float64) string {
	full := int(value)
	if full > 5 {
		full = 5
	}
	half := 0
	if value-float64(full) >= 0.5 && full < 5 {
		half = 1
	}
	var b strings.Builder
	b.WriteString(strings.Repeat("★", full))
	if half == 1 {
		b.WriteString("☆")
	}
	b.WriteString(strings.Repeat("☆", 5-full-half))
	return b.String()
}

// Float is a convenience for building optional decimal fields.
func Float(v float64) *float64 { return &v }

// Int is a convenience for building optional integer fields.
func Int(v int) *int { return &v }
