package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chollohub/dealbot/internal/validator"
)

// Thresholds holds the tunable decision constants of the pipeline.
// The duplicate price-delta and the price-discrepancy thresholds are
// deliberately separate values; they guard different decisions.
type Thresholds struct {
	MinDiscountPct           float64       `yaml:"min_discount_pct"`
	LowPriceCeiling          float64       `yaml:"low_price_ceiling"`
	LowPriceMinDiscountPct   float64       `yaml:"low_price_min_discount_pct"`
	PriceToleranceRatio      float64       `yaml:"price_tolerance_ratio"`
	DiscountDropTolerancePts float64       `yaml:"discount_drop_tolerance_pts"`
	PriceSanityMinRatio      float64       `yaml:"price_sanity_min_ratio"`
	PriceSanityMaxRatio      float64       `yaml:"price_sanity_max_ratio"`
	PriceDiscrepancyPct      float64       `yaml:"price_discrepancy_pct"`
	DuplicatePriceDeltaPct   float64       `yaml:"duplicate_price_delta_pct"`
	DuplicateWindow          time.Duration `yaml:"duplicate_window"`
	PriceMultiplier          float64       `yaml:"price_multiplier"`
	PriceAdditive            float64       `yaml:"price_additive"`
}

// DefaultThresholds returns the production decision constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDiscountPct:           20,
		LowPriceCeiling:          20,
		LowPriceMinDiscountPct:   15,
		PriceToleranceRatio:      1.10,
		DiscountDropTolerancePts: 10,
		PriceSanityMinRatio:      0.5,
		PriceSanityMaxRatio:      2.0,
		PriceDiscrepancyPct:      15,
		DuplicatePriceDeltaPct:   10,
		DuplicateWindow:          7 * 24 * time.Hour,
		PriceMultiplier:          1.0,
		PriceAdditive:            0.0,
	}
}

type Config struct {
	Port      string `validate:"required"`
	SourceDir string `validate:"required"`
	DBPath    string `validate:"required"`

	ProductAPIBaseURL string
	ProductAPIKey     string
	PartnerTag        string

	ScrapeAPIBaseURL  string
	ScrapeAPIKey      string
	ScrapeServiceName string
	ScrapeMaxWait     time.Duration

	GeminiAPIKey string
	GeminiModel  string

	MessagingBaseURL string `validate:"required,url"`
	MessagingAPIKey  string
	ChannelJID       string
	GroupJID         string
	StatusJID        string
	SummaryJID       string

	ShortlinkProvider string `validate:"oneof=bitly worker direct"`
	ShortlinkDomain   string
	BitlyToken        string

	Timezone      string `validate:"required"`
	ScheduleHours []int

	InterDealDelay time.Duration
	MaxFilesPerRun int

	Thresholds Thresholds
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load builds the configuration from environment variables plus an optional
// YAML thresholds file pointed at by DEALBOT_THRESHOLDS.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      getenv("PORT", "8080"),
		SourceDir: getenv("DEAL_SOURCE_DIR", "./deals"),
		DBPath:    getenv("DEALBOT_DB_PATH", "dealbot.db"),

		ProductAPIBaseURL: getenv("PRODUCT_API_BASE_URL", "https://product-api.internal"),
		ProductAPIKey:     os.Getenv("PRODUCT_API_KEY"),
		PartnerTag:        getenv("AMAZON_AFFILIATE_TAG", "chollohub-21"),

		ScrapeAPIBaseURL:  getenv("SCRAPE_API_BASE_URL", "https://api.datapipeplatform.cloud"),
		ScrapeAPIKey:      os.Getenv("SCRAPE_API_KEY"),
		ScrapeServiceName: getenv("SCRAPE_SERVICE_NAME", "amazon_products_service_v2"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getenv("GEMINI_MODEL", "gemini-2.0-flash-001"),

		MessagingBaseURL: getenv("WHAPI_BASE_URL", "https://gate.whapi.cloud"),
		MessagingAPIKey:  os.Getenv("WHAPI_API_KEY"),
		ChannelJID:       os.Getenv("WHATSAPP_CHANNEL_JID"),
		GroupJID:         os.Getenv("WHATSAPP_GROUP_JID"),
		StatusJID:        os.Getenv("WHATSAPP_STATUS_JID"),
		SummaryJID:       os.Getenv("WHATSAPP_SUMMARY_JID"),

		ShortlinkProvider: getenv("SHORTLINK_PROVIDER", "direct"),
		ShortlinkDomain:   os.Getenv("SHORTLINK_DOMAIN"),
		BitlyToken:        os.Getenv("BITLY_TOKEN"),

		Timezone:      getenv("DEALBOT_TIMEZONE", "Europe/Madrid"),
		ScheduleHours: []int{6, 18},

		Thresholds: DefaultThresholds(),
	}

	if cfg.ProductAPIKey == "" {
		slog.Warn("PRODUCT_API_KEY not set, price validation will fall back to stated prices")
	}
	if cfg.MessagingAPIKey == "" {
		slog.Warn("WHAPI_API_KEY not set, publishing will fail")
	}
	if cfg.GeminiAPIKey == "" {
		slog.Info("GEMINI_API_KEY not set, using local fallback validation")
	}

	var err error
	cfg.ScrapeMaxWait, err = parseDuration("SCRAPE_MAX_WAIT", "60s")
	if err != nil {
		return nil, err
	}
	cfg.InterDealDelay, err = parseDuration("INTER_DEAL_DELAY", "2s")
	if err != nil {
		return nil, err
	}

	cfg.MaxFilesPerRun = 5
	if v := os.Getenv("MAX_FILES_PER_RUN"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_FILES_PER_RUN %q: %w", v, err)
		}
		cfg.MaxFilesPerRun = parsed
	}

	if path := os.Getenv("DEALBOT_THRESHOLDS"); path != "" {
		if err := loadThresholds(path, &cfg.Thresholds); err != nil {
			return nil, fmt.Errorf("loading thresholds from %s: %w", path, err)
		}
		slog.Info("Loaded thresholds override", "path", path)
	}

	if err := validator.New().ValidateStruct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := getenv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func loadThresholds(path string, t *Thresholds) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, t)
}
