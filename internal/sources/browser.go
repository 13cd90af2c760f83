package sources

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/chollohub/dealbot/internal/models"
	"github.com/chollohub/dealbot/internal/util"
)

// BrowserScraper renders a product page in a headless browser and extracts
// pricing data from the DOM. It is the lowest-priority enrichment source and
// only runs when the cheaper sources left gaps.
type BrowserScraper interface {
	Fetch(ctx context.Context, asin, marketplace string) (models.SourceSignal, error)
}

type ChromeScraper struct {
	renderWait time.Duration
	maxRetries int
}

func NewChromeScraper() *ChromeScraper {
	return &ChromeScraper{renderWait: 3 * time.Second, maxRetries: 2}
}

var (
	deliveryFeeRegex  = regexp.MustCompile(`(\d+[.,]\d{2})\s*€\s*de env[ií]o|env[ií]o:?\s*[€£$]?\s*(\d+[.,]\d{2})|delivery\s*[€£$]?\s*(\d+[.,]\d{2})`)
	freeDeliveryRegex = regexp.MustCompile(`(?i)env[ií]o\s+GRATIS|FREE\s+delivery`)
	savingsPctRegex   = regexp.MustCompile(`-?(\d+)\s*%`)
)

func productPageURL(asin, marketplace string) string {
	return fmt.Sprintf("https://www.amazon.%s/dp/%s", marketplaceTLD(marketplace), asin)
}

func marketplaceTLD(marketplace string) string {
	switch marketplace {
	case "uk":
		return "co.uk"
	case "us":
		return "com"
	default:
		return "es"
	}
}

// Fetch renders the product page and scrapes price, image, availability and
// delivery data. Retries use a short fixed ladder because a rendering failure
// is usually a bot wall, not a transient glitch.
func (s *ChromeScraper) Fetch(ctx context.Context, asin, marketplace string) (models.SourceSignal, error) {
	pageURL := productPageURL(asin, marketplace)

	var html string
	err := util.RetryWithBackoff(ctx, s.maxRetries, 2*time.Second, 4*time.Second, func(attempt int) error {
		if attempt > 0 {
			slog.Warn("Retrying browser render", "asin", asin, "attempt", attempt)
		}
		var renderErr error
		html, renderErr = s.render(ctx, pageURL)
		return renderErr
	})
	if err != nil {
		slog.Warn("Browser scrape failed", "asin", asin, "error", err)
		return models.SourceSignal{ASIN: asin, Success: false, Err: err.Error()}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.SourceSignal{ASIN: asin, Success: false, Err: err.Error()}, fmt.Errorf("failed to parse rendered page: %w", err)
	}
	return s.extract(asin, doc), nil
}

func (s *ChromeScraper) render(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, 60*time.Second)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(s.renderWait),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", pageURL, err)
	}
	return html, nil
}

func (s *ChromeScraper) extract(asin string, doc *goquery.Document) models.SourceSignal {
	signal := models.SourceSignal{ASIN: asin, Success: true}

	if img := doc.Find("#landingImage"); img.Length() > 0 {
		if hires, ok := img.Attr("data-old-hires"); ok && hires != "" {
			signal.ImageURL = hires
		} else if src, ok := img.Attr("src"); ok {
			signal.ImageURL = src
		}
	}

	if price := doc.Find(".a-price .a-offscreen").First(); price.Length() > 0 {
		signal.CurrentPrice = util.ParsePrice(price.Text())
	}

	original := doc.Find(".basisPrice .a-offscreen").First()
	if original.Length() == 0 {
		original = doc.Find(".a-text-price .a-offscreen").First()
	}
	if original.Length() > 0 {
		signal.OriginalPrice = util.ParsePrice(original.Text())
	}

	if savings := doc.Find(".savingsPercentage").First(); savings.Length() > 0 {
		if m := savingsPctRegex.FindStringSubmatch(savings.Text()); m != nil {
			signal.DiscountPct = util.ParsePrice(m[1])
		}
	}

	if avail := doc.Find("#availability span").First(); avail.Length() > 0 {
		signal.Availability = strings.TrimSpace(avail.Text())
	}

	bodyText := doc.Find("body").Text()
	if freeDeliveryRegex.MatchString(bodyText) {
		signal.DeliveryCost = models.Float(0)
	} else if m := deliveryFeeRegex.FindStringSubmatch(bodyText); m != nil {
		for _, group := range m[1:] {
			if group != "" {
				signal.DeliveryCost = util.ParsePrice(group)
				break
			}
		}
		if signal.DeliveryCost != nil && *signal.DeliveryCost > 0 {
			signal.HasMandatoryDelivery = true
		}
	}

	if signal.CurrentPrice == nil && signal.ImageURL == "" {
		signal.Success = false
		signal.Err = "no usable data on rendered page"
	}
	return signal
}
