package parser

import (
	"log/slog"
	"math/rand"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chollohub/dealbot/internal/models"
)

var (
	urlRegex  = regexp.MustCompile(`https?://[^\s]+`)
	asinRegex = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)

	// Labeled price lines look like "💰 Precio/Price: €18.59 (PVP:€28.49)".
	priceValueRegex = regexp.MustCompile(`[€£$]\s*(\d+[.,]\d{1,2})|(\d+[.,]\d{1,2})\s*[€£$]`)
	blockPriceRegex = regexp.MustCompile(`(?i)(?:Precio/Price:|Price:|Precio:)?\s*[€£$]?\s*(\d+[.,]\d{1,2})\s*[€£$]?`)
	pvpRegex        = regexp.MustCompile(`(?i)\(PVP:\s*[€£$]?\s*(\d+[.,]\d{1,2})\s*[€£$]?\)`)
	discountRegex   = regexp.MustCompile(`\(?-(\d+)%\)?`)

	separatorRegex = regexp.MustCompile(`^[━─—-]{3,}\s*$|^🎯\s*#\d+`)
	langFlagRegex  = regexp.MustCompile(`🇪🇸|🇬🇧|\b(?:ES|EN|UK|GB)\b`)
	englishMarker  = regexp.MustCompile(`🇬🇧|\b(?:EN|UK|GB)\b`)
	spanishMarker  = regexp.MustCompile(`🇪🇸|\bES\b`)

	emojiStripRegex  = regexp.MustCompile(`[🔥📅💰💸🛒🎯⭐📋━─]+`)
	dealNumberRegex  = regexp.MustCompile(`#\d+\s*-?\s*\d*°?`)
	priceLabelRegex  = regexp.MustCompile(`(?i)Precio/Price:.*`)
	discLabelRegex   = regexp.MustCompile(`(?i)Descuento/Discount:.*`)
	whitespaceRegexp = regexp.MustCompile(`\s+`)
)

const maxTitleLen = 200

// Parser extracts candidate deal records from feed text files.
type Parser struct {
	entropy *rand.Rand
}

func New() *Parser {
	return &Parser{entropy: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// ParseFile reads and parses one feed file.
func (p *Parser) ParseFile(path string) ([]models.RawDeal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.Parse(string(data)), nil
}

// Parse splits the feed text into blocks and extracts one RawDeal per block.
// Malformed blocks are skipped with a warning; Parse never fails the batch.
func (p *Parser) Parse(content string) []models.RawDeal {
	var deals []models.RawDeal
	for _, block := range splitBlocks(content) {
		deal, ok := p.parseBlock(block)
		if !ok {
			continue
		}
		deals = append(deals, deal)
	}
	slog.Info("Parsed feed content", "deals", len(deals))
	return deals
}

// splitBlocks cuts the feed into deal blocks at separator rules, "#N" deal
// headers, and runs of blank lines. Banner lines (🔥 header, 📅 date) are
// dropped entirely.
func splitBlocks(content string) []string {
	var blocks []string
	var current []string
	blankRun := 0

	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		stripped := strings.TrimSpace(line)

		if stripped == "" {
			blankRun++
			if blankRun >= 2 {
				flush()
			}
			continue
		}
		blankRun = 0

		if strings.Contains(stripped, "🔥") || strings.Contains(stripped, "📅") {
			continue
		}
		if separatorRegex.MatchString(stripped) {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

func (p *Parser) parseBlock(block string) (models.RawDeal, bool) {
	urlMatch := urlRegex.FindString(block)
	if urlMatch == "" {
		slog.Warn("No URL found in block, skipping", "block", truncate(block, 50))
		return models.RawDeal{}, false
	}

	var asin string
	if m := asinRegex.FindStringSubmatch(urlMatch); m != nil {
		asin = m[1]
	}

	statedPrice, statedPVP := p.extractPrices(block)
	statedDiscount := extractDiscount(block)

	currency := models.CurrencyEUR
	upper := strings.ToUpper(block)
	switch {
	case strings.Contains(block, "£") || strings.Contains(upper, "GBP"):
		currency = models.CurrencyGBP
	case strings.Contains(block, "$") || strings.Contains(upper, "USD"):
		currency = models.CurrencyUSD
	}

	langTag := langFlagRegex.FindString(block)

	titleES, titleEN := extractFlaggedTitles(block)
	title := titleEN
	if title == "" {
		title = titleES
	}
	if title == "" {
		title = cleanBlockTitle(block)
	}
	if title == "" {
		id := asin
		if id == "" {
			id = "Unknown"
		}
		title = "Deal " + id
	}

	deal := models.RawDeal{
		DealID:            ulid.MustNew(ulid.Now(), p.entropy).String(),
		Title:             title,
		TitleES:           titleES,
		TitleEN:           titleEN,
		URL:               urlMatch,
		ASIN:              asin,
		StatedPrice:       statedPrice,
		StatedPVP:         statedPVP,
		StatedDiscountPct: statedDiscount,
		Currency:          currency,
		LanguageTag:       langTag,
		Status:            models.StatusParsed,
	}
	return deal, true
}

// extractPrices prefers a labeled price line and its "(PVP: …)" annotation,
// falling back to a block-wide price scan when no labeled line matches.
func (p *Parser) extractPrices(block string) (stated, pvp *float64) {
	for _, line := range strings.Split(block, "\n") {
		if !strings.Contains(line, "Precio") && !strings.Contains(line, "Price:") && !strings.Contains(line, "💰") {
			continue
		}
		if m := priceValueRegex.FindStringSubmatch(line); m != nil {
			raw := m[1]
			if raw == "" {
				raw = m[2]
			}
			stated = parseDecimal(raw)
		}
		if m := pvpRegex.FindStringSubmatch(line); m != nil {
			pvp = parseDecimal(m[1])
		}
		break
	}

	if stated == nil {
		if m := blockPriceRegex.FindStringSubmatch(block); m != nil {
			stated = parseDecimal(m[1])
		}
	}
	return stated, pvp
}

func extractDiscount(block string) *float64 {
	for _, line := range strings.Split(block, "\n") {
		if !strings.Contains(line, "Descuento") && !strings.Contains(line, "Discount:") && !strings.Contains(line, "💸") {
			continue
		}
		if m := discountRegex.FindStringSubmatch(line); m != nil {
			return parseDecimal(m[1])
		}
		break
	}
	return nil
}

// extractFlaggedTitles returns the Spanish and English title lines when the
// block marks them with language flags. English wins as the primary title.
func extractFlaggedTitles(block string) (es, en string) {
	for _, line := range strings.Split(block, "\n") {
		switch {
		case en == "" && englishMarker.MatchString(line):
			en = cleanTitleLine(line, englishMarker)
		case es == "" && spanishMarker.MatchString(line):
			es = cleanTitleLine(line, spanishMarker)
		}
	}
	return es, en
}

func cleanTitleLine(line string, marker *regexp.Regexp) string {
	line = marker.ReplaceAllString(line, "")
	line = urlRegex.ReplaceAllString(line, "")
	line = emojiStripRegex.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

// cleanBlockTitle derives a title from the whole block by stripping URLs,
// price/discount annotations and emoji, then collapsing whitespace.
func cleanBlockTitle(block string) string {
	title := urlRegex.ReplaceAllString(block, "")
	title = priceLabelRegex.ReplaceAllString(title, "")
	title = discLabelRegex.ReplaceAllString(title, "")
	title = emojiStripRegex.ReplaceAllString(title, "")
	title = dealNumberRegex.ReplaceAllString(title, "")
	title = whitespaceRegexp.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)
	return truncate(title, maxTitleLen)
}

func parseDecimal(s string) *float64 {
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		slog.Warn("Failed to parse decimal", "value", s)
		return nil
	}
	return &v
}

// truncate caps s at n characters, never splitting a multibyte rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
