package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/chollohub/dealbot/internal/models"
)

const sampleFeed = `🔥 CHOLLOS DEL DÍA 🔥
📅 2026-08-30

🎯 #1
🇪🇸 Auriculares inalámbricos con cancelación de ruido
🇬🇧 Wireless noise cancelling headphones
💰 Precio/Price: €45.99 (PVP:€65.00)
💸 Descuento/Discount: (-29%)
🛒 https://www.amazon.es/dp/B0EXAMPLE1?th=1
━━━━━━━━━━━━━━
🎯 #2
Teclado mecánico RGB
💰 Precio/Price: €18,59
🛒 https://amzn.to/3abcdef
`

func TestParseExtractsFields(t *testing.T) {
	deals := New().Parse(sampleFeed)
	if len(deals) != 2 {
		t.Fatalf("expected 2 deals, got %d", len(deals))
	}

	first := deals[0]
	if first.ASIN != "B0EXAMPLE1" {
		t.Errorf("ASIN = %q, want B0EXAMPLE1", first.ASIN)
	}
	if first.URL != "https://www.amazon.es/dp/B0EXAMPLE1?th=1" {
		t.Errorf("URL = %q", first.URL)
	}
	if first.StatedPrice == nil || *first.StatedPrice != 45.99 {
		t.Errorf("StatedPrice = %v, want 45.99", first.StatedPrice)
	}
	if first.StatedPVP == nil || *first.StatedPVP != 65.00 {
		t.Errorf("StatedPVP = %v, want 65.00", first.StatedPVP)
	}
	if first.StatedDiscountPct == nil || *first.StatedDiscountPct != 29 {
		t.Errorf("StatedDiscountPct = %v, want 29", first.StatedDiscountPct)
	}
	if first.Currency != models.CurrencyEUR {
		t.Errorf("Currency = %q, want EUR", first.Currency)
	}
	if first.TitleEN != "Wireless noise cancelling headphones" {
		t.Errorf("TitleEN = %q", first.TitleEN)
	}
	if first.TitleES != "Auriculares inalámbricos con cancelación de ruido" {
		t.Errorf("TitleES = %q", first.TitleES)
	}
	if first.Title != first.TitleEN {
		t.Errorf("Title should prefer English line, got %q", first.Title)
	}
	if first.Status != models.StatusParsed {
		t.Errorf("Status = %q, want parsed", first.Status)
	}
	if first.DealID == "" {
		t.Error("DealID not minted")
	}

	second := deals[1]
	if second.ASIN != "" {
		t.Errorf("short link should yield empty ASIN, got %q", second.ASIN)
	}
	if second.StatedPrice == nil || *second.StatedPrice != 18.59 {
		t.Errorf("comma decimal StatedPrice = %v, want 18.59", second.StatedPrice)
	}
	if second.StatedPVP != nil {
		t.Errorf("StatedPVP = %v, want nil", second.StatedPVP)
	}
	if second.StatedDiscountPct != nil {
		t.Errorf("StatedDiscountPct = %v, want nil", second.StatedDiscountPct)
	}
	if first.DealID == second.DealID {
		t.Error("deal IDs must be unique")
	}
}

func TestParseSkipsBlockWithoutURL(t *testing.T) {
	feed := "Producto sin enlace\n💰 Precio/Price: €9.99\n━━━━━━━━━━\nOtro producto\n🛒 https://www.amazon.es/dp/B0EXAMPLE2\n"
	deals := New().Parse(feed)
	if len(deals) != 1 {
		t.Fatalf("expected 1 deal, got %d", len(deals))
	}
	if deals[0].ASIN != "B0EXAMPLE2" {
		t.Errorf("ASIN = %q", deals[0].ASIN)
	}
}

func TestParseBlankLineRunSeparatesBlocks(t *testing.T) {
	feed := "Deal one\n🛒 https://www.amazon.es/dp/B0AAAAAAA1\n\n\nDeal two\n🛒 https://www.amazon.es/dp/B0BBBBBBB2\n"
	deals := New().Parse(feed)
	if len(deals) != 2 {
		t.Fatalf("expected 2 deals, got %d", len(deals))
	}
}

func TestParseCurrencySniffing(t *testing.T) {
	tests := []struct {
		line string
		want models.Currency
	}{
		{"💰 Precio/Price: £12.50", models.CurrencyGBP},
		{"💰 Precio/Price: $12.50", models.CurrencyUSD},
		{"💰 Precio/Price: €12.50", models.CurrencyEUR},
		{"💰 Precio/Price: 12.50", models.CurrencyEUR},
	}
	for _, tc := range tests {
		feed := "Some product\n" + tc.line + "\n🛒 https://www.amazon.es/dp/B0CCCCCCC3\n"
		deals := New().Parse(feed)
		if len(deals) != 1 {
			t.Fatalf("%q: expected 1 deal, got %d", tc.line, len(deals))
		}
		if deals[0].Currency != tc.want {
			t.Errorf("%q: Currency = %q, want %q", tc.line, deals[0].Currency, tc.want)
		}
	}
}

func TestParseDefaultTitle(t *testing.T) {
	feed := "🛒 https://www.amazon.es/dp/B0DDDDDDD4\n"
	deals := New().Parse(feed)
	if len(deals) != 1 {
		t.Fatalf("expected 1 deal, got %d", len(deals))
	}
	if deals[0].Title != "Deal B0DDDDDDD4" {
		t.Errorf("Title = %q, want default with ASIN", deals[0].Title)
	}
}

func TestParseTitleTruncated(t *testing.T) {
	long := strings.Repeat("a", 300)
	feed := long + "\n🛒 https://www.amazon.es/dp/B0EEEEEEE5\n"
	deals := New().Parse(feed)
	if len(deals) != 1 {
		t.Fatalf("expected 1 deal, got %d", len(deals))
	}
	if len(deals[0].Title) != 200 {
		t.Errorf("Title length = %d, want 200", len(deals[0].Title))
	}
}

func TestParseTitleTruncationKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("a", 199) + "ñandú"
	feed := long + "\n🛒 https://www.amazon.es/dp/B0FFFFFFF6\n"
	deals := New().Parse(feed)
	if len(deals) != 1 {
		t.Fatalf("expected 1 deal, got %d", len(deals))
	}
	title := deals[0].Title
	if !utf8.ValidString(title) {
		t.Fatalf("truncated title is not valid UTF-8: %q", title)
	}
	if got := len([]rune(title)); got != 200 {
		t.Errorf("Title rune length = %d, want 200", got)
	}
	if !strings.HasSuffix(title, "ñ") {
		t.Errorf("Title = %q, want it to end on the whole rune ñ", title)
	}
}
