package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chollohub/dealbot/internal/config"
	"github.com/chollohub/dealbot/internal/filter"
	"github.com/chollohub/dealbot/internal/models"
	"github.com/chollohub/dealbot/internal/reconcile"
)

type mockStore struct {
	prior      *models.PersistedDeal
	priorErr   error
	saved      []models.PersistedDeal
	events     []string
	topDeals   []models.PersistedDeal
	topDealErr error
}

func (m *mockStore) RecentPublished(context.Context, string, time.Time) (*models.PersistedDeal, error) {
	return m.prior, m.priorErr
}

func (m *mockStore) SaveDeal(_ context.Context, deal models.PersistedDeal, _ *models.PublishOutcome) error {
	m.saved = append(m.saved, deal)
	return nil
}

func (m *mockStore) LogEvent(_ context.Context, _, event, detail string) error {
	m.events = append(m.events, event+":"+detail)
	return nil
}

func (m *mockStore) TopDealsToday(context.Context, int) ([]models.PersistedDeal, error) {
	return m.topDeals, m.topDealErr
}

type mockSender struct {
	sends   []string // destination list joined
	message string
	fail    bool
}

func (m *mockSender) Send(_ context.Context, destinations []string, message, _ string) models.PublishOutcome {
	m.sends = append(m.sends, strings.Join(destinations, ","))
	m.message = message
	outcome := models.PublishOutcome{
		Destinations: destinations,
		MessageIDs:   make(map[string]string),
		SentAt:       time.Now().UTC(),
	}
	if m.fail {
		outcome.Err = "gateway down"
		return outcome
	}
	for _, d := range destinations {
		outcome.MessageIDs[d] = "msg-" + d
	}
	outcome.Success = true
	return outcome
}

type mockParser struct {
	deals []models.RawDeal
}

func (m *mockParser) ParseFile(string) ([]models.RawDeal, error) {
	return m.deals, nil
}

type mockProduct struct {
	signal models.SourceSignal
	err    error
	calls  int
}

func (m *mockProduct) Fetch(context.Context, string, string) (models.SourceSignal, error) {
	m.calls++
	return m.signal, m.err
}

type mockScrape struct {
	signals map[string]models.SourceSignal
	calls   int
}

func (m *mockScrape) FetchBatch(_ context.Context, asins []string, _ string) (map[string]models.SourceSignal, error) {
	m.calls++
	out := make(map[string]models.SourceSignal)
	for _, asin := range asins {
		if sig, ok := m.signals[asin]; ok {
			out[asin] = sig
		}
	}
	return out, nil
}

type mockBrowser struct {
	signal models.SourceSignal
	calls  int
}

func (m *mockBrowser) Fetch(context.Context, string, string) (models.SourceSignal, error) {
	m.calls++
	return m.signal, nil
}

type mockShortener struct{}

func (m *mockShortener) Shorten(_ context.Context, longURL string) (models.ShortLink, error) {
	return models.ShortLink{ShortURL: "https://sho.rt/x", LongURL: longURL, Provider: "worker"}, nil
}

func (m *mockShortener) Name() string { return "worker" }

func testConfig() *config.Config {
	return &config.Config{
		PartnerTag:     "chollohub-21",
		ChannelJID:     "channel@news",
		GroupJID:       "group@g.us",
		StatusJID:      "status@s",
		SummaryJID:     "summary@s",
		MaxFilesPerRun: 5,
		Thresholds:     config.DefaultThresholds(),
	}
}

func goodRawDeal() models.RawDeal {
	return models.RawDeal{
		DealID:            "01TESTDEAL0000000000000000",
		Title:             "Wireless headphones",
		URL:               "https://www.amazon.es/dp/B0TESTASIN",
		ASIN:              "B0TESTASIN",
		StatedPrice:       models.Float(50),
		StatedDiscountPct: models.Float(30),
		Currency:          models.CurrencyEUR,
		Status:            models.StatusParsed,
	}
}

func goodProductSignal() models.SourceSignal {
	return models.SourceSignal{
		ASIN:          "B0TESTASIN",
		CurrentPrice:  models.Float(45),
		OriginalPrice: models.Float(65),
		ImageURL:      "https://img.example/a.jpg",
		Availability:  "Now",
		RatingCount:   models.Int(1234),
		Success:       true,
	}
}

func feedDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	name := fmt.Sprintf("deals_%s.txt", time.Now().Format("2006-01-02_1504"))
	if err := os.WriteFile(filepath.Join(dir, name), []byte("feed"), 0o644); err != nil {
		t.Fatalf("write feed file: %v", err)
	}
	return dir
}

func newTestRunner(cfg *config.Config, parser FeedParser, product *mockProduct, scrape *mockScrape,
	browser *mockBrowser, store *mockStore, sender *mockSender) *Runner {
	rec := reconcile.New(cfg.Thresholds, nil)
	f := filter.New(cfg.Thresholds)
	return New(cfg, parser, product, scrape, browser, rec, f, store, sender, &mockShortener{})
}

func TestRunOncePublishesDeal(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{}
	sender := &mockSender{}
	product := &mockProduct{signal: goodProductSignal()}
	scrape := &mockScrape{}
	browser := &mockBrowser{}
	runner := newTestRunner(cfg, &mockParser{deals: []models.RawDeal{goodRawDeal()}}, product, scrape, browser, store, sender)

	stats, err := runner.RunOnce(context.Background(), feedDir(t))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Published != 1 || stats.Skipped != 0 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	if len(store.saved) != 1 {
		t.Fatalf("saved = %d deals", len(store.saved))
	}
	saved := store.saved[0]
	if saved.Status != models.StatusPublished {
		t.Errorf("Status = %q", saved.Status)
	}
	if saved.Popularity != 1234 {
		t.Errorf("Popularity = %d, want rating count", saved.Popularity)
	}
	if saved.ShortURL != "https://sho.rt/x" {
		t.Errorf("ShortURL = %q", saved.ShortURL)
	}
	if !strings.Contains(saved.SrcURL, "tag=chollohub-21") {
		t.Errorf("SrcURL = %q, want affiliate tag", saved.SrcURL)
	}

	// deal message to channel+group, then the status update
	if len(sender.sends) != 2 {
		t.Fatalf("sends = %v", sender.sends)
	}
	if sender.sends[0] != "channel@news,group@g.us" {
		t.Errorf("sends[0] = %q", sender.sends[0])
	}
	if sender.sends[1] != "status@s" {
		t.Errorf("sends[1] = %q", sender.sends[1])
	}

	if browser.calls != 0 {
		t.Errorf("browser.calls = %d, image was already available", browser.calls)
	}
}

func TestRunOncePersistsNeedsReviewFlag(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{}
	sender := &mockSender{}
	raw := goodRawDeal()
	// 25% gap between stated 60 and resolved 45 flags the deal for review
	// while still publishing it.
	raw.StatedPrice = models.Float(60)
	runner := newTestRunner(cfg, &mockParser{deals: []models.RawDeal{raw}},
		&mockProduct{signal: goodProductSignal()}, &mockScrape{}, &mockBrowser{}, store, sender)

	stats, err := runner.RunOnce(context.Background(), feedDir(t))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Published != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(store.saved) != 1 || !store.saved[0].NeedsReview {
		t.Errorf("saved = %+v, want NeedsReview carried through", store.saved)
	}
}

func TestRunOnceSkipsDuplicate(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{prior: &models.PersistedDeal{ASIN: "B0TESTASIN", AdjustedPrice: 44}}
	sender := &mockSender{}
	runner := newTestRunner(cfg, &mockParser{deals: []models.RawDeal{goodRawDeal()}},
		&mockProduct{signal: goodProductSignal()}, &mockScrape{}, &mockBrowser{}, store, sender)

	// current 45 vs prior 44 is about 2%, inside the 10% delta
	stats, err := runner.RunOnce(context.Background(), feedDir(t))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Duplicates != 1 || stats.Skipped != 0 || stats.Published != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(store.saved) != 0 {
		t.Errorf("duplicate must not be persisted")
	}
	if !strings.Contains(strings.Join(store.events, ";"), "duplicate") {
		t.Errorf("events = %v", store.events)
	}
	// The status update is the only send; duplicates get their own count.
	if !strings.Contains(sender.message, "1 duplicates") {
		t.Errorf("status message = %q, want duplicate count surfaced", sender.message)
	}
}

func TestRunOncePublishesWhenPriceMoved(t *testing.T) {
	cfg := testConfig()
	// prior at 60, current 45 is a 25% drop, outside the 10% delta
	store := &mockStore{prior: &models.PersistedDeal{ASIN: "B0TESTASIN", AdjustedPrice: 60}}
	sender := &mockSender{}
	runner := newTestRunner(cfg, &mockParser{deals: []models.RawDeal{goodRawDeal()}},
		&mockProduct{signal: goodProductSignal()}, &mockScrape{}, &mockBrowser{}, store, sender)

	stats, err := runner.RunOnce(context.Background(), feedDir(t))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Published != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRunOnceDuplicateCheckFailsOpen(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{priorErr: fmt.Errorf("database locked")}
	sender := &mockSender{}
	runner := newTestRunner(cfg, &mockParser{deals: []models.RawDeal{goodRawDeal()}},
		&mockProduct{signal: goodProductSignal()}, &mockScrape{}, &mockBrowser{}, store, sender)

	stats, err := runner.RunOnce(context.Background(), feedDir(t))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Published != 1 {
		t.Fatalf("stats = %+v, lookup failure must not suppress the deal", stats)
	}
}

func TestRunOnceRecordsFilterRejection(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{}
	sender := &mockSender{}
	signal := goodProductSignal()
	signal.ImageURL = ""
	browser := &mockBrowser{signal: models.SourceSignal{ASIN: "B0TESTASIN", Success: false, Err: "blocked"}}
	runner := newTestRunner(cfg, &mockParser{deals: []models.RawDeal{goodRawDeal()}},
		&mockProduct{signal: signal}, &mockScrape{}, browser, store, sender)

	stats, err := runner.RunOnce(context.Background(), feedDir(t))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if browser.calls != 1 {
		t.Errorf("browser.calls = %d, want fallback attempt for missing image", browser.calls)
	}
	joined := strings.Join(store.events, ";")
	if !strings.Contains(joined, "filter_reject:"+filter.ReasonNoImage) {
		t.Errorf("events = %v", store.events)
	}
}

func TestRunOnceCountsSendFailure(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{}
	sender := &mockSender{fail: true}
	runner := newTestRunner(cfg, &mockParser{deals: []models.RawDeal{goodRawDeal()}},
		&mockProduct{signal: goodProductSignal()}, &mockScrape{}, &mockBrowser{}, store, sender)

	stats, err := runner.RunOnce(context.Background(), feedDir(t))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Failed != 1 || stats.Published != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(store.saved) != 1 || store.saved[0].Status != models.StatusFailed {
		t.Errorf("saved = %+v", store.saved)
	}
}

func TestRunOnceSkipsAlreadyProcessedFiles(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{}
	sender := &mockSender{}
	runner := newTestRunner(cfg, &mockParser{deals: []models.RawDeal{goodRawDeal()}},
		&mockProduct{signal: goodProductSignal()}, &mockScrape{}, &mockBrowser{}, store, sender)

	dir := feedDir(t)
	if _, err := runner.RunOnce(context.Background(), dir); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	stats, err := runner.RunOnce(context.Background(), dir)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if stats.Files != 0 || stats.Processed != 0 {
		t.Errorf("second run stats = %+v, file must only be processed once", stats)
	}
}

type panickingProduct struct{}

func (panickingProduct) Fetch(context.Context, string, string) (models.SourceSignal, error) {
	panic("catalog client broke")
}

func TestRunOnceContainsPerDealPanic(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{}
	sender := &mockSender{}
	rec := reconcile.New(cfg.Thresholds, nil)
	f := filter.New(cfg.Thresholds)
	runner := New(cfg, &mockParser{deals: []models.RawDeal{goodRawDeal()}},
		panickingProduct{}, &mockScrape{}, &mockBrowser{}, rec, f, store, sender, &mockShortener{})

	stats, err := runner.RunOnce(context.Background(), feedDir(t))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Processed != 1 || stats.Skipped != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, panicking deal must count as skipped", stats)
	}
}

func TestRunOnceSkipsDealWithoutASIN(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{}
	sender := &mockSender{}
	raw := goodRawDeal()
	raw.ASIN = ""
	raw.URL = "https://amzn.to/3abcdef"
	runner := newTestRunner(cfg, &mockParser{deals: []models.RawDeal{raw}},
		&mockProduct{signal: goodProductSignal()}, &mockScrape{}, &mockBrowser{}, store, sender)

	stats, err := runner.RunOnce(context.Background(), feedDir(t))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSendDailySummary(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{topDeals: []models.PersistedDeal{
		{Title: "Top deal", AdjustedPrice: 45.99, Currency: models.CurrencyEUR, DiscountPct: models.Float(31)},
	}}
	sender := &mockSender{}
	runner := newTestRunner(cfg, &mockParser{}, &mockProduct{}, &mockScrape{}, &mockBrowser{}, store, sender)

	if err := runner.SendDailySummary(context.Background()); err != nil {
		t.Fatalf("SendDailySummary: %v", err)
	}
	if len(sender.sends) != 1 || sender.sends[0] != "summary@s" {
		t.Errorf("sends = %v", sender.sends)
	}
	if !strings.Contains(sender.message, "Top deal") {
		t.Errorf("message = %q", sender.message)
	}
}

func TestSendDailySummaryNoDeals(t *testing.T) {
	cfg := testConfig()
	sender := &mockSender{}
	runner := newTestRunner(cfg, &mockParser{}, &mockProduct{}, &mockScrape{}, &mockBrowser{}, &mockStore{}, sender)

	if err := runner.SendDailySummary(context.Background()); err != nil {
		t.Fatalf("SendDailySummary: %v", err)
	}
	if len(sender.sends) != 0 {
		t.Errorf("sends = %v, want none for an empty day", sender.sends)
	}
}
