package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pricewatch/database"
	"pricewatch/logger"
	"pricewatch/models"
	"pricewatch/repository"
	"pricewatch/scraper"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ItemStore
type memStore struct {
	mu        sync.Mutex
	items     []models.TrackedItem
	history   map[int64][]decimal.NullDecimal
	listErr   error
	updateErr error
}

func newMemStore(items ...models.TrackedItem) *memStore {
	return &memStore{items: items, history: map[int64][]decimal.NullDecimal{}}
}

func (m *memStore) ListActiveItems(context.Context) ([]models.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.TrackedItem
	for _, it := range m.items {
		if it.Active {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) find(id int64) *models.TrackedItem {
	for i := range m.items {
		if m.items[i].ID == id {
			return &m.items[i]
		}
	}
	return nil
}

func (m *memStore) UpdateLastPrice(_ context.Context, id int64, price decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	it := m.find(id)
	it.LastPrice = decimal.NewNullDecimal(price)
	it.LastCheckedAt = &at
	return nil
}

func (m *memStore) MarkNotified(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.find(id).Notified = true
	return nil
}

func (m *memStore) AddPriceHistory(_ context.Context, id int64, price decimal.NullDecimal, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[id] = append(m.history[id], price)
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *recordingNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, text)
	return nil
}

// fakeFetcher answers Check from a per-URL table
type fakeFetcher struct {
	prices map[string]string
	errs   map[string]error
	panics map[string]bool
	calls  []string
	closed bool
}

func (f *fakeFetcher) Check(_ context.Context, _ models.Site, url string) (decimal.Decimal, error) {
	f.calls = append(f.calls, url)
	if f.panics[url] {
		panic("browser crashed")
	}
	if err := f.errs[url]; err != nil {
		return decimal.Zero, err
	}
	return decimal.RequireFromString(f.prices[url]), nil
}

func (f *fakeFetcher) Close() error {
	f.closed = true
	return nil
}

func factoryFor(f PriceFetcher) FetcherFactory {
	return func(context.Context) (PriceFetcher, error) { return f, nil }
}

func item(id int64, site, url string, target int64) models.TrackedItem {
	return models.TrackedItem{ID: id, Site: site, ProductURL: url, TargetPrice: decimal.NewFromInt(target), Active: true}
}

func TestPriceChecker_DropAlertsOnce(t *testing.T) {
	store := newMemStore(item(1, "amazon", "https://a/1", 50000))
	notifier := &recordingNotifier{}
	fetcher := &fakeFetcher{prices: map[string]string{"https://a/1": "44999.00"}}
	pc := NewPriceChecker(store, notifier, factoryFor(fetcher))

	run, err := pc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Alerts)
	assert.True(t, fetcher.closed)

	require.Len(t, notifier.messages, 1)
	msg := notifier.messages[0]
	assert.True(t, strings.HasPrefix(msg, "💰 PRICE DROP ALERT!"))
	assert.Contains(t, msg, "Site: *amazon*")
	assert.Contains(t, msg, "Current Price: ₹44999.00")
	assert.Contains(t, msg, "Target Price: ₹50000.00")
	assert.True(t, store.items[0].Notified)

	// a second run sees notified=true and stays quiet
	_, err = pc.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.messages, 1)
	assert.Len(t, store.history[1], 2)
}

func TestPriceDropMessage_KeepsExtraDigits(t *testing.T) {
	tests := []struct {
		price, want string
	}{
		{"44.999", "₹44.999"},
		{"44999.00", "₹44999.00"},
		{"44999.5", "₹44999.50"},
		{"44999", "₹44999.00"},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			msg := PriceDropMessage("amazon", "https://a/1", decimal.RequireFromString(tt.price), decimal.NewFromInt(50000))
			assert.Contains(t, msg, "\nCurrent Price: "+tt.want+"\n")
			assert.True(t, strings.HasSuffix(msg, "Target Price: ₹50000.00"))
		})
	}
}

func TestPriceChecker_LogsItemLabelAndPreviousPrice(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Options{Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	t.Cleanup(func() { logger.Init(logger.Options{}) })

	named := item(1, "flipkart", "https://f/1", 1000)
	named.Name = "Headphones"
	named.LastPrice = decimal.NewNullDecimal(decimal.NewFromInt(1500))
	store := newMemStore(named, item(2, "flipkart", "https://f/2", 1000))
	fetcher := &fakeFetcher{prices: map[string]string{"https://f/1": "1200", "https://f/2": "1300"}}
	pc := NewPriceChecker(store, &recordingNotifier{}, factoryFor(fetcher))

	_, err := pc.Run(context.Background())
	require.NoError(t, err)

	var first, second string
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.Contains(line, `msg="price fetched"`) {
			continue
		}
		if strings.Contains(line, "item_id=1 ") {
			first = line
		} else if strings.Contains(line, "item_id=2 ") {
			second = line
		}
	}
	assert.Contains(t, first, "item=Headphones")
	assert.Contains(t, first, "price=1200.00")
	assert.Contains(t, first, "previous_price=1500.00")
	assert.Contains(t, second, "item=https://f/2")
	assert.NotContains(t, second, "previous_price")
}

func TestPriceChecker_PriceAtOrAboveTargetIsOK(t *testing.T) {
	store := newMemStore(
		item(1, "flipkart", "https://f/1", 1000),
		item(2, "flipkart", "https://f/2", 1000),
	)
	notifier := &recordingNotifier{}
	fetcher := &fakeFetcher{prices: map[string]string{"https://f/1": "1000", "https://f/2": "1200"}}
	pc := NewPriceChecker(store, notifier, factoryFor(fetcher))

	run, err := pc.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notifier.messages)
	assert.Equal(t, 2, run.Succeeded)
	assert.False(t, store.items[0].Notified)
	require.True(t, store.items[1].LastPrice.Valid)
	assert.Equal(t, "1200", store.items[1].LastPrice.Decimal.String())
}

func TestPriceChecker_FailureRecordsNullHistoryAndAlerts(t *testing.T) {
	store := newMemStore(item(7, "croma", "https://c/7", 100))
	notifier := &recordingNotifier{}
	fetcher := &fakeFetcher{errs: map[string]error{"https://c/7": scraper.ErrNoPrice}}
	pc := NewPriceChecker(store, notifier, factoryFor(fetcher))

	run, err := pc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Failed)

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "❗ ERROR: Could not extract price.\nSite: croma\nURL: https://c/7", notifier.messages[0])
	require.Len(t, store.history[7], 1)
	assert.False(t, store.history[7][0].Valid)
	assert.False(t, store.items[0].LastPrice.Valid, "failed checks leave the last price alone")
}

func TestPriceChecker_UnknownSite(t *testing.T) {
	store := newMemStore(item(3, "ebay", "https://e/3", 100), item(4, "Amazon", "https://a/4", 100))
	notifier := &recordingNotifier{}
	fetcher := &fakeFetcher{prices: map[string]string{"https://a/4": "150"}}
	pc := NewPriceChecker(store, notifier, factoryFor(fetcher))

	run, err := pc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a/4"}, fetcher.calls, "unknown sites never reach the browser")
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 1, run.Succeeded)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "Site: ebay")
	assert.Contains(t, notifier.messages[0], "unsupported site")
	require.Len(t, store.history[3], 1)
	assert.False(t, store.history[3][0].Valid)
}

func TestPriceChecker_PerItemErrorsDoNotStopRun(t *testing.T) {
	store := newMemStore(item(1, "amazon", "https://a/1", 100), item(2, "amazon", "https://a/2", 100))
	notifier := &recordingNotifier{}
	fetcher := &fakeFetcher{
		prices: map[string]string{"https://a/2": "50"},
		panics: map[string]bool{"https://a/1": true},
	}
	pc := NewPriceChecker(store, notifier, factoryFor(fetcher))

	run, err := pc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a/1", "https://a/2"}, fetcher.calls)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 1, run.Succeeded)

	require.Len(t, notifier.messages, 2)
	assert.True(t, strings.HasPrefix(notifier.messages[0], "❗ CRITICAL ERROR scraping URL:\nhttps://a/1\nError: panic: browser crashed"))
	assert.Contains(t, notifier.messages[1], "PRICE DROP ALERT")
}

func TestPriceChecker_StoreErrorIsCritical(t *testing.T) {
	store := newMemStore(item(1, "amazon", "https://a/1", 100))
	store.updateErr = errors.New("connection reset")
	notifier := &recordingNotifier{}
	fetcher := &fakeFetcher{prices: map[string]string{"https://a/1": "50"}}
	pc := NewPriceChecker(store, notifier, factoryFor(fetcher))

	run, err := pc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "CRITICAL ERROR")
	assert.Contains(t, notifier.messages[0], "connection reset")
}

func TestPriceChecker_FailedDropAlertDoesNotMarkNotified(t *testing.T) {
	store := newMemStore(item(1, "amazon", "https://a/1", 100))
	notifier := &recordingNotifier{err: errors.New("slack down")}
	fetcher := &fakeFetcher{prices: map[string]string{"https://a/1": "50"}}
	pc := NewPriceChecker(store, notifier, factoryFor(fetcher))

	_, err := pc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, store.items[0].Notified)
	assert.Len(t, store.history[1], 1)
}

func TestPriceChecker_ListErrorFailsRun(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("db down")
	opened := false
	pc := NewPriceChecker(store, &recordingNotifier{}, func(context.Context) (PriceFetcher, error) {
		opened = true
		return &fakeFetcher{}, nil
	})

	run, err := pc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "db down")
	assert.False(t, opened)
}

func TestPriceChecker_NoItemsSkipsBrowserLaunch(t *testing.T) {
	opened := false
	pc := NewPriceChecker(newMemStore(), &recordingNotifier{}, func(context.Context) (PriceFetcher, error) {
		opened = true
		return &fakeFetcher{}, nil
	})
	run, err := pc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.False(t, opened)
}

func TestPriceChecker_LaunchFailureFailsRun(t *testing.T) {
	pc := NewPriceChecker(newMemStore(item(1, "amazon", "https://a/1", 1)), &recordingNotifier{},
		func(context.Context) (PriceFetcher, error) { return nil, errors.New("chromium not found") })
	run, err := pc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

// stubBrowser serves the same markup to every session
type stubBrowser struct {
	html     string
	sessions int
}

func (b *stubBrowser) NewSession(context.Context, scraper.SessionProfile) (scraper.Session, error) {
	b.sessions++
	return &stubSession{html: b.html}, nil
}

func (b *stubBrowser) Close() error { return nil }

type stubSession struct{ html string }

func (s *stubSession) ID() string { return "stub" }
func (s *stubSession) Navigate(context.Context, string, scraper.NavigationPlan) error {
	return nil
}
func (s *stubSession) WaitVisible(context.Context, string, time.Duration) error { return nil }
func (s *stubSession) HTML(context.Context) (string, error)                     { return s.html, nil }
func (s *stubSession) EvalString(context.Context, string) (string, error)       { return "", nil }
func (s *stubSession) Humanize(context.Context) error                           { return nil }
func (s *stubSession) Close() error                                             { return nil }

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func openTestRepo(t *testing.T) *repository.ItemRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.CreateTables(ctx))
	return repository.NewItemRepository(db)
}

func TestEndToEnd_AmazonPriceDrop(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	it := &models.TrackedItem{Site: "amazon", ProductURL: "https://www.amazon.in/dp/B0TEST", TargetPrice: decimal.NewFromInt(50000), Active: true}
	_, err := repo.UpsertItem(ctx, it)
	require.NoError(t, err)

	page := `<html><body><span class="a-price-whole">44,999<span class="a-price-decimal">.</span></span><span class="a-price-fraction">00</span></body></html>`
	browser := &stubBrowser{html: page}
	notifier := &recordingNotifier{}
	pc := NewPriceChecker(repo, notifier, func(context.Context) (PriceFetcher, error) {
		return scraper.NewFetcher(scraper.FetcherOptions{
			Direct:      browser,
			Diagnostics: scraper.NewFileDiagnostics(t.TempDir()),
			Sleep:       noSleep,
		}), nil
	})

	run, err := pc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)

	got, err := repo.GetItem(ctx, it.ID)
	require.NoError(t, err)
	require.True(t, got.LastPrice.Valid)
	assert.Equal(t, "44999.00", got.LastPrice.Decimal.StringFixed(2))
	assert.NotNil(t, got.LastCheckedAt)
	assert.True(t, got.Notified)

	history, err := repo.GetPriceHistory(ctx, it.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "44999.00", history[0].Price.Decimal.StringFixed(2))

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "44999")
	assert.Equal(t, 1, browser.sessions)
}

func TestEndToEnd_TwoFailedAttempts(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	it := &models.TrackedItem{Site: "flipkart", ProductURL: "https://www.flipkart.com/p/itm42?pid=X", TargetPrice: decimal.NewFromInt(1000), Active: true}
	_, err := repo.UpsertItem(ctx, it)
	require.NoError(t, err)

	dir := t.TempDir()
	browser := &stubBrowser{html: "<html><body>Something went wrong</body></html>"}
	notifier := &recordingNotifier{}
	pc := NewPriceChecker(repo, notifier, func(context.Context) (PriceFetcher, error) {
		return scraper.NewFetcher(scraper.FetcherOptions{
			Direct:      browser,
			Diagnostics: scraper.NewFileDiagnostics(dir),
			Sleep:       noSleep,
		}), nil
	})

	run, err := pc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 2, browser.sessions)

	// both attempts wrote the same URL's artifact
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, scraper.DiagnosticName(models.SiteFlipkart, it.ProductURL)+".html", entries[0].Name())
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Something went wrong")

	history, err := repo.GetPriceHistory(ctx, it.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Price.Valid)

	got, err := repo.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.False(t, got.LastPrice.Valid)
	assert.False(t, got.Notified)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "Could not extract price")
}
