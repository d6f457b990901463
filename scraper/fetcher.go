package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"pricewatch/logger"
	"pricewatch/models"

	"github.com/shopspring/decimal"
)

const (
	rereadDelay    = time.Second
	snippetLength  = 800
	jitterBase     = 200 * time.Millisecond
	jitterSpread   = 400 * time.Millisecond
	channelDirect  = "direct"
	channelProxied = "proxied"
)

// DiagnosticStore keeps the markup of pages that yielded no price
type DiagnosticStore interface {
	Save(site models.Site, url, html string) (string, error)
}

// FetcherOptions wires a Fetcher. Direct is required.
type FetcherOptions struct {
	Direct      Browser
	Proxied     Browser
	ProxySite   models.Site
	Diagnostics DiagnosticStore
	Policy      *RetryPolicy
	// Sleep replaces real-clock waits, mainly for tests
	Sleep SleepFunc
}

// Fetcher drives browser sessions to read a product price, retrying and falling back
// from the proxied to the direct channel as needed
type Fetcher struct {
	direct      Browser
	proxied     Browser
	proxySite   models.Site
	extractor   *Extractor
	detector    *BotDetector
	diagnostics DiagnosticStore
	policy      RetryPolicy
	sleep       SleepFunc
	jitter      func() time.Duration
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	policy := DefaultRetryPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	policy.Sleep = sleep

	return &Fetcher{
		direct:      opts.Direct,
		proxied:     opts.Proxied,
		proxySite:   opts.ProxySite,
		extractor:   NewExtractor(),
		detector:    NewBotDetector(),
		diagnostics: opts.Diagnostics,
		policy:      policy,
		sleep:       sleep,
		jitter: func() time.Duration {
			return jitterBase + rand.N(jitterSpread)
		},
	}
}

// FetcherConfig describes the browsers Open launches
type FetcherConfig struct {
	ChromeBin      string
	Headless       bool
	ProxyServer    string
	ProxyUsername  string
	ProxyPassword  string
	ProxySite      models.Site
	DiagnosticsDir string
}

// Open launches the direct browser and, when a proxy is configured, the proxied one.
// Failing to launch the proxied browser is logged and every site then uses the
// direct channel.
func Open(cfg FetcherConfig) (*Fetcher, error) {
	direct, err := Launch(LaunchOptions{Bin: cfg.ChromeBin, Headless: cfg.Headless})
	if err != nil {
		return nil, fmt.Errorf("failed to launch default browser: %w", err)
	}

	opts := FetcherOptions{
		Direct:      direct,
		ProxySite:   cfg.ProxySite,
		Diagnostics: NewFileDiagnostics(cfg.DiagnosticsDir),
	}

	if cfg.ProxyServer != "" {
		proxied, err := Launch(LaunchOptions{
			Bin:           cfg.ChromeBin,
			Headless:      cfg.Headless,
			ProxyServer:   cfg.ProxyServer,
			ProxyUsername: cfg.ProxyUsername,
			ProxyPassword: cfg.ProxyPassword,
		})
		if err != nil {
			logger.Warn("could not launch proxy browser, using default for all sites", "error", err)
		} else {
			opts.Proxied = proxied
		}
	}
	return NewFetcher(opts), nil
}

// Check fetches the current price of a product page. The proxied channel is used
// only for the designated proxy site; a proxy-level failure there re-runs the whole
// fetch on the direct channel with a fresh attempt budget.
func (f *Fetcher) Check(ctx context.Context, site models.Site, url string) (decimal.Decimal, error) {
	if f.proxied != nil && site == f.proxySite {
		price, err := f.fetch(ctx, f.proxied, channelProxied, site, url)
		if err == nil || !errors.Is(err, ErrProxyFailure) {
			return price, err
		}
		logger.Warn("proxy connection error, retrying without proxy", "site", site, "url", url, "error", err)
	}
	return f.fetch(ctx, f.direct, channelDirect, site, url)
}

func (f *Fetcher) fetch(ctx context.Context, b Browser, channel string, site models.Site, url string) (decimal.Decimal, error) {
	retryable := func(err error) bool {
		if channel != channelProxied {
			return true
		}
		var ae *AttemptError
		return !(errors.As(err, &ae) && ae.Kind == FailureProxy)
	}

	var price decimal.Decimal
	err := f.policy.Do(ctx, retryable, func(ctx context.Context, attempt int) error {
		p, err := f.attempt(ctx, b, channel, site, url, attempt)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoPrice) {
			logger.Error("price check failed", "site", site, "url", url, "channel", channel, "error", err)
		}
		return decimal.Zero, err
	}
	return price, nil
}

func (f *Fetcher) attempt(ctx context.Context, b Browser, channel string, site models.Site, url string, attempt int) (price decimal.Decimal, err error) {
	session, err := b.NewSession(ctx, ProfileFor(site))
	if err != nil {
		return decimal.Zero, f.failure(attempt, fmt.Errorf("failed to open session: %w", err))
	}

	log := logger.With("site", site, "url", url, "attempt", attempt, "channel", channel, "session_id", session.ID())
	defer func() {
		if r := recover(); r != nil {
			err = &AttemptError{Kind: FailureUnexpected, Attempt: attempt, Err: fmt.Errorf("panic during fetch: %v", r)}
			price = decimal.Zero
		}
		if cerr := session.Close(); cerr != nil {
			log.Debug("failed to close session", "error", cerr)
		}
	}()

	if err := f.sleep(ctx, f.jitter()); err != nil {
		return decimal.Zero, f.failure(attempt, err)
	}
	if err := session.Humanize(ctx); err != nil {
		log.Debug("mouse move failed", "error", err)
	}

	plan := PlanFor(site)
	if err := session.Navigate(ctx, url, plan); err != nil {
		return decimal.Zero, f.failure(attempt, err)
	}
	if plan.Settle > 0 {
		if err := f.sleep(ctx, plan.Settle); err != nil {
			return decimal.Zero, f.failure(attempt, err)
		}
	}
	if plan.WaitSelector != "" {
		if err := session.WaitVisible(ctx, plan.WaitSelector, plan.SelectorTimeout); err != nil {
			log.Debug("price element did not appear", "selector", plan.WaitSelector, "error", err)
		}
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return decimal.Zero, f.failure(attempt, err)
	}
	token := f.extractor.Extract(ctx, site, html, session)
	first := html

	if token == "" {
		if err := f.sleep(ctx, rereadDelay); err != nil {
			return decimal.Zero, f.failure(attempt, err)
		}
		if again, err := session.HTML(ctx); err != nil {
			log.Debug("re-read of page html failed", "error", err)
		} else {
			html = again
			token = f.extractor.Extract(ctx, site, html, session)
		}
	}

	if token == "" {
		f.recordFailure(log, site, url, first)
		return decimal.Zero, f.failure(attempt, ErrPriceNotFound)
	}

	price, err = ParsePrice(token)
	if err != nil {
		return decimal.Zero, f.failure(attempt, err)
	}

	log.Info("price extracted", "token", token, "price", price.String())
	return price, nil
}

// recordFailure saves the markup of the first read, logs a bot-wall verdict and a short snippet
func (f *Fetcher) recordFailure(log *slog.Logger, site models.Site, url, html string) {
	if f.diagnostics != nil {
		if path, err := f.diagnostics.Save(site, url, html); err != nil {
			log.Warn("failed to write debug html", "error", err)
		} else {
			log.Info("saved failing html", "path", path)
		}
	}

	if verdict := f.detector.Inspect(html); verdict.Blocked {
		log.Warn("page looks like a bot wall", "kind", verdict.Kind, "score", verdict.Score, "reason", verdict.Reason())
	}

	snippet := html
	if len(snippet) > snippetLength {
		snippet = snippet[:snippetLength] + "..."
	}
	log.Debug("html snippet", "first_800_chars", snippet)
}

func (f *Fetcher) failure(attempt int, err error) *AttemptError {
	kind := classify(err)
	if kind == FailureProxy && !errors.Is(err, ErrProxyFailure) {
		err = fmt.Errorf("%w: %w", ErrProxyFailure, err)
	}
	return &AttemptError{Kind: kind, Attempt: attempt, Err: err}
}

// Close shuts down both browsers, returning every close error
func (f *Fetcher) Close() error {
	var errs []error
	if f.proxied != nil {
		if err := f.proxied.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.direct != nil {
		if err := f.direct.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
