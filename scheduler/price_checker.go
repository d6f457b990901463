package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pricewatch/logger"
	"pricewatch/models"

	"github.com/shopspring/decimal"
)

// ItemStore is the slice of the tracked-item repository a check run needs
type ItemStore interface {
	ListActiveItems(ctx context.Context) ([]models.TrackedItem, error)
	UpdateLastPrice(ctx context.Context, id int64, price decimal.Decimal, checkedAt time.Time) error
	MarkNotified(ctx context.Context, id int64) error
	AddPriceHistory(ctx context.Context, itemID int64, price decimal.NullDecimal, checkedAt time.Time) error
}

// Notifier delivers alert text
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// PriceFetcher reads the current price of a product page
type PriceFetcher interface {
	Check(ctx context.Context, site models.Site, url string) (decimal.Decimal, error)
	Close() error
}

// FetcherFactory opens the browsers for one run. The returned fetcher is closed when
// the run ends.
type FetcherFactory func(ctx context.Context) (PriceFetcher, error)

type PriceChecker struct {
	store       ItemStore
	notifier    Notifier
	openFetcher FetcherFactory
	now         func() time.Time
}

func NewPriceChecker(store ItemStore, notifier Notifier, openFetcher FetcherFactory) *PriceChecker {
	return &PriceChecker{
		store:       store,
		notifier:    notifier,
		openFetcher: openFetcher,
		now:         time.Now,
	}
}

// Run checks every active item once, sequentially. Per-item failures are logged,
// alerted and recorded without stopping the run; only listing items or opening the
// browsers fails the run as a whole.
func (pc *PriceChecker) Run(ctx context.Context) (*models.CheckRun, error) {
	run := models.NewCheckRun()
	log := logger.With("run_id", run.ID)

	log.Info("fetching active items")
	items, err := pc.store.ListActiveItems(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list active items: %w", err)
		run.Fail(err)
		return run, err
	}
	if len(items) == 0 {
		log.Info("no active items found")
		run.Complete()
		return run, nil
	}

	fetcher, err := pc.openFetcher(ctx)
	if err != nil {
		err = fmt.Errorf("failed to open browsers: %w", err)
		run.Fail(err)
		return run, err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			log.Warn("failed to close browsers", "error", err)
		}
	}()

	log.Info("checking prices", "items", len(items))
	for i := range items {
		if err := ctx.Err(); err != nil {
			run.Fail(err)
			return run, err
		}
		pc.checkItem(ctx, log, fetcher, &items[i], run)
	}

	run.Complete()
	log.Info("check run finished",
		"checked", run.Checked, "succeeded", run.Succeeded, "failed", run.Failed,
		"alerts", run.Alerts, "duration", run.Duration().Round(time.Millisecond))
	return run, nil
}

// checkItem runs one item and converts errors and panics into a critical alert
func (pc *PriceChecker) checkItem(ctx context.Context, log *slog.Logger, fetcher PriceFetcher, item *models.TrackedItem, run *models.CheckRun) {
	log = log.With("item_id", item.ID, "item", item.Label(), "site", item.Site, "url", item.ProductURL)

	defer func() {
		if r := recover(); r != nil {
			run.RecordFailure()
			pc.critical(ctx, log, item, fmt.Errorf("panic: %v", r), run)
		}
	}()

	ok, err := pc.processItem(ctx, log, fetcher, item, run)
	switch {
	case err != nil:
		run.RecordFailure()
		pc.critical(ctx, log, item, err, run)
	case ok:
		run.RecordSuccess()
	default:
		run.RecordFailure()
	}
}

// processItem reports whether a price was obtained. The error is non-nil only for
// store or alert failures.
func (pc *PriceChecker) processItem(ctx context.Context, log *slog.Logger, fetcher PriceFetcher, item *models.TrackedItem, run *models.CheckRun) (bool, error) {
	siteName := strings.ToLower(strings.TrimSpace(item.Site))
	site, err := models.ParseSite(item.Site)
	if err != nil {
		log.Warn("unsupported site")
		return false, pc.recordFailure(ctx, log, item, siteName, err, run)
	}

	log.Info(fmt.Sprintf("Checking %s → %s", strings.ToUpper(siteName), item.ProductURL))
	price, err := fetcher.Check(ctx, site, item.ProductURL)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, pc.recordFailure(ctx, log, item, siteName, err, run)
	}

	attrs := []any{"price", FormatPrice(price)}
	if item.HasPrice() {
		attrs = append(attrs, "previous_price", FormatPrice(item.LastPrice.Decimal))
	}
	log.Info("price fetched", attrs...)

	checkedAt := pc.now()
	if err := pc.store.UpdateLastPrice(ctx, item.ID, price, checkedAt); err != nil {
		return true, err
	}
	if err := pc.store.AddPriceHistory(ctx, item.ID, decimal.NewNullDecimal(price), checkedAt); err != nil {
		return true, err
	}
	item.LastPrice = decimal.NewNullDecimal(price)
	item.LastCheckedAt = &checkedAt

	if !item.IsBelowTarget(price) {
		log.Info("price OK, not below target", "price", FormatPrice(price), "target", FormatPrice(item.TargetPrice))
		return true, nil
	}
	if !item.ShouldNotify(price) {
		log.Info("price below target, already notified", "price", FormatPrice(price))
		return true, nil
	}

	if err := pc.alert(ctx, run, PriceDropMessage(siteName, item.ProductURL, price, item.TargetPrice)); err != nil {
		return true, fmt.Errorf("failed to send price drop alert: %w", err)
	}
	if err := pc.store.MarkNotified(ctx, item.ID); err != nil {
		return true, err
	}
	item.Notified = true
	log.Info("price drop alert sent", "price", FormatPrice(price), "target", FormatPrice(item.TargetPrice))
	return true, nil
}

// recordFailure alerts about a missing price and appends a null history record
func (pc *PriceChecker) recordFailure(ctx context.Context, log *slog.Logger, item *models.TrackedItem, site string, cause error, run *models.CheckRun) error {
	msg := ExtractionFailedMessage(site, item.ProductURL)
	if errors.Is(cause, models.ErrUnknownSite) {
		msg += "\nReason: unsupported site"
	}
	log.Error(msg, "error", cause)

	var errs []error
	if err := pc.alert(ctx, run, msg); err != nil {
		errs = append(errs, fmt.Errorf("failed to send extraction alert: %w", err))
	}
	if err := pc.store.AddPriceHistory(ctx, item.ID, decimal.NullDecimal{}, pc.now()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (pc *PriceChecker) critical(ctx context.Context, log *slog.Logger, item *models.TrackedItem, err error, run *models.CheckRun) {
	if ctx.Err() != nil {
		log.Warn("item check interrupted", "error", err)
		return
	}
	msg := CriticalErrorMessage(item.ProductURL, err)
	log.Error(msg)
	if aerr := pc.alert(ctx, run, msg); aerr != nil {
		log.Error("failed to send critical alert", "error", aerr)
	}
}

func (pc *PriceChecker) alert(ctx context.Context, run *models.CheckRun, text string) error {
	if err := pc.notifier.Send(ctx, text); err != nil {
		return err
	}
	run.RecordAlert()
	return nil
}

// FormatPrice pads to two decimal places but never rounds away extra digits
func FormatPrice(d decimal.Decimal) string {
	if d.Exponent() < -2 {
		return d.String()
	}
	return d.StringFixed(2)
}

// PriceDropMessage formats the alert sent when a price falls below target
func PriceDropMessage(site, url string, price, target decimal.Decimal) string {
	return fmt.Sprintf("💰 PRICE DROP ALERT!\nSite: *%s*\nURL: %s\nCurrent Price: ₹%s\nTarget Price: ₹%s",
		site, url, FormatPrice(price), FormatPrice(target))
}

// ExtractionFailedMessage formats the alert sent when no price could be read
func ExtractionFailedMessage(site, url string) string {
	return fmt.Sprintf("❗ ERROR: Could not extract price.\nSite: %s\nURL: %s", site, url)
}

// CriticalErrorMessage formats the alert sent for unexpected per-item errors
func CriticalErrorMessage(url string, err error) string {
	return fmt.Sprintf("❗ CRITICAL ERROR scraping URL:\n%s\nError: %v", url, err)
}
