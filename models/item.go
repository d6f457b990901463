package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Site identifies one of the supported retail layouts.
type Site string

const (
	SiteFlipkart Site = "flipkart"
	SiteAmazon   Site = "amazon"
	SiteReliance Site = "reliance"
	SiteCroma    Site = "croma"
)

// ErrUnknownSite is returned by ParseSite for identifiers outside the supported set.
var ErrUnknownSite = errors.New("unsupported site")

// Sites lists every supported site in a stable order.
func Sites() []Site {
	return []Site{SiteFlipkart, SiteAmazon, SiteReliance, SiteCroma}
}

// ParseSite converts a stored site identifier into a Site. Matching ignores case and
// surrounding whitespace.
func ParseSite(s string) (Site, error) {
	site := Site(strings.ToLower(strings.TrimSpace(s)))
	switch site {
	case SiteFlipkart, SiteAmazon, SiteReliance, SiteCroma:
		return site, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSite, s)
}

func (s Site) String() string {
	return string(s)
}

// TrackedItem represents a product page being monitored against a target price
type TrackedItem struct {
	ID            int64               `json:"id" db:"id"`
	Name          string              `json:"name" db:"name"`
	Site          string              `json:"site" db:"site"`
	ProductURL    string              `json:"product_url" db:"product_url"`
	TargetPrice   decimal.Decimal     `json:"target_price" db:"target_price"`
	LastPrice     decimal.NullDecimal `json:"last_price" db:"last_price"`
	LastCheckedAt *time.Time          `json:"last_checked_at" db:"last_checked_at"`
	Active        bool                `json:"active" db:"active"`
	Notified      bool                `json:"notified" db:"notified"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
}

// HasPrice returns true if at least one check has produced a price
func (t *TrackedItem) HasPrice() bool {
	return t.LastPrice.Valid
}

// IsBelowTarget reports whether price is strictly below the target. A price equal to
// the target is not a drop.
func (t *TrackedItem) IsBelowTarget(price decimal.Decimal) bool {
	return price.LessThan(t.TargetPrice)
}

// ShouldNotify reports whether a fresh price warrants a drop alert. Once Notified is set
// it stays set; only an external edit clears it, so a second drop on the same item does
// not alert again.
func (t *TrackedItem) ShouldNotify(price decimal.Decimal) bool {
	return t.IsBelowTarget(price) && !t.Notified
}

// Label returns a short human-readable name for logs and alerts
func (t *TrackedItem) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ProductURL
}

// PriceHistory represents one check attempt. Price is null when extraction failed.
type PriceHistory struct {
	ID            int64               `json:"id" db:"id"`
	TrackedItemID int64               `json:"tracked_item_id" db:"tracked_item_id"`
	Price         decimal.NullDecimal `json:"price" db:"price"`
	CheckedAt     time.Time           `json:"checked_at" db:"checked_at"`
}
