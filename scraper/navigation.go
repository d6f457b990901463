package scraper

import (
	"time"

	"pricewatch/models"
)

// WaitUntil selects the page lifecycle event navigation waits for
type WaitUntil int

const (
	WaitDOMContentLoaded WaitUntil = iota
	WaitNetworkIdle
)

func (w WaitUntil) String() string {
	if w == WaitNetworkIdle {
		return "networkidle"
	}
	return "domcontentloaded"
}

// NavigationPlan is the per-site wait strategy applied after navigating
type NavigationPlan struct {
	WaitUntil WaitUntil
	Timeout   time.Duration
	// Settle is a fixed pause after the lifecycle event fires
	Settle time.Duration
	// WaitSelector, if set, is awaited for up to SelectorTimeout; a timeout is not an error
	WaitSelector    string
	SelectorTimeout time.Duration
}

// PlanFor returns the navigation plan for a site
func PlanFor(site models.Site) NavigationPlan {
	switch site {
	case models.SiteCroma:
		return NavigationPlan{WaitUntil: WaitNetworkIdle, Timeout: 90 * time.Second, Settle: 1500 * time.Millisecond}
	case models.SiteReliance:
		return NavigationPlan{
			WaitUntil:       WaitDOMContentLoaded,
			Timeout:         60 * time.Second,
			WaitSelector:    "div.product-price",
			SelectorTimeout: 15 * time.Second,
		}
	default:
		return NavigationPlan{WaitUntil: WaitDOMContentLoaded, Timeout: 60 * time.Second}
	}
}
