package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"pricewatch/logger"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// Browser opens isolated browsing sessions
type Browser interface {
	NewSession(ctx context.Context, profile SessionProfile) (Session, error)
	Close() error
}

// Session is one isolated browser context with a single page, scoped to one attempt
type Session interface {
	ScriptEvaluator
	ID() string
	Navigate(ctx context.Context, url string, plan NavigationPlan) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	// Humanize moves the mouse a short distance before navigation
	Humanize(ctx context.Context) error
	Close() error
}

// LaunchOptions configures a Chromium process
type LaunchOptions struct {
	Bin           string
	Headless      bool
	ProxyServer   string
	ProxyUsername string
	ProxyPassword string
}

// RodBrowser is a Chromium process driven over the DevTools protocol
type RodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     LaunchOptions
}

// Launch starts Chromium with automation fingerprints disabled and connects to it
func Launch(opts LaunchOptions) (*RodBrowser, error) {
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(true).
		Leakless(false).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-infobars")

	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	if opts.ProxyServer != "" {
		l = l.Proxy(opts.ProxyServer)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to chromium: %w", err)
	}

	logger.Debug("browser launched", "control_url", controlURL, "proxied", opts.ProxyServer != "")
	return &RodBrowser{browser: browser, launcher: l, opts: opts}, nil
}

// NewSession creates an incognito context, applies the profile and opens a blank page
func (b *RodBrowser) NewSession(ctx context.Context, profile SessionProfile) (Session, error) {
	sctx, cancel := context.WithCancel(ctx)
	incognito, err := b.browser.Context(sctx).Incognito()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	s := &rodSession{id: uuid.NewString(), incognito: incognito, cancel: cancel}

	if b.opts.ProxyUsername != "" {
		wait := incognito.HandleAuth(b.opts.ProxyUsername, b.opts.ProxyPassword)
		go func() { _ = wait() }()
	}

	if len(profile.Permissions) > 0 {
		perms := make([]proto.BrowserPermissionType, 0, len(profile.Permissions))
		for _, p := range profile.Permissions {
			perms = append(perms, proto.BrowserPermissionType(p))
		}
		err := proto.BrowserGrantPermissions{
			Permissions:      perms,
			BrowserContextID: incognito.BrowserContextID,
		}.Call(incognito)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to grant permissions: %w", err)
		}
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	s.page = page

	if err := applyProfile(page, profile); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func applyProfile(page *rod.Page, profile SessionProfile) error {
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      profile.UserAgent,
		AcceptLanguage: profile.Headers["Accept-Language"],
	}); err != nil {
		return fmt.Errorf("failed to set user agent: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             profile.ViewportWidth,
		Height:            profile.ViewportHeight,
		DeviceScaleFactor: profile.DeviceScaleFactor,
	}); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}

	if len(profile.Headers) > 0 {
		dict := make([]string, 0, len(profile.Headers)*2)
		for k, v := range profile.Headers {
			dict = append(dict, k, v)
		}
		if _, err := page.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("failed to set headers: %w", err)
		}
	}

	if profile.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: profile.Timezone}).Call(page); err != nil {
			return fmt.Errorf("failed to set timezone: %w", err)
		}
	}
	if profile.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: profile.Locale}).Call(page); err != nil {
			return fmt.Errorf("failed to set locale: %w", err)
		}
	}

	if g := profile.Geolocation; g != nil {
		lat, lng, acc := g.Latitude, g.Longitude, g.Accuracy
		if err := (proto.EmulationSetGeolocationOverride{
			Latitude:  &lat,
			Longitude: &lng,
			Accuracy:  &acc,
		}).Call(page); err != nil {
			return fmt.Errorf("failed to set geolocation: %w", err)
		}
	}

	if profile.InitScript != "" {
		if _, err := page.EvalOnNewDocument(profile.InitScript); err != nil {
			return fmt.Errorf("failed to install init script: %w", err)
		}
	}
	return nil
}

// Close shuts the browser process down and removes its profile directory
func (b *RodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type rodSession struct {
	id        string
	incognito *rod.Browser
	page      *rod.Page
	cancel    context.CancelFunc
}

func (s *rodSession) ID() string {
	return s.id
}

func (s *rodSession) Navigate(ctx context.Context, url string, plan NavigationPlan) error {
	tctx, cancel := context.WithTimeout(ctx, plan.Timeout)
	defer cancel()

	event := proto.PageLifecycleEventNameDOMContentLoaded
	if plan.WaitUntil == WaitNetworkIdle {
		event = proto.PageLifecycleEventNameNetworkIdle
	}

	p := s.page.Context(tctx)
	wait := p.WaitNavigation(event)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if tctx.Err() != nil {
		return fmt.Errorf("timed out after %s waiting for %s", plan.Timeout, plan.WaitUntil)
	}
	return nil
}

func (s *rodSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := s.page.Context(tctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", selector, err)
	}
	return el.WaitVisible()
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

func (s *rodSession) EvalString(ctx context.Context, js string) (string, error) {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	if res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

func (s *rodSession) Humanize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := proto.Point{X: float64(10 + rand.IntN(51)), Y: float64(10 + rand.IntN(51))}
	return s.page.Mouse.MoveLinear(to, 3)
}

// Close tears down the page and its incognito context. Safe to call on a partially
// built session.
func (s *rodSession) Close() error {
	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
	}
	if s.incognito != nil {
		if err := s.incognito.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser context: %w", err))
		}
	}
	s.cancel()
	return errors.Join(errs...)
}
