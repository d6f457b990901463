package scraper

import "pricewatch/models"

const (
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/122.0.6261.95 Safari/537.36"
	acceptLanguage = "en-US,en;q=0.9"
)

// Geolocation is a fixed position reported to the page
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// SessionProfile describes the identity a browsing session presents to a site
type SessionProfile struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	DeviceScaleFactor float64
	Locale            string
	Timezone          string
	Headers           map[string]string
	Geolocation       *Geolocation
	Permissions       []string
	InitScript        string
}

// stealthInitScript masks the usual automation fingerprints before any page script runs
const stealthInitScript = `
try {
  Object.defineProperty(navigator, 'webdriver', { get: () => false, configurable: true });
  Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'], configurable: true });
  Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3], configurable: true });
  try {
    const originalQuery = navigator.permissions.query.bind(navigator.permissions);
    navigator.permissions.query = (p) => (p && p.name === 'notifications')
      ? Promise.resolve({ state: Notification.permission })
      : originalQuery(p);
  } catch (e) {}
} catch (e) {}
try {
  const getParameter = WebGLRenderingContext.prototype.getParameter;
  WebGLRenderingContext.prototype.getParameter = function (parameter) {
    if (parameter === 37445) return 'Intel Inc.';
    if (parameter === 37446) return 'Intel Iris OpenGL Engine';
    return getParameter.call(this, parameter);
  };
} catch (e) {}
`

// ProfileFor builds the session profile for a site. Every site gets the same desktop
// baseline; croma additionally gets a Mumbai geolocation and the fingerprint mask.
func ProfileFor(site models.Site) SessionProfile {
	p := SessionProfile{
		UserAgent:         desktopUserAgent,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		DeviceScaleFactor: 1,
		Locale:            "en-US",
		Timezone:          "Asia/Kolkata",
		Headers:           map[string]string{"Accept-Language": acceptLanguage},
	}

	if site == models.SiteCroma {
		p.Geolocation = &Geolocation{Latitude: 19.0760, Longitude: 72.8777, Accuracy: 100}
		p.Permissions = []string{"geolocation"}
		p.InitScript = stealthInitScript
	}
	return p
}
