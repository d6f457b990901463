package scraper

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"pricewatch/logger"
	"pricewatch/models"

	"github.com/PuerkitoBio/goquery"
)

// ScriptEvaluator runs a JavaScript function expression in a live page and returns
// its result as a string. An empty string means the script produced nothing.
type ScriptEvaluator interface {
	EvalString(ctx context.Context, js string) (string, error)
}

// Ruleset extracts a raw price token from one site's markup. The set of rulesets is
// closed; use RulesetFor to obtain one.
type Ruleset interface {
	Site() models.Site
	extract(ctx context.Context, doc *goquery.Document, html string, eval ScriptEvaluator) string
}

// RulesetFor returns the ruleset for a supported site
func RulesetFor(site models.Site) (Ruleset, bool) {
	switch site {
	case models.SiteFlipkart:
		return flipkartRules{}, true
	case models.SiteAmazon:
		return amazonRules{}, true
	case models.SiteReliance:
		return relianceRules{}, true
	case models.SiteCroma:
		return cromaRules{}, true
	}
	return nil, false
}

// Extractor turns page markup into a raw price token
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract never fails. An empty result means no rule matched. eval may be nil, in
// which case live page inspection is skipped.
func (e *Extractor) Extract(ctx context.Context, site models.Site, html string, eval ScriptEvaluator) string {
	rules, ok := RulesetFor(site)
	if !ok {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Debug("failed to parse markup", "site", site, "error", err)
		return ""
	}
	return strings.TrimSpace(rules.extract(ctx, doc, html, eval))
}

type flipkartRules struct{}

func (flipkartRules) Site() models.Site { return models.SiteFlipkart }

func (flipkartRules) extract(_ context.Context, doc *goquery.Document, _ string, _ ScriptEvaluator) string {
	sel := doc.Find(".Nx9bqj.CxhGGd").First()
	if sel.Length() == 0 {
		return ""
	}
	return sel.Text()
}

type amazonRules struct{}

func (amazonRules) Site() models.Site { return models.SiteAmazon }

func (amazonRules) extract(_ context.Context, doc *goquery.Document, _ string, _ ScriptEvaluator) string {
	whole := doc.Find("span.a-price-whole").First()
	if whole.Length() == 0 {
		return ""
	}
	wholeDigits := digitsOnly(whole.Text())
	if wholeDigits == "" {
		return ""
	}

	fracDigits := ""
	if frac := doc.Find("span.a-price-fraction").First(); frac.Length() > 0 {
		fracDigits = digitsOnly(frac.Text())
	}
	if fracDigits == "" {
		fracDigits = "00"
	}
	return wholeDigits + "." + fracDigits
}

type relianceRules struct{}

func (relianceRules) Site() models.Site { return models.SiteReliance }

func (relianceRules) extract(_ context.Context, doc *goquery.Document, _ string, _ ScriptEvaluator) string {
	sel := doc.Find("div.product-price").First()
	if sel.Length() == 0 {
		return ""
	}
	return strings.ReplaceAll(strings.TrimSpace(sel.Text()), "MRP", "")
}

// cromaStateScript walks window globals and one nested level looking for the
// product state object that carries the selling price.
const cromaStateScript = `() => {
  function inspect(o) {
    try {
      if (!o || typeof o !== 'object') return null;
      if (Object.prototype.hasOwnProperty.call(o, 'sellingPrice')) {
        const sp = o['sellingPrice'];
        if (sp && (sp.value || sp.value === 0)) return sp.value;
      }
      if (Object.prototype.hasOwnProperty.call(o, 'pdpPriceData')) {
        const pd = o['pdpPriceData'];
        if (pd && pd.sellingPrice && (pd.sellingPrice.value || pd.sellingPrice.value === 0)) return pd.sellingPrice.value;
      }
      if (o.price && o.price.sellingPrice && o.price.sellingPrice.value) return o.price.sellingPrice.value;
    } catch (e) {}
    return null;
  }
  try {
    const keys = Object.keys(window);
    for (let i = 0; i < keys.length; i++) {
      try {
        const v = window[keys[i]];
        if (!v || typeof v !== 'object') continue;
        const r = inspect(v);
        if (r) return String(r);
        const subkeys = Object.keys(v || {});
        for (let j = 0; j < subkeys.length; j++) {
          try {
            const vv = v[subkeys[j]];
            if (vv && typeof vv === 'object') {
              const r2 = inspect(vv);
              if (r2) return String(r2);
            }
          } catch (e2) {}
        }
      } catch (e1) {}
    }
  } catch (e) {}
  return null;
}`

var cromaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)"sellingPrice"\s*:\s*\{\s*"value"\s*:\s*"(?P<v>[\d,]+)"`),
	regexp.MustCompile(`(?is)"pdpPriceData"\s*:\s*\{[^}]*"sellingPrice"\s*:\s*\{[^}]*"value"\s*:\s*"(?P<v>[\d,]+)"`),
	regexp.MustCompile(`(?is)"value"\s*:\s*"(?P<v>[\d,]+)"\s*,\s*"currency"`),
	regexp.MustCompile(`(?is)"mrp"\s*:\s*\{\s*"value"\s*:\s*"(?P<v>[\d,]+)"`),
}

var cromaSelectors = []string{
	"#pdp-product-price",
	"div.product-price",
	"span.pdp-selling-price",
	"span.price",
	"span.offer-price",
}

type cromaRules struct{}

func (cromaRules) Site() models.Site { return models.SiteCroma }

func (cromaRules) extract(ctx context.Context, doc *goquery.Document, html string, eval ScriptEvaluator) string {
	if eval != nil {
		found, err := eval.EvalString(ctx, cromaStateScript)
		if err != nil {
			logger.Debug("page state inspection failed", "site", models.SiteCroma, "error", err)
		} else if strings.TrimSpace(found) != "" {
			return found
		}
	}

	if v := matchPatterns(html); v != "" {
		return v
	}

	var fromScript string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if text == "" {
			return true
		}
		fromScript = matchPatterns(text)
		return fromScript == ""
	})
	if fromScript != "" {
		return fromScript
	}

	for _, selector := range cromaSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if value, ok := sel.Attr("value"); ok && value != "" {
			return value
		}
		return strings.TrimSpace(sel.Text())
	}
	return ""
}

func matchPatterns(text string) string {
	for _, re := range cromaPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return m[re.SubexpIndex("v")]
	}
	return ""
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
