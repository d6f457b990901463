package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BotVerdict is the outcome of inspecting a page that yielded no price
type BotVerdict struct {
	Blocked bool
	Kind    string // captcha, http_error, bot_wall or empty
	Score   float64
	Reasons []string
}

// BotDetector detects bot walls and CAPTCHAs
type BotDetector struct {
	botPatterns     []*regexp.Regexp
	captchaPatterns []*regexp.Regexp
	blockPatterns   []*regexp.Regexp
}

// NewBotDetector creates a new bot detector
func NewBotDetector() *BotDetector {
	return &BotDetector{
		botPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)unfortunately we are unable`),
			regexp.MustCompile(`(?i)access denied`),
			regexp.MustCompile(`(?i)bot detected`),
			regexp.MustCompile(`(?i)please verify you are human`),
			regexp.MustCompile(`(?i)security check`),
			regexp.MustCompile(`(?i)checking your browser`),
			regexp.MustCompile(`(?i)ddos protection`),
			regexp.MustCompile(`(?i)request unsuccessful`),
			regexp.MustCompile(`(?i)pardon our interruption`),
			regexp.MustCompile(`(?i)automated access`),
			regexp.MustCompile(`(?i)too many requests`),
		},
		captchaPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)captcha`),
			regexp.MustCompile(`(?i)verify you are human`),
			regexp.MustCompile(`(?i)type the characters you see`),
			regexp.MustCompile(`(?i)select all images`),
			regexp.MustCompile(`(?i)click the checkbox`),
		},
		blockPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)403 forbidden`),
			regexp.MustCompile(`(?i)429 too many requests`),
			regexp.MustCompile(`(?i)503 service unavailable`),
			regexp.MustCompile(`(?i)site temporarily unavailable`),
		},
	}
}

// pageText returns the visible text and title of the markup. Script and style bodies
// are excluded so inline JSON does not trip the patterns.
func pageText(html string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html, ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Find("body").Text()), " "), title
}

// Inspect scores markup for signs of a bot wall
func (bd *BotDetector) Inspect(html string) BotVerdict {
	text, title := pageText(html)
	content := strings.ToLower(text + " " + title)

	var v BotVerdict
	for _, pattern := range bd.botPatterns {
		if pattern.MatchString(content) {
			v.Score += 0.3
			v.Reasons = append(v.Reasons, pattern.String())
		}
	}

	// CAPTCHA patterns carry the highest weight
	captcha := false
	for _, pattern := range bd.captchaPatterns {
		if pattern.MatchString(content) {
			v.Score += 0.5
			v.Reasons = append(v.Reasons, "CAPTCHA detected: "+pattern.String())
			captcha = true
		}
	}

	httpError := false
	for _, pattern := range bd.blockPatterns {
		if pattern.MatchString(content) {
			v.Score += 0.4
			v.Reasons = append(v.Reasons, "HTTP error: "+pattern.String())
			httpError = true
		}
	}

	if strings.Contains(content, "javascript") && strings.Contains(content, "disabled") {
		v.Score += 0.2
		v.Reasons = append(v.Reasons, "JavaScript disabled warning")
	}

	if len(content) < 1000 && v.Score > 0 {
		v.Score += 0.2
		v.Reasons = append(v.Reasons, "Very short content with bot indicators")
	}

	if v.Score > 1.0 {
		v.Score = 1.0
	}

	v.Blocked = v.Score > 0.3
	if v.Blocked {
		switch {
		case captcha:
			v.Kind = "captcha"
		case httpError:
			v.Kind = "http_error"
		default:
			v.Kind = "bot_wall"
		}
	}
	return v
}

// Reason joins the matched reasons for logging
func (v BotVerdict) Reason() string {
	return strings.Join(v.Reasons, "; ")
}
