package scraper

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"pricewatch/models"
)

const (
	maxDiagnosticName = 200
	diagnosticExt     = ".html"
	diagnosticHeader  = "<!-- pricewatch-url: %s -->\n"

	// "_" plus eight hex digits
	collisionSuffixLen = 9
)

var unsafeFilenameChars = regexp.MustCompile(`[^0-9A-Za-z\-_.]`)

// FileDiagnostics writes the markup of failed pages to a directory for offline debugging
type FileDiagnostics struct {
	Dir string
}

func NewFileDiagnostics(dir string) *FileDiagnostics {
	return &FileDiagnostics{Dir: dir}
}

// SanitizeFilename replaces everything outside [0-9A-Za-z-_.] with an underscore and
// caps the result at 200 characters. Truncated names end with a short hash of the full
// name so that long URLs sharing a prefix stay distinct.
func SanitizeFilename(s string) string {
	return sanitizeWithin(s, maxDiagnosticName)
}

func sanitizeWithin(s string, limit int) string {
	clean := unsafeFilenameChars.ReplaceAllString(s, "_")
	if len(clean) <= limit {
		return clean
	}
	suffix := "_" + shortHash(s)
	return clean[:limit-len(suffix)] + suffix
}

// DiagnosticName builds the base file name for a site and product URL. It leaves room
// for the extension and a collision suffix so the file name on disk stays within 200
// characters.
func DiagnosticName(site models.Site, rawURL string) string {
	host, path, query := rawURL, "", ""
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host, path, query = u.Host, u.Path, u.RawQuery
	}
	limit := maxDiagnosticName - len(diagnosticExt) - collisionSuffixLen
	return sanitizeWithin(fmt.Sprintf("%s_%s_%s_%s", site, host, path, query), limit)
}

// Save writes html for the given site and URL and returns the file path. A later
// failure for the same URL overwrites the file; a different URL that sanitizes to the
// same name is written next to it under a hash-suffixed name.
func (d *FileDiagnostics) Save(site models.Site, rawURL, html string) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create diagnostics dir: %w", err)
	}

	name := DiagnosticName(site, rawURL)
	path := filepath.Join(d.Dir, name+diagnosticExt)
	if owner, ok := diagnosticOwner(path); ok && owner != rawURL {
		path = filepath.Join(d.Dir, name+"_"+shortHash(rawURL)+diagnosticExt)
	}

	content := fmt.Sprintf(diagnosticHeader, strings.ReplaceAll(rawURL, "--", "%2D%2D")) + html
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write diagnostic html: %w", err)
	}
	return path, nil
}

// diagnosticOwner reads the URL recorded in an existing diagnostic file
func diagnosticOwner(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	owner, ok := strings.CutPrefix(strings.TrimSpace(line), "<!-- pricewatch-url: ")
	if !ok {
		return "", false
	}
	owner, ok = strings.CutSuffix(owner, " -->")
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(owner, "%2D%2D", "--"), true
}

func shortHash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}
