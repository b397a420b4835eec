// Package htmlcontent extracts raw email candidates and in-domain links
// from fetched page bodies. Candidates are returned as matched, still
// possibly obfuscated text; canonicalization is the normalizer's job.
package htmlcontent

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// plainEmail matches standard addresses embedded in page text.
var plainEmail = regexp.MustCompile(`\b[A-Za-z0-9][A-Za-z0-9._%+-]*@[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}\b`)

// Obfuscated candidate patterns, most specific first. Each match is kept as
// raw text so the stored record preserves what the page actually said.
var obfuscatedEmail = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[A-Za-z0-9._%+-]+\s*\[\s*at\s*\]\s*[A-Za-z0-9.-]+\s*\[\s*dot\s*\]\s*[A-Za-z]{2,}`),
	regexp.MustCompile(`(?i)[A-Za-z0-9._%+-]+\s*\(\s*a?t?\s*\)\s*[A-Za-z0-9.-]+\s*\(\s*dot\s*\)\s*[A-Za-z]{2,}`),
	regexp.MustCompile(`(?i)[A-Za-z0-9._%+-]+\s+at\s+[A-Za-z0-9.-]+\s+dot\s+[A-Za-z]{2,}`),
	regexp.MustCompile(`(?i)[A-Za-z0-9._%+-]+\s*(?:@|\[\s*at\s*\]|\(\s*at\s*\)|\s+at\s+)\s*[A-Za-z0-9.-]+\s*(?:\.|\[\s*dot\s*\]|\(\s*dot\s*\)|\s+dot\s+)\s*[A-Za-z]{2,}`),
}

// Paths that tend to carry contact addresses, used to prioritize the crawl
// frontier.
var contactPaths = []string{
	"/contact", "/about", "/team", "/careers", "/jobs",
	"/faq", "/privacy", "/support", "/legal", "/terms",
	"/company", "/staff", "/people", "/leadership",
	"/contact-us", "/about-us", "/our-team", "/meet-the-team",
}

// Extensions that never contain extractable HTML content.
var skippedExtensions = map[string]struct{}{
	".pdf": {}, ".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".css": {},
	".js": {}, ".ico": {}, ".svg": {}, ".zip": {}, ".mp4": {}, ".mp3": {},
	".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {}, ".webm": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".exe": {}, ".dmg": {}, ".apk": {}, ".deb": {}, ".rpm": {},
}

// Extractor implements extract.ContentExtractor over HTML and plain text.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Emails returns raw email candidate strings found in the body: mailto link
// targets plus text matches, obfuscated forms included, in document order
// and deduplicated.
func (e *Extractor) Emails(body []byte, contentType string) []string {
	if !parseable(contentType) {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			return
		}
		if _, dup := seen[candidate]; dup {
			return
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}

	text := string(body)
	if isHTML(contentType) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err == nil {
			doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
				href, _ := sel.Attr("href")
				if !strings.HasPrefix(href, "mailto:") {
					return
				}
				target := strings.TrimPrefix(href, "mailto:")
				if i := strings.IndexByte(target, '?'); i >= 0 {
					target = target[:i]
				}
				add(target)
			})
			text = doc.Text()
		}
	}

	for _, re := range obfuscatedEmail {
		for _, m := range re.FindAllString(text, -1) {
			add(m)
		}
	}
	for _, m := range plainEmail.FindAllString(text, -1) {
		add(m)
	}
	return out
}

// Links returns absolute, same-domain links discovered in the body, with
// fragments and query strings stripped and non-HTML resources skipped.
func (e *Extractor) Links(body []byte, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}
	baseDomain := canonicalHost(base.Host)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href], area[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !sameDomain(canonicalHost(abs.Host), baseDomain) {
			return
		}
		if skippedExtension(abs.Path) {
			return
		}
		abs.Fragment = ""
		abs.RawQuery = ""
		clean := abs.String()
		if _, dup := seen[clean]; dup {
			return
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	})
	return out
}

// ContactLike reports whether the URL path looks like a contact page worth
// crawling early.
func ContactLike(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, p := range contactPaths {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func parseable(contentType string) bool {
	return isHTML(contentType) || strings.Contains(contentType, "text/plain")
}

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

func canonicalHost(host string) string {
	host = strings.ToLower(host)
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

func sameDomain(host, baseDomain string) bool {
	return host == baseDomain || strings.HasSuffix(host, "."+baseDomain)
}

func skippedExtension(path string) bool {
	lower := strings.ToLower(path)
	if i := strings.LastIndexByte(lower, '.'); i >= 0 {
		if _, skip := skippedExtensions[lower[i:]]; skip {
			return true
		}
	}
	return false
}
