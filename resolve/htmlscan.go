package resolve

import (
	"bytes"
	"html"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alanbriolat/post-archiver/generic"
)

// Only the start of a page is scanned; interstitials put their destination near the top.
const maxPageBytes = 4 << 20

var (
	metaRefreshURL = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'"\s>]+)`)
	jsLocation     = []*regexp.Regexp{
		regexp.MustCompile(`(?:window\.|document\.|top\.|self\.)?location(?:\.href)?\s*=\s*["']([^"']+)["']`),
		regexp.MustCompile(`location\.(?:replace|assign)\(\s*["']([^"']+)["']`),
	}
	rawURL = regexp.MustCompile(`https?://[^\s"'<>()\\]+`)
)

// Elements and attributes that link-tracking pages use to carry the real destination.
var externalLinkSelectors = []struct {
	selector string
	attr     string
}{
	{`a[data-tracking-control-name="external_url_click"]`, "href"},
	{`[data-external-url]`, "data-external-url"},
	{`[data-destination-url]`, "data-destination-url"},
	{`[data-href]`, "data-href"},
	{`[data-url]`, "data-url"},
}

// A scanner produces candidate links from a parsed page, most likely first.
type scanner func(doc *goquery.Document, text string) []string

var scanners = []scanner{
	scanMetaRefresh,
	scanJSLocation,
	scanDataAttributes,
	scanForeignHref,
	scanRawURLs,
}

// ScanHTML looks through a page for the link it is trying to send the browser to. The first candidate accepted by
// accept wins; static assets are never returned.
func ScanHTML(page *url.URL, body io.Reader, accept func(string) bool) (generic.Option[string], error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return generic.None[string](), err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return generic.None[string](), err
	}
	doc.Url = page
	text := strings.ReplaceAll(string(raw), `\/`, `/`)
	for _, scan := range scanners {
		for _, candidate := range scan(doc, text) {
			candidate = absolute(page, candidate)
			if candidate == "" || IsStaticAsset(candidate) {
				continue
			}
			if accept(candidate) {
				return generic.Some(candidate), nil
			}
		}
	}
	return generic.None[string](), nil
}

func scanMetaRefresh(doc *goquery.Document, _ string) (candidates []string) {
	doc.Find("meta[http-equiv]").Each(func(_ int, s *goquery.Selection) {
		if !strings.EqualFold(s.AttrOr("http-equiv", ""), "refresh") {
			return
		}
		if m := metaRefreshURL.FindStringSubmatch(s.AttrOr("content", "")); m != nil {
			candidates = append(candidates, m[1])
		}
	})
	return candidates
}

func scanJSLocation(doc *goquery.Document, _ string) (candidates []string) {
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		script := strings.ReplaceAll(s.Text(), `\/`, `/`)
		for _, re := range jsLocation {
			for _, m := range re.FindAllStringSubmatch(script, -1) {
				candidates = append(candidates, m[1])
			}
		}
	})
	return candidates
}

func scanDataAttributes(doc *goquery.Document, _ string) (candidates []string) {
	for _, ext := range externalLinkSelectors {
		doc.Find(ext.selector).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(ext.attr); ok {
				candidates = append(candidates, v)
			}
		})
	}
	return candidates
}

func scanForeignHref(doc *goquery.Document, _ string) (candidates []string) {
	pageHost := ""
	if doc.Url != nil {
		pageHost = strings.TrimPrefix(doc.Url.Hostname(), "www.")
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil || u.Host == "" {
			return
		}
		if strings.TrimPrefix(u.Hostname(), "www.") != pageHost {
			candidates = append(candidates, href)
		}
	})
	return candidates
}

func scanRawURLs(_ *goquery.Document, text string) []string {
	return rawURL.FindAllString(text, -1)
}

// absolute cleans up a candidate and resolves it against the page it was found on.
func absolute(page *url.URL, candidate string) string {
	candidate = strings.TrimSpace(html.UnescapeString(candidate))
	candidate = strings.TrimRight(candidate, ".,;")
	if candidate == "" {
		return ""
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	if page != nil {
		u = page.ResolveReference(u)
	}
	return u.String()
}
