package post_archiver

import (
	"net/url"
	"regexp"
	"strings"
)

var textURL = regexp.MustCompile(`https?://[^\s<>"']+`)

// RawPost is the payload produced by the browser-side scraper. It is owned by a single processing invocation and never
// modified after it has been received.
type RawPost struct {
	Author    string     `json:"author"`
	AuthorURL string     `json:"authorUrl,omitempty"`
	URL       string     `json:"url"`
	Text      string     `json:"text"`
	Timestamp string     `json:"timestamp"`
	Videos    []RawVideo `json:"videos"`
	Images    []RawImage `json:"images"`
	URLs      []string   `json:"urls"`
}

type RawVideo struct {
	URL       string `json:"url"`
	PosterURL string `json:"poster,omitempty"`
}

// RawImage carries either a remote link or an inline "data:" URI in URL.
type RawImage struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// IsInline returns true if the image bytes are embedded in the link itself.
func (i RawImage) IsInline() bool {
	return strings.HasPrefix(i.URL, "data:")
}

// Validate checks the post can be processed at all. Nothing else may happen to a post that fails validation.
func (p *RawPost) Validate() error {
	if strings.TrimSpace(p.Text) == "" && len(p.Videos) == 0 {
		return &ValidationError{Field: "text", Message: "post has neither text nor videos"}
	}
	if p.URL != "" && !IsHTTPURL(p.URL) {
		return &ValidationError{Field: "url", Message: "source link is not a valid http(s) URL"}
	}
	return nil
}

// Title is a short single-line description of the post, used to name the destination document.
func (p *RawPost) Title() string {
	const maxLen = 100
	text := strings.Join(strings.Fields(p.Text), " ")
	if text == "" {
		text = "Video post"
	}
	if runes := []rune(text); len(runes) > maxLen {
		text = strings.TrimSpace(string(runes[:maxLen-3])) + "..."
	}
	if p.Author != "" {
		return p.Author + ": " + text
	}
	return text
}

// IsHTTPURL returns true if s is an absolute http or https URL with a host.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Links returns every distinct link in the post, the scraper's list first and then any found in the text, in order of
// first appearance.
func (p *RawPost) Links() []string {
	seen := make(map[string]bool)
	var links []string
	add := func(s string) {
		s = strings.TrimRight(strings.TrimSpace(s), ".,;:!?)")
		if s == "" || seen[s] || !IsHTTPURL(s) {
			return
		}
		seen[s] = true
		links = append(links, s)
	}
	for _, s := range p.URLs {
		add(s)
	}
	for _, s := range textURL.FindAllString(p.Text, -1) {
		add(s)
	}
	return links
}
