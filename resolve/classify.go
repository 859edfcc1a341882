package resolve

import (
	"net/url"
	"path"
	"strings"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/generic"
)

// DefaultShortHosts are link shorteners that always need resolving.
var DefaultShortHosts = []string{
	"bit.ly",
	"buff.ly",
	"dlvr.it",
	"goo.gl",
	"is.gd",
	"lnkd.in",
	"ow.ly",
	"rebrand.ly",
	"shorturl.at",
	"t.co",
	"tinyurl.com",
}

// redirectHosts are hosts that only sometimes redirect, identified by path prefix.
var redirectHosts = map[string][]string{
	"linkedin.com": {"/redir/", "/safety/go"},
}

var staticExtensions = generic.NewSet(
	".css",
	".js",
	".map",
	".png",
	".jpg",
	".jpeg",
	".gif",
	".svg",
	".webp",
	".ico",
	".woff",
	".woff2",
	".ttf",
)

var staticMarkers = []string{
	"/static/",
	"/assets/",
	"/sc/h/",
	"/aero-v1/",
	"/favicon",
	"static.licdn.com",
	"media.licdn.com",
	"fonts.googleapis.com",
	"fonts.gstatic.com",
}

// Classifier decides which links need resolving.
type Classifier struct {
	hosts generic.Set[string]
}

// NewClassifier recognises DefaultShortHosts plus any extra hosts (which may include a port).
func NewClassifier(extra ...string) *Classifier {
	hosts := generic.NewSet(DefaultShortHosts...)
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts.Add(h)
		}
	}
	return &Classifier{hosts: hosts}
}

// IsShort returns true if s is a short link or a known redirect.
func (c *Classifier) IsShort(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	hostname := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if c.hosts.ContainsAny(host, hostname) {
		return true
	}
	for redirectHost, prefixes := range redirectHosts {
		if hostname != redirectHost && !strings.HasSuffix(hostname, "."+redirectHost) {
			continue
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(u.Path, prefix) {
				return true
			}
		}
	}
	return false
}

// Accept is the success predicate for a resolution candidate: it must be a usable link that differs from the original
// and does not itself need resolving.
func (c *Classifier) Accept(original string, candidate string) bool {
	return candidate != "" &&
		candidate != original &&
		post_archiver.IsHTTPURL(candidate) &&
		!c.IsShort(candidate)
}

// IsStaticAsset returns true for stylesheets, scripts, images and other page furniture that an HTML scan must skip.
func IsStaticAsset(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range staticMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	u, err := url.Parse(lower)
	if err != nil {
		return true
	}
	return staticExtensions.Contains(path.Ext(u.Path))
}
