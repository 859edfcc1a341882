package video

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanbriolat/post-archiver/generic"
	"github.com/alanbriolat/post-archiver/util"
)

var httpSchemes = generic.NewSet("http", "https")

type httpSource struct {
	client *resty.Client
	url    string
}

func (s *httpSource) URL() string {
	return s.url
}

func (s *httpSource) String() string {
	return s.url
}

func (s *httpSource) Open(ctx context.Context) (*Stream, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		_ = resp.RawBody().Close()
		return nil, fmt.Errorf("download failed: HTTP %s", resp.Status())
	}
	ext := util.ExtFromURLString(s.url, "")
	if ext == "" {
		ext = util.ExtFromContentType(resp.Header().Get("Content-Type"), "mp4")
	}
	return &Stream{Body: resp.RawBody(), Size: resp.RawResponse.ContentLength, Ext: ext}, nil
}

// NewHTTPClient is the client used for plain video downloads.
func NewHTTPClient(userAgent string, timeout time.Duration) *resty.Client {
	client := resty.New()
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return client
}

// HTTPProvider matches any http(s) link, downloading it as-is. It has the lowest priority so that more specific
// providers are tried first.
func HTTPProvider(client *resty.Client) Provider {
	return Provider{
		Name:     "http",
		Priority: PriorityLowest,
		Match: func(s string) (Source, error) {
			parsedURL, err := url.Parse(s)
			if err != nil {
				return nil, err
			}
			if !httpSchemes.Contains(parsedURL.Scheme) {
				return nil, fmt.Errorf("unknown URL scheme %v", parsedURL.Scheme)
			}
			if parsedURL.Host == "" {
				return nil, fmt.Errorf("no host in %v", s)
			}
			return &httpSource{client: client, url: s}, nil
		},
	}
}
