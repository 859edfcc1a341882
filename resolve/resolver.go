// Package resolve finds where short and tracking links really lead, trying an ordered chain of strategies for each one.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/async"
	"github.com/alanbriolat/post-archiver/generic"
)

const unresolvedNote = "resolution needs a full browser redirect chain, which the server cannot follow"

// Cache remembers successful resolutions across requests.
type Cache interface {
	GetResolution(original string) (post_archiver.ResolvedURL, bool, error)
	PutResolution(resolved post_archiver.ResolvedURL) error
}

// Candidate is a strategy's proposal for where a link leads.
type Candidate struct {
	URL    string
	Method post_archiver.Method
}

// A Strategy is one way of resolving a link. It returns None when it has nothing to offer, and an error only when it
// could not even try.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context, raw string) (generic.Option[Candidate], error)
}

type Config struct {
	UnshortenURL string
	Timeout      time.Duration
	UserAgent    string
	ShortHosts   []string
	Concurrency  int
}

type Option func(*Resolver)

func WithCache(cache Cache) Option {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithStrategies replaces the default strategy chain.
func WithStrategies(strategies ...Strategy) Option {
	return func(r *Resolver) {
		r.strategies = strategies
	}
}

type Resolver struct {
	*Classifier
	client       *resty.Client
	unshortenURL string
	concurrency  int
	cache        Cache
	strategies   []Strategy
}

func New(config Config, opts ...Option) *Resolver {
	client := resty.New()
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	if config.Timeout > 0 {
		client.SetTimeout(config.Timeout)
	}
	if config.UserAgent != "" {
		client.SetHeader("User-Agent", config.UserAgent)
	}
	r := &Resolver{
		Classifier:   NewClassifier(config.ShortHosts...),
		client:       client,
		unshortenURL: config.UnshortenURL,
		concurrency:  config.Concurrency,
	}
	r.strategies = r.DefaultStrategies()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultStrategies is the chain in priority order: the unshortening service, then a HEAD request, then a GET request.
func (r *Resolver) DefaultStrategies() []Strategy {
	strategies := []Strategy{
		{Name: "head", Resolve: r.headRedirect},
		{Name: "get", Resolve: r.getRedirectOrScan},
	}
	if r.unshortenURL != "" {
		strategies = append([]Strategy{{Name: "unshorten", Resolve: r.unshortenService}}, strategies...)
	}
	return strategies
}

// ResolveAll resolves every link, giving exactly one result per input in the same order.
func (r *Resolver) ResolveAll(ctx context.Context, urls []string) []post_archiver.ResolvedURL {
	concurrency := r.concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return async.Map(ctx, urls, concurrency, func(ctx context.Context, _ int, raw string) post_archiver.ResolvedURL {
		return r.Resolve(ctx, raw)
	})
}

// Resolve never fails: links that need no resolution pass through, and links that cannot be resolved come back as
// MethodUnresolved with Resolved set to the original.
func (r *Resolver) Resolve(ctx context.Context, raw string) post_archiver.ResolvedURL {
	log := post_archiver.Logger(ctx).Sugar().With("url", raw)
	if !r.IsShort(raw) {
		return post_archiver.ResolvedURL{Original: raw, Resolved: raw}
	}

	if r.cache != nil {
		if cached, ok, err := r.cache.GetResolution(raw); err != nil {
			log.Debugw("Resolution cache lookup failed", "error", err)
		} else if ok {
			log.Debugw("Resolved from cache", "resolved", cached.Resolved, "method", cached.Method)
			return cached
		}
	}

	var result error
	for _, strategy := range r.strategies {
		candidate, err := strategy.Resolve(ctx, raw)
		if err != nil {
			log.Debugw("Resolution strategy failed", "strategy", strategy.Name, "error", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", strategy.Name, err))
			continue
		}
		accepted := candidate.Filter(func(c Candidate) bool { return r.Accept(raw, c.URL) })
		if accepted.IsNone() {
			log.Debugw("Resolution strategy found nothing usable", "strategy", strategy.Name, "candidate", candidate.UnwrapOr(Candidate{}).URL)
			continue
		}
		resolved := post_archiver.ResolvedURL{
			Original:     raw,
			Resolved:     accepted.Value.URL,
			WasShortened: true,
			Method:       accepted.Value.Method,
		}
		log.Debugw("Resolved URL", "resolved", resolved.Resolved, "method", resolved.Method)
		if r.cache != nil {
			if err := r.cache.PutResolution(resolved); err != nil {
				log.Debugw("Failed to cache resolution", "error", err)
			}
		}
		return resolved
	}

	unresolved := post_archiver.ResolvedURL{
		Original:     raw,
		Resolved:     raw,
		WasShortened: true,
		Method:       post_archiver.MethodUnresolved,
		Note:         unresolvedNote,
	}
	if result != nil {
		log.Debugw("All resolution strategies failed", "errors", result)
	}
	return unresolved
}

func (r *Resolver) unshortenService(ctx context.Context, raw string) (generic.Option[Candidate], error) {
	var body struct {
		URL string `json:"url"`
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("url", raw).
		ForceContentType("application/json").
		SetResult(&body).
		Get(r.unshortenURL)
	if err != nil {
		return generic.None[Candidate](), err
	}
	if resp.IsError() {
		return generic.None[Candidate](), fmt.Errorf("unshortening service returned HTTP %d", resp.StatusCode())
	}
	return some(body.URL, post_archiver.MethodUnshortenIt), nil
}

func (r *Resolver) headRedirect(ctx context.Context, raw string) (generic.Option[Candidate], error) {
	resp, err := r.client.R().SetContext(ctx).Head(raw)
	if err != nil {
		return generic.None[Candidate](), err
	}
	return some(location(resp), post_archiver.MethodHeadRedirect), nil
}

func (r *Resolver) getRedirectOrScan(ctx context.Context, raw string) (generic.Option[Candidate], error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(raw)
	if err != nil {
		return generic.None[Candidate](), err
	}
	body := resp.RawBody()
	defer body.Close()

	switch status := resp.StatusCode(); {
	case status >= 300 && status < 400:
		return some(location(resp), post_archiver.MethodHTTPRedirect), nil
	case status == http.StatusOK:
		page := resp.RawResponse.Request.URL
		found, err := ScanHTML(page, post_archiver.ContextReader(ctx, body), func(c string) bool {
			return r.Accept(raw, c)
		})
		if err != nil {
			return generic.None[Candidate](), fmt.Errorf("failed to scan page: %w", err)
		}
		if found.IsNone() {
			return generic.None[Candidate](), nil
		}
		return generic.Some(Candidate{URL: found.Value, Method: post_archiver.MethodHTMLScan}), nil
	default:
		return generic.None[Candidate](), errors.New(resp.Status())
	}
}

// location returns the absolute redirect target of resp, if any.
func location(resp *resty.Response) string {
	loc := resp.Header().Get("Location")
	if loc == "" {
		return ""
	}
	target, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		target = resp.RawResponse.Request.URL.ResolveReference(target)
	}
	return target.String()
}

func some(u string, method post_archiver.Method) generic.Option[Candidate] {
	if u == "" {
		return generic.None[Candidate]()
	}
	return generic.Some(Candidate{URL: u, Method: method})
}
