package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/alanbriolat/post-archiver/generic"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider name")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrNoMatch           = errors.New("no provider matched the input")
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

// Stream is an open video download.
type Stream struct {
	Body io.ReadCloser
	// Size is the expected number of bytes, or -1 if unknown.
	Size int64
	// Ext is the file extension the stream should be saved with, without a dot.
	Ext string
}

// A Source knows how to download one video.
type Source interface {
	URL() string
	Open(ctx context.Context) (*Stream, error)
}

type MatchFunc = func(string) (Source, error)

// A Provider matches any URL it knows how to handle, giving a Source that can be used to download the video.
type Provider struct {
	Name  string
	Match MatchFunc
	// Priority of the matcher, lower (including negative) means matching earlier.
	Priority int16
}

func (p Provider) WithPriority(priority int16) Provider {
	p.Priority = priority
	return p
}

// A Match is the result of a Provider successfully matching a URL.
type Match struct {
	ProviderName string
	Source       Source
}

// A Registry is a collection of Provider instances which can be used to try to match URLs.
type Registry struct {
	providers []*Provider
	names     generic.Set[string]
}

func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{}
	for _, p := range providers {
		if err := r.Add(p); err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
	}
	return r, nil
}

// Add registers a Provider. Provider.Name and Provider.Match must be set, and Provider.Name must be unique within the
// Registry.
func (r *Registry) Add(p Provider) error {
	if r.names == nil {
		r.names = generic.NewSet[string]()
	}
	if p.Name == "" || p.Match == nil {
		return ErrInvalidProvider
	}
	if !r.names.Add(p.Name) {
		return ErrDuplicateProvider
	}
	r.providers = append(r.providers, &p)
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
	return nil
}

// List returns the names of registered providers in priority order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Match a string against each Provider in priority order. If none match, the error wraps ErrNoMatch and every
// provider's reason.
func (r *Registry) Match(s string) (*Match, error) {
	var result error
	for _, p := range r.providers {
		source, err := p.Match(s)
		if source != nil && err == nil {
			return &Match{ProviderName: p.Name, Source: source}, nil
		}
		if err == nil {
			err = errors.New("no source")
		}
		result = multierror.Append(result, multierror.Prefix(err, fmt.Sprintf("[%v]", p.Name)))
	}
	if result == nil {
		return nil, ErrNoMatch
	}
	return nil, fmt.Errorf("%w: %w", ErrNoMatch, result)
}
