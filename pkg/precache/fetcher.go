package precache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/botdash-proxy/pkg/cache"
	"github.com/Sternrassler/botdash-proxy/pkg/client"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultManifest lists the resources fetched at install time.
var DefaultManifest = []string{"/", "/index.html", "/manifest.json"}

// Doer performs a single upstream request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests.
	MaxConcurrency int
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 4}
}

// Fetcher fetches a list of URLs as one unit.
type Fetcher struct {
	doer   Doer
	config Config
}

// New creates a manifest fetcher.
func New(doer Doer, config Config) *Fetcher {
	if doer == nil {
		panic("precache doer cannot be nil")
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Fetcher{doer: doer, config: config}
}

// ResolveManifest resolves manifest paths against the origin base URL.
func ResolveManifest(origin *url.URL, paths []string) ([]string, error) {
	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		ref, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parse manifest path %q: %w", p, err)
		}
		urls = append(urls, origin.ResolveReference(ref).String())
	}
	return urls, nil
}

// FetchAll fetches every URL and returns the entries keyed by store key.
//
// It is all-or-nothing: the first transport error or non-2xx status cancels
// the outstanding requests and FetchAll returns an error naming the URL and
// no entries.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) (map[string]*cache.Entry, error) {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.MaxConcurrency)

	results := make(map[string]*cache.Entry, len(urls))
	var mu sync.Mutex

	for _, rawURL := range urls {
		rawURL := rawURL
		g.Go(func() error {
			entry, err := f.fetch(gctx, rawURL)
			if err != nil {
				return fmt.Errorf("precache %s: %w", rawURL, err)
			}

			mu.Lock()
			results[cache.URLKey(rawURL)] = entry
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn().
			Err(err).
			Int("urls", len(urls)).
			Msg("Precache failed")
		return nil, err
	}

	log.Info().
		Int("urls", len(urls)).
		Dur("duration", time.Since(start)).
		Msg("Precache complete")

	return results, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := client.StatusError(resp); err != nil {
		return nil, err
	}

	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return nil, err
	}
	entry.URL = cache.URLKey(rawURL)
	return entry, nil
}
