// Package discovery reads the optional backend profile published at
// /.well-known/storesync and answers feature queries from it.
// Profiles are cached per URL, honoring Cache-Control and ETag.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WellKnownPath is where backends publish their profile.
const WellKnownPath = "/.well-known/storesync"

// Profile is a backend's self-description.
type Profile struct {
	Version  string   `json:"version"`
	Features []string `json:"features"`

	// Cache metadata - not from wire, set by fetcher
	URL       string    `json:"-"`
	FetchedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"-"`
	Missing   bool      `json:"-"` // Backend answered 404
}

// Has reports whether the profile lists feature.
func (p *Profile) Has(feature string) bool {
	for _, f := range p.Features {
		if strings.EqualFold(f, feature) {
			return true
		}
	}
	return false
}

// Fetcher fetches and caches backend profiles.
// Interface allows mocking in tests.
type Fetcher interface {
	Fetch(ctx context.Context, profileURL string) (*Profile, error)
}

// DefaultCacheTTL is used when HTTP cache headers don't specify a duration.
const DefaultCacheTTL = 5 * time.Minute

// DefaultFetchTimeout is the timeout for fetching a profile.
const DefaultFetchTimeout = 5 * time.Second

// MaxCacheEntries limits the number of cached profiles (LRU eviction).
const MaxCacheEntries = 256

// FetcherConfig contains configuration for the profile fetcher.
type FetcherConfig struct {
	CacheTTL     time.Duration // Default TTL when not specified by cache headers
	FetchTimeout time.Duration // HTTP timeout for fetching profiles
	MaxEntries   int           // Max cache entries (0 = default)
	Transport    http.RoundTripper
}

// HTTPFetcher fetches backend profiles over HTTP with caching.
type HTTPFetcher struct {
	client     *http.Client
	cache      map[string]*cacheEntry
	cacheMu    sync.RWMutex
	config     FetcherConfig
	accessList []string // LRU tracking: most recent at end
}

type cacheEntry struct {
	profile   *Profile
	expiresAt time.Time
	etag      string
}

// NewHTTPFetcher creates a profile fetcher. Zero config fields take defaults.
func NewHTTPFetcher(config FetcherConfig) *HTTPFetcher {
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.FetchTimeout == 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	if config.MaxEntries == 0 {
		config.MaxEntries = MaxCacheEntries
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   config.FetchTimeout,
			Transport: config.Transport,
		},
		cache:      make(map[string]*cacheEntry),
		config:     config,
		accessList: make([]string, 0, config.MaxEntries),
	}
}

// Fetch retrieves a profile, using cache when possible.
// A stale entry is revalidated with its ETag; on fetch failure the stale
// entry is returned instead of an error.
func (f *HTTPFetcher) Fetch(ctx context.Context, profileURL string) (*Profile, error) {
	f.cacheMu.RLock()
	entry, exists := f.cache[profileURL]
	f.cacheMu.RUnlock()

	if exists && entry.expiresAt.After(time.Now()) {
		f.recordAccess(profileURL)
		return entry.profile, nil
	}

	profile, err := f.fetchFromNetwork(ctx, profileURL, entry)
	if err != nil {
		if exists {
			return entry.profile, nil
		}
		return nil, fmt.Errorf("fetch backend profile: %w", err)
	}
	return profile, nil
}

func (f *HTTPFetcher) fetchFromNetwork(ctx context.Context, profileURL string, staleEntry *cacheEntry) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if staleEntry != nil && staleEntry.etag != "" {
		req.Header.Set("If-None-Match", staleEntry.etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && staleEntry != nil {
		f.updateCacheEntry(profileURL, staleEntry.profile, resp)
		return staleEntry.profile, nil
	}

	// No profile published: remember that so we don't ask on every mutation.
	if resp.StatusCode == http.StatusNotFound {
		profile := &Profile{URL: profileURL, FetchedAt: time.Now(), Missing: true}
		f.updateCacheEntry(profileURL, profile, resp)
		return profile, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, profileURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("parse profile JSON: %w", err)
	}
	profile.URL = profileURL
	profile.FetchedAt = time.Now()

	f.updateCacheEntry(profileURL, &profile, resp)
	return &profile, nil
}

func (f *HTTPFetcher) updateCacheEntry(url string, profile *Profile, resp *http.Response) {
	ttl := f.parseCacheTTL(resp)
	expiresAt := time.Now().Add(ttl)

	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()

	profile.ExpiresAt = expiresAt
	entry := &cacheEntry{
		profile:   profile,
		expiresAt: expiresAt,
		etag:      resp.Header.Get("ETag"),
	}

	if _, ok := f.cache[url]; !ok && len(f.cache) >= f.config.MaxEntries {
		f.evictOldest()
	}
	f.cache[url] = entry
	f.recordAccessLocked(url)
}

// parseCacheTTL extracts TTL from HTTP cache headers.
// Priority: max-age in Cache-Control, then Expires header, then default.
func (f *HTTPFetcher) parseCacheTTL(resp *http.Response) time.Duration {
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.TrimSpace(directive)
			if strings.HasPrefix(directive, "max-age=") {
				if seconds, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil && seconds >= 0 {
					return time.Duration(seconds) * time.Second
				}
			}
		}
	}

	if expires := resp.Header.Get("Expires"); expires != "" {
		if t, err := http.ParseTime(expires); err == nil {
			if ttl := time.Until(t); ttl > 0 {
				return ttl
			}
		}
	}

	return f.config.CacheTTL
}

func (f *HTTPFetcher) recordAccess(url string) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.recordAccessLocked(url)
}

func (f *HTTPFetcher) recordAccessLocked(url string) {
	for i, u := range f.accessList {
		if u == url {
			f.accessList = append(f.accessList[:i], f.accessList[i+1:]...)
			break
		}
	}
	f.accessList = append(f.accessList, url)
}

func (f *HTTPFetcher) evictOldest() {
	if len(f.accessList) == 0 {
		return
	}
	oldest := f.accessList[0]
	f.accessList = f.accessList[1:]
	delete(f.cache, oldest)
}

// ClearCache removes all cached entries.
func (f *HTTPFetcher) ClearCache() {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.cache = make(map[string]*cacheEntry)
	f.accessList = make([]string, 0, f.config.MaxEntries)
}
