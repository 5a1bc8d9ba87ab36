package handshake

import (
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/pzverkov/modcompat/pkg/compat"
	"github.com/pzverkov/modcompat/pkg/metrics"
)

// DefaultCacheSize is the number of reports a Checker keeps by default.
const DefaultCacheSize = 1024

type cacheKey struct {
	server [32]byte
	client [32]byte
}

func (k cacheKey) String() string {
	return hex.EncodeToString(k.server[:]) + hex.EncodeToString(k.client[:])
}

// Checker compares version data and caches reports keyed by the payload
// fingerprints of both peers. Safe for concurrent use; concurrent checks of
// the same pair run Compare once.
type Checker struct {
	collector *metrics.Collector
	size      int
	group     singleflight.Group

	// nil when caching is disabled
	cache *lru.Cache[cacheKey, *Report]
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithCacheSize bounds the number of cached reports. Zero or less disables
// caching.
func WithCacheSize(n int) CheckerOption {
	return func(c *Checker) {
		c.size = n
	}
}

// WithCheckerCollector records checks in the given collector instead of the
// global one.
func WithCheckerCollector(col *metrics.Collector) CheckerOption {
	return func(c *Checker) {
		c.collector = col
	}
}

// NewChecker creates a checker.
func NewChecker(opts ...CheckerOption) *Checker {
	c := &Checker{size: DefaultCacheSize}
	for _, opt := range opts {
		opt(c)
	}
	if c.collector == nil {
		c.collector = metrics.Global()
	}
	if c.size > 0 {
		// lru.New only fails for a non-positive size.
		c.cache, _ = lru.New[cacheKey, *Report](c.size)
	}
	return c
}

// Check compares client against server, reusing a cached report when both
// payloads were seen before. The returned report is shared and must not be
// modified. Payloads with an unsupported layout have no canonical encoding
// and are compared without caching.
func (c *Checker) Check(server, client *compat.VersionData) (*Report, error) {
	if !server.IsSupportedDataLayout() || !client.IsSupportedDataLayout() {
		r := Compare(server, client)
		c.record(r, false)
		return r, nil
	}

	key, err := fingerprints(server, client)
	if err != nil {
		return nil, err
	}

	if r, ok := c.lookup(key); ok {
		c.record(r, true)
		return r, nil
	}

	v, _, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if r, ok := c.lookup(key); ok {
			return r, nil
		}
		r := Compare(server, client)
		c.store(key, r)
		return r, nil
	})
	r := v.(*Report)
	c.record(r, false)
	return r, nil
}

// Len returns the number of cached reports.
func (c *Checker) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// Purge drops all cached reports.
func (c *Checker) Purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

func (c *Checker) lookup(key cacheKey) (*Report, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *Checker) store(key cacheKey, r *Report) {
	if c.cache != nil {
		c.cache.Add(key, r)
	}
}

func (c *Checker) record(r *Report, cached bool) {
	c.collector.RecordCheck(cached)
	for _, i := range r.Issues {
		switch i.Kind {
		case IssueGameVersionMismatch, IssueNetworkVersionMismatch:
			c.collector.RecordGameVersionMismatch()
		case IssueMissingOnClient, IssueMissingOnServer:
			c.collector.RecordMissingModule()
		case IssueClientVersionLower, IssueServerVersionLower:
			c.collector.RecordModuleVersionMismatch()
		}
	}
}

func fingerprints(server, client *compat.VersionData) (cacheKey, error) {
	var key cacheKey
	var err error
	if key.server, err = server.Fingerprint(); err != nil {
		return cacheKey{}, err
	}
	if key.client, err = client.Fingerprint(); err != nil {
		return cacheKey{}, err
	}
	return key, nil
}
