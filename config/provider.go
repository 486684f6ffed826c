package config

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Reader is the read side of catalog.Store that Provider caches in front
// of. Defined here (rather than importing catalog) to keep config free of
// a dependency on the catalog package and avoid an import cycle should
// catalog ever need configuration.
type Reader interface {
	SystemConfigValues(ctx context.Context) (map[string]string, error)
}

// Recognized SystemConfig keys.
const (
	KeyJFrogBaseURL      = "JFrogBaseURL"
	KeyJFrogUser         = "SVCJFROGUSR"
	KeyJFrogPass         = "SVCJFROGPAS"
	KeyBaseDrive         = "BaseDrive"
	KeyMaxConcurrency    = "MaxConcurrentThreads"
	KeyPollingFrequency  = "DefaultPollingFrequency"
	KeyMaxBuildsToKeep   = "MaxBuildsToKeep"
	KeyDownloadTimeout   = "DownloadTimeout"
	KeyExtractionTimeout = "ExtractionTimeout"
	KeyRetryAttempts     = "RetryAttempts"
	KeyLogRetentionDays  = "LogRetentionDays"
	KeyChecksumHeader    = "ChecksumHeaderName"
	KeyMaxLookbackDays   = "MaxLookbackDays"
)

// envOverride maps a SystemConfig key to the environment variable that, if
// set, takes precedence over the cached database value.
var envOverride = map[string]string{
	KeyBaseDrive:      "WINCORE_BASE_DRIVE",
	KeyJFrogBaseURL:   "WINCORE_JFROG_URL",
	KeyJFrogUser:      "WINCORE_JFROG_USER",
	KeyJFrogPass:      "WINCORE_JFROG_PASS",
	KeyMaxConcurrency: "WINCORE_MAX_CONCURRENCY",
}

// Provider is the Config Provider: it caches system_config values for TTL
// and exposes typed, clamped accessors. It is safe for concurrent use.
type Provider struct {
	reader Reader
	ttl    time.Duration

	mu       sync.RWMutex
	cache    *lru.Cache[string, string]
	loadedAt time.Time
}

// allRecognizedKeys bounds the LRU so a full SystemConfig load never
// evicts a key that's about to be read again in the same cycle.
var allRecognizedKeys = []string{
	KeyJFrogBaseURL, KeyJFrogUser, KeyJFrogPass, KeyBaseDrive, KeyMaxConcurrency,
	KeyPollingFrequency, KeyMaxBuildsToKeep, KeyDownloadTimeout, KeyExtractionTimeout,
	KeyRetryAttempts, KeyLogRetentionDays, KeyChecksumHeader, KeyMaxLookbackDays,
}

// New creates a Provider backed by reader, caching values for ttl (pass 0
// for the default of 60s).
func New(reader Reader, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	cache, _ := lru.New[string, string](len(allRecognizedKeys) + 8)
	return &Provider{reader: reader, ttl: ttl, cache: cache}
}

// Reload forces an immediate refresh from the catalog, bypassing the TTL.
// The Command Surface's `config` command calls this before printing.
func (p *Provider) Reload(ctx context.Context) error {
	values, err := p.reader.SystemConfigValues(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
	for _, k := range allRecognizedKeys {
		if v, ok := values[k]; ok {
			p.cache.Add(k, v)
		}
	}
	p.loadedAt = time.Now()
	return nil
}

func (p *Provider) ensureFresh(ctx context.Context) error {
	p.mu.RLock()
	stale := time.Since(p.loadedAt) > p.ttl
	p.mu.RUnlock()
	if stale {
		return p.Reload(ctx)
	}
	return nil
}

// Get returns the raw string value for key, applying any environment
// override, and whether it was present at all.
func (p *Provider) Get(ctx context.Context, key string) (string, bool) {
	if envKey, ok := envOverride[key]; ok {
		if v := os.Getenv(envKey); v != "" {
			return v, true
		}
	}
	// A failed refresh serves whatever is cached; the caller decides
	// whether an empty read is fatal (Require does).
	_ = p.ensureFresh(ctx)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cache.Get(key)
}

// Require returns the value for key or a config error if absent.
func (p *Provider) Require(ctx context.Context, key string) (string, error) {
	v, ok := p.Get(ctx, key)
	if !ok || v == "" {
		return "", &missingKeyError{key: key}
	}
	return v, nil
}

type missingKeyError struct{ key string }

func (e *missingKeyError) Error() string {
	return "system config key not set: " + e.key
}

func (p *Provider) getInt(ctx context.Context, key string, def int) int {
	v, ok := p.Get(ctx, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// MaxConcurrentThreads returns the worker pool size, clamped to [1, 10000].
func (p *Provider) MaxConcurrentThreads(ctx context.Context) int {
	return clamp(p.getInt(ctx, KeyMaxConcurrency, 10), 1, 10000)
}

// MaxBuildsToKeep returns the retention window size, clamped to >= 1.
func (p *Provider) MaxBuildsToKeep(ctx context.Context) int {
	return clamp(p.getInt(ctx, KeyMaxBuildsToKeep, 5), 1, 1<<30)
}

// DefaultPollingFrequency returns the fallback tuple polling interval in
// seconds, clamped to >= 30.
func (p *Provider) DefaultPollingFrequency(ctx context.Context) int {
	return clamp(p.getInt(ctx, KeyPollingFrequency, 300), 30, 1<<30)
}

// DownloadTimeout returns the download timeout in seconds.
func (p *Provider) DownloadTimeout(ctx context.Context) time.Duration {
	return time.Duration(clamp(p.getInt(ctx, KeyDownloadTimeout, 300), 1, 1<<30)) * time.Second
}

// ExtractionTimeout returns the extraction timeout in seconds.
func (p *Provider) ExtractionTimeout(ctx context.Context) time.Duration {
	return time.Duration(clamp(p.getInt(ctx, KeyExtractionTimeout, 300), 1, 1<<30)) * time.Second
}

// RetryAttempts returns the HTTP retry budget for transient errors.
func (p *Provider) RetryAttempts(ctx context.Context) int {
	return clamp(p.getInt(ctx, KeyRetryAttempts, 5), 0, 100)
}

// LogRetentionDays returns how long activity log rows are kept.
func (p *Provider) LogRetentionDays(ctx context.Context) int {
	return clamp(p.getInt(ctx, KeyLogRetentionDays, 30), 1, 3650)
}

// MaxLookbackDays returns how many days discovery rolls back before giving
// up.
func (p *Provider) MaxLookbackDays(ctx context.Context) int {
	return clamp(p.getInt(ctx, KeyMaxLookbackDays, 7), 1, 365)
}

// ChecksumHeaderName returns the HTTP response header the download
// manager reads an expected checksum from. Deployments differ in which
// header (if any) their repository publishes.
func (p *Provider) ChecksumHeaderName(ctx context.Context) string {
	if v, ok := p.Get(ctx, KeyChecksumHeader); ok && v != "" {
		return v
	}
	return "X-Checksum-Sha256"
}
