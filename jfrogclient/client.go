// Package jfrogclient talks to the JFrog Artifactory HTTP surface: it
// builds canonical artifact URLs, probes for existence with HEAD, and
// streams archives with GET. Discovery (the exponential/binary-search
// algorithm that finds the latest build) lives in discover.go.
package jfrogclient

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"wincore.dev/engine/errs"
	"wincore.dev/engine/model"
)

// Config controls one Client's connection to a single JFrog base URL and
// credential pair.
type Config struct {
	BaseURL       string
	Username      string
	Password      string
	RetryAttempts int
	// RequestsPerSecond throttles outbound HEAD/GET calls for this
	// credential so a large tuple count can't burst the upstream
	// repository. Zero disables throttling.
	RequestsPerSecond float64
	Clock             Clock
}

const (
	backoffBase   = time.Second
	backoffFactor = 2.0
	backoffCap    = 30 * time.Second
)

// Client is the HTTP surface WINCORE uses to talk to one JFrog instance.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	clock   Clock
}

// New builds a Client. httpClient may be nil to use a sensible default
// (keep-alive enabled, no client-side timeout — callers supply deadlines
// via context on every call).
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(math.Max(1, cfg.RequestsPerSecond)))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Client{cfg: cfg, http: httpClient, limiter: limiter, clock: clock}
}

// BuildURL constructs the archive URL for a coordinate, using the
// component's own path pattern when it has one and the canonical template
// otherwise.
func (c *Client) BuildURL(comp model.Component, branch model.Branch, coord model.BuildCoordinate) (string, error) {
	if comp.PathPattern != "" {
		return expandPattern(comp.PathPattern, comp, branch, coord)
	}
	branchPath := strings.Join(strings.Split(branch.Name, "/"), "/")
	escapedBranch := (&url.URL{Path: branchPath}).EscapedPath()
	buildDir := fmt.Sprintf("Build%s.%d", coord.Date, coord.Sequence)
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s.zip",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(comp.ProjectShortKey),
		url.PathEscape(comp.GUID),
		escapedBranch,
		url.PathEscape(buildDir),
		url.PathEscape(comp.Name),
	), nil
}

func expandPattern(pattern string, comp model.Component, branch model.Branch, coord model.BuildCoordinate) (string, error) {
	replacer := strings.NewReplacer(
		"{branch}", branch.Name,
		"{date}", coord.Date,
		"{buildNumber}", fmt.Sprintf("%d", coord.Sequence),
		"{componentName}", comp.Name,
	)
	expanded := replacer.Replace(pattern)
	if strings.Contains(expanded, "{") {
		return "", errs.New(errs.KindConfig, "expandPattern", fmt.Errorf("unknown placeholder in pattern %q", pattern))
	}
	return expanded, nil
}

// Exists performs an authenticated HEAD request and classifies the result.
func (c *Client) Exists(ctx context.Context, artifactURL string) (bool, error) {
	err := c.withRetry(ctx, "exists", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, artifactURL, nil)
		if err != nil {
			return errs.New(errs.KindConfig, "exists", err)
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		resp, respErr := c.do(req)
		if respErr != nil {
			return respErr
		}
		defer resp.Body.Close()
		return classifyStatus(resp.StatusCode)
	})
	if err == nil {
		return true, nil
	}
	if errs.As(err) == errs.KindNotFound {
		return false, nil
	}
	return false, err
}

// OpenStream performs an authenticated GET and returns the response body
// for streaming to disk along with the advertised Content-Length (-1 if
// unknown) and the checksum header value if present. Establishing the
// stream goes through the same retry policy as Exists; once the body is
// handed back, a mid-stream failure is the caller's to classify.
func (c *Client) OpenStream(ctx context.Context, artifactURL, checksumHeader string) (io.ReadCloser, int64, string, error) {
	var resp *http.Response
	err := c.withRetry(ctx, "openStream", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
		if err != nil {
			return errs.New(errs.KindConfig, "openStream", err)
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

		r, err := c.do(req)
		if err != nil {
			return err
		}
		if err := classifyStatus(r.StatusCode); err != nil {
			r.Body.Close()
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, 0, "", err
	}
	checksum := ""
	if checksumHeader != "" {
		checksum = resp.Header.Get(checksumHeader)
	}
	return resp.Body, resp.ContentLength, checksum, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, errs.New(errs.KindCancelled, "rate_limit", err)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, errs.New(errs.KindTimeout, "http", err)
		}
		return nil, errs.New(errs.KindTransient, "http", err)
	}
	return resp, nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusNotFound:
		return errs.New(errs.KindNotFound, "http", nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.New(errs.KindUnauthorized, "http", fmt.Errorf("status %d", status))
	case status >= 500:
		return errs.New(errs.KindTransient, "http", fmt.Errorf("status %d", status))
	default:
		return errs.New(errs.KindTransient, "http", fmt.Errorf("unexpected status %d", status))
	}
}

// withRetry retries fn up to c.cfg.RetryAttempts times on transient errors
// using capped exponential backoff with full jitter. Unauthorized and
// not-found are never retried.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	attempts := c.cfg.RetryAttempts + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errs.As(lastErr) != errs.KindTransient {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		delay := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return errs.New(errs.KindCancelled, op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(attempt int) time.Duration {
	raw := float64(backoffBase) * math.Pow(backoffFactor, float64(attempt))
	if raw > float64(backoffCap) {
		raw = float64(backoffCap)
	}
	return time.Duration(rand.Int63n(int64(raw) + 1))
}
