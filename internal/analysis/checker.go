package analysis

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blues/greensalary/internal/apperr"
)

// URLChecker verifies that a submitted post can be fetched.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

type HTTPChecker struct {
	timeout    time.Duration
	httpClient *http.Client
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPChecker{timeout: timeout, httpClient: &http.Client{}}
}

func (c *HTTPChecker) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.Validation("invalid URL %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return apperr.Validation("invalid URL %q", rawURL)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Validation("URL %q is not reachable: %v", rawURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return apperr.Validation("URL %q returned status %d", rawURL, resp.StatusCode)
	}
	return nil
}

// SitePrefixes constrains submissions for a site to a URL prefix, e.g.
// "Naver Blog" posts must start with https://blog.naver.com/.
type SitePrefixes map[string]string

// NewSitePrefixes normalizes keys, which viper already lowercases.
func NewSitePrefixes(m map[string]string) SitePrefixes {
	out := make(SitePrefixes, len(m))
	for site, prefix := range m {
		out[strings.ToLower(strings.TrimSpace(site))] = prefix
	}
	return out
}

func (s SitePrefixes) Validate(site, rawURL string) error {
	prefix, ok := s[strings.ToLower(strings.TrimSpace(site))]
	if !ok || prefix == "" {
		return nil
	}
	if !strings.HasPrefix(rawURL, prefix) {
		return apperr.Validation("%s submissions must start with %s", site, prefix)
	}
	return nil
}
