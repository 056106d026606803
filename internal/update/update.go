// Package update checks a release manifest for newer versions of tallybot.
//
// The manifest is a JSON object mapping component paths to versions; the
// "." key holds the latest stable release of the bot itself.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Checker fetches the release manifest with a retrying HTTP client.
type Checker struct {
	client *retryablehttp.Client
}

// NewChecker returns a Checker that retries transient failures twice.
func NewChecker() *Checker {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = nil
	return &Checker{client: c}
}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Check logs when manifestURL advertises a version newer than current.
// Failures are logged at debug level and otherwise ignored.
func (c *Checker) Check(ctx context.Context, manifestURL, current string) {
	if manifestURL == "" {
		slog.Debug("skipping version check: no manifest URL configured")
		return
	}
	latest, err := c.Latest(ctx, manifestURL)
	if err != nil {
		slog.Debug("version check failed", "error", err)
		return
	}
	if Newer(current, latest) {
		slog.Info("new version available", "current", current, "latest", latest)
	}
}

// Latest downloads the manifest and returns the version under the "." key.
func (c *Checker) Latest(ctx context.Context, manifestURL string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", manifestURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d", manifestURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var manifest map[string]string
	if err := json.Unmarshal(body, &manifest); err != nil {
		return "", fmt.Errorf("parsing manifest: %w", err)
	}
	return manifest["."], nil
}

// Newer reports whether latest is a strictly newer release than current.
// Unparseable versions (such as "dev" builds) never compare as newer.
func Newer(current, latest string) bool {
	if latest == "" || latest == current {
		return false
	}
	return semverLess(current, latest)
}

// ///////////////////////////////////////////////
// Version Comparison
// ///////////////////////////////////////////////

// semverLess reports a < b on the numeric core. A pre-release sorts before
// the same release (0.1.0-dev < 0.1.0); pre-releases are not ordered among
// themselves.
func semverLess(a, b string) bool {
	pa := parseSemver(a)
	pb := parseSemver(b)
	if pa == nil || pb == nil {
		return false
	}
	for i := range 3 {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return hasPreRelease(a) && !hasPreRelease(b)
}

func hasPreRelease(s string) bool {
	return strings.Contains(strings.TrimPrefix(s, "v"), "-")
}

// parseSemver splits "v1.2.3" or "0.1.0-dev" into [major, minor, patch],
// or returns nil if s is not a three-part version.
func parseSemver(s string) []int {
	s = strings.TrimPrefix(s, "v")
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return nil
	}
	result := make([]int, 3)
	for i, p := range parts {
		if idx := strings.IndexAny(p, "-+"); idx >= 0 {
			p = p[:idx]
		}
		if p == "" {
			return nil
		}
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return nil
			}
			n = n*10 + int(c-'0')
		}
		result[i] = n
	}
	return result
}
