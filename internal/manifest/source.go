package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Fetch loads and parses a manifest from url: a file:// URL, a bare
// filesystem path, or an http(s):// URL. The transport is deliberately
// thin; callers see only the parsed Manifest.
func Fetch(ctx context.Context, url string) (*Manifest, error) {
	switch {
	case strings.HasPrefix(url, "file://"):
		return fetchFile(strings.TrimPrefix(url, "file://"))
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return fetchHTTP(ctx, url)
	default:
		return fetchFile(url)
	}
}

func fetchFile(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

func fetchHTTP(ctx context.Context, url string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest %s: unexpected status %s", url, resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", url, err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", url, err)
	}
	return m, nil
}
