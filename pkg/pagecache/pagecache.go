// Package pagecache stores fetched markup and extraction results on disk so
// repeated runs against the same product page skip the network and the model.
// Files are named by a readable URL slug plus a short hash of the normalized
// URL, so entries stay stable across query-parameter reordering.
package pagecache

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	DefaultBaseDir = "extractor-cache"
	pagesDir       = "pages"
	resultsDir     = "results"
)

// Cache handles storage and freshness of cached pages and results.
type Cache struct {
	baseDir string
	maxAge  time.Duration // zero or negative means never expire
}

// New creates the cache directories under baseDir.
func New(baseDir string, maxAge time.Duration) (*Cache, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	for _, sub := range []string{pagesDir, resultsDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0750); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	return &Cache{baseDir: baseDir, maxAge: maxAge}, nil
}

// GetPage returns cached markup for a URL when present and fresh.
func (c *Cache) GetPage(rawURL string) ([]byte, bool, error) {
	return c.get(pagesDir, rawURL, ".html")
}

// SetPage stores fetched markup.
func (c *Cache) SetPage(rawURL string, data []byte) error {
	return c.set(pagesDir, rawURL, ".html", data)
}

// GetResult returns a cached extraction result document.
func (c *Cache) GetResult(rawURL string) ([]byte, bool, error) {
	return c.get(resultsDir, rawURL, ".json")
}

// SetResult stores an extraction result document.
func (c *Cache) SetResult(rawURL string, data []byte) error {
	return c.set(resultsDir, rawURL, ".json", data)
}

func (c *Cache) get(sub, rawURL, ext string) ([]byte, bool, error) {
	path, err := c.entryPath(sub, rawURL, ext)
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat cache entry: %w", err)
	}
	if c.maxAge > 0 && time.Since(info.ModTime()) > c.maxAge {
		return nil, false, nil // stale
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	return data, true, nil
}

func (c *Cache) set(sub, rawURL, ext string, data []byte) error {
	path, err := c.entryPath(sub, rawURL, ext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// entryPath builds <base>/<sub>/<slug>-<hash><ext>. The slug keeps entries
// recognizable, the hash keeps them unique.
func (c *Cache) entryPath(sub, rawURL, ext string) (string, error) {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s-%s%s", sanitizeSlug(rawURL), shortHash(normalized), ext)
	return filepath.Join(c.baseDir, sub, filename), nil
}

// normalizeURL canonicalizes a URL for hashing: https, lowercase host,
// sorted query, no fragment.
func normalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Host = strings.ToLower(u.Host)

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sorted := url.Values{}
		for _, k := range keys {
			for _, v := range params[k] {
				sorted.Add(k, v)
			}
		}
		u.RawQuery = sorted.Encode()
	}
	u.Fragment = ""
	return u.String(), nil
}

func shortHash(normalized string) string {
	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", hash[:6])
}

var invalidFilenameChar = regexp.MustCompile(`[^a-zA-Z0-9\-_]+`)

func sanitizeSlug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		safe := invalidFilenameChar.ReplaceAllString(rawURL, "_")
		return strings.Trim(safe, "_")
	}
	hostPart := strings.ReplaceAll(u.Host, ".", "_")
	pathPart := strings.TrimPrefix(u.Path, "/")
	pathPart = invalidFilenameChar.ReplaceAllString(pathPart, "_")
	pathPart = strings.Trim(pathPart, "_")
	if pathPart == "" {
		return hostPart
	}
	return fmt.Sprintf("%s_%s", hostPart, pathPart)
}
