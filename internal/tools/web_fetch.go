package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const (
	fetchTimeout      = 30 * time.Second
	fetchMaxRedirects = 3
	fetchMaxBody      = 8 * 1024 * 1024
	fetchCacheTTL     = 5 * time.Minute
	fetchUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// checkSSRF rejects URLs whose host resolves to loopback, link-local or
// private ranges.
func checkSSRF(host string) error {
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("host %s resolves to a non-public address", host)
		}
	}
	return nil
}

type fetchCacheEntry struct {
	content string
	expires time.Time
}

// WebFetchTool downloads a page and extracts readable text.
type WebFetchTool struct {
	maxChars int
	client   *http.Client

	mu    sync.Mutex
	cache map[string]fetchCacheEntry
}

func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = 50_000
	}
	t := &WebFetchTool{
		maxChars: maxChars,
		cache:    make(map[string]fetchCacheEntry),
	}
	t.client = &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetchMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
			}
			// Redirects re-enter the SSRF check so a public page cannot
			// bounce the fetch into the local network.
			return checkSSRF(req.URL.Hostname())
		},
	}
	return t
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract its readable content"
}
func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
			"max_chars": map[string]any{
				"type":        "number",
				"description": "Maximum characters to return",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) *Result {
	rawURL, _ := args["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid url: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if parsed.Hostname() == "" {
		return ErrorResult("missing hostname in url")
	}
	if err := checkSSRF(parsed.Hostname()); err != nil {
		return ErrorResult(fmt.Sprintf("fetch blocked: %v", err))
	}

	maxChars := t.maxChars
	if mc, ok := args["max_chars"].(float64); ok && mc >= 100 {
		maxChars = int(mc)
	}

	cacheKey := fmt.Sprintf("%s|%d", rawURL, maxChars)
	if cached, ok := t.cacheGet(cacheKey); ok {
		return NewResult(cached)
	}

	content, err := t.fetch(ctx, parsed, maxChars)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err))
	}
	t.cacheSet(cacheKey, content)
	return NewResult(content)
}

func (t *WebFetchTool) fetch(ctx context.Context, u *url.URL, maxChars int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
	if err != nil {
		return "", err
	}

	contentType := resp.Header.Get("Content-Type")
	var content string
	if strings.Contains(contentType, "text/html") {
		article, err := readability.FromReader(strings.NewReader(string(body)), u)
		if err != nil || strings.TrimSpace(article.TextContent) == "" {
			// Readability gives up on sparse pages; fall back to the raw body.
			content = string(body)
		} else {
			content = article.Title + "\n\n" + article.TextContent
		}
	} else {
		content = string(body)
	}

	return Truncate(strings.TrimSpace(content), maxChars), nil
}

func (t *WebFetchTool) cacheGet(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expires) {
		delete(t.cache, key)
		return "", false
	}
	return entry.content, true
}

func (t *WebFetchTool) cacheSet(key, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.cache) > 128 {
		for k := range t.cache {
			delete(t.cache, k)
			break
		}
	}
	t.cache[key] = fetchCacheEntry{content: content, expires: time.Now().Add(fetchCacheTTL)}
}
