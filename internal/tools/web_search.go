package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const searchTimeout = 15 * time.Second

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

type searchProvider interface {
	Name() string
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
}

// WebSearchTool queries Brave when an API key is configured and falls back
// to DuckDuckGo's HTML endpoint otherwise, or when Brave fails.
type WebSearchTool struct {
	providers []searchProvider
}

func NewWebSearchTool(braveAPIKey string) *WebSearchTool {
	var providers []searchProvider
	if braveAPIKey != "" {
		providers = append(providers, newBraveProvider(braveAPIKey))
	}
	providers = append(providers, newDDGProvider())
	return &WebSearchTool{providers: providers}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web and return result links with snippets" }
func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"count": map[string]any{
				"type":        "number",
				"description": "Number of results (default 5, max 10)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}
	count := 5
	if c, ok := args["count"].(float64); ok && c > 0 {
		count = int(c)
		if count > 10 {
			count = 10
		}
	}

	var lastErr error
	for _, provider := range t.providers {
		results, err := provider.Search(ctx, query, count)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", provider.Name(), err)
			continue
		}
		if len(results) == 0 {
			continue
		}
		return NewResult(formatSearchResults(query, results))
	}
	if lastErr != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", lastErr))
	}
	return NewResult(fmt.Sprintf("no results for %q", query))
}

func formatSearchResults(query string, results []searchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q:\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimSpace(b.String())
}

// --- Brave ---

type braveProvider struct {
	apiKey string
	client *http.Client
}

func newBraveProvider(apiKey string) *braveProvider {
	return &braveProvider{apiKey: apiKey, client: &http.Client{Timeout: searchTimeout}}
}

func (p *braveProvider) Name() string { return "brave" }

func (p *braveProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	results := make([]searchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, searchResult{
			Title:   stripTags(r.Title),
			URL:     r.URL,
			Snippet: stripTags(r.Description),
		})
		if len(results) >= count {
			break
		}
	}
	return results, nil
}

// --- DuckDuckGo HTML fallback ---

type ddgProvider struct {
	client *http.Client
}

func newDDGProvider() *ddgProvider {
	return &ddgProvider{client: &http.Client{Timeout: searchTimeout}}
}

func (p *ddgProvider) Name() string { return "duckduckgo" }

var (
	ddgResultRe  = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`class="result__snippet[^"]*"[^>]*>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func (p *ddgProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
	if err != nil {
		return nil, err
	}

	links := ddgResultRe.FindAllStringSubmatch(string(body), count)
	snippets := ddgSnippetRe.FindAllStringSubmatch(string(body), count)

	results := make([]searchResult, 0, len(links))
	for i, m := range links {
		r := searchResult{
			Title: stripTags(m[2]),
			URL:   decodeDDGURL(m[1]),
		}
		if i < len(snippets) {
			r.Snippet = stripTags(snippets[i][1])
		}
		results = append(results, r)
	}
	return results, nil
}

// decodeDDGURL unwraps the uddg redirect parameter.
func decodeDDGURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTagRe.ReplaceAllString(s, "")))
}
