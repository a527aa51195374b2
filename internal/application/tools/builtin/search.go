package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/herrald/beacon/internal/domain"
)

const (
	searchEndpoint   = "https://html.duckduckgo.com/html/"
	searchTimeout    = 10 * time.Second
	maxSearchResults = 10
	maxQueryLength   = 500
)

// webSearchTool queries DuckDuckGo's HTML endpoint. No API key needed.
type webSearchTool struct{}

func newWebSearchTool() *webSearchTool { return &webSearchTool{} }

func (t *webSearchTool) Name() string { return "web_search" }

func (t *webSearchTool) Description() string {
	return "Searches the web and returns result titles, URLs, and snippets. Follow up with web_read on a result URL for the full content."
}

func (t *webSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results (default: 5, max: 10)",
				"default":     5,
			},
		},
		"required": []string{"query"},
	}
}

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

func (t *webSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, ok := args["query"].(string)
	query = strings.TrimSpace(query)
	if !ok || query == "" {
		return "", fmt.Errorf("%w: query is required", domain.ErrInvalidToolArgs)
	}
	if len(query) > maxQueryLength {
		return "", fmt.Errorf("query is too long (%d characters, limit %d)", len(query), maxQueryLength)
	}

	limit := 5
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}

	results, err := searchDuckDuckGo(ctx, query, limit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results for %q.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return b.String(), nil
}

func searchDuckDuckGo(ctx context.Context, query string, limit int) ([]searchResult, error) {
	form := url.Values{}
	form.Set("q", query)
	form.Set("kl", "us-en")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := &http.Client{Timeout: searchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	return parseSearchResults(string(body), limit)
}

// parseSearchResults pulls results out of the DuckDuckGo HTML page.
func parseSearchResults(page string, limit int) ([]searchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	var results []searchResult
	doc.Find("div.result__body").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find("a.result__a").First()
		href, _ := link.Attr("href")
		href = cleanResultURL(href)
		title := strings.TrimSpace(link.Text())
		if href == "" || title == "" {
			return true
		}

		results = append(results, searchResult{
			Title:   title,
			URL:     href,
			Snippet: strings.TrimSpace(sel.Find(".result__snippet").First().Text()),
		})
		return len(results) < limit
	})
	return results, nil
}

// cleanResultURL unwraps DuckDuckGo's redirect links (/l/?uddg=<encoded>).
func cleanResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Path, "/l/") || u.Path == "/l/" {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}
