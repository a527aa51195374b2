package builtin

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/herrald/beacon/internal/domain"
)

// webLinksTool lists the links on a page, optionally filtered to the same or
// a different domain, or by URL pattern.
type webLinksTool struct{}

func newWebLinksTool() *webLinksTool { return &webLinksTool{} }

func (t *webLinksTool) Name() string { return "web_links" }

func (t *webLinksTool) Description() string {
	return "Extracts links from a web page. Useful for discovering related pages or finding specific resources. Can filter by internal/external links or a URL regex."
}

func (t *webLinksTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to extract links from",
			},
			"filter": map[string]any{
				"type":        "string",
				"description": "Which links to keep: 'internal' (same domain), 'external', or 'all' (default)",
				"enum":        []string{"all", "internal", "external"},
				"default":     "all",
			},
			"pattern": map[string]any{
				"type":        "string",
				"description": "Optional regex the link URL must match (e.g. '\\.pdf$')",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of links to return (default: 100)",
				"default":     100,
			},
		},
		"required": []string{"url"},
	}
}

func (t *webLinksTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	target, ok := args["url"].(string)
	if !ok || target == "" {
		return "", fmt.Errorf("%w: url is required", domain.ErrInvalidToolArgs)
	}

	filter := "all"
	if v, ok := args["filter"].(string); ok && v != "" {
		filter = v
	}

	var pattern *regexp.Regexp
	if p, ok := args["pattern"].(string); ok && p != "" {
		var err error
		pattern, err = regexp.Compile(p)
		if err != nil {
			return "", fmt.Errorf("invalid pattern: %w", err)
		}
	}

	maxResults := 100
	if v, ok := args["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}

	htmlContent, finalURL, err := fetchHTML(ctx, target)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse final URL: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	type link struct {
		href string
		text string
	}
	var links []link
	seen := make(map[string]bool)

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return true
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return true
		}
		abs := resolved.String()
		if seen[abs] {
			return true
		}

		internal := resolved.Hostname() == base.Hostname()
		if filter == "internal" && !internal {
			return true
		}
		if filter == "external" && internal {
			return true
		}
		if pattern != nil && !pattern.MatchString(abs) {
			return true
		}

		seen[abs] = true
		links = append(links, link{href: abs, text: strings.TrimSpace(sel.Text())})
		return len(links) < maxResults
	})

	if len(links) == 0 {
		return fmt.Sprintf("No matching links found on %s", finalURL), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d links on %s:\n", len(links), finalURL)
	for _, l := range links {
		if l.text != "" {
			fmt.Fprintf(&b, "- [%s](%s)\n", l.text, l.href)
		} else {
			fmt.Fprintf(&b, "- %s\n", l.href)
		}
	}
	return b.String(), nil
}
