package builtin

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/herrald/beacon/internal/domain"
)

// webReadTool fetches a page, strips boilerplate through the readability
// algorithm, and hands the model markdown instead of raw HTML.
type webReadTool struct{}

func newWebReadTool() *webReadTool { return &webReadTool{} }

func (t *webReadTool) Name() string { return "web_read" }

func (t *webReadTool) Description() string {
	return "Reads a web page and returns its main content as clean Markdown with navigation, ads, and boilerplate removed. Prefer this over raw fetching for articles and documentation."
}

func (t *webReadTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to read",
			},
			"max_length": map[string]any{
				"type":        "integer",
				"description": "Maximum characters of markdown to return (default: 20000)",
				"default":     20000,
			},
		},
		"required": []string{"url"},
	}
}

func (t *webReadTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	target, ok := args["url"].(string)
	if !ok || target == "" {
		return "", fmt.Errorf("%w: url is required", domain.ErrInvalidToolArgs)
	}

	maxLength := 20000
	if v, ok := args["max_length"].(float64); ok && v > 0 {
		maxLength = int(v)
	}

	htmlContent, finalURL, err := fetchHTML(ctx, target)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}

	title, articleHTML, err := extractReadable(htmlContent, finalURL)
	if err != nil {
		// Pages readability cannot parse still get a best-effort conversion.
		articleHTML = htmlContent
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(finalURL))
	if err != nil {
		return "", fmt.Errorf("markdown conversion failed: %w", err)
	}
	md = cleanMarkdown(md)
	if len(md) > maxLength {
		md = truncateMarkdown(md, maxLength)
	}

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	fmt.Fprintf(&b, "Source: %s\n\n", finalURL)
	b.WriteString(md)
	return b.String(), nil
}

func extractReadable(htmlContent, pageURL string) (title, articleHTML string, err error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{Scheme: "https", Host: "example.com"}
	}

	article, err := readability.FromReader(strings.NewReader(htmlContent), parsed)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := article.RenderHTML(&buf); err != nil {
		return "", "", err
	}
	return article.Title(), buf.String(), nil
}

// cleanMarkdown collapses runs of more than two blank lines and trims
// trailing whitespace.
func cleanMarkdown(md string) string {
	lines := strings.Split(md, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks <= 2 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// truncateMarkdown cuts at a paragraph, then sentence, then word boundary.
func truncateMarkdown(md string, maxLen int) string {
	if len(md) <= maxLen {
		return md
	}
	cut := md[:maxLen]
	if idx := strings.LastIndex(cut, "\n\n"); idx > maxLen/2 {
		return cut[:idx] + "\n\n[content truncated]"
	}
	if idx := strings.LastIndex(cut, ". "); idx > maxLen/2 {
		return cut[:idx+1] + "\n\n[content truncated]"
	}
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		return cut[:idx] + "...\n\n[content truncated]"
	}
	return cut + "..."
}
