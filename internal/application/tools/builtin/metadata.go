package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/herrald/beacon/internal/domain"
	"golang.org/x/net/html"
)

// pageMetadata is what web_metadata reports about a page.
type pageMetadata struct {
	Title         string            `json:"title,omitempty"`
	Description   string            `json:"description,omitempty"`
	Author        string            `json:"author,omitempty"`
	CanonicalURL  string            `json:"canonical_url,omitempty"`
	Language      string            `json:"language,omitempty"`
	PublishedTime string            `json:"published_time,omitempty"`
	OpenGraph     map[string]string `json:"open_graph,omitempty"`
}

// webMetadataTool reads a page's head section: title, description, canonical
// URL, Open Graph tags. Cheaper than web_read when only the summary matters.
type webMetadataTool struct{}

func newWebMetadataTool() *webMetadataTool { return &webMetadataTool{} }

func (t *webMetadataTool) Name() string { return "web_metadata" }

func (t *webMetadataTool) Description() string {
	return "Extracts page metadata (title, description, author, canonical URL, Open Graph tags) without downloading the full readable content. Use when you only need to know what a page is about."
}

func (t *webMetadataTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to inspect",
			},
		},
		"required": []string{"url"},
	}
}

func (t *webMetadataTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	target, ok := args["url"].(string)
	if !ok || target == "" {
		return "", fmt.Errorf("%w: url is required", domain.ErrInvalidToolArgs)
	}

	htmlContent, finalURL, err := fetchHTML(ctx, target)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}

	meta, err := parseMetadata(htmlContent)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	out, err := json.MarshalIndent(map[string]any{"url": finalURL, "metadata": meta}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func parseMetadata(htmlContent string) (*pageMetadata, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	meta := &pageMetadata{OpenGraph: make(map[string]string)}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "html":
				if v := attr(n, "lang"); v != "" {
					meta.Language = v
				}
			case "title":
				if meta.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					meta.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				applyMetaTag(n, meta)
			case "link":
				if strings.EqualFold(attr(n, "rel"), "canonical") {
					meta.CanonicalURL = attr(n, "href")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if meta.Title == "" {
		meta.Title = meta.OpenGraph["title"]
	}
	if meta.Description == "" {
		meta.Description = meta.OpenGraph["description"]
	}
	return meta, nil
}

func applyMetaTag(n *html.Node, meta *pageMetadata) {
	name := strings.ToLower(attr(n, "name"))
	property := strings.ToLower(attr(n, "property"))
	content := attr(n, "content")
	if content == "" {
		return
	}

	switch name {
	case "description":
		meta.Description = content
	case "author":
		meta.Author = content
	}

	if after, ok := strings.CutPrefix(property, "og:"); ok {
		meta.OpenGraph[after] = content
	}
	switch property {
	case "article:published_time":
		meta.PublishedTime = content
	case "article:author":
		if meta.Author == "" {
			meta.Author = content
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
