package builtin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/herrald/beacon/internal/adapters/id"
	"github.com/herrald/beacon/internal/domain"
)

func TestCalculator(t *testing.T) {
	calc := newCalculatorTool()

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"addition", "1 + 2", "3"},
		{"precedence", "2 + 3 * 4", "14"},
		{"parentheses", "(2 + 3) * 4", "20"},
		{"division", "10 / 4", "2.5"},
		{"modulo", "10 % 3", "1"},
		{"unary minus", "-3 + 5", "2"},
		{"double negative", "--4", "4"},
		{"power", "2 ^ 10", "1024"},
		{"power right assoc", "2 ^ 3 ^ 2", "512"},
		{"float", "0.5 + 0.25", "0.75"},
		{"nested", "((1 + 2) * (3 + 4)) / 7", "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.Execute(context.Background(), map[string]any{"expression": tt.expr})
			if err != nil {
				t.Fatalf("Execute(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Execute(%q) = %s, want %s", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCalculatorErrors(t *testing.T) {
	calc := newCalculatorTool()

	tests := []struct {
		name string
		expr string
	}{
		{"empty", "  "},
		{"division by zero", "1 / 0"},
		{"modulo by zero", "5 % 0"},
		{"trailing garbage", "1 + 2 abc"},
		{"unclosed paren", "(1 + 2"},
		{"bare operator", "* 3"},
		{"double dot", "1..5 + 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := calc.Execute(context.Background(), map[string]any{"expression": tt.expr}); err == nil {
				t.Errorf("Execute(%q) succeeded, want error", tt.expr)
			}
		})
	}
}

func TestValidateFetchURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"loopback IP", "http://127.0.0.1/path", true},
		{"localhost", "http://localhost:8080/", true},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data/", true},
		{"google metadata", "http://metadata.google.internal/", true},
		{"private range", "http://10.0.0.5/", true},
		{"file scheme", "file:///etc/passwd", true},
		{"ftp scheme", "ftp://example.com/", true},
		{"no hostname", "http:///path", true},
		{"public IP", "http://93.184.216.34/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFetchURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateFetchURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFetchURLAllowlist(t *testing.T) {
	if err := validateFetchURL("http://127.0.0.1/"); err == nil {
		t.Fatal("loopback passed without allowlist")
	}
	AllowedFetchHosts = []string{"127.0.0.1"}
	defer func() { AllowedFetchHosts = nil }()
	if err := validateFetchURL("http://127.0.0.1/"); err != nil {
		t.Fatalf("allowlisted host rejected: %v", err)
	}
}

// allowTestPage serves fixed HTML and registers its host with the fetch guard.
func allowTestPage(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	prev := AllowedFetchHosts
	AllowedFetchHosts = append(AllowedFetchHosts, u.Hostname())
	t.Cleanup(func() { AllowedFetchHosts = prev })
	return srv
}

const articleHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<title>Tidal Power Stations</title>
<meta name="description" content="How tidal range is turned into electricity.">
<meta name="author" content="R. Severin">
<meta property="og:title" content="Tidal Power Stations">
<meta property="article:published_time" content="2023-04-01T09:00:00Z">
<link rel="canonical" href="https://energy.example/tidal">
</head>
<body>
<nav><a href="/home">Home</a><a href="/about">About</a></nav>
<article>
<h1>Tidal Power Stations</h1>
<p>Tidal power stations convert the potential energy of tidal range into
electricity using low-head turbines mounted in a barrage. Unlike wind,
the resource is predictable years in advance.</p>
<p>The largest operating plant, at Sihwa Lake, generates around 254 MW
from a ten-turbine barrage originally built for flood control. Its
capacity factor is higher than most offshore wind farms in the region.</p>
<p>See the <a href="https://journals.example/tidal-survey.pdf">survey paper</a>
and the <a href="/stations/sihwa">Sihwa station page</a> for details.</p>
</article>
</body>
</html>`

func TestWebReadReturnsMarkdown(t *testing.T) {
	srv := allowTestPage(t, articleHTML)

	out, err := newWebReadTool().Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "Source: "+srv.URL) {
		t.Errorf("output missing source line:\n%s", out)
	}
	if !strings.Contains(out, "Sihwa Lake") {
		t.Errorf("output missing article body:\n%s", out)
	}
	if strings.Contains(out, "<p>") || strings.Contains(out, "<article>") {
		t.Errorf("output still contains HTML tags:\n%s", out)
	}
}

func TestWebReadMaxLength(t *testing.T) {
	srv := allowTestPage(t, articleHTML)

	out, err := newWebReadTool().Execute(context.Background(), map[string]any{
		"url":        srv.URL,
		"max_length": float64(120),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "[content truncated]") {
		t.Errorf("long page was not truncated:\n%s", out)
	}
}

func TestWebReadBlockedURL(t *testing.T) {
	_, err := newWebReadTool().Execute(context.Background(), map[string]any{"url": "http://169.254.169.254/"})
	if err == nil {
		t.Fatal("metadata endpoint fetch succeeded")
	}
}

func TestWebLinksFilters(t *testing.T) {
	srv := allowTestPage(t, articleHTML)
	tool := newWebLinksTool()

	out, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL, "filter": "internal"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "/stations/sihwa") {
		t.Errorf("internal filter dropped an internal link:\n%s", out)
	}
	if strings.Contains(out, "journals.example") {
		t.Errorf("internal filter kept an external link:\n%s", out)
	}

	out, err = tool.Execute(context.Background(), map[string]any{"url": srv.URL, "pattern": `\.pdf$`})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "tidal-survey.pdf") {
		t.Errorf("pattern filter missed the pdf link:\n%s", out)
	}
	if strings.Contains(out, "/about") {
		t.Errorf("pattern filter kept a non-matching link:\n%s", out)
	}
}

func TestWebLinksInvalidPattern(t *testing.T) {
	srv := allowTestPage(t, articleHTML)
	_, err := newWebLinksTool().Execute(context.Background(), map[string]any{"url": srv.URL, "pattern": "("})
	if err == nil {
		t.Fatal("invalid regex accepted")
	}
}

func TestWebMetadata(t *testing.T) {
	srv := allowTestPage(t, articleHTML)

	out, err := newWebMetadataTool().Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{
		`"title": "Tidal Power Stations"`,
		`"description": "How tidal range is turned into electricity."`,
		`"author": "R. Severin"`,
		`"canonical_url": "https://energy.example/tidal"`,
		`"language": "en"`,
		`"published_time": "2023-04-01T09:00:00Z"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metadata missing %s in:\n%s", want, out)
		}
	}
}

func TestToolsetExecute(t *testing.T) {
	ts := NewToolset(id.New())

	result, err := ts.Execute(context.Background(), "calculator", map[string]any{"expression": "6 * 7"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.Content != "42" {
		t.Errorf("got %+v, want success with content 42", result)
	}
	if result.CallID == "" {
		t.Error("result has no call id")
	}
}

func TestToolsetExecuteToolError(t *testing.T) {
	ts := NewToolset(id.New())

	// A bad expression is a failed result, not a dispatch error.
	result, err := ts.Execute(context.Background(), "calculator", map[string]any{"expression": "1 / 0"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Error("bad expression reported success")
	}
	if !strings.Contains(result.Error, "division by zero") {
		t.Errorf("result error = %q", result.Error)
	}
}

func TestMissingRequiredArgument(t *testing.T) {
	tests := []struct {
		tool NativeTool
		args map[string]any
	}{
		{newCalculatorTool(), map[string]any{}},
		{newWebSearchTool(), map[string]any{"query": "   "}},
		{newWebReadTool(), nil},
		{newWebLinksTool(), map[string]any{"url": ""}},
		{newWebMetadataTool(), map[string]any{"url": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.tool.Name(), func(t *testing.T) {
			_, err := tt.tool.Execute(context.Background(), tt.args)
			if !errors.Is(err, domain.ErrInvalidToolArgs) {
				t.Errorf("err = %v, want ErrInvalidToolArgs", err)
			}
		})
	}
}

func TestToolsetExecuteUnknownTool(t *testing.T) {
	ts := NewToolset(id.New())

	_, err := ts.Execute(context.Background(), "time_travel", nil)
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}

func TestToolsetListUnprefixedNames(t *testing.T) {
	ts := NewToolset(id.New())

	for _, def := range ts.List() {
		if strings.HasPrefix(def.Name, "mcp_") {
			t.Errorf("built-in tool %q carries a server prefix", def.Name)
		}
		if def.InputSchema == nil {
			t.Errorf("tool %q has no input schema", def.Name)
		}
	}
}
