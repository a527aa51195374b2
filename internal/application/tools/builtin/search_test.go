package builtin

import "testing"

const searchPage = `
<div class="serp__results">
<div class="result__body">
<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fenergy.example%2Ftidal">Tidal Power Stations</a>
<a class="result__snippet" href="#">How tidal range is turned into <b>electricity</b>.</a>
</div>
<div class="result__body">
<a class="result__a" href="https://journals.example/tidal-survey.pdf">Tidal survey</a>
<a class="result__snippet" href="#">A survey of operating plants.</a>
</div>
<div class="result__body">
<a class="result__a" href="https://third.example/">Third result</a>
</div>
</div>
<div class="footer">About DuckDuckGo</div>`

func TestParseSearchResults(t *testing.T) {
	results, err := parseSearchResults(searchPage, 10)
	if err != nil {
		t.Fatalf("parseSearchResults: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	if results[0].URL != "https://energy.example/tidal" {
		t.Errorf("redirect link not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "Tidal Power Stations" {
		t.Errorf("title = %q", results[0].Title)
	}
	if results[0].Snippet != "How tidal range is turned into electricity." {
		t.Errorf("snippet = %q", results[0].Snippet)
	}
	if results[1].URL != "https://journals.example/tidal-survey.pdf" {
		t.Errorf("direct link mangled: %q", results[1].URL)
	}
	if results[2].Snippet != "" {
		t.Errorf("missing snippet should be empty, got %q", results[2].Snippet)
	}
}

func TestParseSearchResultsLimit(t *testing.T) {
	results, err := parseSearchResults(searchPage, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestParseSearchResultsEmptyPage(t *testing.T) {
	results, err := parseSearchResults("<html><body>nothing here</body></html>", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results from an empty page", len(results))
	}
}

func TestCleanResultURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa%20b", "https://example.com/a b"},
		{"https://example.com/direct", "https://example.com/direct"},
		{"/l/?uddg=https%3A%2F%2Fexample.com", "https://example.com"},
		{"/l/?other=param", "/l/?other=param"},
	}
	for _, tt := range tests {
		if got := cleanResultURL(tt.in); got != tt.want {
			t.Errorf("cleanResultURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
