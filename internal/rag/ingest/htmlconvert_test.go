package ingest

import (
	"context"
	"strings"
	"testing"
)

func TestLooksLikeHTML(t *testing.T) {
	cases := map[string]bool{
		"<!DOCTYPE html><html><body>hi</body></html>": true,
		"<html><head></head><body>hi</body></html>":   true,
		"plain text document, no markup here":          false,
		"":                                              false,
	}
	for in, want := range cases {
		if got := looksLikeHTML(in); got != want {
			t.Errorf("looksLikeHTML(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPreprocess_ConvertsHTMLToMarkdown(t *testing.T) {
	html := `<!DOCTYPE html><html><head><title>Doc</title></head>
<body><nav>skip me</nav><article><h1>Title</h1><p>First paragraph with enough content to look like an article body so readability keeps it.</p></article></body></html>`

	in := IngestRequest{Text: html, Source: "web", URL: "https://example.com/a"}
	pre, err := Preprocess(context.Background(), nil, in)
	if err != nil {
		t.Fatalf("preprocess error: %v", err)
	}
	if strings.Contains(pre.Text, "<html") || strings.Contains(pre.Text, "<body") {
		t.Fatalf("expected markdown output, got raw html: %q", pre.Text)
	}
	if !strings.Contains(pre.Text, "First paragraph") {
		t.Fatalf("expected article text to survive conversion, got: %q", pre.Text)
	}
}
