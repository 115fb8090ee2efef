package ingest

import (
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
)

// looksLikeHTML sniffs the first non-whitespace bytes for an HTML doctype or
// root tag, so /ingest/upload callers don't need to declare a content type.
func looksLikeHTML(s string) bool {
	t := strings.TrimSpace(s)
	if len(t) == 0 {
		return false
	}
	lower := strings.ToLower(t)
	return strings.HasPrefix(lower, "<!doctype html") ||
		strings.HasPrefix(lower, "<html") ||
		strings.Contains(lower[:min(len(lower), 512)], "<body")
}

// convertHTMLToMarkdown strips boilerplate with readability and converts the
// remaining article HTML to markdown, preserving heading structure so later
// chunking can assign a sectionPath. Falls back to the raw HTML unmodified
// when extraction or conversion fails.
func convertHTMLToMarkdown(html, docURL string) string {
	base, _ := url.Parse(docURL)

	articleHTML := html
	title := ""
	if art, err := readability.FromReader(strings.NewReader(html), base); err == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	}

	domain := ""
	if base != nil && base.Scheme != "" && base.Host != "" {
		domain = base.Scheme + "://" + base.Host
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(domain))
	if err != nil {
		return html
	}
	md = strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(md, "# ") {
		md = "# " + title + "\n\n" + md
	}
	return md
}
