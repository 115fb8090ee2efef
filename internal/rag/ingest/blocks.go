package ingest

import "strings"

// BlocksToText flattens a block sequence into plain text, in order, for
// callers that need a single string (hashing, FTS document body, legacy
// single-Chunker fallback). Table and code blocks contribute their text
// verbatim; image-ref blocks contribute nothing.
func BlocksToText(blocks []Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}
