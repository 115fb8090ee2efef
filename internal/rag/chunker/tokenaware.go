package chunker

import (
	"regexp"
	"strings"

	"github.com/cwrag/ragcore/internal/rag/ingest"
	"github.com/cwrag/ragcore/internal/rag/tokencount"
)

// sentenceBoundary approximates a sentence split: punctuation followed by
// whitespace and a capital letter starts the next sentence.
var sentenceBoundary = regexp.MustCompile(`(?s)(?:[.!?])\s+(?:[A-Z])`)

// tableSeparator matches a markdown table separator row, e.g. "|---|---|" or
// "| :--- | ---: |".
var tableSeparator = regexp.MustCompile(`^\s*\|?\s*:?-{2,}:?\s*(\|\s*:?-{2,}:?\s*)*\|?\s*$`)

// TokenAwareChunker implements the token-aware / paragraph-aware / character
// fallback strategies against a real token counter, honoring safeTokenLimit
// and word-level overlap between adjacent chunks.
type TokenAwareChunker struct {
	Counter *tokencount.Counter
}

// NewTokenAware builds a TokenAwareChunker bound to the given identity.
func NewTokenAware(id tokencount.Identity) TokenAwareChunker {
	return TokenAwareChunker{Counter: tokencount.New(id)}
}

// Chunk dispatches to sentence/paragraph/character strategies.
func (t TokenAwareChunker) Chunk(text string, opt ingest.ChunkingOptions) ([]Chunk, error) {
	strategy := strings.ToLower(opt.Strategy)
	limit := t.safeLimit(opt)
	var pieces []string
	switch strategy {
	case "paragraph", "paragraph-aware":
		pieces = t.paragraphAware(text, limit)
	case "character", "char":
		pieces = t.characterFallback(text, limit)
	default: // "token-aware" and anything unrecognized default to the primary strategy
		pieces = t.tokenAware(text, limit)
	}
	return t.withOverlap(pieces, opt.Overlap), nil
}

// ChunkBlocks routes each typed block to the appropriate strategy: table
// blocks get whole-row-preserving table chunking with isTable set, everything
// else goes through the normal text chunker. Chunk indices are continuous
// across the whole document, not restarted per block.
func (t TokenAwareChunker) ChunkBlocks(blocks []ingest.Block, opt ingest.ChunkingOptions) ([]Chunk, error) {
	var out []Chunk
	idx := 0
	for _, b := range blocks {
		text := b.Text
		if text == "" {
			continue
		}
		if b.Type == ingest.BlockTable {
			for _, piece := range t.tableChunk(text, opt) {
				out = append(out, Chunk{Index: idx, Text: piece, IsTable: true})
				idx++
			}
			continue
		}
		pieces, err := t.Chunk(text, opt)
		if err != nil {
			return nil, err
		}
		for _, p := range pieces {
			out = append(out, Chunk{Index: idx, Text: p.Text})
			idx++
		}
	}
	return out, nil
}

// tableChunk packs table rows into chunks that never split inside a row. The
// header (and separator row, when present) travels with the first chunk and
// is re-emitted on subsequent chunks unless opt.SuppressTableHeaderReemit is
// set. A table that already fits the safe limit is returned unchanged, byte
// for byte, as a single chunk.
func (t TokenAwareChunker) tableChunk(text string, opt ingest.ChunkingOptions) []string {
	limit := t.safeLimit(opt)
	if t.Counter.CountTokens(text) <= limit {
		return []string{text}
	}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	headerEnd := 1
	if len(lines) > 1 && tableSeparator.MatchString(lines[1]) {
		headerEnd = 2
	}
	header := lines[:headerEnd]
	rows := lines[headerEnd:]
	headerText := strings.Join(header, "\n")
	headerTokens := t.Counter.CountTokens(headerText)

	var out []string
	var buf []string
	bufTokens := headerTokens
	chunkIdx := 0
	flush := func() {
		if len(buf) == 0 {
			return
		}
		parts := buf
		if chunkIdx == 0 || !opt.SuppressTableHeaderReemit {
			parts = append(append([]string{}, header...), buf...)
		}
		out = append(out, strings.Join(parts, "\n"))
		chunkIdx++
		buf = nil
		bufTokens = headerTokens
	}
	for _, row := range rows {
		rTokens := t.Counter.CountTokens(row)
		if bufTokens+rTokens > limit && len(buf) > 0 {
			flush()
		}
		buf = append(buf, row)
		bufTokens += rTokens
	}
	flush()
	if len(out) == 0 {
		out = append(out, headerText)
	}
	return out
}

func (t TokenAwareChunker) safeLimit(opt ingest.ChunkingOptions) int {
	max := opt.MaxTokens
	if max <= 0 {
		max = 512
	}
	limit := tokencount.SafeTokenLimit(max, 0.1)
	if limit <= 0 {
		limit = max
	}
	return limit
}

// tokenAware splits on sentence boundaries, greedily packing sentences into
// a chunk while the running token count stays within the safe limit. A
// single sentence exceeding the limit falls back to word splitting.
func (t TokenAwareChunker) tokenAware(text string, limit int) []string {
	sentences := splitSentences(text)
	var out []string
	var cur strings.Builder
	curTokens := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		curTokens = 0
	}
	for _, s := range sentences {
		sTokens := t.Counter.CountTokens(s)
		if sTokens > limit {
			flush()
			out = append(out, t.wordSplit(s, limit)...)
			continue
		}
		if curTokens+sTokens > limit && cur.Len() > 0 {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(s)
		curTokens += sTokens
	}
	flush()
	return out
}

// paragraphAware splits on blank lines; oversized paragraphs recurse into tokenAware.
func (t TokenAwareChunker) paragraphAware(text string, limit int) []string {
	paras := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	var out []string
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if t.Counter.CountTokens(p) <= limit {
			out = append(out, p)
			continue
		}
		out = append(out, t.tokenAware(p, limit)...)
	}
	return out
}

// characterFallback estimates chars/token from a sample and cuts at a word
// boundary when within 80% of the target character length.
func (t TokenAwareChunker) characterFallback(text string, limit int) []string {
	sample := text
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	sampleTokens := t.Counter.CountTokens(sample)
	ratio := 4.0
	if sampleTokens > 0 {
		ratio = float64(len(sample)) / float64(sampleTokens)
	}
	targetChars := int(float64(limit) * ratio)
	if targetChars < 32 {
		targetChars = 32
	}

	var out []string
	start := 0
	for start < len(text) {
		end := start + targetChars
		if end >= len(text) {
			out = append(out, strings.TrimSpace(text[start:]))
			break
		}
		cut := end
		if i := strings.LastIndex(text[start:end], " "); i > int(float64(targetChars)*0.8) {
			cut = start + i
		}
		piece := strings.TrimSpace(text[start:cut])
		if piece != "" {
			out = append(out, piece)
		}
		start = cut
	}
	return out
}

func (t TokenAwareChunker) wordSplit(s string, limit int) []string {
	words := strings.Fields(s)
	var out []string
	var cur []string
	curTokens := 0
	for _, w := range words {
		wTokens := t.Counter.CountTokens(w)
		if curTokens+wTokens > limit && len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = nil
			curTokens = 0
		}
		cur = append(cur, w)
		curTokens += wTokens
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

// withOverlap prepends roughly overlapTokens*0.75 words from the previous
// chunk onto each chunk after the first, and assigns stable indices.
func (t TokenAwareChunker) withOverlap(pieces []string, overlapTokens int) []Chunk {
	out := make([]Chunk, 0, len(pieces))
	overlapWords := int(float64(overlapTokens) * 0.75)
	for i, p := range pieces {
		text := p
		if i > 0 && overlapWords > 0 {
			prevWords := strings.Fields(pieces[i-1])
			if n := len(prevWords); n > 0 {
				w := overlapWords
				if w > n {
					w = n
				}
				prefix := strings.Join(prevWords[n-w:], " ")
				text = prefix + " " + p
			}
		}
		out = append(out, Chunk{Index: i, Text: text})
	}
	return out
}

func splitSentences(text string) []string {
	idxs := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(idxs) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	var out []string
	prev := 0
	for _, m := range idxs {
		// boundary match spans "X. Y" — split after the punctuation+space, before the capital letter.
		cut := m[1] - 1
		out = append(out, strings.TrimSpace(text[prev:cut]))
		prev = cut
	}
	out = append(out, strings.TrimSpace(text[prev:]))
	var nonEmpty []string
	for _, s := range out {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return nonEmpty
}
