package chunker

import (
	"strings"
	"testing"

	"github.com/cwrag/ragcore/internal/rag/ingest"
	"github.com/cwrag/ragcore/internal/rag/tokencount"
)

func newTestTokenAware() TokenAwareChunker {
	return NewTokenAware(tokencount.Identity{Model: "gpt-4", Type: tokencount.KindTiktoken, SafetyMargin: 0.1})
}

func TestTokenAware_RespectsSafeTokenLimit(t *testing.T) {
	ch := newTestTokenAware()
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("This is sentence number ")
		sb.WriteString(strings.Repeat("x", 3))
		sb.WriteString(". ")
	}
	chunks, err := ch.Chunk(sb.String(), ingest.ChunkingOptions{Strategy: "token-aware", MaxTokens: 40})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	limit := ch.safeLimit(ingest.ChunkingOptions{MaxTokens: 40})
	for i, c := range chunks {
		if n := ch.Counter.CountTokens(c.Text); n > limit && i != len(chunks)-1 {
			t.Fatalf("chunk %d has %d tokens, exceeds safe limit %d", i, n, limit)
		}
	}
}

func TestTokenAware_OversizedSentenceFallsBackToWordSplit(t *testing.T) {
	ch := newTestTokenAware()
	oneGiantSentence := strings.Repeat("word ", 500)
	chunks, err := ch.Chunk(oneGiantSentence, ingest.ChunkingOptions{Strategy: "token-aware", MaxTokens: 20})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected word-split fallback to produce multiple chunks")
	}
}

func TestGuard_DropsShortAndDuplicateChunks(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Text: "a short bit of real content here"},
		{Index: 1, Text: "tiny"},
		{Index: 2, Text: "a short bit of real content here"},
	}
	kept, warnings := ApplyGuard(chunks, DefaultGuardOptions())
	if len(kept) != 1 {
		t.Fatalf("expected 1 surviving chunk, got %d", len(kept))
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d: %v", len(warnings), warnings)
	}
}
