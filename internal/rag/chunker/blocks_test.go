package chunker

import (
	"strings"
	"testing"

	"github.com/cwrag/ragcore/internal/rag/ingest"
	"github.com/cwrag/ragcore/internal/rag/tokencount"
)

func TestChunkBlocks_SmallTableUnchanged(t *testing.T) {
	ch := newTestTokenAware()
	table := "| Name | Age |\n| --- | --- |\n| Alice | 30 |\n| Bob | 40 |"
	blocks := []ingest.Block{{Type: ingest.BlockTable, Text: table}}

	chunks, err := ch.ChunkBlocks(blocks, ingest.ChunkingOptions{MaxTokens: 350})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk for a small table, got %d", len(chunks))
	}
	if !chunks[0].IsTable {
		t.Fatalf("expected isTable=true")
	}
	if chunks[0].Text != table {
		t.Fatalf("expected table text unchanged, got %q", chunks[0].Text)
	}
}

func TestChunkBlocks_LargeTableSplitsByRowAndReemitsHeader(t *testing.T) {
	ch := newTestTokenAware()
	var rows []string
	rows = append(rows, "| Name | Description |", "| --- | --- |")
	for i := 0; i < 200; i++ {
		rows = append(rows, "| row"+strings.Repeat("x", 3)+" | "+strings.Repeat("description text ", 10)+" |")
	}
	table := strings.Join(rows, "\n")
	blocks := []ingest.Block{{Type: ingest.BlockTable, Text: table}}

	chunks, err := ch.ChunkBlocks(blocks, ingest.ChunkingOptions{MaxTokens: 50})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected a large table to split into multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !c.IsTable {
			t.Fatalf("chunk %d: expected isTable=true", i)
		}
		if !strings.HasPrefix(c.Text, "| Name | Description |") {
			t.Fatalf("chunk %d: expected header re-emitted, got %q", i, c.Text)
		}
		if !strings.Contains(c.Text, "| --- | --- |") {
			t.Fatalf("chunk %d: expected separator row re-emitted", i)
		}
	}
}

func TestChunkBlocks_SuppressTableHeaderReemitKeepsHeaderOnFirstChunkOnly(t *testing.T) {
	ch := newTestTokenAware()
	var rows []string
	rows = append(rows, "| Name | Description |", "| --- | --- |")
	for i := 0; i < 200; i++ {
		rows = append(rows, "| row"+strings.Repeat("x", 3)+" | "+strings.Repeat("description text ", 10)+" |")
	}
	table := strings.Join(rows, "\n")
	blocks := []ingest.Block{{Type: ingest.BlockTable, Text: table}}

	chunks, err := ch.ChunkBlocks(blocks, ingest.ChunkingOptions{MaxTokens: 50, SuppressTableHeaderReemit: true})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "| Name | Description |") {
		t.Fatalf("first chunk should keep the header, got %q", chunks[0].Text)
	}
	for i, c := range chunks[1:] {
		if strings.Contains(c.Text, "Name | Description") {
			t.Fatalf("chunk %d: header should be suppressed after the first chunk, got %q", i+1, c.Text)
		}
	}
}

func TestChunkBlocks_MixesTableAndTextBlocksWithContinuousIndexing(t *testing.T) {
	ch := TokenAwareChunker{Counter: tokencount.New(tokencount.Identity{Type: tokencount.KindTiktoken, SafetyMargin: 0.1})}
	blocks := []ingest.Block{
		{Type: ingest.BlockText, Text: "An introductory paragraph about the data below."},
		{Type: ingest.BlockTable, Text: "| A | B |\n| --- | --- |\n| 1 | 2 |"},
	}
	chunks, err := ch.ChunkBlocks(blocks, ingest.ChunkingOptions{MaxTokens: 350})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks (1 text + 1 table), got %d", len(chunks))
	}
	if chunks[0].IsTable {
		t.Fatalf("expected first chunk (text block) to not be a table")
	}
	if !chunks[1].IsTable {
		t.Fatalf("expected second chunk (table block) to be a table")
	}
	if chunks[0].Index != 0 || chunks[1].Index != 1 {
		t.Fatalf("expected continuous indexing across blocks, got %d, %d", chunks[0].Index, chunks[1].Index)
	}
}
