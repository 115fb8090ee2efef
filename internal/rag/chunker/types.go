package chunker

import "github.com/cwrag/ragcore/internal/rag/ingest"

// Chunk represents a produced chunk of text.
type Chunk struct {
	Index int
	Text  string
	// IsTable marks a chunk produced from a table block: whole rows preserved,
	// header (and separator) re-emitted per ChunkingOptions.
	IsTable bool
}

// Chunker provides a text chunking strategy.
type Chunker interface {
	Chunk(text string, opt ingest.ChunkingOptions) ([]Chunk, error)
}

// BlockChunker is implemented by chunkers that can route typed document
// blocks (table, code, text, image-ref) to specialized handling instead of
// flattening them into one text blob first.
type BlockChunker interface {
	ChunkBlocks(blocks []ingest.Block, opt ingest.ChunkingOptions) ([]Chunk, error)
}
