package ingest

import "time"

// IngestRequest describes a single document ingestion operation.
// The service is responsible for chunking, indexing into FTS/vector stores,
// and generating embeddings according to options.
type IngestRequest struct {
	// ID is the unified document ID (e.g., doc:<namespace>:<slug|hash>).
	ID string
	// Title is an optional document title for display and ranking features.
	Title string
	// URL is an optional canonical location for the document.
	URL string
	// Source describes where the document came from (e.g., github, web, file).
	Source string
	// Text is the raw, full document content to be chunked. Used when Blocks
	// is empty; normalization still runs against it.
	Text string
	// Blocks is the typed block sequence for the document (text, table, code,
	// image-ref). When non-empty it takes precedence over Text for chunking:
	// table blocks get whole-row-preserving table chunking, everything else
	// is chunked as ordinary text.
	Blocks []Block
	// Metadata holds arbitrary key/value metadata. Values should be JSON-serializable.
	Metadata map[string]any
	// Language preferred tokenizer configuration (e.g., "english"). If empty, auto-detect or default.
	Language string
	// Tenant for multi-tenant isolation. When empty, defaults are applied by the service.
	Tenant string
	// ACL is an optional access-control payload to apply consistently across stores.
	ACL map[string]any
	// Deleted marks this request as a tombstone: all chunks and vectors for
	// ID are removed and no new content is indexed.
	Deleted bool
	// Options drives how the ingestion should behave.
	Options IngestOptions
}

// IngestOptions controls chunking, embeddings, and versioning.
type IngestOptions struct {
	// Chunking controls how the input text is split into chunks.
	Chunking ChunkingOptions
	// Embedding controls whether/how to generate and store embeddings.
	Embedding EmbeddingOptions
	// ReingestPolicy determines behavior when the document already exists.
	ReingestPolicy ReingestPolicy
	// Version allows callers to set or bump a document version explicitly.
	Version int
	// IdempotencyKey allows callers to de-duplicate repeated ingestion attempts.
	IdempotencyKey string
}

// ChunkingOptions describes the chunking strategy.
type ChunkingOptions struct {
	// Strategy name: "token-aware" (default, sentence-packing against the
	// real tokenizer), "paragraph"/"paragraph-aware" (split on blank lines),
	// or "character"/"char" (chars-per-token estimate fallback). Ignored for
	// table blocks, which always use whole-row table chunking.
	Strategy string
	// MaxTokens per chunk (semantic; implementation may map to characters when tokenization is unavailable).
	MaxTokens int
	// Overlap tokens between sequential chunks.
	Overlap int
	// SuppressTableHeaderReemit, when set, includes the table header only in
	// the first chunk of a split table instead of every chunk.
	SuppressTableHeaderReemit bool
}

// BlockType identifies the kind of content a Block carries.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockTable    BlockType = "table"
	BlockCode     BlockType = "code"
	BlockImageRef BlockType = "image-ref"
)

// Block is one typed unit of a normalized document. Exactly one of Text or
// HTML is expected to carry content; image-ref blocks carry neither and are
// skipped by chunking.
type Block struct {
	Type BlockType
	Text string
	HTML string
}

// EmbeddingOptions controls vector embedding generation.
type EmbeddingOptions struct {
	// Enabled toggles vector embedding upsert.
	Enabled bool
	// Model is a hint or identifier for the embedding model to use.
	Model string
	// Dimensions is optional; when zero, derive from configured backend.
	Dimensions int
}

// ReingestPolicy determines how to handle existing documents.
type ReingestPolicy string

const (
	// ReingestSkipIfUnchanged skips re-index when doc_hash/metadata unchanged.
	ReingestSkipIfUnchanged ReingestPolicy = "skip_if_unchanged"
	// ReingestOverwrite overwrites existing chunks/embeddings in-place.
	ReingestOverwrite ReingestPolicy = "overwrite"
	// ReingestNewVersion creates a new logical version of the document.
	ReingestNewVersion ReingestPolicy = "new_version"
)

// IngestResponse summarizes the mutation performed.
type IngestResponse struct {
	DocID    string
	Version  int
	ChunkIDs []string
	// Stats captures operational metrics for the ingestion.
	Stats IngestStats
	// Warnings captures non-fatal issues encountered.
	Warnings []string
}

// IngestStats captures ingestion-time statistics for observability and evaluation.
type IngestStats struct {
	NumChunks     int
	TotalTokens   int
	VectorUpserts int
	Duration      time.Duration
}
