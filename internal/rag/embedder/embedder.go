package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cwrag/ragcore/internal/config"
	"github.com/cwrag/ragcore/internal/embedding"
	"github.com/cwrag/ragcore/internal/rag/chunker"
	"github.com/cwrag/ragcore/internal/rag/ingest"
	"github.com/cwrag/ragcore/internal/rag/tokencount"
)

// Embedder defines the interface for converting text to embedding vectors.
type Embedder interface {
	// EmbedBatch returns an embedding vector per input text. A text over the
	// configured safe token limit is chunked, embedded piecewise, and
	// returned as the mean vector: a documented lossy fallback, not a
	// substitute for chunk-then-store ingestion.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns a model identifier string.
	Name() string
	// Dimension returns the embedding dimensionality (0 for variable/unknown).
	Dimension() int
	// Ping checks if the embedding service is reachable.
	Ping(ctx context.Context) error
}

// ChunkEmbedding is one chunk's embedding plus the positional metadata needed
// to cite it back into its source document.
type ChunkEmbedding struct {
	ChunkID     string
	Vector      []float32
	TokenCount  int
	StartIndex  int
	EndIndex    int
	SectionPath string
}

// ChunkingEmbedder is implemented by embedders that can embed an entire
// document by chunking it first, returning a per-chunk breakdown instead of
// a single lossy mean vector.
type ChunkingEmbedder interface {
	EmbedWithChunking(ctx context.Context, text, documentID string) ([]ChunkEmbedding, error)
}

// clientEmbedder wraps the embedding.EmbedText HTTP client for real embeddings.
type clientEmbedder struct {
	cfg          config.EmbeddingConfig
	dim          int
	batchSize    int           // max texts per API call
	mu           sync.Mutex    // serializes API calls
	lastCall     time.Time     // last API call timestamp
	minDelay     time.Duration // minimum delay between API calls
	id           tokencount.Identity
	counter      *tokencount.Counter
	maxBatchSize int           // batch size for embedWithChunking's document-level pacing
	interBatch   time.Duration // sleep between those batches
}

// NewClient constructs an embedder that calls the configured embedding endpoint.
// It sends one chunk per request to avoid batch inference issues with some
// embedding servers (e.g. llama.cpp). No delay is applied between single
// requests (cfg.RateLimitRPS is not read); EmbedWithChunking pauses between
// its batches.
func NewClient(cfg config.EmbeddingConfig, dim int) Embedder {
	// Use single-item batches so each chunk is sent individually.
	// This avoids llama.cpp crashes related to batching/concurrency.
	maxBatch := cfg.BatchSize
	if maxBatch <= 0 {
		maxBatch = 16
	}
	id := tokencount.Identity{Model: cfg.Model, Type: tokencount.KindTiktoken, MaxTokens: cfg.MaxTokens, SafetyMargin: cfg.SafetyMargin}
	return &clientEmbedder{
		cfg:          cfg,
		dim:          dim,
		batchSize:    1,
		minDelay:     0,
		id:           id,
		counter:      tokencount.New(id),
		maxBatchSize: maxBatch,
		interBatch:   100 * time.Millisecond,
	}
}

// safeTokenLimit is the embedder's own safeTokenLimit contract: texts at or
// under this many tokens are sent as-is; texts over it are chunked first.
func (c *clientEmbedder) safeTokenLimit() int {
	if c.cfg.MaxTokens <= 0 {
		return 0
	}
	limit := tokencount.SafeTokenLimit(c.cfg.MaxTokens, c.cfg.SafetyMargin)
	if limit <= 0 {
		limit = c.cfg.MaxTokens
	}
	return limit
}

func (c *clientEmbedder) Name() string   { return c.cfg.Model }
func (c *clientEmbedder) Dimension() int { return c.dim }

func (c *clientEmbedder) Ping(ctx context.Context) error {
	return embedding.CheckReachability(ctx, c.cfg)
}

// EmbedBatch partitions texts into "fits-as-is" (embedded directly, in input
// order) and "needs-chunking" (embedded piecewise and averaged into a mean
// vector per the §4.3 fallback contract), then reassembles results in the
// caller's original order.
func (c *clientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	limit := c.safeTokenLimit()
	results := make([][]float32, len(texts))
	var fitsIdx, chunkedIdx []int
	var fitsTexts []string
	for i, t := range texts {
		if limit <= 0 || c.counter.CountTokens(t) <= limit {
			fitsIdx = append(fitsIdx, i)
			fitsTexts = append(fitsTexts, t)
		} else {
			chunkedIdx = append(chunkedIdx, i)
		}
	}

	if len(fitsTexts) > 0 {
		vecs, err := c.embedDirect(ctx, fitsTexts)
		if err != nil {
			return nil, err
		}
		for j, idx := range fitsIdx {
			results[idx] = vecs[j]
		}
	}

	for _, idx := range chunkedIdx {
		mean, err := c.embedOversizedMean(ctx, texts[idx], limit)
		if err != nil {
			return nil, err
		}
		results[idx] = mean
	}
	return results, nil
}

// embedDirect sends texts that already fit the safe token limit, respecting
// the configured per-call batch size.
func (c *clientEmbedder) embedDirect(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) <= c.batchSize {
		return c.rateLimitedCall(ctx, texts)
	}
	var allEmbeddings [][]float32
	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		embeddings, err := c.rateLimitedCall(ctx, texts[i:end])
		if err != nil {
			return allEmbeddings, err
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}
	return allEmbeddings, nil
}

// embedOversizedMean chunks text with the token-aware chunker, embeds every
// chunk, and returns the unit-normalized mean vector. Documented as a lossy
// fallback: ingestion should always chunk-then-store instead of relying on
// this for retrieval-quality vectors.
func (c *clientEmbedder) embedOversizedMean(ctx context.Context, text string, limit int) ([]float32, error) {
	pieces := c.chunkText(text, limit)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("embedOversizedMean: no chunks produced for oversized text")
	}
	vecs, err := c.embedDirect(ctx, pieces)
	if err != nil {
		return nil, err
	}
	return meanVector(vecs), nil
}

// chunkText splits text at the given safe token limit using the same
// TokenAwareChunker as ingestion with its paragraph-aware strategy (oversized
// paragraphs fall back to sentence packing), without overlap: this API
// exists to produce an embeddable fallback, not citation-ready chunks.
func (c *clientEmbedder) chunkText(text string, limit int) []string {
	tc := chunker.NewTokenAware(c.id)
	opt := ingest.ChunkingOptions{Strategy: "paragraph-aware", MaxTokens: limit}
	chunks, err := tc.Chunk(text, opt)
	if err != nil {
		return nil
	}
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}

func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	mean := make([]float32, dim)
	var sq float64
	for i := range sum {
		mean[i] = float32(sum[i] / float64(len(vecs)))
		sq += float64(mean[i]) * float64(mean[i])
	}
	if sq > 0 {
		inv := float32(1.0 / math.Sqrt(sq))
		for i := range mean {
			mean[i] *= inv
		}
	}
	return mean
}

// EmbedWithChunking embeds an entire document chunk-by-chunk, processing in
// batches of maxBatchSize with a 100ms pause between batches, and returns a
// citation-addressable embedding per chunk instead of one lossy mean vector.
func (c *clientEmbedder) EmbedWithChunking(ctx context.Context, text, documentID string) ([]ChunkEmbedding, error) {
	limit := c.safeTokenLimit()
	if limit <= 0 {
		limit = 512
	}
	tc := chunker.NewTokenAware(c.id)
	pieces, err := tc.Chunk(text, ingest.ChunkingOptions{Strategy: "paragraph-aware", MaxTokens: limit})
	if err != nil {
		return nil, err
	}
	if len(pieces) == 0 {
		return nil, nil
	}

	out := make([]ChunkEmbedding, len(pieces))
	cursor := 0
	for i, p := range pieces {
		start := indexFrom(text, p.Text, cursor)
		end := start + len(p.Text)
		if start >= 0 {
			cursor = end
		}
		out[i] = ChunkEmbedding{
			ChunkID:     fmt.Sprintf("%s:%d", documentID, i),
			TokenCount:  c.counter.CountTokens(p.Text),
			StartIndex:  start,
			EndIndex:    end,
			SectionPath: sectionPathAt(text, start),
		}
	}

	for batchStart := 0; batchStart < len(pieces); batchStart += c.maxBatchSize {
		batchEnd := batchStart + c.maxBatchSize
		if batchEnd > len(pieces) {
			batchEnd = len(pieces)
		}
		texts := make([]string, batchEnd-batchStart)
		for j := range texts {
			texts[j] = pieces[batchStart+j].Text
		}
		vecs, err := c.embedDirect(ctx, texts)
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			out[batchStart+j].Vector = v
		}
		if batchEnd < len(pieces) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.interBatch):
			}
		}
	}
	return out, nil
}

// indexFrom finds piece within text starting no earlier than from, returning
// -1 if it cannot locate it (e.g. overlap-altered text).
func indexFrom(text, piece string, from int) int {
	if from > len(text) {
		from = len(text)
	}
	i := strings.Index(text[from:], piece)
	if i < 0 {
		return -1
	}
	return from + i
}

var headingRe = regexp.MustCompile(`(?m)^(#{1,6})\s+(.*)$`)

// sectionPathAt walks markdown headings up to offset and returns the
// heading stack joined by " > ", e.g. "Intro > Background".
func sectionPathAt(text string, offset int) string {
	if offset < 0 {
		offset = len(text)
	}
	matches := headingRe.FindAllStringSubmatchIndex(text, -1)
	var stack []string
	for _, m := range matches {
		if m[0] > offset {
			break
		}
		level := m[3] - m[2]
		heading := strings.TrimSpace(text[m[4]:m[5]])
		if level > len(stack) {
			for len(stack) < level-1 {
				stack = append(stack, "")
			}
			stack = append(stack, heading)
		} else {
			stack = append(stack[:level-1], heading)
		}
	}
	return strings.Join(stack, " > ")
}

// validateDimensions fails fast if any vector doesn't match the configured
// dimensionality, per the vector validation contract: a mismatch is fatal,
// not silently truncated or padded.
func (c *clientEmbedder) validateDimensions(vecs [][]float32) error {
	if c.dim <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != c.dim {
			return fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), c.dim)
		}
	}
	return nil
}

// rateLimitedCall ensures a minimum delay between API calls to avoid overwhelming the server
func (c *clientEmbedder) rateLimitedCall(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	if !c.lastCall.IsZero() {
		elapsed := time.Since(c.lastCall)
		if elapsed < c.minDelay {
			time.Sleep(c.minDelay - elapsed)
		}
	}
	c.lastCall = time.Now()
	c.mu.Unlock()

	vecs, err := embedding.EmbedText(ctx, c.cfg, texts)
	if err != nil {
		return nil, err
	}
	if err := c.validateDimensions(vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

// deterministicEmbedder is a lightweight, deterministic embedder suitable for tests.
// It hashes byte 3-grams into a fixed-size vector and optionally L2-normalizes.
type deterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint64
	name      string
}

// NewDeterministic constructs a deterministic embedder with the given dimension.
// If normalize is true, vectors are L2-normalized. Seed perturbs hashing.
func NewDeterministic(dim int, normalize bool, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, normalize: normalize, seed: seed, name: "deterministic"}
}

func (d *deterministicEmbedder) Name() string   { return d.name }
func (d *deterministicEmbedder) Dimension() int { return d.dim }

func (d *deterministicEmbedder) Ping(_ context.Context) error { return nil }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	if len(s) == 0 {
		return v
	}
	// 3-gram hashing over bytes
	b := []byte(s)
	if len(b) < 3 {
		add(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			add(d.seed, b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v
}

func add(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	// map hash to a signed weight in [-1, 1]
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
