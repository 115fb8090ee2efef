// Package httpapi exposes the query-time and ingest HTTP surface described
// in the service's external interface contract: /ask, /ask/stream,
// /ingest/{preview,publish,upload}, and /healthz.
package httpapi

import (
	"net/http"

	"github.com/cwrag/ragcore/internal/blobstore"
	"github.com/cwrag/ragcore/internal/rag/guardrail"
	"github.com/cwrag/ragcore/internal/rag/service"
	"github.com/cwrag/ragcore/internal/rag/synth"
	"github.com/cwrag/ragcore/internal/ratelimit"
)

// Deps wires the handlers to the rest of the system.
type Deps struct {
	Service     *service.Service
	Guardrail   *guardrail.Engine
	Synth       *synth.Orchestrator
	RateLimiter ratelimit.Allower
	Blob        blobstore.Store
	IngestToken string
	PackerOpts  PackerConfig
	ChunkOpts   ChunkConfig
	// RerankEnabled toggles the optional cross-encoder stage during retrieval.
	// The actual Reranker implementation is wired into the Service, not here;
	// this only controls whether Retrieve asks for it.
	RerankEnabled bool
}

// ChunkConfig carries the embedding-model-derived chunking defaults applied
// to every /ingest/{preview,publish,upload} request that doesn't override them.
type ChunkConfig struct {
	Strategy  string
	MaxTokens int
	Overlap   int
}

// PackerConfig mirrors config.PackingConfig without importing internal/config,
// keeping this package independently testable against fakes.
type PackerConfig struct {
	TokenBudget        int
	PerDocCap          int
	PerSectionCap      int
	NoveltyAlpha       float64
	AnswerabilityBonus float64
	SectionReunify     bool
}

// New builds the top-level handler, wrapping routes with rate limiting and
// access logging.
func New(d Deps) http.Handler {
	h := &handlers{deps: d}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("POST /ask", withRateLimit(d.RateLimiter, ratelimit.ScopeIP, h.handleAsk))
	mux.HandleFunc("POST /ask/stream", withRateLimit(d.RateLimiter, ratelimit.ScopeIP, h.handleAskStream))
	mux.HandleFunc("POST /ingest/preview", withIngestAuth(d.IngestToken, h.handleIngestPreview))
	mux.HandleFunc("POST /ingest/publish", withIngestAuth(d.IngestToken, h.handleIngestPublish))
	mux.HandleFunc("POST /ingest/upload", withIngestAuth(d.IngestToken, h.handleIngestUpload))

	return withAccessLog(mux)
}

type handlers struct {
	deps Deps
}
