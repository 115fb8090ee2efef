package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/cwrag/ragcore/internal/rag/chunker"
	"github.com/cwrag/ragcore/internal/rag/ingest"
	"github.com/cwrag/ragcore/internal/rag/tokencount"
)

const maxUploadBytes = 20 << 20 // 20 MiB; larger uploads surface as 413, larger JSON bodies fail to decode (400)

// stagingThreshold is the upload size above which the raw bytes are staged
// to object storage (when configured) instead of only living in the
// NormalizedDoc's in-memory Text field across the ingest call.
const stagingThreshold = 1 << 20 // 1 MiB

// NormalizedDoc is the body of /ingest/preview and /ingest/publish.
type NormalizedDoc struct {
	ID       string         `json:"id"`
	Title    string         `json:"title,omitempty"`
	URL      string         `json:"url,omitempty"`
	Source   string         `json:"source,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Language string         `json:"language,omitempty"`
	Tenant   string         `json:"tenant"`
	Deleted  bool           `json:"deleted,omitempty"`
	Strategy string         `json:"chunkingStrategy,omitempty"`
}

func (d NormalizedDoc) validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if !d.Deleted && d.Text == "" {
		return fmt.Errorf("text is required unless deleted=true")
	}
	return nil
}

func (d NormalizedDoc) toIngestRequest(defaults ChunkConfig) ingest.IngestRequest {
	strategy := d.Strategy
	if strategy == "" {
		strategy = defaults.Strategy
	}
	return ingest.IngestRequest{
		ID: d.ID, Title: d.Title, URL: d.URL, Source: d.Source, Text: d.Text,
		Metadata: d.Metadata, Language: d.Language, Tenant: d.Tenant, Deleted: d.Deleted,
		Options: ingest.IngestOptions{
			Chunking:  ingest.ChunkingOptions{Strategy: strategy, MaxTokens: defaults.MaxTokens, Overlap: defaults.Overlap},
			Embedding: ingest.EmbeddingOptions{Enabled: true},
		},
	}
}

func decodeNormalizedDoc(r io.Reader) (NormalizedDoc, error) {
	var d NormalizedDoc
	if err := json.NewDecoder(io.LimitReader(r, maxUploadBytes)).Decode(&d); err != nil {
		return NormalizedDoc{}, fmt.Errorf("invalid request body: %w", err)
	}
	if err := d.validate(); err != nil {
		return NormalizedDoc{}, err
	}
	return d, nil
}

// handleIngestPreview chunks the document without writing to any store, so
// callers can inspect the resulting chunk boundaries and token counts.
func (h *handlers) handleIngestPreview(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeNormalizedDoc(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SchemaInvalid", err.Error())
		return
	}

	in := doc.toIngestRequest(h.deps.ChunkOpts)
	ch := chunker.NewTokenAware(tokencount.Identity{Type: tokencount.KindTiktoken, SafetyMargin: 0.1})
	chunks, err := ch.Chunk(in.Text, in.Options.Chunking)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unexpected", err.Error())
		return
	}
	kept, warnings := chunker.ApplyGuard(chunks, chunker.DefaultGuardOptions())

	writeJSON(w, http.StatusOK, map[string]any{
		"docId":    in.ID,
		"chunks":   kept,
		"warnings": warnings,
	})
}

func (h *handlers) handleIngestPublish(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeNormalizedDoc(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SchemaInvalid", err.Error())
		return
	}

	resp, err := h.deps.Service.Ingest(r.Context(), doc.toIngestRequest(h.deps.ChunkOpts))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unexpected", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIngestUpload accepts a multipart form with a "file" part plus
// sidecar fields (id, tenant, title, source, language) and publishes it
// through the same path as /ingest/publish. File-format conversion (PDF,
// DOCX, etc.) is an external collaborator's responsibility: the uploaded
// part is read as UTF-8 text as-is.
func (h *handlers) handleIngestUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "SchemaInvalid", "file part is required: "+err.Error())
		return
	}
	defer file.Close()

	text, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SchemaInvalid", "failed reading file part: "+err.Error())
		return
	}

	doc := NormalizedDoc{
		ID:     r.FormValue("id"),
		Tenant: r.FormValue("tenant"),
		Title:  r.FormValue("title"),
		Source:   r.FormValue("source"),
		Language: r.FormValue("language"),
		Text:     string(text),
	}
	if err := doc.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "SchemaInvalid", err.Error())
		return
	}

	if h.deps.Blob != nil && len(text) > stagingThreshold {
		key := doc.Tenant + "/" + doc.ID
		url, stageErr := h.deps.Blob.Stage(r.Context(), key, text, "text/plain; charset=utf-8")
		if stageErr != nil {
			log.Warn().Err(stageErr).Str("doc_id", doc.ID).Msg("blob staging failed, continuing with inline text")
		} else {
			doc.URL = url
		}
	}

	resp, err := h.deps.Service.Ingest(r.Context(), doc.toIngestRequest(h.deps.ChunkOpts))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unexpected", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
