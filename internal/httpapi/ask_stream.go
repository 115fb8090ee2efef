package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cwrag/ragcore/internal/rag/synth"
)

// handleAskStream streams the synthesis event sequence as SSE:
// connection_opened, citations, chunk*, metadata, response_completed, done,
// with error, done in place of the rest on failure. Each event is "event: <type>\ndata: <json>\n\n".
func (h *handlers) handleAskStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAskRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SchemaInvalid", err.Error())
		return
	}

	sreq, decision, err := h.pipeline(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unexpected", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Unexpected", "streaming unsupported by response writer")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE := func(eventType string, payload any) {
		data, merr := json.Marshal(payload)
		if merr != nil {
			data = []byte(`{}`)
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
		flusher.Flush()
	}

	if !decision.IsAnswerable {
		writeSSE("connection_opened", map[string]any{})
		writeSSE("response_completed", AskResponse{
			IsIDontKnow: true,
			Confidence:  decision.Confidence,
			ReasonCode:  decision.ReasonCode,
			Suggestions: decision.Suggestions,
		})
		writeSSE("done", map[string]any{})
		return
	}

	for ev := range h.deps.Synth.Stream(r.Context(), sreq) {
		switch ev.Type {
		case synth.EventConnectionOpened:
			writeSSE("connection_opened", map[string]any{})
		case synth.EventChunk:
			writeSSE("chunk", map[string]any{"text": ev.ChunkText, "accumulated": ev.ChunkAccumulated})
		case synth.EventCitations:
			writeSSE("citations", ev.Citations)
		case synth.EventMetadata:
			writeSSE("metadata", ev.Metadata)
		case synth.EventResponseCompleted:
			writeSSE("response_completed", ev.Completed)
		case synth.EventError:
			writeSSE("error", map[string]any{"kind": ev.ErrKind, "message": ev.ErrMessage})
		case synth.EventDone:
			writeSSE("done", map[string]any{})
		}
	}
}
