package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cwrag/ragcore/internal/llm"
	"github.com/cwrag/ragcore/internal/rag/guardrail"
	"github.com/cwrag/ragcore/internal/rag/packer"
	"github.com/cwrag/ragcore/internal/rag/retrieve"
	"github.com/cwrag/ragcore/internal/rag/synth"
)

// AskRequest is the body of POST /ask and /ask/stream.
type AskRequest struct {
	Query            string            `json:"query"`
	UserID           string            `json:"userId"`
	TenantID         string            `json:"tenantId"`
	GroupIDs         []string          `json:"groupIds,omitempty"`
	Language         string            `json:"language,omitempty"`
	IncludeCitations *bool             `json:"includeCitations,omitempty"`
	AnswerFormat     string            `json:"answerFormat,omitempty"` // "markdown" | "plain"
	Filter           map[string]string `json:"filter,omitempty"`
}

// AskResponse is the non-streaming /ask response body. When IsIDontKnow is
// true, Answer/Citations are empty and ReasonCode/Suggestions explain why.
type AskResponse struct {
	Answer           string               `json:"answer,omitempty"`
	Citations        synth.CitationMap    `json:"citations,omitempty"`
	TokensUsed       int                  `json:"tokensUsed,omitempty"`
	ModelUsed        string               `json:"modelUsed,omitempty"`
	Confidence       float64              `json:"confidence"`
	ContextTruncated bool                 `json:"contextTruncated,omitempty"`
	IsIDontKnow      bool                 `json:"isIdk"`
	ReasonCode       guardrail.ReasonCode `json:"reasonCode,omitempty"`
	Suggestions      []string             `json:"suggestions,omitempty"`
}

func (req AskRequest) validate() error {
	if req.Query == "" {
		return fmt.Errorf("query is required")
	}
	if req.UserID == "" || req.TenantID == "" {
		return fmt.Errorf("userId and tenantId are required")
	}
	return nil
}

func decodeAskRequest(r *http.Request) (AskRequest, error) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return AskRequest{}, fmt.Errorf("invalid request body: %w", err)
	}
	if err := req.validate(); err != nil {
		return AskRequest{}, err
	}
	return req, nil
}

// pipeline runs retrieval, the guardrail decision, and (when answerable) the
// context packer, producing the synth.Request ready for Synthesize/Stream.
func (h *handlers) pipeline(ctx context.Context, req AskRequest) (synth.Request, guardrail.Decision, error) {
	ropt := retrieve.RetrieveOptions{
		K:              20,
		UseRRF:         true,
		IncludeText:    true,
		IncludeSnippet: true,
		Rerank:         h.deps.RerankEnabled,
		Tenant:         req.TenantID,
		Filter:         req.Filter,
	}
	retrieved, err := h.deps.Service.Retrieve(ctx, req.Query, ropt)
	if err != nil {
		return synth.Request{}, guardrail.Decision{}, fmt.Errorf("retrieve: %w", err)
	}

	gresults := make([]guardrail.Result, len(retrieved.Items))
	for i, it := range retrieved.Items {
		gresults[i] = guardrail.Result{Score: it.Score}
	}
	decision := h.deps.Guardrail.Evaluate(req.Query, gresults, guardrail.UserContext{
		ID: req.UserID, TenantID: req.TenantID, GroupIDs: req.GroupIDs,
	})

	sreq := synth.Request{
		Query:            req.Query,
		UserContext:      synth.UserContext{ID: req.UserID, TenantID: req.TenantID, Language: req.Language},
		IncludeCitations: req.IncludeCitations == nil || *req.IncludeCitations,
		AnswerFormat:     synth.AnswerFormat(req.AnswerFormat),
		MaxContextTokens: h.deps.PackerOpts.TokenBudget,
		IsAnswerable:     decision.IsAnswerable,
		GuardrailReason:  string(decision.ReasonCode),
	}
	if sreq.AnswerFormat == "" {
		sreq.AnswerFormat = synth.FormatMarkdown
	}
	if !decision.IsAnswerable {
		return sreq, decision, nil
	}

	candidates := make([]packer.Candidate, len(retrieved.Items))
	for i, it := range retrieved.Items {
		candidates[i] = packer.Candidate{
			ID:          it.ID,
			DocID:       it.DocID,
			SectionPath: it.Metadata["section_path"],
			Text:        it.Text,
			TokenCount:  llm.EstimateTokens(it.Text),
			FusionScore: it.Score,
			Header:      it.Metadata["section_header"],
		}
	}
	popt := packer.Options{
		TokenBudget:        h.deps.PackerOpts.TokenBudget,
		PerDocCap:          h.deps.PackerOpts.PerDocCap,
		PerSectionCap:      h.deps.PackerOpts.PerSectionCap,
		NoveltyAlpha:       h.deps.PackerOpts.NoveltyAlpha,
		AnswerabilityBonus: h.deps.PackerOpts.AnswerabilityBonus,
		SectionReunify:     h.deps.PackerOpts.SectionReunify,
	}
	packed := packer.Pack(req.Query, candidates, popt)

	docs := make([]synth.Document, len(packed.Chunks))
	for i, c := range packed.Chunks {
		docs[i] = synth.Document{
			ID: c.ID, DocID: c.DocID, Text: c.Text,
			Source: c.DocID, FusionScore: c.FusionScore,
		}
	}
	sreq.Documents = docs
	return sreq, decision, nil
}

func (h *handlers) handleAsk(w http.ResponseWriter, r *http.Request) {
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
	if !decision.IsAnswerable {
		writeJSON(w, http.StatusOK, AskResponse{
			IsIDontKnow: true,
			Confidence:  decision.Confidence,
			ReasonCode:  decision.ReasonCode,
			Suggestions: decision.Suggestions,
		})
		return
	}

	resp, err := h.deps.Synth.Synthesize(r.Context(), sreq)
	if err != nil {
		writeSynthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AskResponse{
		Answer:           resp.Answer,
		Citations:        resp.Citations,
		TokensUsed:       resp.TokensUsed,
		ModelUsed:        resp.ModelUsed,
		Confidence:       resp.Confidence,
		ContextTruncated: resp.ContextTruncated,
		IsIDontKnow:      resp.IsIDontKnow,
	})
}

func writeSynthError(w http.ResponseWriter, err error) {
	se, ok := err.(*synth.Error)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Unexpected", err.Error())
		return
	}
	switch se.Kind {
	case synth.ErrInvalidUserCtx, synth.ErrNoDocuments, synth.ErrInvalidCitations:
		writeError(w, http.StatusBadRequest, string(se.Kind), se.Msg)
	case synth.ErrTimeout:
		writeError(w, http.StatusGatewayTimeout, string(se.Kind), se.Msg)
	default:
		writeError(w, http.StatusBadGateway, string(se.Kind), se.Msg)
	}
}
