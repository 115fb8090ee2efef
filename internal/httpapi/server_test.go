package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cwrag/ragcore/internal/llm"
	"github.com/cwrag/ragcore/internal/persistence/databases"
	"github.com/cwrag/ragcore/internal/rag/guardrail"
	"github.com/cwrag/ragcore/internal/rag/service"
	"github.com/cwrag/ragcore/internal/rag/synth"
	"github.com/cwrag/ragcore/internal/ratelimit"
)

type stubProvider struct{ answer string }

func (s stubProvider) Chat(_ context.Context, _ []llm.Message, _ string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: s.answer}, nil
}

func (s stubProvider) ChatStream(_ context.Context, _ []llm.Message, _ string, h llm.StreamHandler) (llm.Message, error) {
	h.OnDelta(s.answer)
	return llm.Message{Role: "assistant", Content: s.answer}, nil
}

func newTestHandler() http.Handler {
	mgr := databases.Manager{Search: databases.NewMemorySearch(), Vector: databases.NewMemoryVector()}
	svc := service.New(mgr)
	gr := guardrail.New(guardrail.DefaultConfigMap(), guardrail.DefaultWeights())
	orch := synth.New(stubProvider{answer: "The answer is 42 [^1]."}, "test-model")
	return New(Deps{
		Service:     svc,
		Guardrail:   gr,
		Synth:       orch,
		RateLimiter: ratelimit.New(ratelimit.Limits{PerIP: 1000, PerUser: 1000, PerTenant: 1000}),
		IngestToken: "secret-token",
		PackerOpts:  PackerConfig{TokenBudget: 8000, PerDocCap: 2, PerSectionCap: 2, NoveltyAlpha: 0.5, AnswerabilityBonus: 0.15, SectionReunify: true},
	})
}

func TestHealthz(t *testing.T) {
	h := newTestHandler()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAsk_NoDocumentsYieldsIDK(t *testing.T) {
	h := newTestHandler()
	body := strings.NewReader(`{"query":"what is the meaning of life?","userId":"u1","tenantId":"t1"}`)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ask", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"isIdk":true`) {
		t.Fatalf("expected isIdk=true in response, got %s", rr.Body.String())
	}
}

func TestAsk_MissingFieldsRejected(t *testing.T) {
	h := newTestHandler()
	body := strings.NewReader(`{"query":""}`)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ask", body))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestIngestPublish_RequiresToken(t *testing.T) {
	h := newTestHandler()
	body := strings.NewReader(`{"id":"doc:1","tenant":"t1","text":"hello world"}`)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ingest/publish", body))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestIngestPublish_SucceedsWithToken(t *testing.T) {
	h := newTestHandler()
	body := strings.NewReader(`{"id":"doc:1","tenant":"t1","text":"hello world, this is a test document with enough content to chunk."}`)
	req := httptest.NewRequest(http.MethodPost, "/ingest/publish", body)
	req.Header.Set("x-ingest-token", "secret-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}
