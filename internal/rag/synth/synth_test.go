package synth

import (
	"context"
	"testing"

	"github.com/cwrag/ragcore/internal/llm"
)

type stubProvider struct {
	content string
}

func (s stubProvider) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: s.content}, nil
}

func (s stubProvider) ChatStream(ctx context.Context, msgs []llm.Message, model string, h llm.StreamHandler) (llm.Message, error) {
	h.OnDelta(s.content)
	return llm.Message{Role: "assistant", Content: s.content}, nil
}

func TestFormatTextWithCitations_RemovesInvalidMarkers(t *testing.T) {
	cm := CitationMap{1: {Number: 1, Source: "a"}}
	out := FormatTextWithCitations("a [^1] b [^99]", cm)
	if out != "a [^1] b " {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFormatTextWithCitations_Idempotent(t *testing.T) {
	cm := CitationMap{1: {Number: 1, Source: "a"}}
	once := FormatTextWithCitations("see [^1] and [^2]", cm)
	twice := FormatTextWithCitations(once, cm)
	if once != twice {
		t.Fatalf("expected idempotent formatting, got %q then %q", once, twice)
	}
}

func TestSynthesize_NoDocumentsFailsWhenAnswerable(t *testing.T) {
	o := New(stubProvider{}, "gpt-4o-mini")
	_, err := o.Synthesize(context.Background(), Request{
		Query:        "q",
		UserContext:  UserContext{ID: "u", TenantID: "t"},
		IsAnswerable: true,
	})
	if err == nil {
		t.Fatalf("expected error for empty documents")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != ErrNoDocuments {
		t.Fatalf("expected NoDocuments error, got %v", err)
	}
}

func TestSynthesize_IDKWhenNotAnswerable(t *testing.T) {
	o := New(stubProvider{content: "answer"}, "gpt-4o-mini")
	resp, err := o.Synthesize(context.Background(), Request{
		Query:        "q",
		UserContext:  UserContext{ID: "u", TenantID: "t"},
		IsAnswerable: false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsIDontKnow {
		t.Fatalf("expected IsIDontKnow response")
	}
}

func TestSynthesize_CitesDocumentsInOrder(t *testing.T) {
	o := New(stubProvider{content: "Paris is the capital [^1]."}, "gpt-4o-mini")
	resp, err := o.Synthesize(context.Background(), Request{
		Query:       "capital of france",
		UserContext: UserContext{ID: "u", TenantID: "t"},
		Documents: []Document{
			{ID: "c1", DocID: "doc1", Text: "France's capital is Paris.", Source: "wiki", FusionScore: 0.9},
		},
		IncludeCitations: true,
		IsAnswerable:     true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Citations) != 1 {
		t.Fatalf("expected one citation, got %d", len(resp.Citations))
	}
	if _, ok := resp.Citations[1]; !ok {
		t.Fatalf("expected citation numbered 1")
	}
}

func TestStream_EmitsEventsInOrder(t *testing.T) {
	o := New(stubProvider{content: "hello [^1]"}, "gpt-4o-mini")
	events := o.Stream(context.Background(), Request{
		Query:       "q",
		UserContext: UserContext{ID: "u", TenantID: "t"},
		Documents: []Document{
			{ID: "c1", DocID: "doc1", Text: "hello world", Source: "s", FusionScore: 0.5},
		},
		IncludeCitations: true,
		IsAnswerable:     true,
	})

	var seen []EventType
	for ev := range events {
		seen = append(seen, ev.Type)
	}
	if seen[0] != EventConnectionOpened {
		t.Fatalf("expected first event connection_opened, got %v", seen[0])
	}
	if seen[len(seen)-1] != EventDone {
		t.Fatalf("expected last event done, got %v", seen[len(seen)-1])
	}
	foundCompleted := false
	foundChunkBeforeCompleted := false
	for i, t2 := range seen {
		if t2 == EventChunk {
			foundChunkBeforeCompleted = !foundCompleted
		}
		if t2 == EventResponseCompleted {
			foundCompleted = true
			_ = i
		}
	}
	if !foundCompleted {
		t.Fatalf("expected response_completed event, got %v", seen)
	}
	if !foundChunkBeforeCompleted {
		t.Fatalf("expected chunk events before response_completed, got %v", seen)
	}
}
