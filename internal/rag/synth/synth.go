// Package synth implements the answer synthesis orchestrator: it composes a
// grounded prompt from packed context, invokes an llm.Provider, extracts and
// validates citations, and can stream the whole process as a typed event
// sequence suitable for SSE framing.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cwrag/ragcore/internal/llm"
)

// ErrKind names a synthesis-layer failure, matching the error kinds used
// across the request/response boundary.
type ErrKind string

const (
	ErrNoDocuments       ErrKind = "NoDocuments"
	ErrInvalidUserCtx    ErrKind = "InvalidUserContext"
	ErrInvalidCitations  ErrKind = "InvalidCitations"
	ErrTimeout           ErrKind = "Timeout"
	ErrLLMProvider       ErrKind = "LLMProviderError"
)

// Error carries a classified synthesis failure.
type Error struct {
	Kind ErrKind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

// AnswerFormat selects whether citation markers are preserved in the output.
type AnswerFormat string

const (
	FormatMarkdown AnswerFormat = "markdown"
	FormatPlain    AnswerFormat = "plain"
)

// Document is one piece of packed context available to the synthesizer.
type Document struct {
	ID          string
	DocID       string
	Text        string
	Source      string
	Freshness   string // "Fresh" | "Recent" | "Stale"
	Version     string
	URL         string
	FilePath    string
	Authors     []string
	FusionScore float64
}

// UserContext identifies the requester for prompt language/personalization.
type UserContext struct {
	ID       string
	TenantID string
	Language string
}

// Request is the input to Synthesize/Stream.
type Request struct {
	Query            string
	Documents        []Document
	UserContext      UserContext
	IncludeCitations bool
	AnswerFormat     AnswerFormat
	MaxTokens        int
	MaxContextTokens int // truncation budget over Documents, in approx tokens
	IsAnswerable     bool
	GuardrailReason  string
}

// Citation is one numbered reference in the final answer.
type Citation struct {
	ID        string
	Number    int
	Source    string
	DocID     string
	Freshness string
	Version   string
	URL       string
	FilePath  string
	Authors   []string
}

// CitationMap maps citation number to its Citation.
type CitationMap map[int]Citation

// Response is the non-streaming synthesis result.
type Response struct {
	Answer          string
	Citations       CitationMap
	TokensUsed      int
	ModelUsed       string
	Confidence      float64
	ContextTruncated bool
	SynthesisTime   time.Duration
	IsIDontKnow     bool
}

// EventType names one SSE-style synthesis event.
type EventType string

const (
	EventConnectionOpened  EventType = "connection_opened"
	EventChunk             EventType = "chunk"
	EventCitations         EventType = "citations"
	EventMetadata          EventType = "metadata"
	EventResponseCompleted EventType = "response_completed"
	EventError             EventType = "error"
	EventDone              EventType = "done"
)

// Event is one item in the synthesis event stream. Exactly one of the
// payload fields is populated, matching Type.
type Event struct {
	Type             EventType
	ChunkText        string
	ChunkAccumulated string
	Citations        CitationMap
	Metadata         map[string]any
	Completed        *Response
	ErrMessage       string
	ErrKind          ErrKind
}

// Orchestrator composes prompts, drives an llm.Provider, and produces
// citation-validated answers.
type Orchestrator struct {
	provider llm.Provider
	model    string
}

func New(provider llm.Provider, model string) *Orchestrator {
	return &Orchestrator{provider: provider, model: model}
}

func validate(req Request) error {
	if len(req.Documents) == 0 && req.IsAnswerable {
		return &Error{Kind: ErrNoDocuments, Msg: "no documents supplied for an answerable query"}
	}
	if req.UserContext.ID == "" || req.UserContext.TenantID == "" {
		return &Error{Kind: ErrInvalidUserCtx, Msg: "userContext.id and tenantId are required"}
	}
	return nil
}

// selectContext sorts documents by FusionScore desc and truncates by an
// approximate token budget (len/4), reporting whether truncation occurred.
func selectContext(docs []Document, maxTokens int) ([]Document, bool) {
	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FusionScore > sorted[j].FusionScore })

	if maxTokens <= 0 {
		return sorted, false
	}
	var used int
	var out []Document
	truncated := false
	for _, d := range sorted {
		t := estimateTokens(d.Text)
		if used+t > maxTokens {
			truncated = true
			continue
		}
		out = append(out, d)
		used += t
	}
	return out, truncated
}

func estimateTokens(s string) int { return (len(s) + 3) / 4 }

// buildCitationMap assigns 1-based numbers in document order of the final
// selected set, deduplicating case-insensitively by source string when the
// docId also matches.
func buildCitationMap(docs []Document) (CitationMap, map[string]int) {
	cm := CitationMap{}
	idToNumber := map[string]int{}
	seen := map[string]int{} // lower(source)+docID -> number
	n := 0
	for _, d := range docs {
		key := strings.ToLower(d.Source) + "|" + d.DocID
		if existing, ok := seen[key]; ok {
			idToNumber[d.ID] = existing
			continue
		}
		n++
		seen[key] = n
		idToNumber[d.ID] = n
		cm[n] = Citation{
			ID: d.ID, Number: n, Source: d.Source, DocID: d.DocID,
			Freshness: d.Freshness, Version: d.Version, URL: d.URL,
			FilePath: d.FilePath, Authors: d.Authors,
		}
	}
	return cm, idToNumber
}

func detectLanguage(uc UserContext) string {
	if uc.Language != "" {
		return uc.Language
	}
	return "EN"
}

func systemPrompt(req Request, docs []Document, idToNumber map[string]int) string {
	var b strings.Builder
	b.WriteString("You are a grounded question-answering assistant. Answer only from the supplied context.\n")
	b.WriteString("Cite every factual claim using the marker [^N] where N is the context document's number.\n")
	b.WriteString("Do not invent citation numbers; only use numbers present in the context below.\n")
	b.WriteString("Respond in language: " + detectLanguage(req.UserContext) + ".\n\n")
	b.WriteString("Context:\n")
	for _, d := range docs {
		num := idToNumber[d.ID]
		b.WriteString(fmt.Sprintf("[^%d] (%s): %s\n", num, d.Source, d.Text))
	}
	return b.String()
}

var citationPattern = regexp.MustCompile(`\[\^(\d+)\]`)

// FormatTextWithCitations standardizes citation markers and strips any whose
// number is not present in the map. It is idempotent: applying it twice
// yields the same result, since valid markers are already canonical and
// invalid ones are fully removed on the first pass.
func FormatTextWithCitations(text string, cm CitationMap) string {
	return citationPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := citationPattern.FindStringSubmatch(m)
		if len(sub) != 2 {
			return ""
		}
		var n int
		fmt.Sscanf(sub[1], "%d", &n)
		if _, ok := cm[n]; !ok {
			return ""
		}
		return fmt.Sprintf("[^%d]", n)
	})
}

// stripCitations removes all [^N] markers, used for AnswerFormat=plain.
func stripCitations(text string) string {
	return citationPattern.ReplaceAllString(text, "")
}

// validateCitations ensures every [^N] remaining in text has N in dom(cm).
func validateCitations(text string, cm CitationMap) error {
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if _, ok := cm[n]; !ok {
			return &Error{Kind: ErrInvalidCitations, Msg: fmt.Sprintf("citation [^%d] has no matching document", n)}
		}
	}
	return nil
}

func confidenceFromDocs(docs []Document) float64 {
	if len(docs) == 0 {
		return 0
	}
	var sum float64
	for _, d := range docs {
		sum += d.FusionScore
	}
	mean := sum / float64(len(docs))
	if mean > 1 {
		mean = 1
	}
	if mean < 0 {
		mean = 0
	}
	return mean
}

// Synthesize performs the non-streaming synthesis path.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	if err := validate(req); err != nil {
		return Response{}, err
	}

	if !req.IsAnswerable {
		return Response{
			IsIDontKnow:   true,
			ModelUsed:     o.model,
			SynthesisTime: time.Since(start),
		}, nil
	}

	docs, truncated := selectContext(req.Documents, req.MaxContextTokens)
	cm, idToNumber := buildCitationMap(docs)

	sys := systemPrompt(req, docs, idToNumber)
	msgs := []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: req.Query},
	}

	out, err := o.provider.Chat(ctx, msgs, o.model)
	if err != nil {
		return Response{}, &Error{Kind: ErrLLMProvider, Msg: err.Error()}
	}

	answer := FormatTextWithCitations(out.Content, cm)
	if req.AnswerFormat == FormatPlain {
		answer = stripCitations(answer)
	} else if err := validateCitations(answer, cm); err != nil {
		return Response{}, err
	}

	if !req.IncludeCitations {
		cm = CitationMap{}
	}

	return Response{
		Answer:           answer,
		Citations:        cm,
		TokensUsed:       estimateTokens(sys) + estimateTokens(req.Query) + estimateTokens(out.Content),
		ModelUsed:        o.model,
		Confidence:       confidenceFromDocs(docs),
		ContextTruncated: truncated,
		SynthesisTime:    time.Since(start),
	}, nil
}

// streamHandler adapts llm.StreamHandler deltas onto a typed event channel.
type streamHandler struct {
	events chan<- Event
	acc    strings.Builder
}

func (h *streamHandler) OnDelta(content string) {
	h.acc.WriteString(content)
	h.events <- Event{Type: EventChunk, ChunkText: content, ChunkAccumulated: h.acc.String()}
}

// Stream runs the synthesis pipeline and emits events on the returned
// channel: connection_opened, citations, chunk*, metadata,
// response_completed, done; a failure replaces the events after it with
// error, done. The channel is closed after done is
// sent. Cancelling ctx stops the underlying provider call and still emits
// error+done before closing.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		events <- Event{Type: EventConnectionOpened}

		if err := validate(req); err != nil {
			var se *Error
			kind := ErrKind("Unknown")
			if ok := asSynthError(err, &se); ok {
				kind = se.Kind
			}
			events <- Event{Type: EventError, ErrMessage: err.Error(), ErrKind: kind}
			events <- Event{Type: EventDone}
			return
		}

		if !req.IsAnswerable {
			resp := Response{IsIDontKnow: true, ModelUsed: o.model}
			events <- Event{Type: EventResponseCompleted, Completed: &resp}
			events <- Event{Type: EventDone}
			return
		}

		docs, truncated := selectContext(req.Documents, req.MaxContextTokens)
		cm, idToNumber := buildCitationMap(docs)
		events <- Event{Type: EventCitations, Citations: cm}

		sys := systemPrompt(req, docs, idToNumber)
		msgs := []llm.Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: req.Query},
		}

		start := time.Now()
		h := &streamHandler{events: events}
		out, err := o.provider.ChatStream(ctx, msgs, o.model, h)
		if ctx.Err() != nil {
			events <- Event{Type: EventError, ErrMessage: "synthesis deadline exceeded", ErrKind: ErrTimeout}
			events <- Event{Type: EventDone}
			return
		}
		if err != nil {
			events <- Event{Type: EventError, ErrMessage: err.Error(), ErrKind: ErrLLMProvider}
			events <- Event{Type: EventDone}
			return
		}

		answer := FormatTextWithCitations(out.Content, cm)
		if req.AnswerFormat == FormatPlain {
			answer = stripCitations(answer)
		} else if verr := validateCitations(answer, cm); verr != nil {
			events <- Event{Type: EventError, ErrMessage: verr.Error(), ErrKind: ErrInvalidCitations}
			events <- Event{Type: EventDone}
			return
		}

		events <- Event{Type: EventMetadata, Metadata: map[string]any{
			"context_truncated": truncated,
			"document_count":    len(docs),
		}}

		respCM := cm
		if !req.IncludeCitations {
			respCM = CitationMap{}
		}
		resp := Response{
			Answer:           answer,
			Citations:        respCM,
			TokensUsed:       estimateTokens(sys) + estimateTokens(req.Query) + estimateTokens(out.Content),
			ModelUsed:        o.model,
			Confidence:       confidenceFromDocs(docs),
			ContextTruncated: truncated,
			SynthesisTime:    time.Since(start),
		}
		events <- Event{Type: EventResponseCompleted, Completed: &resp}
		events <- Event{Type: EventDone}
	}()

	return events
}

func asSynthError(err error, target **Error) bool {
	se, ok := err.(*Error)
	if ok {
		*target = se
	}
	return ok
}
