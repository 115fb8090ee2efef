// Package anthropic implements the llm.Provider surface against the
// Anthropic Messages API for the answer synthesis orchestrator.
package anthropic

import (
	"net/http"
	"strings"

	"context"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cwrag/ragcore/internal/llm"
)

const defaultMaxTokens int64 = 4096

// Config holds the connection details for the Anthropic backend.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client dispatches Chat/ChatStream calls to Anthropic's Messages API.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model, maxTokens: defaultMaxTokens}
}

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

// adaptMessages splits out a leading system message (Anthropic takes system
// prompt as a top-level field, not a message) and converts the rest.
func adaptMessages(msgs []llm.Message) (string, []anthropic.MessageParam) {
	var sys strings.Builder
	converted := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			if sys.Len() > 0 {
				sys.WriteString("\n")
			}
			sys.WriteString(m.Content)
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return sys.String(), converted
}

func messageText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String()
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	sys, converted := adaptMessages(msgs)
	effectiveModel := c.pickModel(model)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(effectiveModel),
		Messages:  converted,
		MaxTokens: c.maxTokens,
	}
	if sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic Chat", effectiveModel, 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		return llm.Message{}, err
	}
	llm.LogRedactedResponse(ctx, resp)

	promptTokens := int(resp.Usage.InputTokens) + int(resp.Usage.CacheReadInputTokens) + int(resp.Usage.CacheCreationInputTokens)
	completionTokens := int(resp.Usage.OutputTokens)
	llm.RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)

	return llm.Message{Role: "assistant", Content: messageText(resp)}, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, model string, h llm.StreamHandler) (llm.Message, error) {
	sys, converted := adaptMessages(msgs)
	effectiveModel := c.pickModel(model)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(effectiveModel),
		Messages:  converted,
		MaxTokens: c.maxTokens,
	}
	if sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic ChatStream", effectiveModel, 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var acc anthropic.Message
	var content strings.Builder
	for stream.Next() {
		event := stream.Current()
		_ = acc.Accumulate(event)
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if td, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && td.Text != "" {
				content.WriteString(td.Text)
				if h != nil {
					h.OnDelta(td.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		return llm.Message{}, err
	}

	promptTokens := int(acc.Usage.InputTokens) + int(acc.Usage.CacheReadInputTokens) + int(acc.Usage.CacheCreationInputTokens)
	completionTokens := int(acc.Usage.OutputTokens)
	llm.RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)

	out := content.String()
	if out == "" {
		out = messageText(&acc)
	}
	return llm.Message{Role: "assistant", Content: out}, nil
}
