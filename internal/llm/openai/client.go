// Package openai implements the llm.Provider surface against OpenAI-compatible
// chat completion endpoints: OpenAI itself, and self-hosted vllm servers that
// expose the same wire format under a custom base URL.
package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/cwrag/ragcore/internal/llm"
	"github.com/cwrag/ragcore/internal/observability"
)

// Client dispatches Chat/ChatStream calls to an OpenAI-compatible backend.
type Client struct {
	sdk   sdk.Client
	model string
}

// Config holds the connection details for a single OpenAI-compatible backend.
type Config struct {
	APIKey  string
	BaseURL string // empty uses the OpenAI default; set for vllm/self-hosted
	Model   string
}

// New constructs a client. httpClient may be nil, in which case
// http.DefaultClient is used.
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
	return &Client{sdk: sdk.NewClient(opts...), model: strings.TrimSpace(cfg.Model)}
}

func (c *Client) effectiveModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	effectiveModel := c.effectiveModel(model)
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: adaptMessages(msgs),
	}

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI Chat", effectiveModel, 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	log := observability.LoggerWithTrace(ctx)
	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", effectiveModel).Dur("duration", dur).Msg("chat_completion_error")
		span.RecordError(err)
		return llm.Message{}, err
	}
	llm.RecordTokenMetrics(effectiveModel, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens))
	llm.RecordTokenAttributes(span, int(comp.Usage.PromptTokens), int(comp.Usage.CompletionTokens), int(comp.Usage.TotalTokens))
	if len(comp.Choices) == 0 {
		return llm.Message{}, nil
	}
	out := llm.Message{Role: "assistant", Content: comp.Choices[0].Message.Content}
	llm.LogRedactedResponse(ctx, comp.Choices)
	return out, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, model string, h llm.StreamHandler) (llm.Message, error) {
	effectiveModel := c.effectiveModel(model)
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(effectiveModel),
		Messages: adaptMessages(msgs),
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI ChatStream", effectiveModel, 0, len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)

	log := observability.LoggerWithTrace(ctx)
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var content strings.Builder
	var promptTokens, completionTokens, totalTokens int
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 {
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				content.WriteString(delta)
				if h != nil {
					h.OnDelta(delta)
				}
			}
		}
		if chunk.Usage.TotalTokens > 0 {
			promptTokens = int(chunk.Usage.PromptTokens)
			completionTokens = int(chunk.Usage.CompletionTokens)
			totalTokens = int(chunk.Usage.TotalTokens)
		}
	}
	if err := stream.Err(); err != nil {
		log.Error().Err(err).Str("model", effectiveModel).Msg("chat_stream_error")
		span.RecordError(err)
		return llm.Message{}, err
	}

	out := llm.Message{Role: "assistant", Content: content.String()}
	if totalTokens == 0 {
		promptTokens = llm.EstimateTokensForMessages(msgs)
		completionTokens = llm.EstimateTokens(out.Content)
		totalTokens = promptTokens + completionTokens
	}
	llm.RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, totalTokens)
	return out, nil
}
