// Package providers selects and constructs the configured llm.Provider.
package providers

import (
	"fmt"
	"net/http"

	"github.com/cwrag/ragcore/internal/config"
	"github.com/cwrag/ragcore/internal/llm"
	"github.com/cwrag/ragcore/internal/llm/anthropic"
	openaillm "github.com/cwrag/ragcore/internal/llm/openai"
)

// Build constructs an llm.Provider based on cfg.LLM.Provider.
//   - openai: OpenAI's hosted chat completions API
//   - vllm: any OpenAI-compatible self-hosted server (cfg.LLM.Endpoint required)
//   - anthropic: Anthropic's Messages API
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return openaillm.New(openaillm.Config{
			APIKey: cfg.LLM.APIKey,
			Model:  cfg.LLM.Model,
		}, httpClient), nil
	case "vllm":
		if cfg.LLM.Endpoint == "" {
			return nil, fmt.Errorf("llm provider vllm requires LLM_ENDPOINT")
		}
		return openaillm.New(openaillm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.Endpoint,
			Model:   cfg.LLM.Model,
		}, httpClient), nil
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.Endpoint,
			Model:   cfg.LLM.Model,
		}, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
