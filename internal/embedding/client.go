package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cwrag/ragcore/internal/config"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// retryPolicy bounds the exponential backoff used for transient embedding
// endpoint failures: 429, 5xx, and network errors. 413 is never retried —
// the caller must re-chunk and resend instead.
const (
	maxAttempts  = 3
	initialDelay = 200 * time.Millisecond
	maxDelay     = 5 * time.Second
	delayMult    = 2.0
)

// EmbedText calls the configured embedding endpoint and returns one embedding
// per input string. Caller should provide cfg loaded from config.Load().
func EmbedText(ctx context.Context, cfg config.EmbeddingConfig, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs")
	}

	var lastErr error
	delay := initialDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * delayMult)
			if delay > maxDelay {
				delay = maxDelay
			}
		}

		out, retryable, err := embedTextOnce(ctx, cfg, inputs)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embeddings failed after %d attempts: %w", maxAttempts, lastErr)
}

// embedTextOnce performs a single attempt. retryable reports whether the
// caller should back off and retry (429, 5xx, or a network-level error) as
// opposed to failing fast (4xx other than 429, decode errors).
func embedTextOnce(ctx context.Context, cfg config.EmbeddingConfig, inputs []string) (out [][]float32, retryable bool, err error) {
	reqBody, _ := json.Marshal(embedReq{Model: cfg.Model, Input: inputs})
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, cfg.URL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, false, err
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		b, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("embeddings payload too large: %s", string(b))
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		b, _ := io.ReadAll(resp.Body)
		return nil, true, fmt.Errorf("embeddings error: %s: %s", resp.Status, string(b))
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("embeddings error: %s: %s", resp.Status, string(b))
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	var er embedResp
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		return nil, false, fmt.Errorf("failed to parse embedding response (input count: %d, response: %s): %w",
			len(inputs), string(bodyBytes[:min(200, len(bodyBytes))]), err)
	}
	if len(er.Data) != len(inputs) {
		return nil, false, fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(inputs))
	}
	out = make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, false, nil
}

// CheckReachability verifies that the embedding endpoint is reachable and
// responding correctly by sending a small test request.
func CheckReachability(ctx context.Context, cfg config.EmbeddingConfig) error {
	_, err := EmbedText(ctx, cfg, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
