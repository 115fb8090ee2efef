// Package tokencount counts tokens for a configured tokenizer identity and
// exposes the safe-token-limit contract shared by the chunker and the
// embedder.
package tokencount

import (
	"container/list"
	"math"
	"strconv"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Kind identifies the tokenizer family backing a Counter.
type Kind string

const (
	KindTiktoken Kind = "tiktoken"
	KindCustom   Kind = "custom"
)

// Identity describes the tokenizer a Counter should use.
type Identity struct {
	Model        string
	Type         Kind
	MaxTokens    int
	SafetyMargin float64
	// CharToTokenRatio is used for estimation fallback when the exact
	// tokenizer is unavailable (e.g. tiktoken encoding not found for Model).
	// Typical values: 3.2 for BGE-family embedders, 4.0 for GPT-family chat models.
	CharToTokenRatio float64
}

// Result is the outcome of counting tokens for a piece of text.
type Result struct {
	TokenCount     int
	CharacterCount int
	EstimatedTokens int
	IsWithinLimit  bool
	SafeTokenLimit int
}

// SafeTokenLimit implements safeTokenLimit = floor(maxTokens * (1-safetyMargin)).
func SafeTokenLimit(maxTokens int, safetyMargin float64) int {
	if maxTokens <= 0 {
		return 0
	}
	if safetyMargin < 0 {
		safetyMargin = 0
	}
	if safetyMargin > 0.9 {
		safetyMargin = 0.9
	}
	return int(math.Floor(float64(maxTokens) * (1 - safetyMargin)))
}

// Counter counts tokens under an Identity, with an LRU cache keyed by text
// (or a hash of it for long inputs) bounded at capacity entries.
type Counter struct {
	id       Identity
	enc      *tiktoken.Tiktoken
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

type cacheEntry struct {
	key   string
	count int
}

// New builds a Counter for the given Identity. When Type is KindTiktoken and
// an encoding can be resolved for Model, exact BPE counting is used;
// otherwise every count falls back to the character-ratio estimate.
func New(id Identity) *Counter {
	if id.CharToTokenRatio <= 0 {
		id.CharToTokenRatio = 4.0
	}
	c := &Counter{
		id:       id,
		capacity: 1000,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
	if id.Type == KindTiktoken || id.Type == "" {
		if enc, err := tiktoken.EncodingForModel(id.Model); err == nil {
			c.enc = enc
		} else if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			c.enc = enc
		}
	}
	return c
}

// Count returns the full Result contract for text.
func (c *Counter) Count(text string) Result {
	n := c.countTokens(text)
	est := estimateTokens(text, c.id.CharToTokenRatio)
	limit := SafeTokenLimit(c.id.MaxTokens, c.id.SafetyMargin)
	return Result{
		TokenCount:      n,
		CharacterCount:  len([]rune(text)),
		EstimatedTokens: est,
		IsWithinLimit:   c.id.MaxTokens <= 0 || n <= limit,
		SafeTokenLimit:  limit,
	}
}

// CountTokens returns just the token count, using the cache.
func (c *Counter) CountTokens(text string) int {
	return c.countTokens(text)
}

func (c *Counter) countTokens(text string) int {
	key := cacheKey(text)

	c.mu.Lock()
	if el, ok := c.cache[key]; ok {
		c.order.MoveToFront(el)
		n := el.Value.(*cacheEntry).count
		c.mu.Unlock()
		return n
	}
	c.mu.Unlock()

	n := c.computeTokens(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[key]; !ok {
		el := c.order.PushFront(&cacheEntry{key: key, count: n})
		c.cache[key] = el
		for c.order.Len() > c.capacity {
			back := c.order.Back()
			if back == nil {
				break
			}
			c.order.Remove(back)
			delete(c.cache, back.Value.(*cacheEntry).key)
		}
	}
	return n
}

func (c *Counter) computeTokens(text string) int {
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return estimateTokens(text, c.id.CharToTokenRatio)
}

func estimateTokens(text string, ratio float64) int {
	if ratio <= 0 {
		ratio = 4.0
	}
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / ratio))
}

// cacheKey uses the text itself for short inputs and a cheap 32-bit hash
// (FNV-1a) for long ones, keeping the cache's memory footprint bounded.
func cacheKey(text string) string {
	if len(text) <= 256 {
		return text
	}
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
	}
	return strconv.FormatUint(uint64(h), 16) + ":" + text[:32] + text[len(text)-32:]
}
