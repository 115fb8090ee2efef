// Package guardrail implements the answerability engine: given a query's
// retrieved results, it decides whether a grounded answer is possible and,
// when not, builds a structured refusal with a reason code and suggestions.
package guardrail

import (
	"math"
	"sort"
	"sync"
)

// ReasonCode classifies why a query was judged unanswerable.
type ReasonCode string

const (
	NoRelevantDocs    ReasonCode = "NO_RELEVANT_DOCS"
	LowConfidence     ReasonCode = "LOW_CONFIDENCE"
	PoorRetrieval     ReasonCode = "POOR_RETRIEVAL_SCORES"
	ContextInsuff     ReasonCode = "CONTEXT_INSUFFICIENT"
	OutOfScope        ReasonCode = "OUT_OF_SCOPE"
	AmbiguousQuery    ReasonCode = "AMBIGUOUS_QUERY"
)

// Result is a single retrieved candidate's score, as seen by the guardrail.
// Missing/unknown scores should be passed as 0.
type Result struct {
	Score float64
}

// UserContext identifies the caller for tenant-scoped guardrail config lookup.
type UserContext struct {
	ID       string
	TenantID string
	GroupIDs []string
}

// ScoreStats summarizes the score distribution of a result set.
type ScoreStats struct {
	Mean   float64
	Max    float64
	Min    float64
	StdDev float64
	Count  int
}

// AlgorithmScores carries the three sub-scores behind the blended confidence.
type AlgorithmScores struct {
	Statistical float64
	Threshold   float64
	MLFeatures  float64
}

// Decision is the guardrail's verdict for one query.
type Decision struct {
	IsAnswerable    bool
	Confidence      float64
	ReasonCode      ReasonCode
	Suggestions     []string
	ScoreStats      ScoreStats
	AlgorithmScores AlgorithmScores
	Reasoning       string
}

// TenantConfig bounds what counts as "answerable" for one tenant.
type TenantConfig struct {
	Enabled           bool
	MinConfidence     float64
	MinTopScore       float64
	MinMeanScore      float64
	MinResultCount    int
	// RerankerConfidence, when >0, is blended into the ML feature sub-score.
	RerankerConfidence float64
}

// Weights controls how the three sub-scores combine into Confidence.
// They are expected to sum to 1; callers needing different weighting should
// renormalize before passing them in.
type Weights struct {
	Statistical float64
	Threshold   float64
	MLFeatures  float64
}

// DefaultWeights matches the blend described for the answerability engine:
// statistical evidence carries the most weight, with threshold gating and
// lightweight ML features as secondary signals.
func DefaultWeights() Weights {
	return Weights{Statistical: 0.5, Threshold: 0.3, MLFeatures: 0.2}
}

// ConfigMap is a tenant -> TenantConfig lookup with a required "default" entry
// for unknown tenants. Replace the whole map atomically to update config.
type ConfigMap map[string]TenantConfig

// DefaultConfigMap returns a map with only a "default" entry populated with
// reasonable thresholds.
func DefaultConfigMap() ConfigMap {
	return ConfigMap{
		"default": {
			Enabled:        true,
			MinConfidence:  0.55,
			MinTopScore:    0.05,
			MinMeanScore:   0.0,
			MinResultCount: 1,
		},
	}
}

func (m ConfigMap) lookup(tenant string) TenantConfig {
	if cfg, ok := m[tenant]; ok {
		return cfg
	}
	return m["default"]
}

// Engine evaluates answerability against a tenant configuration map.
type Engine struct {
	mu      sync.RWMutex
	configs ConfigMap
	weights Weights
}

// New constructs an Engine. A nil/empty configs map falls back to
// DefaultConfigMap.
func New(configs ConfigMap, weights Weights) *Engine {
	if len(configs) == 0 {
		configs = DefaultConfigMap()
	}
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Engine{configs: configs, weights: weights}
}

// SetConfigs atomically replaces the tenant configuration map.
func (e *Engine) SetConfigs(configs ConfigMap) {
	e.mu.Lock()
	e.configs = configs
	e.mu.Unlock()
}

// Evaluate computes a Decision for the given query's retrieved results.
func (e *Engine) Evaluate(query string, results []Result, uc UserContext) Decision {
	e.mu.RLock()
	cfg := e.configs.lookup(uc.TenantID)
	e.mu.RUnlock()

	if !cfg.Enabled {
		return Decision{IsAnswerable: true, Confidence: 1, Reasoning: "Guardrail disabled"}
	}

	stats := computeStats(results)

	if stats.Count == 0 {
		return Decision{
			IsAnswerable: false,
			Confidence:   0,
			ReasonCode:   NoRelevantDocs,
			Suggestions:  suggestionsFor(NoRelevantDocs),
			ScoreStats:   stats,
			Reasoning:    "no retrieval results",
		}
	}

	statScore := statisticalScore(stats)
	thrScore := thresholdScore(stats, cfg)
	mlScore := mlFeatureScore(stats, cfg)

	algo := AlgorithmScores{Statistical: statScore, Threshold: thrScore, MLFeatures: mlScore}
	confidence := clamp01(e.weights.Statistical*statScore + e.weights.Threshold*thrScore + e.weights.MLFeatures*mlScore)

	isAnswerable := stats.Count >= cfg.MinResultCount &&
		confidence >= cfg.MinConfidence &&
		stats.Max >= cfg.MinTopScore &&
		stats.Mean >= cfg.MinMeanScore

	d := Decision{
		IsAnswerable:    isAnswerable,
		Confidence:      confidence,
		ScoreStats:      stats,
		AlgorithmScores: algo,
	}
	if isAnswerable {
		d.Reasoning = "answerable"
		return d
	}

	d.ReasonCode = reasonFor(stats, cfg, confidence)
	d.Suggestions = suggestionsFor(d.ReasonCode)
	d.Reasoning = "not answerable: " + string(d.ReasonCode)
	return d
}

func computeStats(results []Result) ScoreStats {
	n := len(results)
	if n == 0 {
		return ScoreStats{}
	}
	var sum, max, min float64
	min = math.MaxFloat64
	scores := make([]float64, n)
	for i, r := range results {
		s := clamp01(r.Score)
		scores[i] = s
		sum += s
		if s > max {
			max = s
		}
		if s < min {
			min = s
		}
	}
	mean := sum / float64(n)
	var variance float64
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}
	variance /= float64(n)
	return ScoreStats{Mean: mean, Max: max, Min: min, StdDev: math.Sqrt(variance), Count: n}
}

// statisticalScore blends normalized mean, max, and (1-stdDev) consistency.
// Weights are fixed at 0.4/0.4/0.2 and sum to 1, per the algorithm's intent
// of weighting central tendency over consistency.
func statisticalScore(stats ScoreStats) float64 {
	consistency := clamp01(1 - stats.StdDev)
	return clamp01(0.4*stats.Mean + 0.4*stats.Max + 0.2*consistency)
}

func thresholdScore(stats ScoreStats, cfg TenantConfig) float64 {
	if stats.Max >= cfg.MinTopScore && stats.Mean >= cfg.MinMeanScore && stats.Count >= cfg.MinResultCount {
		return 1
	}
	return 0
}

// mlFeatureScore blends lightweight, cheap-to-compute features: how many
// results came back (saturating at 10), how spread the scores are (tighter
// spread implies stronger agreement across sources), and an optional
// reranker confidence signal.
func mlFeatureScore(stats ScoreStats, cfg TenantConfig) float64 {
	countFeature := clamp01(float64(stats.Count) / 10)
	spread := stats.Max - stats.Min
	spreadFeature := clamp01(1 - spread)
	if cfg.RerankerConfidence > 0 {
		return clamp01(0.4*countFeature + 0.3*spreadFeature + 0.3*cfg.RerankerConfidence)
	}
	return clamp01(0.5*countFeature + 0.5*spreadFeature)
}

func reasonFor(stats ScoreStats, cfg TenantConfig, confidence float64) ReasonCode {
	if stats.Count == 0 {
		return NoRelevantDocs
	}
	if stats.Max < cfg.MinTopScore || stats.Mean < cfg.MinMeanScore {
		return PoorRetrieval
	}
	if confidence < cfg.MinConfidence {
		return LowConfidence
	}
	if stats.Count < cfg.MinResultCount {
		return ContextInsuff
	}
	return LowConfidence
}

func suggestionsFor(code ReasonCode) []string {
	switch code {
	case NoRelevantDocs:
		return []string{
			"Rephrase the question with more specific terms.",
			"Check that the relevant document has been ingested for this tenant.",
			"Broaden the query if it targets a narrow or recent topic.",
		}
	case LowConfidence:
		return []string{
			"Try a more specific question.",
			"Include key terms or document names that should appear in the source.",
			"Ask about one topic at a time rather than a compound question.",
		}
	case PoorRetrieval:
		return []string{
			"The retrieved passages scored too low to be trusted; try rewording the query.",
			"Check spelling of any proper nouns or identifiers in the question.",
		}
	case ContextInsuff:
		return []string{
			"Not enough supporting passages were found; try a broader question.",
			"Consider ingesting additional related documents.",
		}
	case OutOfScope:
		return []string{
			"This question appears to fall outside the ingested corpus.",
			"Confirm the topic is covered by this tenant's documents.",
		}
	case AmbiguousQuery:
		return []string{
			"The question could refer to multiple topics; please be more specific.",
			"Add context such as a document name, date, or section.",
		}
	default:
		return []string{"Try rephrasing the question."}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SortResultsDesc sorts results by score descending in place, matching the
// order callers should pass retrieval results in before evaluation.
func SortResultsDesc(results []Result) {
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}
