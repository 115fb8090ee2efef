package guardrail

import "testing"

func TestEvaluate_EmptyResultsIsIDK(t *testing.T) {
	e := New(nil, DefaultWeights())
	d := e.Evaluate("q", nil, UserContext{ID: "u", TenantID: "t", GroupIDs: []string{"g"}})
	if d.IsAnswerable {
		t.Fatalf("expected not answerable")
	}
	if d.Confidence != 0 {
		t.Fatalf("expected confidence 0, got %v", d.Confidence)
	}
	if d.ReasonCode != NoRelevantDocs {
		t.Fatalf("expected NO_RELEVANT_DOCS, got %v", d.ReasonCode)
	}
	if len(d.Suggestions) < 1 {
		t.Fatalf("expected at least one suggestion")
	}
}

func TestEvaluate_HighConfidenceAnswerable(t *testing.T) {
	e := New(nil, DefaultWeights())
	results := []Result{{Score: 0.80}, {Score: 0.85}, {Score: 0.82}}
	d := e.Evaluate("q", results, UserContext{ID: "u", TenantID: "default"})
	if !d.IsAnswerable {
		t.Fatalf("expected answerable, got %+v", d)
	}
	if d.Confidence <= 0.6 {
		t.Fatalf("expected confidence > 0.6, got %v", d.Confidence)
	}
	if d.ScoreStats.Mean < 0.82 || d.ScoreStats.Mean > 0.825 {
		t.Fatalf("expected mean ~0.823, got %v", d.ScoreStats.Mean)
	}
}

func TestEvaluate_DisabledIsAlwaysAnswerable(t *testing.T) {
	cfgs := ConfigMap{"t1": {Enabled: false}}
	e := New(cfgs, DefaultWeights())
	d := e.Evaluate("q", nil, UserContext{TenantID: "t1"})
	if !d.IsAnswerable || d.Confidence != 1 {
		t.Fatalf("expected disabled guardrail to be answerable with confidence 1, got %+v", d)
	}
}

func TestEvaluate_UnknownTenantFallsBackToDefault(t *testing.T) {
	e := New(DefaultConfigMap(), DefaultWeights())
	d := e.Evaluate("q", []Result{{Score: 0.9}}, UserContext{TenantID: "does-not-exist"})
	if !d.IsAnswerable {
		t.Fatalf("expected default config to allow a single high-score result")
	}
}

func TestEvaluate_PoorScoresYieldsReasonCode(t *testing.T) {
	cfgs := ConfigMap{"default": {Enabled: true, MinConfidence: 0.9, MinTopScore: 0.5, MinMeanScore: 0.5, MinResultCount: 1}}
	e := New(cfgs, DefaultWeights())
	d := e.Evaluate("q", []Result{{Score: 0.1}, {Score: 0.2}}, UserContext{TenantID: "default"})
	if d.IsAnswerable {
		t.Fatalf("expected not answerable with low scores")
	}
	if d.ReasonCode != PoorRetrieval {
		t.Fatalf("expected POOR_RETRIEVAL_SCORES, got %v", d.ReasonCode)
	}
}
