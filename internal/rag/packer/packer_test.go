package packer

import "testing"

func TestPack_RespectsTokenBudget(t *testing.T) {
	cands := []Candidate{
		{ID: "a", DocID: "d1", SectionPath: "s1", TokenCount: 4000, FusionScore: 0.9},
		{ID: "b", DocID: "d1", SectionPath: "s2", TokenCount: 4000, FusionScore: 0.8},
		{ID: "c", DocID: "d1", SectionPath: "s3", TokenCount: 4000, FusionScore: 0.7},
	}
	res := Pack("q", cands, Options{TokenBudget: 8000, PerDocCap: 10, PerSectionCap: 10})
	if res.TotalToken > 8000 {
		t.Fatalf("expected total tokens <= budget, got %d", res.TotalToken)
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("expected 2 chunks to fit in budget, got %d", len(res.Chunks))
	}
}

func TestPack_PerDocCap(t *testing.T) {
	cands := []Candidate{
		{ID: "a", DocID: "d1", SectionPath: "s1", TokenCount: 10, FusionScore: 0.9},
		{ID: "b", DocID: "d1", SectionPath: "s2", TokenCount: 10, FusionScore: 0.8},
		{ID: "c", DocID: "d1", SectionPath: "s3", TokenCount: 10, FusionScore: 0.7},
	}
	res := Pack("q", cands, Options{TokenBudget: 8000, PerDocCap: 2, PerSectionCap: 10})
	if len(res.Chunks) != 2 {
		t.Fatalf("expected per-doc cap of 2 to apply, got %d chunks", len(res.Chunks))
	}
}

func TestPack_PerSectionCap(t *testing.T) {
	cands := []Candidate{
		{ID: "a", DocID: "d1", SectionPath: "s1", TokenCount: 10, FusionScore: 0.9},
		{ID: "b", DocID: "d2", SectionPath: "s1", TokenCount: 10, FusionScore: 0.8},
		{ID: "c", DocID: "d3", SectionPath: "s1", TokenCount: 10, FusionScore: 0.7},
	}
	res := Pack("q", cands, Options{TokenBudget: 8000, PerDocCap: 10, PerSectionCap: 2})
	if len(res.Chunks) != 2 {
		t.Fatalf("expected per-section cap of 2 to apply, got %d chunks", len(res.Chunks))
	}
}

func TestPack_SectionReunionSwapsInHeaderAndNeighbors(t *testing.T) {
	cands := []Candidate{
		// Selected first: represents section "s1" in the packed result.
		{ID: "a", DocID: "d1", SectionPath: "s1", OrderIndex: 0, TokenCount: 40, FusionScore: 10},
		// Too large to fit in the remaining 60-token budget on its own, so it
		// should be replaced by its header plus nearby neighbors instead.
		{ID: "big", DocID: "d2", SectionPath: "s1", OrderIndex: 5, TokenCount: 80, FusionScore: 9, Header: "Section One"},
		// Adjacent, small, same section: eligible reunion neighbors.
		{ID: "n1", DocID: "d2", SectionPath: "s1", OrderIndex: 4, TokenCount: 10, FusionScore: 1},
		{ID: "n2", DocID: "d2", SectionPath: "s1", OrderIndex: 6, TokenCount: 10, FusionScore: 1},
	}
	res := Pack("q", cands, Options{TokenBudget: 100, PerDocCap: 10, PerSectionCap: 10, SectionReunify: true})

	if len(res.Trace.SectionReunions) != 2 {
		t.Fatalf("expected 2 chunks reunified, got %d (%v)", len(res.Trace.SectionReunions), res.Trace.SectionReunions)
	}
	got := map[string]bool{}
	for _, c := range res.Chunks {
		got[c.ID] = true
	}
	if got["big"] {
		t.Fatalf("expected oversized candidate itself to be swapped out, got: %v", res.Chunks)
	}
	if !got["n1"] || !got["n2"] {
		t.Fatalf("expected both adjacent neighbors to be reunified in, got: %v", res.Chunks)
	}
	if res.Trace.DroppedReasons["big"] != "reunified_via_section_neighbors" {
		t.Fatalf("expected reunion drop reason recorded for big, got %q", res.Trace.DroppedReasons["big"])
	}
	if res.TotalToken > 100 {
		t.Fatalf("expected total tokens <= budget, got %d", res.TotalToken)
	}
}

func TestPack_NoveltyFilterSkipsNearDuplicate(t *testing.T) {
	cands := []Candidate{
		{ID: "a", DocID: "d1", SectionPath: "s1", TokenCount: 10, FusionScore: 0.9, Vector: []float32{1, 0}},
		{ID: "b", DocID: "d2", SectionPath: "s2", TokenCount: 10, FusionScore: 0.8, Vector: []float32{1, 0}},
	}
	res := Pack("q", cands, Options{TokenBudget: 8000, PerDocCap: 10, PerSectionCap: 10, NoveltyAlpha: 1.5})
	if len(res.Chunks) != 1 {
		t.Fatalf("expected exact duplicate vector to be filtered by novelty, got %d chunks", len(res.Chunks))
	}
}
