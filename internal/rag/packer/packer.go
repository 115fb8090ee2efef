// Package packer implements the context packer: it selects a token-bounded,
// deduplicated subset of retrieved chunks to hand to the synthesis
// orchestrator, honoring per-document and per-section caps, a novelty filter
// against already-selected chunks, and an answerability bonus for chunks
// that look like a direct answer to the query.
package packer

import (
	"math"
	"sort"
	"strings"
)

// Candidate is one retrieved chunk eligible for packing.
type Candidate struct {
	ID          string
	DocID       string
	SectionPath string
	OrderIndex  int // position of the chunk within its document, for reunion proximity
	Text        string
	TokenCount  int
	FusionScore float64
	Vector      []float32 // optional; used for the novelty cosine-similarity filter
	Header      string    // section header text, used by reunification
}

// Options bounds the packing decision.
type Options struct {
	TokenBudget        int
	PerDocCap          int
	PerSectionCap      int
	NoveltyAlpha       float64
	AnswerabilityBonus float64
	SectionReunify     bool
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{
		TokenBudget:        8000,
		PerDocCap:          2,
		PerSectionCap:      2,
		NoveltyAlpha:       0.5,
		AnswerabilityBonus: 0.15,
		SectionReunify:     true,
	}
}

// Trace records why each candidate was selected, capped, or dropped.
type Trace struct {
	SelectedIDs     []string
	TokenCounts     map[string]int
	Scores          map[string]float64
	CapsApplied     map[string]string // id -> "doc" | "section"
	NoveltyScores   map[string]float64
	DroppedReasons  map[string]string
	SectionReunions []string
}

// Result is the packed context ready for prompt assembly.
type Result struct {
	Chunks     []Candidate
	TotalToken int
	Truncated  bool
	Trace      Trace
}

// Pack selects candidates under the configured budget and caps.
func Pack(query string, candidates []Candidate, opt Options) Result {
	if opt.TokenBudget <= 0 {
		opt = DefaultOptions()
	}

	trace := Trace{
		TokenCounts:    map[string]int{},
		Scores:         map[string]float64{},
		CapsApplied:    map[string]string{},
		NoveltyScores:  map[string]float64{},
		DroppedReasons: map[string]string{},
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	for _, c := range ordered {
		boosted := c.FusionScore
		if isDirectAnswer(query, c.Text) {
			boosted += opt.AnswerabilityBonus
		}
		trace.Scores[c.ID] = boosted
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return trace.Scores[ordered[i].ID] > trace.Scores[ordered[j].ID]
	})

	var selected []Candidate
	docCounts := map[string]int{}
	sectionCounts := map[string]int{}
	consumed := map[string]bool{} // IDs already placed via reunion, skip on their own turn
	totalTokens := 0

	for _, c := range ordered {
		if consumed[c.ID] {
			continue
		}
		if opt.PerDocCap > 0 && docCounts[c.DocID] >= opt.PerDocCap {
			trace.DroppedReasons[c.ID] = "per_doc_cap"
			trace.CapsApplied[c.ID] = "doc"
			continue
		}
		if opt.PerSectionCap > 0 && sectionCounts[c.SectionPath] >= opt.PerSectionCap {
			trace.DroppedReasons[c.ID] = "per_section_cap"
			trace.CapsApplied[c.ID] = "section"
			continue
		}
		if totalTokens+c.TokenCount > opt.TokenBudget {
			if opt.SectionReunify && trySectionReunion(&selected, &totalTokens, docCounts, sectionCounts, consumed, c, ordered, opt, &trace) {
				continue
			}
			trace.DroppedReasons[c.ID] = "budget_exceeded"
			continue
		}

		novelty := noveltyScore(c, selected, opt.NoveltyAlpha)
		trace.NoveltyScores[c.ID] = novelty
		if novelty < 0 {
			trace.DroppedReasons[c.ID] = "novelty_filtered"
			continue
		}

		selected = append(selected, c)
		trace.SelectedIDs = append(trace.SelectedIDs, c.ID)
		trace.TokenCounts[c.ID] = c.TokenCount
		totalTokens += c.TokenCount
		docCounts[c.DocID]++
		sectionCounts[c.SectionPath]++
	}

	return Result{
		Chunks:     selected,
		TotalToken: totalTokens,
		Truncated:  totalTokens >= opt.TokenBudget,
		Trace:      trace,
	}
}

// noveltyScore computes 1 - alpha * max cosine-similarity against already
// selected chunks. Chunks without vectors are always considered maximally
// novel (novelty 1), since similarity cannot be computed.
func noveltyScore(c Candidate, selected []Candidate, alpha float64) float64 {
	if len(c.Vector) == 0 || len(selected) == 0 {
		return 1
	}
	maxSim := 0.0
	for _, s := range selected {
		if len(s.Vector) == 0 {
			continue
		}
		sim := cosineSimilarity(c.Vector, s.Vector)
		if sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - alpha*maxSim
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// isDirectAnswer is a cheap lexical heuristic: a chunk "directly answers"
// the query when it shares a meaningful fraction of the query's significant
// words. It is not a substitute for a real relevance model, only a tie-break
// boost for the packer's selection order.
func isDirectAnswer(query, text string) bool {
	qw := significantWords(query)
	if len(qw) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, w := range qw {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits)/float64(len(qw)) >= 0.6
}

func significantWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if len(f) > 3 {
			out = append(out, f)
		}
	}
	return out
}

// trySectionReunion swaps in the candidate's header plus up to two adjacent
// chunks (by OrderIndex proximity) from the same section, in place of the
// candidate itself, when the candidate cannot fit but its section is already
// represented in the selection. The candidate's own (too-large) text is never
// added; only the lightweight header (as a Candidate with ID "<id>#header",
// when Header is set) plus nearby already-present-sized chunks are. Returns
// true if a reunion bundle was committed.
func trySectionReunion(selected *[]Candidate, totalTokens *int, docCounts, sectionCounts map[string]int, consumed map[string]bool, c Candidate, pool []Candidate, opt Options, trace *Trace) bool {
	represented := false
	for _, s := range *selected {
		if s.SectionPath == c.SectionPath {
			represented = true
			break
		}
	}
	if !represented {
		return false
	}

	already := make(map[string]bool, len(*selected))
	for _, s := range *selected {
		already[s.ID] = true
	}
	neighbors := adjacentNeighbors(c, pool, already, 2)
	if len(neighbors) == 0 {
		return false
	}

	headerTokens := approxTokenCount(c.Header)
	bundleTokens := headerTokens
	for _, n := range neighbors {
		bundleTokens += n.TokenCount
	}

	remaining := opt.TokenBudget - *totalTokens
	if bundleTokens > remaining {
		return false
	}

	if c.Header != "" {
		hid := c.ID + "#header"
		*selected = append(*selected, Candidate{ID: hid, DocID: c.DocID, SectionPath: c.SectionPath, OrderIndex: c.OrderIndex, Text: c.Header, TokenCount: headerTokens})
		trace.SelectedIDs = append(trace.SelectedIDs, hid)
		trace.TokenCounts[hid] = headerTokens
	}
	for _, n := range neighbors {
		*selected = append(*selected, n)
		trace.SelectedIDs = append(trace.SelectedIDs, n.ID)
		trace.TokenCounts[n.ID] = n.TokenCount
		trace.SectionReunions = append(trace.SectionReunions, n.ID)
		docCounts[n.DocID]++
		sectionCounts[n.SectionPath]++
		consumed[n.ID] = true
	}
	trace.DroppedReasons[c.ID] = "reunified_via_section_neighbors"
	*totalTokens += bundleTokens
	return true
}

// adjacentNeighbors returns up to maxAdjacent chunks from c's section, not
// already selected, ordered by closest OrderIndex proximity to c.
func adjacentNeighbors(c Candidate, pool []Candidate, already map[string]bool, maxAdjacent int) []Candidate {
	type scored struct {
		cand Candidate
		dist int
	}
	var neighbors []scored
	for _, p := range pool {
		if p.ID == c.ID || p.SectionPath != c.SectionPath || already[p.ID] {
			continue
		}
		d := p.OrderIndex - c.OrderIndex
		if d < 0 {
			d = -d
		}
		neighbors = append(neighbors, scored{p, d})
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].dist < neighbors[j].dist })

	out := make([]Candidate, 0, maxAdjacent)
	for i := 0; i < len(neighbors) && i < maxAdjacent; i++ {
		out = append(out, neighbors[i].cand)
	}
	return out
}

// approxTokenCount estimates token count for short header strings using the
// same 4-chars/token heuristic used for metrics-only estimates elsewhere.
func approxTokenCount(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
