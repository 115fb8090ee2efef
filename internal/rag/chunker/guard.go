package chunker

import "strings"

// GuardOptions bounds acceptable chunk sizes and duplicate tolerance.
type GuardOptions struct {
	MinContentLength int
	MaxContentLength int
	// JaccardThreshold is the whitespace-tokenized similarity above which a
	// later chunk is treated as a near-duplicate of an earlier one.
	JaccardThreshold float64
}

// DefaultGuardOptions matches the ingestion guard defaults.
func DefaultGuardOptions() GuardOptions {
	return GuardOptions{MinContentLength: 10, MaxContentLength: 10000, JaccardThreshold: 0.8}
}

// ApplyGuard filters chunks that are too short, too long, or near-duplicates
// of an earlier chunk (first occurrence wins). It returns the surviving
// chunks, re-indexed, plus warnings describing what was dropped.
func ApplyGuard(chunks []Chunk, opt GuardOptions) ([]Chunk, []string) {
	if opt.MinContentLength <= 0 {
		opt.MinContentLength = 10
	}
	if opt.MaxContentLength <= 0 {
		opt.MaxContentLength = 10000
	}
	if opt.JaccardThreshold <= 0 {
		opt.JaccardThreshold = 0.8
	}

	var kept []Chunk
	var warnings []string
	var keptSets []map[string]struct{}

	for _, c := range chunks {
		trimmed := strings.TrimSpace(c.Text)
		n := len(trimmed)
		if n < opt.MinContentLength {
			warnings = append(warnings, "dropped chunk below minContentLength")
			continue
		}
		if n > opt.MaxContentLength {
			warnings = append(warnings, "dropped chunk above maxContentLength")
			continue
		}

		set := tokenSet(trimmed)
		duplicate := false
		for _, ks := range keptSets {
			if jaccard(set, ks) >= opt.JaccardThreshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			warnings = append(warnings, "dropped near-duplicate chunk")
			continue
		}

		kept = append(kept, Chunk{Index: len(kept), Text: trimmed, IsTable: c.IsTable})
		keptSets = append(keptSets, set)
	}
	return kept, warnings
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(text)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
