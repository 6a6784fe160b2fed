package vectordb

import "sort"

// VotesPerSide is how many of each side's top matches take part in a vote.
const VotesPerSide = 3

// BestMatch picks the drug with the highest mean similarity over the top
// perSide matches of every side. The returned Match carries that mean as
// its Similarity. Equal means resolve to the lower drug ID.
func BestMatch(sides [][]Match, perSide int) (Match, bool) {
	type tally struct {
		match Match
		sum   float64
		count int
	}

	votes := make(map[int]*tally)
	for _, matches := range sides {
		if perSide > 0 && len(matches) > perSide {
			matches = matches[:perSide]
		}
		for _, m := range matches {
			t, ok := votes[m.ID]
			if !ok {
				t = &tally{match: m}
				votes[m.ID] = t
			}
			t.sum += m.Similarity
			t.count++
		}
	}
	if len(votes) == 0 {
		return Match{}, false
	}

	ids := make([]int, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var best Match
	found := false
	for _, id := range ids {
		t := votes[id]
		avg := t.sum / float64(t.count)
		if !found || avg > best.Similarity {
			best = Match{ID: id, Name: t.match.Name, Variant: t.match.Variant, Similarity: avg}
			found = true
		}
	}
	return best, true
}
