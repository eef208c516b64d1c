package pipeline

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ashita-ai/shirabe/internal/claims"
	"github.com/ashita-ai/shirabe/internal/model"
)

// minPassageLen drops headings and stray lines from the index.
const minPassageLen = 40

// passage is one indexed paragraph of a source document.
type passage struct {
	docID   string
	section string
	text    string
	start   int
	end     int
	terms   []string
	rel     float64
	// pos is the passage's index in the score records.
	pos int
}

// buildIndex splits documents into paragraph passages. A markdown heading
// names the section for the paragraphs under it; otherwise sections are
// numbered p1, p2, ... per document. Spans are byte offsets into the
// document text.
func buildIndex(docs []document) []passage {
	var out []passage
	for _, d := range docs {
		section := ""
		n := 0
		offset := 0
		for _, block := range strings.Split(d.text, "\n\n") {
			start := offset
			offset += len(block) + 2
			trimmed := strings.TrimSpace(block)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, "#") && !strings.Contains(trimmed, "\n") {
				section = strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
				continue
			}
			n++
			if len(trimmed) < minPassageLen {
				continue
			}
			lead := strings.Index(block, trimmed)
			name := section
			if name == "" {
				name = "p" + strconv.Itoa(n)
			}
			out = append(out, passage{
				docID:   d.meta.ID,
				section: name,
				text:    strings.Join(strings.Fields(trimmed), " "),
				start:   start + lead,
				end:     start + lead + len(trimmed),
				terms:   claims.Terms(trimmed),
			})
		}
	}
	return out
}

// rank scores every passage against the query, keeps the topK most relevant
// as candidates, then picks up to topK with maximal marginal relevance:
// lambda * relevance - (1-lambda) * max similarity to already picked. Higher
// lambda favors relevance over novelty. Ties break on document then span so
// the ranking is deterministic.
func rank(index []passage, query string, topK int, lambda float64) (selected []passage, scores []model.ScoreRecord) {
	q := claims.Terms(query)
	cands := make([]passage, 0, len(index))
	for _, p := range index {
		p.rel = claims.Overlap(q, p.terms)
		if p.rel > 0 {
			cands = append(cands, p)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].rel != cands[j].rel {
			return cands[i].rel > cands[j].rel
		}
		if cands[i].docID != cands[j].docID {
			return cands[i].docID < cands[j].docID
		}
		return cands[i].start < cands[j].start
	})
	if len(cands) > topK {
		cands = cands[:topK]
	}
	for i := range cands {
		cands[i].pos = i
	}

	picked := make([]bool, len(cands))
	for len(selected) < len(cands) {
		best, bestScore := -1, 0.0
		for i, c := range cands {
			if picked[i] {
				continue
			}
			sim := 0.0
			for _, s := range selected {
				sim = max(sim, claims.Jaccard(c.terms, s.terms))
			}
			score := lambda*c.rel - (1-lambda)*sim
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 || bestScore <= 0 {
			break
		}
		picked[best] = true
		selected = append(selected, cands[best])
	}

	for i, c := range cands {
		scores = append(scores, model.ScoreRecord{
			DocumentID: c.docID,
			Score:      math.Round(c.rel*1000) / 1000,
			Rank:       i + 1,
			Selected:   picked[i],
		})
	}
	return selected, scores
}
