package pipeline

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/shirabe/internal/claims"
	"github.com/ashita-ai/shirabe/internal/model"
)

// citeThreshold is the minimum query relevance for a claim to be cited in
// standard prompt mode. citation_first mode cites every claim.
const citeThreshold = 0.3

// tokensPerWord approximates generation tokens from word counts.
const tokensPerWord = 1.35

type draft struct {
	claims    []model.Claim
	evidence  []model.Evidence
	citations []model.Citation
	answer    string
	tokens    int
	warnings  []model.Warning
}

// bestSentence is the claim-sized sentence of p with the highest overlap
// with the query. Ties keep the earliest sentence.
func bestSentence(p passage, q []string) string {
	best, bestScore := "", -1.0
	for _, s := range claims.Split(p.text) {
		if score := claims.Overlap(q, claims.Terms(s)); score > bestScore {
			best, bestScore = s, score
		}
	}
	if best == "" {
		return p.text
	}
	return best
}

// generate turns selected passages into claims, evidence and an extractive
// answer. With budget priority "generation" every claim is written and
// overflowing the token ceiling is reported; with "retrieval" the answer
// stops at the ceiling and the dropped claims become warnings.
func generate(selected []passage, cfg model.RunConfig) draft {
	q := claims.Terms(cfg.Query)
	var d draft
	var sentences []string

	for i, p := range selected {
		claimID := fmt.Sprintf("c%d", i+1)
		evID := fmt.Sprintf("e%d", i+1)
		text := bestSentence(p, q)

		cost := int(float64(len(strings.Fields(text)))*tokensPerWord + 0.5)
		if cfg.BudgetPriority == model.BudgetPriorityRetrieval && d.tokens+cost > cfg.MaxGenerationTokens {
			d.warnings = append(d.warnings, model.Warning{
				Stage:   "generate",
				Code:    "CLAIM_DROPPED",
				Message: fmt.Sprintf("claim from %s/%s dropped to stay within %d tokens", p.docID, p.section, cfg.MaxGenerationTokens),
			})
			continue
		}
		d.tokens += cost

		d.evidence = append(d.evidence, model.Evidence{
			ID:      evID,
			ClaimID: claimID,
			Text:    p.text,
			Locator: model.Locator{DocumentID: p.docID, Section: p.section, SpanStart: p.start, SpanEnd: p.end},
		})

		cite := cfg.PromptMode == model.PromptModeCitationFirst || p.rel >= citeThreshold
		claim := model.Claim{ID: claimID, Text: text}
		if cite {
			claim.EvidenceIDs = []string{evID}
			d.citations = append(d.citations, model.Citation{ClaimID: claimID, EvidenceID: evID, DocumentID: p.docID})
			text = strings.TrimRight(text, " ") + fmt.Sprintf("[%d]", len(d.citations))
		}
		d.claims = append(d.claims, claim)
		sentences = append(sentences, text)
	}
	d.answer = strings.Join(sentences, " ")
	return d
}
