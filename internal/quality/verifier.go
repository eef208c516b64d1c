package quality

import (
	"fmt"

	"github.com/ashita-ai/shirabe/internal/claims"
	"github.com/ashita-ai/shirabe/internal/model"
)

// Verifier decides whether one attempt's artifacts pass the quality gate.
// The zero value uses DefaultStrengthThreshold.
type Verifier struct {
	StrengthThreshold float64
}

// Verdict is the gate outcome for one attempt.
type Verdict struct {
	GatePassed bool
	Codes      []model.FailReasonCode
	// Reasons carries one entry per code with a message specific to this
	// attempt's artifacts.
	Reasons []model.FailReason
	Metrics model.QualityMetrics
}

func (v Verifier) threshold() float64 {
	if v.StrengthThreshold <= 0 {
		return DefaultStrengthThreshold
	}
	return v.StrengthThreshold
}

// Verify runs every gate check against a and returns the verdict. Codes are
// deduplicated and ordered as model.GateCodes.
func (v Verifier) Verify(a model.Artifacts) Verdict {
	threshold := v.threshold()
	evidence := a.EvidenceByID()
	claimsByID := a.ClaimByID()
	found := make(map[model.FailReasonCode]string)

	m := model.QualityMetrics{
		CitationCount:     len(a.Citations),
		EvidenceCount:     len(a.Evidence),
		WarningCount:      len(a.Warnings),
		SourceCount:       len(a.Sources),
		StrengthThreshold: threshold,
	}
	for _, s := range a.Sources {
		if s.Fetched {
			m.FetchedSourceCount++
		}
	}

	// Citations: strength, locators, provenance.
	var (
		resolved    int
		weak        int
		noLocator   int
		withLocator int
		strengthSum float64
		supported   = make(map[string]bool)
	)
	for _, c := range a.Citations {
		ev, ok := evidence[c.EvidenceID]
		if !ok {
			noLocator++
			continue
		}
		resolved++
		claimID := c.ClaimID
		if claimID == "" {
			claimID = ev.ClaimID
		}
		s := EvidenceStrength(claimsByID[claimID].Text, ev.Text)
		strengthSum += s
		if s < threshold {
			weak++
		}
		if ev.Locator.Valid() {
			withLocator++
			supported[claimID] = true
		} else {
			noLocator++
		}
	}
	for _, ev := range a.Evidence {
		if !ev.Locator.Valid() && !citedEvidence(a.Citations, ev.ID) {
			noLocator++
		}
	}
	if resolved > 0 {
		m.MeanEvidenceStrength = strengthSum / float64(resolved)
	}
	if len(a.Citations) > 0 {
		m.ProvenanceRate = float64(withLocator) / float64(len(a.Citations))
	}
	if len(a.Claims) > 0 {
		covered := 0
		for _, c := range a.Claims {
			if supported[c.ID] {
				covered++
			}
		}
		m.EvidenceCoverage = float64(covered) / float64(len(a.Claims))
	}

	if len(a.Citations) == 0 {
		found[model.CodeCitationMissing] = "answer carries no citations"
	}
	if weak > 0 {
		found[model.CodeEvidenceWeak] = fmt.Sprintf("%d of %d cited passages below strength %.2f", weak, resolved, threshold)
	}
	if noLocator > 0 {
		found[model.CodeLocatorMissing] = fmt.Sprintf("%d evidence references lack a document locator", noLocator)
	}

	// Assertions: claims need evidence, answer sentences need a marker.
	for _, c := range a.Claims {
		if isUnguardedAbsolute(c.Text) && len(c.EvidenceIDs) == 0 {
			found[model.CodeAssertionDanger] = fmt.Sprintf("claim %s asserts an absolute without evidence", c.ID)
			break
		}
	}
	if _, ok := found[model.CodeAssertionDanger]; !ok {
		for _, s := range claims.Sentences(a.Answer) {
			if isUnguardedAbsolute(s) && !hasCitationMarker(s) {
				found[model.CodeAssertionDanger] = fmt.Sprintf("answer asserts an absolute without a citation: %q", truncate(s, 80))
				break
			}
		}
	}

	if kind, where := scanPII(a); kind != "" {
		found[model.CodePIIDetected] = fmt.Sprintf("%s found in %s", kind, where)
	}

	if n := len(a.FetchFailures); n > 0 {
		found[model.CodeFetchFail] = fmt.Sprintf("%d of %d documents failed to fetch", n, len(a.Sources))
	}
	if !a.IndexAvailable {
		found[model.CodeIndexMissing] = "no retrieval index was built"
	}
	if a.Usage.Exceeded() {
		found[model.CodeBudgetExceeded] = fmt.Sprintf("usage tool_calls=%d/%d tokens=%d/%d",
			a.Usage.ToolCalls, a.Usage.ToolCallCeiling, a.Usage.GenerationTokens, a.Usage.TokenCeiling)
	}

	out := Verdict{Metrics: m}
	for _, code := range model.GateCodes {
		if msg, ok := found[code]; ok {
			out.Codes = append(out.Codes, code)
			out.Reasons = append(out.Reasons, model.FailReason{Code: code, Msg: msg})
		}
	}
	out.GatePassed = len(out.Codes) == 0
	return out
}

func citedEvidence(cs []model.Citation, id string) bool {
	for _, c := range cs {
		if c.EvidenceID == id {
			return true
		}
	}
	return false
}

func scanPII(a model.Artifacts) (kind, where string) {
	if k := PIIKind(a.Answer); k != "" {
		return k, "answer"
	}
	for _, c := range a.Claims {
		if k := PIIKind(c.Text); k != "" {
			return k, "claim " + c.ID
		}
	}
	for _, e := range a.Evidence {
		if k := PIIKind(e.Text); k != "" {
			return k, "evidence " + e.ID
		}
	}
	return "", ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
