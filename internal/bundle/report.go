package bundle

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/shirabe/internal/model"
)

// RenderReport renders the human-readable report.md for a bundle.
func RenderReport(c Contents) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Survey run %s\n\n", c.Result.RunID)
	fmt.Fprintf(&b, "- Query: %s\n", c.Input.Input.Query)
	fmt.Fprintf(&b, "- Status: **%s**\n", c.Result.Status)
	fmt.Fprintf(&b, "- Gate passed: %t\n", c.Eval.GatePassed)
	fmt.Fprintf(&b, "- Attempts: %d\n", c.Result.Attempts)
	if c.Eval.StopReason != "" {
		fmt.Fprintf(&b, "- Stop reason: %s\n", c.Eval.StopReason)
	}

	b.WriteString("\n## Answer\n\n")
	if c.Result.Answer == "" {
		b.WriteString("_No answer was produced._\n")
	} else {
		b.WriteString(c.Result.Answer)
		b.WriteString("\n")
	}

	if len(c.Eval.FailReasons) > 0 {
		b.WriteString("\n## Fail reasons\n\n")
		for _, r := range c.Eval.FailReasons {
			fmt.Fprintf(&b, "- `%s`: %s\n", r.Code, r.Msg)
		}
	}

	m := c.Eval.Metrics
	b.WriteString("\n## Metrics\n\n")
	b.WriteString("| metric | value |\n|---|---|\n")
	fmt.Fprintf(&b, "| citations | %d |\n", m.CitationCount)
	fmt.Fprintf(&b, "| evidence | %d |\n", m.EvidenceCount)
	fmt.Fprintf(&b, "| evidence coverage | %.2f |\n", m.EvidenceCoverage)
	fmt.Fprintf(&b, "| mean evidence strength | %.2f |\n", m.MeanEvidenceStrength)
	fmt.Fprintf(&b, "| provenance rate | %.2f |\n", m.ProvenanceRate)
	fmt.Fprintf(&b, "| sources fetched | %d / %d |\n", m.FetchedSourceCount, m.SourceCount)
	fmt.Fprintf(&b, "| warnings | %d |\n", m.WarningCount)

	if len(c.Eval.Remediations) > 0 {
		b.WriteString("\n## Remediations\n\n")
		for i, r := range c.Eval.Remediations {
			fmt.Fprintf(&b, "%d. `%s` (rule %d): %s\n", i+1, r.ActionID, r.Rule, r.Message)
		}
	}

	if len(c.Result.Citations) > 0 {
		b.WriteString("\n## Citations\n\n")
		ev := make(map[string]model.Evidence, len(c.Evidence))
		for _, e := range c.Evidence {
			ev[e.ID] = e
		}
		for i, cit := range c.Result.Citations {
			loc := ev[cit.EvidenceID].Locator
			fmt.Fprintf(&b, "[%d] %s %s\n", i+1, cit.DocumentID, locatorString(loc))
		}
	}

	if len(c.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range c.Warnings {
			fmt.Fprintf(&b, "- %s/%s: %s\n", w.Stage, w.Code, w.Message)
		}
	}
	return b.String()
}

func locatorString(l model.Locator) string {
	var parts []string
	if l.Section != "" {
		parts = append(parts, "section "+l.Section)
	}
	if l.Page > 0 {
		parts = append(parts, fmt.Sprintf("p. %d", l.Page))
	}
	if l.SpanEnd > l.SpanStart {
		parts = append(parts, fmt.Sprintf("chars %d-%d", l.SpanStart, l.SpanEnd))
	}
	if len(parts) == 0 {
		return "(no locator)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
