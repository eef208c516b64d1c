package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shirabe/internal/model"
)

func passingArtifacts() model.Artifacts {
	return model.Artifacts{
		Answer:  "Hybrid retrieval improves recall on long survey queries.[1]",
		Sources: []model.SourceDocument{{ID: "doc-1", Adapter: model.AdapterLocalCache, Fetched: true, ByteCount: 512}},
		Claims: []model.Claim{{
			ID:          "c1",
			Text:        "Hybrid retrieval improves recall on long survey queries by 12 percent.",
			EvidenceIDs: []string{"e1"},
		}},
		Evidence: []model.Evidence{{
			ID:      "e1",
			ClaimID: "c1",
			Text:    "In the 2023 benchmark, hybrid retrieval improves recall on long survey queries by 12 percent over dense retrieval alone.",
			Locator: model.Locator{DocumentID: "doc-1", Section: "results"},
		}},
		Citations:      []model.Citation{{ClaimID: "c1", EvidenceID: "e1", DocumentID: "doc-1"}},
		IndexAvailable: true,
	}
}

func TestVerify_Pass(t *testing.T) {
	v := Verifier{}
	got := v.Verify(passingArtifacts())

	assert.True(t, got.GatePassed)
	assert.Empty(t, got.Codes)
	assert.Empty(t, got.Reasons)
	assert.Equal(t, 1, got.Metrics.CitationCount)
	assert.Equal(t, 1, got.Metrics.FetchedSourceCount)
	assert.InDelta(t, 1.0, got.Metrics.EvidenceCoverage, 1e-9)
	assert.InDelta(t, 1.0, got.Metrics.ProvenanceRate, 1e-9)
	assert.InDelta(t, 0.9, got.Metrics.MeanEvidenceStrength, 1e-9)
	assert.Equal(t, DefaultStrengthThreshold, got.Metrics.StrengthThreshold)
	assert.Equal(t, 4, got.Metrics.PassingMetrics())
}

func TestVerify_SingleFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *model.Artifacts)
		want   model.FailReasonCode
	}{
		{
			name:   "no citations",
			mutate: func(a *model.Artifacts) { a.Citations = nil },
			want:   model.CodeCitationMissing,
		},
		{
			name:   "weak evidence",
			mutate: func(a *model.Artifacts) { a.Evidence[0].Text = "See table." },
			want:   model.CodeEvidenceWeak,
		},
		{
			name:   "locator without position",
			mutate: func(a *model.Artifacts) { a.Evidence[0].Locator = model.Locator{DocumentID: "doc-1"} },
			want:   model.CodeLocatorMissing,
		},
		{
			name:   "locator without document",
			mutate: func(a *model.Artifacts) { a.Evidence[0].Locator = model.Locator{Page: 4} },
			want:   model.CodeLocatorMissing,
		},
		{
			name: "citation to unknown evidence",
			mutate: func(a *model.Artifacts) {
				a.Citations = []model.Citation{{ClaimID: "c1", EvidenceID: "e9", DocumentID: "doc-1"}}
			},
			want: model.CodeLocatorMissing,
		},
		{
			name:   "unguarded absolute in answer",
			mutate: func(a *model.Artifacts) { a.Answer = "Hybrid retrieval always beats dense retrieval on every corpus." },
			want:   model.CodeAssertionDanger,
		},
		{
			name: "unsupported absolute claim",
			mutate: func(a *model.Artifacts) {
				a.Claims = append(a.Claims, model.Claim{ID: "c2", Text: "This ranking method is guaranteed to surface every relevant paper."})
			},
			want: model.CodeAssertionDanger,
		},
		{
			name:   "email in answer",
			mutate: func(a *model.Artifacts) { a.Answer += " Contact jane.doe@example.org for the dataset." },
			want:   model.CodePIIDetected,
		},
		{
			name:   "ssn in evidence",
			mutate: func(a *model.Artifacts) { a.Evidence[0].Text += " Participant 123-45-6789 withdrew." },
			want:   model.CodePIIDetected,
		},
		{
			name: "fetch failure",
			mutate: func(a *model.Artifacts) {
				a.FetchFailures = []model.FetchFailure{{DocumentID: "doc-2", Adapter: model.AdapterLocalCache, Error: "not found"}}
			},
			want: model.CodeFetchFail,
		},
		{
			name:   "no index",
			mutate: func(a *model.Artifacts) { a.IndexAvailable = false },
			want:   model.CodeIndexMissing,
		},
		{
			name:   "tool calls over ceiling",
			mutate: func(a *model.Artifacts) { a.Usage = model.ResourceUsage{ToolCalls: 9, ToolCallCeiling: 8} },
			want:   model.CodeBudgetExceeded,
		},
		{
			name:   "tokens over ceiling",
			mutate: func(a *model.Artifacts) { a.Usage = model.ResourceUsage{GenerationTokens: 5000, TokenCeiling: 4096} },
			want:   model.CodeBudgetExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := passingArtifacts()
			tt.mutate(&a)
			got := Verifier{}.Verify(a)
			assert.False(t, got.GatePassed)
			assert.Equal(t, []model.FailReasonCode{tt.want}, got.Codes)
			require.Len(t, got.Reasons, 1)
			assert.Equal(t, tt.want, got.Reasons[0].Code)
			assert.NotEmpty(t, got.Reasons[0].Msg)
		})
	}
}

func TestVerify_GuardedAbsolutesPass(t *testing.T) {
	tests := []string{
		"Hybrid retrieval likely never hurts recall on long queries.",
		"Hybrid retrieval always beats dense retrieval on this corpus.[1]",
		"The results suggest reranking definitely helps on short queries.",
	}
	for _, answer := range tests {
		a := passingArtifacts()
		a.Answer = answer
		got := Verifier{}.Verify(a)
		assert.True(t, got.GatePassed, "answer %q: %v", answer, got.Codes)
	}
}

func TestVerify_CodesInVocabularyOrder(t *testing.T) {
	a := passingArtifacts()
	a.Citations = nil
	a.Answer = "Write to jane.doe@example.org."
	a.FetchFailures = []model.FetchFailure{{DocumentID: "doc-2", Adapter: model.AdapterPrimaryOA, Error: "timeout"}}
	a.IndexAvailable = false
	a.Usage = model.ResourceUsage{ToolCalls: 5, ToolCallCeiling: 3}

	got := Verifier{}.Verify(a)
	assert.Equal(t, []model.FailReasonCode{
		model.CodeCitationMissing,
		model.CodePIIDetected,
		model.CodeFetchFail,
		model.CodeIndexMissing,
		model.CodeBudgetExceeded,
	}, got.Codes)
	for _, c := range got.Codes {
		assert.True(t, c.IsGateCode())
	}
}

func TestVerify_Stateless(t *testing.T) {
	v := Verifier{StrengthThreshold: 0.5}
	bad := passingArtifacts()
	bad.Citations = nil

	first := v.Verify(bad)
	_ = v.Verify(passingArtifacts())
	second := v.Verify(bad)
	assert.Equal(t, first, second)
}

func TestVerify_CustomThreshold(t *testing.T) {
	got := Verifier{StrengthThreshold: 0.95}.Verify(passingArtifacts())
	assert.Equal(t, []model.FailReasonCode{model.CodeEvidenceWeak}, got.Codes)
	assert.Equal(t, 3, got.Metrics.PassingMetrics())
}

func TestEvidenceStrength(t *testing.T) {
	claim := "Hybrid retrieval improves recall on long survey queries."
	long := "Across four corpora, hybrid retrieval improves recall on long survey queries, " +
		"with the largest gains on multi-hop questions where lexical matching alone misses paraphrased terms. " +
		"Dense-only systems lag behind by 9 points on average."

	tests := []struct {
		name     string
		claim    string
		evidence string
		min, max float64
	}{
		{"empty", "", "", 0, 0},
		{"short unrelated", claim, "See table.", 0, 0},
		{"medium unrelated", claim, "The appendix lists every configuration that was evaluated.", 0.15, 0.15},
		{"long on-topic with numbers", claim, long, 0.99, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvidenceStrength(tt.claim, tt.evidence)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestPIIKind(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"reach me at a.b@lab.example.com", "email"},
		{"SSN 123-45-6789 on file", "ssn"},
		{"call 555-867-5309 tomorrow", "phone"},
		{"card 4111 1111 1111 1111 expires soon", "card_number"},
		{"card 4111 1111 1111 1112 is not valid", ""},
		{"recall rose from 61.2 to 73.4 percent in 2023", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PIIKind(tt.text), tt.text)
	}
}
