package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shirabe/internal/attempt"
	"github.com/ashita-ai/shirabe/internal/model"
	"github.com/ashita-ai/shirabe/internal/quality"
	"github.com/ashita-ai/shirabe/internal/testutil"
)

const studyDoc = `# Hybrid retrieval study

## Results

Hybrid retrieval improved recall by 12 percent on long survey queries compared with dense retrieval alone.

## Limitations

Latency grew with the candidate pool size in every configuration we measured.
`

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

func request(cfg model.RunConfig, ids ...string) attempt.Request {
	return attempt.Request{
		RunID:        uuid.New(),
		AttemptIndex: 1,
		Input:        model.Input{Query: cfg.Query, DocumentIDs: ids},
		Config:       cfg,
		Budget:       attempt.NewToolBudget(cfg.ToolCallCeiling),
	}
}

func TestRunAttempt_PassesGate(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{"local_cache/doc-1.txt": studyDoc})
	r := New(testutil.TestLogger(), Config{CorpusDir: corpus, Workers: 2})

	out, err := r.RunAttempt(context.Background(), request(model.DefaultRunConfig("hybrid retrieval recall"), "doc-1"))
	require.NoError(t, err)

	a := out.Artifacts
	require.Len(t, a.Claims, 1)
	require.Len(t, a.Citations, 1)
	assert.True(t, a.IndexAvailable)
	assert.Equal(t, "results", a.Evidence[0].Locator.Section)
	assert.Equal(t, a.Evidence[0].Text, studyDoc[a.Evidence[0].Locator.SpanStart:a.Evidence[0].Locator.SpanEnd])
	assert.True(t, strings.HasSuffix(a.Answer, "[1]"))
	assert.Equal(t, "c1", a.Scores[0].ClaimID)
	assert.True(t, a.Scores[0].Selected)
	assert.Equal(t, "Hybrid retrieval study", a.Sources[0].Title)
	assert.InDelta(t, 1.0, out.RawMetrics["documents_fetched"], 1e-9)

	v := quality.Verifier{}.Verify(a)
	assert.True(t, v.GatePassed, "codes: %v", v.Codes)
}

func TestRunAttempt_MissingDocumentIsFetchFailure(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{
		"local_cache/doc-1.txt": studyDoc,
		"primary_oa/doc-2.txt":  studyDoc,
	})
	r := New(testutil.TestLogger(), Config{CorpusDir: corpus})

	out, err := r.RunAttempt(context.Background(), request(model.DefaultRunConfig("hybrid retrieval recall"), "doc-1", "doc-2"))
	require.NoError(t, err)
	require.Len(t, out.Artifacts.FetchFailures, 1)
	assert.Equal(t, "doc-2", out.Artifacts.FetchFailures[0].DocumentID)
	require.Len(t, out.Artifacts.Sources, 2)
	assert.False(t, out.Artifacts.Sources[1].Fetched)

	v := quality.Verifier{}.Verify(out.Artifacts)
	assert.Equal(t, []model.FailReasonCode{model.CodeFetchFail}, v.Codes)

	cfg := model.DefaultRunConfig("hybrid retrieval recall")
	cfg.FetchAdapter = model.AdapterPrimaryOA
	out, err = r.RunAttempt(context.Background(), request(cfg, "doc-2"))
	require.NoError(t, err)
	assert.Empty(t, out.Artifacts.FetchFailures)
}

func TestRunAttempt_NothingFetchedMeansNoIndex(t *testing.T) {
	r := New(testutil.TestLogger(), Config{CorpusDir: t.TempDir()})
	out, err := r.RunAttempt(context.Background(), request(model.DefaultRunConfig("hybrid retrieval"), "doc-1"))
	require.NoError(t, err)
	assert.False(t, out.Artifacts.IndexAvailable)

	v := quality.Verifier{}.Verify(out.Artifacts)
	assert.Equal(t, []model.FailReasonCode{
		model.CodeCitationMissing, model.CodeFetchFail, model.CodeIndexMissing,
	}, v.Codes)
}

func TestRunAttempt_HTMLFallback(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{
		"html_fallback/doc-3.html": `<html><body><h2>Results</h2><p>Hybrid retrieval improved recall by 12 percent on long survey queries.</p><script>var x = 1;</script></body></html>`,
	})
	r := New(testutil.TestLogger(), Config{CorpusDir: corpus})
	cfg := model.DefaultRunConfig("hybrid retrieval recall")
	cfg.FetchAdapter = model.AdapterHTML

	out, err := r.RunAttempt(context.Background(), request(cfg, "doc-3"))
	require.NoError(t, err)
	require.Len(t, out.Artifacts.Evidence, 1)
	assert.NotContains(t, out.Artifacts.Evidence[0].Text, "<")
	assert.NotContains(t, out.Artifacts.Evidence[0].Text, "var x")
	assert.Equal(t, model.AdapterHTML, out.Artifacts.Sources[0].Adapter)
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "blocks become paragraphs",
			in:   `<h2>Results</h2><p>Recall rose.</p>`,
			want: "Results\n\nRecall rose.",
		},
		{
			name: "comment is dropped",
			in:   `<p>kept<!-- <b>hidden</b> --> text</p>`,
			want: "kept text",
		},
		{
			name: "attribute containing a closing bracket",
			in:   `<p><a title="a > b" href="x">link</a> after</p>`,
			want: "link after",
		},
		{
			name: "unclosed script hides the rest",
			in:   `<p>before</p><script>if (a < b) { alert("x") }`,
			want: "before",
		},
		{
			name: "style body is dropped",
			in:   `<style>p > a { color: red }</style><p>body</p>`,
			want: "body",
		},
		{
			name: "cdata section is not text",
			in:   `<p>one</p><![CDATA[ <p>raw</p> ]]><p>two</p>`,
			want: "one\n\ntwo",
		},
		{
			name: "entities are decoded",
			in:   `<p>R&amp;D &lt;fast&gt;</p>`,
			want: "R&D <fast>",
		},
		{
			name: "line break",
			in:   `<p>first<br>second</p>`,
			want: "first\nsecond",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strings.TrimSpace(stripHTML(tt.in)))
		})
	}
}

func TestRunAttempt_ToolBudgetRefusal(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{
		"local_cache/doc-1.txt": studyDoc,
		"local_cache/doc-2.txt": studyDoc,
	})
	r := New(testutil.TestLogger(), Config{CorpusDir: corpus})
	cfg := model.DefaultRunConfig("hybrid retrieval recall")
	cfg.ToolCallCeiling = 1

	out, err := r.RunAttempt(context.Background(), request(cfg, "doc-1", "doc-2"))
	require.NoError(t, err)
	assert.Len(t, out.Artifacts.FetchFailures, 1)
	assert.Equal(t, int64(2), out.Artifacts.Usage.ToolCalls)
	assert.True(t, out.Artifacts.Usage.Exceeded())
}

func TestRunAttempt_PromptModeControlsCitations(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{"local_cache/doc-1.txt": studyDoc})
	r := New(testutil.TestLogger(), Config{CorpusDir: corpus})

	// Only "latency" matches: relevance 1/5, below the citation threshold.
	cfg := model.DefaultRunConfig("latency benchmarks reranking ablation corpora")
	out, err := r.RunAttempt(context.Background(), request(cfg, "doc-1"))
	require.NoError(t, err)
	require.Len(t, out.Artifacts.Claims, 1)
	assert.Empty(t, out.Artifacts.Citations)

	cfg.PromptMode = model.PromptModeCitationFirst
	out, err = r.RunAttempt(context.Background(), request(cfg, "doc-1"))
	require.NoError(t, err)
	assert.Len(t, out.Artifacts.Citations, 1)
}

func TestRunAttempt_RetrievalPriorityStaysWithinTokens(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{"local_cache/doc-1.txt": studyDoc})
	r := New(testutil.TestLogger(), Config{CorpusDir: corpus})

	cfg := model.DefaultRunConfig("hybrid retrieval recall latency")
	cfg.MaxGenerationTokens = 5
	out, err := r.RunAttempt(context.Background(), request(cfg, "doc-1"))
	require.NoError(t, err)
	assert.True(t, out.Artifacts.Usage.Exceeded(), "generation priority reports the overrun")

	cfg.BudgetPriority = model.BudgetPriorityRetrieval
	out, err = r.RunAttempt(context.Background(), request(cfg, "doc-1"))
	require.NoError(t, err)
	assert.False(t, out.Artifacts.Usage.Exceeded())
	assert.Empty(t, out.Artifacts.Claims)
	assert.NotEmpty(t, out.Artifacts.Warnings)
}

func TestRunAttempt_Deterministic(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{
		"local_cache/doc-1.txt": studyDoc,
		"local_cache/doc-2.txt": strings.ReplaceAll(studyDoc, "12 percent", "9 percent"),
	})
	r := New(testutil.TestLogger(), Config{CorpusDir: corpus, Workers: 4})
	req := request(model.DefaultRunConfig("hybrid retrieval recall latency"), "doc-1", "doc-2")

	first, err := r.RunAttempt(context.Background(), req)
	require.NoError(t, err)
	req.Budget = attempt.NewToolBudget(req.Config.ToolCallCeiling)
	second, err := r.RunAttempt(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Artifacts, second.Artifacts)
}

func TestRunAttempt_Cancelled(t *testing.T) {
	corpus := writeCorpus(t, map[string]string{"local_cache/doc-1.txt": studyDoc})
	r := New(testutil.TestLogger(), Config{CorpusDir: corpus})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RunAttempt(ctx, request(model.DefaultRunConfig("hybrid"), "doc-1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRank_MMRPrefersNovelty(t *testing.T) {
	index := []passage{
		{docID: "a", start: 0, text: "x", terms: []string{"hybrid", "recall", "retrieval"}},
		{docID: "b", start: 0, text: "y", terms: []string{"hybrid", "recall", "retrieval"}},
		{docID: "c", start: 0, text: "z", terms: []string{"hybrid", "latency"}},
	}
	sel, scores := rank(index, "hybrid retrieval recall latency", 10, 0.5)
	require.Len(t, sel, 2)
	assert.Equal(t, "a", sel[0].docID)
	assert.Equal(t, "c", sel[1].docID, "duplicate passage b loses to the novel passage")
	assert.Len(t, scores, 3)

	sel, _ = rank(index, "hybrid retrieval recall latency", 1, 0.5)
	assert.Len(t, sel, 1)
}
