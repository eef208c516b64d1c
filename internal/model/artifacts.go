package model

// SourceDocument is the metadata recorded for each requested document.
type SourceDocument struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	URI       string `json:"uri,omitempty"`
	Adapter   string `json:"adapter"`
	Fetched   bool   `json:"fetched"`
	ByteCount int    `json:"byte_count"`
}

// Locator pins evidence to a position inside a source document. A locator is
// usable when it names a document and at least one of section, page, or a
// non-empty span.
type Locator struct {
	DocumentID string `json:"document_id"`
	Section    string `json:"section,omitempty"`
	Page       int    `json:"page,omitempty"`
	SpanStart  int    `json:"span_start"`
	SpanEnd    int    `json:"span_end"`
}

// Valid reports whether the locator identifies a concrete position.
func (l Locator) Valid() bool {
	if l.DocumentID == "" {
		return false
	}
	if l.Section != "" || l.Page >= 1 {
		return true
	}
	return l.SpanStart >= 0 && l.SpanEnd > l.SpanStart
}

// Claim is one extracted statement that the answer relies on.
type Claim struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
}

// Evidence is a passage from a source document supporting a claim.
type Evidence struct {
	ID      string  `json:"id"`
	ClaimID string  `json:"claim_id"`
	Text    string  `json:"text"`
	Locator Locator `json:"locator"`
}

// Citation links a claim in the answer to a piece of evidence.
type Citation struct {
	ClaimID    string `json:"claim_id"`
	EvidenceID string `json:"evidence_id"`
	DocumentID string `json:"document_id"`
}

// ScoreRecord is one row of the ranking output.
type ScoreRecord struct {
	ClaimID    string  `json:"claim_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
	Selected   bool    `json:"selected"`
}

// Warning is a non-fatal note emitted by any stage.
type Warning struct {
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FetchFailure records a document that could not be retrieved.
type FetchFailure struct {
	DocumentID string `json:"document_id"`
	Adapter    string `json:"adapter"`
	Error      string `json:"error"`
}

// StageError is a model-stage failure reported by the attempt runner.
type StageError struct {
	Stage   string         `json:"stage"`
	Code    FailReasonCode `json:"code"`
	Message string         `json:"message"`
}

// ResourceUsage captures consumption against the attempt's ceilings. A zero
// ceiling means unbounded.
type ResourceUsage struct {
	ToolCalls        int64 `json:"tool_calls"`
	ToolCallCeiling  int64 `json:"tool_call_ceiling"`
	GenerationTokens int   `json:"generation_tokens"`
	TokenCeiling     int   `json:"token_ceiling"`
}

// Exceeded reports whether any counter went past its ceiling.
func (u ResourceUsage) Exceeded() bool {
	if u.ToolCallCeiling > 0 && u.ToolCalls > u.ToolCallCeiling {
		return true
	}
	return u.TokenCeiling > 0 && u.GenerationTokens > u.TokenCeiling
}

// Artifacts is everything one attempt produced. The verifier reads it and
// the bundle writer persists it.
type Artifacts struct {
	Answer         string           `json:"answer"`
	Sources        []SourceDocument `json:"sources"`
	Claims         []Claim          `json:"claims"`
	Evidence       []Evidence       `json:"evidence"`
	Citations      []Citation       `json:"citations"`
	Scores         []ScoreRecord    `json:"scores"`
	Warnings       []Warning        `json:"warnings"`
	FetchFailures  []FetchFailure   `json:"fetch_failures,omitempty"`
	StageErrors    []StageError     `json:"stage_errors,omitempty"`
	IndexAvailable bool             `json:"index_available"`
	Usage          ResourceUsage    `json:"usage"`
}

// EvidenceByID indexes evidence records by ID.
func (a Artifacts) EvidenceByID() map[string]Evidence {
	out := make(map[string]Evidence, len(a.Evidence))
	for _, e := range a.Evidence {
		out[e.ID] = e
	}
	return out
}

// ClaimByID indexes claims by ID.
func (a Artifacts) ClaimByID() map[string]Claim {
	out := make(map[string]Claim, len(a.Claims))
	for _, c := range a.Claims {
		out[c.ID] = c
	}
	return out
}
