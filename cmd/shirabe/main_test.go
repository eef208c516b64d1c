package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shirabe"
	"github.com/ashita-ai/shirabe/internal/testutil"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(&exitError{code: 2, msg: "failed"}))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestReadInput_Flags(t *testing.T) {
	in, err := readInput(nil, runFlags{query: "q", docs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, shirabe.Input{Query: "q", DocumentIDs: []string{"a", "b"}}, in)
}

func TestReadInput_Stdin(t *testing.T) {
	stdin := strings.NewReader(`{"query":"q","document_ids":["doc-1"]}`)
	in, err := readInput(stdin, runFlags{input: "-"})
	require.NoError(t, err)
	assert.Equal(t, "q", in.Query)
	assert.Equal(t, []string{"doc-1"}, in.DocumentIDs)
}

func TestReadInput_Missing(t *testing.T) {
	_, err := readInput(nil, runFlags{})
	require.Error(t, err)
}

func TestValidateCmd_MissingBundle(t *testing.T) {
	cmd := newRootCmd(testutil.TestLogger())
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"validate", t.TempDir()})

	err := cmd.Execute()
	assert.Equal(t, 2, exitCode(err))

	var report shirabe.BundleReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.NotEmpty(t, report.Missing)
	assert.Empty(t, errOut.String(), "usage and errors are left to the caller")
}
