package batch

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	return &Report{
		RunID: "run-1",
		Outcomes: []Outcome{
			{Item: ItemRef{Kind: KindCreated, Index: 0, Path: "created[0]"}, IssueKey: "Q-1"},
			{Item: ItemRef{Kind: KindUpdated, Index: 0, Path: "updated[0]"}, Err: &ItemError{Kind: NotFound, Message: "issue X-1 not found"}},
			{Item: ItemRef{Kind: KindDeleted, Index: 0, Path: "deleted[0]"}, Err: &ItemError{Kind: Validation, Message: "deletion is disabled by configuration"}},
		},
		Complete: true,
	}
}

func TestReportCounts(t *testing.T) {
	r := sampleReport()
	assert.Equal(t, 1, r.Succeeded())
	assert.Equal(t, 2, r.Failed())
	assert.Equal(t, map[ErrorKind]int{NotFound: 1, Validation: 1}, r.FailedByKind())
	assert.True(t, r.HasFailures())

	clean := &Report{Outcomes: r.Outcomes[:1], Complete: true}
	assert.False(t, clean.HasFailures())

	cut := &Report{Outcomes: r.Outcomes[:1], Complete: false}
	assert.True(t, cut.HasFailures())
}

func TestReportWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "created[0]")
	assert.Contains(t, out, "Q-1")
	assert.Contains(t, out, "not_found")
	assert.Contains(t, out, "issue X-1 not found")
	assert.Contains(t, out, "run run-1: 1 succeeded, 2 failed, not_found=1, validation=1")
	assert.NotContains(t, out, "incomplete")
}

func TestReportWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteJSON(&buf))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, true, got["complete"])

	outcomes := got["outcomes"].([]any)
	require.Len(t, outcomes, 3)
	first := outcomes[0].(map[string]any)
	assert.Equal(t, "Q-1", first["issue_key"])
	assert.NotContains(t, first, "error")

	second := outcomes[1].(map[string]any)
	assert.Equal(t, map[string]any{"kind": "not_found", "message": "issue X-1 not found"}, second["error"])
}
