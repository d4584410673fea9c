package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/osintkit/internal/types"
)

func TestLogRunAndHistory(t *testing.T) {
	log := NewAuditLog(filepath.Join(t.TempDir(), "audit.jsonl"))

	_, err := log.LoadHistory()
	assert.Error(t, err, "no log yet")

	all := []types.Finding{
		{RuleID: "header-mismatch", Subject: []string{"<m@x>"}, Severity: types.SevSuspicious, Artifact: "a.eml"},
		{RuleID: "missing-field", Subject: []string{"r#1"}, Severity: types.SevInfo, Artifact: "b.csv"},
	}
	first := CreateRunRecord([]string{"a.eml", "b.csv"}, nil, all, all[:1], map[string]int{"records": 9}, time.Second, "osintkit.baseline.json")
	require.NoError(t, log.LogRun(first))
	require.NoError(t, log.LogRun(RunRecord{Artifacts: []string{"c.log"}}))

	hist, err := log.LoadHistory()
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, []string{"c.log"}, hist[0].Artifacts, "newest first")
	_, err = uuid.Parse(hist[0].RunID)
	assert.NoError(t, err, "missing run id is generated")

	got := hist[1]
	assert.Equal(t, first.RunID, got.RunID)
	assert.Equal(t, 2, got.TotalFindings)
	assert.Equal(t, 1, got.NewFindings)
	assert.Equal(t, 1, got.BaselinedCount)
	assert.Equal(t, map[string]int{"suspicious": 1, "info": 1}, got.SeverityCounts)
	assert.Equal(t, 9, got.Stats["records"])
	require.Len(t, got.TopFindings, 1)
	assert.Equal(t, "header-mismatch", got.TopFindings[0].RuleID)
}

func TestLoadHistory_SkipsUndecodableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	content := `{"run_id":"one","artifacts":["a.log"]}
{"run_id":"bad","stats":"x"}
not json at all

{"run_id":"three","artifacts":["c.log"]}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	hist, err := NewAuditLog(path).LoadHistory()
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "three", hist[0].RunID)
	assert.Equal(t, "one", hist[1].RunID)
}
