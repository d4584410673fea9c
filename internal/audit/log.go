package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/varalys/osintkit/internal/types"
)

// RunRecord is one line of the audit log: what a scan looked at and what it
// found.
type RunRecord struct {
	Timestamp      time.Time        `json:"timestamp"`
	RunID          string           `json:"run_id"`
	Artifacts      []string         `json:"artifacts"`
	Failed         []string         `json:"failed,omitempty"`
	TotalFindings  int              `json:"total_findings"`
	NewFindings    int              `json:"new_findings"`
	BaselinedCount int              `json:"baselined_count"`
	SeverityCounts map[string]int   `json:"severity_counts"`
	Stats          map[string]int   `json:"stats,omitempty"`
	Duration       string           `json:"duration"`
	BaselineFile   string           `json:"baseline_file,omitempty"`
	TopFindings    []FindingSummary `json:"top_findings,omitempty"`
}

type FindingSummary struct {
	Artifact string   `json:"artifact"`
	RuleID   string   `json:"rule_id"`
	Severity string   `json:"severity"`
	Subject  []string `json:"subject"`
}

// AuditLog appends RunRecords to a JSON Lines file.
type AuditLog struct {
	logPath string
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{logPath: path}
}

// LoadHistory returns the logged runs, newest first. Lines that fail to
// decode are skipped.
func (a *AuditLog) LoadHistory() ([]RunRecord, error) {
	f, err := os.Open(a.logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var records []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var record RunRecord
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("failed to read audit log: %w", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (a *AuditLog) LogRun(record RunRecord) error {
	if record.RunID == "" {
		record.RunID = uuid.NewString()
	}

	// Owner-only: the log lists artifact paths and the actors flagged in them.
	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(record); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

func CreateRunRecord(
	artifacts []string,
	failed []string,
	allFindings []types.Finding,
	newFindings []types.Finding,
	stats map[string]int,
	duration time.Duration,
	baselineFile string,
) RunRecord {
	severityCounts := make(map[string]int)
	for _, f := range allFindings {
		severityCounts[string(f.Severity)]++
	}

	topFindings := make([]FindingSummary, 0, 10)
	for i, f := range newFindings {
		if i >= 10 {
			break
		}
		topFindings = append(topFindings, FindingSummary{
			Artifact: f.Artifact,
			RuleID:   f.RuleID,
			Severity: string(f.Severity),
			Subject:  f.Subject,
		})
	}

	return RunRecord{
		Timestamp:      time.Now().UTC(),
		RunID:          uuid.NewString(),
		Artifacts:      artifacts,
		Failed:         failed,
		TotalFindings:  len(allFindings),
		NewFindings:    len(newFindings),
		BaselinedCount: len(allFindings) - len(newFindings),
		SeverityCounts: severityCounts,
		Stats:          stats,
		Duration:       duration.String(),
		BaselineFile:   baselineFile,
		TopFindings:    topFindings,
	}
}
