package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/varalys/osintkit/internal/types"
)

type PrintOptions struct {
	NoColor   bool
	Duration  time.Duration
	Artifacts int
	Records   int
	Skipped   int
}

var (
	suspiciousStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	infoStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// PrintTable renders findings as a bordered table followed by the summary footer.
func PrintTable(w io.Writer, findings []types.Finding, opts PrintOptions) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No anomalies found")
	} else {
		table := tablewriter.NewWriter(w)
		table.Header([]string{"SEVERITY", "RULE", "SUBJECT", "EVIDENCE", "ARTIFACT"})
		for _, f := range findings {
			_ = table.Append([]string{
				severity(f.Severity, opts.NoColor),
				f.RuleID,
				truncate(strings.Join(f.Subject, ", "), 60),
				truncate(evidence(f.Evidence), 60),
				f.Artifact,
			})
		}
		_ = table.Render()
	}
	footer(w, findings, opts)
}

// PrintText renders one line per finding.
func PrintText(w io.Writer, findings []types.Finding, opts PrintOptions) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No anomalies found")
	} else {
		maxRule := 8
		for _, f := range findings {
			if l := len(f.RuleID); l > maxRule {
				maxRule = l
			}
		}
		fmt.Fprintf(w, "Findings: %d\n", len(findings))
		for _, f := range findings {
			fmt.Fprintf(w, "%-10s %-*s %s  %s\n", severity(f.Severity, opts.NoColor), maxRule, f.RuleID,
				strings.Join(f.Subject, ", "), evidence(f.Evidence))
		}
	}
	footer(w, findings, opts)
}

func footer(w io.Writer, findings []types.Finding, opts PrintOptions) {
	if opts.Duration <= 0 && opts.Artifacts == 0 && opts.Records == 0 {
		return
	}
	susp, info := Counts(findings)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Findings: %d (suspicious: %d, info: %d)\n", len(findings), susp, info)
	if opts.Artifacts > 0 {
		fmt.Fprintf(w, "Artifacts: %d\n", opts.Artifacts)
	}
	if opts.Records > 0 || opts.Skipped > 0 {
		fmt.Fprintf(w, "Records: %d (skipped: %d)\n", opts.Records, opts.Skipped)
	}
	if opts.Duration > 0 {
		fmt.Fprintf(w, "Duration: %.2fs\n", opts.Duration.Seconds())
	}
}

// Counts tallies findings by severity.
func Counts(findings []types.Finding) (suspicious, info int) {
	for _, f := range findings {
		if f.Severity == types.SevSuspicious {
			suspicious++
		} else {
			info++
		}
	}
	return
}

// evidence renders the evidence map as sorted key=value pairs.
func evidence(ev map[string]any) string {
	keys := make([]string, 0, len(ev))
	for k := range ev {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+evidenceValue(ev[k]))
	}
	return strings.Join(parts, " ")
}

func evidenceValue(v any) string {
	if s := types.FormatScalar(v); s != "" {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func severity(s types.Severity, noColor bool) string {
	if noColor {
		return string(s)
	}
	if s == types.SevSuspicious {
		return suspiciousStyle.Render(string(s))
	}
	return infoStyle.Render(string(s))
}
