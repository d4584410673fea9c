package osintkit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/audit"
	"github.com/varalys/osintkit/internal/cache"
	"github.com/varalys/osintkit/internal/config"
	"github.com/varalys/osintkit/internal/detectors"
	"github.com/varalys/osintkit/internal/engine"
	"github.com/varalys/osintkit/internal/export"
	"github.com/varalys/osintkit/internal/normalize"
	"github.com/varalys/osintkit/internal/report"
	"github.com/varalys/osintkit/internal/types"
)

var (
	flagFormat     string
	flagKind       string
	flagInclude    string
	flagExclude    string
	flagDelimiter  string
	flagSheet      string
	flagTable      string
	flagRecordPath string
	flagSchema     string
	flagEncoding   string
	// detector tunables
	flagThreshold      int
	flagFrequencyField string
	flagDangerousExt   []string
	flagRequire        []string
	flagHeaderPair     []string
	flagValueThreshold float64
	flagEnable         []string
	flagDisable        []string
	// reader limits
	flagMaxArchiveBytes int64
	flagMaxEntries      int
	flagMaxDepth        int
	flagTimeBudget      time.Duration
	// outputs
	flagJSON        bool
	flagSARIF       bool
	flagText        bool
	flagFailOn      string
	flagTableOut    string
	flagTableFormat string
	flagGraphOut    string
	flagGraphFormat string
	flagAuditLog    string
	flagBaseline    string
	flagCache       string
)

func init() {
	cmd := &cobra.Command{
		Use:   "scan <artifact>...",
		Short: "Ingest artifacts and report anomalies",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScan,
	}
	rootCmd.AddCommand(cmd)
	addPipelineFlags(cmd)

	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit findings as JSON")
	cmd.Flags().BoolVar(&flagSARIF, "sarif", false, "emit findings as SARIF 2.1.0")
	cmd.Flags().BoolVar(&flagText, "text", false, "emit findings as plain text instead of a table")
	cmd.Flags().StringVar(&flagFailOn, "fail-on", "", "exit 1 when a finding reaches info|suspicious|never (default suspicious)")
	cmd.Flags().StringVar(&flagTableOut, "table-out", "", "write the normalized record table to this file")
	cmd.Flags().StringVar(&flagTableFormat, "table-format", "", "table format: csv|tsv|json|sqlite (default from --table-out extension)")
	cmd.Flags().StringVar(&flagGraphOut, "graph-out", "", "write the actor graph to this file")
	cmd.Flags().StringVar(&flagGraphFormat, "graph-format", "", "graph format: graphml|gexf|json (default from --graph-out extension)")
	cmd.Flags().StringVar(&flagAuditLog, "audit-log", "", "append a JSONL run record to this file")
	cmd.Flags().StringVar(&flagBaseline, "baseline", report.DefaultBaselineFile, "suppress findings recorded in this baseline file")
	cmd.Flags().StringVar(&flagCache, "cache", "", "reuse findings for unchanged artifacts from this cache file")
	cmd.Flags().Lookup("cache").NoOptDefVal = cache.DefaultFile
}

// addPipelineFlags registers the flags that shape engine.Config.
func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flagFormat, "format", "", "artifact format tag or auto: "+formatList())
	f.StringVar(&flagKind, "kind", "", "record kind for document formats: post|transaction|row")
	f.StringVar(&flagInclude, "include", "", "comma-separated globs; keep only records whose identifier matches")
	f.StringVar(&flagExclude, "exclude", "", "comma-separated globs; drop records whose identifier matches")
	f.StringVar(&flagDelimiter, "delimiter", "", "CSV delimiter (single character, or tab|comma|semicolon|pipe)")
	f.StringVar(&flagSheet, "sheet", "", "read only this Excel sheet")
	f.StringVar(&flagTable, "table", "", "read only this SQLite table")
	f.StringVar(&flagRecordPath, "record-path", "", "dotted path to the record array in a structured document")
	f.StringVar(&flagSchema, "schema", "", "JSON Schema the structured document must satisfy")
	f.StringVar(&flagEncoding, "encoding", "", "force structured encoding: json|yaml|toml|xml")

	f.IntVar(&flagThreshold, "threshold", 100, "frequency rule fires when a key is seen more than N times")
	f.StringVar(&flagFrequencyField, "frequency-field", "", "field counted by the frequency rule (default actors)")
	f.StringSliceVar(&flagDangerousExt, "dangerous-ext", nil, "dangerous extensions (replaces the default set)")
	f.StringSliceVar(&flagRequire, "require", nil, "fields every record must carry (enables missing-field)")
	f.StringSliceVar(&flagHeaderPair, "header-pair", nil, "two headers whose domains must agree (default From,Return-Path)")
	f.Float64Var(&flagValueThreshold, "value-threshold", 0, "flag records whose size or value exceeds this (0 = off)")
	f.StringSliceVar(&flagEnable, "enable", nil, "only run these rules: "+ruleList())
	f.StringSliceVar(&flagDisable, "disable", nil, "never run these rules")

	f.Int64Var(&flagMaxArchiveBytes, "max-archive-bytes", 32<<20, "max decompressed bytes per artifact before aborting (0 = unlimited)")
	f.IntVar(&flagMaxEntries, "max-entries", 0, "max entries per artifact before aborting (0 = unlimited)")
	f.IntVar(&flagMaxDepth, "max-depth", 2, "max nesting depth for archives inside archives (0 = do not expand)")
	f.DurationVar(&flagTimeBudget, "time-budget", 0, "time budget per artifact, e.g. 30s (0 = unlimited)")
}

func formatList() string {
	var names []string
	for _, f := range artifacts.Formats() {
		names = append(names, string(f))
	}
	return strings.Join(names, "|")
}

// buildConfig resolves flags and config files into an engine.Config.
// Precedence is CLI > local file > global file > built-in default.
func buildConfig(cmd *cobra.Command, lcfg, gcfg config.FileConfig) (engine.Config, error) {
	var cfg engine.Config

	cfg.Format = pickString(flagFormat, lcfg.Format, gcfg.Format)
	if k := pickString(flagKind, lcfg.Kind, gcfg.Kind); k != "" {
		kind, ok := types.ParseKind(k)
		if !ok {
			return cfg, fmt.Errorf("unknown kind %q", k)
		}
		cfg.Kind = kind
	}
	cfg.IncludeGlobs = pickString(flagInclude, lcfg.Include, gcfg.Include)
	cfg.ExcludeGlobs = pickString(flagExclude, lcfg.Exclude, gcfg.Exclude)
	cfg.Threads = pick(changed(cmd, "threads", flagThreads), lcfg.Threads, gcfg.Threads, 0)

	delim, err := delimiterRune(pickString(flagDelimiter, lcfg.Delimiter, gcfg.Delimiter))
	if err != nil {
		return cfg, err
	}
	budget, err := pickDuration(changed(cmd, "time-budget", flagTimeBudget), lcfg.TimeBudget, gcfg.TimeBudget)
	if err != nil {
		return cfg, err
	}
	cfg.Reader = artifacts.Options{
		Limits: artifacts.Limits{
			MaxArchiveBytes: pick(changed(cmd, "max-archive-bytes", flagMaxArchiveBytes), lcfg.MaxArchiveBytes, gcfg.MaxArchiveBytes, 32<<20),
			MaxEntries:      pick(changed(cmd, "max-entries", flagMaxEntries), lcfg.MaxEntries, gcfg.MaxEntries, 0),
			MaxDepth:        pick(changed(cmd, "max-depth", flagMaxDepth), lcfg.MaxDepth, gcfg.MaxDepth, 2),
			TimeBudget:      budget,
		},
		Delimiter:  delim,
		Sheet:      pickString(flagSheet, lcfg.Sheet, gcfg.Sheet),
		Table:      pickString(flagTable, lcfg.Table, gcfg.Table),
		RecordPath: pickString(flagRecordPath, lcfg.RecordPath, gcfg.RecordPath),
		Schema:     pickString(flagSchema, lcfg.Schema, gcfg.Schema),
		Encoding:   pickString(flagEncoding, lcfg.Encoding, gcfg.Encoding),
	}

	fields, err := gcfg.FieldMaps()
	if err != nil {
		return cfg, err
	}
	local, err := lcfg.FieldMaps()
	if err != nil {
		return cfg, err
	}
	for k, v := range local {
		if fields == nil {
			fields = map[types.SourceKind]normalize.FieldMap{}
		}
		fields[k] = v
	}
	cfg.Fields = fields

	det := detectors.DefaultConfig()
	gcfg.Detectors.Apply(&det)
	lcfg.Detectors.Apply(&det)
	if cmd.Flags().Changed("threshold") {
		det.Threshold = flagThreshold
	}
	if flagFrequencyField != "" {
		det.FrequencyField = flagFrequencyField
	}
	if cmd.Flags().Changed("dangerous-ext") {
		det.DangerousExtensions = flagDangerousExt
	}
	if cmd.Flags().Changed("require") {
		det.RequiredFields = flagRequire
	}
	if cmd.Flags().Changed("header-pair") {
		if len(flagHeaderPair) != 2 {
			return cfg, fmt.Errorf("--header-pair takes exactly two header names")
		}
		det.HeaderPair = [2]string{flagHeaderPair[0], flagHeaderPair[1]}
	}
	if cmd.Flags().Changed("value-threshold") {
		det.ValueThreshold = flagValueThreshold
	}
	if cmd.Flags().Changed("enable") {
		det.Enable = flagEnable
	}
	if cmd.Flags().Changed("disable") {
		det.Disable = flagDisable
	}
	if err := det.Validate(); err != nil {
		return cfg, err
	}
	cfg.Detectors = det
	return cfg, nil
}

// runArtifacts runs every path and folds the outcomes. Failed artifacts are
// reported on stderr and listed in failed. With a cache file, artifacts whose
// content and configuration are unchanged reuse their cached findings and
// contribute no records.
func runArtifacts(cmd *cobra.Command, paths []string, cfg engine.Config, cachePath string) (records []types.Record, findings []types.Finding, sum engine.Summary, failed []string) {
	var (
		db     cache.DB
		key    string
		prints = map[string]string{}
		hits   = map[int]engine.Result{}
		todo   []string
	)
	if cachePath != "" {
		db, _ = cache.Load(cachePath)
		key = cache.ConfigKey(cfg)
	}
	for i, p := range paths {
		if cachePath != "" {
			if fp, err := cache.Fingerprint(p); err == nil {
				prints[p] = fp
				if res, ok := db.Lookup(p, fp, key); ok {
					hits[i] = res
					continue
				}
			}
		}
		todo = append(todo, p)
	}

	ran := engine.RunMany(cmd.Context(), todo, cfg)
	outcomes := make([]engine.Outcome, 0, len(paths))
	for i := range paths {
		if res, ok := hits[i]; ok {
			outcomes = append(outcomes, engine.Outcome{Result: res})
			continue
		}
		o := ran[0]
		ran = ran[1:]
		if o.Err == nil && cachePath != "" && prints[o.Result.Artifact] != "" {
			db.Store(o.Result.Artifact, prints[o.Result.Artifact], key, o.Result)
		}
		outcomes = append(outcomes, o)
	}
	if cachePath != "" {
		if err := cache.Save(cachePath, db); err != nil {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "cache warning:", err)
		}
	}

	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o.Result.Artifact)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "error: %s: %v\n", o.Result.Artifact, o.Err)
			continue
		}
		records = append(records, o.Result.Records...)
		findings = append(findings, o.Result.Findings...)
		sum.Merge(o.Result.Summary)
	}
	return records, findings, sum, failed
}

func runScan(cmd *cobra.Command, args []string) error {
	lcfg, gcfg, err := loadConfigs()
	if err != nil {
		return err
	}
	cfg, err := buildConfig(cmd, lcfg, gcfg)
	if err != nil {
		return err
	}
	// exports need records, which the cache does not keep
	cachePath := flagCache
	if flagTableOut != "" || flagGraphOut != "" {
		cachePath = ""
	}
	started := time.Now()
	records, findings, sum, failed := runArtifacts(cmd, args, cfg, cachePath)
	elapsed := time.Since(started)

	if flagTableOut != "" {
		if err := export.WriteTableFile(flagTableOut, outputFormat(flagTableFormat, flagTableOut, "csv"), records); err != nil {
			return fmt.Errorf("table export: %w", err)
		}
	}
	if flagGraphOut != "" {
		if err := export.WriteGraphFile(flagGraphOut, outputFormat(flagGraphFormat, flagGraphOut, export.GraphML), export.BuildGraph(records)); err != nil {
			return fmt.Errorf("graph export: %w", err)
		}
	}

	baselineFile := ""
	newFindings := findings
	if flagBaseline != "" {
		if b, err := report.LoadBaseline(flagBaseline); err == nil {
			baselineFile = flagBaseline
			newFindings = report.FilterNewFindings(findings, b)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if newFindings == nil {
		newFindings = []types.Finding{}
	}

	if err := render(cmd.OutOrStdout(), newFindings, sum, len(args), elapsed); err != nil {
		return err
	}

	if path := pickString(flagAuditLog, lcfg.AuditLog, gcfg.AuditLog); path != "" {
		rec := audit.CreateRunRecord(args, failed, findings, newFindings, sum.Map(), elapsed, baselineFile)
		if err := audit.NewAuditLog(path).LogRun(rec); err != nil {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "audit warning:", err)
		}
	}

	if len(failed) > 0 {
		return &exitError{code: 2, err: fmt.Errorf("%d of %d artifacts failed", len(failed), len(args))}
	}
	failOn := pickString(flagFailOn, lcfg.FailOn, gcfg.FailOn)
	if report.ShouldFail(newFindings, failOn) {
		return &exitError{code: 1}
	}
	return nil
}

func render(w io.Writer, findings []types.Finding, sum engine.Summary, artifactCount int, elapsed time.Duration) error {
	opts := report.PrintOptions{
		NoColor:   !useColor(flagNoColor),
		Duration:  elapsed,
		Artifacts: artifactCount,
		Records:   sum.Records,
		Skipped:   sum.Skipped,
	}
	switch {
	case flagSARIF:
		return report.WriteSARIFWithStats(w, findings, sum.Map())
	case flagJSON:
		return report.WriteJSON(w, findings)
	case flagText:
		report.PrintText(w, findings, opts)
	default:
		report.PrintTable(w, findings, opts)
	}
	return nil
}

// outputFormat returns explicit, or the format implied by the file
// extension, or def.
func outputFormat(explicit, path, def string) string {
	if explicit != "" {
		return explicit
	}
	lower := strings.ToLower(path)
	for _, ext := range []string{"csv", "tsv", "json", "sqlite", "db", "graphml", "gexf"} {
		if strings.HasSuffix(lower, "."+ext) {
			if ext == "db" {
				return export.TableSQLite
			}
			return ext
		}
	}
	return def
}
