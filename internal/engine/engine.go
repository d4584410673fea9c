package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	doublestar "github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/detectors"
	"github.com/varalys/osintkit/internal/normalize"
	"github.com/varalys/osintkit/internal/types"
)

// Config controls one pipeline run: which artifact, how to decode it, which
// records to keep and how the detectors are tuned.
type Config struct {
	Path string
	// Format is a registered tag or "auto" (the default).
	Format string
	// Kind overrides the record kind for document formats (post,
	// transaction, row). Empty keeps the format's natural kind.
	Kind types.SourceKind

	Reader artifacts.Options
	Fields map[types.SourceKind]normalize.FieldMap

	// Comma-separated doublestar globs matched against record identifiers.
	IncludeGlobs string
	ExcludeGlobs string

	Detectors detectors.Config

	// Threads bounds RunMany; <= 0 means GOMAXPROCS.
	Threads int

	Logger *slog.Logger
}

// Result is everything one artifact produced.
type Result struct {
	Artifact string
	Format   artifacts.Format
	Records  []types.Record
	Findings []types.Finding
	Summary  Summary
}

// Summary counts what happened to every entry the reader yielded.
type Summary struct {
	EntriesRead int
	Records     int
	Skipped     int
	SkipReasons map[string]int
	Filtered    int
	// Renamed counts identifiers suffixed with #N to stay unique.
	Renamed int
	// Defaulted counts records with at least one core field defaulted.
	Defaulted     int
	ArtifactStats DeepStats
	Duration      time.Duration
}

// DeepStats summarizes bounded-read abort reasons.
type DeepStats struct {
	AbortedByBytes   int
	AbortedByEntries int
	AbortedByDepth   int
	AbortedByTime    int
	Corrupt          int
}

func (d *DeepStats) add(s artifacts.Stats) {
	d.AbortedByBytes += s.AbortedByBytes
	d.AbortedByEntries += s.AbortedByEntries
	d.AbortedByDepth += s.AbortedByDepth
	d.AbortedByTime += s.AbortedByTime
	d.Corrupt += s.Corrupt
}

// Map flattens the counters for SARIF properties and audit records.
func (s Summary) Map() map[string]int {
	m := map[string]int{
		"entries":          s.EntriesRead,
		"records":          s.Records,
		"skipped":          s.Skipped,
		"filtered":         s.Filtered,
		"renamed":          s.Renamed,
		"defaulted":        s.Defaulted,
		"abortedByBytes":   s.ArtifactStats.AbortedByBytes,
		"abortedByEntries": s.ArtifactStats.AbortedByEntries,
		"abortedByDepth":   s.ArtifactStats.AbortedByDepth,
		"abortedByTime":    s.ArtifactStats.AbortedByTime,
		"corrupt":          s.ArtifactStats.Corrupt,
	}
	for reason, n := range s.SkipReasons {
		m["skipped."+reason] = n
	}
	return m
}

// Merge adds o's counters into s.
func (s *Summary) Merge(o Summary) {
	s.EntriesRead += o.EntriesRead
	s.Records += o.Records
	s.Skipped += o.Skipped
	s.Filtered += o.Filtered
	s.Renamed += o.Renamed
	s.Defaulted += o.Defaulted
	s.Duration += o.Duration
	s.ArtifactStats.AbortedByBytes += o.ArtifactStats.AbortedByBytes
	s.ArtifactStats.AbortedByEntries += o.ArtifactStats.AbortedByEntries
	s.ArtifactStats.AbortedByDepth += o.ArtifactStats.AbortedByDepth
	s.ArtifactStats.AbortedByTime += o.ArtifactStats.AbortedByTime
	s.ArtifactStats.Corrupt += o.ArtifactStats.Corrupt
	for k, v := range o.SkipReasons {
		if s.SkipReasons == nil {
			s.SkipReasons = map[string]int{}
		}
		s.SkipReasons[k] += v
	}
}

// Run processes one artifact end to end in a single pass. The reader is
// closed on every path. Errors are fatal for the artifact only: an
// unreadable or unsupported artifact, a failed close, or ctx cancellation.
func Run(ctx context.Context, cfg Config) (Result, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	res := Result{Artifact: cfg.Path, Summary: Summary{SkipReasons: map[string]int{}}}
	if err := cfg.Detectors.Validate(); err != nil {
		return res, err
	}
	started := time.Now()

	format, err := artifacts.Resolve(cfg.Path, cfg.Format)
	if err != nil {
		return res, err
	}
	res.Format = format
	log = log.With("artifact", cfg.Path, "format", string(format))

	r, err := artifacts.Open(cfg.Path, format, cfg.Reader)
	if err != nil {
		return res, err
	}
	norm := normalize.New(normalize.Options{Fields: cfg.Fields})
	set := detectors.NewSet(cfg.Detectors)
	ids := map[string]int{}
	includes := parseGlobsList(cfg.IncludeGlobs)
	excludes := parseGlobsList(cfg.ExcludeGlobs)

	readErr := func() error {
		for {
			e, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			res.Summary.EntriesRead++
			rec, err := norm.Normalize(cfg.Kind, e)
			if err != nil {
				if !errors.Is(err, normalize.ErrMalformedRecord) {
					return err
				}
				res.Summary.Skipped++
				res.Summary.SkipReasons[normalize.Reason(err)]++
				log.Debug("skipped record", "entry", res.Summary.EntriesRead, "err", err)
				continue
			}
			if !allowed(rec.ID, includes, excludes) {
				res.Summary.Filtered++
				continue
			}
			if uniqueID(&rec, ids) {
				res.Summary.Renamed++
			}
			if len(rec.MissingFields()) > 0 {
				res.Summary.Defaulted++
			}
			set.Observe(rec)
			res.Records = append(res.Records, rec)
		}
	}()

	if sr, ok := r.(artifacts.StatsReporter); ok {
		res.Summary.ArtifactStats.add(sr.Stats())
	}
	closeErr := r.Close()
	if readErr != nil {
		return res, fmt.Errorf("read %s: %w", cfg.Path, readErr)
	}
	if closeErr != nil {
		return res, fmt.Errorf("close %s: %w", cfg.Path, closeErr)
	}

	for _, f := range set.Findings() {
		f.Artifact = cfg.Path
		res.Findings = append(res.Findings, f)
	}
	res.Summary.Records = len(res.Records)
	res.Summary.Duration = time.Since(started)
	log.Info("artifact processed",
		"entries", res.Summary.EntriesRead,
		"records", res.Summary.Records,
		"skipped", res.Summary.Skipped,
		"filtered", res.Summary.Filtered,
		"findings", len(res.Findings),
		"duration", res.Summary.Duration)
	return res, nil
}

// Outcome pairs a Result with the error that ended it, if any.
type Outcome struct {
	Result Result
	Err    error
}

// RunMany runs each path with cfg, one artifact per worker, at most
// cfg.Threads at a time. Outcomes are in input order; one artifact failing
// does not stop the others.
func RunMany(ctx context.Context, paths []string, cfg Config) []Outcome {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	out := make([]Outcome, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for i, p := range paths {
		g.Go(func() error {
			c := cfg
			c.Path = p
			res, err := Run(gctx, c)
			out[i] = Outcome{Result: res, Err: err}
			if err != nil {
				logger(cfg).Warn("artifact failed", "artifact", p, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func logger(cfg Config) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}

// uniqueID suffixes rec.ID with #2, #3, ... when it was already used and
// reports whether it did.
func uniqueID(rec *types.Record, seen map[string]int) bool {
	n := seen[rec.ID]
	seen[rec.ID] = n + 1
	if n == 0 {
		return false
	}
	base := rec.ID
	for i := n + 1; ; i++ {
		cand := fmt.Sprintf("%s#%d", base, i)
		if seen[cand] == 0 {
			seen[cand] = 1
			rec.ID = cand
			return true
		}
	}
}

// allowed reports whether id passes the include/exclude globs. Include
// globs, if any, act as a positive filter; excludes are subtracted last.
func allowed(id string, includes, excludes []string) bool {
	p := strings.ReplaceAll(id, "\\", "/")
	if len(includes) > 0 && !matchAnyGlob(p, includes) {
		return false
	}
	if len(excludes) > 0 && matchAnyGlob(p, excludes) {
		return false
	}
	return true
}

func parseGlobsList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p, trimGlobPrefix(p))
		}
	}
	return out
}

func matchAnyGlob(p string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, filepath.Base(p)); ok {
			return true
		}
	}
	return false
}

func trimGlobPrefix(g string) string {
	s := strings.TrimPrefix(g, "./")
	for strings.HasPrefix(s, "**/") {
		s = strings.TrimPrefix(s, "**/")
	}
	return s
}
