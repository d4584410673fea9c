package cache

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/engine"
	"github.com/varalys/osintkit/internal/types"
)

// DefaultFile is the cache file name used by `scan --cache` without a value.
const DefaultFile = ".osintkit-cache.json"

// Entry is what one artifact produced the last time its content and the run
// configuration were seen. Records are not kept.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	ConfigKey   string          `json:"config_key"`
	Format      string          `json:"format"`
	Findings    []types.Finding `json:"findings"`
	Summary     engine.Summary  `json:"summary"`
	Stored      time.Time       `json:"stored"`
}

type DB struct {
	// Artifact path -> last result
	Entries map[string]Entry `json:"entries"`
}

// Load reads the cache at path. A missing or unreadable file yields an
// empty, usable DB together with the error.
func Load(path string) (DB, error) {
	var db DB
	f, err := os.ReadFile(path)
	if err != nil {
		return DB{Entries: map[string]Entry{}}, err
	}
	if err := json.Unmarshal(f, &db); err != nil {
		return DB{Entries: map[string]Entry{}}, err
	}
	if db.Entries == nil {
		db.Entries = map[string]Entry{}
	}
	return db, nil
}

func Save(path string, db DB) error {
	if db.Entries == nil {
		return errors.New("empty cache")
	}
	b, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Fingerprint hashes the artifact's bytes with xxhash64.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// ConfigKey hashes every part of cfg that changes what an artifact yields.
// Path, Threads and Logger are excluded.
func ConfigKey(cfg engine.Config) string {
	b, _ := json.Marshal(struct {
		Format    string
		Kind      types.SourceKind
		Reader    any
		Fields    any
		Include   string
		Exclude   string
		Detectors any
	}{cfg.Format, cfg.Kind, cfg.Reader, cfg.Fields, cfg.IncludeGlobs, cfg.ExcludeGlobs, cfg.Detectors})
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}

// Lookup returns the cached result for path when both keys still match.
func (db DB) Lookup(path, fingerprint, configKey string) (engine.Result, bool) {
	e, ok := db.Entries[path]
	if !ok || e.Fingerprint != fingerprint || e.ConfigKey != configKey {
		return engine.Result{}, false
	}
	return engine.Result{
		Artifact: path,
		Format:   artifacts.Format(e.Format),
		Findings: e.Findings,
		Summary:  e.Summary,
	}, true
}

func (db *DB) Store(path, fingerprint, configKey string, res engine.Result) {
	if db.Entries == nil {
		db.Entries = map[string]Entry{}
	}
	db.Entries[path] = Entry{
		Fingerprint: fingerprint,
		ConfigKey:   configKey,
		Format:      string(res.Format),
		Findings:    res.Findings,
		Summary:     res.Summary,
		Stored:      time.Now().UTC(),
	}
}
