package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/osintkit/internal/detectors"
	"github.com/varalys/osintkit/internal/engine"
	"github.com/varalys/osintkit/internal/types"
)

func TestLoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	// initial load should return empty DB and error
	db, err := Load(path)
	assert.Error(t, err)
	require.NotNil(t, db.Entries)

	res := engine.Result{
		Format:   "log",
		Findings: []types.Finding{{RuleID: "frequency-threshold", Subject: []string{"10.0.0.1"}, Severity: types.SevSuspicious}},
		Summary:  engine.Summary{Records: 3, Skipped: 1},
	}
	db.Store("access.log", "abc", "k1", res)
	require.NoError(t, Save(path, db))

	db2, err := Load(path)
	require.NoError(t, err)
	got, ok := db2.Lookup("access.log", "abc", "k1")
	require.True(t, ok)
	assert.Equal(t, "access.log", got.Artifact)
	assert.Equal(t, 3, got.Summary.Records)
	assert.Equal(t, "10.0.0.1", got.Findings[0].Subject[0])

	_, ok = db2.Lookup("access.log", "changed", "k1")
	assert.False(t, ok)
	_, ok = db2.Lookup("access.log", "abc", "k2")
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(a, []byte("hello"), 0644))
	f1, err := Fingerprint(a)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a, []byte("hello!"), 0644))
	f2, err := Fingerprint(a)
	require.NoError(t, err)
	assert.NotEqual(t, f1, f2)

	_, err = Fingerprint(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestConfigKey(t *testing.T) {
	cfg := engine.Config{Path: "a.log", Detectors: detectors.DefaultConfig()}
	k := ConfigKey(cfg)
	cfg.Path = "b.log"
	cfg.Threads = 8
	assert.Equal(t, k, ConfigKey(cfg), "path and threads do not affect the key")
	cfg.Detectors.Threshold = 1
	assert.NotEqual(t, k, ConfigKey(cfg))
}
