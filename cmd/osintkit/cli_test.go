package osintkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/osintkit/internal/cache"
	"github.com/varalys/osintkit/internal/config"
	"github.com/varalys/osintkit/internal/export"
)

const accessLog = `127.0.0.1 - - [10/Oct/2023:13:55:36 +0000] "GET / HTTP/1.1" 200 2326
192.168.1.1 - - [10/Oct/2023:13:56:01 +0000] "GET /admin HTTP/1.1" 403 199
10.0.0.1 - - [10/Oct/2023:13:57:12 +0000] "GET /missing HTTP/1.1" 404 0
`

// resetFlags puts every flag back to its default so commands can run
// several times in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if err != nil {
		return 2
	}
	return 0
}

func writeLog(t *testing.T) (dir, path string) {
	dir = t.TempDir()
	path = filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(path, []byte(accessLog), 0644))
	return dir, path
}

func TestCLI_JSON_FailOn(t *testing.T) {
	dir, p := writeLog(t)
	out, err := execute(t, "scan", "--json", "--threshold", "0", "--baseline", filepath.Join(dir, "none.json"), p)
	assert.Equal(t, 1, exitCode(err))

	var arr []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &arr), out)
	require.Len(t, arr, 3)
	assert.Equal(t, "frequency-threshold", arr[0]["rule_id"])
	assert.Equal(t, []any{"127.0.0.1"}, arr[0]["subject"])

	out, err = execute(t, "scan", "--json", "--baseline", "", p)
	assert.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestCLI_Exports(t *testing.T) {
	dir, p := writeLog(t)
	tbl := filepath.Join(dir, "records.csv")
	graph := filepath.Join(dir, "actors.gexf")
	_, err := execute(t, "scan", "--text", "--fail-on", "never", "--threshold", "0",
		"--table-out", tbl, "--graph-out", graph, "--baseline", "", p)
	require.NoError(t, err)

	b, err := os.ReadFile(tbl)
	require.NoError(t, err)
	assert.Contains(t, string(b), "source_kind,identifier,timestamp,actors,size_or_value")
	assert.Contains(t, string(b), "log_line,line:1,2023-10-10T13:55:36Z,127.0.0.1,2326")

	g, err := os.ReadFile(graph)
	require.NoError(t, err)
	assert.Contains(t, string(g), "<gexf")
}

func TestCLI_SARIF_And_Audit(t *testing.T) {
	dir, p := writeLog(t)
	auditPath := filepath.Join(dir, "audit.jsonl")
	out, err := execute(t, "scan", "--sarif", "--fail-on", "never", "--audit-log", auditPath, "--baseline", "", p)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "2.1.0", doc["version"])

	b, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"run_id"`)
}

func TestCLI_FailedArtifactExits2(t *testing.T) {
	dir, p := writeLog(t)
	_, err := execute(t, "scan", "--json", "--baseline", "", p, filepath.Join(dir, "missing.log"))
	assert.Equal(t, 2, exitCode(err))

	_, err = execute(t, "scan", "--format", "pdf", p)
	assert.Equal(t, 2, exitCode(err))

	_, err = execute(t, "scan", "--enable", "nope", p)
	assert.Error(t, err)
}

func TestCLI_BaselineUpdateSuppresses(t *testing.T) {
	dir, p := writeLog(t)
	base := filepath.Join(dir, "osintkit.baseline.json")
	out, err := execute(t, "baseline", "update", "--threshold", "0", "--output", base, p)
	require.NoError(t, err)
	assert.Contains(t, out, "3 findings")

	out, err = execute(t, "scan", "--json", "--threshold", "0", "--baseline", base, p)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestCLI_ListingCommands(t *testing.T) {
	out, err := execute(t, "formats")
	require.NoError(t, err)
	assert.Contains(t, out, "packet-capture")
	assert.Contains(t, out, "relational-store")

	out, err = execute(t, "rules")
	require.NoError(t, err)
	assert.Contains(t, out, "header-mismatch")

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestCLI_ConfigInit(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{".osintkit.yml", ".osintkit.toml"} {
		p := filepath.Join(dir, name)
		_, err := execute(t, "config", "init", "--output", p, "--threshold", "5", "--require", "timestamp,actors")
		require.NoError(t, err)

		fc, err := config.LoadFile(p)
		require.NoError(t, err, name)
		require.NotNil(t, fc.Detectors)
		assert.Equal(t, 5, *fc.Detectors.Threshold)
		assert.Equal(t, []string{"timestamp", "actors"}, fc.Detectors.RequiredFields)
		assert.Equal(t, []string{"From", "Return-Path"}, fc.Detectors.HeaderPair)

		_, err = execute(t, "config", "init", "--output", p)
		assert.Error(t, err, "refuses to overwrite without --force")
	}
}

func TestCLI_ConfigFileFeedsScan(t *testing.T) {
	dir, p := writeLog(t)
	cfgPath := filepath.Join(dir, "osintkit.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("fail_on: never\ndetectors:\n  threshold: 0\n"), 0644))
	out, err := execute(t, "--config", cfgPath, "scan", "--json", "--baseline", "", p)
	require.NoError(t, err)
	var arr []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &arr))
	assert.Len(t, arr, 3)

	// the flag still wins over the file
	out, err = execute(t, "--config", cfgPath, "scan", "--json", "--threshold", "5", "--baseline", "", p)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestPick(t *testing.T) {
	l, g := 3, 4
	assert.Equal(t, 7, pick(intPtr(7), &l, &g, 1))
	assert.Equal(t, 3, pick(nil, &l, &g, 1))
	assert.Equal(t, 4, pick(nil, nil, &g, 1))
	assert.Equal(t, 1, pick[int](nil, nil, nil, 1))
	assert.Equal(t, 0, pick(intPtr(0), &l, &g, 1), "explicit zero on the CLI wins")
}

func TestDelimiterAndOutputFormat(t *testing.T) {
	r, err := delimiterRune("tab")
	require.NoError(t, err)
	assert.Equal(t, '\t', r)
	r, err = delimiterRune(";")
	require.NoError(t, err)
	assert.Equal(t, ';', r)
	_, err = delimiterRune("::")
	assert.Error(t, err)

	assert.Equal(t, "json", outputFormat("", "out.JSON", "csv"))
	assert.Equal(t, export.TableSQLite, outputFormat("", "out.db", "csv"))
	assert.Equal(t, "csv", outputFormat("", "out", "csv"))
	assert.Equal(t, "gexf", outputFormat("gexf", "out.graphml", "graphml"))
}

func TestCLI_CacheReusesFindings(t *testing.T) {
	dir, p := writeLog(t)
	cachePath := filepath.Join(dir, "cache.json")
	args := []string{"scan", "--json", "--fail-on", "never", "--threshold", "0", "--baseline", "", "--cache=" + cachePath, p}

	first, err := execute(t, args...)
	require.NoError(t, err)
	db, err := cache.Load(cachePath)
	require.NoError(t, err)
	require.Contains(t, db.Entries, p)
	assert.Len(t, db.Entries[p].Findings, 3)

	second, err := execute(t, args...)
	require.NoError(t, err)
	assert.JSONEq(t, first, second)

	// a changed artifact is read again
	require.NoError(t, os.WriteFile(p, []byte(accessLog+accessLog), 0644))
	third, err := execute(t, args...)
	require.NoError(t, err)
	var arr []map[string]any
	require.NoError(t, json.Unmarshal([]byte(third), &arr))
	assert.Len(t, arr, 3)
	db, err = cache.Load(cachePath)
	require.NoError(t, err)
	assert.Equal(t, 6, db.Entries[p].Summary.Records)
}
