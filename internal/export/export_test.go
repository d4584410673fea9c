package export

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/normalize"
	"github.com/varalys/osintkit/internal/types"
)

func tx(id string, value float64, inputs, outputs []string) types.Record {
	d := &artifacts.Document{Source: "$", Index: 1, Fields: map[string]any{
		"txid":    id,
		"value":   value,
		"inputs":  toAny(inputs),
		"outputs": toAny(outputs),
	}}
	rec, err := normalize.Normalize(types.KindTransaction, d)
	if err != nil {
		panic(err)
	}
	return rec
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evidence.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	files := map[string]string{"docs/a.txt": "hello", "b.bin": "0123456789"}
	for _, name := range []string{"docs/a.txt", "b.bin"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	r, err := artifacts.Open(path, artifacts.FormatArchive, artifacts.Options{})
	require.NoError(t, err)
	defer r.Close()
	var recs []types.Record
	for {
		e, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		rec, err := normalize.Normalize(types.KindFileEntry, e)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.Len(t, recs, 2)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, recs, 0))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, CoreColumns, rows[0][:len(CoreColumns)])
	got := map[string]string{}
	for _, row := range rows[1:] {
		assert.Equal(t, "file_entry", row[0])
		got[row[1]] = row[4]
	}
	assert.Equal(t, map[string]string{"docs/a.txt": "5", "b.bin": "10"}, got)
}

func TestColumnsSortedAfterCore(t *testing.T) {
	recs := []types.Record{
		{Kind: types.KindRow, ID: "1", Actors: []string{}, Attributes: map[string]any{"zeta": "z", "alpha": int64(1)}},
		{Kind: types.KindRow, ID: "2", Actors: []string{"a", "b"}, Attributes: map[string]any{"mid": 1.5}},
	}
	cols := Columns(recs)
	assert.Equal(t, append(append([]string{}, CoreColumns...), "alpha", "mid", "zeta"), cols)

	tbl := Flatten(recs)
	assert.Equal(t, []string{"row", "1", "", "", "0", "1", "", "z"}, tbl.Rows[0])
	assert.Equal(t, []string{"row", "2", "", "a;b", "0", "", "1.5", ""}, tbl.Rows[1])
}

func TestRowTimestamp(t *testing.T) {
	ts := time.Date(2023, 10, 10, 13, 55, 36, 0, time.UTC)
	rows := Flatten([]types.Record{
		{Kind: types.KindLogLine, ID: "line:1", Timestamp: &ts, Actors: []string{"127.0.0.1"}, Value: 2326, HasValue: true},
		{Kind: types.KindLogLine, ID: "line:2", RawTimestamp: "yesterday", Actors: []string{}},
	}).Rows
	assert.Equal(t, "2023-10-10T13:55:36Z", rows[0][2])
	assert.Equal(t, "2326", rows[0][4])
	assert.Equal(t, "yesterday", rows[1][2])
}

func TestWriteCSV_TabDelimiter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []types.Record{{Kind: types.KindRow, ID: "x", Actors: []string{}}}, '\t'))
	first := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t, strings.Join(CoreColumns, "\t"), first)
}

func TestWriteJSON(t *testing.T) {
	recs := []types.Record{{Kind: types.KindPost, ID: "p1", Actors: []string{"alice"}, Value: 3, HasValue: true, Attributes: map[string]any{"text": "hi"}}}
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, recs))
	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "post", out[0]["source_kind"])
	assert.Equal(t, "p1", out[0]["identifier"])
	assert.Equal(t, []any{"alice"}, out[0]["actors"])
	assert.Equal(t, 3.0, out[0]["size_or_value"])
	assert.Equal(t, "hi", out[0]["text"])
}

func TestWriteSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.db")
	recs := []types.Record{
		tx("t1", 1.5, []string{"A"}, []string{"B"}),
		tx("t2", 2, []string{"B"}, []string{"C"}),
	}
	require.NoError(t, WriteSQLite(path, "", recs))
	// a second write replaces the table
	require.NoError(t, WriteSQLite(path, "", recs))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	var sum float64
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), SUM(size_or_value) FROM records`).Scan(&n, &sum))
	assert.Equal(t, 2, n)
	assert.InDelta(t, 3.5, sum, 1e-9)
	var actors string
	require.NoError(t, db.QueryRow(`SELECT actors FROM records WHERE identifier = 't2'`).Scan(&actors))
	assert.Equal(t, "B;C", actors)
}

func TestColumns_CoreNamedAttributeIsPrefixed(t *testing.T) {
	r := types.Record{Kind: "x", ID: "r1", Attributes: map[string]any{"actors": "shadow", "host": "h1"}}
	tbl := Flatten([]types.Record{r})
	assert.Equal(t, append(append([]string{}, CoreColumns...), "attr.actors", "host"), tbl.Columns)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "shadow", tbl.Rows[0][5])
	assert.Equal(t, "h1", tbl.Rows[0][6])

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []types.Record{r}))
	assert.Contains(t, buf.String(), `"attr.actors": "shadow"`)
}

func TestWriteSQLite_CaseOnlyDuplicateColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.db")
	recs := []types.Record{
		{Kind: "x", ID: "r1", Attributes: map[string]any{"Name": "upper", "name": "lower"}},
	}
	require.NoError(t, WriteSQLite(path, "", recs))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var upper, lower string
	require.NoError(t, db.QueryRow(`SELECT "Name", "name_2" FROM records`).Scan(&upper, &lower))
	assert.Equal(t, "upper", upper)
	assert.Equal(t, "lower", lower)
}

func TestWriteTableFile_UnknownFormat(t *testing.T) {
	err := WriteTableFile(filepath.Join(t.TempDir(), "x"), "parquet", nil)
	assert.Error(t, err)
}

func TestWalletGraph(t *testing.T) {
	recs := []types.Record{
		tx("t1", 2, []string{"A", "B"}, []string{"C", "D"}),
		tx("t2", 1, []string{"C"}, []string{"E", "F"}),
	}
	g := BuildGraph(recs)
	assert.Equal(t, []string{"A", "B", "C", "D", "E", "F"}, g.Nodes)
	want := [][2]string{{"A", "C"}, {"A", "D"}, {"B", "C"}, {"B", "D"}, {"C", "E"}, {"C", "F"}}
	require.Len(t, g.Edges, len(want))
	for i, e := range g.Edges {
		assert.Equal(t, want[i], [2]string{e.A, e.B})
	}
	assert.Equal(t, 2.0, g.Edges[0].Weight)
	assert.Equal(t, 1.0, g.Edges[5].Weight)
	assert.False(t, g.HasEdge("A", "B"), "inputs are not linked to each other")
	assert.True(t, g.HasEdge("F", "C"))
}

func TestGraphSymmetryAndIdempotence(t *testing.T) {
	ab := types.Record{ID: "1", Actors: []string{"bob", "alice"}}
	ba := types.Record{ID: "2", Actors: []string{"alice", "bob"}}
	g1 := BuildGraph([]types.Record{ab})
	g2 := BuildGraph([]types.Record{ba})
	assert.Equal(t, g1.Edges, g2.Edges)
	assert.Equal(t, "alice", g1.Edges[0].A)

	recs := []types.Record{ab, ba, {ID: "3", Actors: []string{"carol"}}}
	assert.Equal(t, BuildGraph(recs), BuildGraph(recs))

	merged := BuildGraph(recs).Merged()
	require.Len(t, merged, 1)
	assert.Equal(t, 2.0, merged[0].Weight)
	assert.Equal(t, 2, merged[0].Count)
}

func TestGraphActorPairsAndSelfLoops(t *testing.T) {
	g := BuildGraph([]types.Record{
		{ID: "m", Actors: []string{"a", "b", "c"}, Value: 4, HasValue: true},
		{ID: "s", Origins: []string{"x"}, Targets: []string{"x"}, Actors: []string{"x"}},
	})
	assert.Len(t, g.Edges, 3)
	for _, e := range g.Edges {
		assert.Equal(t, 4.0, e.Weight)
		assert.Less(t, e.A, e.B)
	}
	assert.Contains(t, g.Nodes, "x")
}

func TestGraphWriters(t *testing.T) {
	g := BuildGraph([]types.Record{
		tx("t1", 2, []string{"A"}, []string{"B"}),
		tx("t2", 3, []string{"B"}, []string{"A"}),
	})

	var gm bytes.Buffer
	require.NoError(t, WriteGraphML(&gm, g))
	var doc graphmlDoc
	require.NoError(t, xml.Unmarshal(gm.Bytes(), &doc))
	assert.Len(t, doc.Graph.Nodes, 2)
	require.Len(t, doc.Graph.Edges, 1)
	assert.Equal(t, "5", doc.Graph.Edges[0].Data[0].Value)
	assert.Equal(t, "2", doc.Graph.Edges[0].Data[1].Value)

	var gx bytes.Buffer
	require.NoError(t, WriteGEXF(&gx, g))
	var gdoc gexfDoc
	require.NoError(t, xml.Unmarshal(gx.Bytes(), &gdoc))
	assert.Equal(t, "undirected", gdoc.Graph.DefaultEdgeType)
	require.Len(t, gdoc.Graph.Edges, 1)
	assert.Equal(t, "5", gdoc.Graph.Edges[0].Weight)

	var gj bytes.Buffer
	require.NoError(t, WriteGraphJSON(&gj, g))
	var out struct {
		Nodes []string `json:"nodes"`
		Edges []Edge   `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(gj.Bytes(), &out))
	assert.Equal(t, []string{"A", "B"}, out.Nodes)
	assert.Equal(t, []Edge{{A: "A", B: "B", Weight: 5, Count: 2}}, out.Edges)

	var empty bytes.Buffer
	require.NoError(t, WriteGraphJSON(&empty, Graph{}))
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, empty.String())
}

func TestWriteGraphFile(t *testing.T) {
	dir := t.TempDir()
	g := BuildGraph([]types.Record{{ID: "1", Actors: []string{"a", "b"}}})
	for _, f := range []string{GraphML, GraphGEXF, GraphJSON} {
		p := filepath.Join(dir, "g."+f)
		require.NoError(t, WriteGraphFile(p, f, g))
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.NotEmpty(t, b)
	}
	assert.Error(t, WriteGraphFile(filepath.Join(dir, "g.dot"), "dot", g))
}
