// Package export flattens records into tables and actor graphs and writes
// them out.
package export

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/varalys/osintkit/internal/types"
)

// ActorSeparator joins actors in a table cell.
const ActorSeparator = ";"

// CoreColumns lead every table in this fixed order.
var CoreColumns = []string{"source_kind", "identifier", "timestamp", "actors", "size_or_value"}

// AttrPrefix marks an attribute column whose key is also a core column name.
const AttrPrefix = "attr."

// Table is records flattened to scalar cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Columns returns the core columns followed by every attribute key present
// in records, sorted by name. An attribute named like a core column is
// listed as AttrPrefix+key.
func Columns(records []types.Record) []string {
	seen := map[string]bool{}
	for _, c := range CoreColumns {
		seen[c] = true
	}
	var attrs []string
	for _, r := range records {
		for k := range r.Attributes {
			col := k
			if isCore(k) {
				col = AttrPrefix + k
			}
			if !seen[col] {
				seen[col] = true
				attrs = append(attrs, col)
			}
		}
	}
	sort.Strings(attrs)
	return append(append([]string{}, CoreColumns...), attrs...)
}

func isCore(name string) bool {
	for _, c := range CoreColumns {
		if c == name {
			return true
		}
	}
	return false
}

// attrKey maps an attribute column back to its attribute key.
func attrKey(col string) string {
	if k, ok := strings.CutPrefix(col, AttrPrefix); ok && isCore(k) {
		return k
	}
	return col
}

// Flatten builds the table for records.
func Flatten(records []types.Record) Table {
	cols := Columns(records)
	t := Table{Columns: cols, Rows: make([][]string, 0, len(records))}
	for _, r := range records {
		t.Rows = append(t.Rows, Row(r, cols))
	}
	return t
}

// Row renders one record under cols. Absent attributes are empty cells.
func Row(r types.Record, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		switch c {
		case "source_kind":
			out[i] = string(r.Kind)
		case "identifier":
			out[i] = r.ID
		case "timestamp":
			out[i] = r.TimeString()
		case "actors":
			out[i] = strings.Join(r.Actors, ActorSeparator)
		case "size_or_value":
			out[i] = strconv.FormatFloat(r.Value, 'f', -1, 64)
		default:
			if v, ok := r.Attr(attrKey(c)); ok {
				out[i] = v
			}
		}
	}
	return out
}

// WriteCSV writes the header and one row per record. delim 0 means comma.
func WriteCSV(w io.Writer, records []types.Record, delim rune) error {
	t := Flatten(records)
	cw := csv.NewWriter(w)
	if delim != 0 {
		cw.Comma = delim
	}
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteJSON writes an array of row objects. Core columns keep their types;
// size_or_value is a number and actors an array.
func WriteJSON(w io.Writer, records []types.Record) error {
	cols := Columns(records)
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		row := map[string]any{
			"source_kind":   r.Kind,
			"identifier":    r.ID,
			"timestamp":     r.TimeString(),
			"actors":        r.Actors,
			"size_or_value": r.Value,
		}
		for _, c := range cols[len(CoreColumns):] {
			if v, ok := r.Attributes[attrKey(c)]; ok {
				row[c] = v
			}
		}
		rows = append(rows, row)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// WriteSQLite writes the table into a new SQLite table, replacing any table
// of the same name. All columns are TEXT except size_or_value.
func WriteSQLite(path, table string, records []types.Record) error {
	if table == "" {
		table = "records"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	t := Flatten(records)
	defs := make([]string, len(t.Columns))
	quoted := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range sqlColumns(t.Columns) {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
		typ := "TEXT"
		if t.Columns[i] == "size_or_value" {
			typ = "REAL"
		}
		defs[i] = quoted[i] + " " + typ
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec("DROP TABLE IF EXISTS " + quoteIdent(table)); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	if _, err := tx.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, row := range t.Rows {
		args := make([]any, len(row))
		for j, v := range row {
			args[j] = v
		}
		args[4] = records[i].Value
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert row %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// sqlColumns renames columns that collide case-insensitively, since SQLite
// identifiers ignore case. Later duplicates get _2, _3, ...
func sqlColumns(cols []string) []string {
	out := make([]string, len(cols))
	used := map[string]bool{}
	for i, c := range cols {
		name := c
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", c, n)
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Table output formats.
const (
	TableCSV    = "csv"
	TableJSON   = "json"
	TableSQLite = "sqlite"
)

// WriteTableFile writes records to path in the named format.
func WriteTableFile(path, format string, records []types.Record) error {
	switch strings.ToLower(format) {
	case TableSQLite:
		return WriteSQLite(path, "records", records)
	case TableCSV, "tsv", TableJSON, "":
	default:
		return fmt.Errorf("unknown table format %q", format)
	}
	return writeFile(path, func(w io.Writer) error {
		switch strings.ToLower(format) {
		case TableJSON:
			return WriteJSON(w, records)
		case "tsv":
			return WriteCSV(w, records, '\t')
		}
		return WriteCSV(w, records, 0)
	})
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
