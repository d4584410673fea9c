package artifacts

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"
)

type sqliteReader struct {
	db     *sql.DB
	tables []string
	table  string
	rows   *sql.Rows
	cols   []string
	index  int
}

// openSQLite opens a database file read-only and lists its user tables.
func openSQLite(path string, opts Options) (Reader, error) {
	dsn := "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, unreadable(path, err)
	}
	tables, err := userTables(db)
	if err != nil {
		_ = db.Close()
		return nil, unreadable(path, err)
	}
	if opts.Table != "" {
		found := false
		for _, t := range tables {
			if t == opts.Table {
				found = true
				break
			}
		}
		if !found {
			_ = db.Close()
			return nil, unreadable(path, fmt.Errorf("table %q not found", opts.Table))
		}
		tables = []string{opts.Table}
	}
	return &sqliteReader{db: db, tables: tables}, nil
}

func userTables(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *sqliteReader) Next(ctx context.Context) (Entry, error) {
	for {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		if r.rows == nil {
			if len(r.tables) == 0 {
				return nil, io.EOF
			}
			r.table, r.tables = r.tables[0], r.tables[1:]
			rows, err := r.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(r.table))
			if err != nil {
				return nil, fmt.Errorf("query %s: %w", r.table, err)
			}
			cols, err := rows.Columns()
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("columns %s: %w", r.table, err)
			}
			r.rows, r.cols, r.index = rows, cols, 0
		}
		if !r.rows.Next() {
			err := r.rows.Err()
			_ = r.rows.Close()
			r.rows = nil
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", r.table, err)
			}
			continue
		}
		vals := make([]any, len(r.cols))
		ptrs := make([]any, len(r.cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := r.rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.table, err)
		}
		fields := make(map[string]any, len(r.cols))
		for i, c := range r.cols {
			if v := columnValue(vals[i]); v != nil {
				fields[c] = v
			}
		}
		r.index++
		return &Document{Source: r.table, Index: r.index, Fields: fields}, nil
	}
}

func columnValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		if utf8.Valid(t) {
			return string(t)
		}
		return hex.EncodeToString(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case int:
		return int64(t)
	}
	return v
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (r *sqliteReader) Close() error {
	if r.rows != nil {
		_ = r.rows.Close()
		r.rows = nil
	}
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
