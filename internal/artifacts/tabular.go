package artifacts

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// openTabular reads CSV/TSV text or an Excel workbook. The first row of each
// sheet is the header.
func openTabular(path string, opts Options) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	head := make([]byte, 4)
	n, _ := f.ReadAt(head, 0)
	if isZip(head[:n]) {
		_ = f.Close()
		return openWorkbook(path, opts)
	}
	br := bufio.NewReader(f)
	if bom, _ := br.Peek(3); string(bom) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}
	delim := opts.Delimiter
	if delim == 0 {
		delim = guessDelimiter(path, br)
	}
	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return &csvReader{f: f, cr: cr, source: filepath.Base(path)}, nil
}

func guessDelimiter(path string, br *bufio.Reader) rune {
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		return '\t'
	}
	peek, _ := br.Peek(4096)
	line := string(firstLine(peek))
	switch {
	case strings.Contains(line, "\t") && !strings.Contains(line, ","):
		return '\t'
	case strings.Contains(line, ";") && !strings.Contains(line, ","):
		return ';'
	}
	return ','
}

type csvReader struct {
	f      *os.File
	cr     *csv.Reader
	source string
	header []string
	index  int
	stats  Stats
	done   bool
}

func (r *csvReader) Next(ctx context.Context) (Entry, error) {
	for {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		if r.done {
			return nil, io.EOF
		}
		rec, err := r.cr.Read()
		if err == io.EOF {
			r.done = true
			continue
		}
		if err != nil {
			r.stats.Corrupt++
			r.done = true
			continue
		}
		if r.header == nil {
			r.header = headerNames(rec)
			continue
		}
		if blankRow(rec) {
			continue
		}
		r.index++
		return &Document{Source: r.source, Index: r.index, Fields: rowFields(r.header, rec)}, nil
	}
}

func (r *csvReader) Stats() Stats { return r.stats }

func (r *csvReader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

type workbookReader struct {
	wb     *excelize.File
	sheets []string
	rows   *excelize.Rows
	sheet  string
	header []string
	index  int
}

func openWorkbook(path string, opts Options) (Reader, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	sheets := wb.GetSheetList()
	if opts.Sheet != "" {
		idx, err := wb.GetSheetIndex(opts.Sheet)
		if err != nil || idx < 0 {
			_ = wb.Close()
			return nil, unreadable(path, fmt.Errorf("sheet %q not found", opts.Sheet))
		}
		sheets = []string{opts.Sheet}
	}
	return &workbookReader{wb: wb, sheets: sheets}, nil
}

func (r *workbookReader) Next(ctx context.Context) (Entry, error) {
	for {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		if r.rows == nil {
			if len(r.sheets) == 0 {
				return nil, io.EOF
			}
			r.sheet, r.sheets = r.sheets[0], r.sheets[1:]
			rows, err := r.wb.Rows(r.sheet)
			if err != nil {
				continue
			}
			r.rows, r.header, r.index = rows, nil, 0
		}
		if !r.rows.Next() {
			_ = r.rows.Close()
			r.rows = nil
			continue
		}
		cols, err := r.rows.Columns()
		if err != nil {
			continue
		}
		if r.header == nil {
			if blankRow(cols) {
				continue
			}
			r.header = headerNames(cols)
			continue
		}
		if blankRow(cols) {
			continue
		}
		r.index++
		return &Document{Source: r.sheet, Index: r.index, Fields: rowFields(r.header, cols)}, nil
	}
}

func (r *workbookReader) Close() error {
	if r.rows != nil {
		_ = r.rows.Close()
		r.rows = nil
	}
	if r.wb == nil {
		return nil
	}
	err := r.wb.Close()
	r.wb = nil
	return err
}

// headerNames trims header cells, names blank ones column_N and suffixes
// repeats so every field name is unique.
func headerNames(rec []string) []string {
	out := make([]string, len(rec))
	seen := make(map[string]int, len(rec))
	for i, h := range rec {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = h + "_" + strconv.Itoa(n)
		}
		out[i] = h
	}
	return out
}

// rowFields maps header names to cell values. Empty cells and cells beyond
// the header are absent.
func rowFields(header, rec []string) map[string]any {
	out := make(map[string]any, len(header))
	for i, v := range rec {
		if i >= len(header) || v == "" {
			continue
		}
		out[header[i]] = v
	}
	return out
}

func blankRow(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
